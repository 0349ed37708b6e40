// Package weaviate queries a Weaviate instance for concepts near a phrase.
package weaviate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/conceptgraph/internal/domain"
)

// Config holds connection settings for one Weaviate endpoint.
type Config struct {
	Endpoint  string
	APIKey    string
	ClassName string
	Limit     int
	Timeout   time.Duration
}

// Client runs nearText GraphQL queries. Safe for concurrent use.
type Client struct {
	httpClient *http.Client
	url        string
	apiKey     string
	className  string
	limit      int
	logger     *zap.Logger
}

// NewClient creates a Weaviate client. A nil httpClient gets one with cfg.Timeout.
func NewClient(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = 10
	}
	className := cfg.ClassName
	if className == "" {
		className = "Concept"
	}
	return &Client{
		httpClient: httpClient,
		url:        strings.TrimRight(cfg.Endpoint, "/") + "/v1/graphql",
		apiKey:     cfg.APIKey,
		className:  className,
		limit:      limit,
		logger:     logger.Named("weaviate"),
	}
}

type graphqlRequest struct {
	Query string `json:"query"`
}

type graphqlResponse struct {
	Data struct {
		Get map[string][]conceptDTO `json:"Get"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type conceptDTO struct {
	Name       string `json:"name"`
	Additional struct {
		Certainty float64   `json:"certainty"`
		Vector    []float32 `json:"vector"`
	} `json:"_additional"`
}

// Query returns concepts most similar to text, most similar first.
// A response without the expected shape yields no matches.
func (c *Client) Query(ctx context.Context, text string) ([]domain.Match, error) {
	body, err := json.Marshal(graphqlRequest{Query: c.buildQuery(text)})
	if err != nil {
		return nil, fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weaviate request: %w: %w", err, domain.ErrBackendUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("weaviate HTTP %d: %s: %w",
			resp.StatusCode, strings.TrimSpace(string(snippet)), domain.ErrBackendUnavailable)
	}

	var parsed graphqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		c.logger.Warn("Malformed weaviate response", zap.String("query", text), zap.Error(err))
		return nil, nil
	}
	if len(parsed.Errors) > 0 {
		return nil, fmt.Errorf("weaviate graphql: %s: %w", parsed.Errors[0].Message, domain.ErrBackendUnavailable)
	}

	concepts := parsed.Data.Get[c.className]
	matches := make([]domain.Match, 0, len(concepts))
	for _, dto := range concepts {
		matches = append(matches, domain.Match{
			Name:      dto.Name,
			Certainty: dto.Additional.Certainty,
			Embedding: dto.Additional.Vector,
		})
	}
	return matches, nil
}

// buildQuery renders the nearText document. The phrase is embedded as a
// JSON string literal, which is also a valid GraphQL string literal.
func (c *Client) buildQuery(text string) string {
	literal, _ := json.Marshal(text)
	return fmt.Sprintf(
		"{ Get { %s(nearText: {concepts: [%s]} limit: %d) { name _additional { certainty vector } } } }",
		c.className, literal, c.limit,
	)
}
