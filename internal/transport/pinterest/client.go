// Package pinterest searches pins for a concept name.
package pinterest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/conceptgraph/internal/domain"
)

// Quota is the daily request allowance shared by every engine using this client.
type Quota interface {
	Available() bool
	Reserve() bool
}

// Config holds image API settings.
type Config struct {
	BaseURL           string
	APIKey            string
	PageSize          int
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// Client queries the pin search endpoint under a daily quota and a per-second throttle.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	pageSize   int
	quota      Quota
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient creates a pin search client. A nil httpClient gets one with cfg.Timeout.
func NewClient(cfg Config, quota Quota, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := max(cfg.Burst, 1)
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 10
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		pageSize:   pageSize,
		quota:      quota,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger.Named("pinterest"),
	}
}

// Available reports whether the daily quota still allows a request.
func (c *Client) Available() bool {
	return c.quota.Available()
}

type searchResponse struct {
	Items []pinDTO `json:"items"`
}

type pinDTO struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Media       struct {
		Images struct {
			Originals struct {
				URL string `json:"url"`
			} `json:"originals"`
			URL string `json:"url"`
		} `json:"images"`
	} `json:"media"`
	Board struct {
		Name string `json:"name"`
	} `json:"board"`
}

// Search returns pins matching text. Items without an id or an image url are dropped.
func (c *Client) Search(ctx context.Context, text string) ([]domain.Image, error) {
	if !c.quota.Reserve() {
		return nil, domain.ErrImageQuotaExceeded
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("pinterest throttle: %w", err)
	}

	q := url.Values{}
	q.Set("query", text)
	q.Set("limit", strconv.Itoa(c.pageSize))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/pins/search?"+q.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pinterest request: %w: %w", err, domain.ErrBackendUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("pinterest HTTP %d: %s: %w",
			resp.StatusCode, strings.TrimSpace(string(snippet)), domain.ErrBackendUnavailable)
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode pinterest response: %w", err)
	}

	images := make([]domain.Image, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		imageURL := item.Media.Images.Originals.URL
		if imageURL == "" {
			imageURL = item.Media.Images.URL
		}
		if item.ID == "" || imageURL == "" {
			continue
		}
		images = append(images, domain.Image{
			ID:          item.ID,
			URL:         imageURL,
			Description: item.Description,
			Collection:  item.Board.Name,
		})
	}

	c.logger.Debug("Pins fetched", zap.String("query", text), zap.Int("count", len(images)))
	return images, nil
}
