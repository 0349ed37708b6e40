// Package concept answers nearest-concept queries from a Valkey vector index.
package concept

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/conceptgraph/internal/db"
	"github.com/kailas-cloud/conceptgraph/internal/domain"
)

// Index field names. Concept hashes are expected at <prefix>concept:<id>
// with a text "name" field and a FLOAT32 "vector" field.
const (
	fieldName   = "name"
	fieldVector = "vector"
)

// store is the consumer interface for concept search (ISP).
type store interface {
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
}

// Repo turns a phrase into a vector and returns the nearest concepts.
type Repo struct {
	store     store
	embedder  domain.Embedder
	indexName string
	k         int
	logger    *zap.Logger
}

// New creates a concept repository over the given FT index.
func New(s store, embedder domain.Embedder, indexName string, k int, logger *zap.Logger) *Repo {
	return &Repo{
		store:     s,
		embedder:  embedder,
		indexName: indexName,
		k:         k,
		logger:    logger.Named("concepts"),
	}
}

// Query returns up to k concepts nearest to text, most similar first.
func (r *Repo) Query(ctx context.Context, text string) ([]domain.Match, error) {
	emb, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed phrase: %w", err)
	}

	sr, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    r.indexName,
		Vector:       emb.Embedding,
		K:            r.k,
		ReturnFields: []string{fieldName, fieldVector},
	})
	if err != nil {
		return nil, fmt.Errorf("knn search: %w: %w", err, domain.ErrBackendUnavailable)
	}

	matches := make([]domain.Match, 0, len(sr.Entries))
	for _, e := range sr.Entries {
		name := e.Fields[fieldName]
		if name == "" {
			name = nameFromKey(e.Key)
		}

		var vec []float32
		if raw, ok := e.Fields[fieldVector]; ok {
			if vec, err = db.DecodeVector([]byte(raw)); err != nil {
				r.logger.Debug("Skipping undecodable concept vector", zap.String("key", e.Key), zap.Error(err))
				vec = nil
			}
		}

		matches = append(matches, domain.Match{Name: name, Certainty: e.Score, Embedding: vec})
	}
	return matches, nil
}

// nameFromKey falls back to the last key segment when the hash carries no name.
func nameFromKey(key string) string {
	if i := strings.LastIndexByte(key, ':'); i >= 0 {
		return key[i+1:]
	}
	return key
}
