package engine

import (
	"context"

	"github.com/kailas-cloud/conceptgraph/internal/domain"
)

// VectorSearcher returns concepts near a phrase, most similar first.
// Errors are logged by the engine and treated as "no matches".
type VectorSearcher interface {
	Query(ctx context.Context, text string) ([]domain.Match, error)
}

// ImageSearcher finds images for a concept name under a daily quota.
type ImageSearcher interface {
	Available() bool
	Search(ctx context.Context, text string) ([]domain.Image, error)
}

// Clients is the backend pair an engine works against.
type Clients struct {
	Vectors VectorSearcher
	Images  ImageSearcher
}

// ClientFactory builds the role-specific clients during Initialize.
type ClientFactory func(ctx context.Context) (Clients, error)
