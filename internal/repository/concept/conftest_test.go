package concept

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/conceptgraph/internal/db"
	"github.com/kailas-cloud/conceptgraph/internal/domain"
)

type mockStore struct {
	result  *db.SearchResult
	err     error
	lastReq *db.KNNQuery
}

func (m *mockStore) SearchKNN(_ context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	m.lastReq = q
	return m.result, m.err
}

type mockEmbedder struct {
	vec []float32
	err error
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	return domain.EmbeddingResult{Embedding: m.vec}, m.err
}

func newTestRepo(t *testing.T, st store) *Repo {
	t.Helper()
	return New(st, &mockEmbedder{vec: []float32{0.1, 0.2}}, "concepts", 10, zap.NewNop())
}
