package pinterest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/conceptgraph/internal/domain"
)

// --- Mocks ---

type mockQuota struct {
	left atomic.Int64
}

func newMockQuota(n int64) *mockQuota {
	q := &mockQuota{}
	q.left.Store(n)
	return q
}

func (q *mockQuota) Available() bool { return q.left.Load() > 0 }

func (q *mockQuota) Reserve() bool {
	if q.left.Add(-1) < 0 {
		q.left.Add(1)
		return false
	}
	return true
}

func newTestClient(url string, quota Quota) *Client {
	return NewClient(Config{BaseURL: url, APIKey: "token", PageSize: 10}, quota, nil, zap.NewNop())
}

// --- Tests ---

func TestSearch_ParsesPins(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pins/search" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("query") != "space shuttle" || r.URL.Query().Get("limit") != "10" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		if r.Header.Get("Authorization") != "Bearer token" {
			t.Errorf("unexpected auth header: %q", r.Header.Get("Authorization"))
		}
		_, _ = w.Write([]byte(`{"items":[
			{"id":"1","description":"launch","media":{"images":{"originals":{"url":"https://i/1.jpg"}}},"board":{"name":"space"}},
			{"id":"2","media":{"images":{"url":"https://i/2.jpg"}}},
			{"id":"3","media":{"images":{}}},
			{"media":{"images":{"url":"https://i/4.jpg"}}}
		]}`))
	}))
	defer server.Close()

	images, err := newTestClient(server.URL, newMockQuota(10)).Search(context.Background(), "space shuttle")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("expected 2 images (items without id or url dropped), got %d", len(images))
	}
	if images[0].URL != "https://i/1.jpg" || images[0].Collection != "space" || images[0].Description != "launch" {
		t.Errorf("unexpected first image: %+v", images[0])
	}
	if images[1].URL != "https://i/2.jpg" {
		t.Errorf("expected fallback url, got %q", images[1].URL)
	}
}

func TestSearch_QuotaExhausted(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL, newMockQuota(1))
	if _, err := c.Search(context.Background(), "a"); err != nil {
		t.Fatalf("first search: %v", err)
	}
	if c.Available() {
		t.Error("expected quota exhausted")
	}
	if _, err := c.Search(context.Background(), "b"); !errors.Is(err, domain.ErrImageQuotaExceeded) {
		t.Fatalf("expected ErrImageQuotaExceeded, got %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("expected 1 upstream call, got %d", hits.Load())
	}
}

func TestSearch_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, newMockQuota(5)).Search(context.Background(), "rocket")
	if !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestSearch_CancelledContext(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://unused", RequestsPerSecond: 0.001, Burst: 1},
		newMockQuota(5), nil, zap.NewNop())

	// Spend the single burst token so the next call has to wait.
	c.limiter.Allow()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Search(ctx, "rocket"); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
