package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/kailas-cloud/conceptgraph/internal/db"
)

// store is the consumer interface for quota operations (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	IncrBy(ctx context.Context, key string, val int64) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration, nx bool) error
}

// Store keeps the image request counter in Valkey under one key that expires with the window.
type Store struct {
	store store
	key   string
	ttl   time.Duration
}

// New creates a quota store. The counter lives at <keyPrefix>quota:<name>.
func New(s store, keyPrefix, name string, ttl time.Duration) *Store {
	return &Store{
		store: s,
		key:   keyPrefix + "quota:" + name,
		ttl:   ttl,
	}
}

// Add increments the counter and starts its expiry on first write.
func (s *Store) Add(ctx context.Context, n int64) error {
	if _, err := s.store.IncrBy(ctx, s.key, n); err != nil {
		return fmt.Errorf("quota INCRBY %s: %w", s.key, err)
	}

	// NX keeps the original window end when later increments arrive.
	if err := s.store.Expire(ctx, s.key, s.ttl, true); err != nil {
		return fmt.Errorf("quota EXPIRE %s: %w", s.key, err)
	}
	return nil
}

// Load returns the current counter. A missing key means a fresh window.
func (s *Store) Load(ctx context.Context) (int64, error) {
	data, err := s.store.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("quota GET %s: %w", s.key, err)
	}

	val, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("quota GET %s parse: %w", s.key, err)
	}
	return val, nil
}
