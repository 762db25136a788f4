package memory

import (
	"context"
	"errors"
	"time"

	"github.com/bluele/gcache"
)

// Store keeps cache entries in memory. Data is lost on restart.
// Useful for testing and development.
type Store struct {
	entries gcache.Cache
}

// New creates an in-memory store bounded to size entries (LRU eviction).
// ttl of 0 keeps entries until evicted.
func New(size int, ttl time.Duration) *Store {
	if size <= 0 {
		size = 1024
	}
	builder := gcache.New(size).LRU()
	if ttl > 0 {
		builder = builder.Expiration(ttl)
	}
	return &Store{entries: builder.Build()}
}

// Get returns a copy of the stored bytes
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	raw, err := s.entries.Get(key)
	if errors.Is(err, gcache.KeyNotFoundError) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	data := raw.([]byte)
	out := make([]byte, len(data))
	copy(out, data)
	return out, true, nil
}

// Set stores a copy of value
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data := make([]byte, len(value))
	copy(data, value)
	return s.entries.Set(key, data)
}

// Delete removes key
func (s *Store) Delete(ctx context.Context, key string) error {
	s.entries.Remove(key)
	return nil
}

// Len returns the number of live entries
func (s *Store) Len() int {
	return s.entries.Len(true)
}

// Close is a no-op for memory storage
func (s *Store) Close() error {
	return nil
}
