package cache

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bluele/gcache"
	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"
)

// Store is a byte-oriented backing store for memoized results.
// Implementations: memory (testing), badger (persistent across restarts).
type Store interface {
	// Get returns the stored value, or ok=false when the key is absent
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set stores a value under key
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key; deleting an absent key is not an error
	Delete(ctx context.Context, key string) error

	// Close releases the store
	Close() error
}

// Observer receives cache activity. Implemented by monitor.Metrics.
type Observer interface {
	CacheHit(name string)
	CacheMiss(name string)
	CacheCompute(name string, elapsed time.Duration, err error)
}

// Options configures a Memo.
type Options struct {
	// Name labels log lines and metrics
	Name string

	// Size bounds the number of in-process entries (LRU eviction)
	Size int

	// TTL expires in-process entries (0 = never)
	TTL time.Duration

	// Backing is an optional second tier; values are JSON encoded
	Backing Store

	Observer Observer
	Logger   *slog.Logger
}

// Memo maps parameter-derived keys to computed results.
//
// Reads are concurrent. A missing key is computed at most once at a time:
// concurrent callers asking for the same key share one computation.
// Failed computations are not cached.
type Memo[V any] struct {
	name     string
	lru      gcache.Cache
	group    singleflight.Group
	backing  Store
	observer Observer
	logger   *slog.Logger
}

// NewMemo creates a memo with an LRU in-process tier.
func NewMemo[V any](opts Options) *Memo[V] {
	size := opts.Size
	if size <= 0 {
		size = 128
	}
	builder := gcache.New(size).LRU()
	if opts.TTL > 0 {
		builder = builder.Expiration(opts.TTL)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Memo[V]{
		name:     opts.Name,
		lru:      builder.Build(),
		backing:  opts.Backing,
		observer: opts.Observer,
		logger:   logger.With("cache", opts.Name),
	}
}

// Get returns an in-process entry without computing anything.
func (m *Memo[V]) Get(key string) (V, bool) {
	var zero V
	raw, err := m.lru.Get(key)
	if err != nil {
		return zero, false
	}
	v, ok := raw.(V)
	return v, ok
}

// Do returns the value for key, computing it with compute when absent.
// The computation keeps the values of the starting caller's ctx but not its
// cancellation, since other callers may be waiting on it. Each caller stops
// waiting when its own ctx is done.
func (m *Memo[V]) Do(ctx context.Context, key string, compute func(ctx context.Context) (V, error)) (V, error) {
	var zero V

	if v, ok := m.Get(key); ok {
		m.hit()
		return v, nil
	}

	if err := ctx.Err(); err != nil {
		return zero, err
	}

	shared := context.WithoutCancel(ctx)
	ch := m.group.DoChan(key, func() (interface{}, error) {
		// Another caller may have filled the entry between Get and DoChan
		if v, ok := m.Get(key); ok {
			m.hit()
			return v, nil
		}

		if v, ok := m.loadBacking(shared, key); ok {
			m.hit()
			m.put(key, v)
			return v, nil
		}

		m.miss()
		start := time.Now()
		v, err := compute(shared)
		if m.observer != nil {
			m.observer.CacheCompute(m.name, time.Since(start), err)
		}
		if err != nil {
			return nil, err
		}

		m.put(key, v)
		m.storeBacking(shared, key, v)
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, ok := res.Val.(V)
		if !ok {
			return zero, fmt.Errorf("cache %s: unexpected value type %T", m.name, res.Val)
		}
		return v, nil
	case <-ctx.Done():
		return zero, fmt.Errorf("cache %s: waiting for %s: %w", m.name, key, ctx.Err())
	}
}

// Invalidate drops key from both tiers.
func (m *Memo[V]) Invalidate(ctx context.Context, key string) error {
	m.lru.Remove(key)
	m.group.Forget(key)
	if m.backing != nil {
		if err := m.backing.Delete(ctx, key); err != nil {
			return fmt.Errorf("cache %s: delete %s: %w", m.name, key, err)
		}
	}
	return nil
}

// Purge drops every in-process entry. The backing store is left untouched.
func (m *Memo[V]) Purge() {
	m.lru.Purge()
}

// Len returns the number of live in-process entries.
func (m *Memo[V]) Len() int {
	return m.lru.Len(true)
}

func (m *Memo[V]) put(key string, v V) {
	if err := m.lru.Set(key, v); err != nil {
		m.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

func (m *Memo[V]) loadBacking(ctx context.Context, key string) (V, bool) {
	var zero V
	if m.backing == nil {
		return zero, false
	}
	data, ok, err := m.backing.Get(ctx, key)
	if err != nil {
		m.logger.Warn("backing store read failed", "key", key, "error", err)
		return zero, false
	}
	if !ok {
		return zero, false
	}
	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		m.logger.Warn("backing store entry undecodable, recomputing", "key", key, "error", err)
		return zero, false
	}
	return v, true
}

func (m *Memo[V]) storeBacking(ctx context.Context, key string, v V) {
	if m.backing == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		m.logger.Warn("cache value not encodable, skipping backing store", "key", key, "error", err)
		return
	}
	if err := m.backing.Set(ctx, key, data); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Warn("backing store write failed", "key", key, "error", err)
	}
}

func (m *Memo[V]) hit() {
	if m.observer != nil {
		m.observer.CacheHit(m.name)
	}
}

func (m *Memo[V]) miss() {
	if m.observer != nil {
		m.observer.CacheMiss(m.name)
	}
}

// Key derives a compact cache key from its parts.
// Parts are length-prefixed so ("ab","c") and ("a","bc") differ.
func Key(parts ...string) string {
	d := xxhash.New()
	var lenBuf [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(p)))
		d.Write(lenBuf[:])
		d.WriteString(p)
	}
	var sum [8]byte
	binary.BigEndian.PutUint64(sum[:], d.Sum64())
	return hex.EncodeToString(sum[:])
}
