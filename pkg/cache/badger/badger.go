package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// Store implements cache.Store on BadgerDB so forecast results survive restarts.
type Store struct {
	db  *badger.DB
	ttl time.Duration
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = 48 MB default)
	MaxMemoryMB int64

	// TTL expires entries (0 = keep until deleted)
	TTL time.Duration
}

// New opens a BadgerDB store
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// Cached results are small; keep the memory footprint laptop-sized
	memTableSize := int64(16 << 20)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(memTableSize / 2).
		WithIndexCacheSize(memTableSize / 4).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithNumCompactors(2).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Store{db: db, ttl: cfg.TTL}, nil
}

// Get returns the value stored under key
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(makeKey(key))
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		stored, data, err := decodeEntry(raw)
		if err != nil {
			return err
		}
		// Hash collision: the slot belongs to another key
		if stored != key {
			return badger.ErrKeyNotFound
		}
		value = data
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("badger get: %w", err)
	}
	return value, true, nil
}

// Set stores value under key
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(makeKey(key), encodeEntry(key, value))
		if s.ttl > 0 {
			entry = entry.WithTTL(s.ttl)
		}
		if err := txn.SetEntry(entry); err != nil {
			return fmt.Errorf("badger set: %w", err)
		}
		return nil
	})
}

// Delete removes key
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(makeKey(key))
	})
}

// Close shuts down BadgerDB cleanly
func (s *Store) Close() error {
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection.
// Returns nil when there was nothing to reclaim.
func (s *Store) RunGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

// makeKey hashes an arbitrary cache key into a fixed 9-byte badger key
// Format: ['c'][xxhash (8 bytes)]
func makeKey(key string) []byte {
	out := make([]byte, 9)
	out[0] = 'c'
	binary.BigEndian.PutUint64(out[1:], xxhash.Sum64String(key))
	return out
}

// encodeEntry stores the full key next to the value so collisions are detectable
// Format: [key length (4 bytes)][key][value]
func encodeEntry(key string, value []byte) []byte {
	out := make([]byte, 4+len(key)+len(value))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(key)))
	copy(out[4:], key)
	copy(out[4+len(key):], value)
	return out
}

func decodeEntry(raw []byte) (string, []byte, error) {
	if len(raw) < 4 {
		return "", nil, fmt.Errorf("corrupt cache entry: %d bytes", len(raw))
	}
	n := int(binary.BigEndian.Uint32(raw[0:4]))
	if len(raw) < 4+n {
		return "", nil, fmt.Errorf("corrupt cache entry: key length %d exceeds %d bytes", n, len(raw))
	}
	return string(raw[4 : 4+n]), raw[4+n:], nil
}
