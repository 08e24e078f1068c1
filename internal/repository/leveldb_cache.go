package repository

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"github.com/syndtr/goleveldb/leveldb"

	"mediaq/internal/models"
)

// LevelDBCache implements CacheStore on a local LevelDB database with
// gob-encoded entries. Expired entries are detected on read and deleted
// opportunistically; no background sweep is required for correctness.
type LevelDBCache struct {
	db *leveldb.DB
}

// NewLevelDBCache opens the cache database at path.
func NewLevelDBCache(path string) (*LevelDBCache, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	return &LevelDBCache{db: db}, nil
}

// Close closes the cache database
func (c *LevelDBCache) Close() error {
	return c.db.Close()
}

// Get returns the cached value for key, or ok=false on a miss or an
// expired entry. Backend failures surface as ErrStoreUnavailable.
func (c *LevelDBCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := c.db.Get([]byte(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var entry models.CacheEntry
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&entry); err != nil {
		// A corrupt entry is unreadable, not a backend outage; drop it
		// and report a miss.
		_ = c.db.Delete([]byte(key), nil)
		return nil, false, nil
	}

	if entry.Expired(time.Now()) {
		_ = c.db.Delete([]byte(key), nil)
		return nil, false, nil
	}

	return entry.Value, true, nil
}

// Put stores value under key with the given TTL, superseding any previous
// entry for the same key.
func (c *LevelDBCache) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	entry := models.CacheEntry{
		Value:     value,
		CreatedAt: time.Now(),
		TTL:       ttl,
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&entry); err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	if err := c.db.Put([]byte(key), buf.Bytes(), nil); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return nil
}
