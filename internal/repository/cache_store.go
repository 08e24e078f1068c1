package repository

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable means the cache backend itself failed. It is never
// collapsed into a miss; callers decide whether to bypass the cache.
var ErrStoreUnavailable = errors.New("cache store unavailable")

// CacheStore maps a request fingerprint to a previously computed result.
// Expiry is lazy: a read past the entry's TTL is a miss.
type CacheStore interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}
