// Package cache provides the TTL key-value stores used for OAuth state and
// guild-list memoization.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned when a key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Cache is a byte-oriented TTL store. GetDel must be atomic.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	GetDel(ctx context.Context, key string) ([]byte, error)
}
