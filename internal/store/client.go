// Package store provides a shared store for encoded tile bitmaps, so that
// tiles rendered once can be reused across workers and processes.
package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrCacheMiss indicates a cache miss.
var ErrCacheMiss = errors.New("cache miss")

// Client defines the store interface.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
	Close() error
}

// Key joins key components with ':'.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// DocumentKey scopes tile keys to one document digest.
func DocumentKey(digest string, parts ...string) string {
	return Key(append([]string{"doc", digest}, parts...)...)
}
