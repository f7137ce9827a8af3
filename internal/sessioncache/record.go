package sessioncache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheUnavailable marks a remote backend failure. It is logged, never
// returned to callers of Cache.
var ErrCacheUnavailable = errors.New("session cache backend unavailable")

// Record is one stored session. Records are replaced, never mutated.
type Record struct {
	ID         string    `json:"id"`
	Payload    []byte    `json:"data"`
	Compressed bool      `json:"compressed"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	SizeBytes  int       `json:"size_bytes"`
}

// Remote mirrors cache entries for multi-process deployments.
// Get returns (nil, nil) on a miss.
type Remote interface {
	Get(ctx context.Context, key string) (*Record, error)
	Set(ctx context.Context, key string, rec Record, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
