package cache

import (
	"context"
	"time"
)

// BytesCache is a minimal cache API storing raw bytes with TTL.
type BytesCache interface {
	GetBytes(ctx context.Context, key string) (b []byte, ok bool, err error)
	SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// DeletePattern removes every key matching a glob pattern, e.g. "em:*".
	DeletePattern(ctx context.Context, pattern string) error
}
