package cache

import (
	"context"
	"time"
)

// BytesCache — best-effort кэш: ошибки Get/Set не должны валить запрос.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}
