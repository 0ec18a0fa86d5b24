package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrStoreClosed is returned by a store that was never initialised.
var ErrStoreClosed = errors.New("cache: store not initialised")

// Store is the shared key/value cache backing rate limits and the dashboard aggregates. Redis
// and the SQL cache_entries table both implement it. A zero ttl means no expiry.
type Store interface {
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) error
}

// GetJSON decodes the cached value at key into a T. A missing key or an undecodable value
// reports false; only store failures are returned as errors.
func GetJSON[T any](ctx context.Context, store Store, key string) (T, bool, error) {
	var zero T
	if store == nil {
		return zero, false, nil
	}
	raw, ok, err := store.Get(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, false, nil
	}
	return out, true, nil
}

// SetJSON encodes value and stores it under key.
func SetJSON(ctx context.Context, store Store, key string, value any, ttl time.Duration) error {
	if store == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	return store.Set(ctx, key, raw, ttl)
}
