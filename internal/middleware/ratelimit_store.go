package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/lifelink/lifelink/internal/cache"
)

const pruneInterval = time.Minute

// RateStore counts hits for a key inside a fixed window and reports the time left in it.
type RateStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int, ttl time.Duration, err error)
}

// memoryRateStore keeps fixed windows in process. Expired windows are pruned lazily on writes,
// so an idle store holds no goroutine.
type memoryRateStore struct {
	mu        sync.Mutex
	windows   map[string]fixedWindow
	now       func() time.Time
	nextPrune time.Time
}

type fixedWindow struct {
	hits    int
	resetAt time.Time
}

// NewMemoryRateStore returns a process-local RateStore for single replicas and tests. A nil
// clock uses time.Now.
func NewMemoryRateStore(clock func() time.Time) RateStore {
	if clock == nil {
		clock = time.Now
	}
	return &memoryRateStore{windows: make(map[string]fixedWindow), now: clock}
}

func (s *memoryRateStore) Increment(_ context.Context, key string, window time.Duration) (int, time.Duration, error) {
	window = normaliseWindow(window)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !now.Before(s.nextPrune) {
		for k, w := range s.windows {
			if !now.Before(w.resetAt) {
				delete(s.windows, k)
			}
		}
		s.nextPrune = now.Add(pruneInterval)
	}

	w, ok := s.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = fixedWindow{resetAt: now.Add(window)}
	}
	w.hits++
	s.windows[key] = w
	return w.hits, w.resetAt.Sub(now), nil
}

// cacheRateStore shares counters through Redis or the SQL cache table so limits hold across
// replicas.
type cacheRateStore struct {
	store cache.Store
}

// NewCacheRateStore adapts a cache.Store. It returns nil for a nil store, which disables limiting.
func NewCacheRateStore(store cache.Store) RateStore {
	if store == nil {
		return nil
	}
	return &cacheRateStore{store: store}
}

func (s *cacheRateStore) Increment(ctx context.Context, key string, window time.Duration) (int, time.Duration, error) {
	hits, ttl, err := s.store.IncrementWithTTL(ctx, key, normaliseWindow(window))
	return int(hits), ttl, err
}

func normaliseWindow(window time.Duration) time.Duration {
	if window <= 0 {
		return time.Minute
	}
	return window
}
