package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestRateLimitPerUserAndAction(t *testing.T) {
	gin.SetMode(gin.TestMode)

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := NewMemoryRateStore(func() time.Time { return now })

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(CtxUserIDKey, c.GetHeader("X-User"))
		c.Next()
	})
	r.POST("/respond", RateLimit(store, RateRule{Action: "respond", Limit: 2, Window: time.Minute}), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	send := func(user string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/respond", nil)
		req.Header.Set("X-User", user)
		r.ServeHTTP(w, req)
		return w
	}

	require.Equal(t, http.StatusOK, send("alice").Code)
	w := send("alice")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = send("alice")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Contains(t, w.Body.String(), "RATE_LIMIT_EXCEEDED")
	require.NotEmpty(t, w.Header().Get("Retry-After"))

	// other users keep their own budget
	require.Equal(t, http.StatusOK, send("bob").Code)

	now = now.Add(time.Minute + time.Second)
	require.Equal(t, http.StatusOK, send("alice").Code)
}

type failingRateStore struct{}

func (failingRateStore) Increment(context.Context, string, time.Duration) (int, time.Duration, error) {
	return 0, 0, errors.New("store down")
}

func TestRateLimitFailsOpen(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/ping", RateLimit(failingRateStore{}, RateRule{Action: "ping", Limit: 1, Window: time.Minute}), func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
}

func TestMemoryRateStorePrunesExpiredWindows(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := NewMemoryRateStore(func() time.Time { return now }).(*memoryRateStore)
	ctx := context.Background()

	hits, ttl, err := store.Increment(ctx, "ratelimit:respond:alice", 30*time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, hits)
	require.Equal(t, 30*time.Second, ttl)

	_, _, err = store.Increment(ctx, "ratelimit:respond:bob", 0)
	require.NoError(t, err)
	require.Len(t, store.windows, 2)

	now = now.Add(2 * time.Minute)
	hits, _, err = store.Increment(ctx, "ratelimit:dispatch:carol", time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, hits)
	require.Len(t, store.windows, 1)
}
