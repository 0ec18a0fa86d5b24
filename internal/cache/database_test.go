package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lifelink/lifelink/internal/database/testutil"
)

func TestDatabaseStoreIncrementWithinWindow(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := NewDatabaseStore(db)
	ctx := context.Background()

	count, ttl, err := store.IncrementWithTTL(ctx, "rl:respond:user-1", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	require.Greater(t, ttl, time.Duration(0))

	count, _, err = store.IncrementWithTTL(ctx, "rl:respond:user-1", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
}

func TestDatabaseStoreIncrementResetsAfterExpiry(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewDatabaseStore(db, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_, _, err := store.IncrementWithTTL(ctx, "k", time.Minute)
	require.NoError(t, err)
	_, _, err = store.IncrementWithTTL(ctx, "k", time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	count, _, err := store.IncrementWithTTL(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestDatabaseStoreSetGetDelete(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := NewDatabaseStore(db)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "stats", []byte(`{"total":1}`), time.Minute))

	value, ok, err := store.Get(ctx, "stats")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"total":1}`, string(value))

	require.NoError(t, store.Set(ctx, "stats", []byte(`{"total":2}`), time.Minute))
	value, ok, err = store.Get(ctx, "stats")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"total":2}`, string(value))

	require.NoError(t, store.Delete(ctx, "stats"))
	_, ok, err = store.Get(ctx, "stats")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDatabaseStoreExpiredEntries(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewDatabaseStore(db, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "short", []byte("a"), time.Second))
	require.NoError(t, store.Set(ctx, "long", []byte("b"), time.Hour))
	require.NoError(t, store.Set(ctx, "forever", []byte("c"), 0))

	now = now.Add(time.Minute)

	_, ok, err := store.Get(ctx, "short")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Set(ctx, "short2", []byte("a"), time.Second))
	now = now.Add(time.Minute)

	purged, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, purged)

	_, ok, err = store.Get(ctx, "forever")
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = store.Get(ctx, "long")
	require.NoError(t, err)
	require.True(t, ok)
}
