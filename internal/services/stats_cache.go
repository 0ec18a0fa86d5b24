package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lifelink/lifelink/internal/cache"
	"github.com/lifelink/lifelink/pkg/logger"
)

const (
	dashboardStatsKey = "stats:dashboard"
	// DefaultStatsTTL bounds how stale dashboard aggregates may get.
	DefaultStatsTTL = 60 * time.Second
)

// invalidateStats drops the cached aggregates after a write that changes them.
func invalidateStats(ctx context.Context, store cache.Store) {
	if store == nil {
		return
	}
	ctx = ensureContext(ctx)
	if err := store.Delete(ctx, dashboardStatsKey); err != nil {
		logger.Enrich(ctx, logger.WithModule("stats")).Warn("stats invalidation failed", zap.Error(err))
	}
}

func loadCachedStats(ctx context.Context, store cache.Store) (*DashboardStats, bool) {
	stats, ok, err := cache.GetJSON[DashboardStats](ctx, store, dashboardStatsKey)
	if err != nil || !ok {
		return nil, false
	}
	return &stats, true
}

func storeCachedStats(ctx context.Context, store cache.Store, stats *DashboardStats, ttl time.Duration) {
	if stats == nil {
		return
	}
	if err := cache.SetJSON(ctx, store, dashboardStatsKey, stats, ttl); err != nil {
		logger.Enrich(ctx, logger.WithModule("stats")).Warn("stats cache write failed", zap.Error(err))
	}
}
