package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lifelink/lifelink/internal/api"
	"github.com/lifelink/lifelink/internal/app"
	"github.com/lifelink/lifelink/internal/app/maintenance"
	iauth "github.com/lifelink/lifelink/internal/auth"
	"github.com/lifelink/lifelink/internal/cache"
	"github.com/lifelink/lifelink/internal/database"
	"github.com/lifelink/lifelink/internal/delivery"
	"github.com/lifelink/lifelink/internal/handlers"
	"github.com/lifelink/lifelink/internal/middleware"
	"github.com/lifelink/lifelink/internal/realtime"
	"github.com/lifelink/lifelink/internal/tasks"
	"github.com/lifelink/lifelink/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB       *gorm.DB
	Redis    *cache.RedisClient
	MQTT     *delivery.MQTTChannel
	Hub      *realtime.Hub
	Tasks    *tasks.Queue
	Services api.Services
	Cleaner  *maintenance.Cleaner
	Router   *gin.Engine
}

// loadRuntimeConfig reads the configuration, fills generated secrets and configures logging.
func loadRuntimeConfig(path string) (*app.Config, error) {
	cfg, err := loadApplicationConfig(path)
	if err != nil {
		return nil, err
	}

	generated, err := app.ApplyRuntimeDefaults(cfg)
	if err != nil {
		return nil, err
	}

	if err := app.ConfigureLogging(cfg.Server); err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}

	log := logger.WithModule("bootstrap")
	for _, key := range generated {
		log.Info("generated runtime secret", zap.String("key", key))
	}
	return cfg, nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return app.LoadConfig("")
	}

	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return app.LoadConfig("", path)
	case err == nil:
		return app.LoadConfig(path)
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("config path %q does not exist", path)
	default:
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

// bootstrapRuntime initialises the database, caches, delivery channels, services and the HTTP router.
func bootstrapRuntime(cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mode
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	var (
		store     cache.Store
		dbStore   *cache.DatabaseStore
		probes    = map[string]handlers.Pinger{}
		rateStore middleware.RateStore
	)
	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisClient(cfg.Cache.RedisClientConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed cache", zap.Error(err))
			stack.Redis = nil
		} else {
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
			store = stack.Redis
			probes["redis"] = stack.Redis
		}
	}
	if store == nil {
		dbStore = cache.NewDatabaseStore(stack.DB)
		store = dbStore
	}
	rateStore = middleware.NewCacheRateStore(store)

	stack.Hub = realtime.NewHub(
		realtime.WithAllowedOrigins(cfg.Delivery.Realtime.AllowedOrigins...),
		realtime.WithSendBuffer(cfg.Delivery.Realtime.SendBuffer),
	)

	channel, err := stack.buildChannel(cfg, log)
	if err != nil {
		return nil, err
	}

	stack.Tasks = tasks.NewQueue(cfg.LifeLink.TaskQueueConfig())

	stack.Services, err = api.BuildServices(stack.DB, api.ServiceOptions{
		Hub:                 stack.Hub,
		Channel:             channel,
		Tasks:               stack.Tasks,
		Cache:               store,
		StatsTTL:            cfg.LifeLink.StatsTTL,
		BroadcastLimit:      cfg.LifeLink.BroadcastLimit,
		DispatchConcurrency: cfg.LifeLink.DispatchConcurrency,
		DeliveryTimeout:     cfg.LifeLink.DeliveryTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise services: %w", err)
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	opts := []maintenance.Option{
		maintenance.WithAuditRetentionDays(cfg.LifeLink.AuditRetentionDays),
		maintenance.WithSweepSchedule(cfg.LifeLink.SweepSchedule),
		maintenance.WithAuditSchedule(cfg.LifeLink.AuditSchedule),
		maintenance.WithCacheSchedule(cfg.LifeLink.CacheCleanupSchedule),
	}
	if dbStore != nil {
		opts = append(opts, maintenance.WithCachePurger(dbStore))
	}
	stack.Cleaner = maintenance.NewCleaner(stack.Services.Requisitions, stack.Services.Audit, opts...)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.Router, err = api.NewRouter(api.Dependencies{
		DB:        stack.DB,
		JWT:       jwtSvc,
		Config:    cfg,
		Services:  stack.Services,
		Hub:       stack.Hub,
		RateStore: rateStore,
		Probes:    probes,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// buildChannel assembles the outbound alert transports. It returns nil when none is enabled.
func (s *runtimeStack) buildChannel(cfg *app.Config, log *zap.Logger) (delivery.Channel, error) {
	var channels []delivery.Channel

	if cfg.Delivery.Realtime.Enabled {
		channels = append(channels, delivery.NewHubChannel(s.Hub, realtime.StreamDonorAlerts))
	}

	if cfg.Delivery.Webhook.Enabled {
		webhook, err := delivery.NewWebhookChannel(cfg.Delivery.WebhookChannelConfig())
		if err != nil {
			return nil, fmt.Errorf("initialise webhook delivery: %w", err)
		}
		channels = append(channels, webhook)
		log.Info("webhook delivery enabled", zap.String("url", cfg.Delivery.Webhook.URL))
	}

	if cfg.Delivery.MQTT.Enabled {
		mqttChannel, err := delivery.NewMQTTChannel(cfg.Delivery.MQTTChannelConfig())
		if err != nil {
			return nil, fmt.Errorf("initialise mqtt delivery: %w", err)
		}
		s.MQTT = mqttChannel
		channels = append(channels, mqttChannel)
		log.Info("mqtt delivery enabled", zap.String("broker", cfg.Delivery.MQTT.Broker))
	}

	if len(channels) == 0 {
		return nil, nil
	}
	return delivery.NewFanout(channels...), nil
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		if stopCtx != nil {
			<-stopCtx.Done()
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if s.Tasks != nil {
		if err := s.Tasks.Shutdown(ctx); err != nil {
			log.Warn("background tasks did not drain", zap.Error(err))
		}
	}

	if s.MQTT != nil {
		s.MQTT.Close()
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.ConnectionConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.Migrate(db); err != nil {
		closeDatabase(db, logger.WithModule("database"))
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", dbCfg.Driver))

	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
