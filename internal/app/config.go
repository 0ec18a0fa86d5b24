package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the LifeLink service.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	LifeLink   LifeLinkConfig   `mapstructure:"lifelink"`
	Delivery   DeliveryConfig   `mapstructure:"delivery"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	LogLevel        string        `mapstructure:"log_level"`
	LogFormat       string        `mapstructure:"log_format"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TrustedProxies  []string      `mapstructure:"trusted_proxies"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver          string            `mapstructure:"driver"`
	Path            string            `mapstructure:"path"`
	DSN             string            `mapstructure:"dsn"`
	Host            string            `mapstructure:"host"`
	Port            int               `mapstructure:"port"`
	Name            string            `mapstructure:"name"`
	User            string            `mapstructure:"user"`
	Password        string            `mapstructure:"password"`
	Options         map[string]string `mapstructure:"options"`
	MaxOpenConns    int               `mapstructure:"max_open_conns"`
	MaxIdleConns    int               `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration     `mapstructure:"conn_max_lifetime"`
	SlowQuery       time.Duration     `mapstructure:"slow_query_threshold"`
}

// CacheConfig describes cache backends. Without Redis the SQL cache table is used.
type CacheConfig struct {
	Redis RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// AuthConfig captures token validation settings. Tokens are minted by the user directory.
type AuthConfig struct {
	JWT JWTSettings `mapstructure:"jwt"`
}

// JWTSettings configures JWT access tokens.
type JWTSettings struct {
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	Audience string        `mapstructure:"audience"`
	TTL      time.Duration `mapstructure:"access_token_ttl"`
	Leeway   time.Duration `mapstructure:"leeway"`
}

// MonitoringConfig enables metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig toggles the metrics endpoint.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// LifeLinkConfig tunes the matching engine.
type LifeLinkConfig struct {
	BroadcastLimit       int              `mapstructure:"broadcast_limit"`
	DispatchConcurrency  int              `mapstructure:"dispatch_concurrency"`
	DeliveryTimeout      time.Duration    `mapstructure:"delivery_timeout"`
	SweepSchedule        string           `mapstructure:"sweep_schedule"`
	StatsTTL             time.Duration    `mapstructure:"stats_ttl"`
	AuditRetentionDays   int              `mapstructure:"audit_retention_days"`
	AuditSchedule        string           `mapstructure:"audit_schedule"`
	CacheCleanupSchedule string           `mapstructure:"cache_cleanup_schedule"`
	Tasks                TaskQueueConfig  `mapstructure:"tasks"`
	RateLimits           RateLimitsConfig `mapstructure:"rate_limits"`
}

// TaskQueueConfig sizes the background task queue.
type TaskQueueConfig struct {
	Workers   int           `mapstructure:"workers"`
	QueueSize int           `mapstructure:"queue_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// RateLimitsConfig holds the per-user action limits.
type RateLimitsConfig struct {
	Respond           RateLimitSetting `mapstructure:"respond"`
	CreateRequisition RateLimitSetting `mapstructure:"create_requisition"`
	Dispatch          RateLimitSetting `mapstructure:"dispatch"`
}

// RateLimitSetting allows Limit calls per Window. A zero limit disables the rule.
type RateLimitSetting struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

// DeliveryConfig enables the channels donor alerts and seeker alerts are pushed through.
type DeliveryConfig struct {
	Realtime RealtimeDeliveryConfig `mapstructure:"realtime"`
	Webhook  WebhookDeliveryConfig  `mapstructure:"webhook"`
	MQTT     MQTTDeliveryConfig     `mapstructure:"mqtt"`
}

// RealtimeDeliveryConfig toggles websocket push.
type RealtimeDeliveryConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	SendBuffer     int      `mapstructure:"send_buffer"`
}

// WebhookDeliveryConfig points at an HTTP push gateway.
type WebhookDeliveryConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	URL        string        `mapstructure:"url"`
	Token      string        `mapstructure:"token"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RetryCount int           `mapstructure:"retry_count"`
}

// MQTTDeliveryConfig configures device push over MQTT.
type MQTTDeliveryConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Broker      string        `mapstructure:"broker"`
	ClientID    string        `mapstructure:"client_id"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	TopicPrefix string        `mapstructure:"topic_prefix"`
	QoS         int           `mapstructure:"qos"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
// An explicit file path wins over the search paths.
func LoadConfig(file string, paths ...string) (*Config, error) {
	v := viper.New()
	if file = strings.TrimSpace(file); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		for _, path := range paths {
			v.AddConfigPath(path)
		}
	}

	setDefaults(v)

	v.SetEnvPrefix("LIFELINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/lifelink.sqlite")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.slow_query_threshold", "200ms")

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")

	v.SetDefault("auth.jwt.issuer", "lifelink")
	v.SetDefault("auth.jwt.access_token_ttl", "15m")
	v.SetDefault("auth.jwt.leeway", "30s")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")

	v.SetDefault("lifelink.broadcast_limit", 200)
	v.SetDefault("lifelink.dispatch_concurrency", 8)
	v.SetDefault("lifelink.delivery_timeout", "10s")
	v.SetDefault("lifelink.sweep_schedule", "@every 5m")
	v.SetDefault("lifelink.stats_ttl", "60s")
	v.SetDefault("lifelink.audit_retention_days", 365)
	v.SetDefault("lifelink.audit_schedule", "@daily")
	v.SetDefault("lifelink.cache_cleanup_schedule", "@hourly")
	v.SetDefault("lifelink.tasks.workers", 4)
	v.SetDefault("lifelink.tasks.queue_size", 256)
	v.SetDefault("lifelink.tasks.timeout", "10s")
	v.SetDefault("lifelink.rate_limits.respond.limit", 10)
	v.SetDefault("lifelink.rate_limits.respond.window", "1m")
	v.SetDefault("lifelink.rate_limits.create_requisition.limit", 5)
	v.SetDefault("lifelink.rate_limits.create_requisition.window", "1h")
	v.SetDefault("lifelink.rate_limits.dispatch.limit", 10)
	v.SetDefault("lifelink.rate_limits.dispatch.window", "1h")

	v.SetDefault("delivery.realtime.enabled", true)
	v.SetDefault("delivery.realtime.send_buffer", 64)
	v.SetDefault("delivery.webhook.enabled", false)
	v.SetDefault("delivery.webhook.timeout", "5s")
	v.SetDefault("delivery.webhook.retry_count", 2)
	v.SetDefault("delivery.mqtt.enabled", false)
	v.SetDefault("delivery.mqtt.client_id", "lifelink")
	v.SetDefault("delivery.mqtt.topic_prefix", "lifelink")
	v.SetDefault("delivery.mqtt.qos", 1)
	v.SetDefault("delivery.mqtt.timeout", "5s")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
