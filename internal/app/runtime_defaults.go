package app

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/multierr"
)

const generatedSecretBytes = 48

// ApplyRuntimeDefaults fills secrets a fresh install cannot ship with and rejects settings that
// would only fail later at first use. It returns the keys it generated so the caller can log
// them without printing values. All configuration problems are reported together.
func ApplyRuntimeDefaults(cfg *Config) (generated []string, err error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	if strings.TrimSpace(cfg.Auth.JWT.Secret) == "" {
		secret, genErr := randomSecret(generatedSecretBytes)
		if genErr != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", genErr)
		}
		cfg.Auth.JWT.Secret = secret
		generated = append(generated, "auth.jwt.secret")
	}

	if err := validateRuntime(cfg); err != nil {
		return nil, err
	}
	return generated, nil
}

func validateRuntime(cfg *Config) error {
	var errs error

	if webhook := cfg.Delivery.Webhook; webhook.Enabled {
		u, err := url.Parse(strings.TrimSpace(webhook.URL))
		switch {
		case strings.TrimSpace(webhook.URL) == "":
			errs = multierr.Append(errs, errors.New("delivery.webhook.url is required when the webhook channel is enabled"))
		case err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "":
			errs = multierr.Append(errs, fmt.Errorf("delivery.webhook.url %q must be an absolute http(s) URL", webhook.URL))
		}
	}

	if mqtt := cfg.Delivery.MQTT; mqtt.Enabled {
		if strings.TrimSpace(mqtt.Broker) == "" {
			errs = multierr.Append(errs, errors.New("delivery.mqtt.broker is required when the mqtt channel is enabled"))
		}
		if mqtt.QoS < 0 || mqtt.QoS > 2 {
			errs = multierr.Append(errs, fmt.Errorf("delivery.mqtt.qos must be 0, 1 or 2, got %d", mqtt.QoS))
		}
	}

	if cfg.Cache.Redis.Enabled && strings.TrimSpace(cfg.Cache.Redis.Address) == "" {
		errs = multierr.Append(errs, errors.New("cache.redis.address is required when redis is enabled"))
	}

	if cfg.LifeLink.BroadcastLimit < 0 {
		errs = multierr.Append(errs, fmt.Errorf("lifelink.broadcast_limit must not be negative, got %d", cfg.LifeLink.BroadcastLimit))
	}
	for action, rule := range cfg.LifeLink.RateRules() {
		if rule.Limit > 0 && rule.Window <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("lifelink.rate_limits.%s.window must be positive when a limit is set", action))
		}
	}
	return errs
}

func randomSecret(n int) (string, error) {
	if n <= 0 {
		return "", errors.New("secret length must be positive")
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
