package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/lifelink/lifelink/pkg/logger"
)

// WebhookConfig points at an HTTP push gateway.
type WebhookConfig struct {
	URL        string
	Token      string
	Timeout    time.Duration
	RetryCount int
}

// WebhookChannel posts deliveries as JSON to a push gateway.
type WebhookChannel struct {
	client *resty.Client
	url    string
	log    *zap.Logger
}

// NewWebhookChannel configures the resty client. Transport retries are the only retries performed.
func NewWebhookChannel(cfg WebhookConfig) (*WebhookChannel, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("webhook channel: url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}

	return &WebhookChannel{
		client: client,
		url:    url,
		log:    logger.WithModule("delivery.webhook"),
	}, nil
}

// Deliver implements Channel.
func (c *WebhookChannel) Deliver(ctx context.Context, d Delivery) (int, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(d).
		Post(c.url)
	if err != nil {
		c.log.Warn("push gateway call failed", zap.String("recipient_id", d.RecipientID), zap.Error(err))
		return 0, fmt.Errorf("webhook channel: post: %w", err)
	}
	if resp.IsError() {
		c.log.Warn("push gateway rejected delivery",
			zap.String("recipient_id", d.RecipientID),
			zap.Int("status_code", resp.StatusCode()),
		)
		return 0, fmt.Errorf("webhook channel: gateway returned %d", resp.StatusCode())
	}
	return 1, nil
}
