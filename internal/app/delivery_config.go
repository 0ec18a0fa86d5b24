package app

import (
	"strings"

	"github.com/lifelink/lifelink/internal/delivery"
	"github.com/lifelink/lifelink/internal/middleware"
	"github.com/lifelink/lifelink/internal/tasks"
)

// WebhookChannelConfig converts the webhook section into delivery.WebhookConfig.
func (c DeliveryConfig) WebhookChannelConfig() delivery.WebhookConfig {
	return delivery.WebhookConfig{
		URL:        strings.TrimSpace(c.Webhook.URL),
		Token:      c.Webhook.Token,
		Timeout:    c.Webhook.Timeout,
		RetryCount: c.Webhook.RetryCount,
	}
}

// MQTTChannelConfig converts the mqtt section into delivery.MQTTConfig. QoS is clamped to 0..2.
func (c DeliveryConfig) MQTTChannelConfig() delivery.MQTTConfig {
	qos := min(max(c.MQTT.QoS, 0), 2)
	return delivery.MQTTConfig{
		Broker:      strings.TrimSpace(c.MQTT.Broker),
		ClientID:    strings.TrimSpace(c.MQTT.ClientID),
		Username:    c.MQTT.Username,
		Password:    c.MQTT.Password,
		TopicPrefix: strings.Trim(strings.TrimSpace(c.MQTT.TopicPrefix), "/"),
		QoS:         byte(qos),
		Timeout:     c.MQTT.Timeout,
	}
}

// TaskQueueConfig converts the tasks section into tasks.Config.
func (c LifeLinkConfig) TaskQueueConfig() tasks.Config {
	return tasks.Config{
		Workers:     c.Tasks.Workers,
		QueueSize:   c.Tasks.QueueSize,
		TaskTimeout: c.Tasks.Timeout,
	}
}

// Rate limiter action names.
const (
	ActionRespond           = "respond"
	ActionCreateRequisition = "create_requisition"
	ActionDispatch          = "dispatch"
)

// RateRules maps each limited action to its rule.
func (c LifeLinkConfig) RateRules() map[string]middleware.RateRule {
	rule := func(action string, s RateLimitSetting) middleware.RateRule {
		return middleware.RateRule{Action: action, Limit: s.Limit, Window: s.Window}
	}
	return map[string]middleware.RateRule{
		ActionRespond:           rule(ActionRespond, c.RateLimits.Respond),
		ActionCreateRequisition: rule(ActionCreateRequisition, c.RateLimits.CreateRequisition),
		ActionDispatch:          rule(ActionDispatch, c.RateLimits.Dispatch),
	}
}
