package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/lifelink/lifelink/pkg/logger"
)

// MQTTConfig describes the broker connection used for device push.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
	Timeout     time.Duration
}

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTChannel publishes each delivery to "<prefix>/users/<recipient>/alerts".
type MQTTChannel struct {
	client  publisher
	closer  func()
	prefix  string
	qos     byte
	timeout time.Duration
	log     *zap.Logger
}

// NewMQTTChannel connects to the broker and returns a ready channel.
func NewMQTTChannel(cfg MQTTConfig) (*MQTTChannel, error) {
	broker := strings.TrimSpace(cfg.Broker)
	if broker == "" {
		return nil, errors.New("mqtt channel: broker is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "lifelink"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(cfg.Timeout)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("mqtt channel: connect to %s timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt channel: connect to %s: %w", broker, err)
	}

	ch := newMQTTChannel(client, cfg)
	ch.closer = func() { client.Disconnect(250) }
	return ch, nil
}

func newMQTTChannel(client publisher, cfg MQTTConfig) *MQTTChannel {
	prefix := strings.Trim(strings.TrimSpace(cfg.TopicPrefix), "/")
	if prefix == "" {
		prefix = "lifelink"
	}
	if cfg.QoS > 2 {
		cfg.QoS = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &MQTTChannel{
		client:  client,
		prefix:  prefix,
		qos:     cfg.QoS,
		timeout: cfg.Timeout,
		log:     logger.WithModule("delivery.mqtt"),
	}
}

// Close disconnects from the broker.
func (c *MQTTChannel) Close() {
	if c != nil && c.closer != nil {
		c.closer()
	}
}

// Topic returns the topic a recipient's alerts are published on.
func (c *MQTTChannel) Topic(recipientID string) string {
	return fmt.Sprintf("%s/users/%s/alerts", c.prefix, recipientID)
}

// Deliver implements Channel.
func (c *MQTTChannel) Deliver(ctx context.Context, d Delivery) (int, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return 0, fmt.Errorf("mqtt channel: marshal: %w", err)
	}

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	topic := c.Topic(d.RecipientID)
	token := c.client.Publish(topic, c.qos, false, payload)
	if !token.WaitTimeout(timeout) {
		return 0, fmt.Errorf("mqtt channel: publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		c.log.Warn("publish failed", zap.String("topic", topic), zap.Error(err))
		return 0, fmt.Errorf("mqtt channel: publish to %s: %w", topic, err)
	}
	return 1, nil
}
