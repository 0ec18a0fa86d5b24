package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type fakePublisher struct {
	topic   string
	qos     byte
	payload []byte
	err     error
}

func (p *fakePublisher) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	p.topic = topic
	p.qos = qos
	p.payload = payload.([]byte)
	return &fakeToken{err: p.err}
}

func TestMQTTChannelPublishesPerRecipientTopic(t *testing.T) {
	pub := &fakePublisher{}
	ch := newMQTTChannel(pub, MQTTConfig{TopicPrefix: "/hospital-a/", QoS: 1})

	n, err := ch.Deliver(context.Background(), Delivery{RecipientID: "donor-7", Title: "Blood needed"})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, "hospital-a/users/donor-7/alerts", pub.topic)
	require.Equal(t, byte(1), pub.qos)

	var decoded Delivery
	require.NoError(t, json.Unmarshal(pub.payload, &decoded))
	require.Equal(t, "Blood needed", decoded.Title)
}

func TestMQTTChannelPublishFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.New("not connected")}
	ch := newMQTTChannel(pub, MQTTConfig{})
	require.Equal(t, "lifelink/users/x/alerts", ch.Topic("x"))

	n, err := ch.Deliver(context.Background(), Delivery{RecipientID: "x"})
	require.Error(t, err)
	require.Zero(t, n)
}

func TestNewMQTTChannelRequiresBroker(t *testing.T) {
	_, err := NewMQTTChannel(MQTTConfig{})
	require.Error(t, err)
}
