// Package delivery hands donor and seeker alerts to the transports that reach devices: the
// realtime websocket hub, an HTTP push gateway and an MQTT broker.
package delivery

import (
	"context"

	"go.uber.org/multierr"

	"github.com/lifelink/lifelink/internal/realtime"
)

// Priority hints how urgently a transport should surface a delivery.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// Delivery is one alert addressed to a single user.
type Delivery struct {
	RecipientID string         `json:"recipient_id"`
	Event       string         `json:"event"`
	Title       string         `json:"title"`
	Message     string         `json:"message"`
	Payload     map[string]any `json:"payload,omitempty"`
	Priority    Priority       `json:"priority"`
}

// Channel delivers alerts on a best-effort basis and reports how many endpoints were reached.
type Channel interface {
	Deliver(ctx context.Context, d Delivery) (int, error)
}

// Fanout sends every delivery through all configured channels. A failing channel does not stop
// the others; its error is combined into the result.
type Fanout struct {
	channels []Channel
}

// NewFanout skips nil channels.
func NewFanout(channels ...Channel) *Fanout {
	f := &Fanout{}
	for _, ch := range channels {
		if ch != nil {
			f.channels = append(f.channels, ch)
		}
	}
	return f
}

// Len returns the number of wired channels.
func (f *Fanout) Len() int {
	if f == nil {
		return 0
	}
	return len(f.channels)
}

// Deliver implements Channel.
func (f *Fanout) Deliver(ctx context.Context, d Delivery) (int, error) {
	if f == nil {
		return 0, nil
	}
	var (
		total int
		errs  error
	)
	for _, ch := range f.channels {
		n, err := ch.Deliver(ctx, d)
		total += n
		errs = multierr.Append(errs, err)
	}
	return total, errs
}

// HubChannel pushes deliveries to connected websocket clients.
type HubChannel struct {
	hub    *realtime.Hub
	stream string
}

// NewHubChannel binds a hub stream. An empty stream defaults to donor alerts.
func NewHubChannel(hub *realtime.Hub, stream string) *HubChannel {
	if stream == "" {
		stream = realtime.StreamDonorAlerts
	}
	return &HubChannel{hub: hub, stream: stream}
}

// Deliver implements Channel.
func (c *HubChannel) Deliver(_ context.Context, d Delivery) (int, error) {
	if c.hub == nil {
		return 0, nil
	}
	event := d.Event
	if event == "" {
		event = "alert"
	}
	return c.hub.SendToUser(c.stream, d.RecipientID, realtime.Message{
		Event: event,
		Data:  d,
		Meta:  map[string]any{"priority": string(d.Priority)},
	}), nil
}
