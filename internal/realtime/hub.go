package realtime

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lifelink/lifelink/pkg/logger"
	"github.com/lifelink/lifelink/pkg/metrics"
)

const defaultSendBuffer = 64

// Message is the JSON frame pushed to subscribers.
type Message struct {
	Stream string         `json:"stream"`
	Event  string         `json:"event"`
	Data   any            `json:"data,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
	SentAt time.Time      `json:"sent_at"`
}

// HubOption customises a Hub.
type HubOption func(*Hub)

// WithAllowedOrigins accepts cross-origin upgrades from the listed origins in addition to
// same-origin and loopback requests.
func WithAllowedOrigins(origins ...string) HubOption {
	return func(h *Hub) {
		for _, origin := range origins {
			if host := hostWithoutPort(origin); host != "" {
				h.origins[host] = struct{}{}
			}
		}
	}
}

// WithSendBuffer sets the per-connection outbound queue length.
func WithSendBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// Hub tracks live websocket subscribers by stream and user. Donor alerts, seeker inbox
// updates and requisition status changes are all routed to a single user at a time.
type Hub struct {
	mu         sync.RWMutex
	routes     map[string]map[string]map[*subscriber]struct{} // stream -> user -> subscribers
	origins    map[string]struct{}
	sendBuffer int
	upgrader   websocket.Upgrader
	log        *zap.Logger
}

// NewHub constructs a realtime hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		routes:     make(map[string]map[string]map[*subscriber]struct{}),
		origins:    make(map[string]struct{}),
		sendBuffer: defaultSendBuffer,
		log:        logger.WithModule("realtime"),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Serve upgrades the request and keeps the subscriber registered on the given streams until
// the socket closes. A nil allowed set permits every stream.
func (h *Hub) Serve(userID string, streams []string, allowed map[string]struct{}, w http.ResponseWriter, r *http.Request) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if len(streams) == 0 {
		streams = DefaultStreams
	}

	sub := newSubscriber(h, socket, userID, allowed)
	h.join(sub, streams)

	go sub.writePump()
	sub.readPump()
}

// SendToUser queues msg for every connection the user holds on stream and returns how many
// accepted it. Zero means the user is offline on that stream.
func (h *Hub) SendToUser(stream, userID string, msg Message) int {
	stream = normalizeStream(stream)
	if stream == "" || userID == "" {
		return 0
	}
	msg.Stream = stream
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	accepted := 0
	for sub := range h.routes[stream][userID] {
		if h.offer(sub, msg) {
			accepted++
		}
	}
	return accepted
}

// Online reports how many live connections the user holds on stream.
func (h *Hub) Online(stream, userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.routes[normalizeStream(stream)][userID])
}

func (h *Hub) join(sub *subscriber, streams []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, stream := range uniqueStreams(streams) {
		if !sub.mayJoin(stream) {
			h.log.Debug("stream not permitted", zap.String("stream", stream), zap.String("user_id", sub.userID))
			continue
		}
		if _, joined := sub.streams[stream]; joined {
			continue
		}
		users := h.routes[stream]
		if users == nil {
			users = make(map[string]map[*subscriber]struct{})
			h.routes[stream] = users
		}
		if users[sub.userID] == nil {
			users[sub.userID] = make(map[*subscriber]struct{})
		}
		users[sub.userID][sub] = struct{}{}
		sub.streams[stream] = struct{}{}
		metrics.RealtimeSubscribers.WithLabelValues(stream).Inc()
	}
}

func (h *Hub) leave(sub *subscriber, streams []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, stream := range uniqueStreams(streams) {
		h.dropLocked(sub, stream)
	}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub.closed = true
	for stream := range sub.streams {
		h.dropLocked(sub, stream)
	}
}

func (h *Hub) dropLocked(sub *subscriber, stream string) {
	if _, joined := sub.streams[stream]; !joined {
		return
	}
	delete(sub.streams, stream)
	metrics.RealtimeSubscribers.WithLabelValues(stream).Dec()

	users := h.routes[stream]
	delete(users[sub.userID], sub)
	if len(users[sub.userID]) == 0 {
		delete(users, sub.userID)
	}
	if len(users) == 0 {
		delete(h.routes, stream)
	}
}

// offer runs under h.mu; a subscriber whose queue is full is disconnected asynchronously.
func (h *Hub) offer(sub *subscriber, msg Message) bool {
	if sub.closed {
		return false
	}
	select {
	case sub.send <- msg:
		return true
	default:
		h.log.Warn("subscriber too slow, disconnecting", zap.String("user_id", sub.userID))
		go sub.close()
		return false
	}
}
