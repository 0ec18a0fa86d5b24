package realtime

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
	maxFrameSize = 64 << 10
)

// command is a client frame that changes the subscription set.
type command struct {
	Op      string   `json:"op"`
	Streams []string `json:"streams"`
}

type subscriber struct {
	hub     *Hub
	socket  *websocket.Conn
	userID  string
	allowed map[string]struct{}
	streams map[string]struct{} // guarded by hub.mu
	closed  bool                // guarded by hub.mu
	send    chan Message
	once    sync.Once
}

func newSubscriber(hub *Hub, socket *websocket.Conn, userID string, allowed map[string]struct{}) *subscriber {
	return &subscriber{
		hub:     hub,
		socket:  socket,
		userID:  userID,
		allowed: allowed,
		streams: make(map[string]struct{}),
		send:    make(chan Message, hub.sendBuffer),
	}
}

func (s *subscriber) mayJoin(stream string) bool {
	if len(s.allowed) == 0 {
		return true
	}
	_, ok := s.allowed[stream]
	return ok
}

func (s *subscriber) readPump() {
	defer s.close()

	s.socket.SetReadLimit(maxFrameSize)
	_ = s.socket.SetReadDeadline(time.Now().Add(pongWait))
	s.socket.SetPongHandler(func(string) error {
		return s.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := s.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.log.Debug("subscriber closed unexpectedly", zap.String("user_id", s.userID), zap.Error(err))
			}
			return
		}
		if len(frame) == 0 {
			continue
		}

		var cmd command
		if err := json.Unmarshal(frame, &cmd); err != nil {
			s.hub.log.Debug("ignoring malformed frame", zap.String("user_id", s.userID), zap.Error(err))
			continue
		}

		switch strings.ToLower(strings.TrimSpace(cmd.Op)) {
		case "subscribe":
			s.hub.join(s, cmd.Streams)
		case "unsubscribe":
			s.hub.leave(s, cmd.Streams)
		case "ping":
			s.hub.mu.RLock()
			s.hub.offer(s, Message{Event: "pong", SentAt: time.Now().UTC()})
			s.hub.mu.RUnlock()
		default:
			s.hub.log.Debug("unknown op", zap.String("op", cmd.Op), zap.String("user_id", s.userID))
		}
	}
}

func (s *subscriber) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			_ = s.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.socket.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *subscriber) close() {
	s.once.Do(func() {
		s.hub.remove(s)
		close(s.send)
		_ = s.socket.Close()
	})
}
