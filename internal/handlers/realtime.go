package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/lifelink/lifelink/internal/realtime"
	"github.com/lifelink/lifelink/pkg/errors"
	"github.com/lifelink/lifelink/pkg/response"
)

// RealtimeHandler upgrades authenticated requests into websocket subscriptions.
type RealtimeHandler struct {
	hub     *realtime.Hub
	allowed map[string]struct{}
}

// NewRealtimeHandler restricts clients to streams, defaulting to realtime.DefaultStreams.
func NewRealtimeHandler(hub *realtime.Hub, streams ...string) *RealtimeHandler {
	if len(streams) == 0 {
		streams = realtime.DefaultStreams
	}
	return &RealtimeHandler{hub: hub, allowed: realtime.StreamSet(streams...)}
}

// Stream handles GET /ws?streams=donor.alerts,seeker.inbox. Browsers that cannot set headers
// on upgrades pass the bearer token as access_token.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	if h.hub == nil {
		response.Error(c, errors.ErrNotFound)
		return
	}
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	streams := requestedStreams(c)
	if len(streams) == 0 {
		streams = realtime.DefaultStreams
	}
	for _, stream := range streams {
		if _, ok := h.allowed[stream]; !ok {
			response.Error(c, errors.ErrNotFound.WithMessage("Unknown stream "+stream))
			return
		}
	}

	h.hub.Serve(actor.UserID, streams, h.allowed, c.Writer, c.Request)
}

// requestedStreams merges repeated ?stream= values with the comma separated ?streams= list.
func requestedStreams(c *gin.Context) []string {
	return realtime.ParseStreams(append(c.QueryArray("stream"), c.Query("streams"))...)
}
