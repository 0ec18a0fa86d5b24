package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, hub *Hub, userID string, streams []string, allowed map[string]struct{}) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(userID, streams, allowed, w, r)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	return conn
}

func TestSendToUserReachesSubscriber(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub, "donor-1", []string{StreamDonorAlerts}, nil)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return hub.Online(StreamDonorAlerts, "donor-1") == 1
	}, time.Second, 10*time.Millisecond)

	delivered := hub.SendToUser(StreamDonorAlerts, "donor-1", Message{Event: "requisition.alert", Data: map[string]any{"id": "req-1"}})
	require.Equal(t, 1, delivered)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, StreamDonorAlerts, msg.Stream)
	require.Equal(t, "requisition.alert", msg.Event)
	require.False(t, msg.SentAt.IsZero())
}

func TestSendToUserOffline(t *testing.T) {
	hub := NewHub()
	require.Zero(t, hub.SendToUser(StreamDonorAlerts, "nobody", Message{Event: "x"}))
	require.Zero(t, hub.SendToUser("", "nobody", Message{Event: "x"}))
	require.Zero(t, hub.SendToUser(StreamDonorAlerts, "", Message{Event: "x"}))
}

func TestSubscriberLeavesOnClose(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub, "seeker-1", nil, nil)

	require.Eventually(t, func() bool {
		return hub.Online(StreamSeekerInbox, "seeker-1") == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return hub.Online(StreamSeekerInbox, "seeker-1") == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubscribeCommandRespectsAllowedStreams(t *testing.T) {
	hub := NewHub()
	allowed := map[string]struct{}{StreamDonorAlerts: {}, StreamRequisitions: {}}
	conn := dialHub(t, hub, "donor-2", []string{StreamDonorAlerts}, allowed)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return hub.Online(StreamDonorAlerts, "donor-2") == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(command{Op: "subscribe", Streams: []string{" Requisitions ", StreamSeekerInbox}}))
	require.Eventually(t, func() bool {
		return hub.Online(StreamRequisitions, "donor-2") == 1
	}, time.Second, 10*time.Millisecond)
	require.Zero(t, hub.Online(StreamSeekerInbox, "donor-2"))

	require.NoError(t, conn.WriteJSON(command{Op: "unsubscribe", Streams: []string{StreamDonorAlerts}}))
	require.Eventually(t, func() bool {
		return hub.Online(StreamDonorAlerts, "donor-2") == 0
	}, time.Second, 10*time.Millisecond)
}

func TestCheckOrigin(t *testing.T) {
	hub := NewHub(WithAllowedOrigins("https://app.lifelink.org"))

	req := httptest.NewRequest(http.MethodGet, "http://api.lifelink.org/ws", nil)
	require.True(t, hub.checkOrigin(req))

	req.Header.Set("Origin", "https://app.lifelink.org")
	require.True(t, hub.checkOrigin(req))

	req.Header.Set("Origin", "http://localhost:5173")
	require.True(t, hub.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.example")
	require.False(t, hub.checkOrigin(req))
}

func TestHostHelpers(t *testing.T) {
	require.Equal(t, "example.com", hostWithoutPort("https://example.com:8443"))
	require.Equal(t, "localhost", hostWithoutPort("localhost:3000"))
	require.True(t, isLoopback("127.0.0.1"))
	require.True(t, isLoopback("localhost"))
	require.Equal(t, []string{"donor.alerts"}, uniqueStreams([]string{" Donor.Alerts", "donor.alerts", ""}))
}

func TestParseStreams(t *testing.T) {
	require.Equal(t, []string{"donor.alerts", "seeker.inbox"}, ParseStreams("Donor.Alerts", "donor.alerts, seeker.inbox ,", ""))
	require.Empty(t, ParseStreams())
	require.Len(t, StreamSet(StreamDonorAlerts, " DONOR.alerts", StreamRequisitions), 2)
}
