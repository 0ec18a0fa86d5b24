package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/lifelink/lifelink/internal/middleware"
	"github.com/lifelink/lifelink/internal/realtime"
)

func TestRealtimeHandlerUnauthorizedWithoutUser(t *testing.T) {
	gin.SetMode(gin.TestMode)

	handler := NewRealtimeHandler(realtime.NewHub())

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/lifelink/ws", nil)

	handler.Stream(c)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRealtimeHandlerRejectsUnknownStream(t *testing.T) {
	gin.SetMode(gin.TestMode)

	handler := NewRealtimeHandler(realtime.NewHub(), realtime.StreamDonorAlerts)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/lifelink/ws?streams=donor.alerts,unknown", nil)
	c.Set(middleware.CtxUserIDKey, "user-1")

	handler.Stream(c)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "unknown")
}

func TestRequestedStreamsNormalisesAndDeduplicates(t *testing.T) {
	gin.SetMode(gin.TestMode)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/ws?stream=Donor.Alerts&streams=donor.alerts,%20seeker.inbox%20,", nil)

	require.Equal(t, []string{"donor.alerts", "seeker.inbox"}, requestedStreams(c))
}
