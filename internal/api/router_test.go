package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/lifelink/lifelink/internal/app"
	iauth "github.com/lifelink/lifelink/internal/auth"
	"github.com/lifelink/lifelink/internal/database/testutil"
	"github.com/lifelink/lifelink/internal/handlers"
	"github.com/lifelink/lifelink/internal/realtime"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func newTestRouter(t *testing.T, probes map[string]handlers.Pinger) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "test-secret", Issuer: "test", AccessTokenTTL: 15 * time.Minute})
	require.NoError(t, err)

	hub := realtime.NewHub()
	svcs, err := BuildServices(db, ServiceOptions{Hub: hub})
	require.NoError(t, err)

	cfg := &app.Config{
		Monitoring: app.MonitoringConfig{Prometheus: app.PrometheusConfig{Enabled: true}},
		Delivery:   app.DeliveryConfig{Realtime: app.RealtimeDeliveryConfig{Enabled: true}},
	}

	router, err := NewRouter(Dependencies{
		DB:       db,
		JWT:      jwtSvc,
		Config:   cfg,
		Services: svcs,
		Hub:      hub,
		Probes:   probes,
	})
	require.NoError(t, err)
	return router
}

func serve(router *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestRouterPublicAndProtectedRoutes(t *testing.T) {
	router := newTestRouter(t, nil)

	w := serve(router, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Contains(t, w.Body.String(), `"database":"ok"`)
	require.NotEmpty(t, w.Header().Get("X-Request-ID"))
	require.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	w = serve(router, http.MethodGet, "/api/lifelink/requisitions/mine")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(router, http.MethodGet, "/api/lifelink/ws")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(router, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "lifelink_api_latency_seconds_count")
}

func TestRouterNotFoundAndMethodNotAllowed(t *testing.T) {
	router := newTestRouter(t, nil)

	w := serve(router, http.MethodGet, "/missing")
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), `"code":"NOT_FOUND"`)

	w = serve(router, http.MethodDelete, "/health")
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
	require.Contains(t, w.Body.String(), "METHOD_NOT_ALLOWED")
}

func TestRouterHealthReportsFailingProbe(t *testing.T) {
	router := newTestRouter(t, map[string]handlers.Pinger{
		"cache": stubPinger{err: errors.New("connection refused")},
	})

	w := serve(router, http.MethodGet, "/health")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Contains(t, w.Body.String(), "UNHEALTHY")
	require.Contains(t, w.Body.String(), "connection refused")
}

func TestNewRouterRequiresDependencies(t *testing.T) {
	_, err := NewRouter(Dependencies{})
	require.Error(t, err)

	db := testutil.MustOpenTestDB(t)
	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "test-secret"})
	require.NoError(t, err)

	_, err = NewRouter(Dependencies{DB: db, JWT: jwtSvc, Config: &app.Config{}})
	require.ErrorContains(t, err, "service is required")
}
