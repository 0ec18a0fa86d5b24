package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lifelink/lifelink/internal/api"
	"github.com/lifelink/lifelink/internal/app"
	iauth "github.com/lifelink/lifelink/internal/auth"
	sharedtestutil "github.com/lifelink/lifelink/internal/database/testutil"
	"github.com/lifelink/lifelink/internal/lifelink"
	"github.com/lifelink/lifelink/internal/middleware"
	"github.com/lifelink/lifelink/internal/models"
	"github.com/lifelink/lifelink/internal/realtime"
	"github.com/lifelink/lifelink/pkg/response"
)

const jwtSecret = "test-suite-super-secret-key-32-bytes!!"

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T        *testing.T
	DB       *gorm.DB
	Router   *gin.Engine
	JWT      *iauth.JWTService
	Hub      *realtime.Hub
	Config   *app.Config
	Services api.Services
}

// EnvOption tweaks the configuration before the router is built.
type EnvOption func(*app.Config)

// WithRateLimit overrides one action's limit.
func WithRateLimit(action string, limit int, window time.Duration) EnvOption {
	return func(cfg *app.Config) {
		setting := app.RateLimitSetting{Limit: limit, Window: window}
		switch action {
		case app.ActionRespond:
			cfg.LifeLink.RateLimits.Respond = setting
		case app.ActionCreateRequisition:
			cfg.LifeLink.RateLimits.CreateRequisition = setting
		case app.ActionDispatch:
			cfg.LifeLink.RateLimits.Dispatch = setting
		}
	}
}

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate(), sharedtestutil.WithSingleConnection())

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         jwtSecret,
		Issuer:         "test-suite",
		AccessTokenTTL: time.Hour,
	})
	require.NoError(t, err)

	cfg := &app.Config{
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{Secret: jwtSecret, Issuer: "test-suite", TTL: time.Hour},
		},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
		},
		LifeLink: app.LifeLinkConfig{
			BroadcastLimit:      200,
			DispatchConcurrency: 4,
			StatsTTL:            time.Minute,
			RateLimits: app.RateLimitsConfig{
				Respond:           app.RateLimitSetting{Limit: 50, Window: time.Minute},
				CreateRequisition: app.RateLimitSetting{Limit: 50, Window: time.Hour},
				Dispatch:          app.RateLimitSetting{Limit: 50, Window: time.Hour},
			},
		},
		Delivery: app.DeliveryConfig{
			Realtime: app.RealtimeDeliveryConfig{Enabled: true},
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	hub := realtime.NewHub()
	svcs, err := api.BuildServices(db, api.ServiceOptions{
		Hub:                 hub,
		StatsTTL:            cfg.LifeLink.StatsTTL,
		BroadcastLimit:      cfg.LifeLink.BroadcastLimit,
		DispatchConcurrency: cfg.LifeLink.DispatchConcurrency,
		DeliveryTimeout:     cfg.LifeLink.DeliveryTimeout,
	})
	require.NoError(t, err)

	router, err := api.NewRouter(api.Dependencies{
		DB:        db,
		JWT:       jwtSvc,
		Config:    cfg,
		Services:  svcs,
		Hub:       hub,
		RateStore: middleware.NewMemoryRateStore(nil),
	})
	require.NoError(t, err)

	return &Env{
		T:        t,
		DB:       db,
		Router:   router,
		JWT:      jwtSvc,
		Hub:      hub,
		Config:   cfg,
		Services: svcs,
	}
}

// UserOption customises a seeded user.
type UserOption func(*models.User)

// AsDonor marks the user as an active donor of the given group.
func AsDonor(group lifelink.BloodGroup) UserOption {
	return func(u *models.User) {
		u.IsBloodDonor = true
		g := group
		u.BloodGroup = &g
	}
}

// InCity sets the coarse location.
func InCity(city, state string) UserOption {
	return func(u *models.User) {
		u.City = city
		u.State = state
	}
}

// WithPhone sets the phone number and its visibility.
func WithPhone(phone string, show bool) UserOption {
	return func(u *models.User) {
		u.Phone = phone
		u.ShowPhone = show
	}
}

// AsAdmin grants the administrator flag.
func AsAdmin() UserOption {
	return func(u *models.User) { u.IsAdmin = true }
}

// CreateUser inserts an active user with a random email.
func (e *Env) CreateUser(name string, opts ...UserOption) *models.User {
	e.T.Helper()

	user := &models.User{
		FullName: name,
		Email:    uuid.NewString() + "@example.com",
		IsActive: true,
	}
	for _, opt := range opts {
		opt(user)
	}
	require.NoError(e.T, e.DB.Create(user).Error)
	return user
}

// Token issues an access token for the user.
func (e *Env) Token(user *models.User) string {
	e.T.Helper()
	token, err := e.JWT.GenerateAccessToken(iauth.AccessTokenInput{UserID: user.ID, IsAdmin: user.IsAdmin})
	require.NoError(e.T, err)
	return token
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	buf := bytes.NewBuffer(nil)
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
