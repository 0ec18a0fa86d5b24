package api

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/lifelink/lifelink/internal/app"
	iauth "github.com/lifelink/lifelink/internal/auth"
	"github.com/lifelink/lifelink/internal/handlers"
	"github.com/lifelink/lifelink/internal/middleware"
	"github.com/lifelink/lifelink/internal/realtime"
	"github.com/lifelink/lifelink/internal/services"
)

// Services bundles the domain services the HTTP layer exposes.
type Services struct {
	Profiles      *services.BloodProfileService
	Requisitions  *services.RequisitionService
	Matching      *services.MatchingService
	Dispatch      *services.DispatchService
	Responses     *services.ResponseService
	Notifications *services.NotificationService
	Audit         *services.AuditService
}

func (s Services) validate() error {
	switch {
	case s.Profiles == nil:
		return errors.New("router: blood profile service is required")
	case s.Requisitions == nil:
		return errors.New("router: requisition service is required")
	case s.Matching == nil:
		return errors.New("router: matching service is required")
	case s.Dispatch == nil:
		return errors.New("router: dispatch service is required")
	case s.Responses == nil:
		return errors.New("router: response service is required")
	case s.Notifications == nil:
		return errors.New("router: notification service is required")
	case s.Audit == nil:
		return errors.New("router: audit service is required")
	}
	return nil
}

// Dependencies carries everything NewRouter wires together.
type Dependencies struct {
	DB        *gorm.DB
	JWT       *iauth.JWTService
	Config    *app.Config
	Services  Services
	Hub       *realtime.Hub
	RateStore middleware.RateStore
	// Probes are extra dependencies reported by /health, keyed by name.
	Probes map[string]handlers.Pinger
}

// NewRouter builds the Gin engine, wires middleware and registers the LifeLink routes.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if deps.DB == nil {
		return nil, errors.New("router: database handle must be provided")
	}
	if deps.JWT == nil {
		return nil, errors.New("router: jwt service must be provided")
	}
	if deps.Config == nil {
		return nil, errors.New("router: config must be provided")
	}
	if err := deps.Services.validate(); err != nil {
		return nil, err
	}
	if deps.RateStore == nil {
		deps.RateStore = middleware.NewMemoryRateStore(nil)
	}

	r := gin.New()
	if err := r.SetTrustedProxies(deps.Config.Server.TrustedProxies); err != nil {
		return nil, err
	}
	r.HandleMethodNotAllowed = true

	metricsPath := strings.TrimSpace(deps.Config.Monitoring.Prometheus.Endpoint)
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	r.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.AccessLog("/health", metricsPath),
		middleware.Metrics(),
		middleware.SecurityHeaders(),
	)

	r.GET("/health", handlers.Health(deps.DB, deps.Probes))
	if deps.Config.Monitoring.Prometheus.Enabled {
		r.GET(metricsPath, gin.WrapH(promhttp.Handler()))
	}

	api := r.Group("/api/lifelink")
	api.Use(middleware.Auth(deps.JWT))
	registerLifeLinkRoutes(api, deps)

	r.NoRoute(middleware.NotFoundHandler)
	r.NoMethod(middleware.MethodNotAllowedHandler)

	return r, nil
}

func registerLifeLinkRoutes(api *gin.RouterGroup, deps Dependencies) {
	svc := deps.Services
	rules := deps.Config.LifeLink.RateRules()
	limit := func(action string) gin.HandlerFunc {
		return middleware.RateLimit(deps.RateStore, rules[action])
	}

	profiles := handlers.NewProfileHandler(svc.Profiles)
	requisitions := handlers.NewRequisitionHandler(svc.Requisitions, svc.Matching, svc.Dispatch, svc.Responses)
	notifications := handlers.NewNotificationHandler(svc.Notifications, svc.Responses)
	audit := handlers.NewAuditHandler(svc.Audit)

	api.GET("/profile/blood", profiles.GetBlood)
	api.PUT("/profile/blood", profiles.UpdateBlood)
	api.GET("/donors/dashboard", profiles.Dashboard)
	api.POST("/donors/search", requisitions.SearchDonors)
	api.GET("/donations", profiles.ListDonations)
	api.POST("/donations", profiles.AddDonation)

	reqs := api.Group("/requisitions")
	{
		reqs.POST("", limit(app.ActionCreateRequisition), requisitions.Create)
		reqs.GET("/mine", requisitions.ListMine)
		reqs.GET("/discover", requisitions.Discover)
		reqs.GET("/:id", requisitions.Get)
		reqs.PATCH("/:id/status", requisitions.UpdateStatus)
		reqs.POST("/:id/reuse", requisitions.Reuse)
		reqs.POST("/:id/notify", limit(app.ActionDispatch), requisitions.Notify)
		reqs.POST("/:id/notify-all", limit(app.ActionDispatch), requisitions.NotifyAll)
		reqs.POST("/:id/respond", limit(app.ActionRespond), requisitions.Respond)
		reqs.GET("/:id/my-response", requisitions.MyResponse)
		reqs.GET("/:id/willing-donors", requisitions.WillingDonors)
	}

	alerts := api.Group("/notifications")
	{
		alerts.GET("", notifications.ListDonorAlerts)
		alerts.POST("/:id/read", notifications.MarkDonorAlertRead)
		alerts.POST("/:id/respond", limit(app.ActionRespond), notifications.Respond)
	}

	inbox := api.Group("/inbox")
	{
		inbox.GET("", notifications.Inbox)
		inbox.POST("/read-all", notifications.MarkInboxAllRead)
		inbox.POST("/:id/read", notifications.MarkInboxRead)
	}

	api.GET("/audit", middleware.RequireAdmin(), audit.List)

	if deps.Hub != nil && deps.Config.Delivery.Realtime.Enabled {
		api.GET("/ws", handlers.NewRealtimeHandler(deps.Hub).Stream)
	}
}
