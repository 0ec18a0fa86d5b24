package api

import (
	"time"

	"gorm.io/gorm"

	"github.com/lifelink/lifelink/internal/cache"
	"github.com/lifelink/lifelink/internal/delivery"
	"github.com/lifelink/lifelink/internal/realtime"
	"github.com/lifelink/lifelink/internal/services"
)

// ServiceOptions carries the collaborators shared by the domain services.
type ServiceOptions struct {
	Hub                 *realtime.Hub
	Channel             delivery.Channel
	Tasks               services.TaskSubmitter
	Cache               cache.Store
	StatsTTL            time.Duration
	BroadcastLimit      int
	DispatchConcurrency int
	DeliveryTimeout     time.Duration
	Clock               func() time.Time
}

// BuildServices wires every domain service against one database handle.
func BuildServices(db *gorm.DB, opts ServiceOptions) (Services, error) {
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	audit, err := services.NewAuditService(db, services.WithAuditClock(clock))
	if err != nil {
		return Services{}, err
	}
	directory, err := services.NewDonorDirectory(db)
	if err != nil {
		return Services{}, err
	}
	notifications, err := services.NewNotificationService(db, opts.Hub, services.WithNotificationClock(clock))
	if err != nil {
		return Services{}, err
	}
	requisitions, err := services.NewRequisitionService(db,
		services.WithRequisitionAudit(audit),
		services.WithRequisitionCache(opts.Cache),
		services.WithRequisitionHub(opts.Hub),
		services.WithRequisitionClock(clock),
	)
	if err != nil {
		return Services{}, err
	}
	matching, err := services.NewMatchingService(db, directory, services.WithMatchingClock(clock))
	if err != nil {
		return Services{}, err
	}
	dispatch, err := services.NewDispatchService(db, directory, matching,
		services.WithDispatchChannel(opts.Channel),
		services.WithDispatchAudit(audit),
		services.WithDispatchConcurrency(opts.DispatchConcurrency),
		services.WithDispatchMaxTargets(opts.BroadcastLimit),
		services.WithDispatchDeliveryTimeout(opts.DeliveryTimeout),
		services.WithDispatchClock(clock),
	)
	if err != nil {
		return Services{}, err
	}
	responses, err := services.NewResponseService(db, directory,
		services.WithResponseNotifications(notifications),
		services.WithResponseChannel(opts.Channel),
		services.WithResponseTasks(opts.Tasks),
		services.WithResponseDeliveryTimeout(opts.DeliveryTimeout),
		services.WithResponseAudit(audit),
		services.WithResponseCache(opts.Cache),
		services.WithResponseClock(clock),
	)
	if err != nil {
		return Services{}, err
	}
	profiles, err := services.NewBloodProfileService(db, directory,
		services.WithBloodProfileAudit(audit),
		services.WithBloodProfileCache(opts.Cache, opts.StatsTTL),
		services.WithBloodProfileClock(clock),
	)
	if err != nil {
		return Services{}, err
	}

	return Services{
		Profiles:      profiles,
		Requisitions:  requisitions,
		Matching:      matching,
		Dispatch:      dispatch,
		Responses:     responses,
		Notifications: notifications,
		Audit:         audit,
	}, nil
}
