package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lifelink/lifelink/internal/delivery"
	"github.com/lifelink/lifelink/internal/lifelink"
	"github.com/lifelink/lifelink/internal/models"
	apperrors "github.com/lifelink/lifelink/pkg/errors"
	"github.com/lifelink/lifelink/pkg/logger"
	"github.com/lifelink/lifelink/pkg/metrics"
	"github.com/lifelink/lifelink/pkg/validator"
)

const defaultDispatchConcurrency = 8

// DefaultDeliveryTimeout bounds one channel hand-off on the request path.
const DefaultDeliveryTimeout = 10 * time.Second

// DispatchResult counts what a fan-out achieved. Channel failures show up in Failed and never
// fail the call.
type DispatchResult struct {
	Requested       int `json:"requested"`
	Created         int `json:"created"`
	AlreadyNotified int `json:"already_notified"`
	Delivered       int `json:"delivered"`
	Failed          int `json:"failed"`
}

// DispatchService fans requisition alerts out to donors.
type DispatchService struct {
	db          *gorm.DB
	directory   DonorDirectory
	matching    *MatchingService
	channel     delivery.Channel
	audit       AuditSink
	now         func() time.Time
	concurrency int
	maxTargets  int
	timeout     time.Duration
	log         *zap.Logger
}

// DispatchOption customises DispatchService.
type DispatchOption func(*DispatchService)

// WithDispatchChannel sets the transport that reaches donors.
func WithDispatchChannel(ch delivery.Channel) DispatchOption {
	return func(s *DispatchService) { s.channel = ch }
}

// WithDispatchAudit sets the audit sink.
func WithDispatchAudit(audit AuditSink) DispatchOption {
	return func(s *DispatchService) { s.audit = audit }
}

// WithDispatchConcurrency bounds the number of parallel inserts and deliveries.
func WithDispatchConcurrency(n int) DispatchOption {
	return func(s *DispatchService) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithDispatchMaxTargets lowers the per-call recipient cap.
func WithDispatchMaxTargets(n int) DispatchOption {
	return func(s *DispatchService) {
		if n > 0 && n <= MaxBroadcastLimit {
			s.maxTargets = n
		}
	}
}

// WithDispatchDeliveryTimeout caps how long each donor delivery may block the fan-out.
func WithDispatchDeliveryTimeout(d time.Duration) DispatchOption {
	return func(s *DispatchService) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithDispatchClock overrides the clock (test helper).
func WithDispatchClock(clock func() time.Time) DispatchOption {
	return func(s *DispatchService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewDispatchService constructs a DispatchService.
func NewDispatchService(db *gorm.DB, directory DonorDirectory, matching *MatchingService, opts ...DispatchOption) (*DispatchService, error) {
	if db == nil {
		return nil, errors.New("dispatch service: db is required")
	}
	if directory == nil {
		return nil, errors.New("dispatch service: donor directory is required")
	}
	if matching == nil {
		return nil, errors.New("dispatch service: matching service is required")
	}
	svc := &DispatchService{
		db:          db,
		directory:   directory,
		matching:    matching,
		now:         utcNow,
		concurrency: defaultDispatchConcurrency,
		maxTargets:  MaxBroadcastLimit,
		timeout:     DefaultDeliveryTimeout,
		log:         logger.WithModule("dispatch"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// NotifySelected alerts an explicit list of donors. Every id must be an active donor or the
// whole call is rejected.
func (s *DispatchService) NotifySelected(ctx context.Context, actor Actor, requisitionID string, donorIDs []string, customMessage string) (*DispatchResult, error) {
	ctx = ensureContext(ctx)

	ids := normaliseIDs(donorIDs)
	if len(ids) == 0 {
		return nil, apperrors.NewValidation("Select at least one donor", validator.ValidationErrors{
			validator.Field("donor_ids", "min", "1"),
		})
	}
	if len(ids) > s.maxTargets {
		return nil, apperrors.NewValidation(fmt.Sprintf("At most %d donors can be notified at once", s.maxTargets),
			validator.ValidationErrors{validator.Field("donor_ids", "max", fmt.Sprint(s.maxTargets))})
	}

	req, err := s.loadDispatchable(ctx, actor, requisitionID)
	if err != nil {
		return nil, err
	}

	donors, err := s.directory.ActiveDonorsByID(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("dispatch service: %w", err)
	}
	found := make(map[string]struct{}, len(donors))
	for _, donor := range donors {
		if donor.ID != req.RequesterID {
			found[donor.ID] = struct{}{}
		}
	}
	var invalid []string
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			invalid = append(invalid, id)
		}
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return nil, apperrors.NewValidation("Some donors are not active registered donors", map[string]any{
			"invalid_donor_ids": invalid,
		})
	}

	result, err := s.fanOut(ctx, req, ids, customMessage)
	s.auditDispatch(ctx, actor, req, "selected", result, err)
	return result, err
}

// NotifyAll alerts every compatible donor, wherever they live, up to the broadcast cap.
func (s *DispatchService) NotifyAll(ctx context.Context, actor Actor, requisitionID string, customMessage string) (*DispatchResult, error) {
	ctx = ensureContext(ctx)

	req, err := s.loadDispatchable(ctx, actor, requisitionID)
	if err != nil {
		return nil, err
	}

	cards, err := s.matching.FindAvailableDonors(ctx, SearchDonorsInput{
		RequiredGroup: string(req.RequiredBloodGroup),
		Limit:         s.maxTargets,
		MaxLimit:      s.maxTargets,
		ExcludeIDs:    []string{req.RequesterID},
		Source:        "broadcast",
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(cards))
	for _, card := range cards {
		ids = append(ids, card.ID)
	}

	result, err := s.fanOut(ctx, req, ids, customMessage)
	s.auditDispatch(ctx, actor, req, "all", result, err)
	return result, err
}

func (s *DispatchService) loadDispatchable(ctx context.Context, actor Actor, requisitionID string) (*models.BloodRequisition, error) {
	req, err := findRequisition(ctx, s.db, requisitionID)
	if err != nil {
		return nil, err
	}
	if !actor.canManage(req.RequesterID) {
		return nil, ErrNotRequisitionOwner
	}
	if !req.EffectivelyActive(s.now()) {
		return nil, ErrRequisitionInactive
	}
	return req, nil
}

// fanOut inserts one notification per donor, skipping pairs that already exist, and hands new
// rows to the delivery channel. Inserts run in parallel under the concurrency bound.
func (s *DispatchService) fanOut(ctx context.Context, req *models.BloodRequisition, donorIDs []string, customMessage string) (*DispatchResult, error) {
	result := &DispatchResult{Requested: len(donorIDs)}
	if len(donorIDs) == 0 {
		return result, nil
	}

	title, message := requisitionAlertText(req, customMessage)
	priority := delivery.PriorityNormal
	if req.UrgencyLevel == lifelink.UrgencyHigh {
		priority = delivery.PriorityHigh
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.concurrency)

	for _, donorID := range donorIDs {
		donorID := donorID
		g.Go(func() error {
			row := models.DonorNotification{
				DonorID:       donorID,
				RequisitionID: req.ID,
				Title:         title,
				Message:       message,
				Status:        models.DonorNotificationSent,
			}
			res := s.db.WithContext(ctx).
				Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "donor_id"}, {Name: "requisition_id"}},
					DoNothing: true,
				}).
				Create(&row)
			if res.Error != nil {
				return fmt.Errorf("dispatch service: insert notification for %s: %w", donorID, res.Error)
			}

			if res.RowsAffected == 0 {
				metrics.NotificationsDispatched.WithLabelValues("existing").Inc()
				mu.Lock()
				result.AlreadyNotified++
				mu.Unlock()
				return nil
			}
			metrics.NotificationsDispatched.WithLabelValues("created").Inc()

			outcome := s.deliver(ctx, row, req, priority)
			mu.Lock()
			result.Created++
			switch outcome {
			case models.DonorNotificationDelivered:
				result.Delivered++
			case models.DonorNotificationFailed:
				result.Failed++
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}

	logger.Enrich(ctx, s.log).Info("requisition dispatched",
		zap.String("requisition_id", req.ID),
		zap.Int("requested", result.Requested),
		zap.Int("created", result.Created),
		zap.Int("already_notified", result.AlreadyNotified),
		zap.Int("delivered", result.Delivered),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// deliver hands one notification to the channel and records the outcome on the row. It returns
// the new status, or SENT when no endpoint was reachable and nothing failed.
func (s *DispatchService) deliver(ctx context.Context, row models.DonorNotification, req *models.BloodRequisition, priority delivery.Priority) string {
	if s.channel == nil {
		return models.DonorNotificationSent
	}

	deliverCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	reached, err := s.channel.Deliver(deliverCtx, delivery.Delivery{
		RecipientID: row.DonorID,
		Event:       "requisition.alert",
		Title:       row.Title,
		Message:     row.Message,
		Priority:    priority,
		Payload: map[string]any{
			"notification_id":      row.ID,
			"requisition_id":       req.ID,
			"reference_code":       req.ReferenceCode,
			"required_blood_group": req.RequiredBloodGroup,
			"urgency_level":        req.UrgencyLevel,
			"location":             req.Location,
			"required_by_date":     req.RequiredByDate,
		},
	})

	status := models.DonorNotificationSent
	switch {
	case reached > 0:
		status = models.DonorNotificationDelivered
		metrics.NotificationsDispatched.WithLabelValues("delivered").Inc()
		if err != nil {
			logger.Enrich(ctx, s.log).Debug("partial channel failure", zap.String("donor_id", row.DonorID), zap.Error(err))
		}
	case err != nil:
		status = models.DonorNotificationFailed
		metrics.NotificationsDispatched.WithLabelValues("failed").Inc()
		logger.Enrich(ctx, s.log).Warn("notification delivery failed",
			zap.String("donor_id", row.DonorID),
			zap.String("requisition_id", req.ID),
			zap.Error(err),
		)
	default:
		return status
	}

	if updateErr := s.db.WithContext(ctx).
		Model(&models.DonorNotification{}).
		Where("id = ? AND status = ?", row.ID, models.DonorNotificationSent).
		Update("status", status).Error; updateErr != nil {
		logger.Enrich(ctx, s.log).Warn("record delivery status", zap.String("notification_id", row.ID), zap.Error(updateErr))
	}
	return status
}

func (s *DispatchService) auditDispatch(ctx context.Context, actor Actor, req *models.BloodRequisition, mode string, result *DispatchResult, err error) {
	entry := AuditEntry{
		ActorID:    actorRef(actor.UserID),
		Action:     "requisition.dispatch",
		Resource:   "requisition",
		ResourceID: req.ID,
		Result:     AuditResultSuccess,
		Metadata:   map[string]any{"mode": mode},
	}
	if result != nil {
		entry.Metadata["requested"] = result.Requested
		entry.Metadata["created"] = result.Created
		entry.Metadata["already_notified"] = result.AlreadyNotified
		entry.Metadata["delivered"] = result.Delivered
		entry.Metadata["failed"] = result.Failed
	}
	if err != nil {
		entry.Result = AuditResultFailure
		entry.Metadata["error"] = err.Error()
	}
	recordAudit(s.audit, ctx, entry)
}

func requisitionAlertText(req *models.BloodRequisition, customMessage string) (string, string) {
	title := fmt.Sprintf("%s blood needed", req.RequiredBloodGroup)
	if req.UrgencyLevel == lifelink.UrgencyHigh {
		title = "Urgent: " + title
	}

	if msg := strings.TrimSpace(customMessage); msg != "" {
		return title, msg
	}

	units := "unit"
	if req.UnitsNeeded != 1 {
		units = "units"
	}
	return title, fmt.Sprintf("%s needs %d %s of %s blood at %s, %s. Required by %s.",
		req.PatientName,
		req.UnitsNeeded,
		units,
		req.RequiredBloodGroup,
		req.HospitalName,
		req.Location,
		req.RequiredByDate.UTC().Format("Jan 2, 15:04 MST"),
	)
}
