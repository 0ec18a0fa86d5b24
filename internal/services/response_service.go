package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lifelink/lifelink/internal/cache"
	"github.com/lifelink/lifelink/internal/delivery"
	"github.com/lifelink/lifelink/internal/lifelink"
	"github.com/lifelink/lifelink/internal/models"
	"github.com/lifelink/lifelink/internal/tasks"
	apperrors "github.com/lifelink/lifelink/pkg/errors"
	"github.com/lifelink/lifelink/pkg/logger"
	"github.com/lifelink/lifelink/pkg/metrics"
	"github.com/lifelink/lifelink/pkg/validator"
)

// TaskSubmitter runs work off the request path.
type TaskSubmitter interface {
	Submit(name string, fn tasks.Func) error
}

// ResponseDTO is a donor's recorded decision.
type ResponseDTO struct {
	ID                string                `json:"id"`
	DonorID           string                `json:"donor_id"`
	RequisitionID     string                `json:"requisition_id"`
	NotificationID    *string               `json:"notification_id,omitempty"`
	Response          lifelink.ResponseType `json:"response"`
	Message           string                `json:"message,omitempty"`
	RespondedAt       time.Time             `json:"responded_at"`
	ContactPhone      *string               `json:"contact_phone"`
	IsContactRevealed bool                  `json:"is_contact_revealed"`
}

// SeekerContact is shared with a WILLING donor when the requisition allows it.
type SeekerContact struct {
	PatientName     string `json:"patient_name"`
	HospitalName    string `json:"hospital_name"`
	ContactNumber   string `json:"contact_number"`
	AlternateNumber string `json:"alternate_number,omitempty"`
}

// RespondResult is what a donor gets back after responding.
type RespondResult struct {
	Response      ResponseDTO    `json:"response"`
	SeekerContact *SeekerContact `json:"seeker_contact,omitempty"`
}

// RespondInput is one donor decision.
type RespondInput struct {
	DonorID        string
	RequisitionID  string
	NotificationID *string
	Response       string
	Message        string
}

// WillingDonorDTO lists a WILLING donor for the requester.
type WillingDonorDTO struct {
	ResponseID        string               `json:"response_id"`
	DonorID           string               `json:"donor_id"`
	FullName          string               `json:"full_name"`
	BloodGroup        *lifelink.BloodGroup `json:"blood_group"`
	Location          string               `json:"location,omitempty"`
	TotalDonations    int                  `json:"total_donations"`
	Message           string               `json:"message,omitempty"`
	RespondedAt       time.Time            `json:"responded_at"`
	ContactPhone      *string              `json:"contact_phone"`
	IsContactRevealed bool                 `json:"is_contact_revealed"`
	Eligibility       lifelink.Eligibility `json:"eligibility"`
}

// ResponseService collects donor responses. Both entry points share one insert-or-reject path.
type ResponseService struct {
	db            *gorm.DB
	directory     DonorDirectory
	notifications *NotificationService
	channel       delivery.Channel
	tasks         TaskSubmitter
	audit         AuditSink
	cache         cache.Store
	now           func() time.Time
	timeout       time.Duration
	log           *zap.Logger
}

// ResponseOption customises ResponseService.
type ResponseOption func(*ResponseService)

// WithResponseNotifications sets the inbox that receives seeker alerts.
func WithResponseNotifications(n *NotificationService) ResponseOption {
	return func(s *ResponseService) { s.notifications = n }
}

// WithResponseChannel sets the transport used to push seeker alerts.
func WithResponseChannel(ch delivery.Channel) ResponseOption {
	return func(s *ResponseService) { s.channel = ch }
}

// WithResponseTasks sets the queue seeker alerts run on.
func WithResponseTasks(t TaskSubmitter) ResponseOption {
	return func(s *ResponseService) { s.tasks = t }
}

// WithResponseAudit sets the audit sink.
func WithResponseAudit(audit AuditSink) ResponseOption {
	return func(s *ResponseService) { s.audit = audit }
}

// WithResponseCache sets the store whose dashboard stats are invalidated on new responses.
func WithResponseCache(store cache.Store) ResponseOption {
	return func(s *ResponseService) { s.cache = store }
}

// WithResponseDeliveryTimeout caps a seeker alert that runs inline when no task queue is wired.
func WithResponseDeliveryTimeout(d time.Duration) ResponseOption {
	return func(s *ResponseService) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithResponseClock overrides the clock (test helper).
func WithResponseClock(clock func() time.Time) ResponseOption {
	return func(s *ResponseService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewResponseService constructs a ResponseService.
func NewResponseService(db *gorm.DB, directory DonorDirectory, opts ...ResponseOption) (*ResponseService, error) {
	if db == nil {
		return nil, errors.New("response service: db is required")
	}
	if directory == nil {
		return nil, errors.New("response service: donor directory is required")
	}
	svc := &ResponseService{
		db:        db,
		directory: directory,
		now:       utcNow,
		timeout:   DefaultDeliveryTimeout,
		log:       logger.WithModule("responses"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Respond records a donor's decision. The unique (donor, requisition) index decides races: the
// first insert wins and later attempts get ALREADY_RESPONDED carrying the stored decision.
func (s *ResponseService) Respond(ctx context.Context, input RespondInput) (*RespondResult, error) {
	ctx = ensureContext(ctx)

	response := lifelink.ResponseType(strings.ToUpper(strings.TrimSpace(input.Response)))
	if !response.Valid() {
		return nil, apperrors.NewValidation("", validator.ValidationErrors{
			validator.Field("response", "oneof", "WILLING NOT_AVAILABLE NOT_SUITABLE"),
		})
	}

	now := dbTime(s.now())
	req, err := findRequisition(ctx, s.db, input.RequisitionID)
	if err != nil {
		return nil, err
	}
	if !req.EffectivelyActive(now) {
		return nil, ErrRequisitionInactive
	}

	donor, err := s.directory.GetActiveDonor(ctx, input.DonorID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, ErrDonorNotEligible.WithMessage("Only active blood donors can respond to requisitions")
		}
		return nil, err
	}
	if donor.ID == req.RequesterID {
		return nil, apperrors.NewBadRequest("You cannot respond to your own requisition")
	}

	reveal := lifelink.ShouldRevealContact(response, req.AllowContactReveal, donor.ShowPhone)
	row := models.DonorResponse{
		DonorID:           donor.ID,
		RequisitionID:     req.ID,
		NotificationID:    input.NotificationID,
		Response:          response,
		Message:           strings.TrimSpace(input.Message),
		RespondedAt:       now,
		IsContactRevealed: reveal,
	}
	if reveal && donor.Phone != "" {
		phone := donor.Phone
		row.ContactPhone = &phone
	} else {
		row.IsContactRevealed = false
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if !isUniqueConstraintError(err) {
			return nil, fmt.Errorf("response service: create response: %w", err)
		}
		metrics.DuplicateResponses.Inc()
		existing, loadErr := s.loadResponse(ctx, donor.ID, req.ID)
		if loadErr != nil {
			return nil, loadErr
		}
		return nil, ErrAlreadyResponded.WithDetails(mapResponse(*existing))
	}
	metrics.DonorResponses.WithLabelValues(string(response)).Inc()

	s.markNotificationRead(ctx, donor.ID, req.ID, now)

	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:    actorRef(donor.ID),
		Action:     "requisition.respond",
		Resource:   "requisition",
		ResourceID: req.ID,
		Metadata: map[string]any{
			"response":            response,
			"is_contact_revealed": row.IsContactRevealed,
		},
	})

	invalidateStats(ctx, s.cache)
	s.alertSeeker(*req, *donor, row)

	result := &RespondResult{Response: mapResponse(row)}
	if response == lifelink.ResponseWilling && req.AllowContactReveal {
		result.SeekerContact = &SeekerContact{
			PatientName:     req.PatientName,
			HospitalName:    req.HospitalName,
			ContactNumber:   req.ContactNumber,
			AlternateNumber: req.AlternateNumber,
		}
	}
	return result, nil
}

// RespondToNotification resolves the donor's notification and records the decision through
// Respond.
func (s *ResponseService) RespondToNotification(ctx context.Context, donorID, notificationID, response, message string) (*RespondResult, error) {
	ctx = ensureContext(ctx)

	var notification models.DonorNotification
	err := s.db.WithContext(ctx).
		Take(&notification, "id = ? AND donor_id = ?", strings.TrimSpace(notificationID), strings.TrimSpace(donorID)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound.WithMessage("Notification not found")
	}
	if err != nil {
		return nil, fmt.Errorf("response service: load notification: %w", err)
	}

	id := notification.ID
	return s.Respond(ctx, RespondInput{
		DonorID:        donorID,
		RequisitionID:  notification.RequisitionID,
		NotificationID: &id,
		Response:       response,
		Message:        message,
	})
}

// GetMyResponse returns the donor's decision on a requisition.
func (s *ResponseService) GetMyResponse(ctx context.Context, donorID, requisitionID string) (*ResponseDTO, error) {
	ctx = ensureContext(ctx)
	row, err := s.loadResponse(ctx, donorID, requisitionID)
	if err != nil {
		return nil, err
	}
	dto := mapResponse(*row)
	return &dto, nil
}

// GetWillingDonors lists WILLING responses for the requester or an admin. Phones appear only
// where the donor's contact was revealed.
func (s *ResponseService) GetWillingDonors(ctx context.Context, actor Actor, requisitionID string) ([]WillingDonorDTO, error) {
	ctx = ensureContext(ctx)

	req, err := findRequisition(ctx, s.db, requisitionID)
	if err != nil {
		return nil, err
	}
	if !actor.canManage(req.RequesterID) {
		return nil, ErrNotRequisitionOwner
	}

	var rows []models.DonorResponse
	if err := s.db.WithContext(ctx).
		Preload("Donor").
		Where("requisition_id = ? AND response = ?", req.ID, lifelink.ResponseWilling).
		Order("responded_at ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("response service: list willing donors: %w", err)
	}

	now := s.now()
	out := make([]WillingDonorDTO, 0, len(rows))
	for _, row := range rows {
		item := WillingDonorDTO{
			ResponseID:        row.ID,
			DonorID:           row.DonorID,
			Message:           row.Message,
			RespondedAt:       row.RespondedAt,
			IsContactRevealed: row.IsContactRevealed,
		}
		if row.IsContactRevealed {
			item.ContactPhone = row.ContactPhone
		}
		if row.Donor != nil {
			item.FullName = row.Donor.FullName
			item.BloodGroup = row.Donor.BloodGroup
			item.Location = row.Donor.Location()
			item.TotalDonations = row.Donor.TotalDonations
			item.Eligibility = lifelink.CheckEligibility(row.Donor.LastDonationDate, now)
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *ResponseService) loadResponse(ctx context.Context, donorID, requisitionID string) (*models.DonorResponse, error) {
	var row models.DonorResponse
	err := s.db.WithContext(ctx).
		Take(&row, "donor_id = ? AND requisition_id = ?", strings.TrimSpace(donorID), strings.TrimSpace(requisitionID)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound.WithMessage("No response recorded")
	}
	if err != nil {
		return nil, fmt.Errorf("response service: load response: %w", err)
	}
	return &row, nil
}

func (s *ResponseService) markNotificationRead(ctx context.Context, donorID, requisitionID string, now time.Time) {
	if err := s.db.WithContext(ctx).
		Model(&models.DonorNotification{}).
		Where("donor_id = ? AND requisition_id = ? AND status <> ?", donorID, requisitionID, models.DonorNotificationRead).
		Updates(map[string]any{
			"status":  models.DonorNotificationRead,
			"read_at": now,
		}).Error; err != nil {
		logger.Enrich(ctx, s.log).Warn("mark notification read", zap.String("donor_id", donorID), zap.Error(err))
	}
}

// alertSeeker tells the requester about the response off the request path.
func (s *ResponseService) alertSeeker(req models.BloodRequisition, donor models.User, row models.DonorResponse) {
	if s.notifications == nil && s.channel == nil {
		return
	}

	title, message := seekerAlertText(req, donor, row)
	metadata := map[string]any{
		"requisition_id": req.ID,
		"reference_code": req.ReferenceCode,
		"response_id":    row.ID,
		"donor_id":       donor.ID,
		"response":       row.Response,
	}

	task := func(ctx context.Context) error {
		var errs []error
		if s.notifications != nil {
			if _, err := s.notifications.Create(ctx, CreateNotificationInput{
				UserID:   req.RequesterID,
				Type:     "requisition.response",
				Title:    title,
				Message:  message,
				Severity: seekerAlertSeverity(row.Response),
				Metadata: metadata,
			}); err != nil {
				errs = append(errs, err)
			}
		}
		if s.channel != nil {
			if _, err := s.channel.Deliver(ctx, delivery.Delivery{
				RecipientID: req.RequesterID,
				Event:       "requisition.response",
				Title:       title,
				Message:     message,
				Payload:     metadata,
				Priority:    delivery.PriorityNormal,
			}); err != nil {
				errs = append(errs, err)
			}
		}
		return multierr.Combine(errs...)
	}

	if s.tasks == nil {
		inlineCtx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := task(inlineCtx); err != nil {
			s.log.Warn("seeker alert failed", zap.String("requisition_id", req.ID), zap.Error(err))
		}
		return
	}
	if err := s.tasks.Submit("seeker_alert", task); err != nil {
		s.log.Warn("seeker alert not queued", zap.String("requisition_id", req.ID), zap.Error(err))
	}
}

func seekerAlertText(req models.BloodRequisition, donor models.User, row models.DonorResponse) (string, string) {
	name := defaultIfEmpty(donor.FullName, "A donor")
	group := "unknown group"
	if donor.BloodGroup != nil {
		group = donor.BloodGroup.String()
	}

	switch row.Response {
	case lifelink.ResponseWilling:
		message := fmt.Sprintf("%s (%s) is willing to donate for %s.", name, group, req.PatientName)
		if row.IsContactRevealed && row.ContactPhone != nil {
			message += fmt.Sprintf(" You can reach them at %s.", *row.ContactPhone)
		} else {
			message += " They will contact you through the hospital."
		}
		return "A donor is willing to help", message
	case lifelink.ResponseNotSuitable:
		return "Donor response received", fmt.Sprintf("%s reported they are not suitable to donate for %s.", name, req.PatientName)
	default:
		return "Donor response received", fmt.Sprintf("%s is not available to donate for %s right now.", name, req.PatientName)
	}
}

func seekerAlertSeverity(response lifelink.ResponseType) string {
	if response == lifelink.ResponseWilling {
		return "success"
	}
	return "info"
}

func mapResponse(row models.DonorResponse) ResponseDTO {
	return ResponseDTO{
		ID:                row.ID,
		DonorID:           row.DonorID,
		RequisitionID:     row.RequisitionID,
		NotificationID:    row.NotificationID,
		Response:          row.Response,
		Message:           row.Message,
		RespondedAt:       row.RespondedAt,
		ContactPhone:      row.ContactPhone,
		IsContactRevealed: row.IsContactRevealed,
	}
}
