package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/lifelink/lifelink/internal/lifelink"
	"github.com/lifelink/lifelink/internal/models"
	"github.com/lifelink/lifelink/internal/realtime"
	apperrors "github.com/lifelink/lifelink/pkg/errors"
)

// NotificationDTO represents the API-friendly inbox entry.
type NotificationDTO struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Severity  string         `json:"severity"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	IsRead    bool           `json:"is_read"`
	CreatedAt time.Time      `json:"created_at"`
	ReadAt    *time.Time     `json:"read_at,omitempty"`
}

// CreateNotificationInput defines attributes required to persist an inbox entry.
type CreateNotificationInput struct {
	UserID   string
	Type     string
	Title    string
	Message  string
	Severity string
	Metadata map[string]any
}

// ListNotificationsInput defines filters for querying notifications.
type ListNotificationsInput struct {
	UserID     string
	UnreadOnly bool
	Limit      int
	Offset     int
}

// DonorNotificationDTO is a requisition alert as the donor sees it.
type DonorNotificationDTO struct {
	ID            string                   `json:"id"`
	RequisitionID string                   `json:"requisition_id"`
	Title         string                   `json:"title"`
	Message       string                   `json:"message"`
	Status        string                   `json:"status"`
	ReadAt        *time.Time               `json:"read_at,omitempty"`
	CreatedAt     time.Time                `json:"created_at"`
	Requisition   *NotificationRequisition `json:"requisition,omitempty"`
}

// NotificationRequisition summarises the requisition behind a donor alert.
type NotificationRequisition struct {
	ReferenceCode      string                     `json:"reference_code"`
	RequiredBloodGroup lifelink.BloodGroup        `json:"required_blood_group"`
	UrgencyLevel       lifelink.UrgencyLevel      `json:"urgency_level"`
	HospitalName       string                     `json:"hospital_name"`
	Location           string                     `json:"location"`
	Status             lifelink.RequisitionStatus `json:"status"`
	IsActive           bool                       `json:"is_active"`
	lifelink.TimeFlags
}

// NotificationEventPayload represents data sent to realtime consumers.
type NotificationEventPayload struct {
	Notification   *NotificationDTO `json:"notification,omitempty"`
	NotificationID string           `json:"notification_id,omitempty"`
}

// NotificationService manages the seeker inbox and the donor's requisition alerts.
type NotificationService struct {
	db  *gorm.DB
	hub *realtime.Hub
	now func() time.Time
}

// NotificationOption customises NotificationService.
type NotificationOption func(*NotificationService)

// WithNotificationClock overrides the clock (test helper).
func WithNotificationClock(clock func() time.Time) NotificationOption {
	return func(s *NotificationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewNotificationService constructs a NotificationService.
func NewNotificationService(db *gorm.DB, hub *realtime.Hub, opts ...NotificationOption) (*NotificationService, error) {
	if db == nil {
		return nil, errors.New("notification service: db is required")
	}
	svc := &NotificationService{db: db, hub: hub, now: utcNow}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// ListForUser returns inbox entries for the supplied user ordered by recency.
func (s *NotificationService) ListForUser(ctx context.Context, input ListNotificationsInput) ([]NotificationDTO, error) {
	ctx = ensureContext(ctx)
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return nil, errors.New("notification service: user id is required")
	}

	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if input.UnreadOnly {
		query = query.Where("is_read = ?", false)
	}

	var rows []models.Notification
	if err := query.
		Order("created_at DESC").
		Limit(clampLimit(input.Limit, 25, 100)).
		Offset(max(0, input.Offset)).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("notification service: list notifications: %w", err)
	}

	items := make([]NotificationDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapNotification(row))
	}
	return items, nil
}

// UnreadCount returns the number of unread inbox entries.
func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	ctx = ensureContext(ctx)
	var total int64
	if err := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", strings.TrimSpace(userID), false).
		Count(&total).Error; err != nil {
		return 0, fmt.Errorf("notification service: count unread: %w", err)
	}
	return total, nil
}

// Create registers a new inbox entry and broadcasts it to the user's live sessions.
func (s *NotificationService) Create(ctx context.Context, input CreateNotificationInput) (*NotificationDTO, error) {
	ctx = ensureContext(ctx)
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return nil, errors.New("notification service: user id is required")
	}
	notificationType := strings.TrimSpace(input.Type)
	if notificationType == "" {
		return nil, errors.New("notification service: type is required")
	}

	now := dbTime(s.now())
	notification := models.Notification{
		BaseModel: models.BaseModel{CreatedAt: now, UpdatedAt: now},
		UserID:    userID,
		Type:      notificationType,
		Title:     strings.TrimSpace(input.Title),
		Message:   strings.TrimSpace(input.Message),
		Severity:  strings.TrimSpace(defaultIfEmpty(input.Severity, "info")),
	}

	if input.Metadata != nil {
		data, err := json.Marshal(input.Metadata)
		if err != nil {
			return nil, fmt.Errorf("notification service: marshal metadata: %w", err)
		}
		notification.Metadata = datatypes.JSON(data)
	}

	if err := s.db.WithContext(ctx).Create(&notification).Error; err != nil {
		return nil, fmt.Errorf("notification service: create notification: %w", err)
	}

	dto := mapNotification(notification)
	s.broadcast(userID, "notification.created", &NotificationEventPayload{Notification: &dto})
	return &dto, nil
}

// MarkRead sets the read flag on one of the user's inbox entries.
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID string) (*NotificationDTO, error) {
	ctx = ensureContext(ctx)
	var notification models.Notification
	if err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", notificationID, userID).
		First(&notification).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound.WithMessage("Notification not found")
		}
		return nil, fmt.Errorf("notification service: load notification: %w", err)
	}

	if !notification.IsRead {
		now := dbTime(s.now())
		if err := s.db.WithContext(ctx).Model(&notification).
			Updates(map[string]any{
				"is_read":    true,
				"read_at":    now,
				"updated_at": now,
			}).Error; err != nil {
			return nil, fmt.Errorf("notification service: mark read: %w", err)
		}
		notification.IsRead = true
		notification.ReadAt = &now
	}

	dto := mapNotification(notification)
	s.broadcast(userID, "notification.read", &NotificationEventPayload{
		Notification:   &dto,
		NotificationID: notification.ID,
	})
	return &dto, nil
}

// MarkAllRead marks all of the user's inbox entries as read.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	ctx = ensureContext(ctx)
	now := dbTime(s.now())
	result := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Updates(map[string]any{
			"is_read":    true,
			"read_at":    now,
			"updated_at": now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("notification service: mark all read: %w", result.Error)
	}

	s.broadcast(userID, "notification.read_all", nil)
	return result.RowsAffected, nil
}

// ListDonorAlerts returns the requisition alerts a donor received, newest first.
func (s *NotificationService) ListDonorAlerts(ctx context.Context, input ListNotificationsInput) ([]DonorNotificationDTO, error) {
	ctx = ensureContext(ctx)
	donorID := strings.TrimSpace(input.UserID)
	if donorID == "" {
		return nil, errors.New("notification service: donor id is required")
	}

	query := s.db.WithContext(ctx).Preload("Requisition").Where("donor_id = ?", donorID)
	if input.UnreadOnly {
		query = query.Where("status <> ?", models.DonorNotificationRead)
	}

	var rows []models.DonorNotification
	if err := query.
		Order("created_at DESC").
		Limit(clampLimit(input.Limit, 25, 100)).
		Offset(max(0, input.Offset)).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("notification service: list donor alerts: %w", err)
	}

	now := s.now()
	items := make([]DonorNotificationDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapDonorNotification(row, now))
	}
	return items, nil
}

// MarkDonorAlertRead marks one of the donor's requisition alerts as READ.
func (s *NotificationService) MarkDonorAlertRead(ctx context.Context, donorID, notificationID string) (*DonorNotificationDTO, error) {
	ctx = ensureContext(ctx)
	var row models.DonorNotification
	err := s.db.WithContext(ctx).
		Preload("Requisition").
		Take(&row, "id = ? AND donor_id = ?", strings.TrimSpace(notificationID), strings.TrimSpace(donorID)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound.WithMessage("Notification not found")
	}
	if err != nil {
		return nil, fmt.Errorf("notification service: load donor alert: %w", err)
	}

	if row.Status != models.DonorNotificationRead {
		now := dbTime(s.now())
		if err := s.db.WithContext(ctx).
			Model(&models.DonorNotification{}).
			Where("id = ?", row.ID).
			Updates(map[string]any{
				"status":  models.DonorNotificationRead,
				"read_at": now,
			}).Error; err != nil {
			return nil, fmt.Errorf("notification service: mark donor alert read: %w", err)
		}
		row.Status = models.DonorNotificationRead
		row.ReadAt = &now
	}

	dto := mapDonorNotification(row, s.now())
	return &dto, nil
}

func (s *NotificationService) broadcast(userID, event string, payload *NotificationEventPayload) {
	if s.hub == nil {
		return
	}
	message := realtime.Message{
		Stream: realtime.StreamSeekerInbox,
		Event:  event,
	}
	if payload != nil {
		message.Data = payload
	}
	s.hub.SendToUser(realtime.StreamSeekerInbox, userID, message)
}

func mapNotification(row models.Notification) NotificationDTO {
	return NotificationDTO{
		ID:        row.ID,
		UserID:    row.UserID,
		Type:      row.Type,
		Title:     row.Title,
		Message:   row.Message,
		Severity:  defaultIfEmpty(row.Severity, "info"),
		Metadata:  decodeJSON(row.Metadata),
		IsRead:    row.IsRead,
		CreatedAt: row.CreatedAt,
		ReadAt:    row.ReadAt,
	}
}

func mapDonorNotification(row models.DonorNotification, now time.Time) DonorNotificationDTO {
	dto := DonorNotificationDTO{
		ID:            row.ID,
		RequisitionID: row.RequisitionID,
		Title:         row.Title,
		Message:       row.Message,
		Status:        row.Status,
		ReadAt:        row.ReadAt,
		CreatedAt:     row.CreatedAt,
	}
	if req := row.Requisition; req != nil {
		dto.Requisition = &NotificationRequisition{
			ReferenceCode:      req.ReferenceCode,
			RequiredBloodGroup: req.RequiredBloodGroup,
			UrgencyLevel:       req.UrgencyLevel,
			HospitalName:       req.HospitalName,
			Location:           req.Location,
			Status:             req.Status,
			IsActive:           req.EffectivelyActive(now),
			TimeFlags:          lifelink.ComputeTimeFlags(req.RequiredByDate, req.ExpiresAt, now),
		}
	}
	return dto
}

func decodeJSON(data datatypes.JSON) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
