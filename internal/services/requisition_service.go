package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lifelink/lifelink/internal/cache"
	"github.com/lifelink/lifelink/internal/lifelink"
	"github.com/lifelink/lifelink/internal/models"
	"github.com/lifelink/lifelink/internal/realtime"
	apperrors "github.com/lifelink/lifelink/pkg/errors"
	"github.com/lifelink/lifelink/pkg/logger"
	"github.com/lifelink/lifelink/pkg/metrics"
	"github.com/lifelink/lifelink/pkg/validator"
)

const (
	referenceAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"
	referenceLength   = 8
	referenceAttempts = 3

	maxUnitsNeeded = 10
)

// RequisitionDTO is the API view of a requisition. Contact fields are only filled for the
// requester or an administrator.
type RequisitionDTO struct {
	ID                 string                     `json:"id"`
	ReferenceCode      string                     `json:"reference_code"`
	RequesterID        string                     `json:"requester_id"`
	PatientName        string                     `json:"patient_name"`
	HospitalName       string                     `json:"hospital_name"`
	ContactNumber      string                     `json:"contact_number,omitempty"`
	AlternateNumber    string                     `json:"alternate_number,omitempty"`
	RequiredBloodGroup lifelink.BloodGroup        `json:"required_blood_group"`
	UnitsNeeded        int                        `json:"units_needed"`
	UrgencyLevel       lifelink.UrgencyLevel      `json:"urgency_level"`
	MedicalCondition   string                     `json:"medical_condition,omitempty"`
	Location           string                     `json:"location"`
	AdditionalNotes    string                     `json:"additional_notes,omitempty"`
	RequiredByDate     time.Time                  `json:"required_by_date"`
	ExpiresAt          time.Time                  `json:"expires_at"`
	AllowContactReveal bool                       `json:"allow_contact_reveal"`
	Status             lifelink.RequisitionStatus `json:"status"`
	IsActive           bool                       `json:"is_active"`
	ReuseCount         int                        `json:"reuse_count"`
	lifelink.TimeFlags
	Responses *ResponseCounts `json:"responses,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ResponseCounts summarises notifications and responses on one requisition.
type ResponseCounts struct {
	Notified     int64 `json:"notified"`
	Willing      int64 `json:"willing"`
	NotAvailable int64 `json:"not_available"`
	NotSuitable  int64 `json:"not_suitable"`
}

// CreateRequisitionInput carries the fields of a new requisition.
type CreateRequisitionInput struct {
	RequesterID        string
	PatientName        string
	HospitalName       string
	ContactNumber      string
	AlternateNumber    string
	RequiredBloodGroup string
	UnitsNeeded        int
	UrgencyLevel       string
	MedicalCondition   string
	Location           string
	AdditionalNotes    string
	RequiredByDate     time.Time
	AllowContactReveal *bool
}

// ListRequisitionsInput pages through a requester's own requisitions.
type ListRequisitionsInput struct {
	RequesterID string
	Status      string
	Page        int
	Limit       int
}

// UpdateStatusInput is a manual lifecycle transition.
type UpdateStatusInput struct {
	Status            string
	ExpectedUpdatedAt *time.Time
}

// ReuseInput reopens an expired requisition.
type ReuseInput struct {
	RequiredByDate    *time.Time
	ExpectedUpdatedAt *time.Time
}

// RequisitionService owns requisition persistence and lifecycle transitions.
type RequisitionService struct {
	db    *gorm.DB
	audit AuditSink
	cache cache.Store
	hub   *realtime.Hub
	now   func() time.Time
	log   *zap.Logger
}

// RequisitionOption customises RequisitionService.
type RequisitionOption func(*RequisitionService)

// WithRequisitionAudit sets the audit sink.
func WithRequisitionAudit(audit AuditSink) RequisitionOption {
	return func(s *RequisitionService) { s.audit = audit }
}

// WithRequisitionCache sets the store whose dashboard stats are invalidated on writes.
func WithRequisitionCache(store cache.Store) RequisitionOption {
	return func(s *RequisitionService) { s.cache = store }
}

// WithRequisitionHub publishes status changes on the requisitions stream.
func WithRequisitionHub(hub *realtime.Hub) RequisitionOption {
	return func(s *RequisitionService) { s.hub = hub }
}

// WithRequisitionClock overrides the clock (test helper).
func WithRequisitionClock(clock func() time.Time) RequisitionOption {
	return func(s *RequisitionService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewRequisitionService constructs a RequisitionService.
func NewRequisitionService(db *gorm.DB, opts ...RequisitionOption) (*RequisitionService, error) {
	if db == nil {
		return nil, errors.New("requisition service: db is required")
	}
	svc := &RequisitionService{
		db:  db,
		now: utcNow,
		log: logger.WithModule("requisitions"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Create validates and persists a new ACTIVE requisition.
func (s *RequisitionService) Create(ctx context.Context, input CreateRequisitionInput) (*RequisitionDTO, error) {
	ctx = ensureContext(ctx)
	now := dbTime(s.now())

	requesterID := strings.TrimSpace(input.RequesterID)
	if requesterID == "" {
		return nil, apperrors.ErrUnauthorized
	}

	var failures validator.ValidationErrors
	group, err := lifelink.ParseBloodGroup(input.RequiredBloodGroup)
	if err != nil {
		failures = append(failures, validator.Field("required_blood_group", "bloodgroup", ""))
	}
	units := input.UnitsNeeded
	if units == 0 {
		units = 1
	}
	if units < 1 {
		failures = append(failures, validator.Field("units_needed", "min", "1"))
	}
	if units > maxUnitsNeeded {
		failures = append(failures, validator.Field("units_needed", "max", fmt.Sprint(maxUnitsNeeded)))
	}
	urgency := lifelink.UrgencyLevel(strings.ToUpper(strings.TrimSpace(defaultIfEmpty(input.UrgencyLevel, string(lifelink.UrgencyHigh)))))
	if !urgency.Valid() {
		failures = append(failures, validator.Field("urgency_level", "oneof", "HIGH MEDIUM LOW"))
	}
	for _, field := range [][2]string{
		{"patient_name", input.PatientName},
		{"hospital_name", input.HospitalName},
		{"contact_number", input.ContactNumber},
		{"location", input.Location},
	} {
		if strings.TrimSpace(field[1]) == "" {
			failures = append(failures, validator.Field(field[0], "required", ""))
		}
	}
	requiredBy := dbTime(input.RequiredByDate)
	if input.RequiredByDate.IsZero() {
		failures = append(failures, validator.Field("required_by_date", "required", ""))
	} else if !requiredBy.After(now) {
		failures = append(failures, validator.Field("required_by_date", "future", ""))
	}
	if len(failures) > 0 {
		return nil, apperrors.NewValidation("", failures)
	}

	allowReveal := true
	if input.AllowContactReveal != nil {
		allowReveal = *input.AllowContactReveal
	}

	req := models.BloodRequisition{
		BaseModel:          models.BaseModel{CreatedAt: now, UpdatedAt: now},
		RequesterID:        requesterID,
		PatientName:        strings.TrimSpace(input.PatientName),
		HospitalName:       strings.TrimSpace(input.HospitalName),
		ContactNumber:      strings.TrimSpace(input.ContactNumber),
		AlternateNumber:    strings.TrimSpace(input.AlternateNumber),
		RequiredBloodGroup: group,
		UnitsNeeded:        units,
		UrgencyLevel:       urgency,
		MedicalCondition:   strings.TrimSpace(input.MedicalCondition),
		Location:           strings.TrimSpace(input.Location),
		AdditionalNotes:    strings.TrimSpace(input.AdditionalNotes),
		RequiredByDate:     requiredBy,
		ExpiresAt:          lifelink.ComputeExpiresAt(now, requiredBy),
		AllowContactReveal: allowReveal,
		Status:             lifelink.StatusActive,
	}

	for attempt := 1; ; attempt++ {
		code, err := gonanoid.Generate(referenceAlphabet, referenceLength)
		if err != nil {
			return nil, fmt.Errorf("requisition service: reference code: %w", err)
		}
		req.ID = ""
		req.ReferenceCode = code

		err = s.db.WithContext(ctx).Create(&req).Error
		if err == nil {
			break
		}
		if isUniqueConstraintError(err) && attempt < referenceAttempts {
			continue
		}
		return nil, fmt.Errorf("requisition service: create requisition: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:    actorRef(requesterID),
		Action:     "requisition.create",
		Resource:   "requisition",
		ResourceID: req.ID,
		Metadata: map[string]any{
			"reference_code":       req.ReferenceCode,
			"required_blood_group": req.RequiredBloodGroup,
			"urgency_level":        req.UrgencyLevel,
		},
	})
	invalidateStats(ctx, s.cache)

	dto := mapRequisition(req, now, true)
	return &dto, nil
}

// Get returns a requisition. Contact details are included only for the owner or an admin.
func (s *RequisitionService) Get(ctx context.Context, actor Actor, id string) (*RequisitionDTO, error) {
	ctx = ensureContext(ctx)
	req, err := findRequisition(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	full := actor.canManage(req.RequesterID)
	dto := mapRequisition(*req, s.now(), full)
	if full {
		counts, err := countResponses(ctx, s.db, []string{req.ID})
		if err != nil {
			return nil, err
		}
		dto.Responses = counts[req.ID]
	}
	return &dto, nil
}

// ListMine pages through the requester's requisitions, newest first, with response counts.
func (s *RequisitionService) ListMine(ctx context.Context, input ListRequisitionsInput) ([]RequisitionDTO, int64, error) {
	ctx = ensureContext(ctx)
	requesterID := strings.TrimSpace(input.RequesterID)
	if requesterID == "" {
		return nil, 0, apperrors.ErrUnauthorized
	}

	page := normalisePage(input.Page)
	limit := clampLimit(input.Limit, 20, 100)

	query := s.db.WithContext(ctx).Model(&models.BloodRequisition{}).Where("requester_id = ?", requesterID)
	if status := strings.ToUpper(strings.TrimSpace(input.Status)); status != "" {
		if !lifelink.RequisitionStatus(status).Valid() {
			return nil, 0, apperrors.NewValidation("", validator.ValidationErrors{
				validator.Field("status", "oneof", "ACTIVE FULFILLED EXPIRED CANCELLED"),
			})
		}
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("requisition service: count requisitions: %w", err)
	}

	var rows []models.BloodRequisition
	if err := query.Order("created_at DESC").Offset((page - 1) * limit).Limit(limit).Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("requisition service: list requisitions: %w", err)
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	counts, err := countResponses(ctx, s.db, ids)
	if err != nil {
		return nil, 0, err
	}

	now := s.now()
	items := make([]RequisitionDTO, 0, len(rows))
	for _, row := range rows {
		dto := mapRequisition(row, now, true)
		dto.Responses = counts[row.ID]
		if dto.Responses == nil {
			dto.Responses = &ResponseCounts{}
		}
		items = append(items, dto)
	}
	return items, total, nil
}

// UpdateStatus applies a manual transition out of ACTIVE with a compare-and-swap on
// (status, updated_at).
func (s *RequisitionService) UpdateStatus(ctx context.Context, actor Actor, id string, input UpdateStatusInput) (*RequisitionDTO, error) {
	ctx = ensureContext(ctx)
	target := lifelink.RequisitionStatus(strings.ToUpper(strings.TrimSpace(input.Status)))
	if !target.Valid() {
		return nil, apperrors.NewValidation("", validator.ValidationErrors{
			validator.Field("status", "oneof", "FULFILLED EXPIRED CANCELLED"),
		})
	}

	req, err := findRequisition(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if !actor.canManage(req.RequesterID) {
		return nil, ErrNotRequisitionOwner
	}
	if input.ExpectedUpdatedAt != nil && !req.UpdatedAt.Equal(*input.ExpectedUpdatedAt) {
		return nil, ErrRequisitionConflict.WithDetails(map[string]any{
			"status":     req.Status,
			"updated_at": req.UpdatedAt,
		})
	}
	if err := lifelink.ValidateTransition(req.Status, target); err != nil {
		return nil, ErrInvalidTransition.WithMessage(
			fmt.Sprintf("Cannot change status from %s to %s", req.Status, target))
	}

	now := dbTime(s.now())
	if err := s.compareAndSwap(ctx, req, map[string]any{
		"status":     target,
		"updated_at": now,
	}); err != nil {
		return nil, err
	}

	previous := req.Status
	req.Status = target
	req.UpdatedAt = now

	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:    actorRef(actor.UserID),
		Action:     "requisition.status",
		Resource:   "requisition",
		ResourceID: req.ID,
		Metadata:   map[string]any{"from": previous, "to": target},
	})
	invalidateStats(ctx, s.cache)
	s.publishStatus(req)

	dto := mapRequisition(*req, now, true)
	return &dto, nil
}

// Reuse moves an EXPIRED requisition back to ACTIVE with a fresh expiry window.
func (s *RequisitionService) Reuse(ctx context.Context, actor Actor, id string, input ReuseInput) (*RequisitionDTO, error) {
	ctx = ensureContext(ctx)
	req, err := findRequisition(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if !actor.canManage(req.RequesterID) {
		return nil, ErrNotRequisitionOwner
	}
	if input.ExpectedUpdatedAt != nil && !req.UpdatedAt.Equal(*input.ExpectedUpdatedAt) {
		return nil, ErrRequisitionConflict.WithDetails(map[string]any{
			"status":     req.Status,
			"updated_at": req.UpdatedAt,
		})
	}
	if err := lifelink.ValidateReuse(req.Status); err != nil {
		return nil, ErrInvalidTransition.WithMessage("Only expired requisitions can be reused")
	}

	now := dbTime(s.now())
	requiredBy := req.RequiredByDate
	if input.RequiredByDate != nil {
		requiredBy = dbTime(*input.RequiredByDate)
	}
	if !requiredBy.After(now) {
		return nil, apperrors.NewValidation("A new required by date in the future is needed to reuse this requisition",
			validator.ValidationErrors{validator.Field("required_by_date", "future", "")})
	}

	expiresAt := lifelink.ComputeExpiresAt(now, requiredBy)
	if err := s.compareAndSwap(ctx, req, map[string]any{
		"status":           lifelink.StatusActive,
		"required_by_date": requiredBy,
		"expires_at":       expiresAt,
		"reuse_count":      gorm.Expr("reuse_count + 1"),
		"updated_at":       now,
	}); err != nil {
		return nil, err
	}

	req.Status = lifelink.StatusActive
	req.RequiredByDate = requiredBy
	req.ExpiresAt = expiresAt
	req.ReuseCount++
	req.UpdatedAt = now

	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:    actorRef(actor.UserID),
		Action:     "requisition.reuse",
		Resource:   "requisition",
		ResourceID: req.ID,
		Metadata: map[string]any{
			"required_by_date": requiredBy,
			"expires_at":       expiresAt,
			"reuse_count":      req.ReuseCount,
		},
	})
	invalidateStats(ctx, s.cache)
	s.publishStatus(req)

	dto := mapRequisition(*req, now, true)
	return &dto, nil
}

// SweepExpired flips persisted ACTIVE rows whose expiry has passed to EXPIRED.
func (s *RequisitionService) SweepExpired(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)
	now := dbTime(s.now())

	result := s.db.WithContext(ctx).
		Model(&models.BloodRequisition{}).
		Where("status = ? AND expires_at < ?", lifelink.StatusActive, now).
		Updates(map[string]any{
			"status":     lifelink.StatusExpired,
			"updated_at": now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("requisition service: sweep expired: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		metrics.RequisitionsExpired.Add(float64(result.RowsAffected))
		s.log.Info("expired requisitions swept", zap.Int64("count", result.RowsAffected))
		recordAudit(s.audit, ctx, AuditEntry{
			Action:   "requisition.sweep",
			Resource: "requisition",
			Metadata: map[string]any{"expired": result.RowsAffected},
		})
		invalidateStats(ctx, s.cache)
	}
	return result.RowsAffected, nil
}

func (s *RequisitionService) compareAndSwap(ctx context.Context, req *models.BloodRequisition, updates map[string]any) error {
	result := s.db.WithContext(ctx).
		Model(&models.BloodRequisition{}).
		Where("id = ? AND status = ? AND updated_at = ?", req.ID, req.Status, req.UpdatedAt).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("requisition service: update requisition: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRequisitionConflict
	}
	return nil
}

func (s *RequisitionService) publishStatus(req *models.BloodRequisition) {
	if s.hub == nil {
		return
	}
	s.hub.SendToUser(realtime.StreamRequisitions, req.RequesterID, realtime.Message{
		Event: "requisition.status",
		Data: map[string]any{
			"id":         req.ID,
			"status":     req.Status,
			"expires_at": req.ExpiresAt,
		},
	})
}

func findRequisition(ctx context.Context, db *gorm.DB, id string) (*models.BloodRequisition, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrRequisitionNotFound
	}
	var req models.BloodRequisition
	err := db.WithContext(ctx).Take(&req, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRequisitionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load requisition: %w", err)
	}
	return &req, nil
}

func countResponses(ctx context.Context, db *gorm.DB, ids []string) (map[string]*ResponseCounts, error) {
	out := make(map[string]*ResponseCounts, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	for _, id := range ids {
		out[id] = &ResponseCounts{}
	}

	type responseRow struct {
		RequisitionID string
		Response      lifelink.ResponseType
		Total         int64
	}
	var responses []responseRow
	if err := db.WithContext(ctx).
		Model(&models.DonorResponse{}).
		Select("requisition_id, response, COUNT(*) AS total").
		Where("requisition_id IN ?", ids).
		Group("requisition_id, response").
		Scan(&responses).Error; err != nil {
		return nil, fmt.Errorf("count responses: %w", err)
	}
	for _, row := range responses {
		counts := out[row.RequisitionID]
		if counts == nil {
			continue
		}
		switch row.Response {
		case lifelink.ResponseWilling:
			counts.Willing = row.Total
		case lifelink.ResponseNotAvailable:
			counts.NotAvailable = row.Total
		case lifelink.ResponseNotSuitable:
			counts.NotSuitable = row.Total
		}
	}

	type notifiedRow struct {
		RequisitionID string
		Total         int64
	}
	var notified []notifiedRow
	if err := db.WithContext(ctx).
		Model(&models.DonorNotification{}).
		Select("requisition_id, COUNT(*) AS total").
		Where("requisition_id IN ?", ids).
		Group("requisition_id").
		Scan(&notified).Error; err != nil {
		return nil, fmt.Errorf("count notifications: %w", err)
	}
	for _, row := range notified {
		if counts := out[row.RequisitionID]; counts != nil {
			counts.Notified = row.Total
		}
	}
	return out, nil
}

func mapRequisition(row models.BloodRequisition, now time.Time, withContact bool) RequisitionDTO {
	dto := RequisitionDTO{
		ID:                 row.ID,
		ReferenceCode:      row.ReferenceCode,
		RequesterID:        row.RequesterID,
		PatientName:        row.PatientName,
		HospitalName:       row.HospitalName,
		RequiredBloodGroup: row.RequiredBloodGroup,
		UnitsNeeded:        row.UnitsNeeded,
		UrgencyLevel:       row.UrgencyLevel,
		MedicalCondition:   row.MedicalCondition,
		Location:           row.Location,
		AdditionalNotes:    row.AdditionalNotes,
		RequiredByDate:     row.RequiredByDate,
		ExpiresAt:          row.ExpiresAt,
		AllowContactReveal: row.AllowContactReveal,
		Status:             row.Status,
		IsActive:           row.EffectivelyActive(now),
		ReuseCount:         row.ReuseCount,
		TimeFlags:          lifelink.ComputeTimeFlags(row.RequiredByDate, row.ExpiresAt, now),
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}
	if withContact {
		dto.ContactNumber = row.ContactNumber
		dto.AlternateNumber = row.AlternateNumber
	}
	return dto
}
