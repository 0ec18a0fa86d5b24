package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/lifelink/lifelink/internal/cache"
	"github.com/lifelink/lifelink/internal/lifelink"
	"github.com/lifelink/lifelink/internal/models"
	apperrors "github.com/lifelink/lifelink/pkg/errors"
	"github.com/lifelink/lifelink/pkg/validator"
)

const (
	recentDonationsLimit = 5
	maxDonationUnits     = 5
)

// BloodProfile is a donor's own view of their blood profile.
type BloodProfile struct {
	UserID           string                `json:"user_id"`
	FullName         string                `json:"full_name"`
	BloodGroup       *lifelink.BloodGroup  `json:"blood_group"`
	IsBloodDonor     bool                  `json:"is_blood_donor"`
	ShowPhone        bool                  `json:"show_phone"`
	City             string                `json:"city,omitempty"`
	State            string                `json:"state,omitempty"`
	TotalDonations   int                   `json:"total_donations"`
	LastDonationDate *time.Time            `json:"last_donation_date"`
	Eligibility      lifelink.Eligibility  `json:"eligibility"`
	CanReceiveFrom   []lifelink.BloodGroup `json:"can_receive_from,omitempty"`
	CanDonateTo      []lifelink.BloodGroup `json:"can_donate_to,omitempty"`
	RecentDonations  []DonationDTO         `json:"recent_donations,omitempty"`
}

// UpdateBloodProfileInput carries the fields a donor may change. Nil fields are left alone.
type UpdateBloodProfileInput struct {
	BloodGroup   *string
	IsBloodDonor *bool
	ShowPhone    *bool
	City         *string
	State        *string
}

// DonationDTO is one logged donation.
type DonationDTO struct {
	ID           string    `json:"id"`
	DonorID      string    `json:"donor_id"`
	DonationDate time.Time `json:"donation_date"`
	Location     string    `json:"location"`
	Units        int       `json:"units"`
	Notes        string    `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// AddDonationInput logs a completed donation.
type AddDonationInput struct {
	DonorID      string
	DonationDate *time.Time
	Location     string
	Units        int
	Notes        string
}

// AddDonationResult returns the record and the donor's eligibility after it.
type AddDonationResult struct {
	Donation    DonationDTO          `json:"donation"`
	Eligibility lifelink.Eligibility `json:"eligibility"`
}

// DashboardInput filters the donor dashboard.
type DashboardInput struct {
	BloodGroup   string
	EligibleOnly bool
	Page         int
	Limit        int
}

// DashboardStats are the cached aggregates shown next to the donor list.
type DashboardStats struct {
	TotalDonors        int64        `json:"total_donors"`
	EligibleDonors     int64        `json:"eligible_donors"`
	ByBloodGroup       []GroupCount `json:"by_blood_group"`
	ActiveRequisitions int64        `json:"active_requisitions"`
	WillingResponses   int64        `json:"willing_responses"`
	GeneratedAt        time.Time    `json:"generated_at"`
}

// DashboardResult is a page of donor cards plus aggregate stats.
type DashboardResult struct {
	Donors []DonorCard     `json:"donors"`
	Page   int             `json:"page"`
	Limit  int             `json:"limit"`
	Total  int64           `json:"total"`
	Stats  *DashboardStats `json:"stats"`
}

// BloodProfileService manages donor profiles, the donation log and the dashboard.
type BloodProfileService struct {
	db        *gorm.DB
	directory DonorDirectory
	audit     AuditSink
	cache     cache.Store
	statsTTL  time.Duration
	now       func() time.Time
}

// BloodProfileOption customises BloodProfileService.
type BloodProfileOption func(*BloodProfileService)

// WithBloodProfileAudit sets the audit sink.
func WithBloodProfileAudit(audit AuditSink) BloodProfileOption {
	return func(s *BloodProfileService) { s.audit = audit }
}

// WithBloodProfileCache sets the store used for dashboard stats.
func WithBloodProfileCache(store cache.Store, ttl time.Duration) BloodProfileOption {
	return func(s *BloodProfileService) {
		s.cache = store
		if ttl > 0 {
			s.statsTTL = ttl
		}
	}
}

// WithBloodProfileClock overrides the clock (test helper).
func WithBloodProfileClock(clock func() time.Time) BloodProfileOption {
	return func(s *BloodProfileService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewBloodProfileService constructs a BloodProfileService.
func NewBloodProfileService(db *gorm.DB, directory DonorDirectory, opts ...BloodProfileOption) (*BloodProfileService, error) {
	if db == nil {
		return nil, errors.New("blood profile service: db is required")
	}
	if directory == nil {
		return nil, errors.New("blood profile service: donor directory is required")
	}
	svc := &BloodProfileService{
		db:        db,
		directory: directory,
		statsTTL:  DefaultStatsTTL,
		now:       utcNow,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// GetBloodProfile returns the profile, current eligibility and the most recent donations.
func (s *BloodProfileService) GetBloodProfile(ctx context.Context, userID string) (*BloodProfile, error) {
	ctx = ensureContext(ctx)
	user, err := s.directory.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var donations []models.BloodDonation
	if err := s.db.WithContext(ctx).
		Where("donor_id = ?", user.ID).
		Order("donation_date DESC").
		Limit(recentDonationsLimit).
		Find(&donations).Error; err != nil {
		return nil, fmt.Errorf("blood profile service: recent donations: %w", err)
	}

	profile := s.mapProfile(*user)
	profile.RecentDonations = mapDonations(donations)
	return &profile, nil
}

// UpdateBloodProfile changes the blood profile. Registering as a donor needs a blood group.
func (s *BloodProfileService) UpdateBloodProfile(ctx context.Context, userID string, input UpdateBloodProfileInput) (*BloodProfile, error) {
	ctx = ensureContext(ctx)
	user, err := s.directory.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	changed := make([]string, 0, 5)

	group := user.BloodGroup
	if input.BloodGroup != nil {
		parsed, err := lifelink.ParseBloodGroup(*input.BloodGroup)
		if err != nil {
			return nil, apperrors.NewValidation("", validator.ValidationErrors{
				validator.Field("blood_group", "bloodgroup", ""),
			})
		}
		group = &parsed
		updates["blood_group"] = parsed
		changed = append(changed, "blood_group")
	}
	if input.IsBloodDonor != nil {
		if *input.IsBloodDonor && group == nil {
			return nil, apperrors.NewValidation("Set your blood group before registering as a donor",
				validator.ValidationErrors{validator.Field("blood_group", "required", "")})
		}
		updates["is_blood_donor"] = *input.IsBloodDonor
		changed = append(changed, "is_blood_donor")
	}
	if input.ShowPhone != nil {
		updates["show_phone"] = *input.ShowPhone
		changed = append(changed, "show_phone")
	}
	if input.City != nil {
		updates["city"] = strings.TrimSpace(*input.City)
		changed = append(changed, "city")
	}
	if input.State != nil {
		updates["state"] = strings.TrimSpace(*input.State)
		changed = append(changed, "state")
	}

	if len(updates) > 0 {
		now := dbTime(s.now())
		updates["updated_at"] = now
		if err := s.db.WithContext(ctx).
			Model(&models.User{}).
			Where("id = ?", user.ID).
			Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("blood profile service: update profile: %w", err)
		}

		recordAudit(s.audit, ctx, AuditEntry{
			ActorID:    actorRef(user.ID),
			Action:     "profile.blood.update",
			Resource:   "user",
			ResourceID: user.ID,
			Metadata:   map[string]any{"fields": changed},
		})
		invalidateStats(ctx, s.cache)
	}

	return s.GetBloodProfile(ctx, user.ID)
}

// AddDonation logs a donation. The donor must be eligible; the counter update is conditional on
// eligibility so two concurrent logs cannot both pass.
func (s *BloodProfileService) AddDonation(ctx context.Context, input AddDonationInput) (*AddDonationResult, error) {
	ctx = ensureContext(ctx)
	now := dbTime(s.now())

	var failures validator.ValidationErrors
	location := strings.TrimSpace(input.Location)
	if location == "" {
		failures = append(failures, validator.Field("location", "required", ""))
	}
	units := input.Units
	if units == 0 {
		units = 1
	}
	if units < 1 {
		failures = append(failures, validator.Field("units", "min", "1"))
	}
	if units > maxDonationUnits {
		failures = append(failures, validator.Field("units", "max", fmt.Sprint(maxDonationUnits)))
	}
	donationDate := now
	if input.DonationDate != nil && !input.DonationDate.IsZero() {
		donationDate = dbTime(*input.DonationDate)
		if donationDate.After(now) {
			failures = append(failures, validator.Field("donation_date", "past", ""))
		}
	}
	if len(failures) > 0 {
		return nil, apperrors.NewValidation("", failures)
	}

	donor, err := s.directory.GetActiveDonor(ctx, input.DonorID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, ErrDonorNotEligible.WithMessage("Register as a blood donor before logging donations")
		}
		return nil, err
	}

	eligibility := lifelink.CheckEligibility(donor.LastDonationDate, now)
	if !eligibility.IsEligible {
		return nil, ErrDonorNotEligible.WithDetails(eligibility)
	}
	if donor.LastDonationDate != nil && donationDate.Before(*donor.LastDonationDate) {
		return nil, apperrors.NewValidation("Donation date cannot be before your last recorded donation",
			validator.ValidationErrors{validator.Field("donation_date", "min", donor.LastDonationDate.UTC().Format(time.DateOnly))})
	}

	record := models.BloodDonation{
		BaseModel:    models.BaseModel{CreatedAt: now, UpdatedAt: now},
		DonorID:      donor.ID,
		DonationDate: donationDate,
		Location:     location,
		Units:        units,
		Notes:        strings.TrimSpace(input.Notes),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.User{}).
			Where("id = ? AND (last_donation_date IS NULL OR last_donation_date <= ?)", donor.ID, eligibilityCutoff(now)).
			Updates(map[string]any{
				"last_donation_date": donationDate,
				"total_donations":    gorm.Expr("total_donations + 1"),
				"updated_at":         now,
			})
		if result.Error != nil {
			return fmt.Errorf("blood profile service: update donor: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrDonorNotEligible
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("blood profile service: create donation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		ActorID:    actorRef(donor.ID),
		Action:     "donation.create",
		Resource:   "donation",
		ResourceID: record.ID,
		Metadata: map[string]any{
			"donation_date": donationDate,
			"units":         units,
		},
	})
	invalidateStats(ctx, s.cache)

	return &AddDonationResult{
		Donation:    mapDonation(record),
		Eligibility: lifelink.CheckEligibility(&donationDate, now),
	}, nil
}

// ListDonations pages through a donor's donation history, newest first.
func (s *BloodProfileService) ListDonations(ctx context.Context, donorID string, page, limit int) ([]DonationDTO, int64, error) {
	ctx = ensureContext(ctx)
	donorID = strings.TrimSpace(donorID)
	if donorID == "" {
		return nil, 0, apperrors.ErrUnauthorized
	}
	page = normalisePage(page)
	limit = clampLimit(limit, 20, 100)

	query := s.db.WithContext(ctx).Model(&models.BloodDonation{}).Where("donor_id = ?", donorID)
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("blood profile service: count donations: %w", err)
	}

	var rows []models.BloodDonation
	if err := query.Order("donation_date DESC").Offset((page - 1) * limit).Limit(limit).Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("blood profile service: list donations: %w", err)
	}
	return mapDonations(rows), total, nil
}

// Dashboard pages through donors and attaches the cached aggregate stats.
func (s *BloodProfileService) Dashboard(ctx context.Context, input DashboardInput) (*DashboardResult, error) {
	ctx = ensureContext(ctx)
	now := s.now()

	query := DonorQuery{EligibleOnly: input.EligibleOnly, Now: now}
	if strings.TrimSpace(input.BloodGroup) != "" {
		group, err := lifelink.ParseBloodGroup(input.BloodGroup)
		if err != nil {
			return nil, apperrors.NewValidation("", validator.ValidationErrors{
				validator.Field("blood_group", "bloodgroup", ""),
			})
		}
		query.Groups = []lifelink.BloodGroup{group}
	}

	page := normalisePage(input.Page)
	limit := clampLimit(input.Limit, DefaultSearchLimit, MaxSearchLimit)

	total, err := s.directory.CountDonors(ctx, query)
	if err != nil {
		return nil, err
	}
	query.Limit = limit
	query.Offset = (page - 1) * limit
	users, err := s.directory.SearchDonors(ctx, query)
	if err != nil {
		return nil, err
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		return nil, err
	}

	return &DashboardResult{
		Donors: mapDonorCards(users, now),
		Page:   page,
		Limit:  limit,
		Total:  total,
		Stats:  stats,
	}, nil
}

// Stats returns the dashboard aggregates, served from cache while fresh.
func (s *BloodProfileService) Stats(ctx context.Context) (*DashboardStats, error) {
	ctx = ensureContext(ctx)
	if cached, ok := loadCachedStats(ctx, s.cache); ok {
		return cached, nil
	}

	now := s.now()
	stats := &DashboardStats{GeneratedAt: dbTime(now)}

	groups, err := s.directory.GroupCounts(ctx, now)
	if err != nil {
		return nil, err
	}
	stats.ByBloodGroup = groups

	if stats.TotalDonors, err = s.directory.CountDonors(ctx, DonorQuery{Now: now}); err != nil {
		return nil, err
	}
	if stats.EligibleDonors, err = s.directory.CountDonors(ctx, DonorQuery{EligibleOnly: true, Now: now}); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).
		Model(&models.BloodRequisition{}).
		Where("status = ? AND expires_at >= ?", lifelink.StatusActive, dbTime(now)).
		Count(&stats.ActiveRequisitions).Error; err != nil {
		return nil, fmt.Errorf("blood profile service: count active requisitions: %w", err)
	}
	if err := s.db.WithContext(ctx).
		Model(&models.DonorResponse{}).
		Where("response = ?", lifelink.ResponseWilling).
		Count(&stats.WillingResponses).Error; err != nil {
		return nil, fmt.Errorf("blood profile service: count willing responses: %w", err)
	}

	storeCachedStats(ctx, s.cache, stats, s.statsTTL)
	return stats, nil
}

func (s *BloodProfileService) mapProfile(user models.User) BloodProfile {
	profile := BloodProfile{
		UserID:           user.ID,
		FullName:         user.FullName,
		BloodGroup:       user.BloodGroup,
		IsBloodDonor:     user.IsBloodDonor,
		ShowPhone:        user.ShowPhone,
		City:             user.City,
		State:            user.State,
		TotalDonations:   user.TotalDonations,
		LastDonationDate: user.LastDonationDate,
		Eligibility:      lifelink.CheckEligibility(user.LastDonationDate, s.now()),
	}
	if user.BloodGroup != nil {
		profile.CanDonateTo = lifelink.CompatibleRecipients(*user.BloodGroup)
		profile.CanReceiveFrom = lifelink.CompatibleDonors(*user.BloodGroup)
	}
	return profile
}

func mapDonations(rows []models.BloodDonation) []DonationDTO {
	out := make([]DonationDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, mapDonation(row))
	}
	return out
}

func mapDonation(row models.BloodDonation) DonationDTO {
	return DonationDTO{
		ID:           row.ID,
		DonorID:      row.DonorID,
		DonationDate: row.DonationDate,
		Location:     row.Location,
		Units:        row.Units,
		Notes:        row.Notes,
		CreatedAt:    row.CreatedAt,
	}
}
