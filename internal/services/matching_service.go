package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lifelink/lifelink/internal/lifelink"
	"github.com/lifelink/lifelink/internal/models"
	apperrors "github.com/lifelink/lifelink/pkg/errors"
	"github.com/lifelink/lifelink/pkg/metrics"
	"github.com/lifelink/lifelink/pkg/validator"
)

// Search ceilings per call site.
const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 50
	MaxBroadcastLimit  = 200
)

// DonorCard is the public view of a compatible donor. It never carries contact details.
type DonorCard struct {
	ID               string               `json:"id"`
	FullName         string               `json:"full_name"`
	BloodGroup       lifelink.BloodGroup  `json:"blood_group"`
	City             string               `json:"city,omitempty"`
	State            string               `json:"state,omitempty"`
	Location         string               `json:"location,omitempty"`
	TotalDonations   int                  `json:"total_donations"`
	LastDonationDate *time.Time           `json:"last_donation_date,omitempty"`
	LastActiveAt     *time.Time           `json:"last_active_at,omitempty"`
	Eligibility      lifelink.Eligibility `json:"eligibility"`
}

// SearchDonorsInput describes a compatible donor search.
type SearchDonorsInput struct {
	RequiredGroup string
	Location      string
	Limit         int
	// MaxLimit is the caller's ceiling; zero means MaxSearchLimit.
	MaxLimit   int
	ExcludeIDs []string
	Source     string
}

// DiscoverInput pages the discovery feed.
type DiscoverInput struct {
	Urgency string
	Page    int
	Limit   int
}

// DiscoveredRequisition is one feed item annotated for the calling donor.
type DiscoveredRequisition struct {
	RequisitionDTO
	HasResponded bool                   `json:"has_responded"`
	MyResponse   *lifelink.ResponseType `json:"my_response,omitempty"`
	Notified     bool                   `json:"notified"`
}

// DiscoverResult is a page of the discovery feed.
type DiscoverResult struct {
	BloodGroup lifelink.BloodGroup     `json:"blood_group"`
	Items      []DiscoveredRequisition `json:"items"`
	Page       int                     `json:"page"`
	Limit      int                     `json:"limit"`
	Total      int64                   `json:"total"`
}

// MatchingService answers "who can give" and "what can I give to".
type MatchingService struct {
	db        *gorm.DB
	directory DonorDirectory
	now       func() time.Time
}

// MatchingOption customises MatchingService.
type MatchingOption func(*MatchingService)

// WithMatchingClock overrides the clock (test helper).
func WithMatchingClock(clock func() time.Time) MatchingOption {
	return func(s *MatchingService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewMatchingService constructs a MatchingService.
func NewMatchingService(db *gorm.DB, directory DonorDirectory, opts ...MatchingOption) (*MatchingService, error) {
	if db == nil {
		return nil, errors.New("matching service: db is required")
	}
	if directory == nil {
		return nil, errors.New("matching service: donor directory is required")
	}
	svc := &MatchingService{db: db, directory: directory, now: utcNow}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// FindAvailableDonors lists active donors compatible with the required group. Ineligible donors
// are kept and flagged by their eligibility.
func (s *MatchingService) FindAvailableDonors(ctx context.Context, input SearchDonorsInput) ([]DonorCard, error) {
	ctx = ensureContext(ctx)

	group, err := lifelink.ParseBloodGroup(input.RequiredGroup)
	if err != nil {
		return nil, apperrors.NewValidation("", validator.ValidationErrors{
			validator.Field("required_blood_group", "bloodgroup", ""),
		})
	}

	ceiling := input.MaxLimit
	if ceiling <= 0 {
		ceiling = MaxSearchLimit
	}
	now := s.now()

	users, err := s.directory.SearchDonors(ctx, DonorQuery{
		Groups:     lifelink.CompatibleDonors(group),
		Location:   input.Location,
		ExcludeIDs: input.ExcludeIDs,
		Limit:      clampLimit(input.Limit, DefaultSearchLimit, ceiling),
		Now:        now,
	})
	if err != nil {
		return nil, fmt.Errorf("matching service: %w", err)
	}

	source := defaultIfEmpty(input.Source, "search")
	metrics.DonorSearches.WithLabelValues(source).Inc()

	cards := mapDonorCards(users, now)
	sortDonorCards(cards)
	return cards, nil
}

// DiscoverRequisitions lists effectively active requisitions the donor can give to.
func (s *MatchingService) DiscoverRequisitions(ctx context.Context, donorID string, input DiscoverInput) (*DiscoverResult, error) {
	ctx = ensureContext(ctx)

	user, err := s.directory.GetUser(ctx, donorID)
	if err != nil {
		return nil, err
	}
	if user.BloodGroup == nil || !user.BloodGroup.Valid() {
		return nil, ErrBloodGroupRequired
	}

	page := normalisePage(input.Page)
	limit := clampLimit(input.Limit, DefaultSearchLimit, MaxSearchLimit)
	now := dbTime(s.now())

	query := s.db.WithContext(ctx).
		Model(&models.BloodRequisition{}).
		Where("status = ? AND expires_at >= ?", lifelink.StatusActive, now).
		Where("required_blood_group IN ?", lifelink.Strings(lifelink.CompatibleRecipients(*user.BloodGroup))).
		Where("requester_id <> ?", user.ID)

	if urgency := strings.ToUpper(strings.TrimSpace(input.Urgency)); urgency != "" {
		if !lifelink.UrgencyLevel(urgency).Valid() {
			return nil, apperrors.NewValidation("", validator.ValidationErrors{
				validator.Field("urgency_level", "oneof", "HIGH MEDIUM LOW"),
			})
		}
		query = query.Where("urgency_level = ?", urgency)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("matching service: count requisitions: %w", err)
	}

	var rows []models.BloodRequisition
	if err := query.
		Order(clause.OrderBy{Expression: clause.Expr{
			SQL:                "CASE urgency_level WHEN ? THEN 0 WHEN ? THEN 1 ELSE 2 END, required_by_date ASC, id",
			Vars:               []any{lifelink.UrgencyHigh, lifelink.UrgencyMedium},
			WithoutParentheses: true,
		}}).
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("matching service: list requisitions: %w", err)
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	responses, notified, err := s.donorActivity(ctx, user.ID, ids)
	if err != nil {
		return nil, err
	}

	items := make([]DiscoveredRequisition, 0, len(rows))
	for _, row := range rows {
		if !row.EffectivelyActive(now) {
			continue
		}
		item := DiscoveredRequisition{RequisitionDTO: mapRequisition(row, now, false)}
		if resp, ok := responses[row.ID]; ok {
			resp := resp
			item.HasResponded = true
			item.MyResponse = &resp
		}
		_, item.Notified = notified[row.ID]
		items = append(items, item)
	}

	return &DiscoverResult{
		BloodGroup: *user.BloodGroup,
		Items:      items,
		Page:       page,
		Limit:      limit,
		Total:      total,
	}, nil
}

func (s *MatchingService) donorActivity(ctx context.Context, donorID string, requisitionIDs []string) (map[string]lifelink.ResponseType, map[string]struct{}, error) {
	responses := make(map[string]lifelink.ResponseType)
	notified := make(map[string]struct{})
	if len(requisitionIDs) == 0 {
		return responses, notified, nil
	}

	var rows []models.DonorResponse
	if err := s.db.WithContext(ctx).
		Select("requisition_id", "response").
		Where("donor_id = ? AND requisition_id IN ?", donorID, requisitionIDs).
		Find(&rows).Error; err != nil {
		return nil, nil, fmt.Errorf("matching service: load responses: %w", err)
	}
	for _, row := range rows {
		responses[row.RequisitionID] = row.Response
	}

	var notifiedIDs []string
	if err := s.db.WithContext(ctx).
		Model(&models.DonorNotification{}).
		Where("donor_id = ? AND requisition_id IN ?", donorID, requisitionIDs).
		Pluck("requisition_id", &notifiedIDs).Error; err != nil {
		return nil, nil, fmt.Errorf("matching service: load notifications: %w", err)
	}
	for _, id := range notifiedIDs {
		notified[id] = struct{}{}
	}
	return responses, notified, nil
}

func mapDonorCards(users []models.User, now time.Time) []DonorCard {
	cards := make([]DonorCard, 0, len(users))
	for _, user := range users {
		cards = append(cards, mapDonorCard(user, now))
	}
	return cards
}

func mapDonorCard(user models.User, now time.Time) DonorCard {
	card := DonorCard{
		ID:               user.ID,
		FullName:         user.FullName,
		City:             user.City,
		State:            user.State,
		Location:         user.Location(),
		TotalDonations:   user.TotalDonations,
		LastDonationDate: user.LastDonationDate,
		LastActiveAt:     user.LastActiveAt,
		Eligibility:      lifelink.CheckEligibility(user.LastDonationDate, now),
	}
	if user.BloodGroup != nil {
		card.BloodGroup = *user.BloodGroup
	}
	return card
}

// sortDonorCards orders eligible donors first, then by donation count and recent activity.
func sortDonorCards(cards []DonorCard) {
	sort.SliceStable(cards, func(i, j int) bool {
		a, b := cards[i], cards[j]
		if a.Eligibility.IsEligible != b.Eligibility.IsEligible {
			return a.Eligibility.IsEligible
		}
		if a.TotalDonations != b.TotalDonations {
			return a.TotalDonations > b.TotalDonations
		}
		switch {
		case a.LastActiveAt == nil:
			return false
		case b.LastActiveAt == nil:
			return true
		default:
			return a.LastActiveAt.After(*b.LastActiveAt)
		}
	})
}
