package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lifelink/lifelink/internal/lifelink"
	"github.com/lifelink/lifelink/internal/models"
	apperrors "github.com/lifelink/lifelink/pkg/errors"
)

// DonorQuery filters the active donor pool.
type DonorQuery struct {
	Groups       []lifelink.BloodGroup
	Location     string
	EligibleOnly bool
	ExcludeIDs   []string
	Limit        int
	Offset       int
	// Now anchors the eligibility ordering; zero means time.Now.
	Now time.Time
}

// GroupCount is one row of the donor distribution by blood group.
type GroupCount struct {
	BloodGroup lifelink.BloodGroup `json:"blood_group"`
	Donors     int64               `json:"donors"`
	Eligible   int64               `json:"eligible"`
}

// DonorDirectory is the read-only view of the user store the engine works against.
type DonorDirectory interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetActiveDonor(ctx context.Context, id string) (*models.User, error)
	ActiveDonorsByID(ctx context.Context, ids []string) ([]models.User, error)
	SearchDonors(ctx context.Context, q DonorQuery) ([]models.User, error)
	CountDonors(ctx context.Context, q DonorQuery) (int64, error)
	GroupCounts(ctx context.Context, now time.Time) ([]GroupCount, error)
}

// GormDonorDirectory reads donors from the users table.
type GormDonorDirectory struct {
	db *gorm.DB
}

// NewDonorDirectory constructs a GormDonorDirectory.
func NewDonorDirectory(db *gorm.DB) (*GormDonorDirectory, error) {
	if db == nil {
		return nil, errors.New("donor directory: db is required")
	}
	return &GormDonorDirectory{db: db}, nil
}

// GetUser loads any user by id.
func (d *GormDonorDirectory) GetUser(ctx context.Context, id string) (*models.User, error) {
	ctx = ensureContext(ctx)
	var user models.User
	err := d.db.WithContext(ctx).Take(&user, "id = ?", strings.TrimSpace(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound.WithMessage("User not found")
	}
	if err != nil {
		return nil, fmt.Errorf("donor directory: load user: %w", err)
	}
	return &user, nil
}

// GetActiveDonor loads a user only when they are an active registered donor.
func (d *GormDonorDirectory) GetActiveDonor(ctx context.Context, id string) (*models.User, error) {
	ctx = ensureContext(ctx)
	var user models.User
	err := d.activeDonors(ctx).Take(&user, "id = ?", strings.TrimSpace(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound.WithMessage("Donor not found")
	}
	if err != nil {
		return nil, fmt.Errorf("donor directory: load donor: %w", err)
	}
	return &user, nil
}

// ActiveDonorsByID returns the subset of ids that are active donors. Missing ids are simply absent.
func (d *GormDonorDirectory) ActiveDonorsByID(ctx context.Context, ids []string) ([]models.User, error) {
	ctx = ensureContext(ctx)
	ids = normaliseIDs(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	var users []models.User
	if err := d.activeDonors(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("donor directory: load donors: %w", err)
	}
	return users, nil
}

// SearchDonors returns active donors ordered eligible first, then by donation count and activity.
func (d *GormDonorDirectory) SearchDonors(ctx context.Context, q DonorQuery) ([]models.User, error) {
	ctx = ensureContext(ctx)
	if q.Groups != nil && len(q.Groups) == 0 {
		return nil, nil
	}

	cutoff := eligibilityCutoff(q.Now)
	query := d.applyQuery(d.activeDonors(ctx), q, cutoff).
		Order(donorRanking(cutoff))

	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	if q.Offset > 0 {
		query = query.Offset(q.Offset)
	}

	var users []models.User
	if err := query.Find(&users).Error; err != nil {
		return nil, fmt.Errorf("donor directory: search donors: %w", err)
	}
	return users, nil
}

// CountDonors counts the donors SearchDonors would page through.
func (d *GormDonorDirectory) CountDonors(ctx context.Context, q DonorQuery) (int64, error) {
	ctx = ensureContext(ctx)
	if q.Groups != nil && len(q.Groups) == 0 {
		return 0, nil
	}
	var total int64
	query := d.applyQuery(d.activeDonors(ctx).Model(&models.User{}), q, eligibilityCutoff(q.Now))
	if err := query.Count(&total).Error; err != nil {
		return 0, fmt.Errorf("donor directory: count donors: %w", err)
	}
	return total, nil
}

// GroupCounts returns donor and eligible-donor counts per blood group.
func (d *GormDonorDirectory) GroupCounts(ctx context.Context, now time.Time) ([]GroupCount, error) {
	ctx = ensureContext(ctx)
	cutoff := eligibilityCutoff(now)

	var rows []GroupCount
	err := d.activeDonors(ctx).
		Model(&models.User{}).
		Select("blood_group, COUNT(*) AS donors, "+
			"SUM(CASE WHEN last_donation_date IS NULL OR last_donation_date <= ? THEN 1 ELSE 0 END) AS eligible", cutoff).
		Where("blood_group IS NOT NULL").
		Group("blood_group").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("donor directory: group counts: %w", err)
	}
	return rows, nil
}

func (d *GormDonorDirectory) activeDonors(ctx context.Context) *gorm.DB {
	return d.db.WithContext(ctx).Where("is_blood_donor = ? AND is_active = ?", true, true)
}

func (d *GormDonorDirectory) applyQuery(query *gorm.DB, q DonorQuery, cutoff time.Time) *gorm.DB {
	if len(q.Groups) > 0 {
		query = query.Where("blood_group IN ?", lifelink.Strings(q.Groups))
	}
	if terms := locationTerms(q.Location); len(terms) > 0 {
		var conds *gorm.DB
		for _, term := range terms {
			like := "%" + term + "%"
			if conds == nil {
				conds = d.db.Where("(LOWER(city) LIKE ? OR LOWER(state) LIKE ?)", like, like)
				continue
			}
			conds = conds.Or("(LOWER(city) LIKE ? OR LOWER(state) LIKE ?)", like, like)
		}
		query = query.Where(conds)
	}
	if q.EligibleOnly {
		query = query.Where("(last_donation_date IS NULL OR last_donation_date <= ?)", cutoff)
	}
	if ids := normaliseIDs(q.ExcludeIDs); len(ids) > 0 {
		query = query.Where("id NOT IN ?", ids)
	}
	return query
}

// eligibilityCutoff is the latest last-donation date that still counts as eligible at now.
func eligibilityCutoff(now time.Time) time.Time {
	if now.IsZero() {
		now = time.Now()
	}
	return dbTime(now.Add(-lifelink.DonationCooldown))
}

// locationTerms splits "City, State" style input into lower-cased search terms.
func locationTerms(location string) []string {
	var terms []string
	for _, part := range strings.Split(location, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			terms = append(terms, part)
		}
	}
	return terms
}

// donorRanking is a single ORDER BY expression; gorm drops expression clauses when they are
// merged with plain column orders.
func donorRanking(cutoff time.Time) clause.OrderBy {
	return clause.OrderBy{Expression: clause.Expr{
		SQL: "CASE WHEN last_donation_date IS NULL OR last_donation_date <= ? THEN 0 ELSE 1 END, " +
			"total_donations DESC, " +
			"CASE WHEN last_active_at IS NULL THEN 1 ELSE 0 END, last_active_at DESC, id",
		Vars:               []any{cutoff},
		WithoutParentheses: true,
	}}
}
