package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lifelink/lifelink/internal/database/testutil"
	"github.com/lifelink/lifelink/internal/delivery"
	"github.com/lifelink/lifelink/internal/lifelink"
	"github.com/lifelink/lifelink/internal/models"
	"github.com/lifelink/lifelink/internal/tasks"
)

var testEpoch = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: testEpoch}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func openServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	return testutil.MustOpenTestDB(t, testutil.WithAutoMigrate(), testutil.WithSingleConnection())
}

type userOption func(*models.User)

func asDonor(group lifelink.BloodGroup) userOption {
	return func(u *models.User) {
		g := group
		u.BloodGroup = &g
		u.IsBloodDonor = true
	}
}

func withPhone(phone string, show bool) userOption {
	return func(u *models.User) {
		u.Phone = phone
		u.ShowPhone = show
	}
}

func withLastDonation(at time.Time) userOption {
	return func(u *models.User) {
		at := at
		u.LastDonationDate = &at
	}
}

func withLocation(city, state string) userOption {
	return func(u *models.User) {
		u.City = city
		u.State = state
	}
}

func withDonations(total int) userOption {
	return func(u *models.User) { u.TotalDonations = total }
}

func seedUser(t *testing.T, db *gorm.DB, name string, opts ...userOption) models.User {
	t.Helper()
	user := models.User{
		FullName: name,
		Email:    name + "@lifelink.test",
		IsActive: true,
	}
	for _, opt := range opts {
		opt(&user)
	}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func newTestDirectory(t *testing.T, db *gorm.DB) *GormDonorDirectory {
	t.Helper()
	directory, err := NewDonorDirectory(db)
	require.NoError(t, err)
	return directory
}

func newTestRequisitions(t *testing.T, db *gorm.DB, clock *testClock, opts ...RequisitionOption) *RequisitionService {
	t.Helper()
	opts = append([]RequisitionOption{WithRequisitionClock(clock.Now)}, opts...)
	svc, err := NewRequisitionService(db, opts...)
	require.NoError(t, err)
	return svc
}

func requisitionInput(requesterID string, group lifelink.BloodGroup, requiredBy time.Time) CreateRequisitionInput {
	return CreateRequisitionInput{
		RequesterID:        requesterID,
		PatientName:        "Maya Rao",
		HospitalName:       "City General",
		ContactNumber:      "+15550100",
		AlternateNumber:    "+15550101",
		RequiredBloodGroup: string(group),
		UnitsNeeded:        2,
		UrgencyLevel:       "HIGH",
		Location:           "Pune, Maharashtra",
		RequiredByDate:     requiredBy,
	}
}

func seedRequisition(t *testing.T, svc *RequisitionService, input CreateRequisitionInput) *RequisitionDTO {
	t.Helper()
	dto, err := svc.Create(context.Background(), input)
	require.NoError(t, err)
	return dto
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (r *recordingAudit) Log(_ context.Context, entry AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *recordingAudit) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry.Action)
	}
	return out
}

type fakeChannel struct {
	mu        sync.Mutex
	delivered []delivery.Delivery
	failFor   map[string]error
}

func (f *fakeChannel) Deliver(_ context.Context, d delivery.Delivery) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[d.RecipientID]; err != nil {
		return 0, err
	}
	f.delivered = append(f.delivered, d)
	return 1, nil
}

func (f *fakeChannel) recipients() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.delivered))
	for _, d := range f.delivered {
		out = append(out, d.RecipientID)
	}
	return out
}

// inlineTasks runs submitted work immediately.
type inlineTasks struct {
	mu    sync.Mutex
	names []string
	errs  []error
}

func (q *inlineTasks) Submit(name string, fn tasks.Func) error {
	err := fn(context.Background())
	q.mu.Lock()
	defer q.mu.Unlock()
	q.names = append(q.names, name)
	q.errs = append(q.errs, err)
	return nil
}
