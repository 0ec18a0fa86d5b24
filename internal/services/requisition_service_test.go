package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lifelink/lifelink/internal/lifelink"
	"github.com/lifelink/lifelink/internal/models"
	apperrors "github.com/lifelink/lifelink/pkg/errors"
	"github.com/lifelink/lifelink/pkg/validator"
)

func TestRequisitionCreateComputesExpiry(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newTestClock()
	audit := &recordingAudit{}
	svc := newTestRequisitions(t, db, clock, WithRequisitionAudit(audit))
	seeker := seedUser(t, db, "seeker")

	ctx := context.Background()
	soon := seedRequisition(t, svc, requisitionInput(seeker.ID, lifelink.OPositive, testEpoch.Add(10*time.Hour)))
	require.Equal(t, lifelink.StatusActive, soon.Status)
	require.True(t, soon.ExpiresAt.Equal(testEpoch.Add(10*time.Hour)))
	require.Len(t, soon.ReferenceCode, referenceLength)
	require.True(t, soon.IsActive)
	require.True(t, soon.AllowContactReveal)
	require.Equal(t, "+15550100", soon.ContactNumber)

	late, err := svc.Create(ctx, requisitionInput(seeker.ID, lifelink.ONegative, testEpoch.Add(7*24*time.Hour)))
	require.NoError(t, err)
	require.True(t, late.ExpiresAt.Equal(testEpoch.Add(lifelink.MaxRequisitionLifetime)))
	require.NotEqual(t, soon.ReferenceCode, late.ReferenceCode)

	require.Equal(t, []string{"requisition.create", "requisition.create"}, audit.actions())
}

func TestRequisitionCreateRejectsInvalidInput(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newTestClock()
	svc := newTestRequisitions(t, db, clock)
	seeker := seedUser(t, db, "seeker")

	input := requisitionInput(seeker.ID, lifelink.APositive, testEpoch.Add(-time.Hour))
	input.RequiredBloodGroup = "C+"
	input.HospitalName = " "
	input.UnitsNeeded = 12

	_, err := svc.Create(context.Background(), input)
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, apperrors.ErrValidation.Code, appErr.Code)

	failures, ok := appErr.Details.(validator.ValidationErrors)
	require.True(t, ok)
	fields := make([]string, 0, len(failures))
	for _, failure := range failures {
		fields = append(fields, failure.Field)
	}
	require.Equal(t, []string{"required_blood_group", "units_needed", "hospital_name", "required_by_date"}, fields)

	var count int64
	require.NoError(t, db.Model(&models.BloodRequisition{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestRequisitionGetHidesContactFromOthers(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newTestClock()
	svc := newTestRequisitions(t, db, clock)
	seeker := seedUser(t, db, "seeker")
	donor := seedUser(t, db, "donor", asDonor(lifelink.ONegative))
	req := seedRequisition(t, svc, requisitionInput(seeker.ID, lifelink.ONegative, testEpoch.Add(24*time.Hour)))

	ctx := context.Background()
	public, err := svc.Get(ctx, Actor{UserID: donor.ID}, req.ID)
	require.NoError(t, err)
	require.Empty(t, public.ContactNumber)
	require.Nil(t, public.Responses)

	owner, err := svc.Get(ctx, Actor{UserID: seeker.ID}, req.ID)
	require.NoError(t, err)
	require.Equal(t, "+15550100", owner.ContactNumber)
	require.NotNil(t, owner.Responses)

	_, err = svc.Get(ctx, Actor{UserID: seeker.ID}, "missing")
	require.ErrorIs(t, err, ErrRequisitionNotFound)
}

func TestRequisitionUpdateStatus(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newTestClock()
	svc := newTestRequisitions(t, db, clock)
	seeker := seedUser(t, db, "seeker")
	other := seedUser(t, db, "other")
	req := seedRequisition(t, svc, requisitionInput(seeker.ID, lifelink.BPositive, testEpoch.Add(24*time.Hour)))

	ctx := context.Background()
	_, err := svc.UpdateStatus(ctx, Actor{UserID: other.ID}, req.ID, UpdateStatusInput{Status: "CANCELLED"})
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	clock.Advance(time.Minute)
	updated, err := svc.UpdateStatus(ctx, Actor{UserID: seeker.ID}, req.ID, UpdateStatusInput{
		Status:            "fulfilled",
		ExpectedUpdatedAt: &req.UpdatedAt,
	})
	require.NoError(t, err)
	require.Equal(t, lifelink.StatusFulfilled, updated.Status)
	require.False(t, updated.IsActive)

	_, err = svc.UpdateStatus(ctx, Actor{IsAdmin: true}, req.ID, UpdateStatusInput{Status: "CANCELLED"})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRequisitionUpdateStatusRejectsStaleVersion(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newTestClock()
	svc := newTestRequisitions(t, db, clock)
	seeker := seedUser(t, db, "seeker")
	req := seedRequisition(t, svc, requisitionInput(seeker.ID, lifelink.BPositive, testEpoch.Add(24*time.Hour)))

	stale := req.UpdatedAt.Add(-time.Second)
	_, err := svc.UpdateStatus(context.Background(), Actor{UserID: seeker.ID}, req.ID, UpdateStatusInput{
		Status:            "CANCELLED",
		ExpectedUpdatedAt: &stale,
	})
	require.ErrorIs(t, err, ErrRequisitionConflict)

	var row models.BloodRequisition
	require.NoError(t, db.Take(&row, "id = ?", req.ID).Error)
	require.Equal(t, lifelink.StatusActive, row.Status)
}

func TestRequisitionCompareAndSwapLosesToConcurrentWrite(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newTestClock()
	svc := newTestRequisitions(t, db, clock)
	seeker := seedUser(t, db, "seeker")
	req := seedRequisition(t, svc, requisitionInput(seeker.ID, lifelink.BPositive, testEpoch.Add(24*time.Hour)))

	row, err := findRequisition(context.Background(), db, req.ID)
	require.NoError(t, err)

	// Another writer moves the row on after it was read.
	require.NoError(t, db.Model(&models.BloodRequisition{}).
		Where("id = ?", req.ID).
		Update("status", lifelink.StatusCancelled).Error)

	err = svc.compareAndSwap(context.Background(), row, map[string]any{"status": lifelink.StatusFulfilled})
	require.ErrorIs(t, err, ErrRequisitionConflict)
}

func TestRequisitionSweepAndReuse(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newTestClock()
	audit := &recordingAudit{}
	svc := newTestRequisitions(t, db, clock, WithRequisitionAudit(audit))
	seeker := seedUser(t, db, "seeker")
	req := seedRequisition(t, svc, requisitionInput(seeker.ID, lifelink.ABNegative, testEpoch.Add(2*time.Hour)))

	ctx := context.Background()
	swept, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	require.Zero(t, swept)

	clock.Advance(3 * time.Hour)
	view, err := svc.Get(ctx, Actor{UserID: seeker.ID}, req.ID)
	require.NoError(t, err)
	require.Equal(t, lifelink.StatusActive, view.Status)
	require.False(t, view.IsActive)

	swept, err = svc.SweepExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), swept)

	_, err = svc.Reuse(ctx, Actor{UserID: seeker.ID}, req.ID, ReuseInput{})
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, apperrors.ErrValidation.Code, appErr.Code)

	newDeadline := clock.Now().Add(12 * time.Hour)
	reused, err := svc.Reuse(ctx, Actor{UserID: seeker.ID}, req.ID, ReuseInput{RequiredByDate: &newDeadline})
	require.NoError(t, err)
	require.Equal(t, lifelink.StatusActive, reused.Status)
	require.True(t, reused.IsActive)
	require.Equal(t, 1, reused.ReuseCount)
	require.Equal(t, req.ID, reused.ID)
	require.True(t, reused.ExpiresAt.Equal(newDeadline))

	_, err = svc.Reuse(ctx, Actor{UserID: seeker.ID}, req.ID, ReuseInput{RequiredByDate: &newDeadline})
	require.ErrorIs(t, err, ErrInvalidTransition)

	require.Contains(t, audit.actions(), "requisition.sweep")
	require.Contains(t, audit.actions(), "requisition.reuse")
}

func TestRequisitionListMineCountsResponses(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newTestClock()
	svc := newTestRequisitions(t, db, clock)
	seeker := seedUser(t, db, "seeker")
	donor := seedUser(t, db, "donor", asDonor(lifelink.ONegative))
	first := seedRequisition(t, svc, requisitionInput(seeker.ID, lifelink.APositive, testEpoch.Add(24*time.Hour)))
	clock.Advance(time.Minute)
	second := seedRequisition(t, svc, requisitionInput(seeker.ID, lifelink.BNegative, testEpoch.Add(24*time.Hour)))

	require.NoError(t, db.Create(&models.DonorResponse{
		DonorID:       donor.ID,
		RequisitionID: first.ID,
		Response:      lifelink.ResponseWilling,
		RespondedAt:   clock.Now(),
	}).Error)

	items, total, err := svc.ListMine(context.Background(), ListRequisitionsInput{RequesterID: seeker.ID})
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	require.Len(t, items, 2)
	require.Equal(t, second.ID, items[0].ID)
	require.Equal(t, int64(0), items[0].Responses.Willing)
	require.Equal(t, first.ID, items[1].ID)
	require.Equal(t, int64(1), items[1].Responses.Willing)

	_, _, err = svc.ListMine(context.Background(), ListRequisitionsInput{RequesterID: seeker.ID, Status: "open"})
	require.Error(t, err)
}
