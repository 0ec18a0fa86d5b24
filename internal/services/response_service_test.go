package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lifelink/lifelink/internal/lifelink"
	"github.com/lifelink/lifelink/internal/models"
	apperrors "github.com/lifelink/lifelink/pkg/errors"
)

type responseFixture struct {
	db            *gorm.DB
	clock         *testClock
	requisitions  *RequisitionService
	responses     *ResponseService
	notifications *NotificationService
	channel       *fakeChannel
	queue         *inlineTasks
	seeker        models.User
}

func newResponseFixture(t *testing.T) *responseFixture {
	t.Helper()
	db := openServiceTestDB(t)
	clock := newTestClock()
	notifications, err := NewNotificationService(db, nil, WithNotificationClock(clock.Now))
	require.NoError(t, err)

	channel := &fakeChannel{}
	queue := &inlineTasks{}
	responses, err := NewResponseService(db, newTestDirectory(t, db),
		WithResponseNotifications(notifications),
		WithResponseChannel(channel),
		WithResponseTasks(queue),
		WithResponseClock(clock.Now),
	)
	require.NoError(t, err)

	return &responseFixture{
		db:            db,
		clock:         clock,
		requisitions:  newTestRequisitions(t, db, clock),
		responses:     responses,
		notifications: notifications,
		channel:       channel,
		queue:         queue,
		seeker:        seedUser(t, db, "seeker"),
	}
}

func TestRespondWillingRevealsPhoneForUniversalDonor(t *testing.T) {
	f := newResponseFixture(t)
	donor := seedUser(t, f.db, "onegative",
		asDonor(lifelink.ONegative),
		withLastDonation(testEpoch.Add(-lifelink.DonationCooldown)),
		withPhone("+15550200", true),
	)
	req := seedRequisition(t, f.requisitions, requisitionInput(f.seeker.ID, lifelink.ONegative, testEpoch.Add(24*time.Hour)))

	ctx := context.Background()
	result, err := f.responses.Respond(ctx, RespondInput{
		DonorID:       donor.ID,
		RequisitionID: req.ID,
		Response:      "willing",
		Message:       "On my way",
	})
	require.NoError(t, err)
	require.Equal(t, lifelink.ResponseWilling, result.Response.Response)
	require.True(t, result.Response.IsContactRevealed)
	require.NotNil(t, result.Response.ContactPhone)
	require.Equal(t, "+15550200", *result.Response.ContactPhone)
	require.NotNil(t, result.SeekerContact)
	require.Equal(t, "+15550100", result.SeekerContact.ContactNumber)

	willing, err := f.responses.GetWillingDonors(ctx, Actor{UserID: f.seeker.ID}, req.ID)
	require.NoError(t, err)
	require.Len(t, willing, 1)
	require.Equal(t, donor.ID, willing[0].DonorID)
	require.NotNil(t, willing[0].ContactPhone)
	require.Equal(t, "+15550200", *willing[0].ContactPhone)
	require.True(t, willing[0].Eligibility.IsEligible)

	inbox, err := f.notifications.ListForUser(ctx, ListNotificationsInput{UserID: f.seeker.ID})
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	require.Equal(t, "requisition.response", inbox[0].Type)
	require.Contains(t, inbox[0].Message, "+15550200")
	require.Equal(t, []string{f.seeker.ID}, f.channel.recipients())
	require.Equal(t, []string{"seeker_alert"}, f.queue.names)
}

func TestRespondWillingKeepsPhoneHiddenWhenDonorOptsOut(t *testing.T) {
	f := newResponseFixture(t)
	donor := seedUser(t, f.db, "private",
		asDonor(lifelink.ONegative),
		withLastDonation(testEpoch.Add(-lifelink.DonationCooldown)),
		withPhone("+15550300", false),
	)
	req := seedRequisition(t, f.requisitions, requisitionInput(f.seeker.ID, lifelink.ONegative, testEpoch.Add(24*time.Hour)))

	ctx := context.Background()
	result, err := f.responses.Respond(ctx, RespondInput{DonorID: donor.ID, RequisitionID: req.ID, Response: "WILLING"})
	require.NoError(t, err)
	require.False(t, result.Response.IsContactRevealed)
	require.Nil(t, result.Response.ContactPhone)

	willing, err := f.responses.GetWillingDonors(ctx, Actor{IsAdmin: true}, req.ID)
	require.NoError(t, err)
	require.Len(t, willing, 1)
	require.Nil(t, willing[0].ContactPhone)

	inbox, err := f.notifications.ListForUser(ctx, ListNotificationsInput{UserID: f.seeker.ID})
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	require.NotContains(t, inbox[0].Message, "+15550300")
}

func TestRespondNotAvailableNeverRevealsContact(t *testing.T) {
	f := newResponseFixture(t)
	donor := seedUser(t, f.db, "busy", asDonor(lifelink.OPositive), withPhone("+15550400", true))
	req := seedRequisition(t, f.requisitions, requisitionInput(f.seeker.ID, lifelink.OPositive, testEpoch.Add(24*time.Hour)))

	result, err := f.responses.Respond(context.Background(), RespondInput{
		DonorID:       donor.ID,
		RequisitionID: req.ID,
		Response:      "NOT_AVAILABLE",
	})
	require.NoError(t, err)
	require.False(t, result.Response.IsContactRevealed)
	require.Nil(t, result.Response.ContactPhone)
	require.Nil(t, result.SeekerContact)

	willing, err := f.responses.GetWillingDonors(context.Background(), Actor{UserID: f.seeker.ID}, req.ID)
	require.NoError(t, err)
	require.Empty(t, willing)
}

func TestRespondConcurrentDuplicatesPersistOnce(t *testing.T) {
	f := newResponseFixture(t)
	donor := seedUser(t, f.db, "racer", asDonor(lifelink.ONegative), withPhone("+15550500", true))
	req := seedRequisition(t, f.requisitions, requisitionInput(f.seeker.ID, lifelink.ONegative, testEpoch.Add(24*time.Hour)))

	decisions := []string{"WILLING", "NOT_AVAILABLE"}
	results := make([]*RespondResult, len(decisions))
	errs := make([]error, len(decisions))

	var wg sync.WaitGroup
	for i, decision := range decisions {
		wg.Add(1)
		go func(i int, decision string) {
			defer wg.Done()
			results[i], errs[i] = f.responses.Respond(context.Background(), RespondInput{
				DonorID:       donor.ID,
				RequisitionID: req.ID,
				Response:      decision,
			})
		}(i, decision)
	}
	wg.Wait()

	var (
		winner *RespondResult
		loser  error
	)
	for i := range decisions {
		if errs[i] == nil {
			require.Nil(t, winner, "only one response may succeed")
			winner = results[i]
			continue
		}
		loser = errs[i]
	}
	require.NotNil(t, winner)
	require.ErrorIs(t, loser, ErrAlreadyResponded)

	var appErr *apperrors.AppError
	require.True(t, errors.As(loser, &appErr))
	existing, ok := appErr.Details.(ResponseDTO)
	require.True(t, ok)
	require.Equal(t, winner.Response.ID, existing.ID)
	require.Equal(t, winner.Response.Response, existing.Response)

	var count int64
	require.NoError(t, f.db.Model(&models.DonorResponse{}).
		Where("donor_id = ? AND requisition_id = ?", donor.ID, req.ID).
		Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestRespondRejectsInvalidStates(t *testing.T) {
	f := newResponseFixture(t)
	donor := seedUser(t, f.db, "donor", asDonor(lifelink.OPositive))
	bystander := seedUser(t, f.db, "bystander")
	req := seedRequisition(t, f.requisitions, requisitionInput(f.seeker.ID, lifelink.OPositive, testEpoch.Add(time.Hour)))

	ctx := context.Background()
	_, err := f.responses.Respond(ctx, RespondInput{DonorID: donor.ID, RequisitionID: req.ID, Response: "MAYBE"})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = f.responses.Respond(ctx, RespondInput{DonorID: bystander.ID, RequisitionID: req.ID, Response: "WILLING"})
	require.ErrorIs(t, err, ErrDonorNotEligible)

	_, err = f.responses.Respond(ctx, RespondInput{DonorID: donor.ID, RequisitionID: "missing", Response: "WILLING"})
	require.ErrorIs(t, err, ErrRequisitionNotFound)

	f.clock.Advance(2 * time.Hour)
	_, err = f.responses.Respond(ctx, RespondInput{DonorID: donor.ID, RequisitionID: req.ID, Response: "WILLING"})
	require.ErrorIs(t, err, ErrRequisitionInactive)

	var count int64
	require.NoError(t, f.db.Model(&models.DonorResponse{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestRespondRejectsRequester(t *testing.T) {
	f := newResponseFixture(t)
	seeker := seedUser(t, f.db, "donor-seeker", asDonor(lifelink.OPositive))
	req := seedRequisition(t, f.requisitions, requisitionInput(seeker.ID, lifelink.OPositive, testEpoch.Add(24*time.Hour)))

	_, err := f.responses.Respond(context.Background(), RespondInput{DonorID: seeker.ID, RequisitionID: req.ID, Response: "WILLING"})
	require.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestRespondToNotificationMarksItRead(t *testing.T) {
	f := newResponseFixture(t)
	donor := seedUser(t, f.db, "donor", asDonor(lifelink.ONegative))
	other := seedUser(t, f.db, "other", asDonor(lifelink.ONegative))
	req := seedRequisition(t, f.requisitions, requisitionInput(f.seeker.ID, lifelink.ABPositive, testEpoch.Add(24*time.Hour)))

	notification := models.DonorNotification{
		DonorID:       donor.ID,
		RequisitionID: req.ID,
		Title:         "AB+ blood needed",
		Status:        models.DonorNotificationDelivered,
	}
	require.NoError(t, f.db.Create(&notification).Error)

	ctx := context.Background()
	_, err := f.responses.RespondToNotification(ctx, other.ID, notification.ID, "WILLING", "")
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	result, err := f.responses.RespondToNotification(ctx, donor.ID, notification.ID, "NOT_SUITABLE", "On medication")
	require.NoError(t, err)
	require.NotNil(t, result.Response.NotificationID)
	require.Equal(t, notification.ID, *result.Response.NotificationID)

	var row models.DonorNotification
	require.NoError(t, f.db.Take(&row, "id = ?", notification.ID).Error)
	require.Equal(t, models.DonorNotificationRead, row.Status)
	require.NotNil(t, row.ReadAt)

	mine, err := f.responses.GetMyResponse(ctx, donor.ID, req.ID)
	require.NoError(t, err)
	require.Equal(t, lifelink.ResponseNotSuitable, mine.Response)
	require.Equal(t, "On medication", mine.Message)

	_, err = f.responses.RespondToNotification(ctx, donor.ID, notification.ID, "WILLING", "")
	require.ErrorIs(t, err, ErrAlreadyResponded)
}

func TestGetWillingDonorsRequiresOwner(t *testing.T) {
	f := newResponseFixture(t)
	donor := seedUser(t, f.db, "donor", asDonor(lifelink.ONegative))
	req := seedRequisition(t, f.requisitions, requisitionInput(f.seeker.ID, lifelink.ONegative, testEpoch.Add(24*time.Hour)))

	_, err := f.responses.GetWillingDonors(context.Background(), Actor{UserID: donor.ID}, req.ID)
	require.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestSeekerAlertFailureDoesNotFailRespond(t *testing.T) {
	f := newResponseFixture(t)
	donor := seedUser(t, f.db, "donor", asDonor(lifelink.ONegative))
	req := seedRequisition(t, f.requisitions, requisitionInput(f.seeker.ID, lifelink.ONegative, testEpoch.Add(24*time.Hour)))
	f.channel.failFor = map[string]error{f.seeker.ID: errors.New("gateway timeout")}

	_, err := f.responses.Respond(context.Background(), RespondInput{DonorID: donor.ID, RequisitionID: req.ID, Response: "WILLING"})
	require.NoError(t, err)
	require.Len(t, f.queue.errs, 1)
	require.Error(t, f.queue.errs[0])
}
