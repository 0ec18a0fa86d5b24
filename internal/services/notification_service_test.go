package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lifelink/lifelink/internal/lifelink"
	"github.com/lifelink/lifelink/internal/models"
	"github.com/lifelink/lifelink/internal/realtime"
	apperrors "github.com/lifelink/lifelink/pkg/errors"
)

func TestNotificationServiceInbox(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newTestClock()
	svc, err := NewNotificationService(db, realtime.NewHub(), WithNotificationClock(clock.Now))
	require.NoError(t, err)
	user := seedUser(t, db, "seeker")

	ctx := context.Background()
	first, err := svc.Create(ctx, CreateNotificationInput{
		UserID:   user.ID,
		Type:     "requisition.response",
		Title:    "A donor is willing to help",
		Message:  "Asha (O-) is willing to donate.",
		Severity: "success",
		Metadata: map[string]any{"requisition_id": "req-1"},
	})
	require.NoError(t, err)
	require.Equal(t, "req-1", first.Metadata["requisition_id"])

	clock.Advance(time.Minute)
	second, err := svc.Create(ctx, CreateNotificationInput{UserID: user.ID, Type: "requisition.response", Title: "Donor response received"})
	require.NoError(t, err)
	require.Equal(t, "info", second.Severity)

	items, err := svc.ListForUser(ctx, ListNotificationsInput{UserID: user.ID})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, second.ID, items[0].ID)

	unread, err := svc.UnreadCount(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), unread)

	read, err := svc.MarkRead(ctx, user.ID, first.ID)
	require.NoError(t, err)
	require.True(t, read.IsRead)
	require.NotNil(t, read.ReadAt)

	onlyUnread, err := svc.ListForUser(ctx, ListNotificationsInput{UserID: user.ID, UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, onlyUnread, 1)
	require.Equal(t, second.ID, onlyUnread[0].ID)

	_, err = svc.MarkRead(ctx, "someone-else", second.ID)
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	marked, err := svc.MarkAllRead(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), marked)

	unread, err = svc.UnreadCount(ctx, user.ID)
	require.NoError(t, err)
	require.Zero(t, unread)
}

func TestNotificationServiceDonorAlerts(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newTestClock()
	svc, err := NewNotificationService(db, nil, WithNotificationClock(clock.Now))
	require.NoError(t, err)
	seeker := seedUser(t, db, "seeker")
	donor := seedUser(t, db, "donor", asDonor(lifelink.ONegative))
	req := seedRequisition(t, newTestRequisitions(t, db, clock), requisitionInput(seeker.ID, lifelink.ONegative, testEpoch.Add(3*time.Hour)))

	alert := models.DonorNotification{
		DonorID:       donor.ID,
		RequisitionID: req.ID,
		Title:         "Urgent: O- blood needed",
		Status:        models.DonorNotificationDelivered,
	}
	require.NoError(t, db.Create(&alert).Error)

	ctx := context.Background()
	items, err := svc.ListDonorAlerts(ctx, ListNotificationsInput{UserID: donor.ID, UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NotNil(t, items[0].Requisition)
	require.Equal(t, req.ReferenceCode, items[0].Requisition.ReferenceCode)
	require.True(t, items[0].Requisition.IsActive)
	require.True(t, items[0].Requisition.IsExpiring)

	_, err = svc.MarkDonorAlertRead(ctx, seeker.ID, alert.ID)
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	read, err := svc.MarkDonorAlertRead(ctx, donor.ID, alert.ID)
	require.NoError(t, err)
	require.Equal(t, models.DonorNotificationRead, read.Status)
	require.NotNil(t, read.ReadAt)

	items, err = svc.ListDonorAlerts(ctx, ListNotificationsInput{UserID: donor.ID, UnreadOnly: true})
	require.NoError(t, err)
	require.Empty(t, items)
}
