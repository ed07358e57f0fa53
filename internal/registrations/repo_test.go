package registrations

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitlane-hq/pitlane-backend/pkg/db/dbtest"
	"github.com/pitlane-hq/pitlane-backend/pkg/db/models"
	"github.com/pitlane-hq/pitlane-backend/pkg/enums"
)

func TestTransitionIsConditional(t *testing.T) {
	conn := dbtest.Open(t)
	f := dbtest.Seed(t, conn)
	reg := f.AddRegistration(t, conn, enums.RegistrationPaymentInitiated)
	repo := NewRepository(conn)
	ctx := context.Background()
	from := []enums.RegistrationStatus{enums.RegistrationPaymentInitiated}

	ok, err := repo.Transition(ctx, reg.ID, from, enums.RegistrationPaid, map[string]any{"payment_intent_id": "pi_1"})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.Transition(ctx, reg.ID, from, enums.RegistrationPaid, nil)
	require.NoError(t, err)
	assert.False(t, ok, "replayed transition must affect no rows")

	stored := dbtest.Reload(t, conn, reg.ID)
	assert.Equal(t, enums.RegistrationPaid, stored.Status)
	require.NotNil(t, stored.PaymentIntentID)
	assert.Equal(t, "pi_1", *stored.PaymentIntentID)
}

func TestTransitionRejectsIllegalEdges(t *testing.T) {
	conn := dbtest.Open(t)
	f := dbtest.Seed(t, conn)
	reg := f.AddRegistration(t, conn, enums.RegistrationPaid)
	repo := NewRepository(conn)

	ok, err := repo.Transition(context.Background(), reg.ID,
		[]enums.RegistrationStatus{enums.RegistrationPaid}, enums.RegistrationPaymentInitiated, nil)
	require.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, enums.RegistrationPaid, dbtest.Reload(t, conn, reg.ID).Status)
}

func TestTransitionMany(t *testing.T) {
	conn := dbtest.Open(t)
	f := dbtest.Seed(t, conn)
	paid := f.AddRegistration(t, conn, enums.RegistrationPaid)
	pending := f.AddRegistration(t, conn, enums.RegistrationPaymentInitiated)
	expired := f.AddRegistration(t, conn, enums.RegistrationExpiredNoPayment)
	repo := NewRepository(conn)

	n, err := repo.TransitionMany(context.Background(),
		[]uuid.UUID{paid.ID, pending.ID, expired.ID},
		[]enums.RegistrationStatus{enums.RegistrationPaid, enums.RegistrationPaymentInitiated},
		enums.RegistrationRefundInitiated)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Equal(t, enums.RegistrationExpiredNoPayment, dbtest.Reload(t, conn, expired.ID).Status)
}

func TestCancelCash(t *testing.T) {
	conn := dbtest.Open(t)
	f := dbtest.Seed(t, conn, dbtest.WithPaymentType(enums.PaymentTypeCash))
	reg := f.AddRegistration(t, conn, enums.RegistrationActive)
	require.NoError(t, conn.Model(&models.Event{}).Where("id = ?", f.Event.ID).
		Update("registered_drivers", 1).Error)
	repo := NewRepository(conn)
	ctx := context.Background()

	ok, err := repo.CancelCash(ctx, reg.ID, f.Driver.ID)
	require.NoError(t, err)
	require.True(t, ok)

	stored := dbtest.Reload(t, conn, reg.ID)
	assert.Equal(t, enums.RegistrationDeleted, stored.Status)
	assert.NotNil(t, stored.DeletedAt)
	assert.Equal(t, 0, dbtest.RegisteredDrivers(t, conn, f.Event.ID))

	ok, err = repo.CancelCash(ctx, reg.ID, f.Driver.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, dbtest.RegisteredDrivers(t, conn, f.Event.ID))
}

func TestCancelCashIgnoresOtherStatusesAndOwners(t *testing.T) {
	conn := dbtest.Open(t)
	f := dbtest.Seed(t, conn, dbtest.WithPaymentType(enums.PaymentTypeCash))
	cancelled := f.AddRegistration(t, conn, enums.RegistrationCancelledNoRefund)
	active := f.AddRegistration(t, conn, enums.RegistrationActive)
	repo := NewRepository(conn)
	ctx := context.Background()

	ok, err := repo.CancelCash(ctx, cancelled.ID, f.Driver.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.CancelCash(ctx, active.ID, f.Organizer.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, enums.RegistrationActive, dbtest.Reload(t, conn, active.ID).Status)
}

func TestMarkAttendedOnce(t *testing.T) {
	conn := dbtest.Open(t)
	f := dbtest.Seed(t, conn)
	reg := f.AddRegistration(t, conn, enums.RegistrationPaid)
	failed := f.AddRegistration(t, conn, enums.RegistrationPaymentFailed)
	repo := NewRepository(conn)
	ctx := context.Background()
	now := time.Now().UTC()

	ok, err := repo.MarkAttended(ctx, reg.ID, now)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.MarkAttended(ctx, reg.ID, now)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.MarkAttended(ctx, failed.ID, now)
	require.NoError(t, err)
	assert.False(t, ok)

	stored := dbtest.Reload(t, conn, reg.ID)
	assert.True(t, stored.Attended)
	assert.NotNil(t, stored.AttendedAt)
}

func TestFinders(t *testing.T) {
	conn := dbtest.Open(t)
	f := dbtest.Seed(t, conn)
	session := "cs_test_1"
	intent := "pi_test_1"
	reg := f.AddRegistration(t, conn, enums.RegistrationPaymentInitiated, func(r *models.Registration) {
		r.StripeSessionID = &session
		r.PaymentIntentID = &intent
	})
	repo := NewRepository(conn)
	ctx := context.Background()

	bySession, err := repo.FindBySessionID(ctx, session)
	require.NoError(t, err)
	assert.Equal(t, reg.ID, bySession.ID)

	byIntent, err := repo.FindByPaymentIntentID(ctx, intent)
	require.NoError(t, err)
	assert.Equal(t, reg.ID, byIntent.ID)

	pending, err := repo.FindPending(ctx, f.Event.ID, f.Driver.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	listed, err := repo.ListByEvent(ctx, f.Event.ID, enums.PaymentTypeOnline,
		[]enums.RegistrationStatus{enums.RegistrationPaid, enums.RegistrationPaymentInitiated})
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	stale, err := repo.ListStale(ctx, enums.RegistrationPaymentInitiated, time.Now().UTC().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, stale, 1)
	stale, err = repo.ListStale(ctx, enums.RegistrationPaymentInitiated, time.Now().UTC().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, stale)
}
