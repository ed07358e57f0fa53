package refunds

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/pitlane-hq/pitlane-backend/internal/events"
	"github.com/pitlane-hq/pitlane-backend/internal/ledger"
	"github.com/pitlane-hq/pitlane-backend/internal/payments/gatewaytest"
	"github.com/pitlane-hq/pitlane-backend/internal/registrations"
	"github.com/pitlane-hq/pitlane-backend/pkg/db"
	"github.com/pitlane-hq/pitlane-backend/pkg/db/dbtest"
	"github.com/pitlane-hq/pitlane-backend/pkg/db/models"
	"github.com/pitlane-hq/pitlane-backend/pkg/enums"
	pkgerrors "github.com/pitlane-hq/pitlane-backend/pkg/errors"
	"github.com/pitlane-hq/pitlane-backend/pkg/outbox"
)

type harness struct {
	conn *gorm.DB
	f    dbtest.Fixture
	gw   *gatewaytest.Gateway
	orch *Orchestrator
	now  time.Time
}

func newHarness(t *testing.T, untilStart time.Duration, opts ...dbtest.EventOption) *harness {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	conn := dbtest.Open(t)
	opts = append([]dbtest.EventOption{dbtest.WithStart(now.Add(untilStart), 8*time.Hour)}, opts...)
	f := dbtest.Seed(t, conn, opts...)
	gw := gatewaytest.New()
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	require.NoError(t, err)
	orch, err := NewOrchestrator(OrchestratorParams{
		DB:            db.Wrap(conn),
		Registrations: registrations.NewRepository(conn),
		Events:        events.NewRepository(conn),
		Gateway:       gw,
		Ledger:        ledgerSvc,
		Outbox:        outbox.NewService(outbox.NewRepository(conn), nil),
		Concurrency:   2,
		Now:           func() time.Time { return now },
	})
	require.NoError(t, err)
	return &harness{conn: conn, f: f, gw: gw, orch: orch, now: now}
}

func (h *harness) onlineRegistration(t *testing.T, status enums.RegistrationStatus, sessionID string) models.Registration {
	t.Helper()
	return h.f.AddRegistration(t, h.conn, status, func(r *models.Registration) {
		if sessionID != "" {
			id := sessionID
			r.StripeSessionID = &id
		}
	})
}

func (h *harness) paidSession(id, intent string, amount int64) {
	h.gw.AddSession(&stripe.CheckoutSession{
		ID:            id,
		PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
		AmountTotal:   amount,
		Currency:      stripe.CurrencyPLN,
		PaymentIntent: &stripe.PaymentIntent{ID: intent},
	})
}

func (h *harness) unpaidSession(id string) {
	h.gw.AddSession(&stripe.CheckoutSession{
		ID:            id,
		Status:        stripe.CheckoutSessionStatusOpen,
		PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid,
	})
}

func (h *harness) setDrivers(t *testing.T, n int) {
	t.Helper()
	require.NoError(t, h.conn.Model(&models.Event{}).Where("id = ?", h.f.Event.ID).Update("registered_drivers", n).Error)
}

func TestRefundAfterRegistrationCancelTiers(t *testing.T) {
	cases := []struct {
		name    string
		until   time.Duration
		percent int
		amount  int64
	}{
		{"full refund", 100 * time.Hour, 100, 20000},
		{"half refund", 30 * time.Hour, 50, 10000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.until)
			h.setDrivers(t, 1)
			h.paidSession("cs_1", "pi_1", 20000)
			reg := h.onlineRegistration(t, enums.RegistrationPaid, "cs_1")

			outcome, err := h.orch.RefundAfterRegistrationCancel(context.Background(), reg.ID, h.f.Driver.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.percent, outcome.Percent)
			assert.Equal(t, tc.amount, outcome.AmountCents)
			assert.Equal(t, enums.RegistrationRefundInitiated, outcome.Status)
			assert.NotEmpty(t, outcome.StripeRefundID)

			require.Len(t, h.gw.Refunds, 1)
			params := h.gw.Refunds[0]
			assert.Equal(t, "pi_1", *params.PaymentIntent)
			assert.Equal(t, tc.amount, *params.Amount)
			assert.False(t, *params.RefundApplicationFee)
			assert.Equal(t, reg.ID.String(), params.Metadata["registration_id"])
			for _, acct := range h.gw.Accounts {
				assert.Equal(t, "acct_organizer", acct)
			}

			stored := dbtest.Reload(t, h.conn, reg.ID)
			assert.Equal(t, enums.RegistrationRefundInitiated, stored.Status)
			require.NotNil(t, stored.PaymentIntentID)
			assert.Equal(t, "pi_1", *stored.PaymentIntentID)
			assert.Equal(t, 0, dbtest.RegisteredDrivers(t, h.conn, h.f.Event.ID))

			var ledgerRows []models.LedgerEvent
			require.NoError(t, h.conn.Find(&ledgerRows).Error)
			require.Len(t, ledgerRows, 1)
			assert.Equal(t, enums.LedgerRefundRequested, ledgerRows[0].Type)
			assert.Equal(t, tc.amount, ledgerRows[0].AmountCents)
		})
	}
}

func TestRefundInsideNoRefundWindowClosesWithoutStripe(t *testing.T) {
	h := newHarness(t, 10*time.Hour)
	h.paidSession("cs_1", "pi_1", 20000)
	reg := h.onlineRegistration(t, enums.RegistrationPaid, "cs_1")

	outcome, err := h.orch.RefundAfterRegistrationCancel(context.Background(), reg.ID, h.f.Driver.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, outcome.Percent)
	assert.Zero(t, outcome.AmountCents)
	assert.Equal(t, enums.RegistrationCancelledNoRefund, outcome.Status)
	assert.Empty(t, h.gw.Refunds)
	assert.Equal(t, enums.RegistrationCancelledNoRefund, dbtest.Reload(t, h.conn, reg.ID).Status)
}

func TestRefundPendingRegistrationWithPaidSession(t *testing.T) {
	h := newHarness(t, 100*time.Hour)
	h.paidSession("cs_1", "pi_1", 20000)
	reg := h.onlineRegistration(t, enums.RegistrationPaymentInitiated, "cs_1")

	_, err := h.orch.RefundAfterRegistrationCancel(context.Background(), reg.ID, h.f.Driver.ID)
	require.NoError(t, err)

	stored := dbtest.Reload(t, h.conn, reg.ID)
	assert.Equal(t, enums.RegistrationRefundInitiated, stored.Status)
	require.NotNil(t, stored.AmountPaidCents)
	assert.Equal(t, int64(20000), *stored.AmountPaidCents)
	assert.Equal(t, 0, dbtest.RegisteredDrivers(t, h.conn, h.f.Event.ID))
}

func TestRefundAfterRegistrationCancelRejections(t *testing.T) {
	h := newHarness(t, 100*time.Hour)
	ctx := context.Background()

	h.unpaidSession("cs_unpaid")
	unpaid := h.onlineRegistration(t, enums.RegistrationPaymentInitiated, "cs_unpaid")
	_, err := h.orch.RefundAfterRegistrationCancel(ctx, unpaid.ID, h.f.Driver.ID)
	assert.True(t, pkgerrors.HasReason(err, ReasonNotPaid))
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())
	assert.Equal(t, enums.RegistrationPaymentInitiated, dbtest.Reload(t, h.conn, unpaid.ID).Status)

	noSession := h.onlineRegistration(t, enums.RegistrationPaid, "")
	_, err = h.orch.RefundAfterRegistrationCancel(ctx, noSession.ID, h.f.Driver.ID)
	assert.True(t, pkgerrors.HasReason(err, ReasonMissingStripeInfo))

	h.gw.AddSession(&stripe.CheckoutSession{ID: "cs_no_intent", PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid, AmountTotal: 20000})
	noIntent := h.onlineRegistration(t, enums.RegistrationPaid, "cs_no_intent")
	_, err = h.orch.RefundAfterRegistrationCancel(ctx, noIntent.ID, h.f.Driver.ID)
	assert.True(t, pkgerrors.HasReason(err, ReasonMissingPaymentInfo))

	refunded := h.onlineRegistration(t, enums.RegistrationRefunded, "cs_refunded")
	_, err = h.orch.RefundAfterRegistrationCancel(ctx, refunded.ID, h.f.Driver.ID)
	assert.True(t, pkgerrors.HasReason(err, ReasonNoRegistrationFound))
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())

	_, err = h.orch.RefundAfterRegistrationCancel(ctx, noIntent.ID, h.f.Organizer.ID)
	assert.True(t, pkgerrors.HasReason(err, ReasonNoRegistrationFound))

	_, err = h.orch.RefundAfterRegistrationCancel(ctx, uuid.New(), h.f.Driver.ID)
	assert.True(t, pkgerrors.HasReason(err, ReasonNoRegistrationFound))

	assert.Empty(t, h.gw.Refunds)
}

func TestRefundGatewayFailureLeavesRefundInitiated(t *testing.T) {
	h := newHarness(t, 100*time.Hour)
	h.paidSession("cs_1", "pi_1", 20000)
	h.gw.RefundErr = errors.New("card_declined")
	reg := h.onlineRegistration(t, enums.RegistrationPaid, "cs_1")

	_, err := h.orch.RefundAfterRegistrationCancel(context.Background(), reg.ID, h.f.Driver.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasReason(err, ReasonRefundFailed))
	assert.Equal(t, pkgerrors.CodeGateway, pkgerrors.As(err).Code())
	assert.Equal(t, enums.RegistrationRefundInitiated, dbtest.Reload(t, h.conn, reg.ID).Status)
}

func TestRefundAfterEventCancelBatch(t *testing.T) {
	h := newHarness(t, 10*time.Hour)
	h.setDrivers(t, 2)

	h.paidSession("cs_paid", "pi_paid", 20000)
	paid := h.onlineRegistration(t, enums.RegistrationPaid, "cs_paid")

	h.paidSession("cs_missed", "pi_missed", 20000)
	missedWebhook := h.onlineRegistration(t, enums.RegistrationPaymentInitiated, "cs_missed")

	h.unpaidSession("cs_open")
	open := h.onlineRegistration(t, enums.RegistrationPaymentInitiated, "cs_open")

	h.paidSession("cs_fail", "pi_fail", 20000)
	h.gw.RefundErrFor["pi_fail"] = errors.New("insufficient balance")
	failing := h.onlineRegistration(t, enums.RegistrationPaid, "cs_fail")

	expired := h.onlineRegistration(t, enums.RegistrationExpiredNoPayment, "cs_lapsed")

	res, err := h.orch.RefundAfterEventCancel(context.Background(), h.f.Event.ID)
	require.NoError(t, err)

	assert.ElementsMatch(t, []uuid.UUID{paid.ID, missedWebhook.ID}, res.Refunded)
	assert.ElementsMatch(t, []uuid.UUID{open.ID}, res.Expired)
	assert.ElementsMatch(t, []uuid.UUID{failing.ID}, res.Failed)

	assert.Equal(t, []string{"cs_open"}, h.gw.Expired)
	assert.Equal(t, 3, h.gw.RefundCount())
	for _, params := range h.gw.Refunds {
		assert.Equal(t, int64(20000), *params.Amount, "event cancellation refunds in full regardless of timing")
		assert.True(t, *params.RefundApplicationFee)
	}

	assert.Equal(t, enums.RegistrationRefundInitiated, dbtest.Reload(t, h.conn, paid.ID).Status)
	assert.Equal(t, enums.RegistrationRefundInitiated, dbtest.Reload(t, h.conn, missedWebhook.ID).Status)
	assert.Equal(t, enums.RegistrationRefundInitiated, dbtest.Reload(t, h.conn, failing.ID).Status)
	assert.Equal(t, enums.RegistrationExpiredNoPayment, dbtest.Reload(t, h.conn, open.ID).Status)
	assert.Equal(t, enums.RegistrationExpiredNoPayment, dbtest.Reload(t, h.conn, expired.ID).Status)
	assert.Equal(t, 0, dbtest.RegisteredDrivers(t, h.conn, h.f.Event.ID))
}

func TestCancelEvent(t *testing.T) {
	h := newHarness(t, 100*time.Hour, dbtest.WithPaymentType(enums.PaymentTypeCash))
	first := h.f.AddRegistration(t, h.conn, enums.RegistrationActive)
	second := h.f.AddRegistration(t, h.conn, enums.RegistrationActive)
	deleted := h.f.AddRegistration(t, h.conn, enums.RegistrationDeleted)
	ctx := context.Background()

	_, err := h.orch.CancelEvent(ctx, h.f.Event.ID, h.f.Driver.ID)
	assert.True(t, pkgerrors.HasReason(err, ReasonNotEventOwner))
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.As(err).Code())

	res, err := h.orch.CancelEvent(ctx, h.f.Event.ID, h.f.Organizer.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.CashCancelled)
	assert.Empty(t, res.Refunded)

	assert.Equal(t, enums.RegistrationCancelledNoRefund, dbtest.Reload(t, h.conn, first.ID).Status)
	assert.Equal(t, enums.RegistrationCancelledNoRefund, dbtest.Reload(t, h.conn, second.ID).Status)
	assert.Equal(t, enums.RegistrationDeleted, dbtest.Reload(t, h.conn, deleted.ID).Status)

	var rows []models.OutboxEvent
	require.NoError(t, h.conn.Where("event_type = ?", enums.EventEventCancelled).Find(&rows).Error)
	assert.Len(t, rows, 1)

	again, err := h.orch.CancelEvent(ctx, h.f.Event.ID, h.f.Organizer.ID)
	require.NoError(t, err)
	assert.Zero(t, again.CashCancelled)
	assert.Empty(t, again.Refunded)
	var queued int64
	require.NoError(t, h.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventEventCancelled).Count(&queued).Error)
	assert.EqualValues(t, 1, queued, "a re-run with nothing to do queues no event")

	require.NoError(t, h.conn.Model(&models.Event{}).Where("id = ?", h.f.Event.ID).Update("status", enums.EventStatusDeleted).Error)
	_, err = h.orch.CancelEvent(ctx, h.f.Event.ID, h.f.Organizer.ID)
	assert.True(t, pkgerrors.HasReason(err, ReasonEventNotActive))

	_, err = h.orch.CancelEvent(ctx, uuid.New(), h.f.Organizer.ID)
	assert.True(t, pkgerrors.HasReason(err, registrations.ReasonEventNotFound))
}

func TestCancelEventRetryRefundsRegistrationsLeftPaid(t *testing.T) {
	h := newHarness(t, 30*time.Hour)
	h.setDrivers(t, 1)
	h.paidSession("cs_1", "pi_1", 20000)
	reg := h.onlineRegistration(t, enums.RegistrationPaid, "cs_1")
	ctx := context.Background()

	h.gw.RetrieveErr = errors.New("stripe unavailable")
	first, err := h.orch.CancelEvent(ctx, h.f.Event.ID, h.f.Organizer.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{reg.ID}, first.Failed)
	assert.Equal(t, enums.RegistrationPaid, dbtest.Reload(t, h.conn, reg.ID).Status)

	h.gw.RetrieveErr = nil
	retry, err := h.orch.CancelEvent(ctx, h.f.Event.ID, h.f.Organizer.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{reg.ID}, retry.Refunded)
	assert.Empty(t, retry.Failed)

	require.Len(t, h.gw.Refunds, 1)
	assert.Equal(t, int64(20000), *h.gw.Refunds[0].Amount)
	assert.True(t, *h.gw.Refunds[0].RefundApplicationFee)
	assert.Equal(t, enums.RegistrationRefundInitiated, dbtest.Reload(t, h.conn, reg.ID).Status)
	assert.Equal(t, 0, dbtest.RegisteredDrivers(t, h.conn, h.f.Event.ID))
}

func TestDriverCancelOnCancelledEventRefundsInFull(t *testing.T) {
	h := newHarness(t, 10*time.Hour)
	h.paidSession("cs_1", "pi_1", 20000)
	reg := h.onlineRegistration(t, enums.RegistrationPaid, "cs_1")
	require.NoError(t, h.conn.Model(&models.Event{}).Where("id = ?", h.f.Event.ID).Update("status", enums.EventStatusCancelled).Error)

	outcome, err := h.orch.RefundAfterRegistrationCancel(context.Background(), reg.ID, h.f.Driver.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, outcome.Percent)
	assert.Equal(t, int64(20000), outcome.AmountCents)
	assert.Equal(t, enums.RegistrationRefundInitiated, outcome.Status)

	require.Len(t, h.gw.Refunds, 1)
	params := h.gw.Refunds[0]
	assert.Equal(t, int64(20000), *params.Amount)
	assert.True(t, *params.RefundApplicationFee)
	assert.Equal(t, triggerEvent, params.Metadata["reason"])
}

// refundedUnderfoot settles the registration as REFUNDED just before the
// orchestrator tries to close it, as a concurrent charge.refunded would.
type refundedUnderfoot struct {
	registrations.Repository
	conn *gorm.DB
}

func (r refundedUnderfoot) WithTx(tx *gorm.DB) registrations.Repository {
	return refundedUnderfoot{Repository: r.Repository.WithTx(tx), conn: tx}
}

func (r refundedUnderfoot) Transition(ctx context.Context, id uuid.UUID, from []enums.RegistrationStatus, to enums.RegistrationStatus, updates map[string]any) (bool, error) {
	if to == enums.RegistrationCancelledNoRefund {
		if err := r.conn.Model(&models.Registration{}).Where("id = ?", id).Update("status", enums.RegistrationRefunded).Error; err != nil {
			return false, err
		}
	}
	return r.Repository.Transition(ctx, id, from, to, updates)
}

func TestNoRefundCloseReportsStatusWhenRowMovedConcurrently(t *testing.T) {
	h := newHarness(t, 10*time.Hour)
	h.paidSession("cs_1", "pi_1", 20000)
	reg := h.onlineRegistration(t, enums.RegistrationPaid, "cs_1")
	h.orch.regs = refundedUnderfoot{Repository: registrations.NewRepository(h.conn), conn: h.conn}

	outcome, err := h.orch.RefundAfterRegistrationCancel(context.Background(), reg.ID, h.f.Driver.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.RegistrationRefunded, outcome.Status)
	assert.Empty(t, h.gw.Refunds)
	assert.Equal(t, enums.RegistrationRefunded, dbtest.Reload(t, h.conn, reg.ID).Status)

	var cancelled int64
	require.NoError(t, h.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventRegistrationCancelled).Count(&cancelled).Error)
	assert.Zero(t, cancelled)
}
