package payments

import (
	"context"

	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/pitlane-hq/pitlane-backend/internal/events"
	"github.com/pitlane-hq/pitlane-backend/internal/ledger"
	"github.com/pitlane-hq/pitlane-backend/internal/registrations"
	"github.com/pitlane-hq/pitlane-backend/pkg/db/models"
	"github.com/pitlane-hq/pitlane-backend/pkg/enums"
	pkgerrors "github.com/pitlane-hq/pitlane-backend/pkg/errors"
	"github.com/pitlane-hq/pitlane-backend/pkg/logger"
	"github.com/pitlane-hq/pitlane-backend/pkg/metrics"
)

var pendingOnly = []enums.RegistrationStatus{enums.RegistrationPaymentInitiated}

type ReconcilerParams struct {
	DB            txRunner
	Registrations registrations.Repository
	Events        events.Repository
	Ledger        ledger.Service
	Outbox        registrations.OutboxEmitter
	Currency      string
	Metrics       *metrics.RegistrationMetrics
	Logger        *logger.Logger
}

// Reconciler applies settled payment outcomes to registrations. Each method
// is a guarded transition and returns false when the registration had already
// moved on, which makes replays harmless.
type Reconciler struct {
	db       txRunner
	regs     registrations.Repository
	events   events.Repository
	ledger   ledger.Service
	outbox   registrations.OutboxEmitter
	currency string
	metrics  *metrics.RegistrationMetrics
	logg     *logger.Logger
}

func NewReconciler(params ReconcilerParams) (*Reconciler, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Registrations == nil || params.Events == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "repositories required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger service required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	currency := params.Currency
	if currency == "" {
		currency = "pln"
	}
	return &Reconciler{
		db:       params.DB,
		regs:     params.Registrations,
		events:   params.Events,
		ledger:   params.Ledger,
		outbox:   params.Outbox,
		currency: currency,
		metrics:  params.Metrics,
		logg:     logg,
	}, nil
}

// MarkPaid settles a PAYMENT_INITIATED registration from a paid session.
func (r *Reconciler) MarkPaid(ctx context.Context, reg *models.Registration, session *stripe.CheckoutSession) (bool, error) {
	amount := session.AmountTotal
	intentID := PaymentIntentID(session)
	currency := r.currency
	if session.Currency != "" {
		currency = string(session.Currency)
	}

	updates := map[string]any{"amount_paid_cents": amount}
	if intentID != "" {
		updates["payment_intent_id"] = intentID
	}

	moved := false
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := r.regs.WithTx(tx).Transition(ctx, reg.ID, pendingOnly, enums.RegistrationPaid, updates)
		if err != nil || !ok {
			return err
		}
		moved = true
		if err := r.events.WithTx(tx).IncrementDrivers(ctx, reg.EventID); err != nil {
			return err
		}
		if _, err := r.ledger.RecordEvent(ctx, tx, ledger.RecordLedgerEventInput{
			RegistrationID: reg.ID,
			EventID:        reg.EventID,
			Type:           enums.LedgerPaymentCaptured,
			AmountCents:    amount,
			Currency:       currency,
			ExternalRef:    intentID,
		}); err != nil {
			return err
		}
		reg.Status = enums.RegistrationPaid
		reg.AmountPaidCents = &amount
		if intentID != "" {
			reg.PaymentIntentID = &intentID
		}
		return registrations.EmitChange(ctx, r.outbox, tx, enums.EventRegistrationPaid, reg, registrations.ChangeDetails{
			AmountCents: &amount,
			StripeRef:   session.ID,
		})
	})
	return r.finish(ctx, reg, enums.RegistrationPaid, moved, err)
}

// MarkExpired closes a PAYMENT_INITIATED registration whose session lapsed
// or whose payment was abandoned.
func (r *Reconciler) MarkExpired(ctx context.Context, reg *models.Registration, reason string) (bool, error) {
	return r.closePending(ctx, reg, enums.RegistrationExpiredNoPayment, enums.EventRegistrationExpired, reason)
}

// MarkFailed records a declined payment.
func (r *Reconciler) MarkFailed(ctx context.Context, reg *models.Registration, reason string) (bool, error) {
	return r.closePending(ctx, reg, enums.RegistrationPaymentFailed, enums.EventRegistrationPaymentFailed, reason)
}

func (r *Reconciler) closePending(ctx context.Context, reg *models.Registration, to enums.RegistrationStatus, eventType enums.OutboxEventType, reason string) (bool, error) {
	moved := false
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := r.regs.WithTx(tx).Transition(ctx, reg.ID, pendingOnly, to, nil)
		if err != nil || !ok {
			return err
		}
		moved = true
		reg.Status = to
		return registrations.EmitChange(ctx, r.outbox, tx, eventType, reg, registrations.ChangeDetails{Reason: reason})
	})
	return r.finish(ctx, reg, to, moved, err)
}

// MarkRefunded settles a refund reported by charge.refunded. A registration
// leaving PAID gives its slot back to the event.
func (r *Reconciler) MarkRefunded(ctx context.Context, reg *models.Registration, charge *stripe.Charge) (bool, error) {
	currency := r.currency
	if charge.Currency != "" {
		currency = string(charge.Currency)
	}
	amount := charge.AmountRefunded

	moved := false
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := r.regs.WithTx(tx)
		fromPaid, err := repo.Transition(ctx, reg.ID, []enums.RegistrationStatus{enums.RegistrationPaid}, enums.RegistrationRefunded, nil)
		if err != nil {
			return err
		}
		if fromPaid {
			if err := r.events.WithTx(tx).DecrementDrivers(ctx, reg.EventID, 1); err != nil {
				return err
			}
		} else {
			ok, err := repo.Transition(ctx, reg.ID, []enums.RegistrationStatus{
				enums.RegistrationRefundInitiated,
				enums.RegistrationPaymentInitiated,
			}, enums.RegistrationRefunded, nil)
			if err != nil || !ok {
				return err
			}
		}
		moved = true
		if _, err := r.ledger.RecordEvent(ctx, tx, ledger.RecordLedgerEventInput{
			RegistrationID: reg.ID,
			EventID:        reg.EventID,
			Type:           enums.LedgerRefundSettled,
			AmountCents:    amount,
			Currency:       currency,
			ExternalRef:    charge.ID,
		}); err != nil {
			return err
		}
		reg.Status = enums.RegistrationRefunded
		return registrations.EmitChange(ctx, r.outbox, tx, enums.EventRegistrationRefunded, reg, registrations.ChangeDetails{
			AmountCents: &amount,
			StripeRef:   charge.ID,
		})
	})
	return r.finish(ctx, reg, enums.RegistrationRefunded, moved, err)
}

func (r *Reconciler) finish(ctx context.Context, reg *models.Registration, to enums.RegistrationStatus, moved bool, err error) (bool, error) {
	logCtx := r.logg.WithFields(ctx, map[string]any{
		"registration_id": reg.ID.String(),
		"event_id":        reg.EventID.String(),
		"target_status":   string(to),
	})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reconcile registration")
	}
	if !moved {
		r.logg.Info(logCtx, "registration already left the source status; nothing to do")
		return false, nil
	}
	r.metrics.IncTransition(string(to))
	r.logg.Info(logCtx, "registration reconciled")
	return true, nil
}
