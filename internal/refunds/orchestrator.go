package refunds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/pitlane-hq/pitlane-backend/internal/events"
	"github.com/pitlane-hq/pitlane-backend/internal/ledger"
	"github.com/pitlane-hq/pitlane-backend/internal/payments"
	"github.com/pitlane-hq/pitlane-backend/internal/registrations"
	"github.com/pitlane-hq/pitlane-backend/pkg/db/models"
	"github.com/pitlane-hq/pitlane-backend/pkg/enums"
	pkgerrors "github.com/pitlane-hq/pitlane-backend/pkg/errors"
	"github.com/pitlane-hq/pitlane-backend/pkg/logger"
	"github.com/pitlane-hq/pitlane-backend/pkg/metrics"
	"github.com/pitlane-hq/pitlane-backend/pkg/outbox"
)

const (
	triggerRegistration = "registration_cancelled"
	triggerEvent        = "event_cancelled"

	defaultConcurrency = 4
)

var refundable = []enums.RegistrationStatus{enums.RegistrationPaid, enums.RegistrationPaymentInitiated}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type OrchestratorParams struct {
	DB            txRunner
	Registrations registrations.Repository
	Events        events.Repository
	Gateway       payments.Gateway
	Ledger        ledger.Service
	Outbox        registrations.OutboxEmitter
	Concurrency   int
	Metrics       *metrics.RegistrationMetrics
	Logger        *logger.Logger
	Now           func() time.Time
}

// Orchestrator moves online registrations through REFUND_INITIATED and asks
// Stripe for the money back. Failed refunds stay in REFUND_INITIATED for
// manual reconciliation; the final REFUNDED transition comes from the
// charge.refunded webhook.
type Orchestrator struct {
	db          txRunner
	regs        registrations.Repository
	events      events.Repository
	gateway     payments.Gateway
	ledger      ledger.Service
	outbox      registrations.OutboxEmitter
	concurrency int
	metrics     *metrics.RegistrationMetrics
	logg        *logger.Logger
	now         func() time.Time
}

func NewOrchestrator(params OrchestratorParams) (*Orchestrator, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Registrations == nil || params.Events == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "repositories required")
	}
	if params.Gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment gateway required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger service required")
	}
	concurrency := params.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		db:          params.DB,
		regs:        params.Registrations,
		events:      params.Events,
		gateway:     params.Gateway,
		ledger:      params.Ledger,
		outbox:      params.Outbox,
		concurrency: concurrency,
		metrics:     params.Metrics,
		logg:        logg,
		now:         now,
	}, nil
}

// RefundAfterRegistrationCancel refunds a driver who unregisters from an
// online event, applying the time-tiered policy. On a cancelled event the
// refund is full and returns the platform fee.
func (o *Orchestrator) RefundAfterRegistrationCancel(ctx context.Context, registrationID, requester uuid.UUID) (*registrations.RefundOutcome, error) {
	reg, err := o.regs.FindOwned(ctx, registrationID, requester)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errNoRegistrationFound()
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load registration")
	}
	if reg.PaymentType != enums.PaymentTypeOnline || !isRefundable(reg.Status) {
		return nil, errNoRegistrationFound()
	}

	event, err := o.events.FindByID(ctx, reg.EventID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, registrations.ErrEventNotFound()
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load event")
	}
	account, err := o.events.OrganizerAccountID(ctx, event)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load organiser account")
	}
	if reg.StripeSessionID == nil || *reg.StripeSessionID == "" || account == "" {
		return nil, errMissingStripeInfo()
	}

	logCtx := o.logg.WithFields(ctx, map[string]any{
		"registration_id":   reg.ID.String(),
		"event_id":          event.ID.String(),
		"stripe_session_id": *reg.StripeSessionID,
	})

	session, err := o.gateway.RetrieveCheckoutSession(ctx, account, *reg.StripeSessionID)
	if err != nil {
		return nil, errRefundFailed(err)
	}
	if !payments.IsPaid(session) {
		return nil, errNotPaid()
	}
	intentID := payments.PaymentIntentID(session)
	if intentID == "" || session.AmountTotal <= 0 {
		return nil, errMissingPaymentInfo()
	}

	moved, err := o.beginRefund(ctx, reg, intentID, session.AmountTotal, &requester)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, registrations.ErrCannotCancel()
	}

	// organiser cancellation refunds in full, fee included
	trigger, idemPrefix, refundFee := triggerRegistration, "registration-refund-", false
	now := o.now()
	pct := RefundPercent(event.StartDate, now)
	amount := CalculateRefundAmount(event.StartDate, session.AmountTotal, now)
	if event.Status == enums.EventStatusCancelled {
		trigger, idemPrefix, refundFee = triggerEvent, "event-refund-", true
		pct, amount = 100, session.AmountTotal
	}
	outcome := &registrations.RefundOutcome{
		RegistrationID: reg.ID,
		Status:         enums.RegistrationRefundInitiated,
		Percent:        pct,
		AmountCents:    amount,
		Currency:       event.Currency,
	}

	if amount == 0 {
		closed, err := o.closeWithoutRefund(ctx, reg, &requester)
		if err != nil {
			return nil, err
		}
		o.metrics.IncRefund(triggerRegistration, "no_refund")
		if closed {
			outcome.Status = enums.RegistrationCancelledNoRefund
			o.logg.Info(logCtx, "cancelled inside the no-refund window")
			return outcome, nil
		}
		current, err := o.regs.FindByID(ctx, reg.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload registration")
		}
		outcome.Status = current.Status
		o.logg.Warn(o.logg.WithField(logCtx, "status", string(current.Status)), "registration moved before it could be closed")
		return outcome, nil
	}

	params := &stripe.RefundCreateParams{
		PaymentIntent:        stripe.String(intentID),
		Amount:               stripe.Int64(amount),
		RefundApplicationFee: stripe.Bool(refundFee),
		Metadata: map[string]string{
			"registration_id": reg.ID.String(),
			"event_id":        event.ID.String(),
			"reason":          trigger,
		},
	}
	params.SetIdempotencyKey(idemPrefix + reg.ID.String())

	refund, err := o.gateway.CreateRefund(ctx, account, params)
	if err != nil {
		o.metrics.IncRefund(trigger, "failed")
		o.logg.Error(logCtx, "refund failed; registration left in REFUND_INITIATED", err)
		return nil, errRefundFailed(err)
	}
	outcome.StripeRefundID = refund.ID

	if err := o.recordRequested(ctx, reg, amount, event.Currency, refund.ID, pct); err != nil {
		o.logg.Error(logCtx, "ledger refund_requested failed", err)
	}
	o.metrics.IncRefund(trigger, "requested")
	o.logg.Info(o.logg.WithField(logCtx, "stripe_refund_id", refund.ID), "refund requested")
	return outcome, nil
}

// beginRefund moves reg to REFUND_INITIATED. A registration leaving PAID
// gives its slot back to the event.
func (o *Orchestrator) beginRefund(ctx context.Context, reg *models.Registration, intentID string, amount int64, actor *uuid.UUID) (bool, error) {
	moved := false
	err := o.db.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := o.moveToRefundInitiated(ctx, tx, reg, intentID, amount)
		if err != nil || !ok {
			return err
		}
		moved = true
		return registrations.EmitChange(ctx, o.outbox, tx, enums.EventRegistrationRefundInitiated, reg, registrations.ChangeDetails{
			Actor:     actor,
			StripeRef: intentID,
		})
	})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark refund initiated")
	}
	if moved {
		o.metrics.IncTransition(string(enums.RegistrationRefundInitiated))
	}
	return moved, nil
}

func (o *Orchestrator) moveToRefundInitiated(ctx context.Context, tx *gorm.DB, reg *models.Registration, intentID string, amount int64) (bool, error) {
	repo := o.regs.WithTx(tx)
	updates := map[string]any{"payment_intent_id": intentID}

	fromPaid, err := repo.Transition(ctx, reg.ID, []enums.RegistrationStatus{enums.RegistrationPaid}, enums.RegistrationRefundInitiated, updates)
	if err != nil {
		return false, err
	}
	if fromPaid {
		if err := o.events.WithTx(tx).DecrementDrivers(ctx, reg.EventID, 1); err != nil {
			return false, err
		}
	} else {
		updates["amount_paid_cents"] = amount
		ok, err := repo.Transition(ctx, reg.ID, []enums.RegistrationStatus{enums.RegistrationPaymentInitiated}, enums.RegistrationRefundInitiated, updates)
		if err != nil || !ok {
			return false, err
		}
	}
	reg.Status = enums.RegistrationRefundInitiated
	reg.PaymentIntentID = &intentID
	return true, nil
}

// closeWithoutRefund reports false when another actor moved reg out of
// REFUND_INITIATED first.
func (o *Orchestrator) closeWithoutRefund(ctx context.Context, reg *models.Registration, actor *uuid.UUID) (bool, error) {
	moved := false
	err := o.db.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := o.regs.WithTx(tx).Transition(ctx, reg.ID,
			[]enums.RegistrationStatus{enums.RegistrationRefundInitiated}, enums.RegistrationCancelledNoRefund, nil)
		if err != nil || !ok {
			return err
		}
		moved = true
		reg.Status = enums.RegistrationCancelledNoRefund
		return registrations.EmitChange(ctx, o.outbox, tx, enums.EventRegistrationCancelled, reg, registrations.ChangeDetails{
			Actor:  actor,
			Reason: "outside_refund_window",
		})
	})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "close registration without refund")
	}
	if moved {
		o.metrics.IncTransition(string(enums.RegistrationCancelledNoRefund))
	}
	return moved, nil
}

func (o *Orchestrator) recordRequested(ctx context.Context, reg *models.Registration, amount int64, currency, refundID string, pct int) error {
	meta, _ := json.Marshal(map[string]any{"percent": pct})
	return o.db.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := o.ledger.RecordEvent(ctx, tx, ledger.RecordLedgerEventInput{
			RegistrationID: reg.ID,
			EventID:        reg.EventID,
			Type:           enums.LedgerRefundRequested,
			AmountCents:    amount,
			Currency:       currency,
			ExternalRef:    refundID,
			Metadata:       meta,
		})
		return err
	})
}

// BatchResult reports what happened to each online registration of a
// cancelled event.
type BatchResult struct {
	Refunded []uuid.UUID `json:"refunded"`
	Expired  []uuid.UUID `json:"expired"`
	Failed   []uuid.UUID `json:"failed"`
}

type pendingRefund struct {
	reg      models.Registration
	intentID string
	amount   int64
}

// RefundAfterEventCancel fully refunds every paid online registration of the
// event and closes the unpaid ones. Per-registration failures are collected
// in Failed and never abort the batch.
func (o *Orchestrator) RefundAfterEventCancel(ctx context.Context, eventID uuid.UUID) (*BatchResult, error) {
	event, err := o.events.FindByID(ctx, eventID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, registrations.ErrEventNotFound()
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load event")
	}
	account, err := o.events.OrganizerAccountID(ctx, event)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load organiser account")
	}
	regs, err := o.regs.ListByEvent(ctx, eventID, enums.PaymentTypeOnline, refundable)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list registrations")
	}

	result := &BatchResult{Refunded: []uuid.UUID{}, Expired: []uuid.UUID{}, Failed: []uuid.UUID{}}
	logCtx := o.logg.WithEventID(ctx, eventID.String())

	var toRefund []pendingRefund
	for i := range regs {
		reg := regs[i]
		regCtx := o.logg.WithRegistrationID(logCtx, reg.ID.String())

		if reg.StripeSessionID == nil || account == "" {
			if reg.Status == enums.RegistrationPaymentInitiated {
				if o.expire(regCtx, &reg) {
					result.Expired = append(result.Expired, reg.ID)
				}
				continue
			}
			o.logg.Warn(regCtx, "paid registration has no session or organiser account")
			result.Failed = append(result.Failed, reg.ID)
			continue
		}

		session, err := o.gateway.RetrieveCheckoutSession(ctx, account, *reg.StripeSessionID)
		if err != nil {
			o.logg.Error(regCtx, "retrieve checkout session failed", err)
			result.Failed = append(result.Failed, reg.ID)
			continue
		}

		intentID := payments.PaymentIntentID(session)
		if !payments.IsPaid(session) || intentID == "" || session.AmountTotal <= 0 {
			if reg.Status != enums.RegistrationPaymentInitiated {
				o.logg.Warn(regCtx, "paid registration points at an unpaid session")
				result.Failed = append(result.Failed, reg.ID)
				continue
			}
			if _, err := o.gateway.ExpireCheckoutSession(ctx, account, *reg.StripeSessionID); err != nil {
				o.logg.Warn(regCtx, fmt.Sprintf("expire checkout session: %v", err))
			}
			if o.expire(regCtx, &reg) {
				result.Expired = append(result.Expired, reg.ID)
			}
			continue
		}
		toRefund = append(toRefund, pendingRefund{reg: reg, intentID: intentID, amount: session.AmountTotal})
	}

	started, err := o.beginBatch(ctx, toRefund)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for _, item := range started {
		g.Go(func() error {
			ok := o.refundInFull(ctx, account, event, item)
			mu.Lock()
			defer mu.Unlock()
			if ok {
				result.Refunded = append(result.Refunded, item.reg.ID)
			} else {
				result.Failed = append(result.Failed, item.reg.ID)
			}
			return nil
		})
	}
	_ = g.Wait()

	o.logg.Info(o.logg.WithFields(logCtx, map[string]any{
		"refunded": len(result.Refunded),
		"expired":  len(result.Expired),
		"failed":   len(result.Failed),
	}), "event refund batch finished")
	return result, nil
}

// beginBatch moves the whole paid set to REFUND_INITIATED in one
// transaction and returns only the rows this call actually moved.
func (o *Orchestrator) beginBatch(ctx context.Context, items []pendingRefund) ([]pendingRefund, error) {
	if len(items) == 0 {
		return nil, nil
	}
	var started []pendingRefund
	err := o.db.WithTx(ctx, func(tx *gorm.DB) error {
		started = started[:0]
		changes := make([]outbox.DomainEvent, 0, len(items))
		for _, item := range items {
			reg := item.reg
			ok, err := o.moveToRefundInitiated(ctx, tx, &reg, item.intentID, item.amount)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			changes = append(changes, registrations.ChangeEvent(enums.EventRegistrationRefundInitiated, &reg, registrations.ChangeDetails{
				StripeRef: item.intentID,
				Reason:    triggerEvent,
			}))
			item.reg = reg
			started = append(started, item)
		}
		if o.outbox == nil {
			return nil
		}
		return o.outbox.Emit(ctx, tx, changes...)
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark batch refund initiated")
	}
	for range started {
		o.metrics.IncTransition(string(enums.RegistrationRefundInitiated))
	}
	return started, nil
}

func (o *Orchestrator) refundInFull(ctx context.Context, account string, event *models.Event, item pendingRefund) bool {
	regCtx := o.logg.WithFields(ctx, map[string]any{
		"registration_id": item.reg.ID.String(),
		"event_id":        event.ID.String(),
	})
	params := &stripe.RefundCreateParams{
		PaymentIntent:        stripe.String(item.intentID),
		Amount:               stripe.Int64(item.amount),
		RefundApplicationFee: stripe.Bool(true),
		Metadata: map[string]string{
			"registration_id": item.reg.ID.String(),
			"event_id":        event.ID.String(),
			"reason":          triggerEvent,
		},
	}
	params.SetIdempotencyKey("event-refund-" + item.reg.ID.String())

	refund, err := o.gateway.CreateRefund(ctx, account, params)
	if err != nil {
		o.metrics.IncRefund(triggerEvent, "failed")
		o.logg.Error(regCtx, "event refund failed; registration left in REFUND_INITIATED", err)
		return false
	}
	if err := o.recordRequested(ctx, &item.reg, item.amount, event.Currency, refund.ID, 100); err != nil {
		o.logg.Error(regCtx, "ledger refund_requested failed", err)
	}
	o.metrics.IncRefund(triggerEvent, "requested")
	return true
}

func (o *Orchestrator) expire(ctx context.Context, reg *models.Registration) bool {
	moved := false
	err := o.db.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := o.regs.WithTx(tx).Transition(ctx, reg.ID,
			[]enums.RegistrationStatus{enums.RegistrationPaymentInitiated}, enums.RegistrationExpiredNoPayment, nil)
		if err != nil || !ok {
			return err
		}
		moved = true
		reg.Status = enums.RegistrationExpiredNoPayment
		return registrations.EmitChange(ctx, o.outbox, tx, enums.EventRegistrationExpired, reg, registrations.ChangeDetails{Reason: triggerEvent})
	})
	if err != nil {
		o.logg.Error(ctx, "expire registration failed", err)
		return false
	}
	if moved {
		o.metrics.IncTransition(string(enums.RegistrationExpiredNoPayment))
	}
	return moved
}

func isRefundable(status enums.RegistrationStatus) bool {
	for _, s := range refundable {
		if s == status {
			return true
		}
	}
	return false
}
