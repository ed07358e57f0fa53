package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v84"
	"go.uber.org/multierr"

	"github.com/pitlane-hq/pitlane-backend/internal/events"
	"github.com/pitlane-hq/pitlane-backend/internal/payments"
	"github.com/pitlane-hq/pitlane-backend/internal/registrations"
	"github.com/pitlane-hq/pitlane-backend/pkg/db/models"
	"github.com/pitlane-hq/pitlane-backend/pkg/enums"
	"github.com/pitlane-hq/pitlane-backend/pkg/logger"
)

const (
	sweepBatchSize = 100
	sweepReason    = "session_sweep"
)

type sessionSettler interface {
	MarkPaid(ctx context.Context, reg *models.Registration, session *stripe.CheckoutSession) (bool, error)
	MarkExpired(ctx context.Context, reg *models.Registration, reason string) (bool, error)
}

type PaymentSessionSweepJobParams struct {
	Logger        *logger.Logger
	Registrations registrations.Repository
	Events        events.Repository
	Gateway       payments.Gateway
	Reconciler    sessionSettler
	// StaleAfter is the session lifetime plus a grace period for late webhooks.
	StaleAfter time.Duration
}

// NewPaymentSessionSweepJob settles registrations whose checkout outcome
// never arrived by webhook.
func NewPaymentSessionSweepJob(params PaymentSessionSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Registrations == nil || params.Events == nil {
		return nil, fmt.Errorf("repositories required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("reconciler required")
	}
	if params.StaleAfter <= 0 {
		return nil, fmt.Errorf("stale threshold must be positive")
	}
	return &paymentSessionSweepJob{
		logg:       params.Logger,
		regs:       params.Registrations,
		events:     params.Events,
		gateway:    params.Gateway,
		reconciler: params.Reconciler,
		staleAfter: params.StaleAfter,
		now:        time.Now,
	}, nil
}

type paymentSessionSweepJob struct {
	logg       *logger.Logger
	regs       registrations.Repository
	events     events.Repository
	gateway    payments.Gateway
	reconciler sessionSettler
	staleAfter time.Duration
	now        func() time.Time
}

func (j *paymentSessionSweepJob) Name() string { return "payment-session-sweep" }

func (j *paymentSessionSweepJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.staleAfter)
	stale, err := j.regs.ListStale(ctx, enums.RegistrationPaymentInitiated, cutoff, sweepBatchSize)
	if err != nil {
		return fmt.Errorf("list stale payment sessions: %w", err)
	}

	var errs error
	paid, expired := 0, 0
	for i := range stale {
		reg := &stale[i]
		outcome, err := j.settle(ctx, reg)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("registration %s: %w", reg.ID, err))
			continue
		}
		switch outcome {
		case enums.RegistrationPaid:
			paid++
		case enums.RegistrationExpiredNoPayment:
			expired++
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"scanned": len(stale),
		"paid":    paid,
		"expired": expired,
	})
	j.logg.Info(logCtx, "payment session sweep complete")
	return errs
}

// settle returns the status the registration moved to, or "" when another
// actor settled it first.
func (j *paymentSessionSweepJob) settle(ctx context.Context, reg *models.Registration) (enums.RegistrationStatus, error) {
	regCtx := j.logg.WithRegistrationID(ctx, reg.ID.String())
	if reg.StripeSessionID == nil || *reg.StripeSessionID == "" {
		return j.expire(regCtx, reg)
	}
	sessionID := *reg.StripeSessionID

	event, err := j.events.FindByID(ctx, reg.EventID)
	if err != nil {
		return "", fmt.Errorf("load event: %w", err)
	}
	account, err := j.events.OrganizerAccountID(ctx, event)
	if err != nil {
		return "", fmt.Errorf("load organiser account: %w", err)
	}

	session, err := j.gateway.RetrieveCheckoutSession(ctx, account, sessionID)
	if err != nil {
		return "", fmt.Errorf("retrieve session %s: %w", sessionID, err)
	}
	if payments.IsPaid(session) {
		j.logg.Warn(regCtx, "paid session found by sweep; webhook was missed")
		moved, err := j.reconciler.MarkPaid(ctx, reg, session)
		if err != nil || !moved {
			return "", err
		}
		return enums.RegistrationPaid, nil
	}

	if session.Status != stripe.CheckoutSessionStatusExpired {
		// Left pending on failure so the next cycle retries the expiry.
		if _, err := j.gateway.ExpireCheckoutSession(ctx, account, sessionID); err != nil {
			return "", fmt.Errorf("expire session %s: %w", sessionID, err)
		}
	}
	return j.expire(regCtx, reg)
}

func (j *paymentSessionSweepJob) expire(ctx context.Context, reg *models.Registration) (enums.RegistrationStatus, error) {
	moved, err := j.reconciler.MarkExpired(ctx, reg, sweepReason)
	if err != nil || !moved {
		return "", err
	}
	return enums.RegistrationExpiredNoPayment, nil
}
