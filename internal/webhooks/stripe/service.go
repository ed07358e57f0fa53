package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/pitlane-hq/pitlane-backend/internal/payments"
	"github.com/pitlane-hq/pitlane-backend/internal/registrations"
	"github.com/pitlane-hq/pitlane-backend/pkg/db/models"
	pkgerrors "github.com/pitlane-hq/pitlane-backend/pkg/errors"
	"github.com/pitlane-hq/pitlane-backend/pkg/logger"
	"github.com/pitlane-hq/pitlane-backend/pkg/metrics"
)

// Outcome labels for the webhook counter.
const (
	outcomeApplied      = "applied"
	outcomeReplay       = "replay"
	outcomeUncorrelated = "uncorrelated"
	outcomeIgnored      = "ignored"
)

// Reconciler applies settled payment outcomes to a registration.
type Reconciler interface {
	MarkPaid(ctx context.Context, reg *models.Registration, session *stripe.CheckoutSession) (bool, error)
	MarkExpired(ctx context.Context, reg *models.Registration, reason string) (bool, error)
	MarkFailed(ctx context.Context, reg *models.Registration, reason string) (bool, error)
	MarkRefunded(ctx context.Context, reg *models.Registration, charge *stripe.Charge) (bool, error)
}

type ServiceParams struct {
	Registrations registrations.Repository
	Reconciler    Reconciler
	Metrics       *metrics.RegistrationMetrics
	Logger        *logger.Logger
}

type Service struct {
	regs       registrations.Repository
	reconciler Reconciler
	metrics    *metrics.RegistrationMetrics
	logg       *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Registrations == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "registration repository required")
	}
	if params.Reconciler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reconciler required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{
		regs:       params.Registrations,
		reconciler: params.Reconciler,
		metrics:    params.Metrics,
		logg:       logg,
	}, nil
}

// HandleEvent routes a verified Stripe event to the matching registration
// transition. Events that cannot be correlated, or that find the
// registration already moved on, are acknowledged without error.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"stripe_event_id":   event.ID,
		"stripe_event_type": string(event.Type),
	})

	var (
		outcome string
		err     error
	)
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		outcome, err = s.handleSessionPaid(ctx, event)
	case stripe.EventTypeCheckoutSessionAsyncPaymentFailed,
		stripe.EventTypeCheckoutSessionExpired:
		outcome, err = s.handleSessionLapsed(ctx, event)
	case stripe.EventTypePaymentIntentCanceled:
		outcome, err = s.handleIntent(ctx, event, s.reconciler.MarkExpired)
	case stripe.EventTypePaymentIntentPaymentFailed:
		outcome, err = s.handleIntent(ctx, event, s.reconciler.MarkFailed)
	case stripe.EventTypeChargeRefunded:
		outcome, err = s.handleChargeRefunded(ctx, event)
	default:
		outcome = outcomeIgnored
	}
	if err != nil {
		s.metrics.IncWebhookEvent(string(event.Type), "error")
		return err
	}
	s.metrics.IncWebhookEvent(string(event.Type), outcome)
	return nil
}

func (s *Service) handleSessionPaid(ctx context.Context, event *stripe.Event) (string, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session")
	}
	if session.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		s.logg.Info(ctx, "checkout session completed without payment; waiting for async result")
		return outcomeIgnored, nil
	}
	reg, ok, err := s.registrationForSession(ctx, &session)
	if err != nil || !ok {
		return outcomeUncorrelated, err
	}
	moved, err := s.reconciler.MarkPaid(ctx, reg, &session)
	return outcomeFor(moved), err
}

func (s *Service) handleSessionLapsed(ctx context.Context, event *stripe.Event) (string, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session")
	}
	reg, ok, err := s.registrationForSession(ctx, &session)
	if err != nil || !ok {
		return outcomeUncorrelated, err
	}
	moved, err := s.reconciler.MarkExpired(ctx, reg, string(event.Type))
	return outcomeFor(moved), err
}

type closeFunc func(ctx context.Context, reg *models.Registration, reason string) (bool, error)

// handleIntent correlates payment intent events through the checkout
// metadata, since the intent id is only stored once a payment settles.
func (s *Service) handleIntent(ctx context.Context, event *stripe.Event, apply closeFunc) (string, error) {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent")
	}
	eventID, errEvent := uuid.Parse(intent.Metadata[payments.MetadataEventID])
	userID, errUser := uuid.Parse(intent.Metadata[payments.MetadataUserID])
	if errEvent != nil || errUser != nil {
		s.logg.Warn(ctx, "payment intent carries no registration metadata")
		return outcomeUncorrelated, nil
	}

	pending, err := s.regs.FindPending(ctx, eventID, userID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pending registrations")
	}
	if len(pending) == 0 {
		s.logg.Info(ctx, "no pending registration for payment intent")
		return outcomeReplay, nil
	}

	outcome := outcomeReplay
	for i := range pending {
		moved, err := apply(ctx, &pending[i], string(event.Type))
		if err != nil {
			return "", err
		}
		if moved {
			outcome = outcomeApplied
		}
	}
	return outcome, nil
}

func (s *Service) handleChargeRefunded(ctx context.Context, event *stripe.Event) (string, error) {
	var charge stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode charge")
	}
	if charge.PaymentIntent == nil || charge.PaymentIntent.ID == "" {
		s.logg.Warn(ctx, "refunded charge has no payment intent")
		return outcomeUncorrelated, nil
	}
	reg, err := s.regs.FindByPaymentIntentID(ctx, charge.PaymentIntent.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.logg.Warn(s.logg.WithField(ctx, "payment_intent_id", charge.PaymentIntent.ID), "no registration for refunded charge")
		return outcomeUncorrelated, nil
	}
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load registration")
	}
	moved, err := s.reconciler.MarkRefunded(ctx, reg, &charge)
	return outcomeFor(moved), err
}

// registrationForSession finds the registration that opened the session and
// cross-checks the checkout metadata against it.
func (s *Service) registrationForSession(ctx context.Context, session *stripe.CheckoutSession) (*models.Registration, bool, error) {
	logCtx := s.logg.WithField(ctx, "stripe_session_id", session.ID)
	if session.ID == "" {
		s.logg.Warn(logCtx, "checkout event without session id")
		return nil, false, nil
	}
	reg, err := s.regs.FindBySessionID(ctx, session.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.logg.Warn(logCtx, "no registration for checkout session")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load registration")
	}
	if !metadataMatches(session.Metadata, reg) {
		s.logg.Warn(s.logg.WithRegistrationID(logCtx, reg.ID.String()), "checkout metadata does not match registration")
		return nil, false, nil
	}
	return reg, true, nil
}

// metadataMatches tolerates absent keys but rejects conflicting ones.
func metadataMatches(meta map[string]string, reg *models.Registration) bool {
	if v, ok := meta[payments.MetadataEventID]; ok && v != reg.EventID.String() {
		return false
	}
	if v, ok := meta[payments.MetadataUserID]; ok && v != reg.UserID.String() {
		return false
	}
	return true
}

func outcomeFor(moved bool) string {
	if moved {
		return outcomeApplied
	}
	return outcomeReplay
}
