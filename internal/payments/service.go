package payments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/pitlane-hq/pitlane-backend/internal/cars"
	"github.com/pitlane-hq/pitlane-backend/internal/events"
	"github.com/pitlane-hq/pitlane-backend/internal/registrations"
	"github.com/pitlane-hq/pitlane-backend/pkg/config"
	"github.com/pitlane-hq/pitlane-backend/pkg/db/models"
	"github.com/pitlane-hq/pitlane-backend/pkg/enums"
	pkgerrors "github.com/pitlane-hq/pitlane-backend/pkg/errors"
	"github.com/pitlane-hq/pitlane-backend/pkg/logger"
	"github.com/pitlane-hq/pitlane-backend/pkg/metrics"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceParams struct {
	DB            txRunner
	Registrations registrations.Repository
	Events        events.Repository
	Cars          cars.Repository
	Gateway       Gateway
	Outbox        registrations.OutboxEmitter
	Stripe        config.StripeConfig
	Metrics       *metrics.RegistrationMetrics
	Logger        *logger.Logger
	Now           func() time.Time
}

// Service starts hosted checkout sessions and reports their outcome.
type Service struct {
	db      txRunner
	regs    registrations.Repository
	events  events.Repository
	cars    cars.Repository
	gateway Gateway
	outbox  registrations.OutboxEmitter
	cfg     config.StripeConfig
	metrics *metrics.RegistrationMetrics
	logg    *logger.Logger
	now     func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Registrations == nil || params.Events == nil || params.Cars == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "repositories required")
	}
	if params.Gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment gateway required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		db:      params.DB,
		regs:    params.Registrations,
		events:  params.Events,
		cars:    params.Cars,
		gateway: params.Gateway,
		outbox:  params.Outbox,
		cfg:     params.Stripe,
		metrics: params.Metrics,
		logg:    logg,
		now:     now,
	}, nil
}

// CreatePaymentSession opens a Stripe Checkout session on the organiser's
// account and records a PAYMENT_INITIATED registration pointing at it.
func (s *Service) CreatePaymentSession(ctx context.Context, input CreateSessionInput) (*SessionResult, error) {
	event, err := registrations.CheckEligibility(ctx, s.events, s.cars, registrations.CreateInput{
		EventID:  input.EventID,
		CarID:    input.CarID,
		DriverID: input.DriverID,
	}, enums.PaymentTypeOnline)
	if err != nil {
		return nil, err
	}

	account, err := s.events.OrganizerAccountID(ctx, event)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load organiser account")
	}
	if account == "" {
		return nil, ErrMissingStripeAccount()
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"event_id":          event.ID.String(),
		"user_id":           input.DriverID.String(),
		"stripe_account_id": account,
	})

	session, err := s.gateway.CreateCheckoutSession(ctx, account, s.checkoutParams(event, input))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "create checkout session").WithReason(ReasonCheckoutFailed)
	}
	if session == nil || session.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "checkout session missing id").WithReason(ReasonCheckoutFailed)
	}
	logCtx = s.logg.WithField(logCtx, "stripe_session_id", session.ID)

	sessionID := session.ID
	reg := &models.Registration{
		EventID:         event.ID,
		UserID:          input.DriverID,
		CarID:           input.CarID,
		Status:          enums.RegistrationPaymentInitiated,
		PaymentType:     enums.PaymentTypeOnline,
		StripeSessionID: &sessionID,
	}
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.regs.WithTx(tx).Create(ctx, reg); err != nil {
			return err
		}
		return registrations.EmitChange(ctx, s.outbox, tx, enums.EventRegistrationCreated, reg, registrations.ChangeDetails{
			Actor:     &input.DriverID,
			StripeRef: sessionID,
		})
	})
	if err != nil {
		// The remote session is left to expire on its own.
		s.logg.Error(logCtx, "registration insert failed after checkout session was created", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create registration")
	}

	s.metrics.IncTransition(string(reg.Status))
	s.logg.Info(s.logg.WithRegistrationID(logCtx, reg.ID.String()), "checkout session created")
	return &SessionResult{URL: session.URL, SessionID: sessionID, RegistrationID: reg.ID}, nil
}

func (s *Service) checkoutParams(event *models.Event, input CreateSessionInput) *stripe.CheckoutSessionCreateParams {
	currency := strings.ToLower(event.Currency)
	metadata := map[string]string{
		MetadataEventID: event.ID.String(),
		MetadataUserID:  input.DriverID.String(),
		MetadataCarID:   input.CarID.String(),
	}
	params := &stripe.CheckoutSessionCreateParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(input.DriverID.String()),
		SuccessURL:        stripe.String(s.cfg.SuccessURL),
		CancelURL:         stripe.String(s.cfg.CancelURL),
		Locale:            stripe.String(checkoutLocale(input.Locale)),
		Metadata:          metadata,
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(event.PriceCents),
				ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
					Name: stripe.String(event.Name),
				},
			},
		}},
		PaymentIntentData: &stripe.CheckoutSessionCreatePaymentIntentDataParams{
			ApplicationFeeAmount: stripe.Int64(CalculatePlatformFeeAmount(event.PriceCents)),
			Metadata:             metadata,
		},
	}
	if s.cfg.SessionTTL > 0 {
		params.ExpiresAt = stripe.Int64(s.now().Add(s.cfg.SessionTTL).Unix())
	}
	return params
}

func checkoutLocale(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pl":
		return "pl"
	case "en":
		return "en"
	default:
		return "auto"
	}
}

// PaymentStatus returns the status of the requester's registration behind a
// checkout session.
func (s *Service) PaymentStatus(ctx context.Context, sessionID string, requester uuid.UUID) (*StatusResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrSessionNotFound()
	}
	reg, err := s.regs.FindBySessionID(ctx, sessionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound()
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load registration by session")
	}
	if reg.UserID != requester {
		return nil, ErrSessionNotFound()
	}
	return &StatusResult{Status: reg.Status}, nil
}
