package registrations

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pitlane-hq/pitlane-backend/internal/cars"
	"github.com/pitlane-hq/pitlane-backend/internal/events"
	"github.com/pitlane-hq/pitlane-backend/pkg/db/models"
	"github.com/pitlane-hq/pitlane-backend/pkg/enums"
	pkgerrors "github.com/pitlane-hq/pitlane-backend/pkg/errors"
	"github.com/pitlane-hq/pitlane-backend/pkg/logger"
	"github.com/pitlane-hq/pitlane-backend/pkg/metrics"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// RefundRequester cancels an online registration by refunding it.
type RefundRequester interface {
	RefundAfterRegistrationCancel(ctx context.Context, registrationID, requester uuid.UUID) (*RefundOutcome, error)
}

type ServiceParams struct {
	DB         txRunner
	Repository Repository
	Events     events.Repository
	Cars       cars.Repository
	Outbox     OutboxEmitter
	Refunds    RefundRequester
	Metrics    *metrics.RegistrationMetrics
	Logger     *logger.Logger
}

type Service struct {
	db      txRunner
	repo    Repository
	events  events.Repository
	cars    cars.Repository
	outbox  OutboxEmitter
	refunds RefundRequester
	metrics *metrics.RegistrationMetrics
	logg    *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Repository == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "registration repository required")
	}
	if params.Events == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "event repository required")
	}
	if params.Cars == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "car repository required")
	}
	if params.Refunds == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "refund requester required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{
		db:      params.DB,
		repo:    params.Repository,
		events:  params.Events,
		cars:    params.Cars,
		outbox:  params.Outbox,
		refunds: params.Refunds,
		metrics: params.Metrics,
		logg:    logg,
	}, nil
}

// CheckEligibility loads the event and verifies the driver may register the
// car with the given payment type.
func CheckEligibility(ctx context.Context, eventsRepo events.Repository, carsRepo cars.Repository, input CreateInput, paymentType enums.PaymentType) (*models.Event, error) {
	event, err := eventsRepo.FindByID(ctx, input.EventID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEventNotFound()
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load event")
	}
	if !event.Status.AcceptsRegistrations() {
		return nil, ErrEventNotFound()
	}
	if event.PaymentType != paymentType {
		return nil, ErrPaymentTypeMismatch()
	}
	if _, err := carsRepo.FindOwned(ctx, input.CarID, input.DriverID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCarNotFound()
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load car")
	}
	return event, nil
}

// CreateCash registers a driver for a pay-at-the-venue event.
func (s *Service) CreateCash(ctx context.Context, input CreateInput) (*models.Registration, error) {
	event, err := CheckEligibility(ctx, s.events, s.cars, input, enums.PaymentTypeCash)
	if err != nil {
		return nil, err
	}

	reg := &models.Registration{
		EventID:     event.ID,
		UserID:      input.DriverID,
		CarID:       input.CarID,
		Status:      enums.RegistrationActive,
		PaymentType: enums.PaymentTypeCash,
	}
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, reg); err != nil {
			return err
		}
		if err := s.events.WithTx(tx).IncrementDrivers(ctx, event.ID); err != nil {
			return err
		}
		return EmitChange(ctx, s.outbox, tx, enums.EventRegistrationCreated, reg, ChangeDetails{Actor: &input.DriverID})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create registration")
	}

	s.metrics.IncTransition(string(reg.Status))
	logCtx := s.logg.WithRegistrationID(s.logg.WithEventID(ctx, event.ID.String()), reg.ID.String())
	s.logg.Info(logCtx, "cash registration created")
	return reg, nil
}

// Get returns a registration owned by requester.
func (s *Service) Get(ctx context.Context, id, requester uuid.UUID) (*models.Registration, error) {
	reg, err := s.repo.FindOwned(ctx, id, requester)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRegistrationNotFound()
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load registration")
	}
	return reg, nil
}

// Cancel unregisters the requester. Cash registrations are soft-deleted;
// online ones are refunded according to the time-tiered policy.
func (s *Service) Cancel(ctx context.Context, id, requester uuid.UUID) (*CancelResult, error) {
	reg, err := s.Get(ctx, id, requester)
	if err != nil {
		return nil, err
	}
	logCtx := s.logg.WithRegistrationID(ctx, reg.ID.String())

	if reg.PaymentType == enums.PaymentTypeOnline {
		outcome, err := s.refunds.RefundAfterRegistrationCancel(ctx, reg.ID, requester)
		if err != nil {
			return nil, err
		}
		return &CancelResult{OK: true, Refund: outcome}, nil
	}

	cancelled := false
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.repo.WithTx(tx).CancelCash(ctx, reg.ID, requester)
		if err != nil || !ok {
			return err
		}
		cancelled = true
		reg.Status = enums.RegistrationDeleted
		return EmitChange(ctx, s.outbox, tx, enums.EventRegistrationCancelled, reg, ChangeDetails{Actor: &requester})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel registration")
	}
	if !cancelled {
		return nil, ErrCannotCancel()
	}
	s.metrics.IncTransition(string(enums.RegistrationDeleted))
	s.logg.Info(logCtx, "cash registration cancelled")
	return &CancelResult{OK: true}, nil
}
