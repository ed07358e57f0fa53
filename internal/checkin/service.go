package checkin

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pitlane-hq/pitlane-backend/internal/events"
	"github.com/pitlane-hq/pitlane-backend/internal/registrations"
	"github.com/pitlane-hq/pitlane-backend/pkg/db"
	"github.com/pitlane-hq/pitlane-backend/pkg/db/models"
	"github.com/pitlane-hq/pitlane-backend/pkg/enums"
	pkgerrors "github.com/pitlane-hq/pitlane-backend/pkg/errors"
	"github.com/pitlane-hq/pitlane-backend/pkg/logger"
)

const (
	codeTTL         = 3 * time.Minute
	maxCodeAttempts = 10
	codeMin         = 100000
	codeSpan        = 900000
	// gateWindow opens check-in before the start and keeps it open after the end.
	gateWindow = time.Hour
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// GeneratedCode is returned to the driver to show at the gate.
type GeneratedCode struct {
	RegistrationCode int       `json:"registration_code"`
	ExpiresAt        time.Time `json:"expires_at"`
	EventID          uuid.UUID `json:"event_id"`
}

type ServiceParams struct {
	DB            txRunner
	Codes         Repository
	Registrations registrations.Repository
	Events        events.Repository
	Outbox        registrations.OutboxEmitter
	Logger        *logger.Logger
	Now           func() time.Time
	// RandomCode overrides the code source; nil uses crypto/rand.
	RandomCode func() (int, error)
}

type Service struct {
	db         txRunner
	codes      Repository
	regs       registrations.Repository
	events     events.Repository
	outbox     registrations.OutboxEmitter
	logg       *logger.Logger
	now        func() time.Time
	randomCode func() (int, error)
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Codes == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "code repository required")
	}
	if params.Registrations == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "registration repository required")
	}
	if params.Events == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "event repository required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	randomCode := params.RandomCode
	if randomCode == nil {
		randomCode = cryptoCode
	}
	return &Service{
		db:         params.DB,
		codes:      params.Codes,
		regs:       params.Registrations,
		events:     params.Events,
		outbox:     params.Outbox,
		logg:       logg,
		now:        now,
		randomCode: randomCode,
	}, nil
}

func cryptoCode() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpan))
	if err != nil {
		return 0, err
	}
	return codeMin + int(n.Int64()), nil
}

func checkable(status enums.RegistrationStatus) bool {
	return status == enums.RegistrationActive || status == enums.RegistrationPaid
}

// GenerateCode issues a fresh gate code for the requester's registration.
// A newer code supersedes every earlier one for the same registration.
func (s *Service) GenerateCode(ctx context.Context, registrationID, requester uuid.UUID) (*GeneratedCode, error) {
	reg, err := s.regs.FindOwned(ctx, registrationID, requester)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, registrations.ErrRegistrationNotFound()
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load registration")
	}
	if !checkable(reg.Status) {
		return nil, errNotPaid()
	}

	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		value, err := s.randomCode()
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "draw registration code")
		}
		now := s.now()
		row := &models.RegistrationCode{
			RegistrationID: reg.ID,
			Code:           value,
			ExpiresAt:      now.Add(codeTTL),
			CreatedAt:      now,
		}
		err = s.codes.Insert(ctx, row)
		if err == nil {
			return &GeneratedCode{RegistrationCode: row.Code, ExpiresAt: row.ExpiresAt, EventID: reg.EventID}, nil
		}
		if !db.IsUniqueViolation(err, uniqueCodeConstraint) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert registration code")
		}
		s.logg.Debug(s.logg.WithField(ctx, "attempt", attempt), "registration code collision")
	}
	s.logg.Warn(s.logg.WithRegistrationID(ctx, reg.ID.String()), "registration code space exhausted")
	return nil, errCodeGenerationExhausted()
}

// CheckIn marks the driver behind rawCode as attended. Only the event
// organiser may call it, and only around the event window.
func (s *Service) CheckIn(ctx context.Context, rawCode string, requester uuid.UUID) (*models.Registration, error) {
	value, err := strconv.Atoi(strings.TrimSpace(rawCode))
	if err != nil {
		return nil, errCodeNotFound()
	}

	code, err := s.codes.FindLatestByCode(ctx, value)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errCodeNotFound()
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load registration code")
	}
	reg, err := s.regs.FindByID(ctx, code.RegistrationID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errCodeNotFound()
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load registration")
	}
	event, err := s.events.FindByID(ctx, reg.EventID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errCodeNotFound()
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load event")
	}

	if err := s.guard(ctx, code, reg, event, requester); err != nil {
		return nil, err
	}

	at := s.now()
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		marked, err := s.regs.WithTx(tx).MarkAttended(ctx, reg.ID, at)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark attended")
		}
		if !marked {
			return errAlreadyCheckedIn()
		}
		reg.Attended = true
		reg.AttendedAt = &at
		return registrations.EmitChange(ctx, s.outbox, tx, enums.EventRegistrationCheckedIn, reg, registrations.ChangeDetails{Actor: &requester})
	})
	if err != nil {
		return nil, pkgerrors.Classify(err, pkgerrors.CodeDependency, "check in")
	}

	logCtx := s.logg.WithRegistrationID(s.logg.WithEventID(ctx, event.ID.String()), reg.ID.String())
	s.logg.Info(logCtx, "driver checked in")
	return reg, nil
}

func (s *Service) guard(ctx context.Context, code *models.RegistrationCode, reg *models.Registration, event *models.Event, requester uuid.UUID) error {
	if reg.Attended {
		return errAlreadyCheckedIn()
	}
	if event.CreatedBy != requester {
		return errNotEventOwner()
	}
	if !checkable(reg.Status) {
		return errNotPaid()
	}

	now := s.now()
	if now.After(code.ExpiresAt) {
		return errCodeExpired()
	}
	superseded, err := s.codes.HasNewerCode(ctx, reg.ID, code.CreatedAt)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check newer codes")
	}
	if superseded {
		return errCodeExpired()
	}

	if now.After(event.EndDate.Add(gateWindow)) {
		return errEventAlreadyEnded()
	}
	if now.Before(event.StartDate.Add(-gateWindow)) {
		return errEventNotStarted()
	}
	return nil
}

// PurgeExpired drops codes that expired before cutoff so their values can be
// reissued.
func (s *Service) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.codes.DeleteExpiredBefore(ctx, cutoff)
}
