package registrations

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pitlane-hq/pitlane-backend/internal/events"
	"github.com/pitlane-hq/pitlane-backend/pkg/db/models"
	"github.com/pitlane-hq/pitlane-backend/pkg/enums"
)

// Repository persists registrations. Every state change is a conditional
// update guarded on the source statuses; a false result means another actor
// got there first and is not an error.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, reg *models.Registration) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Registration, error)
	FindOwned(ctx context.Context, id, userID uuid.UUID) (*models.Registration, error)
	FindBySessionID(ctx context.Context, sessionID string) (*models.Registration, error)
	FindByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Registration, error)
	FindPending(ctx context.Context, eventID, userID uuid.UUID) ([]models.Registration, error)
	ListByEvent(ctx context.Context, eventID uuid.UUID, paymentType enums.PaymentType, statuses []enums.RegistrationStatus) ([]models.Registration, error)
	ListStale(ctx context.Context, status enums.RegistrationStatus, updatedBefore time.Time, limit int) ([]models.Registration, error)
	Transition(ctx context.Context, id uuid.UUID, from []enums.RegistrationStatus, to enums.RegistrationStatus, updates map[string]any) (bool, error)
	TransitionMany(ctx context.Context, ids []uuid.UUID, from []enums.RegistrationStatus, to enums.RegistrationStatus) (int64, error)
	CancelCash(ctx context.Context, id, userID uuid.UUID) (bool, error)
	MarkAttended(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a registrations repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, reg *models.Registration) error {
	if !reg.PaymentType.IsValid() {
		return fmt.Errorf("invalid payment type %q", reg.PaymentType)
	}
	if reg.Status == "" {
		reg.Status = InitialStatus(reg.PaymentType)
	}
	return r.db.WithContext(ctx).Create(reg).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Registration, error) {
	return r.take(ctx, "id = ?", id)
}

func (r *repository) FindOwned(ctx context.Context, id, userID uuid.UUID) (*models.Registration, error) {
	return r.take(ctx, "id = ? AND user_id = ?", id, userID)
}

func (r *repository) FindBySessionID(ctx context.Context, sessionID string) (*models.Registration, error) {
	return r.take(ctx, "stripe_session_id = ?", sessionID)
}

func (r *repository) FindByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Registration, error) {
	return r.take(ctx, "payment_intent_id = ?", paymentIntentID)
}

func (r *repository) take(ctx context.Context, query string, args ...any) (*models.Registration, error) {
	var reg models.Registration
	if err := r.db.WithContext(ctx).Where(query, args...).Take(&reg).Error; err != nil {
		return nil, err
	}
	return &reg, nil
}

// FindPending returns the driver's registrations still waiting on payment
// for the event, newest first.
func (r *repository) FindPending(ctx context.Context, eventID, userID uuid.UUID) ([]models.Registration, error) {
	var regs []models.Registration
	err := r.db.WithContext(ctx).
		Where("event_id = ? AND user_id = ? AND status = ?", eventID, userID, enums.RegistrationPaymentInitiated).
		Order("created_at DESC").
		Find(&regs).Error
	if err != nil {
		return nil, err
	}
	return regs, nil
}

func (r *repository) ListByEvent(ctx context.Context, eventID uuid.UUID, paymentType enums.PaymentType, statuses []enums.RegistrationStatus) ([]models.Registration, error) {
	var regs []models.Registration
	err := r.db.WithContext(ctx).
		Where("event_id = ? AND payment_type = ? AND status IN ?", eventID, paymentType, statuses).
		Order("created_at ASC").
		Find(&regs).Error
	if err != nil {
		return nil, err
	}
	return regs, nil
}

func (r *repository) ListStale(ctx context.Context, status enums.RegistrationStatus, updatedBefore time.Time, limit int) ([]models.Registration, error) {
	var regs []models.Registration
	q := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", status, updatedBefore).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&regs).Error; err != nil {
		return nil, err
	}
	return regs, nil
}

func (r *repository) Transition(ctx context.Context, id uuid.UUID, from []enums.RegistrationStatus, to enums.RegistrationStatus, updates map[string]any) (bool, error) {
	if err := checkEdges(from, to); err != nil {
		return false, err
	}
	values := map[string]any{"status": to}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.Registration{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) TransitionMany(ctx context.Context, ids []uuid.UUID, from []enums.RegistrationStatus, to enums.RegistrationStatus) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if err := checkEdges(from, to); err != nil {
		return 0, err
	}
	res := r.db.WithContext(ctx).
		Model(&models.Registration{}).
		Where("id IN ? AND status IN ?", ids, from).
		Update("status", to)
	return res.RowsAffected, res.Error
}

// CancelCash soft-deletes an ACTIVE cash registration owned by userID and
// gives its slot back to the event, atomically. Bound with WithTx it runs
// as a savepoint inside the caller's transaction.
func (r *repository) CancelCash(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	cancelled := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Registration{}).
			Where("id = ? AND user_id = ? AND payment_type = ? AND status = ?",
				id, userID, enums.PaymentTypeCash, enums.RegistrationActive).
			Updates(map[string]any{
				"status":     enums.RegistrationDeleted,
				"deleted_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		var reg models.Registration
		if err := tx.Select("id", "event_id").Where("id = ?", id).Take(&reg).Error; err != nil {
			return err
		}
		if err := events.NewRepository(tx).DecrementDrivers(ctx, reg.EventID, 1); err != nil {
			return err
		}
		cancelled = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return cancelled, nil
}

// MarkAttended flips the attendance flag once. No owner filter: the caller
// has already checked the requester owns the event.
func (r *repository) MarkAttended(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Registration{}).
		Where("id = ? AND attended = ? AND status IN ?", id, false,
			[]enums.RegistrationStatus{enums.RegistrationActive, enums.RegistrationPaid}).
		Updates(map[string]any{"attended": true, "attended_at": at})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func checkEdges(from []enums.RegistrationStatus, to enums.RegistrationStatus) error {
	if len(from) == 0 {
		return fmt.Errorf("transition to %s needs at least one source status", to)
	}
	for _, src := range from {
		if !CanTransition(src, to) {
			return fmt.Errorf("illegal registration transition %s -> %s", src, to)
		}
	}
	return nil
}
