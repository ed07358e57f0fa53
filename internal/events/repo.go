package events

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pitlane-hq/pitlane-backend/pkg/db/models"
	"github.com/pitlane-hq/pitlane-backend/pkg/enums"
)

// Repository reads events and maintains their registered driver counter.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
	OrganizerAccountID(ctx context.Context, event *models.Event) (string, error)
	IncrementDrivers(ctx context.Context, id uuid.UUID) error
	DecrementDrivers(ctx context.Context, id uuid.UUID, by int64) error
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an events repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	var event models.Event
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// OrganizerAccountID returns the connected Stripe account of the event owner,
// or an empty string when the owner has not onboarded.
func (r *repository) OrganizerAccountID(ctx context.Context, event *models.Event) (string, error) {
	if event == nil {
		return "", errors.New("event is required")
	}
	var owner models.User
	err := r.db.WithContext(ctx).
		Select("id", "stripe_account_id").
		Where("id = ?", event.CreatedBy).
		Take(&owner).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if owner.StripeAccountID == nil {
		return "", nil
	}
	return *owner.StripeAccountID, nil
}

func (r *repository) IncrementDrivers(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("id = ?", id).
		UpdateColumn("registered_drivers", gorm.Expr("registered_drivers + 1")).Error
}

// DecrementDrivers lowers the counter by `by`, never below zero.
func (r *repository) DecrementDrivers(ctx context.Context, id uuid.UUID, by int64) error {
	if by <= 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("id = ?", id).
		UpdateColumn("registered_drivers",
			gorm.Expr("CASE WHEN registered_drivers > ? THEN registered_drivers - ? ELSE 0 END", by, by)).Error
}

// Cancel moves an ACTIVE event to CANCELLED and reports whether it did.
func (r *repository) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("id = ? AND status = ?", id, enums.EventStatusActive).
		Update("status", enums.EventStatusCancelled)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
