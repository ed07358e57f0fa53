package checkin

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pitlane-hq/pitlane-backend/pkg/db/models"
)

// uniqueCodeConstraint guards the code space across all registrations.
const uniqueCodeConstraint = "ux_registration_codes_code"

// Repository persists gate codes.
type Repository interface {
	Insert(ctx context.Context, code *models.RegistrationCode) error
	FindLatestByCode(ctx context.Context, code int) (*models.RegistrationCode, error)
	HasNewerCode(ctx context.Context, registrationID uuid.UUID, createdAfter time.Time) (bool, error)
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Insert(ctx context.Context, code *models.RegistrationCode) error {
	return r.db.WithContext(ctx).Create(code).Error
}

func (r *repository) FindLatestByCode(ctx context.Context, code int) (*models.RegistrationCode, error) {
	var row models.RegistrationCode
	err := r.db.WithContext(ctx).
		Where("code = ?", code).
		Order("created_at DESC").
		Take(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// HasNewerCode reports whether a later code was issued for the registration,
// which supersedes the earlier one.
func (r *repository) HasNewerCode(ctx context.Context, registrationID uuid.UUID, createdAfter time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.RegistrationCode{}).
		Where("registration_id = ? AND created_at > ?", registrationID, createdAfter).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at < ?", cutoff).
		Delete(&models.RegistrationCode{})
	return res.RowsAffected, res.Error
}
