package cars

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pitlane-hq/pitlane-backend/pkg/db/models"
)

// Repository reads the cars drivers bring to events.
type Repository interface {
	FindOwned(ctx context.Context, carID, userID uuid.UUID) (*models.Car, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// FindOwned returns gorm.ErrRecordNotFound when the car is missing or belongs
// to someone else.
func (r *repository) FindOwned(ctx context.Context, carID, userID uuid.UUID) (*models.Car, error) {
	var car models.Car
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", carID, userID).
		Take(&car).Error
	if err != nil {
		return nil, err
	}
	return &car, nil
}
