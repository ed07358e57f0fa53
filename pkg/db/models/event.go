package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pitlane-hq/pitlane-backend/pkg/enums"
)

// Event is a track day or race organised by a user.
type Event struct {
	ID                uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name              string            `gorm:"column:name;not null"`
	PaymentType       enums.PaymentType `gorm:"column:payment_type;type:payment_type;not null"`
	PriceCents        int64             `gorm:"column:price_cents;not null"`
	Currency          string            `gorm:"column:currency;not null;default:pln"`
	Status            enums.EventStatus `gorm:"column:status;type:event_status;not null"`
	StartDate         time.Time         `gorm:"column:start_date;not null"`
	EndDate           time.Time         `gorm:"column:end_date;not null"`
	RegisteredDrivers int               `gorm:"column:registered_drivers;not null;default:0"`
	CreatedBy         uuid.UUID         `gorm:"column:created_by;type:uuid;not null"`
	CreatedAt         time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (Event) TableName() string { return "events" }

func (e *Event) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}
