package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pitlane-hq/pitlane-backend/pkg/enums"
)

// Registration binds a driver and car to an event.
type Registration struct {
	ID              uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	EventID         uuid.UUID                `gorm:"column:event_id;type:uuid;not null" json:"event_id"`
	UserID          uuid.UUID                `gorm:"column:user_id;type:uuid;not null" json:"user_id"`
	CarID           uuid.UUID                `gorm:"column:car_id;type:uuid;not null" json:"car_id"`
	Status          enums.RegistrationStatus `gorm:"column:status;type:registration_status;not null" json:"status"`
	PaymentType     enums.PaymentType        `gorm:"column:payment_type;type:payment_type;not null" json:"payment_type"`
	StripeSessionID *string                  `gorm:"column:stripe_session_id" json:"stripe_session_id,omitempty"`
	PaymentIntentID *string                  `gorm:"column:payment_intent_id" json:"payment_intent_id,omitempty"`
	AmountPaidCents *int64                   `gorm:"column:amount_paid_cents" json:"amount_paid_cents,omitempty"`
	Attended        bool                     `gorm:"column:attended;not null;default:false" json:"attended"`
	AttendedAt      *time.Time               `gorm:"column:attended_at" json:"attended_at,omitempty"`
	DeletedAt       *time.Time               `gorm:"column:deleted_at" json:"-"`
	CreatedAt       time.Time                `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time                `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Registration) TableName() string { return "registrations" }

func (r *Registration) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}
