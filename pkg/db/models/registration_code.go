package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RegistrationCode is a short-lived numeric code a driver shows at the gate.
type RegistrationCode struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	RegistrationID uuid.UUID `gorm:"column:registration_id;type:uuid;not null"`
	Code           int       `gorm:"column:code;not null"`
	ExpiresAt      time.Time `gorm:"column:expires_at;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;not null"`
}

func (RegistrationCode) TableName() string { return "registration_codes" }

func (c *RegistrationCode) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
