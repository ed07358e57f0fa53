package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is the slice of the account record this service reads. Organisers
// carry the connected Stripe account their event payouts land in.
type User struct {
	ID              uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Email           string    `gorm:"column:email;not null"`
	StripeAccountID *string   `gorm:"column:stripe_account_id"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (User) TableName() string { return "users" }

func (u *User) BeforeCreate(*gorm.DB) error {
	ensureID(&u.ID)
	return nil
}
