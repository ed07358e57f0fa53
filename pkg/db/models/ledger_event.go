package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pitlane-hq/pitlane-backend/pkg/enums"
)

// LedgerEvent records an immutable money movement for a registration.
type LedgerEvent struct {
	ID             uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	RegistrationID uuid.UUID             `gorm:"column:registration_id;type:uuid;not null"`
	EventID        uuid.UUID             `gorm:"column:event_id;type:uuid;not null"`
	Type           enums.LedgerEventType `gorm:"column:type;type:ledger_event_type;not null"`
	AmountCents    int64                 `gorm:"column:amount_cents;not null"`
	Currency       string                `gorm:"column:currency;not null"`
	ExternalRef    *string               `gorm:"column:external_ref"`
	Metadata       json.RawMessage       `gorm:"column:metadata;type:jsonb"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (LedgerEvent) TableName() string { return "ledger_events" }

func (l *LedgerEvent) BeforeCreate(*gorm.DB) error {
	ensureID(&l.ID)
	return nil
}
