package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pitlane-hq/pitlane-backend/pkg/db/models"
	"github.com/pitlane-hq/pitlane-backend/pkg/enums"
)

// Service defines operations that record ledger events.
type Service interface {
	RecordEvent(ctx context.Context, tx *gorm.DB, input RecordLedgerEventInput) (*models.LedgerEvent, error)
}

type service struct {
	repo Repository
}

// RecordLedgerEventInput captures the immutable data a ledger event requires.
type RecordLedgerEventInput struct {
	RegistrationID uuid.UUID             `json:"registration_id"`
	EventID        uuid.UUID             `json:"event_id"`
	Type           enums.LedgerEventType `json:"type"`
	AmountCents    int64                 `json:"amount_cents"`
	Currency       string                `json:"currency"`
	ExternalRef    string                `json:"external_ref"`
	Metadata       json.RawMessage       `json:"metadata"`
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

// RecordEvent appends a money movement. Pass the caller's transaction so the
// row commits together with the registration transition it describes. A
// repeated external reference for the same registration and type is a no-op
// and yields a nil entry.
func (s *service) RecordEvent(ctx context.Context, tx *gorm.DB, input RecordLedgerEventInput) (*models.LedgerEvent, error) {
	if input.RegistrationID == uuid.Nil {
		return nil, fmt.Errorf("registration id is required")
	}
	if input.EventID == uuid.Nil {
		return nil, fmt.Errorf("event id is required")
	}
	if !input.Type.IsValid() {
		return nil, fmt.Errorf("invalid ledger event type %q", input.Type)
	}
	if input.AmountCents < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	currency := strings.ToLower(strings.TrimSpace(input.Currency))
	if currency == "" {
		return nil, fmt.Errorf("currency is required")
	}

	event := &models.LedgerEvent{
		RegistrationID: input.RegistrationID,
		EventID:        input.EventID,
		Type:           input.Type,
		AmountCents:    input.AmountCents,
		Currency:       currency,
		Metadata:       input.Metadata,
	}
	if input.ExternalRef != "" {
		ref := input.ExternalRef
		event.ExternalRef = &ref
	}

	inserted, err := s.repo.WithTx(tx).Append(ctx, event)
	if err != nil || !inserted {
		return nil, err
	}
	return event, nil
}
