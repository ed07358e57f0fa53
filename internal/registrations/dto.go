package registrations

import (
	"github.com/google/uuid"

	"github.com/pitlane-hq/pitlane-backend/pkg/enums"
)

// CreateInput identifies who registers which car for which event.
type CreateInput struct {
	EventID  uuid.UUID
	CarID    uuid.UUID
	DriverID uuid.UUID
}

// RefundOutcome summarises the refund started for an online cancellation.
type RefundOutcome struct {
	RegistrationID uuid.UUID                `json:"registration_id"`
	Status         enums.RegistrationStatus `json:"status"`
	Percent        int                      `json:"percent"`
	AmountCents    int64                    `json:"amount_cents"`
	Currency       string                   `json:"currency"`
	StripeRefundID string                   `json:"stripe_refund_id,omitempty"`
}

// CancelResult is returned by Service.Cancel. Refund is set for online
// registrations only.
type CancelResult struct {
	OK     bool           `json:"ok"`
	Refund *RefundOutcome `json:"refund,omitempty"`
}
