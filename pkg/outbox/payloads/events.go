package payloads

import (
	"github.com/google/uuid"

	"github.com/pitlane-hq/pitlane-backend/pkg/enums"
)

// RegistrationChanged is the payload of every registration_* event.
type RegistrationChanged struct {
	RegistrationID uuid.UUID                `json:"registrationId"`
	EventID        uuid.UUID                `json:"eventId"`
	UserID         uuid.UUID                `json:"userId"`
	PaymentType    enums.PaymentType        `json:"paymentType"`
	Status         enums.RegistrationStatus `json:"status"`
	AmountCents    *int64                   `json:"amountCents,omitempty"`
	StripeRef      string                   `json:"stripeRef,omitempty"`
	Reason         string                   `json:"reason,omitempty"`
}

// EventCancelled summarises an organiser cancelling an event.
type EventCancelled struct {
	EventID       uuid.UUID `json:"eventId"`
	CancelledBy   uuid.UUID `json:"cancelledBy"`
	Refunded      int       `json:"refunded"`
	Expired       int       `json:"expired"`
	CashCancelled int       `json:"cashCancelled"`
	Failed        int       `json:"failed"`
}
