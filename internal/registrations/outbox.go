package registrations

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pitlane-hq/pitlane-backend/pkg/db/models"
	"github.com/pitlane-hq/pitlane-backend/pkg/enums"
	"github.com/pitlane-hq/pitlane-backend/pkg/outbox"
	"github.com/pitlane-hq/pitlane-backend/pkg/outbox/payloads"
)

type OutboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, events ...outbox.DomainEvent) error
}

// ChangeDetails carries the optional parts of a registration change event.
type ChangeDetails struct {
	Actor       *uuid.UUID
	AmountCents *int64
	StripeRef   string
	Reason      string
}

// EmitChange queues a registration_* event describing reg's current state.
// Callers set reg.Status to the new status before calling.
func EmitChange(ctx context.Context, emitter OutboxEmitter, tx *gorm.DB, eventType enums.OutboxEventType, reg *models.Registration, details ChangeDetails) error {
	if emitter == nil {
		return nil
	}
	return emitter.Emit(ctx, tx, ChangeEvent(eventType, reg, details))
}

// ChangeEvent builds the event EmitChange would queue, for callers that
// emit several changes at once.
func ChangeEvent(eventType enums.OutboxEventType, reg *models.Registration, details ChangeDetails) outbox.DomainEvent {
	ev := outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateRegistration,
		AggregateID:   reg.ID,
		Data: payloads.RegistrationChanged{
			RegistrationID: reg.ID,
			EventID:        reg.EventID,
			UserID:         reg.UserID,
			PaymentType:    reg.PaymentType,
			Status:         reg.Status,
			AmountCents:    details.AmountCents,
			StripeRef:      details.StripeRef,
			Reason:         details.Reason,
		},
	}
	if details.Actor != nil {
		ev.Actor = &outbox.ActorRef{UserID: *details.Actor}
	}
	return ev
}
