package refunds

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pitlane-hq/pitlane-backend/internal/registrations"
	"github.com/pitlane-hq/pitlane-backend/pkg/enums"
	pkgerrors "github.com/pitlane-hq/pitlane-backend/pkg/errors"
	"github.com/pitlane-hq/pitlane-backend/pkg/outbox"
	"github.com/pitlane-hq/pitlane-backend/pkg/outbox/payloads"
)

// EventCancelResult is returned to the organiser after cancelling an event.
type EventCancelResult struct {
	EventID       uuid.UUID `json:"event_id"`
	CashCancelled int64     `json:"cash_cancelled"`
	BatchResult
}

// CancelEvent cancels an ACTIVE event owned by requester, closes its cash
// registrations without refund and refunds the online ones in full. Calling
// it again on an event that is already CANCELLED re-runs the online batch
// for registrations a previous run could not refund.
func (o *Orchestrator) CancelEvent(ctx context.Context, eventID, requester uuid.UUID) (*EventCancelResult, error) {
	event, err := o.events.FindByID(ctx, eventID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, registrations.ErrEventNotFound()
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load event")
	}
	if event.CreatedBy != requester {
		return nil, errNotEventOwner()
	}

	var cashCancelled int64
	rerun := event.Status == enums.EventStatusCancelled
	switch {
	case rerun:
		o.logg.Info(o.logg.WithEventID(ctx, eventID.String()), "event already cancelled, retrying online refunds")
	case event.Status != enums.EventStatusActive:
		return nil, errEventNotActive()
	default:
		cashCancelled, err = o.cancelEventAndCash(ctx, eventID)
		if err != nil {
			return nil, err
		}
	}

	batch, err := o.RefundAfterEventCancel(ctx, eventID)
	if err != nil {
		return nil, err
	}

	result := &EventCancelResult{EventID: eventID, CashCancelled: cashCancelled, BatchResult: *batch}
	if rerun && len(batch.Refunded)+len(batch.Expired)+len(batch.Failed) == 0 {
		return result, nil
	}
	err = o.db.WithTx(ctx, func(tx *gorm.DB) error {
		if o.outbox == nil {
			return nil
		}
		return o.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventEventCancelled,
			AggregateType: enums.AggregateEvent,
			AggregateID:   eventID,
			Actor:         &outbox.ActorRef{UserID: requester},
			Data: payloads.EventCancelled{
				EventID:       eventID,
				CancelledBy:   requester,
				Refunded:      len(batch.Refunded),
				Expired:       len(batch.Expired),
				CashCancelled: int(cashCancelled),
				Failed:        len(batch.Failed),
			},
		})
	})
	if err != nil {
		o.logg.Error(o.logg.WithEventID(ctx, eventID.String()), "queue event_cancelled failed", err)
	}
	return result, nil
}

// cancelEventAndCash flips the event to CANCELLED and closes its ACTIVE cash
// registrations in one transaction.
func (o *Orchestrator) cancelEventAndCash(ctx context.Context, eventID uuid.UUID) (int64, error) {
	var cashCancelled int64
	err := o.db.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := o.events.WithTx(tx).Cancel(ctx, eventID)
		if err != nil {
			return err
		}
		if !ok {
			return errEventNotActive()
		}
		repo := o.regs.WithTx(tx)
		cash, err := repo.ListByEvent(ctx, eventID, enums.PaymentTypeCash, []enums.RegistrationStatus{enums.RegistrationActive})
		if err != nil {
			return err
		}
		ids := make([]uuid.UUID, 0, len(cash))
		for _, reg := range cash {
			ids = append(ids, reg.ID)
		}
		cashCancelled, err = repo.TransitionMany(ctx, ids, []enums.RegistrationStatus{enums.RegistrationActive}, enums.RegistrationCancelledNoRefund)
		return err
	})
	if err != nil {
		return 0, pkgerrors.Classify(err, pkgerrors.CodeDependency, "cancel event")
	}
	return cashCancelled, nil
}
