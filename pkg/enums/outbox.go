package enums

// OutboxAggregateType names the row an outbox event describes.
type OutboxAggregateType string

const (
	AggregateRegistration OutboxAggregateType = "registration"
	AggregateEvent        OutboxAggregateType = "event"
)

var aggregateTypes = closedSet[OutboxAggregateType]{AggregateRegistration, AggregateEvent}

func (a OutboxAggregateType) IsValid() bool { return aggregateTypes.has(a) }

// OutboxEventType is the outbox_event_type column and doubles as the
// Pub/Sub event_type attribute.
type OutboxEventType string

const (
	EventRegistrationCreated         OutboxEventType = "registration_created"
	EventRegistrationPaid            OutboxEventType = "registration_paid"
	EventRegistrationPaymentFailed   OutboxEventType = "registration_payment_failed"
	EventRegistrationExpired         OutboxEventType = "registration_expired"
	EventRegistrationRefundInitiated OutboxEventType = "registration_refund_initiated"
	EventRegistrationRefunded        OutboxEventType = "registration_refunded"
	EventRegistrationCancelled       OutboxEventType = "registration_cancelled"
	EventRegistrationCheckedIn       OutboxEventType = "registration_checked_in"
	EventEventCancelled              OutboxEventType = "event_cancelled"
)

var outboxEventTypes = closedSet[OutboxEventType]{
	EventRegistrationCreated,
	EventRegistrationPaid,
	EventRegistrationPaymentFailed,
	EventRegistrationExpired,
	EventRegistrationRefundInitiated,
	EventRegistrationRefunded,
	EventRegistrationCancelled,
	EventRegistrationCheckedIn,
	EventEventCancelled,
}

func (e OutboxEventType) IsValid() bool { return outboxEventTypes.has(e) }

