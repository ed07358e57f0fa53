// Package registry maps outbox rows to the Pub/Sub topic they are published on.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pitlane-hq/pitlane-backend/pkg/config"
	"github.com/pitlane-hq/pitlane-backend/pkg/db/models"
	"github.com/pitlane-hq/pitlane-backend/pkg/enums"
	"github.com/pitlane-hq/pitlane-backend/pkg/outbox"
	"github.com/pitlane-hq/pitlane-backend/pkg/outbox/payloads"
)

// ErrUnroutable wraps every Resolve failure. Rows that fail to resolve never
// will, so callers park them instead of retrying.
var ErrUnroutable = errors.New("outbox row cannot be routed")

// EventDescriptor is the route for one event type.
type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string

	decode func(json.RawMessage) (any, error)
}

// ResolvedEvent is a checked outbox row with its decoded payload.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

type EventRegistry struct {
	routes map[enums.OutboxEventType]EventDescriptor
}

// strictDecoder rejects payload fields the target type does not declare.
func strictDecoder[T any]() func(json.RawMessage) (any, error) {
	return func(raw json.RawMessage) (any, error) {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		v := new(T)
		if err := dec.Decode(v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// NewEventRegistry sends registration_* events to the registrations topic and
// event lifecycle events to the events topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	var missing []string
	if cfg.RegistrationsTopic == "" {
		missing = append(missing, "registrations")
	}
	if cfg.EventsTopic == "" {
		missing = append(missing, "events")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("pubsub topics not configured: %v", missing)
	}

	r := &EventRegistry{routes: map[enums.OutboxEventType]EventDescriptor{}}
	r.add(enums.AggregateRegistration, cfg.RegistrationsTopic, strictDecoder[payloads.RegistrationChanged](),
		enums.EventRegistrationCreated,
		enums.EventRegistrationPaid,
		enums.EventRegistrationPaymentFailed,
		enums.EventRegistrationExpired,
		enums.EventRegistrationRefundInitiated,
		enums.EventRegistrationRefunded,
		enums.EventRegistrationCancelled,
		enums.EventRegistrationCheckedIn,
	)
	r.add(enums.AggregateEvent, cfg.EventsTopic, strictDecoder[payloads.EventCancelled](),
		enums.EventEventCancelled,
	)
	return r, nil
}

func (r *EventRegistry) add(aggregate enums.OutboxAggregateType, topic string, decode func(json.RawMessage) (any, error), types ...enums.OutboxEventType) {
	for _, t := range types {
		r.routes[t] = EventDescriptor{EventType: t, AggregateType: aggregate, Topic: topic, decode: decode}
	}
}

// Resolve checks the row against its route and decodes the payload. Every
// error it returns matches ErrUnroutable.
func (r *EventRegistry) Resolve(row models.OutboxEvent) (*ResolvedEvent, error) {
	route, ok := r.routes[row.EventType]
	switch {
	case !ok:
		return nil, unroutable("no route for event type %q", row.EventType)
	case route.AggregateType != row.AggregateType:
		return nil, unroutable("%s belongs to %s aggregates, row has %s", row.EventType, route.AggregateType, row.AggregateType)
	case row.AggregateID == uuid.Nil:
		return nil, unroutable("%s row has no aggregate id", row.EventType)
	}

	envelope, err := outbox.DecodeEnvelope(row.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnroutable, row.EventType, err)
	}
	payload, err := route.decode(envelope.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s payload: %w", ErrUnroutable, row.EventType, err)
	}
	return &ResolvedEvent{Descriptor: route, Envelope: envelope, Payload: payload}, nil
}

func unroutable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnroutable, fmt.Sprintf(format, args...))
}
