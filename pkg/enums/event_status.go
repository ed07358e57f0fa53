package enums

// EventStatus is the lifecycle of an organiser's event. Cancelling an event
// refunds or cancels every registration on it.
type EventStatus string

const (
	EventStatusActive    EventStatus = "ACTIVE"
	EventStatusCancelled EventStatus = "CANCELLED"
	EventStatusDeleted   EventStatus = "DELETED"
)

var eventStatuses = closedSet[EventStatus]{EventStatusActive, EventStatusCancelled, EventStatusDeleted}

func (s EventStatus) String() string { return string(s) }

func (s EventStatus) IsValid() bool { return eventStatuses.has(s) }

// AcceptsRegistrations reports whether drivers may still sign up.
func (s EventStatus) AcceptsRegistrations() bool { return s == EventStatusActive }
