package enums

// RegistrationStatus is the registration state machine. See
// internal/registrations for the allowed transitions.
type RegistrationStatus string

const (
	RegistrationActive            RegistrationStatus = "ACTIVE"
	RegistrationPaymentInitiated  RegistrationStatus = "PAYMENT_INITIATED"
	RegistrationPaid              RegistrationStatus = "PAID"
	RegistrationPaymentFailed     RegistrationStatus = "PAYMENT_FAILED"
	RegistrationExpiredNoPayment  RegistrationStatus = "EXPIRED_NO_PAYMENT"
	RegistrationRefundInitiated   RegistrationStatus = "REFUND_INITIATED"
	RegistrationRefunded          RegistrationStatus = "REFUNDED"
	RegistrationCancelledNoRefund RegistrationStatus = "CANCELLED_NO_REFUND"
	RegistrationDeleted           RegistrationStatus = "DELETED"
)

var registrationStatuses = closedSet[RegistrationStatus]{
	RegistrationActive,
	RegistrationPaymentInitiated,
	RegistrationPaid,
	RegistrationPaymentFailed,
	RegistrationExpiredNoPayment,
	RegistrationRefundInitiated,
	RegistrationRefunded,
	RegistrationCancelledNoRefund,
	RegistrationDeleted,
}

func (s RegistrationStatus) String() string {
	return string(s)
}

func (s RegistrationStatus) IsValid() bool { return registrationStatuses.has(s) }

// IsTerminal reports whether no further transition can leave the status.
func (s RegistrationStatus) IsTerminal() bool {
	switch s {
	case RegistrationRefunded, RegistrationCancelledNoRefund, RegistrationExpiredNoPayment,
		RegistrationDeleted, RegistrationPaymentFailed:
		return true
	}
	return false
}

// AllowsCheckIn reports whether a driver in this status may be admitted at the gate.
func (s RegistrationStatus) AllowsCheckIn() bool {
	return s == RegistrationActive || s == RegistrationPaid
}

