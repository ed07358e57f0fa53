package registrations

import "github.com/pitlane-hq/pitlane-backend/pkg/enums"

// transitions lists every edge of the registration lifecycle. Anything not
// listed, PAID -> PAYMENT_INITIATED included, is rejected by the repository.
var transitions = map[enums.RegistrationStatus][]enums.RegistrationStatus{
	enums.RegistrationActive: {
		enums.RegistrationDeleted,
		enums.RegistrationCancelledNoRefund,
	},
	enums.RegistrationPaymentInitiated: {
		enums.RegistrationPaid,
		enums.RegistrationPaymentFailed,
		enums.RegistrationExpiredNoPayment,
		enums.RegistrationRefundInitiated,
		enums.RegistrationRefunded,
	},
	enums.RegistrationPaid: {
		enums.RegistrationRefundInitiated,
		enums.RegistrationRefunded,
	},
	enums.RegistrationRefundInitiated: {
		enums.RegistrationRefunded,
		enums.RegistrationCancelledNoRefund,
	},
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to enums.RegistrationStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// InitialStatus is the status a new registration starts in.
func InitialStatus(paymentType enums.PaymentType) enums.RegistrationStatus {
	if paymentType == enums.PaymentTypeOnline {
		return enums.RegistrationPaymentInitiated
	}
	return enums.RegistrationActive
}
