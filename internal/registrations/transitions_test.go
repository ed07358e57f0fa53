package registrations

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pitlane-hq/pitlane-backend/pkg/enums"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to enums.RegistrationStatus
		want     bool
	}{
		{enums.RegistrationPaymentInitiated, enums.RegistrationPaid, true},
		{enums.RegistrationPaymentInitiated, enums.RegistrationExpiredNoPayment, true},
		{enums.RegistrationPaid, enums.RegistrationRefundInitiated, true},
		{enums.RegistrationRefundInitiated, enums.RegistrationRefunded, true},
		{enums.RegistrationActive, enums.RegistrationDeleted, true},
		{enums.RegistrationPaid, enums.RegistrationPaymentInitiated, false},
		{enums.RegistrationRefunded, enums.RegistrationPaid, false},
		{enums.RegistrationActive, enums.RegistrationPaid, false},
		{enums.RegistrationExpiredNoPayment, enums.RegistrationPaid, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestNothingLeavesTerminalStatuses(t *testing.T) {
	for _, from := range []enums.RegistrationStatus{
		enums.RegistrationRefunded,
		enums.RegistrationCancelledNoRefund,
		enums.RegistrationExpiredNoPayment,
		enums.RegistrationDeleted,
		enums.RegistrationPaymentFailed,
	} {
		assert.True(t, from.IsTerminal())
		assert.Empty(t, transitions[from], "terminal status %s has outgoing edges", from)
	}
}

func TestInitialStatus(t *testing.T) {
	assert.Equal(t, enums.RegistrationActive, InitialStatus(enums.PaymentTypeCash))
	assert.Equal(t, enums.RegistrationPaymentInitiated, InitialStatus(enums.PaymentTypeOnline))
}
