package enums

import "testing"

func TestRegistrationStatusLabelsAreCaseSensitive(t *testing.T) {
	if !RegistrationRefundInitiated.IsValid() {
		t.Fatal("REFUND_INITIATED must be valid")
	}
	if RegistrationStatus("refund_initiated").IsValid() {
		t.Fatal("expected lowercase status to be rejected")
	}
}

func TestRegistrationStatusTerminalAndCheckIn(t *testing.T) {
	terminal := map[RegistrationStatus]bool{
		RegistrationActive:            false,
		RegistrationPaymentInitiated:  false,
		RegistrationPaid:              false,
		RegistrationRefundInitiated:   false,
		RegistrationPaymentFailed:     true,
		RegistrationExpiredNoPayment:  true,
		RegistrationRefunded:          true,
		RegistrationCancelledNoRefund: true,
		RegistrationDeleted:           true,
	}
	for status, want := range terminal {
		if status.IsTerminal() != want {
			t.Fatalf("%s terminal=%v want %v", status, status.IsTerminal(), want)
		}
	}
	if !RegistrationPaid.AllowsCheckIn() || !RegistrationActive.AllowsCheckIn() {
		t.Fatal("ACTIVE and PAID must allow check-in")
	}
	if RegistrationPaymentInitiated.AllowsCheckIn() {
		t.Fatal("PAYMENT_INITIATED must not allow check-in")
	}
}

func TestPaymentTypeIsValid(t *testing.T) {
	if !PaymentTypeOnline.IsValid() || !PaymentTypeCash.IsValid() {
		t.Fatal("CASH and ONLINE are valid")
	}
	if PaymentType("CARD").IsValid() || PaymentType("online").IsValid() {
		t.Fatal("expected invalid payment type")
	}
}

func TestOutboxEnumsRejectUnknownLabels(t *testing.T) {
	if OutboxEventType("order_created").IsValid() || !EventEventCancelled.IsValid() {
		t.Fatal("event type validation mismatch")
	}
	if OutboxAggregateType("vendor").IsValid() || !AggregateEvent.IsValid() {
		t.Fatal("aggregate type validation mismatch")
	}
	if LedgerEventType("payout").IsValid() || !LedgerRefundSettled.IsValid() {
		t.Fatal("ledger event type validation mismatch")
	}
}

func TestEventStatusAcceptsRegistrations(t *testing.T) {
	if !EventStatusActive.AcceptsRegistrations() {
		t.Fatal("active events accept registrations")
	}
	if EventStatusCancelled.AcceptsRegistrations() || EventStatusDeleted.AcceptsRegistrations() {
		t.Fatal("closed events must not accept registrations")
	}
}
