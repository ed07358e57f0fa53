package enums

// LedgerEventType is the ledger_event_type column. Each money movement on a
// registration appends exactly one row of one of these types.
type LedgerEventType string

const (
	LedgerPaymentCaptured LedgerEventType = "payment_captured"
	LedgerRefundRequested LedgerEventType = "refund_requested"
	LedgerRefundSettled   LedgerEventType = "refund_settled"
)

var ledgerEventTypes = closedSet[LedgerEventType]{LedgerPaymentCaptured, LedgerRefundRequested, LedgerRefundSettled}

func (t LedgerEventType) IsValid() bool { return ledgerEventTypes.has(t) }
