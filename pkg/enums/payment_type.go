package enums

// PaymentType is how a driver pays for an event: at the venue or online.
type PaymentType string

const (
	PaymentTypeCash   PaymentType = "CASH"
	PaymentTypeOnline PaymentType = "ONLINE"
)

var paymentTypes = closedSet[PaymentType]{PaymentTypeCash, PaymentTypeOnline}

func (p PaymentType) String() string { return string(p) }

func (p PaymentType) IsValid() bool { return paymentTypes.has(p) }

