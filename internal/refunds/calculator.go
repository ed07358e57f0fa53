package refunds

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	fullRefundAfter = 72 * time.Hour
	halfRefundAfter = 24 * time.Hour
)

// RefundPercent returns the share of the payment returned when a driver
// cancels at now. Boundaries are exclusive: exactly 72h before the start
// already falls into the 50% tier.
func RefundPercent(eventStart, now time.Time) int {
	until := eventStart.Sub(now)
	switch {
	case until > fullRefundAfter:
		return 100
	case until > halfRefundAfter:
		return 50
	default:
		return 0
	}
}

// CalculateRefundAmount applies RefundPercent to the original amount in
// minor units, rounding half away from zero.
func CalculateRefundAmount(eventStart time.Time, originalCents int64, now time.Time) int64 {
	pct := RefundPercent(eventStart, now)
	if pct == 0 || originalCents <= 0 {
		return 0
	}
	return decimal.NewFromInt(originalCents).
		Mul(decimal.NewFromInt(int64(pct))).
		Div(decimal.NewFromInt(100)).
		Round(0).
		IntPart()
}
