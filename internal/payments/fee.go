package payments

import "github.com/shopspring/decimal"

var (
	platformFeeRate  = decimal.RequireFromString("0.05")
	platformFeeFixed = decimal.NewFromInt(200)
)

// CalculatePlatformFeeAmount returns the application fee in minor units:
// 5% of the price, rounded, plus a fixed 2.00.
func CalculatePlatformFeeAmount(priceCents int64) int64 {
	return decimal.NewFromInt(priceCents).
		Mul(platformFeeRate).
		Round(0).
		Add(platformFeeFixed).
		IntPart()
}
