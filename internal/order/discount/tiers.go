package discount

import (
	"math"

	"github.com/shopspring/decimal"
)

// Tier is a volume discount band for corporate orders. MaxQty of
// math.MaxInt means unbounded.
type Tier struct {
	MinQty  int `json:"minQty"`
	MaxQty  int `json:"maxQty"`
	Percent int `json:"percent"`
}

// Tiers are ordered by MinQty and do not overlap.
var Tiers = []Tier{
	{MinQty: 50, MaxQty: 99, Percent: 10},
	{MinQty: 100, MaxQty: 149, Percent: 12},
	{MinQty: 150, MaxQty: 199, Percent: 15},
	{MinQty: 200, MaxQty: math.MaxInt, Percent: 20},
}

// Calculation is the result of applying the tier table to an order.
type Calculation struct {
	Percent        int             `json:"percent"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	FinalAmount    decimal.Decimal `json:"finalAmount"`
}

// TierFor returns the tier containing qty.
func TierFor(qty int) (Tier, bool) {
	for _, t := range Tiers {
		if qty >= t.MinQty && qty <= t.MaxQty {
			return t, true
		}
	}
	return Tier{}, false
}

// Calculate applies the tier for qty to total. The discount is rounded to
// two decimals, half away from zero.
func Calculate(total decimal.Decimal, qty int) Calculation {
	tier, ok := TierFor(qty)
	if !ok {
		return Calculation{DiscountAmount: decimal.Zero, FinalAmount: total}
	}
	amount := total.Mul(decimal.NewFromInt(int64(tier.Percent))).Div(decimal.NewFromInt(100)).Round(2)
	return Calculation{
		Percent:        tier.Percent,
		DiscountAmount: amount,
		FinalAmount:    total.Sub(amount),
	}
}

// NextTier returns the first tier whose MinQty is above qty, for upsell
// hints. None exists at or above the top tier.
func NextTier(qty int) (Tier, bool) {
	for _, t := range Tiers {
		if t.MinQty > qty {
			return t, true
		}
	}
	return Tier{}, false
}
