// Package money holds the fixed-point rules for amounts: two fractional
// digits, platform fee rounded half-up, contractor fee as the remainder.
package money

import (
	"errors"
	"fmt"

	"github.com/cleaninghouse/escrow/internal/models"
	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits in the settlement currency (kopecks).
const Scale = 2

var ErrInvalidAmount = errors.New("invalid amount")

// MaxAmount is the largest value a NUMERIC(12,2) column can hold.
var MaxAmount = decimal.RequireFromString("9999999999.99")

var commissionRates = map[string]decimal.Decimal{
	models.TierExpert:       decimal.RequireFromString("0.10"),
	models.TierProfessional: decimal.RequireFromString("0.12"),
	models.TierSpecialist:   decimal.RequireFromString("0.15"),
}

// Validate rejects zero, negative, sub-kopeck and out-of-range amounts.
func Validate(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, amount.String())
	}
	if amount.GreaterThan(MaxAmount) {
		return fmt.Errorf("%w: %s exceeds %s", ErrInvalidAmount, amount.String(), MaxAmount.StringFixed(Scale))
	}
	if !amount.Equal(amount.Truncate(Scale)) {
		return fmt.Errorf("%w: %s has more than %d fractional digits", ErrInvalidAmount, amount.String(), Scale)
	}
	return nil
}

// Parse reads a decimal string and validates it.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if err := Validate(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// CommissionRate: expert 10%, professional 12%, anything else 15%.
func CommissionRate(tier string) decimal.Decimal {
	if r, ok := commissionRates[tier]; ok {
		return r
	}
	return commissionRates[models.TierSpecialist]
}

// Split returns (platformFee, contractorFee). The platform fee is rounded
// half away from zero to kopecks and the contractor gets the exact remainder,
// so the two always sum to budget.
func Split(budget, rate decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	platformFee := budget.Mul(rate).Round(Scale)
	return platformFee, budget.Sub(platformFee)
}

// Format renders an amount the way the gateway expects it: "1500.00".
func Format(amount decimal.Decimal) string {
	return amount.StringFixed(Scale)
}
