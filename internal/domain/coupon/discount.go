package coupon

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Quote evaluates a rule against a candidate subtotal at the given time and
// returns the discount it would grant. It is pure: usage counters are never
// mutated here, so repeated quotes for the same code cannot double-count.
// The returned amount is clamped to [0, subtotal] and rounded to 2 decimal
// places.
func Quote(rule *Rule, subtotal decimal.Decimal, now time.Time) (Discount, error) {
	if rule.ValidFrom != nil && now.Before(*rule.ValidFrom) {
		return Discount{}, ErrCouponExpired
	}
	if rule.ValidUntil != nil && now.After(*rule.ValidUntil) {
		return Discount{}, ErrCouponExpired
	}

	if rule.MaxUses > 0 && rule.Uses >= rule.MaxUses {
		return Discount{}, ErrCouponExhausted
	}

	if rule.MinOrderValue.IsPositive() && subtotal.LessThan(rule.MinOrderValue) {
		return Discount{}, ErrCouponMinimumNotMet
	}

	var amount decimal.Decimal
	switch rule.Kind {
	case KindPercentage:
		amount = subtotal.Mul(rule.Value).Div(hundred)
		if rule.MaxDiscount.IsPositive() {
			amount = decimal.Min(amount, rule.MaxDiscount)
		}
	case KindFixedAmount:
		amount = decimal.Min(rule.Value, subtotal)
	default:
		return Discount{}, errors.Errorf("unsupported discount kind: %q", rule.Kind)
	}

	amount = clamp(amount, subtotal).Round(2)

	return Discount{
		Amount:      amount,
		Description: rule.Description,
	}, nil
}

// clamp bounds a discount to [0, subtotal] so the total can never go
// negative.
func clamp(amount, subtotal decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() {
		return decimal.Zero
	}
	if amount.GreaterThan(subtotal) {
		return subtotal
	}
	return amount
}
