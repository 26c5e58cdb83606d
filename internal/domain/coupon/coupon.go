package coupon

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Kind enumerates the supported coupon discount strategies.
type Kind string

const (
	// KindPercentage applies a percentage-based discount to the subtotal.
	KindPercentage Kind = "percentage"
	// KindFixedAmount applies a fixed monetary discount capped at the subtotal.
	KindFixedAmount Kind = "fixed_amount"
)

var (
	// ErrCouponNotFound is returned when no rule exists for a coupon code.
	ErrCouponNotFound = errors.New("coupon not found")
	// ErrCouponExpired is returned when a coupon is outside its valid time window.
	ErrCouponExpired = errors.New("coupon expired")
	// ErrCouponExhausted is returned when a coupon has no uses left. It can
	// surface both at quote time and, under contention, at commit time.
	ErrCouponExhausted = errors.New("coupon usage limit reached")
	// ErrCouponMinimumNotMet is returned when the subtotal is below the
	// coupon's minimum order value.
	ErrCouponMinimumNotMet = errors.New("order below coupon minimum")
)

// LookupError indicates an infrastructure failure while resolving a coupon
// code, as opposed to the code simply being unknown.
type LookupError struct {
	Code string
	Err  error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("coupon lookup %q: %s", e.Code, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// Rule defines a coupon's discount behaviour and eligibility constraints.
// Uses is the counter state observed at lookup; only an order commit
// increments it.
type Rule struct {
	Code          string
	Kind          Kind
	Value         decimal.Decimal
	MinOrderValue decimal.Decimal
	MaxDiscount   decimal.Decimal
	Description   string
	ValidFrom     *time.Time
	ValidUntil    *time.Time
	MaxUses       int
	Uses          int
}

// Discount holds a computed discount amount and a human-readable description.
type Discount struct {
	Amount      decimal.Decimal
	Description string
}

// Repository provides lookup of coupon rules by their code. Implementations
// return ErrCouponNotFound for unknown or inactive codes.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Rule, error)
}
