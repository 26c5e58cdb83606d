package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Resolver resolves a coupon code against a candidate subtotal and returns
// the discount it would grant. Resolving never consumes a use.
type Resolver interface {
	Quote(ctx context.Context, code string, subtotal decimal.Decimal) (*Discount, error)
}

// RepoResolver implements Resolver by looking up coupon rules from a
// Repository and evaluating them via Quote.
type RepoResolver struct {
	repo Repository
	now  func() time.Time
}

// NewRepoResolver creates a RepoResolver backed by the given Repository.
func NewRepoResolver(repo Repository) *RepoResolver {
	return &RepoResolver{repo: repo, now: time.Now}
}

// Quote looks up the rule for the given code and evaluates it against the
// subtotal. Unknown codes surface ErrCouponNotFound; any other lookup
// failure is reported as a *LookupError so callers can distinguish
// infrastructure faults from rejections.
func (r *RepoResolver) Quote(ctx context.Context, code string, subtotal decimal.Decimal) (*Discount, error) {
	rule, err := r.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrCouponNotFound) {
			return nil, ErrCouponNotFound
		}
		return nil, &LookupError{Code: code, Err: err}
	}

	d, err := Quote(rule, subtotal, r.now())
	if err != nil {
		return nil, err
	}
	return &d, nil
}
