package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status enumerates the order lifecycle states. Orders are never deleted;
// status transitions are the only mutation after commit.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusShipped   Status = "shipped"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

// transitions maps each status to the statuses reachable from it.
var transitions = map[Status][]Status{
	StatusPending:   {StatusPaid, StatusCancelled},
	StatusPaid:      {StatusShipped, StatusCancelled, StatusRefunded},
	StatusShipped:   {StatusRefunded},
	StatusCancelled: {StatusRefunded},
	StatusRefunded:  {},
}

var (
	// ErrNotFound is returned when a requested order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrEmptyCart is returned when checkout is attempted on a cart with no items.
	ErrEmptyCart = errors.New("cart has no items")
	// ErrCartCheckedOut is returned when the cart was already consumed by an order.
	ErrCartCheckedOut = errors.New("cart already checked out")
	// ErrConcurrentStockConflict is returned when another checkout consumed
	// the stock between validation and commit. The cart stays open; the
	// caller must re-quote.
	ErrConcurrentStockConflict = errors.New("stock changed concurrently")
)

// InsufficientStockError indicates a line item's requested quantity exceeds
// the stock available at validation time.
type InsufficientStockError struct {
	ProductID string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: available %d, requested %d",
		e.ProductID, e.Available, e.Requested)
}

// ProductUnavailableError indicates a cart line references a product that no
// longer exists or is inactive.
type ProductUnavailableError struct {
	ProductID string
}

func (e *ProductUnavailableError) Error() string {
	return fmt.Sprintf("product %s is no longer available", e.ProductID)
}

// CatalogError indicates an infrastructure failure while re-validating cart
// lines against the catalog.
type CatalogError struct {
	Err error
}

func (e *CatalogError) Error() string {
	return fmt.Sprintf("catalog unavailable: %s", e.Err)
}

func (e *CatalogError) Unwrap() error { return e.Err }

// InvalidTransitionError indicates a status change not permitted by the
// order lifecycle.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order transition %s -> %s", e.From, e.To)
}

// Item is a line item frozen into an order at commit time. UnitPrice is the
// live catalog price at checkout, not the cart's earlier snapshot.
type Item struct {
	ProductID string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
	LineTotal decimal.Decimal
}

// Order is the immutable record produced by a committed checkout. Only
// Status changes afterwards, via TransitionTo.
type Order struct {
	ID         string
	Owner      string
	Items      []Item
	CouponCode string
	Subtotal   decimal.Decimal
	Discount   decimal.Decimal
	Tax        decimal.Decimal
	Shipping   decimal.Decimal
	Total      decimal.Decimal
	Status     Status
	CreatedAt  time.Time
}

// TransitionTo moves the order to the next status, rejecting moves the
// lifecycle does not permit.
func (o *Order) TransitionTo(next Status) error {
	for _, allowed := range transitions[o.Status] {
		if allowed == next {
			o.Status = next
			return nil
		}
	}
	return &InvalidTransitionError{From: o.Status, To: next}
}

// LedgerEntry records one stock delta caused by an order, for audit and
// rollback. Entries are append-only.
type LedgerEntry struct {
	OrderID   string
	ProductID string
	Delta     int
}

// Commit bundles everything that must be persisted atomically when a
// checkout succeeds: the order itself, the stock decrements (as ledger
// deltas), the coupon use, and the cart transition to checked_out.
type Commit struct {
	Order      *Order
	CartID     string
	CouponCode string
	Ledger     []LedgerEntry
}

// Repository defines persistence operations for orders. Commit must be
// all-or-nothing: it applies every ledger delta as a conditional
// decrement-if-sufficient, increments the coupon use counter only while
// under its limit, persists the order, and marks the cart checked out — or
// does none of those. Conditional failures surface as
// ErrConcurrentStockConflict and coupon.ErrCouponExhausted respectively.
type Repository interface {
	Commit(ctx context.Context, c *Commit) error
	GetByID(ctx context.Context, id string) (*Order, error)
	UpdateStatus(ctx context.Context, id string, next Status) error
}
