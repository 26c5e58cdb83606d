package cart

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status enumerates the cart lifecycle states.
type Status string

const (
	// StatusOpen marks a cart that can still be mutated and checked out.
	StatusOpen Status = "open"
	// StatusCheckedOut marks a cart consumed by a committed order.
	StatusCheckedOut Status = "checked_out"
)

var (
	// ErrNotFound is returned when a cart does not exist.
	ErrNotFound = errors.New("cart not found")
	// ErrInvalidQuantity is returned for zero or negative quantities where a
	// positive quantity is required.
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
)

// OutOfStockError indicates a requested quantity exceeds the catalog's
// currently available stock.
type OutOfStockError struct {
	ProductID string
	Available int
	Requested int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("product %s out of stock: available %d, requested %d",
		e.ProductID, e.Available, e.Requested)
}

// LineItem is one product/quantity pairing within a cart. UnitPrice is the
// price snapshotted when the line was added; totals at checkout always use
// the live catalog price instead.
type LineItem struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Cart holds a single owner's open shopping cart. At most one open cart
// exists per owner at any time.
type Cart struct {
	ID        string
	Owner     string
	Status    Status
	Items     []LineItem
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Subtotal sums unit price times quantity over all line items. It is
// recomputed on every call; nothing is cached across mutations.
func (c *Cart) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range c.Items {
		qty := decimal.NewFromInt(int64(item.Quantity))
		sum = sum.Add(item.UnitPrice.Mul(qty))
	}
	return sum
}

// findItem returns the index of the line for productID, or -1.
func (c *Cart) findItem(productID string) int {
	for i, item := range c.Items {
		if item.ProductID == productID {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of the cart.
func (c *Cart) Clone() *Cart {
	cp := *c
	cp.Items = slices.Clone(c.Items)
	return &cp
}

// Repository defines persistence operations for carts.
type Repository interface {
	// GetOpen returns the owner's open cart, creating an empty one when none
	// exists.
	GetOpen(ctx context.Context, owner string) (*Cart, error)
	// Get returns a cart by its ID regardless of status.
	Get(ctx context.Context, id string) (*Cart, error)
	// Mutate applies fn to the owner's open cart (creating an empty one when
	// none exists) and persists the result. Mutations on the same cart are
	// serialized: fn always observes the latest committed state, so two
	// overlapping calls from the same owner's sessions cannot lose each
	// other's line-item math. When fn returns an error the cart is left
	// unchanged.
	Mutate(ctx context.Context, owner string, fn func(c *Cart) error) error
}
