package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist or is no
// longer active in the catalog.
var ErrNotFound = errors.New("product not found")

// Product represents a catalog item available for purchase. Price and Stock
// reflect the catalog's state at lookup time; checkout re-fetches both
// rather than trusting earlier snapshots.
type Product struct {
	ID     string
	Name   string
	SKU    string
	Price  decimal.Decimal
	Stock  int
	Active bool
}

// Repository defines read operations against the product catalog.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
