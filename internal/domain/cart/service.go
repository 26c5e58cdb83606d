package cart

import (
	"context"
	"slices"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kastoma-checkout/internal/domain/product"
)

// View is a read-only snapshot of a cart with its freshly computed subtotal.
type View struct {
	CartID   string
	Items    []LineItem
	Subtotal decimal.Decimal
}

// Service encapsulates cart mutation logic. All line-item math runs inside
// Repository.Mutate, so concurrent sessions of the same owner serialize per
// cart. Stock checks on mutation are optimistic: they reject obviously
// impossible quantities early, and checkout re-validates against live stock
// before committing.
type Service struct {
	carts   Repository
	catalog product.Repository
}

// NewService creates a cart Service with the required dependencies.
func NewService(carts Repository, catalog product.Repository) *Service {
	return &Service{carts: carts, catalog: catalog}
}

// Add puts quantity units of a product into the owner's open cart. When the
// product is already present the quantities sum. The current catalog price is
// snapshotted into the line item.
func (s *Service) Add(ctx context.Context, owner, productID string, quantity int) (*Cart, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	p, err := s.catalog.GetByID(ctx, productID)
	if err != nil {
		return nil, errors.Wrap(err, "get product")
	}
	if !p.Active {
		return nil, product.ErrNotFound
	}

	var out *Cart
	err = s.carts.Mutate(ctx, owner, func(c *Cart) error {
		requested := quantity
		if i := c.findItem(productID); i >= 0 {
			requested += c.Items[i].Quantity
		}
		if requested > p.Stock {
			return &OutOfStockError{ProductID: productID, Available: p.Stock, Requested: requested}
		}

		if i := c.findItem(productID); i >= 0 {
			c.Items[i].Quantity = requested
			c.Items[i].UnitPrice = p.Price
		} else {
			c.Items = append(c.Items, LineItem{
				ProductID: productID,
				Quantity:  quantity,
				UnitPrice: p.Price,
			})
		}
		out = c.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateQuantity sets the quantity of an existing line. Zero removes the
// line; negative quantities are rejected. Raising a quantity re-checks stock.
func (s *Service) UpdateQuantity(ctx context.Context, owner, productID string, quantity int) (*Cart, error) {
	if quantity < 0 {
		return nil, ErrInvalidQuantity
	}
	if quantity == 0 {
		return s.Remove(ctx, owner, productID)
	}

	// Fetched ahead of the mutation; only raising a quantity consults it.
	p, fetchErr := s.catalog.GetByID(ctx, productID)

	var out *Cart
	err := s.carts.Mutate(ctx, owner, func(c *Cart) error {
		i := c.findItem(productID)
		if i < 0 {
			return product.ErrNotFound
		}

		if quantity > c.Items[i].Quantity {
			if fetchErr != nil {
				return errors.Wrap(fetchErr, "get product")
			}
			if quantity > p.Stock {
				return &OutOfStockError{ProductID: productID, Available: p.Stock, Requested: quantity}
			}
			c.Items[i].UnitPrice = p.Price
		}
		c.Items[i].Quantity = quantity
		out = c.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Remove deletes a line from the cart. Removing an absent product is a no-op,
// not an error.
func (s *Service) Remove(ctx context.Context, owner, productID string) (*Cart, error) {
	var out *Cart
	err := s.carts.Mutate(ctx, owner, func(c *Cart) error {
		if i := c.findItem(productID); i >= 0 {
			c.Items = slices.Delete(c.Items, i, i+1)
		}
		out = c.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ViewCart returns the owner's open cart items with the subtotal recomputed
// from scratch.
func (s *Service) ViewCart(ctx context.Context, owner string) (*View, error) {
	c, err := s.carts.GetOpen(ctx, owner)
	if err != nil {
		return nil, errors.Wrap(err, "get open cart")
	}
	return &View{
		CartID:   c.ID,
		Items:    slices.Clone(c.Items),
		Subtotal: c.Subtotal(),
	}, nil
}

// Clear empties the owner's open cart.
func (s *Service) Clear(ctx context.Context, owner string) error {
	return s.carts.Mutate(ctx, owner, func(c *Cart) error {
		c.Items = nil
		return nil
	})
}
