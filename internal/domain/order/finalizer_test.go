package order

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kastoma-checkout/internal/domain/cart"
	"github.com/xenking/kastoma-checkout/internal/domain/coupon"
	"github.com/xenking/kastoma-checkout/internal/domain/product"
)

type stubCarts struct {
	cart *cart.Cart
	err  error
}

func (s *stubCarts) GetOpen(_ context.Context, _ string) (*cart.Cart, error) {
	return s.cart, s.err
}

func (s *stubCarts) Get(_ context.Context, _ string) (*cart.Cart, error) {
	return s.cart, s.err
}

func (s *stubCarts) Mutate(_ context.Context, _ string, fn func(c *cart.Cart) error) error {
	if s.err != nil {
		return s.err
	}
	return fn(s.cart)
}

type stubCatalog struct {
	products map[string]product.Product
	err      error
}

func (s *stubCatalog) GetByID(_ context.Context, id string) (*product.Product, error) {
	if s.err != nil {
		return nil, s.err
	}
	p, ok := s.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (s *stubCatalog) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type stubResolver struct {
	discount *coupon.Discount
	err      error
}

func (s *stubResolver) Quote(_ context.Context, _ string, _ decimal.Decimal) (*coupon.Discount, error) {
	return s.discount, s.err
}

type stubOrders struct {
	commitErr error
	committed *Commit
}

func (s *stubOrders) Commit(_ context.Context, c *Commit) error {
	if s.commitErr != nil {
		return s.commitErr
	}
	s.committed = c
	return nil
}

func (s *stubOrders) GetByID(_ context.Context, _ string) (*Order, error) {
	if s.committed != nil {
		return s.committed.Order, nil
	}
	return nil, ErrNotFound
}

func (s *stubOrders) UpdateStatus(_ context.Context, _ string, _ Status) error {
	return nil
}

func openCart(items ...cart.LineItem) *cart.Cart {
	return &cart.Cart{ID: "cart-1", Owner: "alice", Status: cart.StatusOpen, Items: items}
}

func testCatalog() *stubCatalog {
	return &stubCatalog{products: map[string]product.Product{
		"prod-a": {ID: "prod-a", Name: "Widget", Price: decimal.RequireFromString("10.00"), Stock: 5, Active: true},
		"prod-b": {ID: "prod-b", Name: "Gadget", Price: decimal.RequireFromString("5.00"), Stock: 1, Active: true},
	}}
}

func newTestFinalizer(t *testing.T, cfg Config, carts cart.Repository, catalog product.Repository, coupons coupon.Resolver, orders Repository) *Finalizer {
	t.Helper()
	f, err := NewFinalizer(cfg, carts, catalog, coupons, orders)
	require.NoError(t, err)
	return f
}

func line(productID string, qty int, price string) cart.LineItem {
	return cart.LineItem{ProductID: productID, Quantity: qty, UnitPrice: decimal.RequireFromString(price)}
}

func TestFinalizer_Checkout(t *testing.T) {
	ctx := context.Background()

	t.Run("commits order with recomputed totals", func(t *testing.T) {
		carts := &stubCarts{cart: openCart(line("prod-a", 2, "10.00"), line("prod-b", 1, "5.00"))}
		orders := &stubOrders{}
		f := newTestFinalizer(t, Config{}, carts, testCatalog(), &stubResolver{}, orders)

		o, err := f.Checkout(ctx, CheckoutRequest{Owner: "alice"})
		require.NoError(t, err)

		assert.NotEmpty(t, o.ID)
		assert.Equal(t, "alice", o.Owner)
		assert.Equal(t, StatusPending, o.Status)
		assert.True(t, o.Subtotal.Equal(decimal.RequireFromString("25.00")))
		assert.True(t, o.Discount.IsZero())
		assert.True(t, o.Total.Equal(decimal.RequireFromString("25.00")))

		require.NotNil(t, orders.committed)
		assert.Equal(t, "cart-1", orders.committed.CartID)
		require.Len(t, orders.committed.Ledger, 2)
		assert.Equal(t, LedgerEntry{OrderID: o.ID, ProductID: "prod-a", Delta: -2}, orders.committed.Ledger[0])
		assert.Equal(t, LedgerEntry{OrderID: o.ID, ProductID: "prod-b", Delta: -1}, orders.committed.Ledger[1])
	})

	t.Run("applies coupon discount to total", func(t *testing.T) {
		carts := &stubCarts{cart: openCart(line("prod-a", 2, "10.00"), line("prod-b", 1, "5.00"))}
		resolver := &stubResolver{discount: &coupon.Discount{
			Amount:      decimal.RequireFromString("2.50"),
			Description: "10% off",
		}}
		orders := &stubOrders{}
		f := newTestFinalizer(t, Config{}, carts, testCatalog(), resolver, orders)

		o, err := f.Checkout(ctx, CheckoutRequest{Owner: "alice", CouponCode: "SAVE10"})
		require.NoError(t, err)

		assert.Equal(t, "SAVE10", o.CouponCode)
		assert.True(t, o.Discount.Equal(decimal.RequireFromString("2.50")))
		assert.True(t, o.Total.Equal(decimal.RequireFromString("22.50")))
		assert.Equal(t, "SAVE10", orders.committed.CouponCode)
	})

	t.Run("discount covering the subtotal yields zero total", func(t *testing.T) {
		carts := &stubCarts{cart: openCart(line("prod-a", 2, "10.00"), line("prod-b", 1, "5.00"))}
		resolver := &stubResolver{discount: &coupon.Discount{Amount: decimal.RequireFromString("50.00")}}
		f := newTestFinalizer(t, Config{}, carts, testCatalog(), resolver, &stubOrders{})

		o, err := f.Checkout(ctx, CheckoutRequest{Owner: "alice", CouponCode: "FLAT50"})
		require.NoError(t, err)
		assert.True(t, o.Total.IsZero(), "total must floor at zero, got %s", o.Total)
	})

	t.Run("lines re-price to the live catalog price", func(t *testing.T) {
		// Cart snapshotted 8.00 before a price change to 10.00.
		carts := &stubCarts{cart: openCart(line("prod-a", 1, "8.00"))}
		orders := &stubOrders{}
		f := newTestFinalizer(t, Config{}, carts, testCatalog(), &stubResolver{}, orders)

		o, err := f.Checkout(ctx, CheckoutRequest{Owner: "alice"})
		require.NoError(t, err)

		require.Len(t, o.Items, 1)
		assert.True(t, o.Items[0].UnitPrice.Equal(decimal.RequireFromString("10.00")))
		assert.True(t, o.Subtotal.Equal(decimal.RequireFromString("10.00")))
	})

	t.Run("applies tax and shipping", func(t *testing.T) {
		carts := &stubCarts{cart: openCart(line("prod-a", 2, "10.00"), line("prod-b", 1, "5.00"))}
		cfg := Config{
			Tax:      FlatRateTax(decimal.NewFromInt(10)),
			Shipping: ThresholdShipping(decimal.RequireFromString("4.99"), decimal.NewFromInt(50)),
		}
		f := newTestFinalizer(t, cfg, carts, testCatalog(), &stubResolver{}, &stubOrders{})

		o, err := f.Checkout(ctx, CheckoutRequest{Owner: "alice"})
		require.NoError(t, err)

		assert.True(t, o.Tax.Equal(decimal.RequireFromString("2.50")))
		assert.True(t, o.Shipping.Equal(decimal.RequireFromString("4.99")))
		assert.True(t, o.Total.Equal(decimal.RequireFromString("32.49")))
	})

	t.Run("empty cart", func(t *testing.T) {
		carts := &stubCarts{cart: openCart()}
		f := newTestFinalizer(t, Config{}, carts, testCatalog(), &stubResolver{}, &stubOrders{})

		_, err := f.Checkout(ctx, CheckoutRequest{Owner: "alice"})
		require.ErrorIs(t, err, ErrEmptyCart)
	})

	t.Run("cart already checked out", func(t *testing.T) {
		c := openCart(line("prod-a", 1, "10.00"))
		c.Status = cart.StatusCheckedOut
		f := newTestFinalizer(t, Config{}, &stubCarts{cart: c}, testCatalog(), &stubResolver{}, &stubOrders{})

		_, err := f.Checkout(ctx, CheckoutRequest{Owner: "alice"})
		require.ErrorIs(t, err, ErrCartCheckedOut)
	})

	t.Run("insufficient stock rejects before commit", func(t *testing.T) {
		carts := &stubCarts{cart: openCart(line("prod-b", 2, "5.00"))}
		orders := &stubOrders{}
		f := newTestFinalizer(t, Config{}, carts, testCatalog(), &stubResolver{}, orders)

		_, err := f.Checkout(ctx, CheckoutRequest{Owner: "alice"})

		var stockErr *InsufficientStockError
		require.ErrorAs(t, err, &stockErr)
		assert.Equal(t, "prod-b", stockErr.ProductID)
		assert.Equal(t, 1, stockErr.Available)
		assert.Equal(t, 2, stockErr.Requested)
		assert.Nil(t, orders.committed, "commit must not run for a rejected checkout")
	})

	t.Run("product removed from catalog", func(t *testing.T) {
		carts := &stubCarts{cart: openCart(line("prod-gone", 1, "9.00"))}
		f := newTestFinalizer(t, Config{}, carts, testCatalog(), &stubResolver{}, &stubOrders{})

		_, err := f.Checkout(ctx, CheckoutRequest{Owner: "alice"})

		var unavailErr *ProductUnavailableError
		require.ErrorAs(t, err, &unavailErr)
		assert.Equal(t, "prod-gone", unavailErr.ProductID)
	})

	t.Run("inactive product treated as unavailable", func(t *testing.T) {
		catalog := testCatalog()
		catalog.products["prod-a"] = product.Product{
			ID: "prod-a", Name: "Widget", Price: decimal.RequireFromString("10.00"), Stock: 5, Active: false,
		}
		carts := &stubCarts{cart: openCart(line("prod-a", 1, "10.00"))}
		f := newTestFinalizer(t, Config{}, carts, catalog, &stubResolver{}, &stubOrders{})

		_, err := f.Checkout(ctx, CheckoutRequest{Owner: "alice"})

		var unavailErr *ProductUnavailableError
		require.ErrorAs(t, err, &unavailErr)
	})

	t.Run("catalog outage wraps as CatalogError", func(t *testing.T) {
		infraErr := errors.New("connection reset")
		carts := &stubCarts{cart: openCart(line("prod-a", 1, "10.00"))}
		f := newTestFinalizer(t, Config{}, carts, &stubCatalog{err: infraErr}, &stubResolver{}, &stubOrders{})

		_, err := f.Checkout(ctx, CheckoutRequest{Owner: "alice"})

		var catErr *CatalogError
		require.ErrorAs(t, err, &catErr)
		assert.ErrorIs(t, err, infraErr)
	})

	t.Run("coupon rejection leaves cart retryable", func(t *testing.T) {
		carts := &stubCarts{cart: openCart(line("prod-a", 1, "10.00"))}
		orders := &stubOrders{}
		resolver := &stubResolver{err: coupon.ErrCouponExpired}
		f := newTestFinalizer(t, Config{}, carts, testCatalog(), resolver, orders)

		_, err := f.Checkout(ctx, CheckoutRequest{Owner: "alice", CouponCode: "OLD"})
		require.ErrorIs(t, err, coupon.ErrCouponExpired)
		assert.Nil(t, orders.committed)
		assert.Equal(t, cart.StatusOpen, carts.cart.Status)

		// Retrying without the coupon succeeds against the same cart.
		o, err := f.Checkout(ctx, CheckoutRequest{Owner: "alice"})
		require.NoError(t, err)
		assert.True(t, o.Total.Equal(decimal.RequireFromString("10.00")))
	})

	t.Run("stock conflict at commit propagates", func(t *testing.T) {
		carts := &stubCarts{cart: openCart(line("prod-a", 1, "10.00"))}
		orders := &stubOrders{commitErr: errors.Wrap(ErrConcurrentStockConflict, "product prod-a")}
		f := newTestFinalizer(t, Config{}, carts, testCatalog(), &stubResolver{}, orders)

		_, err := f.Checkout(ctx, CheckoutRequest{Owner: "alice"})
		require.ErrorIs(t, err, ErrConcurrentStockConflict)
	})
}
