package order

import (
	"context"
	"slices"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kastoma-checkout/internal/domain/cart"
	"github.com/xenking/kastoma-checkout/internal/domain/coupon"
	"github.com/xenking/kastoma-checkout/internal/domain/product"
)

// CheckoutRequest holds the input for finalizing an owner's open cart into
// an order.
type CheckoutRequest struct {
	Owner      string
	CouponCode string
	Address    Address
}

// Config holds the injected pricing functions for a Finalizer. Nil functions
// default to zero tax and free shipping.
type Config struct {
	Tax      TaxFunc
	Shipping ShippingFunc
}

// Finalizer turns an open cart into a committed order. A checkout call is
// self-contained: it snapshots the cart, re-validates every line against the
// live catalog, applies the coupon, computes totals, and hands the whole
// result to the order repository for an all-or-nothing commit.
type Finalizer struct {
	cfg      Config
	carts    cart.Repository
	catalog  product.Repository
	coupons  coupon.Resolver
	orders   Repository
	tracer   trace.Tracer
	commits  metric.Int64Counter
	rejects  metric.Int64Counter
}

// NewFinalizer creates a Finalizer with the required domain dependencies.
func NewFinalizer(
	cfg Config,
	carts cart.Repository,
	catalog product.Repository,
	coupons coupon.Resolver,
	orders Repository,
) (*Finalizer, error) {
	if cfg.Tax == nil {
		cfg.Tax = NoTax
	}
	if cfg.Shipping == nil {
		cfg.Shipping = FreeShipping
	}

	meter := otel.Meter("kastoma.checkout")
	commits, err := meter.Int64Counter("checkout.orders.committed")
	if err != nil {
		return nil, errors.Wrap(err, "create commit counter")
	}
	rejects, err := meter.Int64Counter("checkout.orders.rejected")
	if err != nil {
		return nil, errors.Wrap(err, "create reject counter")
	}

	return &Finalizer{
		cfg:     cfg,
		carts:   carts,
		catalog: catalog,
		coupons: coupons,
		orders:  orders,
		tracer:  otel.Tracer("kastoma.checkout"),
		commits: commits,
		rejects: rejects,
	}, nil
}

// Checkout finalizes the owner's open cart. On success the cart is marked
// checked out, stock is decremented, the coupon use (if any) is consumed,
// and the persisted order is returned. On any failure no side effect
// survives and the cart stays open.
func (f *Finalizer) Checkout(ctx context.Context, req CheckoutRequest) (*Order, error) {
	ctx, span := f.tracer.Start(ctx, "Checkout")
	defer span.End()

	o, err := f.checkout(ctx, req)
	if err != nil {
		f.rejects.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", rejectReason(err))))
		return nil, err
	}

	f.commits.Add(ctx, 1)
	zctx.From(ctx).Info("order committed",
		zap.String("order_id", o.ID),
		zap.String("owner", o.Owner),
		zap.String("total", o.Total.String()),
		zap.String("coupon", o.CouponCode),
	)
	return o, nil
}

func (f *Finalizer) checkout(ctx context.Context, req CheckoutRequest) (*Order, error) {
	// QUOTING: take a snapshot of the cart's lines. The copy shields the
	// in-flight checkout from concurrent cart mutations.
	c, err := f.carts.GetOpen(ctx, req.Owner)
	if err != nil {
		return nil, errors.Wrap(err, "get open cart")
	}
	if c.Status != cart.StatusOpen {
		return nil, ErrCartCheckedOut
	}
	lines := slices.Clone(c.Items)
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	// VALIDATING: re-fetch every product in one batch and re-price each line
	// to the live catalog price. Any single failure rejects the whole
	// checkout before a commit side effect can run.
	ids := make([]string, len(lines))
	for i, line := range lines {
		ids[i] = line.ProductID
	}
	fetched, err := f.catalog.GetByIDs(ctx, ids)
	if err != nil {
		return nil, &CatalogError{Err: err}
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	items := make([]Item, len(lines))
	ledger := make([]LedgerEntry, len(lines))
	subtotal := decimal.Zero
	for i, line := range lines {
		p, ok := byID[line.ProductID]
		if !ok || !p.Active {
			return nil, &ProductUnavailableError{ProductID: line.ProductID}
		}
		if p.Stock < line.Quantity {
			return nil, &InsufficientStockError{
				ProductID: line.ProductID,
				Available: p.Stock,
				Requested: line.Quantity,
			}
		}

		qty := decimal.NewFromInt(int64(line.Quantity))
		lineTotal := p.Price.Mul(qty)
		items[i] = Item{
			ProductID: p.ID,
			Name:      p.Name,
			UnitPrice: p.Price,
			Quantity:  line.Quantity,
			LineTotal: lineTotal,
		}
		ledger[i] = LedgerEntry{ProductID: p.ID, Delta: -line.Quantity}
		subtotal = subtotal.Add(lineTotal)
	}

	// Coupon quote. Usage is consumed only inside the commit.
	discount := decimal.Zero
	if req.CouponCode != "" {
		d, err := f.coupons.Quote(ctx, req.CouponCode, subtotal)
		if err != nil {
			return nil, err
		}
		discount = d.Amount
	}

	tax := f.cfg.Tax(subtotal, discount, req.Address).Round(2)
	shipping := f.cfg.Shipping(items, req.Address).Round(2)

	total := subtotal.Sub(discount).Add(tax).Add(shipping)
	if total.IsNegative() {
		total = decimal.Zero
	}

	o := &Order{
		ID:         uuid.New().String(),
		Owner:      req.Owner,
		Items:      items,
		CouponCode: req.CouponCode,
		Subtotal:   subtotal.Round(2),
		Discount:   discount.Round(2),
		Tax:        tax,
		Shipping:   shipping,
		Total:      total.Round(2),
		Status:     StatusPending,
	}
	for i := range ledger {
		ledger[i].OrderID = o.ID
	}

	// COMMITTED: all four effects happen in one transaction boundary or not
	// at all. A losing stock race surfaces as ErrConcurrentStockConflict
	// with the cart left open for a re-quote.
	commit := &Commit{
		Order:      o,
		CartID:     c.ID,
		CouponCode: req.CouponCode,
		Ledger:     ledger,
	}
	if err := f.orders.Commit(ctx, commit); err != nil {
		return nil, errors.Wrap(err, "commit order")
	}

	return o, nil
}

// rejectReason maps checkout failures onto low-cardinality metric labels.
func rejectReason(err error) string {
	var (
		stockErr   *InsufficientStockError
		unavailErr *ProductUnavailableError
		catErr     *CatalogError
		lookupErr  *coupon.LookupError
	)
	switch {
	case errors.Is(err, ErrConcurrentStockConflict):
		return "stock_conflict"
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, ErrCartCheckedOut):
		return "cart_checked_out"
	case errors.As(err, &stockErr):
		return "insufficient_stock"
	case errors.As(err, &unavailErr):
		return "product_unavailable"
	case errors.As(err, &catErr):
		return "catalog_unavailable"
	case errors.As(err, &lookupErr):
		return "coupon_lookup_failed"
	case errors.Is(err, coupon.ErrCouponNotFound),
		errors.Is(err, coupon.ErrCouponExpired),
		errors.Is(err, coupon.ErrCouponExhausted),
		errors.Is(err, coupon.ErrCouponMinimumNotMet):
		return "coupon_rejected"
	default:
		return "internal"
	}
}
