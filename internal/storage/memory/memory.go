// Package memory implements every persistence port of the checkout engine
// in process memory, guarded by a single mutex. It backs the unit and
// concurrency tests and is usable for embedded or demo setups.
//
// The commit path mirrors the SQL backend's semantics: a two-pass
// validate-then-apply under one lock gives the same
// decrement-if-sufficient / increment-if-under-limit atomicity the
// conditional UPDATEs provide in PostgreSQL.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/kastoma-checkout/internal/domain/cart"
	"github.com/xenking/kastoma-checkout/internal/domain/coupon"
	"github.com/xenking/kastoma-checkout/internal/domain/order"
	"github.com/xenking/kastoma-checkout/internal/domain/product"
)

var (
	_ product.Repository = (*productRepo)(nil)
	_ coupon.Repository  = (*couponRepo)(nil)
	_ cart.Repository    = (*cartRepo)(nil)
	_ order.Repository   = (*orderRepo)(nil)
)

// Store holds all in-memory state. The per-port repositories returned by
// Products, Coupons, Carts, and Orders are views sharing this state and its
// lock.
type Store struct {
	mu       sync.Mutex
	products map[string]product.Product
	coupons  map[string]coupon.Rule
	carts    map[string]*cart.Cart // by cart ID
	orders   map[string]*order.Order
	ledger   []order.LedgerEntry
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		products: make(map[string]product.Product),
		coupons:  make(map[string]coupon.Rule),
		carts:    make(map[string]*cart.Cart),
		orders:   make(map[string]*order.Order),
	}
}

// Products returns the catalog view of the store.
func (s *Store) Products() product.Repository { return &productRepo{s} }

// Coupons returns the coupon lookup view of the store.
func (s *Store) Coupons() coupon.Repository { return &couponRepo{s} }

// Carts returns the cart persistence view of the store.
func (s *Store) Carts() cart.Repository { return &cartRepo{s} }

// Orders returns the order persistence view of the store.
func (s *Store) Orders() order.Repository { return &orderRepo{s} }

// SetProduct inserts or replaces a catalog product.
func (s *Store) SetProduct(p product.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

// SetRule inserts or replaces a coupon rule.
func (s *Store) SetRule(r coupon.Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coupons[r.Code] = r
}

// Stock returns the current stock level for a product, or -1 when unknown.
func (s *Store) Stock(productID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return -1
	}
	return p.Stock
}

// Rule returns the stored coupon rule for a code.
func (s *Store) Rule(code string) (coupon.Rule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.coupons[code]
	return r, ok
}

// Ledger returns a copy of all recorded stock ledger entries.
func (s *Store) Ledger() []order.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.ledger)
}

type productRepo struct{ s *Store }

func (r *productRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (r *productRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	products := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.s.products[id]; ok {
			products = append(products, p)
		}
	}
	return products, nil
}

type couponRepo struct{ s *Store }

func (r *couponRepo) FindByCode(_ context.Context, code string) (*coupon.Rule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rule, ok := r.s.coupons[code]
	if !ok {
		return nil, coupon.ErrCouponNotFound
	}
	return &rule, nil
}

type cartRepo struct{ s *Store }

func (r *cartRepo) GetOpen(_ context.Context, owner string) (*cart.Cart, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.openCartLocked(owner).Clone(), nil
}

func (r *cartRepo) Get(_ context.Context, id string) (*cart.Cart, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.carts[id]
	if !ok {
		return nil, cart.ErrNotFound
	}
	return c.Clone(), nil
}

// Mutate runs fn on the owner's open cart under the store lock, so same-cart
// mutations serialize and fn always sees the latest committed items. fn gets
// a copy; its changes are written back only on success.
func (r *cartRepo) Mutate(_ context.Context, owner string, fn func(c *cart.Cart) error) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored := r.openCartLocked(owner)
	c := stored.Clone()
	if err := fn(c); err != nil {
		return err
	}
	stored.Items = slices.Clone(c.Items)
	stored.UpdatedAt = time.Now()
	return nil
}

// openCartLocked finds or creates the owner's open cart. Callers hold s.mu.
func (r *cartRepo) openCartLocked(owner string) *cart.Cart {
	for _, c := range r.s.carts {
		if c.Owner == owner && c.Status == cart.StatusOpen {
			return c
		}
	}
	now := time.Now()
	c := &cart.Cart{
		ID:        uuid.New().String(),
		Owner:     owner,
		Status:    cart.StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.s.carts[c.ID] = c
	return c
}

type orderRepo struct{ s *Store }

// Commit has the same all-or-nothing semantics as the SQL backend. The
// first pass validates every conditional under the lock; only when all pass
// does the second pass apply any effect.
func (r *orderRepo) Commit(_ context.Context, c *order.Commit) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	// Pass 1: validate.
	for _, entry := range c.Ledger {
		p, ok := r.s.products[entry.ProductID]
		if !ok || p.Stock < -entry.Delta {
			return errors.Wrapf(order.ErrConcurrentStockConflict, "product %s", entry.ProductID)
		}
	}
	if c.CouponCode != "" {
		rule, ok := r.s.coupons[c.CouponCode]
		if !ok {
			return coupon.ErrCouponNotFound
		}
		if rule.MaxUses > 0 && rule.Uses >= rule.MaxUses {
			return errors.Wrapf(coupon.ErrCouponExhausted, "coupon %s", c.CouponCode)
		}
	}
	stored, ok := r.s.carts[c.CartID]
	if !ok || stored.Status != cart.StatusOpen {
		return errors.Wrapf(order.ErrConcurrentStockConflict, "cart %s", c.CartID)
	}

	// Pass 2: apply.
	for _, entry := range c.Ledger {
		p := r.s.products[entry.ProductID]
		p.Stock += entry.Delta
		r.s.products[entry.ProductID] = p
	}
	if c.CouponCode != "" {
		rule := r.s.coupons[c.CouponCode]
		rule.Uses++
		r.s.coupons[c.CouponCode] = rule
	}
	o := *c.Order
	o.Items = slices.Clone(c.Order.Items)
	o.CreatedAt = time.Now()
	r.s.orders[o.ID] = &o
	r.s.ledger = append(r.s.ledger, c.Ledger...)
	stored.Status = cart.StatusCheckedOut
	stored.UpdatedAt = time.Now()
	return nil
}

func (r *orderRepo) GetByID(_ context.Context, id string) (*order.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	cp.Items = slices.Clone(o.Items)
	return &cp, nil
}

func (r *orderRepo) UpdateStatus(_ context.Context, id string, next order.Status) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	return o.TransitionTo(next)
}
