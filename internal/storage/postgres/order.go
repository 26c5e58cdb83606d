package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kastoma-checkout/internal/domain/coupon"
	"github.com/xenking/kastoma-checkout/internal/domain/order"
)

const (
	// Conditional decrement: the WHERE clause re-checks sufficiency inside
	// the transaction, so a racing checkout can never drive stock negative.
	decrementStockSQL = `UPDATE products SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2`

	// Conditional increment: consuming a use past max_uses is impossible.
	incrementCouponUsesSQL = `UPDATE coupons SET uses = uses + 1
		WHERE UPPER(code) = UPPER($1) AND (max_uses = 0 OR uses < max_uses)`

	insertOrderSQL = `INSERT INTO orders
		(id, owner, coupon_code, subtotal, discount, tax, shipping, total, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	insertOrderItemSQL = `INSERT INTO order_items
		(order_id, product_id, name, unit_price, quantity, line_total)
		VALUES ($1, $2, $3, $4, $5, $6)`

	insertLedgerEntrySQL = `INSERT INTO stock_ledger (order_id, product_id, delta)
		VALUES ($1, $2, $3)`

	checkoutCartSQL = `UPDATE carts SET status = 'checked_out', updated_at = now()
		WHERE id = $1 AND status = 'open'`

	getOrderSQL = `SELECT id, owner, coupon_code, subtotal, discount, tax, shipping,
		total, status, created_at FROM orders WHERE id = $1`

	getOrderItemsSQL = `SELECT product_id, name, unit_price, quantity, line_total
		FROM order_items WHERE order_id = $1 ORDER BY product_id`

	// FOR UPDATE serializes concurrent status transitions on the same order:
	// the second update validates against the first's committed state.
	lockOrderStatusSQL = `SELECT status FROM orders WHERE id = $1 FOR UPDATE`

	updateOrderStatusSQL = `UPDATE orders SET status = $2 WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Commit applies a checkout's full effect in a single transaction: stock
// decrements, coupon use, order rows, ledger rows, and the cart transition.
// Any conditional failure rolls everything back.
func (r *OrderRepository) Commit(ctx context.Context, c *order.Commit) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	for _, entry := range c.Ledger {
		tag, err := tx.Exec(ctx, decrementStockSQL, entry.ProductID, -entry.Delta)
		if err != nil {
			return fmt.Errorf("decrementing stock for %q: %w", entry.ProductID, err)
		}
		if tag.RowsAffected() == 0 {
			return errors.Wrapf(order.ErrConcurrentStockConflict, "product %s", entry.ProductID)
		}
	}

	if c.CouponCode != "" {
		tag, err := tx.Exec(ctx, incrementCouponUsesSQL, c.CouponCode)
		if err != nil {
			return fmt.Errorf("consuming coupon %q: %w", c.CouponCode, err)
		}
		if tag.RowsAffected() == 0 {
			return errors.Wrapf(coupon.ErrCouponExhausted, "coupon %s", c.CouponCode)
		}
	}

	o := c.Order
	_, err = tx.Exec(ctx, insertOrderSQL,
		o.ID, o.Owner, o.CouponCode,
		o.Subtotal, o.Discount, o.Tax, o.Shipping, o.Total, string(o.Status))
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	for _, item := range o.Items {
		_, err = tx.Exec(ctx, insertOrderItemSQL,
			o.ID, item.ProductID, item.Name, item.UnitPrice, item.Quantity, item.LineTotal)
		if err != nil {
			return fmt.Errorf("creating order item %q: %w", item.ProductID, err)
		}
	}
	for _, entry := range c.Ledger {
		if _, err := tx.Exec(ctx, insertLedgerEntrySQL, entry.OrderID, entry.ProductID, entry.Delta); err != nil {
			return fmt.Errorf("appending ledger entry for %q: %w", entry.ProductID, err)
		}
	}

	tag, err := tx.Exec(ctx, checkoutCartSQL, c.CartID)
	if err != nil {
		return fmt.Errorf("checking out cart %q: %w", c.CartID, err)
	}
	if tag.RowsAffected() == 0 {
		// The cart was consumed by a parallel checkout of the same owner.
		return errors.Wrapf(order.ErrConcurrentStockConflict, "cart %s", c.CartID)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit order %q: %w", o.ID, err)
	}
	return nil
}

// GetByID loads an order with its items. Returns order.ErrNotFound when no
// row matches.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	var (
		o      order.Order
		status string
	)
	err := r.pool.QueryRow(ctx, getOrderSQL, id).Scan(
		&o.ID, &o.Owner, &o.CouponCode, &o.Subtotal, &o.Discount,
		&o.Tax, &o.Shipping, &o.Total, &status, &o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("finding order %q: %w", id, err)
	}
	o.Status = order.Status(status)

	rows, err := r.pool.Query(ctx, getOrderItemsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("loading order items: %w", err)
	}
	o.Items, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Item, error) {
		var (
			item order.Item
			qty  int32
		)
		err := row.Scan(&item.ProductID, &item.Name, &item.UnitPrice, &qty, &item.LineTotal)
		item.Quantity = int(qty)
		return item, err
	})
	if err != nil {
		return nil, fmt.Errorf("loading order items: %w", err)
	}
	return &o, nil
}

// UpdateStatus transitions an order to the next lifecycle status after
// validating the move against the domain's transition graph. The status row
// stays locked from read to write, so racing transitions cannot both pass
// validation against the same stale state.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, next order.Status) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin status update: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var status string
	if err := tx.QueryRow(ctx, lockOrderStatusSQL, id).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return order.ErrNotFound
		}
		return fmt.Errorf("locking order %q: %w", id, err)
	}

	o := order.Order{ID: id, Status: order.Status(status)}
	if err := o.TransitionTo(next); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, updateOrderStatusSQL, id, string(next)); err != nil {
		return fmt.Errorf("updating order %q status: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit status update: %w", err)
	}
	return nil
}
