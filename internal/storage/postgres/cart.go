package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kastoma-checkout/internal/domain/cart"
)

const (
	getOpenCartSQL = `SELECT id, owner, status, created_at, updated_at
		FROM carts WHERE owner = $1 AND status = 'open'`

	// FOR UPDATE holds the cart row for the duration of a Mutate transaction,
	// serializing same-cart mutations from concurrent sessions.
	lockOpenCartSQL = `SELECT id, owner, status, created_at, updated_at
		FROM carts WHERE owner = $1 AND status = 'open' FOR UPDATE`

	getCartSQL = `SELECT id, owner, status, created_at, updated_at
		FROM carts WHERE id = $1`

	insertCartSQL = `INSERT INTO carts (id, owner, status) VALUES ($1, $2, 'open')`

	// A plain unique violation would poison the surrounding transaction, so
	// the in-tx create path resolves the race with DO NOTHING and re-reads.
	insertCartIfAbsentSQL = `INSERT INTO carts (id, owner, status) VALUES ($1, $2, 'open')
		ON CONFLICT (owner) WHERE status = 'open' DO NOTHING`

	getCartItemsSQL = `SELECT product_id, quantity, unit_price
		FROM cart_items WHERE cart_id = $1 ORDER BY product_id`

	touchCartSQL = `UPDATE carts SET updated_at = now() WHERE id = $1`

	deleteCartItemsSQL = `DELETE FROM cart_items WHERE cart_id = $1`

	insertCartItemSQL = `INSERT INTO cart_items (cart_id, product_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4)`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL. The
// partial unique index on (owner) WHERE status = 'open' enforces the
// one-open-cart-per-owner invariant even under concurrent creates.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// GetOpen returns the owner's open cart, creating an empty one when none
// exists. A create losing the unique-index race falls back to reading the
// winner's cart.
func (r *CartRepository) GetOpen(ctx context.Context, owner string) (*cart.Cart, error) {
	c, err := r.queryCart(ctx, r.pool, getOpenCartSQL, owner)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, cart.ErrNotFound) {
		return nil, err
	}

	id := uuid.New().String()
	if _, err := r.pool.Exec(ctx, insertCartSQL, id, owner); err != nil {
		// Unique violation: another session created the open cart first.
		if c, readErr := r.queryCart(ctx, r.pool, getOpenCartSQL, owner); readErr == nil {
			return c, nil
		}
		return nil, fmt.Errorf("creating cart for %q: %w", owner, err)
	}
	return r.queryCart(ctx, r.pool, getOpenCartSQL, owner)
}

// Get returns a cart by ID regardless of status. Returns cart.ErrNotFound
// when no row matches.
func (r *CartRepository) Get(ctx context.Context, id string) (*cart.Cart, error) {
	return r.queryCart(ctx, r.pool, getCartSQL, id)
}

// Mutate applies fn to the owner's open cart inside a transaction that holds
// the cart row locked, then rewrites its line items. The lock makes the
// whole read-modify-write atomic per cart: an overlapping Mutate for the
// same owner blocks until this one commits and then sees its result.
func (r *CartRepository) Mutate(ctx context.Context, owner string, fn func(c *cart.Cart) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin cart mutation: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	c, err := r.lockOpenCart(ctx, tx, owner)
	if err != nil {
		return err
	}

	if err := fn(c); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, touchCartSQL, c.ID); err != nil {
		return fmt.Errorf("touching cart %q: %w", c.ID, err)
	}
	if _, err := tx.Exec(ctx, deleteCartItemsSQL, c.ID); err != nil {
		return fmt.Errorf("clearing cart %q: %w", c.ID, err)
	}
	for _, item := range c.Items {
		if _, err := tx.Exec(ctx, insertCartItemSQL, c.ID, item.ProductID, item.Quantity, item.UnitPrice); err != nil {
			return fmt.Errorf("saving cart item %q: %w", item.ProductID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit cart mutation: %w", err)
	}
	return nil
}

// lockOpenCart returns the owner's open cart with its row locked in tx,
// creating an empty one when none exists. A create losing the unique-index
// race ends up reading (and locking) the winner's cart.
func (r *CartRepository) lockOpenCart(ctx context.Context, tx pgx.Tx, owner string) (*cart.Cart, error) {
	c, err := r.queryCart(ctx, tx, lockOpenCartSQL, owner)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, cart.ErrNotFound) {
		return nil, err
	}

	if _, err := tx.Exec(ctx, insertCartIfAbsentSQL, uuid.New().String(), owner); err != nil {
		return nil, fmt.Errorf("creating cart for %q: %w", owner, err)
	}
	return r.queryCart(ctx, tx, lockOpenCartSQL, owner)
}

// querier is the subset of pgxpool.Pool and pgx.Tx the cart queries need.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *CartRepository) queryCart(ctx context.Context, q querier, query, arg string) (*cart.Cart, error) {
	var c cart.Cart
	err := q.QueryRow(ctx, query, arg).
		Scan(&c.ID, &c.Owner, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNotFound
		}
		return nil, fmt.Errorf("finding cart: %w", err)
	}

	rows, err := q.Query(ctx, getCartItemsSQL, c.ID)
	if err != nil {
		return nil, fmt.Errorf("loading cart items: %w", err)
	}
	c.Items, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.LineItem, error) {
		var (
			item cart.LineItem
			qty  int32
		)
		err := row.Scan(&item.ProductID, &qty, &item.UnitPrice)
		item.Quantity = int(qty)
		return item, err
	})
	if err != nil {
		return nil, fmt.Errorf("loading cart items: %w", err)
	}
	return &c, nil
}
