// Command seed-db bootstraps the schema and loads products and coupon rules
// from JSON seed files.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kastoma-checkout/internal/storage/postgres"
)

const (
	upsertProductSQL = `INSERT INTO products (id, name, sku, price, stock, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, sku = EXCLUDED.sku, price = EXCLUDED.price,
			stock = EXCLUDED.stock, active = EXCLUDED.active, updated_at = now()`

	upsertCouponSQL = `INSERT INTO coupons
		(code, kind, value, min_order_value, max_discount, description,
		 valid_from, valid_until, max_uses)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (code) DO UPDATE SET
			kind = EXCLUDED.kind, value = EXCLUDED.value,
			min_order_value = EXCLUDED.min_order_value,
			max_discount = EXCLUDED.max_discount,
			description = EXCLUDED.description,
			valid_from = EXCLUDED.valid_from, valid_until = EXCLUDED.valid_until,
			max_uses = EXCLUDED.max_uses`
)

type seedProduct struct {
	ID     string
	Name   string
	SKU    string
	Price  decimal.Decimal
	Stock  int
	Active bool
}

type seedCoupon struct {
	Code          string
	Kind          string
	Value         decimal.Decimal
	MinOrderValue decimal.Decimal
	MaxDiscount   decimal.Decimal
	Description   string
	ValidFrom     *time.Time
	ValidUntil    *time.Time
	MaxUses       int
}

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, cfg *Config) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("applying schema")

	if err := postgres.Bootstrap(ctx, pool); err != nil {
		return errors.Wrap(err, "apply schema")
	}

	if err := seedProducts(ctx, pool, cfg.ProductsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedCoupons(ctx, pool, cfg.CouponsFile); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	return nil
}

func seedProducts(ctx context.Context, pool *pgxpool.Pool, path string) error {
	slog.Info("reading products file", slog.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	products, err := parseProducts(data)
	if err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	for _, p := range products {
		_, err := pool.Exec(ctx, upsertProductSQL, p.ID, p.Name, p.SKU, p.Price, p.Stock, p.Active)
		if err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
	}

	slog.Info("products seeded", slog.Int("count", len(products)))
	return nil
}

func seedCoupons(ctx context.Context, pool *pgxpool.Pool, path string) error {
	slog.Info("reading coupons file", slog.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read coupons file")
	}

	coupons, err := parseCoupons(data)
	if err != nil {
		return errors.Wrap(err, "parse coupons JSON")
	}

	for _, c := range coupons {
		_, err := pool.Exec(ctx, upsertCouponSQL,
			c.Code, c.Kind, c.Value, c.MinOrderValue, c.MaxDiscount,
			c.Description, c.ValidFrom, c.ValidUntil, c.MaxUses)
		if err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.Code)
		}
	}

	slog.Info("coupons seeded", slog.Int("count", len(coupons)))
	return nil
}

func parseProducts(data []byte) ([]seedProduct, error) {
	var products []seedProduct
	d := jx.DecodeBytes(data)
	err := d.Arr(func(d *jx.Decoder) error {
		p := seedProduct{Active: true}
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "id":
				p.ID, err = d.Str()
			case "name":
				p.Name, err = d.Str()
			case "sku":
				p.SKU, err = d.Str()
			case "price":
				p.Price, err = decodeDecimal(d)
			case "stock":
				p.Stock, err = d.Int()
			case "active":
				p.Active, err = d.Bool()
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		products = append(products, p)
		return nil
	})
	return products, err
}

func parseCoupons(data []byte) ([]seedCoupon, error) {
	var coupons []seedCoupon
	d := jx.DecodeBytes(data)
	err := d.Arr(func(d *jx.Decoder) error {
		var c seedCoupon
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "code":
				c.Code, err = d.Str()
			case "kind":
				c.Kind, err = d.Str()
			case "value":
				c.Value, err = decodeDecimal(d)
			case "min_order_value":
				c.MinOrderValue, err = decodeDecimal(d)
			case "max_discount":
				c.MaxDiscount, err = decodeDecimal(d)
			case "description":
				c.Description, err = d.Str()
			case "valid_from":
				c.ValidFrom, err = decodeTime(d)
			case "valid_until":
				c.ValidUntil, err = decodeTime(d)
			case "max_uses":
				c.MaxUses, err = d.Int()
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		coupons = append(coupons, c)
		return nil
	})
	return coupons, err
}

// decodeDecimal accepts both raw JSON numbers and string-encoded numbers.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	raw, err := d.Raw()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(strings.Trim(string(raw), `"`))
}

func decodeTime(d *jx.Decoder) (*time.Time, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
