package repository

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/grup/internal/domain/product"
	"github.com/xenking/grup/internal/sellingunit"
)

const (
	productColumns = `id, name, category, base_price, price, unit_tag, selling_units,
		image_thumbnail, image_mobile, image_tablet, image_desktop`

	listProductsSQL = `SELECT ` + productColumns + ` FROM products ORDER BY id`

	getProductByIDSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	getProductsByIDsSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1)`

	upsertProductSQL = `INSERT INTO products (` + productColumns + `, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			base_price = EXCLUDED.base_price,
			price = EXCLUDED.price,
			unit_tag = EXCLUDED.unit_tag,
			selling_units = EXCLUDED.selling_units,
			image_thumbnail = EXCLUDED.image_thumbnail,
			image_mobile = EXCLUDED.image_mobile,
			image_tablet = EXCLUDED.image_tablet,
			image_desktop = EXCLUDED.image_desktop,
			updated_at = now()`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
// Selling unit options are stored as a JSONB document.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// List returns all products from the catalog ordered by ID.
func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get product %q", id)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get product %q", id)
	}
	return &p, nil
}

// GetByIDs returns products matching any of the given IDs.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products by ids")
	}
	return pgx.CollectRows(rows, scanProduct)
}

// Upsert inserts or replaces a product.
func (r *ProductRepository) Upsert(ctx context.Context, p *product.Product) error {
	var units []byte
	if p.SellingUnits != nil {
		var err error
		if units, err = json.Marshal(p.SellingUnits); err != nil {
			return errors.Wrapf(err, "marshal selling units of %q", p.ID)
		}
	}

	_, err := r.pool.Exec(ctx, upsertProductSQL,
		p.ID, p.Name, p.Category, p.BasePrice, p.Price, p.UnitTag, units,
		p.Image.Thumbnail, p.Image.Mobile, p.Image.Tablet, p.Image.Desktop,
	)
	if err != nil {
		return errors.Wrapf(err, "upsert product %q", p.ID)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p         product.Product
		basePrice decimal.NullDecimal
		price     decimal.NullDecimal
		units     []byte
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Category, &basePrice, &price, &p.UnitTag, &units,
		&p.Image.Thumbnail, &p.Image.Mobile, &p.Image.Tablet, &p.Image.Desktop,
	)
	if err != nil {
		return p, err
	}
	p.BasePrice = basePrice
	p.Price = price

	if units != nil {
		var opts sellingunit.Options
		if err := json.Unmarshal(units, &opts); err != nil {
			return p, errors.Wrapf(err, "decode selling units of %q", p.ID)
		}
		p.SellingUnits = &opts
	}
	return p, nil
}
