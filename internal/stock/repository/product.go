package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"github.com/farmaflow/farmaflow-backend/pkg/database"
	"github.com/farmaflow/farmaflow-backend/pkg/errors"
)

// Product is the stock subsystem's read-only view of the catalog.
// Product CRUD lives in the catalog service; this repository only
// resolves ids and barcodes for allocation and scan verification.
type Product struct {
	ID        string          `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	Barcode   *string         `db:"barcode" json:"barcode,omitempty"`
	SalePrice decimal.Decimal `db:"sale_price" json:"sale_price"`
	IsActive  bool            `db:"is_active" json:"is_active"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// ProductRepository looks up catalog products
type ProductRepository struct {
	db *database.DB
}

// NewProductRepository creates a new product repository
func NewProductRepository(db *database.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// GetByID gets an active product by ID
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*Product, error) {
	var product Product
	query := `SELECT * FROM products WHERE id = $1 AND is_active = true`
	if err := r.db.GetContext(ctx, &product, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("product")
		}
		return nil, err
	}
	return &product, nil
}

// GetByBarcode gets an active product by barcode
func (r *ProductRepository) GetByBarcode(ctx context.Context, barcode string) (*Product, error) {
	var product Product
	query := `SELECT * FROM products WHERE barcode = $1 AND is_active = true`
	if err := r.db.GetContext(ctx, &product, query, barcode); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("product")
		}
		return nil, err
	}
	return &product, nil
}
