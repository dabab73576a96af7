package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/safar/go-order-engine/internal/database"
	"github.com/safar/go-order-engine/internal/models"
	"github.com/shopspring/decimal"
)

const productColumns = `id, sku, title, description, price, price_after_discount, stock_quantity, sold, created_at, updated_at, version`

type CreateProductRequest struct {
	SKU                string
	Title              string
	Description        string
	Price              decimal.Decimal
	PriceAfterDiscount *decimal.Decimal
	Stock              int
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*models.Product, error) {
	product := &models.Product{}
	var discount decimal.NullDecimal

	err := row.Scan(
		&product.ID,
		&product.SKU,
		&product.Title,
		&product.Description,
		&product.Price,
		&discount,
		&product.StockQuantity,
		&product.Sold,
		&product.CreatedAt,
		&product.UpdatedAt,
		&product.Version,
	)
	if err != nil {
		return nil, err
	}

	if discount.Valid {
		d := discount.Decimal
		product.PriceAfterDiscount = &d
	}

	return product, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

// productCheckError turns a failed products CHECK constraint into a
// validation error on the column it guards, e.g. products_price_check
// becomes a price error. Other errors yield nil.
func productCheckError(err error) error {
	var pqErr *pq.Error
	if !database.IsCheckViolation(err) || !errors.As(err, &pqErr) {
		return nil
	}

	field := strings.TrimSuffix(strings.TrimPrefix(pqErr.Constraint, "products_"), "_check")
	if field == "" {
		field = "product"
	}
	return models.NewValidationError(field, "must not be negative")
}

func CreateProduct(ctx context.Context, q database.Querier, req CreateProductRequest) (*models.Product, error) {
	query := `
		INSERT INTO products (sku, title, description, price, price_after_discount, stock_quantity, sold, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, 0, NOW(), NOW(), 1)
		RETURNING ` + productColumns

	product, err := scanProduct(q.QueryRowContext(ctx, query,
		req.SKU, req.Title, req.Description, req.Price, nullDecimal(req.PriceAfterDiscount), req.Stock))
	if err != nil {
		if verr := productCheckError(err); verr != nil {
			return nil, verr
		}
		return nil, fmt.Errorf("create product: %w", err)
	}

	return product, nil
}

func GetProduct(ctx context.Context, q database.Querier, id int64) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	product, err := scanProduct(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

// GetProductSnapshot reads the pricing and stock fields used by order placement.
// It takes no lock: stock is re-checked atomically by ReserveStock.
func GetProductSnapshot(ctx context.Context, q database.Querier, id int64) (*models.ProductSnapshot, error) {
	snapshot := &models.ProductSnapshot{}
	var discount decimal.NullDecimal

	err := q.QueryRowContext(ctx,
		`SELECT id, title, price, price_after_discount, stock_quantity FROM products WHERE id = $1`,
		id).Scan(&snapshot.ID, &snapshot.Title, &snapshot.Price, &discount, &snapshot.StockQuantity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product snapshot: %w", err)
	}

	if discount.Valid {
		d := discount.Decimal
		snapshot.PriceAfterDiscount = &d
	}

	return snapshot, nil
}

func GetProductTitles(ctx context.Context, q database.Querier, ids []int64) (map[int64]string, error) {
	titles := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return titles, nil
	}

	rows, err := q.QueryContext(ctx, `SELECT id, title FROM products WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("get product titles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var title string
		if err := rows.Scan(&id, &title); err != nil {
			return nil, fmt.Errorf("scan product title: %w", err)
		}
		titles[id] = title
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return titles, nil
}

// UpdateProductPrice is the catalog-side price change. Orders already placed
// keep the unit price captured at placement.
func UpdateProductPrice(ctx context.Context, q database.Querier, id int64, price decimal.Decimal, discount *decimal.Decimal) error {
	result, err := q.ExecContext(ctx,
		`UPDATE products
		 SET price = $1, price_after_discount = $2, version = version + 1, updated_at = NOW()
		 WHERE id = $3`,
		price, nullDecimal(discount), id)
	if err != nil {
		if verr := productCheckError(err); verr != nil {
			return verr
		}
		return fmt.Errorf("update product price: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrProductNotFound
	}

	return nil
}

// ReserveStock decrements stock and increments sold in one conditional
// statement. It returns the remaining stock on success. When the guard fails
// it returns ErrInsufficientStock together with the stock currently available.
func ReserveStock(ctx context.Context, q database.Querier, productID int64, quantity int) (int, error) {
	var remaining int
	err := q.QueryRowContext(ctx,
		`UPDATE products
		 SET stock_quantity = stock_quantity - $1,
		     sold = sold + $1,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND stock_quantity >= $1
		 RETURNING stock_quantity`,
		quantity, productID).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("reserve stock: %w", err)
	}

	var available int
	err = q.QueryRowContext(ctx, `SELECT stock_quantity FROM products WHERE id = $1`, productID).Scan(&available)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, database.ErrProductNotFound
		}
		return 0, fmt.Errorf("read available stock: %w", err)
	}

	return available, database.ErrInsufficientStock
}

// ReleaseStock reverses a ReserveStock of the same quantity.
func ReleaseStock(ctx context.Context, q database.Querier, productID int64, quantity int) error {
	result, err := q.ExecContext(ctx,
		`UPDATE products
		 SET stock_quantity = stock_quantity + $1,
		     sold = GREATEST(sold - $1, 0),
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $2`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("release stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrProductNotFound
	}

	return nil
}
