package cart

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/safar/go-order-engine/internal/database"
	"github.com/safar/go-order-engine/internal/models"
)

type PostgresRepository struct {
	db     *sql.DB
	txOpts database.TxOptions
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db, txOpts: database.DefaultTxOptions()}
}

func (p *PostgresRepository) GetCart(ctx context.Context, owner models.Identity) (*models.Cart, error) {
	cart := &models.Cart{Items: []models.CartItem{}}
	var id int64
	var userID sql.NullInt64
	var token sql.NullString

	err := p.db.QueryRowContext(ctx,
		`SELECT id, user_id, token, created_at, updated_at FROM carts WHERE owner_key = $1`,
		owner.CartKey(),
	).Scan(&id, &userID, &token, &cart.CreatedAt, &cart.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}

	cart.ID = strconv.FormatInt(id, 10)
	if userID.Valid {
		uid := userID.Int64
		cart.UserID = &uid
	}
	cart.Token = token.String

	rows, err := p.db.QueryContext(ctx,
		`SELECT id, product_id, count, added_at
		 FROM cart_items
		 WHERE cart_id = $1
		 ORDER BY added_at, id`,
		id)
	if err != nil {
		return nil, fmt.Errorf("get cart items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item models.CartItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.Count, &item.AddedAt); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		cart.Items = append(cart.Items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return cart, nil
}

func (p *PostgresRepository) AddItem(ctx context.Context, owner models.Identity, productID int64, count int) error {
	var userID sql.NullInt64
	var token sql.NullString
	if owner.UserID != 0 {
		userID = sql.NullInt64{Int64: owner.UserID, Valid: true}
	} else {
		token = sql.NullString{String: owner.Token, Valid: true}
	}

	err := database.WithRetry(ctx, p.db, p.txOpts, func(tx *sql.Tx) error {
		var cartID int64
		err := tx.QueryRowContext(ctx,
			`INSERT INTO carts (owner_key, user_id, token, created_at, updated_at)
			 VALUES ($1, $2, $3, NOW(), NOW())
			 ON CONFLICT (owner_key) DO UPDATE SET updated_at = NOW()
			 RETURNING id`,
			owner.CartKey(), userID, token,
		).Scan(&cartID)
		if err != nil {
			return fmt.Errorf("upsert cart: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO cart_items (id, cart_id, product_id, count, added_at)
			 VALUES ($1, $2, $3, $4, NOW())
			 ON CONFLICT (cart_id, product_id) DO UPDATE SET count = cart_items.count + EXCLUDED.count`,
			uuid.NewString(), cartID, productID, count)
		if err != nil {
			return fmt.Errorf("upsert cart item: %w", err)
		}

		return nil
	})
	if database.IsForeignKeyViolation(err) {
		return database.ErrProductNotFound
	}
	return err
}

func itemMatch(ref ItemRef) (string, any) {
	if ref.ByProduct() {
		return "cart_items.product_id = $2", ref.ProductID
	}
	return "cart_items.id = $2", ref.ItemID
}

func (p *PostgresRepository) SetItemCount(ctx context.Context, owner models.Identity, ref ItemRef, count int) error {
	cond, arg := itemMatch(ref)

	return database.WithRetry(ctx, p.db, p.txOpts, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE cart_items SET count = $3
			 FROM carts
			 WHERE cart_items.cart_id = carts.id AND carts.owner_key = $1 AND `+cond,
			owner.CartKey(), arg, count)
		if err != nil {
			return fmt.Errorf("update cart item: %w", err)
		}

		return p.touch(ctx, tx, owner, result)
	})
}

func (p *PostgresRepository) RemoveItem(ctx context.Context, owner models.Identity, ref ItemRef) error {
	cond, arg := itemMatch(ref)

	return database.WithRetry(ctx, p.db, p.txOpts, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`DELETE FROM cart_items
			 USING carts
			 WHERE cart_items.cart_id = carts.id AND carts.owner_key = $1 AND `+cond,
			owner.CartKey(), arg)
		if err != nil {
			return fmt.Errorf("remove cart item: %w", err)
		}

		return p.touch(ctx, tx, owner, result)
	})
}

// touch bumps the cart timestamp after an item write, or reports which of the
// cart and the item was missing when the write matched nothing.
func (p *PostgresRepository) touch(ctx context.Context, tx *sql.Tx, owner models.Identity, itemResult sql.Result) error {
	itemRows, err := itemResult.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	result, err := tx.ExecContext(ctx, `UPDATE carts SET updated_at = NOW() WHERE owner_key = $1`, owner.CartKey())
	if err != nil {
		return fmt.Errorf("touch cart: %w", err)
	}

	cartRows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	switch {
	case cartRows == 0:
		return ErrCartNotFound
	case itemRows == 0:
		return ErrItemNotFound
	}
	return nil
}

func (p *PostgresRepository) DeleteCart(ctx context.Context, owner models.Identity) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM carts WHERE owner_key = $1`, owner.CartKey()); err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	return nil
}
