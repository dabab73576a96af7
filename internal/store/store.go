package store

import (
	"context"
	"database/sql"

	"github.com/safar/go-order-engine/internal/database"
	"github.com/safar/go-order-engine/internal/models"
)

// Store binds the query functions in this package to a connection pool.
// Multi-statement writes run in a transaction retried on serialization and
// deadlock failures.
type Store struct {
	db     *sql.DB
	txOpts database.TxOptions
}

func New(db *sql.DB) *Store {
	return &Store{db: db, txOpts: database.DefaultTxOptions()}
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) GetProductSnapshot(ctx context.Context, id int64) (*models.ProductSnapshot, error) {
	return GetProductSnapshot(ctx, s.db, id)
}

func (s *Store) ProductExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (s *Store) GetProductTitles(ctx context.Context, ids []int64) (map[int64]string, error) {
	return GetProductTitles(ctx, s.db, ids)
}

func (s *Store) ReserveStock(ctx context.Context, productID int64, quantity int) (int, error) {
	return ReserveStock(ctx, s.db, productID, quantity)
}

func (s *Store) ReleaseStock(ctx context.Context, productID int64, quantity int) error {
	return database.WithRetry(ctx, s.db, s.txOpts, func(tx *sql.Tx) error {
		return ReleaseStock(ctx, tx, productID, quantity)
	})
}

func (s *Store) GetUserSummary(ctx context.Context, id int64) (*models.UserSummary, error) {
	return GetUserSummary(ctx, s.db, id)
}

func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	return database.WithRetry(ctx, s.db, s.txOpts, func(tx *sql.Tx) error {
		return CreateOrder(ctx, tx, order)
	})
}

func (s *Store) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return GetOrder(ctx, s.db, id)
}

func (s *Store) ListOrders(ctx context.Context, filter OrderFilter) (*OffsetPage[*models.Order], error) {
	return ListOrders(ctx, s.db, filter)
}

func (s *Store) ListOrdersCursor(ctx context.Context, userID int64, cursor string, limit int) (*CursorPage[*models.Order], error) {
	return ListOrdersCursor(ctx, s.db, userID, cursor, limit)
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id int64, from, to string) (*models.Order, error) {
	return UpdateOrderStatus(ctx, s.db, id, from, to)
}

func (s *Store) MarkOrderPaid(ctx context.Context, id int64, status string) (*models.Order, error) {
	return MarkOrderPaid(ctx, s.db, id, status)
}

func (s *Store) UpdateOrderDetails(ctx context.Context, id int64, version int, update OrderDetailsUpdate) (*models.Order, error) {
	return UpdateOrderDetails(ctx, s.db, id, version, update)
}

func (s *Store) DeleteOrder(ctx context.Context, id int64) error {
	return DeleteOrder(ctx, s.db, id)
}

func (s *Store) GetOrderStats(ctx context.Context) (*models.OrderStats, error) {
	return GetOrderStats(ctx, s.db)
}
