package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/safar/go-order-engine/internal/database"
	"github.com/safar/go-order-engine/internal/models"
)

const orderColumns = `id, order_number, user_id, status, subtotal, tax_amount, shipping_amount, total_amount,
	payment_method, is_paid, paid_at, delivered_at,
	shipping_details, shipping_phone, shipping_city, shipping_postal_code,
	created_at, updated_at, version`

type OrderFilter struct {
	UserID   *int64
	Status   string
	IsPaid   *bool
	Page     int
	PageSize int
}

// OrderDetailsUpdate carries the admin-editable fields of an order. Nil fields
// are left unchanged.
type OrderDetailsUpdate struct {
	ShippingAddress *models.ShippingAddress
	PaymentMethod   *string
}

func generateOrderNumber() string {
	return fmt.Sprintf("ORD-%d", time.Now().UnixNano())
}

func scanOrder(row rowScanner) (*models.Order, error) {
	order := &models.Order{}
	var paidAt, deliveredAt sql.NullTime

	err := row.Scan(
		&order.ID,
		&order.OrderNumber,
		&order.UserID,
		&order.Status,
		&order.Subtotal,
		&order.TaxAmount,
		&order.ShippingAmount,
		&order.TotalAmount,
		&order.PaymentMethod,
		&order.IsPaid,
		&paidAt,
		&deliveredAt,
		&order.ShippingAddress.Details,
		&order.ShippingAddress.Phone,
		&order.ShippingAddress.City,
		&order.ShippingAddress.PostalCode,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	)
	if err != nil {
		return nil, err
	}

	if paidAt.Valid {
		t := paidAt.Time
		order.PaidAt = &t
	}
	if deliveredAt.Valid {
		t := deliveredAt.Time
		order.DeliveredAt = &t
	}
	order.Items = []models.OrderItem{}

	return order, nil
}

// CreateOrder inserts the order header and its line-item snapshots. It must run
// inside the caller's transaction so a partial order is never visible.
func CreateOrder(ctx context.Context, tx *sql.Tx, order *models.Order) error {
	if order.OrderNumber == "" {
		order.OrderNumber = generateOrderNumber()
	}

	addr := order.ShippingAddress
	err := tx.QueryRowContext(ctx,
		`INSERT INTO orders (order_number, user_id, status, subtotal, tax_amount, shipping_amount, total_amount,
		                     payment_method, is_paid, shipping_details, shipping_phone, shipping_city, shipping_postal_code,
		                     created_at, updated_at, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9, $10, $11, $12, NOW(), NOW(), 1)
		 RETURNING id, is_paid, created_at, updated_at, version`,
		order.OrderNumber, order.UserID, order.Status,
		order.Subtotal, order.TaxAmount, order.ShippingAmount, order.TotalAmount,
		order.PaymentMethod, addr.Details, addr.Phone, addr.City, addr.PostalCode,
	).Scan(&order.ID, &order.IsPaid, &order.CreatedAt, &order.UpdatedAt, &order.Version)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID

		var color sql.NullString
		if item.Color != nil {
			color = sql.NullString{String: *item.Color, Valid: true}
		}

		err = tx.QueryRowContext(ctx,
			`INSERT INTO order_items (order_id, product_id, quantity, unit_price, color, subtotal, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, NOW())
			 RETURNING id, created_at`,
			order.ID, item.ProductID, item.Quantity, item.UnitPrice, color, item.Subtotal,
		).Scan(&item.ID, &item.CreatedAt)
		if err != nil {
			return fmt.Errorf("create order item: %w", err)
		}
	}

	return nil
}

func GetOrder(ctx context.Context, q database.Querier, id int64) (*models.Order, error) {
	order, err := scanOrder(q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	if err := attachOrderItems(ctx, q, []*models.Order{order}); err != nil {
		return nil, err
	}

	return order, nil
}

// attachOrderItems loads the line items of all given orders with one query.
func attachOrderItems(ctx context.Context, q database.Querier, orders []*models.Order) error {
	if len(orders) == 0 {
		return nil
	}

	byID := make(map[int64]*models.Order, len(orders))
	ids := make([]int64, 0, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT id, order_id, product_id, quantity, unit_price, color, subtotal, created_at
		 FROM order_items
		 WHERE order_id = ANY($1)
		 ORDER BY order_id, id`,
		pq.Array(ids))
	if err != nil {
		return fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item models.OrderItem
		var color sql.NullString
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Quantity,
			&item.UnitPrice,
			&color,
			&item.Subtotal,
			&item.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		if color.Valid {
			c := color.String
			item.Color = &c
		}
		if o, ok := byID[item.OrderID]; ok {
			o.Items = append(o.Items, item)
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}

	return nil
}

func collectOrders(rows *sql.Rows) ([]*models.Order, error) {
	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

func (f OrderFilter) where() (string, []any) {
	var clauses []string
	var args []any

	if f.UserID != nil {
		args = append(args, *f.UserID)
		clauses = append(clauses, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.IsPaid != nil {
		args = append(args, *f.IsPaid)
		clauses = append(clauses, fmt.Sprintf("is_paid = $%d", len(args)))
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func ListOrders(ctx context.Context, q database.Querier, filter OrderFilter) (*OffsetPage[*models.Order], error) {
	page, pageSize := NormalizePage(filter.Page, filter.PageSize)
	where, args := filter.where()

	var total int64
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}

	offset := (page - 1) * pageSize
	query := fmt.Sprintf(`SELECT %s FROM orders%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		orderColumns, where, len(args)+1, len(args)+2)

	rows, err := q.QueryContext(ctx, query, append(args, pageSize, offset)...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders, err := collectOrders(rows)
	if err != nil {
		return nil, err
	}

	if err := attachOrderItems(ctx, q, orders); err != nil {
		return nil, err
	}

	if orders == nil {
		orders = []*models.Order{}
	}

	return &OffsetPage[*models.Order]{
		Items:      orders,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages(total, pageSize),
	}, nil
}

func ListOrdersCursor(ctx context.Context, q database.Querier, userID int64, cursor string, limit int) (*CursorPage[*models.Order], error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	_, limit = NormalizePage(1, limit)

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := q.QueryContext(ctx, query, userID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders, err := collectOrders(rows)
	if err != nil {
		return nil, err
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	if err := attachOrderItems(ctx, q, orders); err != nil {
		return nil, err
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	if orders == nil {
		orders = []*models.Order{}
	}

	return &CursorPage[*models.Order]{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// UpdateOrderStatus moves an order from one status to another only if the
// stored status still equals from. A mismatch yields ErrOptimisticLockFailed.
func UpdateOrderStatus(ctx context.Context, q database.Querier, id int64, from, to string) (*models.Order, error) {
	order, err := scanOrder(q.QueryRowContext(ctx,
		`UPDATE orders
		 SET status = $3,
		     delivered_at = CASE WHEN $4 THEN NOW() ELSE delivered_at END,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $1 AND status = $2
		 RETURNING `+orderColumns,
		id, from, to, to == models.OrderStatusDelivered))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, missingOrConflict(ctx, q, id)
		}
		return nil, fmt.Errorf("update order status: %w", err)
	}

	if err := attachOrderItems(ctx, q, []*models.Order{order}); err != nil {
		return nil, err
	}

	return order, nil
}

// MarkOrderPaid sets the paid flag while the order is still in status.
func MarkOrderPaid(ctx context.Context, q database.Querier, id int64, status string) (*models.Order, error) {
	order, err := scanOrder(q.QueryRowContext(ctx,
		`UPDATE orders
		 SET is_paid = TRUE,
		     paid_at = NOW(),
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $1 AND status = $2 AND is_paid = FALSE
		 RETURNING `+orderColumns,
		id, status))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, missingOrConflict(ctx, q, id)
		}
		return nil, fmt.Errorf("mark order paid: %w", err)
	}

	if err := attachOrderItems(ctx, q, []*models.Order{order}); err != nil {
		return nil, err
	}

	return order, nil
}

// UpdateOrderDetails applies an admin edit guarded by the order version.
func UpdateOrderDetails(ctx context.Context, q database.Querier, id int64, version int, update OrderDetailsUpdate) (*models.Order, error) {
	var addr models.ShippingAddress
	hasAddr := update.ShippingAddress != nil
	if hasAddr {
		addr = *update.ShippingAddress
	}
	var method sql.NullString
	if update.PaymentMethod != nil {
		method = sql.NullString{String: *update.PaymentMethod, Valid: true}
	}

	order, err := scanOrder(q.QueryRowContext(ctx,
		`UPDATE orders
		 SET shipping_details = CASE WHEN $3 THEN $4 ELSE shipping_details END,
		     shipping_phone = CASE WHEN $3 THEN $5 ELSE shipping_phone END,
		     shipping_city = CASE WHEN $3 THEN $6 ELSE shipping_city END,
		     shipping_postal_code = CASE WHEN $3 THEN $7 ELSE shipping_postal_code END,
		     payment_method = COALESCE($8, payment_method),
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $1 AND version = $2
		 RETURNING `+orderColumns,
		id, version, hasAddr, addr.Details, addr.Phone, addr.City, addr.PostalCode, method))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, missingOrConflict(ctx, q, id)
		}
		return nil, fmt.Errorf("update order details: %w", err)
	}

	if err := attachOrderItems(ctx, q, []*models.Order{order}); err != nil {
		return nil, err
	}

	return order, nil
}

func DeleteOrder(ctx context.Context, q database.Querier, id int64) error {
	result, err := q.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrOrderNotFound
	}

	return nil
}

func GetOrderStats(ctx context.Context, q database.Querier) (*models.OrderStats, error) {
	stats := &models.OrderStats{}

	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status = 'pending'),
		        COUNT(*) FILTER (WHERE status = 'processing'),
		        COUNT(*) FILTER (WHERE status = 'shipped'),
		        COUNT(*) FILTER (WHERE status = 'delivered'),
		        COUNT(*) FILTER (WHERE status = 'cancelled'),
		        COUNT(*) FILTER (WHERE is_paid),
		        COALESCE(SUM(total_amount) FILTER (WHERE is_paid), 0),
		        COALESCE(ROUND(AVG(total_amount) FILTER (WHERE is_paid), 2), 0)
		 FROM orders`,
	).Scan(
		&stats.TotalOrders,
		&stats.PendingOrders,
		&stats.ProcessingOrders,
		&stats.ShippedOrders,
		&stats.DeliveredOrders,
		&stats.CancelledOrders,
		&stats.PaidOrders,
		&stats.TotalRevenue,
		&stats.AverageOrderValue,
	)
	if err != nil {
		return nil, fmt.Errorf("get order stats: %w", err)
	}

	return stats, nil
}

func missingOrConflict(ctx context.Context, q database.Querier, id int64) error {
	var exists bool
	err := q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check order exists: %w", err)
	}
	if !exists {
		return database.ErrOrderNotFound
	}
	return database.ErrOptimisticLockFailed
}
