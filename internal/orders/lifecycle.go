// Package orders places orders and moves them through their lifecycle.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/safar/go-order-engine/internal/database"
	"github.com/safar/go-order-engine/internal/models"
	"github.com/safar/go-order-engine/internal/store"
)

type Repository interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	ListOrders(ctx context.Context, filter store.OrderFilter) (*store.OffsetPage[*models.Order], error)
	ListOrdersCursor(ctx context.Context, userID int64, cursor string, limit int) (*store.CursorPage[*models.Order], error)
	UpdateOrderStatus(ctx context.Context, id int64, from, to string) (*models.Order, error)
	MarkOrderPaid(ctx context.Context, id int64, status string) (*models.Order, error)
	UpdateOrderDetails(ctx context.Context, id int64, version int, update store.OrderDetailsUpdate) (*models.Order, error)
	DeleteOrder(ctx context.Context, id int64) error
	GetOrderStats(ctx context.Context) (*models.OrderStats, error)
	GetUserSummary(ctx context.Context, id int64) (*models.UserSummary, error)
	GetProductTitles(ctx context.Context, ids []int64) (map[int64]string, error)
}

var transitions = map[string][]string{
	models.OrderStatusPending:    {models.OrderStatusProcessing, models.OrderStatusCancelled},
	models.OrderStatusProcessing: {models.OrderStatusShipped, models.OrderStatusCancelled},
	models.OrderStatusShipped:    {models.OrderStatusDelivered, models.OrderStatusCancelled},
}

// CanTransition reports whether an order in status from may move to status to.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func IsTerminal(status string) bool {
	return status == models.OrderStatusDelivered || status == models.OrderStatusCancelled
}

// Expand selects the related records attached to an order on read.
type Expand struct {
	User     bool
	Products bool
}

type EditRequest struct {
	ShippingAddress *models.ShippingAddress
	PaymentMethod   *string
}

type Lifecycle struct {
	repo   Repository
	logger *slog.Logger
}

func NewLifecycle(repo Repository, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{repo: repo, logger: logger}
}

func requireAdmin(caller models.Identity) error {
	if !caller.IsAuthenticated() {
		return models.ErrUnauthorized
	}
	if !caller.IsAdmin() {
		return models.ErrForbidden
	}
	return nil
}

// Get returns the order to its owner or to an admin.
func (l *Lifecycle) Get(ctx context.Context, caller models.Identity, id int64, expand Expand) (*models.Order, error) {
	if !caller.IsAuthenticated() {
		return nil, models.ErrUnauthorized
	}

	order, err := l.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin() && order.UserID != caller.UserID {
		return nil, models.ErrForbidden
	}

	if err := l.expand(ctx, []*models.Order{order}, expand); err != nil {
		return nil, err
	}
	return order, nil
}

func (l *Lifecycle) expand(ctx context.Context, orders []*models.Order, expand Expand) error {
	if expand.User {
		users := make(map[int64]*models.UserSummary)
		for _, o := range orders {
			summary, ok := users[o.UserID]
			if !ok {
				var err error
				summary, err = l.repo.GetUserSummary(ctx, o.UserID)
				if err != nil && !errors.Is(err, database.ErrUserNotFound) {
					return fmt.Errorf("expand user: %w", err)
				}
				users[o.UserID] = summary
			}
			o.User = summary
		}
	}

	if expand.Products {
		seen := make(map[int64]bool)
		var ids []int64
		for _, o := range orders {
			for _, item := range o.Items {
				if !seen[item.ProductID] {
					seen[item.ProductID] = true
					ids = append(ids, item.ProductID)
				}
			}
		}

		titles, err := l.repo.GetProductTitles(ctx, ids)
		if err != nil {
			return fmt.Errorf("expand products: %w", err)
		}
		for _, o := range orders {
			for i := range o.Items {
				o.Items[i].ProductTitle = titles[o.Items[i].ProductID]
			}
		}
	}

	return nil
}

func (l *Lifecycle) List(ctx context.Context, caller models.Identity, filter store.OrderFilter, expand Expand) (*store.OffsetPage[*models.Order], error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	if filter.Status != "" && !models.IsValidOrderStatus(filter.Status) {
		return nil, models.NewValidationError("status", "unknown order status %q", filter.Status)
	}

	page, err := l.repo.ListOrders(ctx, filter)
	if err != nil {
		return nil, err
	}
	if err := l.expand(ctx, page.Items, expand); err != nil {
		return nil, err
	}
	return page, nil
}

func (l *Lifecycle) ListMine(ctx context.Context, caller models.Identity, page, pageSize int, expand Expand) (*store.OffsetPage[*models.Order], error) {
	if !caller.IsAuthenticated() {
		return nil, models.ErrUnauthorized
	}

	userID := caller.UserID
	result, err := l.repo.ListOrders(ctx, store.OrderFilter{UserID: &userID, Page: page, PageSize: pageSize})
	if err != nil {
		return nil, err
	}
	if err := l.expand(ctx, result.Items, expand); err != nil {
		return nil, err
	}
	return result, nil
}

func (l *Lifecycle) ListMineCursor(ctx context.Context, caller models.Identity, cursor string, limit int, expand Expand) (*store.CursorPage[*models.Order], error) {
	if !caller.IsAuthenticated() {
		return nil, models.ErrUnauthorized
	}

	page, err := l.repo.ListOrdersCursor(ctx, caller.UserID, cursor, limit)
	if errors.Is(err, store.ErrInvalidCursor) {
		return nil, models.NewValidationError("cursor", "invalid cursor")
	}
	if err != nil {
		return nil, err
	}
	if err := l.expand(ctx, page.Items, expand); err != nil {
		return nil, err
	}
	return page, nil
}

// UpdateStatus moves the order to next. When expected is set the caller's
// view of the current status must still hold, otherwise ErrConflict. The
// write itself only lands if the status is unchanged since it was read.
func (l *Lifecycle) UpdateStatus(ctx context.Context, caller models.Identity, id int64, next, expected string) (*models.Order, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	if !models.IsValidOrderStatus(next) {
		return nil, models.NewValidationError("orderStatus", "unknown order status %q", next)
	}
	if expected != "" && !models.IsValidOrderStatus(expected) {
		return nil, models.NewValidationError("expectedStatus", "unknown order status %q", expected)
	}

	current, err := l.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if expected != "" && expected != current.Status {
		return nil, fmt.Errorf("%w: order is %s, expected %s", ErrConflict, current.Status, expected)
	}
	if !CanTransition(current.Status, next) {
		return nil, &InvalidTransitionError{From: current.Status, To: next}
	}

	order, err := l.repo.UpdateOrderStatus(ctx, id, current.Status, next)
	if err != nil {
		return nil, conflict(err)
	}

	l.logger.Info("order status changed",
		"order_id", id, "from", current.Status, "to", next, "by", caller.UserID)
	return order, nil
}

// MarkPaid sets the paid flag on a non-terminal order. Paying an order that
// is already paid returns it unchanged.
func (l *Lifecycle) MarkPaid(ctx context.Context, caller models.Identity, id int64) (*models.Order, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}

	current, err := l.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.IsPaid {
		return current, nil
	}
	if IsTerminal(current.Status) {
		return nil, &InvalidTransitionError{From: current.Status, To: "paid"}
	}

	order, err := l.repo.MarkOrderPaid(ctx, id, current.Status)
	if errors.Is(err, database.ErrOptimisticLockFailed) {
		latest, getErr := l.repo.GetOrder(ctx, id)
		if getErr == nil && latest.IsPaid {
			return latest, nil
		}
		return nil, conflict(err)
	}
	if err != nil {
		return nil, err
	}

	l.logger.Info("order paid", "order_id", id, "by", caller.UserID)
	return order, nil
}

// Edit changes the shipping address or payment method. Totals, items and
// status are not editable here.
func (l *Lifecycle) Edit(ctx context.Context, caller models.Identity, id int64, req EditRequest) (*models.Order, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	if req.ShippingAddress == nil && req.PaymentMethod == nil {
		return nil, models.NewValidationError("", "nothing to update")
	}
	if req.PaymentMethod != nil && !models.IsValidPaymentMethod(*req.PaymentMethod) {
		return nil, models.NewValidationError("paymentMethod", "unknown payment method %q", *req.PaymentMethod)
	}

	current, err := l.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	order, err := l.repo.UpdateOrderDetails(ctx, id, current.Version, store.OrderDetailsUpdate{
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
	})
	if err != nil {
		return nil, conflict(err)
	}
	return order, nil
}

// Delete removes the order permanently. Stock is not returned.
func (l *Lifecycle) Delete(ctx context.Context, caller models.Identity, id int64) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}
	if err := l.repo.DeleteOrder(ctx, id); err != nil {
		return err
	}

	l.logger.Info("order deleted", "order_id", id, "by", caller.UserID)
	return nil
}

func (l *Lifecycle) Stats(ctx context.Context, caller models.Identity) (*models.OrderStats, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	return l.repo.GetOrderStats(ctx)
}
