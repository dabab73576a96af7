package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/safar/go-order-engine/internal/inventory"
	"github.com/safar/go-order-engine/internal/models"
	"github.com/safar/go-order-engine/internal/pricing"
	"golang.org/x/sync/errgroup"
)

const (
	defaultCompensationTimeout = 10 * time.Second
	snapshotFetchLimit         = 8
)

type Catalog interface {
	GetProductSnapshot(ctx context.Context, id int64) (*models.ProductSnapshot, error)
}

type Reserver interface {
	Reserve(ctx context.Context, productID int64, quantity int) (*inventory.Reservation, error)
	ReleaseAll(ctx context.Context, reservations []*inventory.Reservation) error
}

type OrderWriter interface {
	CreateOrder(ctx context.Context, order *models.Order) error
}

type CartClearer interface {
	Clear(ctx context.Context, owner models.Identity) error
}

type PlaceItem struct {
	ProductID int64
	Quantity  int
	Color     *string
}

type PlaceRequest struct {
	Items           []PlaceItem
	ShippingAddress models.ShippingAddress
	PaymentMethod   string
}

func (r *PlaceRequest) validate() error {
	if len(r.Items) == 0 {
		return ErrEmptyCart
	}
	for i, item := range r.Items {
		if item.ProductID < 1 {
			return models.NewValidationError("cartItems", "item %d: invalid product id %d", i, item.ProductID)
		}
		if item.Quantity < 1 {
			return models.NewValidationError("cartItems", "item %d: quantity must be at least 1, got %d", i, item.Quantity)
		}
	}
	if r.PaymentMethod == "" {
		r.PaymentMethod = models.PaymentMethodCash
	}
	if !models.IsValidPaymentMethod(r.PaymentMethod) {
		return models.NewValidationError("paymentMethod", "unknown payment method %q", r.PaymentMethod)
	}
	return nil
}

type CoordinatorDeps struct {
	Catalog Catalog
	Ledger  Reserver
	Orders  OrderWriter
	Carts   CartClearer
	Pricing *pricing.Calculator
	Logger  *slog.Logger
	// CompensationTimeout bounds stock release and cart clearing after the
	// request context is gone.
	CompensationTimeout time.Duration
}

// Coordinator is the only path that creates orders.
type Coordinator struct {
	catalog             Catalog
	ledger              Reserver
	orders              OrderWriter
	carts               CartClearer
	pricing             *pricing.Calculator
	logger              *slog.Logger
	compensationTimeout time.Duration
}

func NewCoordinator(deps CoordinatorDeps) *Coordinator {
	c := &Coordinator{
		catalog:             deps.Catalog,
		ledger:              deps.Ledger,
		orders:              deps.Orders,
		carts:               deps.Carts,
		pricing:             deps.Pricing,
		logger:              deps.Logger,
		compensationTimeout: deps.CompensationTimeout,
	}
	if c.pricing == nil {
		c.pricing = pricing.NewCalculator(pricing.DefaultConfig())
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.compensationTimeout <= 0 {
		c.compensationTimeout = defaultCompensationTimeout
	}
	return c
}

// Place reserves stock for every line, prices the order and stores it as
// pending. Any failure after the first reservation releases everything that
// was reserved before returning. Stock writes run detached from ctx so a
// client that goes away mid-request cannot strand a reservation; ctx is
// checked between steps instead.
func (c *Coordinator) Place(ctx context.Context, caller models.Identity, req PlaceRequest) (*models.Order, error) {
	if !caller.IsAuthenticated() {
		return nil, models.ErrUnauthorized
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	snapshots, err := c.fetchSnapshots(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	work := context.WithoutCancel(ctx)

	reservations := make([]*inventory.Reservation, 0, len(req.Items))
	for _, item := range req.Items {
		if err := ctx.Err(); err != nil {
			c.compensate(work, caller, reservations, err)
			return nil, err
		}

		r, err := c.ledger.Reserve(work, item.ProductID, item.Quantity)
		if err != nil {
			c.compensate(work, caller, reservations, err)
			return nil, err
		}
		reservations = append(reservations, r)
	}

	lines := make([]pricing.Line, len(req.Items))
	for i, item := range req.Items {
		lines[i] = pricing.Line{UnitPrice: snapshots[item.ProductID].UnitPrice(), Quantity: item.Quantity}
	}
	breakdown, err := c.pricing.Compute(lines)
	if err != nil {
		c.compensate(work, caller, reservations, err)
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		c.compensate(work, caller, reservations, err)
		return nil, err
	}

	order := &models.Order{
		UserID:          caller.UserID,
		Status:          models.OrderStatusPending,
		Items:           make([]models.OrderItem, len(req.Items)),
		Subtotal:        breakdown.Subtotal,
		TaxAmount:       breakdown.Tax,
		ShippingAmount:  breakdown.Shipping,
		TotalAmount:     breakdown.Total,
		PaymentMethod:   req.PaymentMethod,
		ShippingAddress: req.ShippingAddress,
	}
	for i, item := range req.Items {
		order.Items[i] = models.OrderItem{
			ProductID:    item.ProductID,
			ProductTitle: snapshots[item.ProductID].Title,
			Quantity:     item.Quantity,
			UnitPrice:    lines[i].UnitPrice,
			Color:        item.Color,
			Subtotal:     pricing.LineTotal(lines[i]),
		}
	}

	if err := c.orders.CreateOrder(work, order); err != nil {
		c.compensate(work, caller, reservations, err)
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	c.logger.Info("order placed",
		"order_id", order.ID,
		"order_number", order.OrderNumber,
		"user_id", caller.UserID,
		"total", order.TotalAmount.StringFixed(2),
	)

	c.clearCart(work, caller, order.ID)

	return order, nil
}

func (c *Coordinator) fetchSnapshots(ctx context.Context, items []PlaceItem) (map[int64]*models.ProductSnapshot, error) {
	ids := make([]int64, 0, len(items))
	seen := make(map[int64]bool, len(items))
	for _, item := range items {
		if !seen[item.ProductID] {
			seen[item.ProductID] = true
			ids = append(ids, item.ProductID)
		}
	}

	results := make([]*models.ProductSnapshot, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(snapshotFetchLimit)
	for i, id := range ids {
		g.Go(func() error {
			snapshot, err := c.catalog.GetProductSnapshot(gctx, id)
			if err != nil {
				return fmt.Errorf("product %d: %w", id, err)
			}
			results[i] = snapshot
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snapshots := make(map[int64]*models.ProductSnapshot, len(ids))
	for _, s := range results {
		snapshots[s.ID] = s
	}
	return snapshots, nil
}

func (c *Coordinator) compensate(ctx context.Context, caller models.Identity, reservations []*inventory.Reservation, cause error) {
	if len(reservations) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.compensationTimeout)
	defer cancel()

	if err := c.ledger.ReleaseAll(ctx, reservations); err != nil {
		c.logger.Error("stock release failed",
			"user_id", caller.UserID,
			"cause", cause,
			"error", err,
		)
		return
	}

	c.logger.Warn("order placement rolled back",
		"user_id", caller.UserID,
		"released", len(reservations),
		"cause", cause,
	)
}

func (c *Coordinator) clearCart(ctx context.Context, caller models.Identity, orderID int64) {
	if c.carts == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.compensationTimeout)
	defer cancel()

	if err := c.carts.Clear(ctx, caller); err != nil && !errors.Is(err, models.ErrUnauthorized) {
		c.logger.Warn("cart clear after order failed", "order_id", orderID, "user_id", caller.UserID, "error", err)
	}
}
