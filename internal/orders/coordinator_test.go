package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/safar/go-order-engine/internal/database"
	"github.com/safar/go-order-engine/internal/inventory"
	"github.com/safar/go-order-engine/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeCatalog struct {
	stock  map[int64]int
	prices map[int64]decimal.Decimal
	mu     sync.Mutex
	calls  []string
	// cancel is called after cancelAfter successful reservations.
	cancel      context.CancelFunc
	cancelAfter int
	reserved    int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		stock: map[int64]int{1: 10, 2: 1, 3: 5},
		prices: map[int64]decimal.Decimal{
			1: decimal.RequireFromString("50.00"),
			2: decimal.RequireFromString("20.00"),
			3: decimal.RequireFromString("5.00"),
		},
	}
}

func (f *fakeCatalog) GetProductSnapshot(ctx context.Context, id int64) (*models.ProductSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	price, ok := f.prices[id]
	if !ok {
		return nil, database.ErrProductNotFound
	}
	return &models.ProductSnapshot{ID: id, Title: "p", Price: price, StockQuantity: f.stock[id]}, nil
}

func (f *fakeCatalog) ReserveStock(ctx context.Context, productID int64, quantity int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, fmt.Sprintf("reserve:%d", productID))
	available, ok := f.stock[productID]
	if !ok {
		return 0, database.ErrProductNotFound
	}
	if available < quantity {
		return available, database.ErrInsufficientStock
	}
	f.stock[productID] = available - quantity

	f.reserved++
	if f.cancel != nil && f.reserved == f.cancelAfter {
		f.cancel()
	}
	return f.stock[productID], nil
}

func (f *fakeCatalog) ReleaseStock(ctx context.Context, productID int64, quantity int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, fmt.Sprintf("release:%d", productID))
	f.stock[productID] += quantity
	return nil
}

type fakeOrders struct {
	err     error
	created []*models.Order
}

func (f *fakeOrders) CreateOrder(ctx context.Context, order *models.Order) error {
	if f.err != nil {
		return f.err
	}
	order.ID = int64(len(f.created) + 1)
	order.OrderNumber = "ORD-TEST"
	f.created = append(f.created, order)
	return nil
}

type fakeCarts struct {
	err     error
	cleared []models.Identity
}

func (f *fakeCarts) Clear(ctx context.Context, owner models.Identity) error {
	f.cleared = append(f.cleared, owner)
	return f.err
}

type fixture struct {
	catalog     *fakeCatalog
	orders      *fakeOrders
	carts       *fakeCarts
	coordinator *Coordinator
}

func newFixture() *fixture {
	f := &fixture{catalog: newFakeCatalog(), orders: &fakeOrders{}, carts: &fakeCarts{}}
	f.coordinator = NewCoordinator(CoordinatorDeps{
		Catalog: f.catalog,
		Ledger:  inventory.NewLedger(f.catalog, nil),
		Orders:  f.orders,
		Carts:   f.carts,
	})
	return f
}

var buyer = models.Identity{UserID: 11, Role: models.RoleUser}

func TestPlaceWorkedExample(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture()

	color := "blue"
	order, err := f.coordinator.Place(context.Background(), buyer, PlaceRequest{
		Items:           []PlaceItem{{ProductID: 1, Quantity: 2, Color: &color}},
		ShippingAddress: models.ShippingAddress{City: "Alexandria"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.False(t, order.IsPaid)
	assert.Equal(t, models.PaymentMethodCash, order.PaymentMethod)
	assert.True(t, order.Subtotal.Equal(decimal.RequireFromString("100.00")))
	assert.True(t, order.TaxAmount.Equal(decimal.RequireFromString("10.00")))
	assert.True(t, order.ShippingAmount.Equal(decimal.RequireFromString("10.00")))
	assert.True(t, order.TotalAmount.Equal(decimal.RequireFromString("120.00")))
	require.Len(t, order.Items, 1)
	assert.True(t, order.Items[0].UnitPrice.Equal(decimal.RequireFromString("50.00")))
	assert.Equal(t, "blue", *order.Items[0].Color)

	assert.Equal(t, 8, f.catalog.stock[1])
	assert.Equal(t, []models.Identity{buyer}, f.carts.cleared)
}

func TestPlaceUsesDiscountedPrice(t *testing.T) {
	f := newFixture()
	discount := decimal.RequireFromString("4.00")

	f.coordinator.catalog = discountCatalog{f.catalog, 3, discount}

	order, err := f.coordinator.Place(context.Background(), buyer, PlaceRequest{
		Items: []PlaceItem{{ProductID: 3, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.True(t, order.Items[0].UnitPrice.Equal(discount))
}

type discountCatalog struct {
	*fakeCatalog
	productID int64
	discount  decimal.Decimal
}

func (d discountCatalog) GetProductSnapshot(ctx context.Context, id int64) (*models.ProductSnapshot, error) {
	s, err := d.fakeCatalog.GetProductSnapshot(ctx, id)
	if err == nil && id == d.productID {
		s.PriceAfterDiscount = &d.discount
	}
	return s, err
}

func TestPlaceCompensatesOnSecondLineShortage(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture()

	_, err := f.coordinator.Place(context.Background(), buyer, PlaceRequest{
		Items: []PlaceItem{
			{ProductID: 1, Quantity: 3},
			{ProductID: 2, Quantity: 5},
		},
	})

	var stockErr *inventory.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, int64(2), stockErr.ProductID)

	assert.Equal(t, 10, f.catalog.stock[1])
	assert.Equal(t, 1, f.catalog.stock[2])
	assert.Empty(t, f.orders.created)
	assert.Empty(t, f.carts.cleared)
}

func TestPlaceReleasesInReverseOrder(t *testing.T) {
	f := newFixture()

	_, err := f.coordinator.Place(context.Background(), buyer, PlaceRequest{
		Items: []PlaceItem{
			{ProductID: 1, Quantity: 1},
			{ProductID: 3, Quantity: 1},
			{ProductID: 2, Quantity: 2},
		},
	})
	require.ErrorIs(t, err, database.ErrInsufficientStock)

	assert.Equal(t, []string{"reserve:1", "reserve:3", "reserve:2", "release:3", "release:1"}, f.catalog.calls)
	assert.Equal(t, 10, f.catalog.stock[1])
	assert.Equal(t, 5, f.catalog.stock[3])
}

func TestPlacePersistenceFailureReleasesStock(t *testing.T) {
	f := newFixture()
	f.orders.err = errors.New("disk full")

	_, err := f.coordinator.Place(context.Background(), buyer, PlaceRequest{
		Items: []PlaceItem{{ProductID: 1, Quantity: 4}},
	})
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, 10, f.catalog.stock[1])
	assert.Empty(t, f.carts.cleared)
}

func TestPlaceCartClearFailureStillSucceeds(t *testing.T) {
	f := newFixture()
	f.carts.err = errors.New("cart store down")

	order, err := f.coordinator.Place(context.Background(), buyer, PlaceRequest{
		Items: []PlaceItem{{ProductID: 3, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.NotZero(t, order.ID)
	assert.Equal(t, 4, f.catalog.stock[3])
}

func TestPlaceValidatesBeforeMutating(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.coordinator.Place(ctx, buyer, PlaceRequest{})
	assert.ErrorIs(t, err, ErrEmptyCart)

	_, err = f.coordinator.Place(ctx, buyer, PlaceRequest{Items: []PlaceItem{{ProductID: 1, Quantity: 0}}})
	var verr *models.ValidationError
	assert.True(t, errors.As(err, &verr))

	_, err = f.coordinator.Place(ctx, buyer, PlaceRequest{
		Items:         []PlaceItem{{ProductID: 1, Quantity: 1}},
		PaymentMethod: "bitcoin",
	})
	assert.True(t, errors.As(err, &verr))

	_, err = f.coordinator.Place(ctx, models.Identity{Token: "anon"}, PlaceRequest{
		Items: []PlaceItem{{ProductID: 1, Quantity: 1}},
	})
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	assert.Empty(t, f.catalog.calls)
}

func TestPlaceUnknownProduct(t *testing.T) {
	f := newFixture()

	_, err := f.coordinator.Place(context.Background(), buyer, PlaceRequest{
		Items: []PlaceItem{{ProductID: 1, Quantity: 1}, {ProductID: 99, Quantity: 1}},
	})
	assert.ErrorIs(t, err, database.ErrProductNotFound)
	assert.Empty(t, f.catalog.calls)
}

func TestPlaceCancelledMidwayReleasesStock(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.catalog.cancel = cancel
	f.catalog.cancelAfter = 1

	_, err := f.coordinator.Place(ctx, buyer, PlaceRequest{
		Items: []PlaceItem{{ProductID: 1, Quantity: 2}, {ProductID: 3, Quantity: 2}},
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 10, f.catalog.stock[1])
	assert.Equal(t, 5, f.catalog.stock[3])
	assert.Empty(t, f.orders.created)
}
