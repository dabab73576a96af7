package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/safar/go-order-engine/internal/database"
	"github.com/safar/go-order-engine/internal/models"
	"github.com/safar/go-order-engine/internal/store"
	"github.com/safar/go-order-engine/internal/testdb"
	"github.com/shopspring/decimal"
)

func createProduct(t *testing.T, s *store.Store, sku string, price int64, stock int) int64 {
	t.Helper()

	product, err := store.CreateProduct(context.Background(), s.DB(), store.CreateProductRequest{
		SKU:   sku,
		Title: "Product " + sku,
		Price: decimal.NewFromInt(price),
		Stock: stock,
	})
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}
	return product.ID
}

func TestConcurrentStockReservation(t *testing.T) {
	s := store.New(testdb.Setup(t))
	ctx := context.Background()

	productID := createProduct(t, s, "TEST-001", 100, 10)

	concurrency := 8
	var wg sync.WaitGroup
	results := make(chan error, concurrency)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ReserveStock(ctx, productID, 2)
			results <- err
		}()
	}

	wg.Wait()
	close(results)

	successCount := 0
	for err := range results {
		switch {
		case err == nil:
			successCount++
		case errors.Is(err, database.ErrInsufficientStock):
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}

	if successCount != 5 {
		t.Errorf("Expected 5 successful reservations, got %d", successCount)
	}

	product, err := store.GetProduct(ctx, s.DB(), productID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if product.StockQuantity != 0 {
		t.Errorf("Expected stock 0, got %d", product.StockQuantity)
	}
	if product.Sold != 10 {
		t.Errorf("Expected sold 10, got %d", product.Sold)
	}
}

func TestReserveStockInsufficientReportsAvailable(t *testing.T) {
	s := store.New(testdb.Setup(t))
	ctx := context.Background()

	productID := createProduct(t, s, "TEST-002", 100, 3)

	available, err := s.ReserveStock(ctx, productID, 5)
	if !errors.Is(err, database.ErrInsufficientStock) {
		t.Fatalf("Expected insufficient stock, got: %v", err)
	}
	if available != 3 {
		t.Errorf("Expected available 3, got %d", available)
	}

	_, err = s.ReserveStock(ctx, 999999, 1)
	if !errors.Is(err, database.ErrProductNotFound) {
		t.Errorf("Expected product not found, got: %v", err)
	}
}

func TestReleaseStockRestoresCounters(t *testing.T) {
	s := store.New(testdb.Setup(t))
	ctx := context.Background()

	productID := createProduct(t, s, "TEST-003", 100, 10)

	if _, err := s.ReserveStock(ctx, productID, 4); err != nil {
		t.Fatalf("Reserve stock: %v", err)
	}
	if err := s.ReleaseStock(ctx, productID, 4); err != nil {
		t.Fatalf("Release stock: %v", err)
	}

	product, err := store.GetProduct(ctx, s.DB(), productID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if product.StockQuantity != 10 || product.Sold != 0 {
		t.Errorf("Expected stock 10 sold 0, got stock %d sold %d", product.StockQuantity, product.Sold)
	}

	if err := s.ReleaseStock(ctx, 999999, 1); !errors.Is(err, database.ErrProductNotFound) {
		t.Errorf("Expected product not found, got: %v", err)
	}
}

func TestProductSnapshotUsesDiscount(t *testing.T) {
	s := store.New(testdb.Setup(t))
	ctx := context.Background()

	productID := createProduct(t, s, "TEST-004", 80, 5)

	discount := decimal.RequireFromString("60.50")
	if err := store.UpdateProductPrice(ctx, s.DB(), productID, decimal.NewFromInt(80), &discount); err != nil {
		t.Fatalf("Update price: %v", err)
	}

	snapshot, err := s.GetProductSnapshot(ctx, productID)
	if err != nil {
		t.Fatalf("Get snapshot: %v", err)
	}
	if !snapshot.UnitPrice().Equal(discount) {
		t.Errorf("Expected unit price %s, got %s", discount, snapshot.UnitPrice())
	}

	exists, err := s.ProductExists(ctx, productID)
	if err != nil || !exists {
		t.Errorf("Expected product to exist, got %v (err %v)", exists, err)
	}
}

func TestNegativeProductValuesAreValidationErrors(t *testing.T) {
	s := store.New(testdb.Setup(t))
	ctx := context.Background()

	_, err := store.CreateProduct(ctx, s.DB(), store.CreateProductRequest{
		SKU:   "TEST-NEG-001",
		Title: "Negative",
		Price: decimal.NewFromInt(-1),
		Stock: 1,
	})
	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected validation error, got %v", err)
	}
	if verr.Field != "price" {
		t.Errorf("Expected field price, got %q", verr.Field)
	}

	_, err = store.CreateProduct(ctx, s.DB(), store.CreateProductRequest{
		SKU:   "TEST-NEG-002",
		Title: "Negative stock",
		Price: decimal.NewFromInt(5),
		Stock: -3,
	})
	if !errors.As(err, &verr) || verr.Field != "stock_quantity" {
		t.Errorf("Expected stock_quantity validation error, got %v", err)
	}

	productID := createProduct(t, s, "TEST-NEG-003", 10, 1)
	discount := decimal.NewFromInt(-2)
	err = store.UpdateProductPrice(ctx, s.DB(), productID, decimal.NewFromInt(10), &discount)
	if !errors.As(err, &verr) || verr.Field != "price_after_discount" {
		t.Errorf("Expected price_after_discount validation error, got %v", err)
	}
	if errors.Is(err, database.ErrProductNotFound) {
		t.Errorf("Check violation must not read as a missing product")
	}
}
