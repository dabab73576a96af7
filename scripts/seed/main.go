package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/safar/go-order-engine/internal/config"
	"github.com/safar/go-order-engine/internal/database"
	"github.com/safar/go-order-engine/internal/models"
	"github.com/safar/go-order-engine/internal/store"
)

type seedProduct struct {
	sku      string
	title    string
	price    string
	discount string
	stock    int
}

var products = []seedProduct{
	{sku: "TSHIRT-001", title: "Cotton T-Shirt", price: "20.00", stock: 100},
	{sku: "HOODIE-001", title: "Zip Hoodie", price: "55.00", discount: "44.99", stock: 40},
	{sku: "CAP-001", title: "Baseball Cap", price: "15.50", stock: 60},
	{sku: "SNEAKER-001", title: "Running Sneakers", price: "120.00", discount: "99.00", stock: 10},
	{sku: "SOCKS-001", title: "Wool Socks", price: "8.25", stock: 0},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Fatalf("Connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err = database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		if _, err := store.CreateUser(ctx, tx, "admin@example.com", "Store Admin", models.RoleAdmin); err != nil {
			return err
		}
		for i := 1; i <= 3; i++ {
			email := fmt.Sprintf("customer%d@example.com", i)
			if _, err := store.CreateUser(ctx, tx, email, fmt.Sprintf("Customer %d", i), models.RoleUser); err != nil {
				return err
			}
		}

		for _, p := range products {
			req := store.CreateProductRequest{
				SKU:   p.sku,
				Title: p.title,
				Price: decimal.RequireFromString(p.price),
				Stock: p.stock,
			}
			if p.discount != "" {
				d := decimal.RequireFromString(p.discount)
				req.PriceAfterDiscount = &d
			}
			if _, err := store.CreateProduct(ctx, tx, req); err != nil {
				return fmt.Errorf("seed %s: %w", p.sku, err)
			}
		}
		return nil
	})
	if err != nil {
		log.Fatalf("Seed: %v", err)
	}

	log.Printf("Seeded 4 users and %d products", len(products))
}
