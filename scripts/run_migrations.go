package main

import (
	"log"
	"os"

	"github.com/safar/go-order-engine/internal/config"
	"github.com/safar/go-order-engine/migrations"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: go run scripts/run_migrations.go [up|down]")
	}

	direction := os.Args[1]
	if direction != "up" && direction != "down" {
		log.Fatal("Direction must be 'up' or 'down'")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	run := migrations.Up
	if direction == "down" {
		run = migrations.Down
	}

	if err := run(cfg.Database.URL); err != nil {
		log.Fatalf("Migrate %s: %v", direction, err)
	}

	log.Printf("Successfully ran migrations %s", direction)
}
