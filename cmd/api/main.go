package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/safar/go-order-engine/internal/cart"
	"github.com/safar/go-order-engine/internal/config"
	"github.com/safar/go-order-engine/internal/database"
	"github.com/safar/go-order-engine/internal/handlers"
	"github.com/safar/go-order-engine/internal/inventory"
	"github.com/safar/go-order-engine/internal/orders"
	"github.com/safar/go-order-engine/internal/pricing"
	"github.com/safar/go-order-engine/internal/store"
	"github.com/safar/go-order-engine/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.App)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.AppConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Database.AutoMigrate {
		if err := migrations.Up(cfg.Database.URL); err != nil {
			return err
		}
		logger.Info("migrations applied")
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("connected to database")

	st := store.New(db)

	carts, closeCarts, err := newCartResolver(ctx, cfg, st, logger)
	if err != nil {
		return err
	}
	defer closeCarts()

	coordinator := orders.NewCoordinator(orders.CoordinatorDeps{
		Catalog: st,
		Ledger:  inventory.NewLedger(st, logger),
		Orders:  st,
		Carts:   carts,
		Pricing: pricing.NewCalculator(pricing.Config{
			TaxRate:               cfg.Pricing.TaxRate,
			FreeShippingThreshold: cfg.Pricing.FreeShippingThreshold,
			FlatShippingFee:       cfg.Pricing.FlatShippingFee,
		}),
		Logger: logger,
	})

	h := handlers.New(handlers.Options{
		Placer:      coordinator,
		Orders:      orders.NewLifecycle(st, logger),
		Carts:       carts,
		Health:      db,
		Logger:      logger,
		Development: cfg.App.IsDevelopment(),
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      otelhttp.NewHandler(h.Routes(cfg.Server.RequestTimeout), "order-engine"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Server.Port, "cart_backend", cfg.Cart.Backend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// newCartResolver wires the configured cart backend behind the optional
// Redis read-through cache. The returned func releases backend clients.
func newCartResolver(ctx context.Context, cfg *config.Config, st *store.Store, logger *slog.Logger) (*cart.Resolver, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var cache cart.Cache = cart.NoopCache{}
	if cfg.Redis.Enabled() {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, nil, err
		}
		client := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Warn("redis unavailable, cart cache disabled", "error", err)
			_ = client.Close()
		} else {
			cache = cart.NewRedisCache(client, cfg.Redis.CartTTL)
			closers = append(closers, func() { _ = client.Close() })
		}
	}

	var repo cart.Repository
	switch cfg.Cart.Backend {
	case config.CartBackendMongo:
		mdb, err := cart.ConnectMongoDB(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mdb.Client().Disconnect(disconnectCtx)
		})
		mongoRepo := cart.NewMongoRepository(mdb)
		if err := mongoRepo.CreateIndexes(ctx); err != nil {
			closeAll()
			return nil, nil, err
		}
		repo = mongoRepo
	default:
		repo = cart.NewPostgresRepository(st.DB())
	}

	return cart.NewResolver(repo, cache, st, logger), closeAll, nil
}
