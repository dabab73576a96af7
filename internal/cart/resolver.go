package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/safar/go-order-engine/internal/database"
	"github.com/safar/go-order-engine/internal/models"
	"golang.org/x/sync/singleflight"
)

const cacheOpTimeout = time.Second

type ProductChecker interface {
	ProductExists(ctx context.Context, id int64) (bool, error)
}

// Result is returned by the item edits. Found is false when the cart or the
// addressed line did not exist; the call still succeeds with an empty cart so
// clients replaying stale edits do not fail.
type Result struct {
	Cart  *models.Cart
	Found bool
}

type Resolver struct {
	repo     Repository
	cache    Cache
	products ProductChecker
	logger   *slog.Logger
	sfg      singleflight.Group
}

func NewResolver(repo Repository, cache Cache, products ProductChecker, logger *slog.Logger) *Resolver {
	if cache == nil {
		cache = NoopCache{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		repo:     repo,
		cache:    cache,
		products: products,
		logger:   logger,
	}
}

func requireOwner(owner models.Identity) (string, error) {
	key := owner.CartKey()
	if key == "" {
		return "", models.ErrUnauthorized
	}
	return key, nil
}

// Resolve returns the owner's cart, or an empty one when none is stored.
// Concurrent cache misses for one owner share a single storage read.
func (r *Resolver) Resolve(ctx context.Context, owner models.Identity) (*models.Cart, error) {
	key, err := requireOwner(owner)
	if err != nil {
		return nil, err
	}

	v, err, _ := r.sfg.Do(key, func() (any, error) {
		cart, err := r.cache.Get(ctx, key)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			r.logger.Warn("cart cache get failed", "owner", key, "error", err)
		}

		// The generation must be read before storage so an invalidation
		// landing after the read rejects the fill.
		gen, genErr := r.cache.Generation(ctx, key)
		if genErr != nil {
			r.logger.Warn("cart cache generation failed", "owner", key, "error", genErr)
		}

		cart, err = r.repo.GetCart(ctx, owner)
		if errors.Is(err, ErrCartNotFound) {
			return models.EmptyCart(owner), nil
		}
		if err != nil {
			return nil, err
		}

		if genErr == nil {
			r.fill(key, gen, cart)
		}
		return cart, nil
	})
	if err != nil {
		return nil, fmt.Errorf("resolve cart: %w", err)
	}

	return v.(*models.Cart), nil
}

// Stored reads the owner's cart from storage without consulting the cache.
// Order placement builds from it.
func (r *Resolver) Stored(ctx context.Context, owner models.Identity) (*models.Cart, error) {
	if _, err := requireOwner(owner); err != nil {
		return nil, err
	}

	cart, err := r.repo.GetCart(ctx, owner)
	if errors.Is(err, ErrCartNotFound) {
		return models.EmptyCart(owner), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	return cart, nil
}

func (r *Resolver) AddItem(ctx context.Context, owner models.Identity, productID int64, count int) (*models.Cart, error) {
	key, err := requireOwner(owner)
	if err != nil {
		return nil, err
	}
	if productID < 1 {
		return nil, models.NewValidationError("productId", "invalid product id %d", productID)
	}
	if count < 1 {
		return nil, models.NewValidationError("count", "count must be at least 1, got %d", count)
	}

	exists, err := r.products.ProductExists(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("check product: %w", err)
	}
	if !exists {
		return nil, database.ErrProductNotFound
	}

	if err := r.repo.AddItem(ctx, owner, productID, count); err != nil {
		return nil, err
	}
	r.invalidate(key)

	return r.repo.GetCart(ctx, owner)
}

func (r *Resolver) UpdateItemCount(ctx context.Context, owner models.Identity, itemRef string, count int) (Result, error) {
	key, err := requireOwner(owner)
	if err != nil {
		return Result{}, err
	}
	if count < 1 {
		return Result{}, models.NewValidationError("count", "count must be at least 1, got %d", count)
	}
	ref, err := ParseItemRef(itemRef)
	if err != nil {
		return Result{}, err
	}

	return r.edit(ctx, owner, key, r.repo.SetItemCount(ctx, owner, ref, count))
}

func (r *Resolver) RemoveItem(ctx context.Context, owner models.Identity, itemRef string) (Result, error) {
	key, err := requireOwner(owner)
	if err != nil {
		return Result{}, err
	}
	ref, err := ParseItemRef(itemRef)
	if err != nil {
		return Result{}, err
	}

	return r.edit(ctx, owner, key, r.repo.RemoveItem(ctx, owner, ref))
}

func (r *Resolver) edit(ctx context.Context, owner models.Identity, key string, err error) (Result, error) {
	if errors.Is(err, ErrCartNotFound) || errors.Is(err, ErrItemNotFound) {
		r.logger.Debug("cart edit matched nothing", "owner", key, "reason", err)
		return Result{Cart: models.EmptyCart(owner), Found: false}, nil
	}
	if err != nil {
		return Result{}, err
	}
	r.invalidate(key)

	cart, err := r.repo.GetCart(ctx, owner)
	if err != nil {
		return Result{}, err
	}
	return Result{Cart: cart, Found: true}, nil
}

// Clear removes the owner's cart. Clearing a missing cart succeeds.
func (r *Resolver) Clear(ctx context.Context, owner models.Identity) error {
	key, err := requireOwner(owner)
	if err != nil {
		return err
	}

	if err := r.repo.DeleteCart(ctx, owner); err != nil {
		return err
	}
	r.invalidate(key)
	return nil
}

func (r *Resolver) fill(key string, generation int64, cart *models.Cart) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()

	err := r.cache.Set(ctx, key, generation, cart)
	switch {
	case errors.Is(err, ErrStaleGeneration):
		r.logger.Debug("cart cache fill skipped", "owner", key)
	case err != nil:
		r.logger.Warn("cart cache set failed", "owner", key, "error", err)
	}
}

func (r *Resolver) invalidate(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()
	if err := r.cache.Delete(ctx, key); err != nil {
		r.logger.Warn("cart cache invalidate failed", "owner", key, "error", err)
	}
}
