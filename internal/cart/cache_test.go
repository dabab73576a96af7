package cart

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/safar/go-order-engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisCache(client, 15*time.Minute), mr
}

func TestRedisCacheSetGet(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()

	userID := int64(4)
	cart := &models.Cart{
		ID:     "17",
		UserID: &userID,
		Items:  []models.CartItem{{ID: "a", ProductID: 1, Count: 2}},
	}

	require.NoError(t, cache.Set(ctx, "user:4", 0, cart))
	assert.True(t, mr.Exists("cart:user:4"))

	ttl := mr.TTL("cart:user:4")
	assert.GreaterOrEqual(t, ttl, 15*time.Minute)
	assert.Less(t, ttl, 20*time.Minute)

	got, err := cache.Get(ctx, "user:4")
	require.NoError(t, err)
	assert.Equal(t, "17", got.ID)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 2, got.Items[0].Count)
}

func TestRedisCacheMiss(t *testing.T) {
	cache, _ := setupTestRedis(t)

	got, err := cache.Get(context.Background(), "token:nobody")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Nil(t, got)
}

func TestRedisCacheInvalidJSON(t *testing.T) {
	cache, mr := setupTestRedis(t)
	require.NoError(t, mr.Set("cart:user:1", "{not json"))

	_, err := cache.Get(context.Background(), "user:1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}

func TestRedisCacheDelete(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "user:2", 0, models.EmptyCart(models.Identity{UserID: 2})))
	require.NoError(t, cache.Delete(ctx, "user:2"))
	assert.False(t, mr.Exists("cart:user:2"))

	gen, err := cache.Generation(ctx, "user:2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)
	assert.True(t, mr.Exists("cart:user:2:gen"))
}

func TestRedisCacheSetRejectsStaleGeneration(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()
	cart := models.EmptyCart(models.Identity{UserID: 3})

	gen, err := cache.Generation(ctx, "user:3")
	require.NoError(t, err)
	assert.Equal(t, int64(0), gen)

	require.NoError(t, cache.Delete(ctx, "user:3"))

	err = cache.Set(ctx, "user:3", gen, cart)
	assert.ErrorIs(t, err, ErrStaleGeneration)
	assert.False(t, mr.Exists("cart:user:3"))

	gen, err = cache.Generation(ctx, "user:3")
	require.NoError(t, err)
	require.NoError(t, cache.Set(ctx, "user:3", gen, cart))
	assert.True(t, mr.Exists("cart:user:3"))
}

// pausingRepository holds the first GetCart after it has read the cart, until
// resume is closed.
type pausingRepository struct {
	*memoryRepository
	once   sync.Once
	paused chan struct{}
	resume chan struct{}
}

func (p *pausingRepository) GetCart(ctx context.Context, owner models.Identity) (*models.Cart, error) {
	cart, err := p.memoryRepository.GetCart(ctx, owner)
	p.once.Do(func() {
		close(p.paused)
		<-p.resume
	})
	return cart, err
}

func TestResolverDoesNotCacheCartClearedDuringRead(t *testing.T) {
	cache, mr := setupTestRedis(t)
	repo := &pausingRepository{
		memoryRepository: newMemoryRepository(),
		paused:           make(chan struct{}),
		resume:           make(chan struct{}),
	}
	r := NewResolver(repo, cache, knownProducts{1: true}, nil)
	owner := models.Identity{UserID: 9}
	ctx := context.Background()

	require.NoError(t, repo.memoryRepository.AddItem(ctx, owner, 1, 2))

	done := make(chan struct{})
	go func() {
		defer close(done)
		cart, err := r.Resolve(ctx, owner)
		assert.NoError(t, err)
		assert.Len(t, cart.Items, 1)
	}()

	<-repo.paused
	require.NoError(t, r.Clear(ctx, owner))
	close(repo.resume)
	<-done

	assert.False(t, mr.Exists("cart:user:9"))

	cart, err := r.Resolve(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
}

func TestStoredBypassesCache(t *testing.T) {
	cache, _ := setupTestRedis(t)
	repo := newMemoryRepository()
	r := NewResolver(repo, cache, knownProducts{1: true}, nil)
	owner := models.Identity{UserID: 10}
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, owner.CartKey(), 0, &models.Cart{
		Items: []models.CartItem{{ID: "stale", ProductID: 1, Count: 5}},
	}))

	cart, err := r.Stored(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)

	_, err = r.Stored(ctx, models.Identity{})
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestResolverInvalidatesCacheOnEdit(t *testing.T) {
	cache, mr := setupTestRedis(t)
	r := NewResolver(newMemoryRepository(), cache, knownProducts{1: true}, nil)
	owner := models.Identity{UserID: 8}
	ctx := context.Background()

	_, err := r.Resolve(ctx, owner)
	require.NoError(t, err)

	_, err = r.AddItem(ctx, owner, 1, 1)
	require.NoError(t, err)
	assert.False(t, mr.Exists("cart:user:8"))

	cart, err := r.Resolve(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, cart.Items, 1)
	assert.True(t, mr.Exists("cart:user:8"))
}

func TestResolverSurvivesCacheOutage(t *testing.T) {
	cache, mr := setupTestRedis(t)
	r := NewResolver(newMemoryRepository(), cache, knownProducts{1: true}, nil)
	owner := models.Identity{Token: "t"}
	ctx := context.Background()

	mr.Close()

	cart, err := r.AddItem(ctx, owner, 1, 2)
	require.NoError(t, err)
	assert.Len(t, cart.Items, 1)

	cart, err = r.Resolve(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, cart.Items, 1)
}
