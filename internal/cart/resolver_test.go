package cart

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/safar/go-order-engine/internal/database"
	"github.com/safar/go-order-engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryRepository struct {
	mu    sync.Mutex
	carts map[string]*models.Cart
	gets  atomic.Int32
	delay time.Duration
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{carts: make(map[string]*models.Cart)}
}

func (m *memoryRepository) GetCart(ctx context.Context, owner models.Identity) (*models.Cart, error) {
	m.gets.Add(1)
	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cart, ok := m.carts[owner.CartKey()]
	if !ok {
		return nil, ErrCartNotFound
	}
	cp := *cart
	cp.Items = append([]models.CartItem{}, cart.Items...)
	return &cp, nil
}

func (m *memoryRepository) AddItem(ctx context.Context, owner models.Identity, productID int64, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cart, ok := m.carts[owner.CartKey()]
	if !ok {
		cart = models.EmptyCart(owner)
		m.carts[owner.CartKey()] = cart
	}
	for i := range cart.Items {
		if cart.Items[i].ProductID == productID {
			cart.Items[i].Count += count
			return nil
		}
	}
	cart.Items = append(cart.Items, models.CartItem{ID: uuid.NewString(), ProductID: productID, Count: count})
	return nil
}

func (m *memoryRepository) SetItemCount(ctx context.Context, owner models.Identity, ref ItemRef, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cart, ok := m.carts[owner.CartKey()]
	if !ok {
		return ErrCartNotFound
	}
	for i := range cart.Items {
		if ref.Matches(cart.Items[i]) {
			cart.Items[i].Count = count
			return nil
		}
	}
	return ErrItemNotFound
}

func (m *memoryRepository) RemoveItem(ctx context.Context, owner models.Identity, ref ItemRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cart, ok := m.carts[owner.CartKey()]
	if !ok {
		return ErrCartNotFound
	}
	for i := range cart.Items {
		if ref.Matches(cart.Items[i]) {
			cart.Items = append(cart.Items[:i], cart.Items[i+1:]...)
			return nil
		}
	}
	return ErrItemNotFound
}

func (m *memoryRepository) DeleteCart(ctx context.Context, owner models.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.carts, owner.CartKey())
	return nil
}

type knownProducts map[int64]bool

func (k knownProducts) ProductExists(ctx context.Context, id int64) (bool, error) {
	return k[id], nil
}

func newTestResolver(repo Repository) *Resolver {
	return NewResolver(repo, nil, knownProducts{1: true, 2: true}, nil)
}

func TestResolveMissingCartIsEmpty(t *testing.T) {
	r := newTestResolver(newMemoryRepository())

	cart, err := r.Resolve(context.Background(), models.Identity{Token: "anon-1"})
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
	assert.NotNil(t, cart.Items)
	assert.Equal(t, "anon-1", cart.Token)
	assert.Nil(t, cart.UserID)
}

func TestResolveRequiresOwner(t *testing.T) {
	r := newTestResolver(newMemoryRepository())

	_, err := r.Resolve(context.Background(), models.Identity{})
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestAddItemSumsCounts(t *testing.T) {
	r := newTestResolver(newMemoryRepository())
	owner := models.Identity{UserID: 9}
	ctx := context.Background()

	_, err := r.AddItem(ctx, owner, 1, 2)
	require.NoError(t, err)
	cart, err := r.AddItem(ctx, owner, 1, 3)
	require.NoError(t, err)

	require.Len(t, cart.Items, 1)
	assert.Equal(t, 5, cart.Items[0].Count)
}

func TestAddItemValidation(t *testing.T) {
	r := newTestResolver(newMemoryRepository())
	owner := models.Identity{UserID: 9}
	ctx := context.Background()

	_, err := r.AddItem(ctx, owner, 1, 0)
	var verr *models.ValidationError
	assert.True(t, errors.As(err, &verr))

	_, err = r.AddItem(ctx, owner, 77, 1)
	assert.ErrorIs(t, err, database.ErrProductNotFound)
}

func TestUpdateItemCountByProductAndItemID(t *testing.T) {
	r := newTestResolver(newMemoryRepository())
	owner := models.Identity{UserID: 9}
	ctx := context.Background()

	cart, err := r.AddItem(ctx, owner, 2, 1)
	require.NoError(t, err)
	itemID := cart.Items[0].ID

	res, err := r.UpdateItemCount(ctx, owner, "2", 4)
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, 4, res.Cart.Items[0].Count)

	res, err = r.UpdateItemCount(ctx, owner, itemID, 6)
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, 6, res.Cart.Items[0].Count)
}

func TestEditsOnMissingCartOrItemAreLenient(t *testing.T) {
	repo := newMemoryRepository()
	r := newTestResolver(repo)
	owner := models.Identity{Token: "anon-2"}
	ctx := context.Background()

	res, err := r.UpdateItemCount(ctx, owner, "1", 3)
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Empty(t, res.Cart.Items)

	_, err = r.AddItem(ctx, owner, 1, 1)
	require.NoError(t, err)

	res, err = r.RemoveItem(ctx, owner, uuid.NewString())
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Empty(t, res.Cart.Items)

	// the stored cart is untouched
	cart, err := r.Resolve(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, cart.Items, 1)
}

func TestUpdateItemCountRejectsBadInput(t *testing.T) {
	r := newTestResolver(newMemoryRepository())
	owner := models.Identity{UserID: 9}
	ctx := context.Background()

	var verr *models.ValidationError
	_, err := r.UpdateItemCount(ctx, owner, "1", 0)
	assert.True(t, errors.As(err, &verr))

	_, err = r.UpdateItemCount(ctx, owner, "not-a-ref", 1)
	assert.True(t, errors.As(err, &verr))
}

func TestRemoveItemAndClear(t *testing.T) {
	r := newTestResolver(newMemoryRepository())
	owner := models.Identity{UserID: 3}
	ctx := context.Background()

	_, err := r.AddItem(ctx, owner, 1, 1)
	require.NoError(t, err)
	_, err = r.AddItem(ctx, owner, 2, 1)
	require.NoError(t, err)

	res, err := r.RemoveItem(ctx, owner, "1")
	require.NoError(t, err)
	assert.True(t, res.Found)
	require.Len(t, res.Cart.Items, 1)
	assert.Equal(t, int64(2), res.Cart.Items[0].ProductID)

	require.NoError(t, r.Clear(ctx, owner))
	require.NoError(t, r.Clear(ctx, owner))

	cart, err := r.Resolve(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
}

func TestResolveCoalescesConcurrentMisses(t *testing.T) {
	repo := newMemoryRepository()
	repo.delay = 50 * time.Millisecond
	r := newTestResolver(repo)
	owner := models.Identity{UserID: 5}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Resolve(context.Background(), owner)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Less(t, repo.gets.Load(), int32(10))
}

func TestParseItemRef(t *testing.T) {
	ref, err := ParseItemRef("42")
	require.NoError(t, err)
	assert.True(t, ref.ByProduct())
	assert.Equal(t, int64(42), ref.ProductID)

	id := uuid.NewString()
	ref, err = ParseItemRef(id)
	require.NoError(t, err)
	assert.False(t, ref.ByProduct())
	assert.Equal(t, id, ref.ItemID)

	_, err = ParseItemRef("0")
	assert.Error(t, err)
}
