// Package cart resolves and edits the cart owned by a user or an anonymous
// token.
package cart

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/safar/go-order-engine/internal/models"
)

var (
	ErrCartNotFound = errors.New("cart not found")
	ErrItemNotFound = errors.New("item not found in cart")
)

// Repository is the storage a Resolver needs. Implementations key carts by
// models.Identity.CartKey.
type Repository interface {
	GetCart(ctx context.Context, owner models.Identity) (*models.Cart, error)
	// AddItem creates the cart if needed and adds count to the product's line,
	// creating the line when absent. The sum happens in storage.
	AddItem(ctx context.Context, owner models.Identity, productID int64, count int) error
	SetItemCount(ctx context.Context, owner models.Identity, ref ItemRef, count int) error
	RemoveItem(ctx context.Context, owner models.Identity, ref ItemRef) error
	// DeleteCart succeeds when there is nothing to delete.
	DeleteCart(ctx context.Context, owner models.Identity) error
}

// ItemRef addresses a cart line either by its own id or by the product it holds.
type ItemRef struct {
	ItemID    string
	ProductID int64
}

func (r ItemRef) ByProduct() bool { return r.ItemID == "" }

func (r ItemRef) Matches(item models.CartItem) bool {
	if r.ByProduct() {
		return item.ProductID == r.ProductID
	}
	return item.ID == r.ItemID
}

// ParseItemRef accepts a numeric product id or a line-item uuid.
func ParseItemRef(raw string) (ItemRef, error) {
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if id < 1 {
			return ItemRef{}, models.NewValidationError("itemId", "invalid product id %d", id)
		}
		return ItemRef{ProductID: id}, nil
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return ItemRef{}, models.NewValidationError("itemId", "%q is neither a product id nor an item id", raw)
	}
	return ItemRef{ItemID: id.String()}, nil
}
