package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/safar/go-order-engine/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const addItemAttempts = 3

type cartDocument struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	OwnerKey  string             `bson:"owner_key"`
	UserID    *int64             `bson:"user_id,omitempty"`
	Token     string             `bson:"token,omitempty"`
	Items     []cartItemDocument `bson:"items"`
	CreatedAt time.Time          `bson:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at"`
}

type cartItemDocument struct {
	ID        string    `bson:"id"`
	ProductID int64     `bson:"product_id"`
	Count     int       `bson:"count"`
	AddedAt   time.Time `bson:"added_at"`
}

func (d *cartDocument) toModel() *models.Cart {
	cart := &models.Cart{
		ID:        d.ID.Hex(),
		UserID:    d.UserID,
		Token:     d.Token,
		Items:     make([]models.CartItem, 0, len(d.Items)),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	for _, item := range d.Items {
		cart.Items = append(cart.Items, models.CartItem{
			ID:        item.ID,
			ProductID: item.ProductID,
			Count:     item.Count,
			AddedAt:   item.AddedAt,
		})
	}
	return cart
}

// MongoRepository keeps one document per cart owner with the lines embedded.
type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection("carts"),
	}
}

func (m *MongoRepository) GetCart(ctx context.Context, owner models.Identity) (*models.Cart, error) {
	var doc cartDocument

	err := m.collection.FindOne(ctx, bson.M{"owner_key": owner.CartKey()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	return doc.toModel(), nil
}

// AddItem increments an existing line in place, otherwise pushes a new line
// while upserting the cart. Two writers racing to create the same cart collide
// on the unique owner_key index; the loser starts over and takes the
// increment path.
func (m *MongoRepository) AddItem(ctx context.Context, owner models.Identity, productID int64, count int) error {
	key := owner.CartKey()

	for attempt := 0; attempt < addItemAttempts; attempt++ {
		now := time.Now()

		result, err := m.collection.UpdateOne(ctx,
			bson.M{"owner_key": key, "items.product_id": productID},
			bson.M{
				"$inc": bson.M{"items.$.count": count},
				"$set": bson.M{"updated_at": now},
			})
		if err != nil {
			return fmt.Errorf("failed to increment item: %w", err)
		}
		if result.MatchedCount > 0 {
			return nil
		}

		onInsert := bson.M{"created_at": now}
		if owner.UserID != 0 {
			onInsert["user_id"] = owner.UserID
		} else {
			onInsert["token"] = owner.Token
		}

		_, err = m.collection.UpdateOne(ctx,
			bson.M{"owner_key": key, "items.product_id": bson.M{"$ne": productID}},
			bson.M{
				"$push": bson.M{"items": cartItemDocument{
					ID:        uuid.NewString(),
					ProductID: productID,
					Count:     count,
					AddedAt:   now,
				}},
				"$set":         bson.M{"updated_at": now},
				"$setOnInsert": onInsert,
			},
			options.Update().SetUpsert(true))
		if err == nil {
			return nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("failed to add new item: %w", err)
		}
	}

	return fmt.Errorf("failed to add item after %d attempts", addItemAttempts)
}

func refFilter(ref ItemRef) (string, any) {
	if ref.ByProduct() {
		return "product_id", ref.ProductID
	}
	return "id", ref.ItemID
}

func (m *MongoRepository) SetItemCount(ctx context.Context, owner models.Identity, ref ItemRef, count int) error {
	field, value := refFilter(ref)

	result, err := m.collection.UpdateOne(ctx,
		bson.M{"owner_key": owner.CartKey(), "items." + field: value},
		bson.M{"$set": bson.M{
			"items.$.count": count,
			"updated_at":    time.Now(),
		}})
	if err != nil {
		return fmt.Errorf("failed to update item quantity: %w", err)
	}

	if result.MatchedCount == 0 {
		return m.missing(ctx, owner)
	}
	return nil
}

func (m *MongoRepository) RemoveItem(ctx context.Context, owner models.Identity, ref ItemRef) error {
	field, value := refFilter(ref)

	result, err := m.collection.UpdateOne(ctx,
		bson.M{"owner_key": owner.CartKey(), "items." + field: value},
		bson.M{
			"$pull": bson.M{"items": bson.M{field: value}},
			"$set":  bson.M{"updated_at": time.Now()},
		})
	if err != nil {
		return fmt.Errorf("failed to remove item: %w", err)
	}

	if result.MatchedCount == 0 {
		return m.missing(ctx, owner)
	}
	return nil
}

func (m *MongoRepository) missing(ctx context.Context, owner models.Identity) error {
	n, err := m.collection.CountDocuments(ctx, bson.M{"owner_key": owner.CartKey()})
	if err != nil {
		return fmt.Errorf("failed to check cart: %w", err)
	}
	if n == 0 {
		return ErrCartNotFound
	}
	return ErrItemNotFound
}

func (m *MongoRepository) DeleteCart(ctx context.Context, owner models.Identity) error {
	if _, err := m.collection.DeleteOne(ctx, bson.M{"owner_key": owner.CartKey()}); err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	return nil
}

func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "owner_key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(90 * 24 * 60 * 60),
		},
	}

	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}
