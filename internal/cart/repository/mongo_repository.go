package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fjod/go_checkout/internal/domain"
)

type cartDocument struct {
	OwnerKey  string         `bson:"owner_key"`
	Items     []itemDocument `bson:"items"`
	CreatedAt time.Time      `bson:"created_at"`
	UpdatedAt time.Time      `bson:"updated_at"`
}

// Prices are stored as strings so decimals round-trip exactly.
type itemDocument struct {
	RowID     string            `bson:"row_id"`
	ItemID    int64             `bson:"item_id"`
	Kind      string            `bson:"kind"`
	Name      string            `bson:"name"`
	UnitPrice string            `bson:"unit_price"`
	Quantity  int               `bson:"quantity"`
	Options   map[string]string `bson:"options,omitempty"`
	AddedAt   time.Time         `bson:"added_at"`
}

func toItemDocument(it domain.CartItem) itemDocument {
	return itemDocument{
		RowID:     it.RowID,
		ItemID:    it.ItemID,
		Kind:      string(it.Kind),
		Name:      it.Name,
		UnitPrice: it.UnitPrice.String(),
		Quantity:  it.Quantity,
		Options:   it.Options,
		AddedAt:   it.AddedAt,
	}
}

func (d cartDocument) toDomain() (*domain.Cart, error) {
	cart := &domain.Cart{
		OwnerKey:  d.OwnerKey,
		Items:     make([]domain.CartItem, 0, len(d.Items)),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	for _, it := range d.Items {
		price, err := decimal.NewFromString(it.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("bad unit price %q on row %s: %w", it.UnitPrice, it.RowID, err)
		}
		cart.Items = append(cart.Items, domain.CartItem{
			RowID:     it.RowID,
			ItemID:    it.ItemID,
			Kind:      domain.ItemKind(it.Kind),
			Name:      it.Name,
			UnitPrice: price,
			Quantity:  it.Quantity,
			Options:   it.Options,
			AddedAt:   it.AddedAt,
		})
	}
	return cart, nil
}

type mongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) CartRepository {
	return &mongoRepository{
		collection: db.Collection("carts"),
	}
}

func (m *mongoRepository) GetCart(ctx context.Context, ownerKey string) (*domain.Cart, error) {
	var doc cartDocument

	err := m.collection.FindOne(ctx, bson.M{"owner_key": ownerKey}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	return doc.toDomain()
}

func (m *mongoRepository) UpsertCart(ctx context.Context, cart *domain.Cart) error {
	now := time.Now()
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = now
	}
	cart.UpdatedAt = now

	items := make([]itemDocument, 0, len(cart.Items))
	for _, it := range cart.Items {
		items = append(items, toItemDocument(it))
	}

	filter := bson.M{"owner_key": cart.OwnerKey}
	update := bson.M{
		"$set": bson.M{
			"items":      items,
			"updated_at": cart.UpdatedAt,
		},
		"$setOnInsert": bson.M{"created_at": cart.CreatedAt},
	}

	_, err := m.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert cart: %w", err)
	}
	return nil
}

func (m *mongoRepository) AddItem(ctx context.Context, ownerKey string, item domain.CartItem) error {
	now := time.Now()

	// existing row: bump quantity and refresh the display fields
	filter := bson.M{"owner_key": ownerKey, "items.row_id": item.RowID}
	update := bson.M{
		"$inc": bson.M{"items.$.quantity": item.Quantity},
		"$set": bson.M{
			"items.$.name":       item.Name,
			"items.$.unit_price": item.UnitPrice.String(),
			"updated_at":         now,
		},
	}
	res, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update existing item: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	item.AddedAt = now
	push := bson.M{
		"$push":        bson.M{"items": toItemDocument(item)},
		"$set":         bson.M{"updated_at": now},
		"$setOnInsert": bson.M{"created_at": now},
	}
	_, err = m.collection.UpdateOne(ctx, bson.M{"owner_key": ownerKey}, push, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to add new item: %w", err)
	}
	return nil
}

func (m *mongoRepository) UpdateItemQuantity(ctx context.Context, ownerKey, rowID string, quantity int) error {
	filter := bson.M{"owner_key": ownerKey, "items.row_id": rowID}
	update := bson.M{
		"$set": bson.M{
			"items.$.quantity": quantity,
			"updated_at":       time.Now(),
		},
	}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update item quantity: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (m *mongoRepository) AdjustItemQuantity(ctx context.Context, ownerKey, rowID string, delta int) error {
	filter := bson.M{"owner_key": ownerKey, "items.row_id": rowID}
	adjusted := bson.M{"$max": bson.A{1, bson.M{"$add": bson.A{"$$this.quantity", delta}}}}
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"items": bson.M{"$map": bson.M{
				"input": "$items",
				"in": bson.M{"$cond": bson.A{
					bson.M{"$eq": bson.A{"$$this.row_id", rowID}},
					bson.M{"$mergeObjects": bson.A{"$$this", bson.M{"quantity": adjusted}}},
					"$$this",
				}},
			}},
			"updated_at": time.Now(),
		}}},
	}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to adjust item quantity: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (m *mongoRepository) RemoveItem(ctx context.Context, ownerKey, rowID string) error {
	filter := bson.M{"owner_key": ownerKey, "items.row_id": rowID}
	update := bson.M{
		"$pull": bson.M{"items": bson.M{"row_id": rowID}},
		"$set":  bson.M{"updated_at": time.Now()},
	}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to remove item: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (m *mongoRepository) DeleteCart(ctx context.Context, ownerKey string) error {
	result, err := m.collection.DeleteOne(ctx, bson.M{"owner_key": ownerKey})
	if err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrCartNotFound
	}
	return nil
}

func (m *mongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "owner_key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			// abandoned guest carts expire after 30 days
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(30 * 24 * 60 * 60),
		},
	}

	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// EnsureIndexes is exported for the service bootstrap.
func EnsureIndexes(ctx context.Context, repo CartRepository) error {
	if m, ok := repo.(*mongoRepository); ok {
		return m.CreateIndexes(ctx)
	}
	return nil
}
