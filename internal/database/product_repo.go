package database

import (
	"context"
	"fmt"
	"time"

	"github.com/dandantas/ordersweep/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// ProductRepository handles product stock updates
type ProductRepository struct {
	collection *mongo.Collection
}

// NewProductRepository creates a new product repository
func NewProductRepository(db *MongoDB) *ProductRepository {
	return &ProductRepository{
		collection: db.GetCollection(CollectionProducts),
	}
}

// restoreFilter matches the product only while orderID's quantity has not
// been put back yet
func restoreFilter(productID, orderID primitive.ObjectID) bson.M {
	return bson.M{
		"_id":                      productID,
		"released_orders.order_id": bson.M{"$ne": orderID},
	}
}

// RestoreQuantity puts an order's reserved quantity back into a product's
// stock and records the order on the product in the same single-document
// update, so repeating it for the same order is a no-op. Returns false when
// nothing changed: the product is gone or this order was already restored.
func (r *ProductRepository) RestoreQuantity(ctx context.Context, productID, orderID primitive.ObjectID, quantity int, at time.Time) (bool, error) {
	if quantity <= 0 {
		return false, nil
	}

	update := bson.M{
		"$inc":  bson.M{"quantity": quantity},
		"$push": bson.M{"released_orders": model.StockRelease{OrderID: orderID, At: at}},
	}

	result, err := r.collection.UpdateOne(ctx, restoreFilter(productID, orderID), update)
	if err != nil {
		return false, fmt.Errorf("failed to restore quantity for product %s: %w", productID.Hex(), err)
	}

	return result.MatchedCount > 0, nil
}

// ForgetReleases drops release records older than before from every product
func (r *ProductRepository) ForgetReleases(ctx context.Context, before time.Time) (int64, error) {
	filter := bson.M{"released_orders.at": bson.M{"$lt": before}}
	update := bson.M{"$pull": bson.M{"released_orders": bson.M{"at": bson.M{"$lt": before}}}}

	result, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("failed to prune release records: %w", err)
	}

	return result.ModifiedCount, nil
}
