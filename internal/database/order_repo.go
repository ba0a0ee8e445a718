package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dandantas/ordersweep/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// OrderRepository handles order reconciliation queries
type OrderRepository struct {
	collection *mongo.Collection
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *MongoDB) *OrderRepository {
	return &OrderRepository{
		collection: db.GetCollection(CollectionOrders),
	}
}

// unpaidCheckoutFilter matches orders that reserved stock before cutoff and were never paid
func unpaidCheckoutFilter(cutoff time.Time) bson.M {
	return bson.M{
		"status":         model.OrderStatusCheckedOut,
		"paid_at":        nil,
		"checked_out_at": bson.M{"$lt": cutoff},
	}
}

// DeleteAbandoned removes open orders created before cutoff
func (r *OrderRepository) DeleteAbandoned(ctx context.Context, cutoff time.Time) (int64, error) {
	filter := bson.M{
		"status":     model.OrderStatusOpen,
		"created_at": bson.M{"$lt": cutoff},
	}

	result, err := r.collection.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to delete abandoned orders: %w", err)
	}

	return result.DeletedCount, nil
}

// DeleteExpired removes expired orders whose stock was released before cutoff
func (r *OrderRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	filter := bson.M{
		"status":     model.OrderStatusExpired,
		"expired_at": bson.M{"$lt": cutoff},
	}

	result, err := r.collection.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired orders: %w", err)
	}

	return result.DeletedCount, nil
}

// releasableFilter matches stale unpaid checkouts and releases left unfinished
// by an earlier run
func releasableFilter(cutoff time.Time) bson.M {
	return bson.M{
		"$or": bson.A{
			unpaidCheckoutFilter(cutoff),
			bson.M{"status": model.OrderStatusReleasing},
		},
	}
}

// FindUnpaidCheckouts returns up to limit orders that need their stock
// released, oldest checkout first
func (r *OrderRepository) FindUnpaidCheckouts(ctx context.Context, cutoff time.Time, limit int) ([]model.Order, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "checked_out_at", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, releasableFilter(cutoff), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find unpaid checkouts: %w", err)
	}
	defer cursor.Close(ctx)

	var orders []model.Order
	if err := cursor.All(ctx, &orders); err != nil {
		return nil, fmt.Errorf("failed to decode unpaid checkouts: %w", err)
	}

	return orders, nil
}

// ClaimUnpaidCheckout moves one unpaid checkout to releasing if it still
// qualifies. An order already releasing is returned as is so its release can
// be retried. Returns nil when the order was paid, finished or removed in the
// meantime.
func (r *OrderRepository) ClaimUnpaidCheckout(ctx context.Context, id primitive.ObjectID, cutoff, now time.Time) (*model.Order, error) {
	filter := releasableFilter(cutoff)
	filter["_id"] = id

	update := bson.M{
		"$set": bson.M{"status": model.OrderStatusReleasing},
		// first claim wins
		"$min": bson.M{"releasing_at": now},
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var order model.Order
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&order)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim order %s: %w", id.Hex(), err)
	}

	return &order, nil
}

// CompleteRelease moves a releasing order to expired once all of its stock
// is back. Returns false when another run completed it first.
func (r *OrderRepository) CompleteRelease(ctx context.Context, id primitive.ObjectID, now time.Time) (bool, error) {
	filter := bson.M{
		"_id":    id,
		"status": model.OrderStatusReleasing,
	}
	update := bson.M{
		"$set": bson.M{
			"status":     model.OrderStatusExpired,
			"expired_at": now,
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to complete release of order %s: %w", id.Hex(), err)
	}

	return result.ModifiedCount > 0, nil
}

// Each streams orders matching status (all orders when empty), newest first
func (r *OrderRepository) Each(ctx context.Context, status string, fn func(*model.Order) error) error {
	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetBatchSize(200)

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return fmt.Errorf("failed to list orders: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var order model.Order
		if err := cursor.Decode(&order); err != nil {
			return fmt.Errorf("failed to decode order: %w", err)
		}
		if err := fn(&order); err != nil {
			return err
		}
	}

	return cursor.Err()
}
