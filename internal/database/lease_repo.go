package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dandantas/ordersweep/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// LeaseRepository handles the shared master lease
type LeaseRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

// NewLeaseRepository creates a new lease repository
func NewLeaseRepository(db *MongoDB) *LeaseRepository {
	return &LeaseRepository{
		collection: db.GetCollection(CollectionLeaderLeases),
		now:        time.Now,
	}
}

// TryAcquire claims or renews the lease for holder.
// Returns true if holder owns the lease until now+ttl, false if another holder's lease is still valid.
// The filter matches a lease that is ours or expired; when nothing matches the upsert
// collides on _id, which means someone else holds it.
func (r *LeaseRepository) TryAcquire(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	now := r.now().UTC()
	expiresAt := now.Add(ttl)

	filter := bson.M{
		"_id": name,
		"$or": []bson.M{
			{"holder": holder},
			{"expires_at": bson.M{"$lt": now}},
		},
	}

	// acquired_at must change only on a takeover, which a plain $set cannot express
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"acquired_at": bson.M{"$cond": bson.A{
				bson.M{"$eq": bson.A{"$holder", holder}},
				"$acquired_at",
				now,
			}},
		}}},
		{{Key: "$set", Value: bson.M{
			"holder":     holder,
			"renewed_at": now,
			"expires_at": expiresAt,
		}}},
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var lease model.Lease
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&lease)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) || errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}

	if lease.Holder != holder {
		return false, nil
	}

	slog.Debug("Lease held",
		"lease", name,
		"instance_id", holder,
		"expires_at", expiresAt,
	)

	return true, nil
}

// Release drops the lease, but only if it's owned by holder.
// This prevents an instance from releasing another instance's lease.
func (r *LeaseRepository) Release(ctx context.Context, name, holder string) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := r.collection.DeleteOne(ctxTimeout, bson.M{"_id": name, "holder": holder})
	if err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}

	if result.DeletedCount > 0 {
		slog.Info("Released lease", "lease", name, "instance_id", holder)
	}

	return nil
}

// Get returns the current lease document, or nil when nobody has ever held it
func (r *LeaseRepository) Get(ctx context.Context, name string) (*model.Lease, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var lease model.Lease
	err := r.collection.FindOne(ctxTimeout, bson.M{"_id": name}).Decode(&lease)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get lease: %w", err)
	}

	return &lease, nil
}
