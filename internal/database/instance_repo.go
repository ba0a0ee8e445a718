package database

import (
	"context"
	"fmt"
	"time"

	"github.com/dandantas/ordersweep/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// InstanceRepository handles instance liveness records
type InstanceRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

// NewInstanceRepository creates a new instance repository
func NewInstanceRepository(db *MongoDB) *InstanceRepository {
	return &InstanceRepository{
		collection: db.GetCollection(CollectionInstances),
		now:        time.Now,
	}
}

// Heartbeat upserts the instance record. started_at is written once.
func (r *InstanceRepository) Heartbeat(ctx context.Context, instance model.Instance) error {
	update := bson.M{
		"$set": bson.M{
			"hostname":     instance.Hostname,
			"heartbeat_at": instance.HeartbeatAt,
			"expires_at":   instance.ExpiresAt,
		},
		"$setOnInsert": bson.M{
			"started_at": instance.StartedAt,
		},
	}

	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": instance.ID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}

	return nil
}

// Remove deletes the instance record
func (r *InstanceRepository) Remove(ctx context.Context, instanceID string) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := r.collection.DeleteOne(ctxTimeout, bson.M{"_id": instanceID}); err != nil {
		return fmt.Errorf("failed to remove instance: %w", err)
	}

	return nil
}

// ListLive returns instances whose heartbeat has not expired, oldest first.
// The TTL monitor only runs once a minute, so expired records are filtered here too.
func (r *InstanceRepository) ListLive(ctx context.Context) ([]model.Instance, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{"expires_at": bson.M{"$gte": r.now().UTC()}}
	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: 1}})

	cursor, err := r.collection.Find(ctxTimeout, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer cursor.Close(ctxTimeout)

	instances := []model.Instance{}
	if err := cursor.All(ctxTimeout, &instances); err != nil {
		return nil, fmt.Errorf("failed to decode instances: %w", err)
	}

	return instances, nil
}
