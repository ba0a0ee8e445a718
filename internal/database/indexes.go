package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SweepRunRetention is how long sweep history is kept before the TTL monitor removes it
const SweepRunRetention = 30 * 24 * time.Hour

// CreateIndexes creates all necessary indexes for the collections
func CreateIndexes(ctx context.Context, db *MongoDB) error {
	slog.Info("Creating MongoDB indexes")

	sets := []struct {
		collection string
		indexes    []mongo.IndexModel
	}{
		{CollectionOrders, orderIndexes()},
		{CollectionProducts, productIndexes()},
		{CollectionPhoneNumbers, phoneNumberIndexes()},
		{CollectionLeaderLeases, leaseIndexes()},
		{CollectionInstances, instanceIndexes()},
		{CollectionSweepRuns, sweepRunIndexes()},
	}

	for _, set := range sets {
		if err := createIndexes(ctx, db, set.collection, set.indexes); err != nil {
			return err
		}
	}

	slog.Info("Successfully created all MongoDB indexes")
	return nil
}

func createIndexes(ctx context.Context, db *MongoDB, name string, indexes []mongo.IndexModel) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := db.GetCollection(name).Indexes().CreateMany(ctxTimeout, indexes); err != nil {
		return fmt.Errorf("failed to create %s indexes: %w", name, err)
	}

	slog.Info("Created indexes", "collection", name)
	return nil
}

// orderIndexes back the three order sweeps and the export
func orderIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "created_at", Value: 1},
			},
			Options: options.Index().SetName("idx_status_created_at"),
		},
		{
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "checked_out_at", Value: 1},
			},
			Options: options.Index().
				SetName("idx_checked_out_unpaid").
				SetPartialFilterExpression(bson.M{"status": "checked_out"}),
		},
		{
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "expired_at", Value: 1},
			},
			Options: options.Index().SetName("idx_status_expired_at"),
		},
	}
}

// productIndexes back release record lookups and pruning
func productIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "released_orders.at", Value: 1}},
			Options: options.Index().SetName("idx_released_orders_at").SetSparse(true),
		},
	}
}

func phoneNumberIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "verified", Value: 1},
				{Key: "created_at", Value: 1},
			},
			Options: options.Index().SetName("idx_verified_created_at"),
		},
	}
}

// Leases are never removed by TTL: an expired lease is taken over in place,
// and deleting it under a holder that is mid-renewal would only cause churn.
func leaseIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "holder", Value: 1}},
			Options: options.Index().SetName("idx_holder"),
		},
	}
}

func instanceIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0).SetName("idx_expires_at_ttl"),
		},
	}
}

func sweepRunIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "run_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_run_id_unique"),
		},
		{
			Keys: bson.D{
				{Key: "sweep", Value: 1},
				{Key: "started_at", Value: -1},
			},
			Options: options.Index().SetName("idx_sweep_started_at"),
		},
		{
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "started_at", Value: -1},
			},
			Options: options.Index().SetName("idx_status_started_at"),
		},
		{
			Keys: bson.D{{Key: "started_at", Value: 1}},
			Options: options.Index().
				SetExpireAfterSeconds(int32(SweepRunRetention / time.Second)).
				SetName("idx_started_at_ttl"),
		},
	}
}
