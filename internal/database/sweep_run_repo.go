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

// ErrSweepRunNotFound is returned when no run matches the requested run ID
var ErrSweepRunNotFound = errors.New("sweep run not found")

// SweepRunFilter narrows run history listings
type SweepRunFilter struct {
	Sweep  string
	Status string
	Since  time.Time
}

func (f SweepRunFilter) toBSON() bson.M {
	filter := bson.M{}
	if f.Sweep != "" {
		filter["sweep"] = f.Sweep
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	if !f.Since.IsZero() {
		filter["started_at"] = bson.M{"$gte": f.Since}
	}
	return filter
}

// SweepRunRepository handles sweep run history
type SweepRunRepository struct {
	collection *mongo.Collection
}

// NewSweepRunRepository creates a new sweep run repository
func NewSweepRunRepository(db *MongoDB) *SweepRunRepository {
	return &SweepRunRepository{
		collection: db.GetCollection(CollectionSweepRuns),
	}
}

// Create inserts a new sweep run record
func (r *SweepRunRepository) Create(ctx context.Context, run *model.SweepRun) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if run.ID.IsZero() {
		run.ID = primitive.NewObjectID()
	}

	if _, err := r.collection.InsertOne(ctxTimeout, run); err != nil {
		return fmt.Errorf("failed to create sweep run: %w", err)
	}

	return nil
}

// GetByRunID retrieves a sweep run by its run ID
func (r *SweepRunRepository) GetByRunID(ctx context.Context, runID string) (*model.SweepRun, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var run model.SweepRun
	err := r.collection.FindOne(ctxTimeout, bson.M{"run_id": runID}).Decode(&run)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrSweepRunNotFound
		}
		return nil, fmt.Errorf("failed to get sweep run: %w", err)
	}

	return &run, nil
}

// List retrieves sweep runs with filtering and pagination, newest first
func (r *SweepRunRepository) List(ctx context.Context, f SweepRunFilter, page, limit int) ([]model.SweepRun, int64, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	filter := f.toBSON()

	total, err := r.collection.CountDocuments(ctxTimeout, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count sweep runs: %w", err)
	}

	skip := (page - 1) * limit
	opts := options.Find().
		SetSkip(int64(skip)).
		SetLimit(int64(limit)).
		SetSort(bson.D{{Key: "started_at", Value: -1}})

	cursor, err := r.collection.Find(ctxTimeout, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list sweep runs: %w", err)
	}
	defer cursor.Close(ctxTimeout)

	runs := []model.SweepRun{}
	if err := cursor.All(ctxTimeout, &runs); err != nil {
		return nil, 0, fmt.Errorf("failed to decode sweep runs: %w", err)
	}

	return runs, total, nil
}
