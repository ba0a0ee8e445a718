package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// PhoneNumberRepository handles SMS subscriber numbers
type PhoneNumberRepository struct {
	collection *mongo.Collection
}

// NewPhoneNumberRepository creates a new phone number repository
func NewPhoneNumberRepository(db *MongoDB) *PhoneNumberRepository {
	return &PhoneNumberRepository{
		collection: db.GetCollection(CollectionPhoneNumbers),
	}
}

// DeleteUnverified removes numbers that were never verified and were registered before cutoff
func (r *PhoneNumberRepository) DeleteUnverified(ctx context.Context, cutoff time.Time) (int64, error) {
	filter := bson.M{
		"verified":   false,
		"created_at": bson.M{"$lt": cutoff},
	}

	result, err := r.collection.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to delete unverified phone numbers: %w", err)
	}

	return result.DeletedCount, nil
}
