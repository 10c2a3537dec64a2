package registry

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoSnapshotStore keeps versioned registry snapshots in a Mongo
// collection; Load returns the most recently saved one.
type MongoSnapshotStore struct {
	collection *mongo.Collection
}

// NewMongoSnapshotStore wraps a Mongo collection as a snapshot store.
func NewMongoSnapshotStore(collection *mongo.Collection) *MongoSnapshotStore {
	return &MongoSnapshotStore{collection: collection}
}

// Save inserts a new snapshot document. Older snapshots are retained for
// audit; the retention job prunes them.
func (s *MongoSnapshotStore) Save(ctx context.Context, snap Snapshot) error {
	if _, err := s.collection.InsertOne(ctx, snap); err != nil {
		return fmt.Errorf("failed to save registry snapshot: %w", err)
	}
	return nil
}

// Load returns the latest snapshot, or (nil, nil) when none exists.
func (s *MongoSnapshotStore) Load(ctx context.Context) (*Snapshot, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "savedAt", Value: -1}})
	var snap Snapshot
	err := s.collection.FindOne(ctx, bson.M{}, opts).Decode(&snap)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load registry snapshot: %w", err)
	}
	return &snap, nil
}
