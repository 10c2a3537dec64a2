package metrics

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore persists generation metrics in a Mongo collection.
type MongoStore struct {
	collection *mongo.Collection
}

// NewMongoStore wraps a Mongo collection as a metric store.
func NewMongoStore(collection *mongo.Collection) *MongoStore {
	return &MongoStore{collection: collection}
}

// InsertBatch writes the whole batch in one call. Unordered, so a duplicate
// id (from an at-least-once retry) doesn't block the rest of the batch.
func (s *MongoStore) InsertBatch(ctx context.Context, batch []GenerationMetric) error {
	if len(batch) == 0 {
		return nil
	}
	docs := make([]interface{}, len(batch))
	for i := range batch {
		docs[i] = batch[i]
	}
	opts := options.InsertMany().SetOrdered(false)
	if _, err := s.collection.InsertMany(ctx, docs, opts); err != nil {
		if !mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("failed to insert metrics batch: %w", err)
		}
	}
	return nil
}

// UpdateFeedback merges feedback fields into the stored record and returns
// the updated document, or (nil, nil) when the id is unknown.
func (s *MongoStore) UpdateFeedback(ctx context.Context, id string, fb Feedback) (*GenerationMetric, error) {
	set := bson.M{"feedback.receivedAt": time.Now()}
	if fb.Rating != nil {
		set["feedback.rating"] = *fb.Rating
	}
	if fb.ThumbsUp != nil {
		set["feedback.thumbsUp"] = *fb.ThumbsUp
	}
	if fb.WasEdited != nil {
		set["feedback.wasEdited"] = *fb.WasEdited
	}
	if fb.EditDistance != nil {
		set["feedback.editDistance"] = *fb.EditDistance
	}
	if fb.TimeToFirstEdit != nil {
		set["feedback.timeToFirstEditMs"] = *fb.TimeToFirstEdit
	}
	if fb.WasExported != nil {
		set["feedback.wasExported"] = *fb.WasExported
	}
	if fb.WasRegenerated != nil {
		set["feedback.wasRegenerated"] = *fb.WasRegenerated
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated GenerationMetric
	err := s.collection.FindOneAndUpdate(ctx, bson.M{"id": id}, bson.M{"$set": set}, opts).Decode(&updated)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update feedback for %s: %w", id, err)
	}
	return &updated, nil
}

// Find returns matching records, newest first.
func (s *MongoStore) Find(ctx context.Context, q Query) ([]GenerationMetric, error) {
	filter := bson.M{}
	if q.ContentType != "" {
		filter["contentType"] = q.ContentType
	}
	if q.VariantID != "" {
		filter["variantId"] = q.VariantID
	}
	if !q.Since.IsZero() {
		filter["timestamp"] = bson.M{"$gte": q.Since}
	}

	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	if q.Limit > 0 {
		opts.SetLimit(q.Limit)
	}

	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer cursor.Close(ctx)

	var out []GenerationMetric
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode metrics: %w", err)
	}
	return out, nil
}

// DeleteOlderThan prunes records before cutoff.
func (s *MongoStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.collection.DeleteMany(ctx, bson.M{"timestamp": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("failed to prune metrics: %w", err)
	}
	return res.DeletedCount, nil
}
