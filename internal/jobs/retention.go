package jobs

import (
	"context"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"promptlab/internal/metrics"
)

// RetentionJob prunes generation metrics past the retention window and
// keeps only the most recent registry snapshots.
type RetentionJob struct {
	store         metrics.Store
	snapshots     *mongo.Collection // nil when running without Mongo
	retentionDays int
	keepSnapshots int64
}

// NewRetentionJob creates a retention job. snapshots may be nil.
func NewRetentionJob(store metrics.Store, snapshots *mongo.Collection, retentionDays int) *RetentionJob {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &RetentionJob{
		store:         store,
		snapshots:     snapshots,
		retentionDays: retentionDays,
		keepSnapshots: 20,
	}
}

// Run deletes metrics older than the retention window, then prunes stale
// snapshot documents.
func (j *RetentionJob) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -j.retentionDays)
	log.Printf("[RETENTION] Pruning generation metrics older than %s...", cutoff.Format(time.RFC3339))

	deleted, err := j.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		log.Printf("[RETENTION] Failed to prune metrics: %v", err)
		return err
	}
	log.Printf("[RETENTION] Deleted %d old generation metrics", deleted)

	if j.snapshots != nil {
		if err := j.pruneSnapshots(ctx); err != nil {
			log.Printf("[RETENTION] Failed to prune snapshots: %v", err)
			return err
		}
	}
	return nil
}

// pruneSnapshots removes all but the newest keepSnapshots documents.
func (j *RetentionJob) pruneSnapshots(ctx context.Context) error {
	count, err := j.snapshots.CountDocuments(ctx, bson.M{})
	if err != nil {
		return err
	}
	if count <= j.keepSnapshots {
		return nil
	}

	// Find the cutoff savedAt by skipping the newest keepSnapshots docs.
	opts := options.Find().
		SetSort(bson.D{{Key: "savedAt", Value: -1}}).
		SetSkip(j.keepSnapshots).
		SetLimit(1)
	cursor, err := j.snapshots.Find(ctx, bson.M{}, opts)
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)

	var boundary struct {
		SavedAt time.Time `bson:"savedAt"`
	}
	if !cursor.Next(ctx) {
		return cursor.Err()
	}
	if err := cursor.Decode(&boundary); err != nil {
		return err
	}

	res, err := j.snapshots.DeleteMany(ctx, bson.M{"savedAt": bson.M{"$lte": boundary.SavedAt}})
	if err != nil {
		return err
	}
	log.Printf("[RETENTION] Deleted %d old registry snapshots", res.DeletedCount)
	return nil
}

// GetNextRunTime returns when the job should run next (daily at 2 AM UTC)
func (j *RetentionJob) GetNextRunTime() time.Time {
	now := time.Now().UTC()

	nextRun := time.Date(now.Year(), now.Month(), now.Day(), 2, 0, 0, 0, time.UTC)
	if now.After(nextRun) {
		nextRun = nextRun.Add(24 * time.Hour)
	}

	return nextRun
}
