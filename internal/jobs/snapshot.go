package jobs

import (
	"context"
	"log"
	"time"

	"promptlab/internal/events"
	"promptlab/internal/registry"
)

const snapshotLockKey = "promptlab:snapshot:lock"

// SnapshotJob periodically persists the variant registry so restarts don't
// lose lifecycle state or running performance averages.
type SnapshotJob struct {
	registry   *registry.Registry
	store      registry.SnapshotStore
	redis      *events.RedisClient // optional, gates concurrent snapshots across instances
	instanceID string
	interval   time.Duration
	maxRetries int
}

// NewSnapshotJob creates a snapshot job. redis may be nil for
// single-instance deployments.
func NewSnapshotJob(reg *registry.Registry, store registry.SnapshotStore, redisClient *events.RedisClient, instanceID string, interval time.Duration) *SnapshotJob {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &SnapshotJob{
		registry:   reg,
		store:      store,
		redis:      redisClient,
		instanceID: instanceID,
		interval:   interval,
		maxRetries: 3,
	}
}

// Run saves the current registry snapshot with bounded retries.
func (j *SnapshotJob) Run(ctx context.Context) error {
	if j.redis != nil {
		acquired, err := j.redis.AcquireLock(ctx, snapshotLockKey, j.instanceID, j.interval/2)
		if err != nil {
			log.Printf("[SNAPSHOT] Lock check failed, snapshotting anyway: %v", err)
		} else if !acquired {
			log.Println("[SNAPSHOT] Another instance holds the snapshot lock, skipping")
			return nil
		} else {
			defer func() {
				if _, err := j.redis.ReleaseLock(ctx, snapshotLockKey, j.instanceID); err != nil {
					log.Printf("[SNAPSHOT] Failed to release lock: %v", err)
				}
			}()
		}
	}

	snap := j.registry.Snapshot()

	var err error
	backoff := time.Second
	for attempt := 1; attempt <= j.maxRetries; attempt++ {
		err = j.store.Save(ctx, snap)
		if err == nil {
			log.Printf("[SNAPSHOT] Saved registry snapshot (%d variants)", len(snap.Variants))
			return nil
		}
		log.Printf("[SNAPSHOT] Save attempt %d/%d failed: %v", attempt, j.maxRetries, err)
		if attempt < j.maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}
	}
	return err
}

// GetNextRunTime returns when the job should run next
func (j *SnapshotJob) GetNextRunTime() time.Time {
	return time.Now().Add(j.interval)
}
