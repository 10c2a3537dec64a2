package metrics

import (
	"context"
	"sync"
	"time"
)

// Query filters stored metrics.
type Query struct {
	ContentType string
	VariantID   string
	Since       time.Time
	Limit       int64
}

// Store is the durable home of generation metrics once the collector
// flushes them. After a successful flush the store copy is authoritative.
type Store interface {
	// InsertBatch writes a batch atomically enough that a failure leaves
	// the batch retryable (at-least-once; duplicate ids are tolerable).
	InsertBatch(ctx context.Context, batch []GenerationMetric) error

	// UpdateFeedback merges feedback into the record with the given id and
	// returns the updated record, or (nil, nil) when the id is unknown.
	UpdateFeedback(ctx context.Context, id string, fb Feedback) (*GenerationMetric, error)

	// Find returns matching records, newest first.
	Find(ctx context.Context, q Query) ([]GenerationMetric, error)

	// DeleteOlderThan prunes records with timestamps before cutoff and
	// returns how many were removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// MemoryStore is an in-process Store used by tests and Mongo-less
// deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*GenerationMetric
	order   []string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*GenerationMetric)}
}

// InsertBatch stores copies of the batch.
func (s *MemoryStore) InsertBatch(_ context.Context, batch []GenerationMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range batch {
		m := batch[i]
		if _, exists := s.records[m.ID]; !exists {
			s.order = append(s.order, m.ID)
		}
		s.records[m.ID] = &m
	}
	return nil
}

// UpdateFeedback merges feedback into a stored record.
func (s *MemoryStore) UpdateFeedback(_ context.Context, id string, fb Feedback) (*GenerationMetric, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	m.Feedback.merge(fb)
	out := *m
	return &out, nil
}

// Find filters records, newest first.
func (s *MemoryStore) Find(_ context.Context, q Query) ([]GenerationMetric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []GenerationMetric
	for i := len(s.order) - 1; i >= 0; i-- {
		m := s.records[s.order[i]]
		if !matches(m, q) {
			continue
		}
		out = append(out, *m)
		if q.Limit > 0 && int64(len(out)) >= q.Limit {
			break
		}
	}
	return out, nil
}

// DeleteOlderThan prunes old records.
func (s *MemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	kept := s.order[:0]
	for _, id := range s.order {
		if s.records[id].Timestamp.Before(cutoff) {
			delete(s.records, id)
			deleted++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return deleted, nil
}

// Count returns the number of stored records.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func matches(m *GenerationMetric, q Query) bool {
	if q.ContentType != "" && m.ContentType != q.ContentType {
		return false
	}
	if q.VariantID != "" && m.VariantID != q.VariantID {
		return false
	}
	if !q.Since.IsZero() && m.Timestamp.Before(q.Since) {
		return false
	}
	return true
}
