package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"promptlab/internal/registry"
)

// flakyStore fails InsertBatch a configurable number of times before
// delegating to a MemoryStore.
type flakyStore struct {
	*MemoryStore
	failures int
}

func (s *flakyStore) InsertBatch(ctx context.Context, batch []GenerationMetric) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("storage unavailable")
	}
	return s.MemoryStore.InsertBatch(ctx, batch)
}

func testInput(contentType, variantID string) GenerationInput {
	return GenerationInput{
		ContentType: contentType,
		VariantID:   variantID,
		Prompt:      "Write about " + contentType,
		LatencyMs:   1200,
		Validation:  ValidationResult{SchemaValid: true, QualityScore: 0.8},
	}
}

func TestRecordGenerationValidation(t *testing.T) {
	c := NewCollector(NewMemoryStore(), nil, Config{}, nil)

	if _, err := c.RecordGeneration(GenerationInput{VariantID: "v"}); !errors.Is(err, ErrValidation) {
		t.Errorf("Missing content type should fail validation, got %v", err)
	}
	if _, err := c.RecordGeneration(GenerationInput{ContentType: "blog"}); !errors.Is(err, ErrValidation) {
		t.Errorf("Missing variant id should fail validation, got %v", err)
	}
}

func TestRecordGenerationBuffersAndFingerprints(t *testing.T) {
	store := NewMemoryStore()
	c := NewCollector(store, nil, Config{BufferSize: 100}, nil)

	m, err := c.RecordGeneration(testInput("blog", "v1"))
	if err != nil {
		t.Fatal(err)
	}
	if m.ID == "" {
		t.Error("Record should be assigned an id")
	}
	if len(m.PromptFingerprint) != 16 {
		t.Errorf("Fingerprint should be 16 hex chars, got %q", m.PromptFingerprint)
	}
	if c.BufferDepth() != 1 {
		t.Errorf("Expected 1 buffered record, got %d", c.BufferDepth())
	}
	if store.Count() != 0 {
		t.Error("Records stay in the buffer until a flush")
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint("same prompt")
	b := Fingerprint("same prompt")
	other := Fingerprint("different prompt")
	if a != b {
		t.Error("Same prompt must fingerprint identically")
	}
	if a == other {
		t.Error("Different prompts should fingerprint differently")
	}
}

func TestFlushMovesBufferToStore(t *testing.T) {
	store := NewMemoryStore()
	c := NewCollector(store, nil, Config{BufferSize: 100}, nil)

	for i := 0; i < 5; i++ {
		c.RecordGeneration(testInput("blog", "v1"))
	}
	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if store.Count() != 5 {
		t.Errorf("Expected 5 stored records, got %d", store.Count())
	}
	if c.BufferDepth() != 0 {
		t.Errorf("Buffer should be empty after flush, got %d", c.BufferDepth())
	}

	// Flushing an empty buffer is a no-op.
	if err := c.Flush(context.Background()); err != nil {
		t.Errorf("Empty flush should succeed: %v", err)
	}
}

func TestFlushFailureRequeues(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), failures: 10}
	c := NewCollector(store, nil, Config{
		BufferSize:      100,
		FlushMaxRetries: 2,
		FlushTimeout:    time.Second,
	}, nil)

	c.RecordGeneration(testInput("blog", "v1"))
	c.RecordGeneration(testInput("blog", "v2"))

	err := c.Flush(context.Background())
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("Expected persistence error, got %v", err)
	}
	if c.BufferDepth() != 2 {
		t.Errorf("Failed batch should be re-queued, depth = %d", c.BufferDepth())
	}
	if store.Count() != 0 {
		t.Error("Nothing should be stored after a failed flush")
	}

	// The store recovers; the re-queued batch lands on the next flush.
	store.failures = 0
	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("Recovery flush failed: %v", err)
	}
	if store.Count() != 2 {
		t.Errorf("Expected the re-queued batch stored, got %d records", store.Count())
	}
}

// gatedStore snapshots the batch on entry, the way a driver serializes
// before writing, then blocks until released.
type gatedStore struct {
	*MemoryStore
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) InsertBatch(ctx context.Context, batch []GenerationMetric) error {
	copied := make([]GenerationMetric, len(batch))
	copy(copied, batch)
	s.entered <- struct{}{}
	<-s.release
	return s.MemoryStore.InsertBatch(ctx, copied)
}

func TestUpdateFeedbackDuringFlushReachesStorage(t *testing.T) {
	store := &gatedStore{
		MemoryStore: NewMemoryStore(),
		entered:     make(chan struct{}, 1),
		release:     make(chan struct{}),
	}
	c := NewCollector(store, nil, Config{BufferSize: 100}, nil)

	m, err := c.RecordGeneration(testInput("blog", "v1"))
	if err != nil {
		t.Fatal(err)
	}

	flushErr := make(chan error, 1)
	go func() { flushErr <- c.Flush(context.Background()) }()
	<-store.entered // the batch is now in the driver's hands

	rating := 5.0
	updErr := make(chan error, 1)
	go func() {
		updErr <- c.UpdateFeedback(context.Background(), m.ID, Feedback{Rating: &rating})
	}()

	// Let the update reach the in-flight wait before the write commits.
	time.Sleep(50 * time.Millisecond)
	close(store.release)

	if err := <-flushErr; err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if err := <-updErr; err != nil {
		t.Fatalf("UpdateFeedback failed: %v", err)
	}

	stored, _ := store.Find(context.Background(), Query{})
	if len(stored) != 1 {
		t.Fatalf("Expected 1 stored record, got %d", len(stored))
	}
	if stored[0].Feedback.Rating == nil || *stored[0].Feedback.Rating != 5 {
		t.Error("Feedback reported during a flush must reach the stored record")
	}
}

func TestThresholdTriggersFlush(t *testing.T) {
	store := NewMemoryStore()
	c := NewCollector(store, nil, Config{BufferSize: 3}, nil)

	for i := 0; i < 3; i++ {
		c.RecordGeneration(testInput("blog", "v1"))
	}

	// The threshold flush runs asynchronously.
	deadline := time.Now().Add(2 * time.Second)
	for store.Count() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if store.Count() != 3 {
		t.Errorf("Expected threshold flush to store 3 records, got %d", store.Count())
	}
}

func TestUpdateFeedbackInBuffer(t *testing.T) {
	reg := registry.NewRegistry(registry.DefaultConfig())
	reg.Register(registry.Variant{ID: "v1", ContentType: "blog", Template: "t"})

	store := NewMemoryStore()
	c := NewCollector(store, reg, Config{BufferSize: 100}, nil)

	m, _ := c.RecordGeneration(testInput("blog", "v1"))

	rating := 4.5
	if err := c.UpdateFeedback(context.Background(), m.ID, Feedback{Rating: &rating}); err != nil {
		t.Fatalf("UpdateFeedback failed: %v", err)
	}

	// The rating reaches the variant's running record.
	v, _ := reg.Get("v1")
	if v.Performance.FeedbackCount != 1 || v.Performance.FeedbackAvg() != 4.5 {
		t.Errorf("Rating should reach the variant, got %+v", v.Performance)
	}

	// The buffered copy carries the feedback into the flush.
	if err := c.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	stored, _ := store.Find(context.Background(), Query{VariantID: "v1"})
	if len(stored) != 1 || stored[0].Feedback.Rating == nil || *stored[0].Feedback.Rating != 4.5 {
		t.Error("Feedback set before the flush should be persisted with the record")
	}
}

func TestUpdateFeedbackAfterFlush(t *testing.T) {
	store := NewMemoryStore()
	c := NewCollector(store, nil, Config{BufferSize: 100}, nil)

	m, _ := c.RecordGeneration(testInput("blog", "v1"))
	c.Flush(context.Background())

	thumbs := true
	if err := c.UpdateFeedback(context.Background(), m.ID, Feedback{ThumbsUp: &thumbs}); err != nil {
		t.Fatalf("UpdateFeedback via store failed: %v", err)
	}

	stored, _ := store.Find(context.Background(), Query{})
	if stored[0].Feedback.ThumbsUp == nil || !*stored[0].Feedback.ThumbsUp {
		t.Error("Feedback should be merged into the stored record")
	}
}

func TestUpdateFeedbackUnknownID(t *testing.T) {
	c := NewCollector(NewMemoryStore(), nil, Config{}, nil)

	err := c.UpdateFeedback(context.Background(), "no-such-id", Feedback{})
	if !errors.Is(err, ErrMetricNotFound) {
		t.Errorf("Expected ErrMetricNotFound, got %v", err)
	}
	if err := c.UpdateFeedback(context.Background(), "", Feedback{}); !errors.Is(err, ErrValidation) {
		t.Errorf("Empty id should fail validation, got %v", err)
	}
}

func TestAggregateSeesUnflushedRecords(t *testing.T) {
	c := NewCollector(NewMemoryStore(), nil, Config{BufferSize: 100, MinSampleSize: 1}, nil)

	for i := 0; i < 4; i++ {
		c.RecordGeneration(testInput("blog", "v1"))
	}

	stats, err := c.AggregateStats(context.Background(), "blog", "", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Samples != 4 {
		t.Errorf("Aggregation should include buffered records, got %d samples", stats.Samples)
	}
}

func TestShutdownFlushes(t *testing.T) {
	store := NewMemoryStore()
	c := NewCollector(store, nil, Config{BufferSize: 100, FlushInterval: time.Hour}, nil)
	c.Start()

	c.RecordGeneration(testInput("blog", "v1"))
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if store.Count() != 1 {
		t.Errorf("Shutdown should flush remaining records, got %d stored", store.Count())
	}
}

func TestABTestPicksBetterVariant(t *testing.T) {
	reg := registry.NewRegistry(registry.DefaultConfig())
	store := NewMemoryStore()
	c := NewCollector(store, reg, Config{BufferSize: 1000, MinSampleSize: 5}, nil)

	// Variant A: fast and good. Variant B: slow and mediocre.
	for i := 0; i < 20; i++ {
		inA := testInput("roadmap", "variant-a")
		inA.LatencyMs = 1000
		inA.Validation.QualityScore = 0.9
		mA, _ := c.RecordGeneration(inA)

		inB := testInput("roadmap", "variant-b")
		inB.LatencyMs = 5000
		inB.Validation.QualityScore = 0.5
		mB, _ := c.RecordGeneration(inB)

		if i%2 == 0 {
			high, low := 5.0, 2.0
			c.UpdateFeedback(context.Background(), mA.ID, Feedback{Rating: &high})
			c.UpdateFeedback(context.Background(), mB.ID, Feedback{Rating: &low})
		}
	}

	result, err := c.ABTestResults(context.Background(), "roadmap", nil, time.Time{})
	if err != nil {
		t.Fatal(err)
	}

	if result.WinnerID != "variant-a" {
		t.Errorf("Expected variant-a to win, got %q", result.WinnerID)
	}
	if result.Confidence <= 0 || result.Confidence > 1 {
		t.Errorf("Confidence out of range: %f", result.Confidence)
	}
	if len(result.Variants) != 2 {
		t.Fatalf("Expected 2 compared variants, got %d", len(result.Variants))
	}
	if result.Variants[0].VariantID != "variant-a" {
		t.Error("Results should be sorted by composite score, best first")
	}
	if result.Variants[0].CompositeScore <= result.Variants[1].CompositeScore {
		t.Error("Winner must carry the higher composite score")
	}
	if result.Recommendation == "" {
		t.Error("A winner needs a recommendation")
	}
}

func TestABTestInsufficientData(t *testing.T) {
	c := NewCollector(NewMemoryStore(), nil, Config{BufferSize: 100, MinSampleSize: 50}, nil)

	for i := 0; i < 3; i++ {
		c.RecordGeneration(testInput("roadmap", "variant-a"))
	}

	result, err := c.ABTestResults(context.Background(), "roadmap", nil, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if result.WinnerID != "" {
		t.Errorf("No winner with insufficient data, got %q", result.WinnerID)
	}
	if result.Recommendation == "" {
		t.Error("Insufficient data still needs a recommendation")
	}

	if _, err := c.ABTestResults(context.Background(), "", nil, time.Time{}); !errors.Is(err, ErrValidation) {
		t.Errorf("Missing content type should fail validation, got %v", err)
	}
}

func TestRetentionPruning(t *testing.T) {
	store := NewMemoryStore()
	old := metricWith("v", 100, 0.5)
	old.ID = "old"
	old.Timestamp = time.Now().Add(-48 * time.Hour)
	fresh := metricWith("v", 100, 0.5)
	fresh.ID = "fresh"

	store.InsertBatch(context.Background(), []GenerationMetric{old, fresh})

	deleted, err := store.DeleteOlderThan(context.Background(), time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 pruned record, got %d", deleted)
	}
	remaining, _ := store.Find(context.Background(), Query{})
	if len(remaining) != 1 || remaining[0].ID != "fresh" {
		t.Errorf("Expected only the fresh record, got %v", remaining)
	}
}

func TestMemoryStoreFindFilters(t *testing.T) {
	store := NewMemoryStore()
	batch := make([]GenerationMetric, 6)
	for i := range batch {
		m := metricWith("v", 100, 0.5)
		m.ID = fmt.Sprintf("m%d", i)
		if i%2 == 0 {
			m.ContentType = "email"
		}
		batch[i] = m
	}
	store.InsertBatch(context.Background(), batch)

	emails, _ := store.Find(context.Background(), Query{ContentType: "email"})
	if len(emails) != 3 {
		t.Errorf("Expected 3 email records, got %d", len(emails))
	}

	limited, _ := store.Find(context.Background(), Query{Limit: 2})
	if len(limited) != 2 {
		t.Errorf("Expected limit to cap results, got %d", len(limited))
	}
	// Newest first: the last inserted id comes back first.
	if limited[0].ID != "m5" {
		t.Errorf("Expected newest-first ordering, got %s first", limited[0].ID)
	}
}
