package metrics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"promptlab/internal/registry"
)

// Error types for collector operations.
var (
	ErrValidation     = errors.New("validation failed")
	ErrMetricNotFound = errors.New("generation metric not found")
	ErrPersistence    = errors.New("persistence failure")
)

// Config tunes the collector. Zero values fall back to defaults.
type Config struct {
	BufferSize      int           // flush threshold, default 50
	FlushInterval   time.Duration // periodic flush, default 30s
	FlushTimeout    time.Duration // per-attempt storage timeout, default 10s
	FlushMaxRetries int           // bounded retries per flush, default 3
	MinSampleSize   int           // below this, aggregates report insufficient data, default 5
	LatencyCapMs    float64       // latency penalty cap for composite scores, default 30000
}

func (c *Config) applyDefaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = 50
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 30 * time.Second
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 10 * time.Second
	}
	if c.FlushMaxRetries <= 0 {
		c.FlushMaxRetries = 3
	}
	if c.MinSampleSize <= 0 {
		c.MinSampleSize = 5
	}
	if c.LatencyCapMs <= 0 {
		c.LatencyCapMs = 30000
	}
}

// OpsRecorder receives operational signals for monitoring. Implemented by
// services.Metrics; nil-safe.
type OpsRecorder interface {
	RecordGeneration(contentType string)
	RecordFlush(success bool, seconds float64, batchSize int)
	RecordFeedbackUpdate()
}

// Collector ingests one outcome record per generation, buffers them in
// memory and flushes batches to durable storage. Until a flush succeeds the
// collector owns the buffered copies (at-most-once before flush,
// at-least-once delivery to storage afterwards).
type Collector struct {
	store Store
	reg   *registry.Registry
	cfg   Config
	ops   OpsRecorder

	mu        sync.Mutex
	buffer    []GenerationMetric
	inflight  []GenerationMetric // batch currently being written; read-only until the flush settles
	flushing  bool
	flushDone *sync.Cond // broadcast when a flush settles, success or failure

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCollector wires a collector with an already-constructed store and
// registry. ops may be nil.
func NewCollector(store Store, reg *registry.Registry, cfg Config, ops OpsRecorder) *Collector {
	cfg.applyDefaults()
	c := &Collector{
		store:  store,
		reg:    reg,
		cfg:    cfg,
		ops:    ops,
		buffer: make([]GenerationMetric, 0, cfg.BufferSize),
		done:   make(chan struct{}),
	}
	c.flushDone = sync.NewCond(&c.mu)
	return c
}

// Start launches the periodic flush loop. The timer re-arms only after the
// previous flush completes, so flushes never overlap from the timer path.
func (c *Collector) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			timer := time.NewTimer(c.cfg.FlushInterval)
			select {
			case <-c.done:
				timer.Stop()
				return
			case <-timer.C:
				if err := c.Flush(context.Background()); err != nil {
					log.Printf("⚠️  [METRICS] Periodic flush failed (will retry): %v", err)
				}
			}
		}
	}()
	log.Printf("📊 [METRICS] Collector started (buffer=%d, interval=%s)", c.cfg.BufferSize, c.cfg.FlushInterval)
}

// Shutdown stops the flush loop and performs a final synchronous flush.
func (c *Collector) Shutdown(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.done) })
	c.wg.Wait()
	return c.Flush(ctx)
}

// RecordGeneration builds a metric from an outcome report, fingerprints the
// prompt for later audit, and buffers it. Reaching the buffer threshold
// triggers an asynchronous flush.
func (c *Collector) RecordGeneration(in GenerationInput) (*GenerationMetric, error) {
	if in.ContentType == "" {
		return nil, fmt.Errorf("%w: content_type is required", ErrValidation)
	}
	if in.VariantID == "" {
		return nil, fmt.Errorf("%w: variant_id is required", ErrValidation)
	}

	m := GenerationMetric{
		ID:                 uuid.New().String(),
		Timestamp:          time.Now(),
		ContentType:        in.ContentType,
		VariantID:          in.VariantID,
		PromptFingerprint:  Fingerprint(in.Prompt),
		PromptLength:       len(in.Prompt),
		FileCount:          in.FileCount,
		InputTokenEstimate: in.InputTokenEstimate,
		Model:              in.Model,
		LatencyMs:          in.LatencyMs,
		InputTokens:        in.InputTokens,
		OutputTokens:       in.OutputTokens,
		Retries:            in.Retries,
		CacheHit:           in.CacheHit,
		Validation:         in.Validation,
	}

	c.mu.Lock()
	c.buffer = append(c.buffer, m)
	shouldFlush := len(c.buffer) >= c.cfg.BufferSize && !c.flushing
	c.mu.Unlock()

	if c.ops != nil {
		c.ops.RecordGeneration(in.ContentType)
	}

	if shouldFlush {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := c.Flush(context.Background()); err != nil {
				log.Printf("⚠️  [METRICS] Threshold flush failed (will retry): %v", err)
			}
		}()
	}
	return &m, nil
}

// UpdateFeedback merges user feedback into the record with the given id,
// looking in the buffer first, then durable storage. A supplied rating also
// feeds the variant's running feedback average. When the record sits in a
// batch being flushed right now, the update waits for the flush to settle
// and lands wherever the record did; the wait is bounded by the flush retry
// budget.
func (c *Collector) UpdateFeedback(ctx context.Context, id string, fb Feedback) error {
	if id == "" {
		return fmt.Errorf("%w: generation id is required", ErrValidation)
	}

	var variantID string
	found := false

	c.mu.Lock()
	for {
		for i := range c.buffer {
			if c.buffer[i].ID == id {
				c.buffer[i].Feedback.merge(fb)
				variantID = c.buffer[i].VariantID
				found = true
				break
			}
		}
		if found || !c.flushing || !batchHas(c.inflight, id) {
			break
		}
		// The storage driver is reading the in-flight batch without the
		// lock, so that memory is off-limits. After the flush settles the
		// record is either back in the buffer or in storage.
		c.flushDone.Wait()
	}
	c.mu.Unlock()

	if !found {
		updated, err := c.store.UpdateFeedback(ctx, id, fb)
		if err != nil {
			return err
		}
		if updated == nil {
			return fmt.Errorf("%w: %s", ErrMetricNotFound, id)
		}
		variantID = updated.VariantID
	}

	if fb.Rating != nil && c.reg != nil {
		if err := c.reg.UpdatePerformance(variantID, registry.PerformanceUpdate{FeedbackRating: fb.Rating}); err != nil {
			// The variant may have been registered on another instance;
			// the metric itself is still updated.
			log.Printf("⚠️  [METRICS] Feedback rating not applied to variant %s: %v", variantID, err)
		}
	}
	if c.ops != nil {
		c.ops.RecordFeedbackUpdate()
	}
	return nil
}

// Flush writes the entire current buffer to storage in one batch. The
// buffer is swapped out before I/O begins so new records keep arriving
// during the write; on failure the batch is pushed back to the front for
// the next attempt. Concurrent flushes are mutually exclusive.
func (c *Collector) Flush(ctx context.Context) error {
	c.mu.Lock()
	if c.flushing || len(c.buffer) == 0 {
		c.mu.Unlock()
		return nil
	}
	c.flushing = true
	batch := c.buffer
	c.inflight = batch
	c.buffer = make([]GenerationMetric, 0, c.cfg.BufferSize)
	c.mu.Unlock()

	start := time.Now()
	var err error
	backoff := 500 * time.Millisecond
	for attempt := 1; attempt <= c.cfg.FlushMaxRetries; attempt++ {
		wctx, cancel := context.WithTimeout(ctx, c.cfg.FlushTimeout)
		err = c.store.InsertBatch(wctx, batch)
		cancel()
		if err == nil {
			break
		}
		if attempt < c.cfg.FlushMaxRetries {
			select {
			case <-ctx.Done():
				err = ctx.Err()
				attempt = c.cfg.FlushMaxRetries
			case <-time.After(backoff):
				backoff *= 2
			}
		}
	}

	c.mu.Lock()
	c.flushing = false
	c.inflight = nil
	if err != nil {
		c.buffer = append(batch, c.buffer...)
	}
	c.flushDone.Broadcast()
	c.mu.Unlock()

	if err != nil {
		if c.ops != nil {
			c.ops.RecordFlush(false, time.Since(start).Seconds(), len(batch))
		}
		return fmt.Errorf("%w: batch of %d re-queued: %v", ErrPersistence, len(batch), err)
	}

	if c.ops != nil {
		c.ops.RecordFlush(true, time.Since(start).Seconds(), len(batch))
	}
	log.Printf("📊 [METRICS] Flushed %d metrics in %v", len(batch), time.Since(start))
	return nil
}

// BufferDepth reports how many records await flush, for monitoring.
func (c *Collector) BufferDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer) + len(c.inflight)
}

// records merges durable and still-buffered metrics for aggregation, so
// fresh outcomes count before their flush lands.
func (c *Collector) records(ctx context.Context, q Query) ([]GenerationMetric, error) {
	stored, err := c.store.Find(ctx, q)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	buffered := make([]GenerationMetric, 0, len(c.buffer)+len(c.inflight))
	for _, m := range c.buffer {
		if matches(&m, q) {
			buffered = append(buffered, m)
		}
	}
	for _, m := range c.inflight {
		if matches(&m, q) {
			buffered = append(buffered, m)
		}
	}
	c.mu.Unlock()

	return append(stored, buffered...), nil
}

func batchHas(batch []GenerationMetric, id string) bool {
	for i := range batch {
		if batch[i].ID == id {
			return true
		}
	}
	return false
}

// Fingerprint hashes prompt text to a short hex digest used for dedup and
// audit, not lookup.
func Fingerprint(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])[:16]
}
