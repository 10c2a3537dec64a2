package handlers

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	gocache "github.com/patrickmn/go-cache"

	"promptlab/internal/logging"
	"promptlab/internal/metrics"
)

// GenerationHandler handles generation outcome reporting, feedback, and
// aggregate statistics requests. Aggregates are cached briefly since the
// dashboards poll them.
type GenerationHandler struct {
	collector *metrics.Collector
	cache     *gocache.Cache
}

// NewGenerationHandler creates a new generation handler
func NewGenerationHandler(collector *metrics.Collector, cacheTTL time.Duration) *GenerationHandler {
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &GenerationHandler{
		collector: collector,
		cache:     gocache.New(cacheTTL, 2*cacheTTL),
	}
}

// Record ingests one generation outcome report
func (h *GenerationHandler) Record(c *fiber.Ctx) error {
	var in metrics.GenerationInput
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	m, err := h.collector.RecordGeneration(in)
	if err != nil {
		return metricError(c, err)
	}

	logging.WithGeneration(m.ID, m.ContentType, m.VariantID).Debug("generation outcome recorded",
		"latency_ms", m.LatencyMs,
		"schema_valid", m.Validation.SchemaValid)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":                 m.ID,
		"prompt_fingerprint": m.PromptFingerprint,
		"timestamp":          m.Timestamp,
	})
}

// Feedback merges user feedback into an existing generation record
func (h *GenerationHandler) Feedback(c *fiber.Ctx) error {
	var fb metrics.Feedback
	if err := c.BodyParser(&fb); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := h.collector.UpdateFeedback(c.Context(), c.Params("id"), fb); err != nil {
		return metricError(c, err)
	}

	return c.JSON(fiber.Map{
		"status": "updated",
	})
}

// Stats returns aggregate statistics for a content type, optionally
// narrowed to one variant and a trailing window in hours
func (h *GenerationHandler) Stats(c *fiber.Ctx) error {
	contentType := c.Query("content_type")
	variantID := c.Query("variant_id")
	since := sinceFromHours(c.Query("since_hours"))

	cacheKey := fmt.Sprintf("stats:%s:%s:%s", contentType, variantID, c.Query("since_hours"))
	if cached, found := h.cache.Get(cacheKey); found {
		return c.JSON(cached)
	}

	stats, err := h.collector.AggregateStats(c.Context(), contentType, variantID, since)
	if err != nil {
		return metricError(c, err)
	}

	h.cache.Set(cacheKey, stats, gocache.DefaultExpiration)
	return c.JSON(stats)
}

// ABTest compares variants of a content type by composite score
func (h *GenerationHandler) ABTest(c *fiber.Ctx) error {
	contentType := c.Query("content_type")
	since := sinceFromHours(c.Query("since_hours"))

	var variantIDs []string
	if raw := c.Query("variants"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				variantIDs = append(variantIDs, id)
			}
		}
	}

	cacheKey := fmt.Sprintf("abtest:%s:%s:%s", contentType, strings.Join(variantIDs, ","), c.Query("since_hours"))
	if cached, found := h.cache.Get(cacheKey); found {
		return c.JSON(cached)
	}

	result, err := h.collector.ABTestResults(c.Context(), contentType, variantIDs, since)
	if err != nil {
		return metricError(c, err)
	}

	h.cache.Set(cacheKey, result, gocache.DefaultExpiration)
	return c.JSON(result)
}

// Flush forces the metric buffer to storage, for admin use. Cached
// aggregates are dropped so the next stats query sees the flushed records.
func (h *GenerationHandler) Flush(c *fiber.Ctx) error {
	if err := h.collector.Flush(c.Context()); err != nil {
		return metricError(c, err)
	}
	h.cache.Flush()
	return c.JSON(fiber.Map{
		"status":       "flushed",
		"buffer_depth": h.collector.BufferDepth(),
	})
}

// sinceFromHours converts a trailing-window query param to a cutoff time.
// Zero or absent means no window.
func sinceFromHours(raw string) time.Time {
	hours, err := strconv.ParseFloat(raw, 64)
	if err != nil || hours <= 0 {
		return time.Time{}
	}
	return time.Now().Add(-time.Duration(hours * float64(time.Hour)))
}

// metricError maps collector errors to HTTP status codes
func metricError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, metrics.ErrValidation):
		status = fiber.StatusBadRequest
	case errors.Is(err, metrics.ErrMetricNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, metrics.ErrPersistence):
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
	})
}
