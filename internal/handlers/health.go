package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"promptlab/internal/database"
	"promptlab/internal/events"
	"promptlab/internal/metrics"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	mongo     *database.MongoDB
	redis     *events.RedisClient
	collector *metrics.Collector
}

// NewHealthHandler creates a new health handler. mongo and redis may be nil
// when those backends are not configured.
func NewHealthHandler(mongo *database.MongoDB, redis *events.RedisClient, collector *metrics.Collector) *HealthHandler {
	return &HealthHandler{mongo: mongo, redis: redis, collector: collector}
}

// Handle responds with server health status
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	status := "healthy"

	mongoStatus := "disabled"
	if h.mongo != nil {
		mongoStatus = "up"
		if err := h.mongo.Ping(c.Context()); err != nil {
			mongoStatus = "down"
			status = "degraded"
		}
	}

	redisStatus := "disabled"
	if h.redis != nil {
		redisStatus = "up"
		if err := h.redis.Ping(c.Context()); err != nil {
			redisStatus = "down"
			status = "degraded"
		}
	}

	return c.JSON(fiber.Map{
		"status":               status,
		"mongo":                mongoStatus,
		"redis":                redisStatus,
		"metrics_buffer_depth": h.collector.BufferDepth(),
		"timestamp":            time.Now().Format(time.RFC3339),
	})
}
