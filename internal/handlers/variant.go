package handlers

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"promptlab/internal/logging"
	"promptlab/internal/registry"
	"promptlab/internal/services"
)

// VariantHandler handles prompt variant CRUD and lifecycle requests
type VariantHandler struct {
	registry *registry.Registry
	ops      *services.Metrics
}

// NewVariantHandler creates a new variant handler
func NewVariantHandler(reg *registry.Registry, ops *services.Metrics) *VariantHandler {
	return &VariantHandler{registry: reg, ops: ops}
}

// Create registers a new prompt variant
func (h *VariantHandler) Create(c *fiber.Ctx) error {
	var v registry.Variant
	if err := c.BodyParser(&v); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	stored, err := h.registry.Register(v)
	if err != nil {
		return variantError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(stored)
}

// List returns variants, optionally filtered by content type
func (h *VariantHandler) List(c *fiber.Ctx) error {
	variants := h.registry.List(c.Query("content_type"))
	return c.JSON(fiber.Map{
		"variants": variants,
		"count":    len(variants),
	})
}

// Get returns a single variant
func (h *VariantHandler) Get(c *fiber.Ctx) error {
	v, err := h.registry.Get(c.Params("id"))
	if err != nil {
		return variantError(c, err)
	}
	return c.JSON(v)
}

// Select draws one variant for a content type under the tiered traffic
// policy. force_variant_id bypasses the draw for controlled tests.
func (h *VariantHandler) Select(c *fiber.Ctx) error {
	var req struct {
		ContentType    string `json:"content_type"`
		ForceVariantID string `json:"force_variant_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.ContentType == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "content_type is required",
		})
	}

	v, err := h.registry.Select(req.ContentType, req.ForceVariantID)
	if err != nil {
		return variantError(c, err)
	}

	if h.ops != nil {
		h.ops.RecordSelection(v.ContentType, string(v.Status))
	}
	return c.JSON(v)
}

// Promote makes a variant the champion of its content type
func (h *VariantHandler) Promote(c *fiber.Ctx) error {
	return h.transition(c, h.registry.PromoteToChampion, "champion")
}

// Pause removes a variant from selection
func (h *VariantHandler) Pause(c *fiber.Ctx) error {
	return h.transition(c, h.registry.Pause, "paused")
}

// Resume returns a paused variant to active
func (h *VariantHandler) Resume(c *fiber.Ctx) error {
	return h.transition(c, h.registry.Resume, "active")
}

// Retire permanently excludes a variant from selection
func (h *VariantHandler) Retire(c *fiber.Ctx) error {
	return h.transition(c, h.registry.Retire, "retired")
}

// SetCandidate marks a variant as a challenger under evaluation
func (h *VariantHandler) SetCandidate(c *fiber.Ctx) error {
	return h.transition(c, h.registry.SetAsCandidate, "candidate")
}

// transition applies a lifecycle operation and returns the updated variant
func (h *VariantHandler) transition(c *fiber.Ctx, op func(string) error, status string) error {
	id := c.Params("id")
	if err := op(id); err != nil {
		return variantError(c, err)
	}
	if h.ops != nil {
		h.ops.RecordLifecycle(status)
	}

	v, err := h.registry.Get(id)
	if err != nil {
		return variantError(c, err)
	}

	logging.WithVariant(slog.Default(), v.ID, v.ContentType, string(v.Status)).
		Info("variant lifecycle transition")
	return c.JSON(v)
}

// UpdateWeight sets a variant's traffic weight
func (h *VariantHandler) UpdateWeight(c *fiber.Ctx) error {
	var req struct {
		Weight float64 `json:"weight"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	id := c.Params("id")
	if err := h.registry.UpdateWeight(id, req.Weight); err != nil {
		return variantError(c, err)
	}

	v, err := h.registry.Get(id)
	if err != nil {
		return variantError(c, err)
	}
	return c.JSON(v)
}

// Champion returns the current champion for a content type
func (h *VariantHandler) Champion(c *fiber.Ctx) error {
	contentType := c.Query("content_type")
	if contentType == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "content_type is required",
		})
	}

	v, ok := h.registry.Champion(contentType)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No champion for content type",
		})
	}
	return c.JSON(v)
}

// variantError maps registry errors to HTTP status codes
func variantError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, registry.ErrVariantNotFound), errors.Is(err, registry.ErrNoActiveVariants):
		status = fiber.StatusNotFound
	case errors.Is(err, registry.ErrVariantRetired):
		status = fiber.StatusConflict
	case errors.Is(err, registry.ErrDuplicateVariantID):
		status = fiber.StatusConflict
	case errors.Is(err, registry.ErrInvalidWeight), errors.Is(err, registry.ErrValidationFailed):
		status = fiber.StatusBadRequest
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
	})
}
