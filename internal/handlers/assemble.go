package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"promptlab/internal/assembly"
	"promptlab/internal/services"
	"promptlab/internal/strategy"
	"promptlab/internal/tokens"
)

// AssemblyHandler handles context assembly and token estimation requests
type AssemblyHandler struct {
	assembler  *assembly.Assembler
	strategies *strategy.Table
	estimator  *tokens.Estimator
	ops        *services.Metrics
}

// NewAssemblyHandler creates a new assembly handler
func NewAssemblyHandler(assembler *assembly.Assembler, strategies *strategy.Table, estimator *tokens.Estimator, ops *services.Metrics) *AssemblyHandler {
	return &AssemblyHandler{
		assembler:  assembler,
		strategies: strategies,
		estimator:  estimator,
		ops:        ops,
	}
}

// Assemble builds a budgeted context from a task description and research
// files, and returns the rendered prompt alongside the component breakdown
func (h *AssemblyHandler) Assemble(c *fiber.Ctx) error {
	var req assembly.Request
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.TaskDescription == "" && req.UserPrompt == "" && len(req.ResearchFiles) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Request needs a task description, a user prompt or research files",
		})
	}
	if req.Budget != nil {
		if err := req.Budget.Validate(); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
	}

	start := time.Now()
	ctx := h.assembler.Assemble(req)
	prompt := h.assembler.BuildPrompt(ctx)

	if h.ops != nil {
		taskType := req.TaskType
		if taskType == "" {
			taskType = strategy.DefaultTaskType
		}
		h.ops.RecordAssembly(taskType, time.Since(start).Seconds(), len(ctx.Truncated) > 0, len(ctx.Excluded) > 0)
	}

	return c.JSON(fiber.Map{
		"prompt":       prompt,
		"total_tokens": ctx.TotalTokens,
		"budget_used":  ctx.BudgetUsed,
		"truncated":    ctx.Truncated,
		"excluded":     ctx.Excluded,
		"components":   ctx.Components,
	})
}

// Estimate returns the approximate token count for a piece of text
func (h *AssemblyHandler) Estimate(c *fiber.Ctx) error {
	var req struct {
		Text        string `json:"text"`
		ContentType string `json:"content_type"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	ct := tokens.ContentType(req.ContentType)
	if ct == "" {
		ct = tokens.ContentProse
	}

	return c.JSON(fiber.Map{
		"tokens":       h.estimator.Count(req.Text, ct),
		"content_type": ct,
	})
}

// Strategies lists the known task types with their budget allocations
func (h *AssemblyHandler) Strategies(c *fiber.Ctx) error {
	types := h.strategies.TaskTypes()

	out := make([]fiber.Map, 0, len(types))
	for _, taskType := range types {
		e := h.strategies.Entry(taskType)
		out = append(out, fiber.Map{
			"task_type":    e.TaskType,
			"total_tokens": e.TotalTokens,
			"allocations":  h.strategies.BudgetAllocation(taskType, 0),
			"instructions": e.Instructions,
		})
	}

	return c.JSON(fiber.Map{
		"strategies": out,
		"count":      len(out),
	})
}
