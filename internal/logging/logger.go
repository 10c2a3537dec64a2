package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init(environment string) {
	var handler slog.Handler
	if strings.ToLower(environment) == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// WithGeneration returns a logger with generation context fields attached.
// Use this for all logging tied to a single generation outcome.
func WithGeneration(generationID, contentType, variantID string) *slog.Logger {
	return slog.With(
		"generation_id", generationID,
		"content_type", contentType,
		"variant_id", variantID,
	)
}

// WithVariant returns a logger scoped to a specific prompt variant.
func WithVariant(logger *slog.Logger, variantID, contentType, status string) *slog.Logger {
	return logger.With(
		"variant_id", variantID,
		"content_type", contentType,
		"status", status,
	)
}
