package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
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

// WithChat returns a logger with chat request context fields attached.
// Use this for all logging within a single chat orchestration run.
func WithChat(conversationID, personaID, model string) *slog.Logger {
	return slog.With(
		"conversation_id", conversationID,
		"persona_id", personaID,
		"model", model,
	)
}

// WithTool returns a logger scoped to a specific tool execution.
func WithTool(logger *slog.Logger, toolName string, iteration int) *slog.Logger {
	return logger.With(
		"tool", toolName,
		"iteration", iteration,
	)
}
