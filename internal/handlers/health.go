package handlers

import (
	"context"
	"time"

	"companion/internal/database"
	"companion/internal/services"

	"github.com/gofiber/fiber/v2"
)

// HealthHandler reports service health.
type HealthHandler struct {
	mongoDB   *database.MongoDB
	loopState *services.LoopStateService
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(mongoDB *database.MongoDB, loopState *services.LoopStateService) *HealthHandler {
	return &HealthHandler{mongoDB: mongoDB, loopState: loopState}
}

// Health returns overall health with per-dependency status. Redis is an
// optional collaborator; its absence degrades the report but not the status
// code.
// GET /health
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status := fiber.StatusOK
	mongoStatus := "ok"
	if err := h.mongoDB.Ping(ctx); err != nil {
		mongoStatus = "down"
		status = fiber.StatusServiceUnavailable
	}

	redisStatus := "ok"
	if h.loopState == nil {
		redisStatus = "not_configured"
	} else if err := h.loopState.Ping(ctx); err != nil {
		redisStatus = "down"
	}

	overall := "healthy"
	if status != fiber.StatusOK {
		overall = "degraded"
	}

	return c.Status(status).JSON(fiber.Map{
		"status":  overall,
		"mongo":   mongoStatus,
		"redis":   redisStatus,
		"version": "1.0.0",
	})
}
