package handlers

import (
	"context"
	"log"
	"strconv"
	"time"

	"companion/internal/services"

	"github.com/gofiber/fiber/v2"
)

// NotificationHandler handles notification endpoints.
type NotificationHandler struct {
	notificationService *services.NotificationService
}

// NewNotificationHandler creates a new notification handler.
func NewNotificationHandler(notificationService *services.NotificationService) *NotificationHandler {
	return &NotificationHandler{notificationService: notificationService}
}

// List returns notifications, newest first.
// GET /api/notifications?unread=true&limit=50
func (h *NotificationHandler) List(c *fiber.Ctx) error {
	unreadOnly := c.Query("unread", "false") == "true"
	limit, _ := strconv.Atoi(c.Query("limit", "50"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	notifications, err := h.notificationService.List(ctx, unreadOnly, limit)
	if err != nil {
		log.Printf("❌ [NOTIFY-API] Failed to list notifications: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to retrieve notifications",
		})
	}

	return c.JSON(fiber.Map{"notifications": notifications})
}

// MarkRead marks a notification as read.
// POST /api/notifications/:id/read
func (h *NotificationHandler) MarkRead(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := h.notificationService.MarkRead(ctx, c.Params("id")); err != nil {
		log.Printf("❌ [NOTIFY-API] Failed to mark notification read: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update notification",
		})
	}

	return c.JSON(fiber.Map{"success": true})
}
