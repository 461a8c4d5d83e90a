package handlers

import (
	"context"
	"log"
	"time"

	"companion/internal/services"

	"github.com/gofiber/fiber/v2"
)

// ConversationHandler handles conversation listing and retrieval.
type ConversationHandler struct {
	conversationService *services.ConversationService
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(conversationService *services.ConversationService) *ConversationHandler {
	return &ConversationHandler{conversationService: conversationService}
}

// List returns conversation summaries, optionally filtered by persona.
// GET /api/conversations?personaId=...
func (h *ConversationHandler) List(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	items, err := h.conversationService.List(ctx, c.Query("personaId", ""))
	if err != nil {
		log.Printf("❌ [CONV-API] Failed to list conversations: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to retrieve conversations",
		})
	}

	return c.JSON(fiber.Map{"conversations": items})
}

// Get returns a full conversation with its messages.
// GET /api/conversations/:id
func (h *ConversationHandler) Get(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conversation, err := h.conversationService.Get(ctx, c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Conversation not found",
		})
	}

	return c.JSON(conversation)
}

// Delete removes a conversation.
// DELETE /api/conversations/:id
func (h *ConversationHandler) Delete(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := h.conversationService.Delete(ctx, c.Params("id")); err != nil {
		log.Printf("❌ [CONV-API] Failed to delete conversation: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete conversation",
		})
	}

	return c.JSON(fiber.Map{"success": true})
}
