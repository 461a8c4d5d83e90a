package handlers

import (
	"context"
	"errors"
	"log"
	"time"

	"companion/internal/models"
	"companion/internal/services"

	"github.com/gofiber/fiber/v2"
)

// ChatHandler handles the chat completion endpoint.
type ChatHandler struct {
	chatService *services.ChatService
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(chatService *services.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// Chat runs a full chat turn: context assembly, provider call, tool loop.
// POST /api/chat
func (h *ChatHandler) Chat(c *fiber.Ctx) error {
	var req models.ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Model == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "model is required",
		})
	}
	if len(req.Messages) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "messages must not be empty",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	resp, err := h.chatService.Chat(ctx, &req)
	if err != nil {
		var provErr *services.ProviderError
		if errors.As(err, &provErr) {
			log.Printf("❌ [CHAT-API] Provider error: %v", provErr)
			status := fiber.StatusBadGateway
			if provErr.StatusCode == fiber.StatusTooManyRequests {
				status = fiber.StatusTooManyRequests
			}
			return c.Status(status).JSON(fiber.Map{
				"error": "Upstream model provider failed",
			})
		}
		log.Printf("❌ [CHAT-API] Chat failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Chat request failed",
		})
	}

	return c.JSON(resp)
}
