package handlers

import (
	"context"
	"log"
	"strconv"
	"strings"
	"time"

	"companion/internal/services"

	"github.com/gofiber/fiber/v2"
)

// KnowledgeHandler handles knowledge file endpoints.
type KnowledgeHandler struct {
	knowledgeService *services.KnowledgeService
}

// NewKnowledgeHandler creates a new knowledge handler.
func NewKnowledgeHandler(knowledgeService *services.KnowledgeService) *KnowledgeHandler {
	return &KnowledgeHandler{knowledgeService: knowledgeService}
}

// List returns the catalog of knowledge files (metadata only).
// GET /api/knowledge
func (h *KnowledgeHandler) List(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	files, err := h.knowledgeService.List(ctx)
	if err != nil {
		log.Printf("❌ [KNOWLEDGE-API] Failed to list files: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to retrieve knowledge files",
		})
	}

	return c.JSON(fiber.Map{"files": files})
}

// Get returns a knowledge file with content.
// GET /api/knowledge/:id
func (h *KnowledgeHandler) Get(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	file, err := h.knowledgeService.Get(ctx, c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Knowledge file not found",
		})
	}

	return c.JSON(file)
}

// Upload stores a new knowledge file.
// POST /api/knowledge
func (h *KnowledgeHandler) Upload(c *fiber.Ctx) error {
	var req struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.Title == "" || req.Content == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "title and content are required",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	file, err := h.knowledgeService.Create(ctx, req.Title, req.Content)
	if err != nil {
		log.Printf("❌ [KNOWLEDGE-API] Failed to store file: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store knowledge file",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(file)
}

// Delete removes a knowledge file.
// DELETE /api/knowledge/:id
func (h *KnowledgeHandler) Delete(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := h.knowledgeService.Delete(ctx, c.Params("id")); err != nil {
		log.Printf("❌ [KNOWLEDGE-API] Failed to delete file: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete knowledge file",
		})
	}

	return c.JSON(fiber.Map{"success": true})
}

// Search runs a line-based search across knowledge files.
// GET /api/knowledge/search?q=...&ids=a,b&max=5
func (h *KnowledgeHandler) Search(c *fiber.Ctx) error {
	query := c.Query("q", "")
	if query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "q is required",
		})
	}

	var fileIDs []string
	if ids := c.Query("ids", ""); ids != "" {
		fileIDs = splitCSV(ids)
	}
	maxResults, _ := strconv.Atoi(c.Query("max", "0"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := h.knowledgeService.Search(ctx, query, fileIDs, maxResults)
	if err != nil {
		log.Printf("❌ [KNOWLEDGE-API] Search failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Search failed",
		})
	}

	return c.JSON(fiber.Map{"results": results})
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

