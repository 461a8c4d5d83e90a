package handlers

import (
	"context"
	"log"
	"time"

	"companion/internal/models"
	"companion/internal/services"

	"github.com/gofiber/fiber/v2"
	"go.mongodb.org/mongo-driver/bson"
)

// PersonaHandler handles persona CRUD and memory endpoints.
type PersonaHandler struct {
	personaService *services.PersonaService
}

// NewPersonaHandler creates a new persona handler.
func NewPersonaHandler(personaService *services.PersonaService) *PersonaHandler {
	return &PersonaHandler{personaService: personaService}
}

// List returns all personas.
// GET /api/personas
func (h *PersonaHandler) List(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	personas, err := h.personaService.List(ctx)
	if err != nil {
		log.Printf("❌ [PERSONA-API] Failed to list personas: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to retrieve personas",
		})
	}

	return c.JSON(fiber.Map{"personas": personas})
}

// Get returns a single persona.
// GET /api/personas/:id
func (h *PersonaHandler) Get(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	persona, err := h.personaService.Get(ctx, c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Persona not found",
		})
	}

	return c.JSON(persona)
}

// Create creates a persona.
// POST /api/personas
func (h *PersonaHandler) Create(c *fiber.Ctx) error {
	var persona models.Persona
	if err := c.BodyParser(&persona); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if persona.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "name is required",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := h.personaService.Create(ctx, &persona); err != nil {
		log.Printf("❌ [PERSONA-API] Failed to create persona: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create persona",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(persona)
}

// Update applies a partial update to a persona's settings. Memory fields are
// not writable through this endpoint; they only change through the memory
// tools.
// PUT /api/personas/:id
func (h *PersonaHandler) Update(c *fiber.Ctx) error {
	var req struct {
		Name         *string                  `json:"name"`
		Avatar       *string                  `json:"avatar"`
		ModelID      *string                  `json:"model_id"`
		SystemPrompt *string                  `json:"system_prompt"`
		KnowledgeIDs []string                 `json:"knowledge_ids"`
		Autonomy     *models.AutonomySettings `json:"autonomy"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	set := bson.M{}
	if req.Name != nil {
		set["name"] = *req.Name
	}
	if req.Avatar != nil {
		set["avatar"] = *req.Avatar
	}
	if req.ModelID != nil {
		set["modelId"] = *req.ModelID
	}
	if req.SystemPrompt != nil {
		set["systemPrompt"] = *req.SystemPrompt
	}
	if req.KnowledgeIDs != nil {
		set["knowledgeIds"] = req.KnowledgeIDs
	}
	if req.Autonomy != nil {
		set["autonomy"] = *req.Autonomy
	}
	if len(set) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No fields to update",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := h.personaService.Update(ctx, c.Params("id"), set); err != nil {
		log.Printf("❌ [PERSONA-API] Failed to update persona: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update persona",
		})
	}

	return c.JSON(fiber.Map{"success": true})
}

// Delete removes a persona.
// DELETE /api/personas/:id
func (h *PersonaHandler) Delete(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := h.personaService.Delete(ctx, c.Params("id")); err != nil {
		log.Printf("❌ [PERSONA-API] Failed to delete persona: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete persona",
		})
	}

	return c.JSON(fiber.Map{"success": true})
}

// GetMemory returns the persona's memory as the unified read view: canonical
// tiers plus whatever legacy fields still apply.
// GET /api/personas/:id/memory
func (h *PersonaHandler) GetMemory(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	memory, err := h.personaService.GetMemory(ctx, c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Persona not found",
		})
	}

	view := models.MergeLegacyAndCanonical(memory)
	return c.JSON(fiber.Map{
		"facts":          view.Facts,
		"summaries":      view.Summaries,
		"manual_notes":   view.ManualNotes,
		"legacy_facts":   view.LegacyFacts,
		"legacy_summary": view.LegacySummary,
		"max_fact_id":    memory.MaxFactID(),
		"max_summary_id": memory.MaxSummaryID(),
	})
}
