package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"companion/internal/database"
	"companion/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// Near-duplicate fact detection thresholds.
const (
	factKeyLength        = 50
	factOverlapThreshold = 0.8
)

// PersonaService manages personas and their layered memory
type PersonaService struct {
	mongodb    *database.MongoDB
	collection *mongo.Collection
}

// NewPersonaService creates a new persona service
func NewPersonaService(mongodb *database.MongoDB) *PersonaService {
	return &PersonaService{
		mongodb:    mongodb,
		collection: mongodb.Collection(database.CollectionPersonas),
	}
}

// Create inserts a new persona
func (s *PersonaService) Create(ctx context.Context, persona *models.Persona) error {
	now := time.Now()
	persona.CreatedAt = now
	persona.UpdatedAt = now
	if persona.ID.IsZero() {
		persona.ID = primitive.NewObjectID()
	}

	_, err := s.collection.InsertOne(ctx, persona)
	if err != nil {
		return fmt.Errorf("failed to create persona: %w", err)
	}
	return nil
}

// Get returns a persona by hex id
func (s *PersonaService) Get(ctx context.Context, personaID string) (*models.Persona, error) {
	oid, err := primitive.ObjectIDFromHex(personaID)
	if err != nil {
		return nil, fmt.Errorf("invalid persona id: %w", err)
	}

	var persona models.Persona
	if err := s.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&persona); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("persona not found")
		}
		return nil, fmt.Errorf("failed to get persona: %w", err)
	}
	return &persona, nil
}

// List returns all personas
func (s *PersonaService) List(ctx context.Context) ([]models.Persona, error) {
	cursor, err := s.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list personas: %w", err)
	}
	defer cursor.Close(ctx)

	var personas []models.Persona
	if err := cursor.All(ctx, &personas); err != nil {
		return nil, fmt.Errorf("failed to decode personas: %w", err)
	}
	return personas, nil
}

// Update modifies persona identity and autonomy settings. Memory is not
// writable through this path.
func (s *PersonaService) Update(ctx context.Context, personaID string, set bson.M) error {
	oid, err := primitive.ObjectIDFromHex(personaID)
	if err != nil {
		return fmt.Errorf("invalid persona id: %w", err)
	}

	set["updatedAt"] = time.Now()
	result, err := s.collection.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update persona: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("persona not found")
	}
	return nil
}

// Delete removes a persona. Only explicit user action reaches here.
func (s *PersonaService) Delete(ctx context.Context, personaID string) error {
	oid, err := primitive.ObjectIDFromHex(personaID)
	if err != nil {
		return fmt.Errorf("invalid persona id: %w", err)
	}

	result, err := s.collection.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("failed to delete persona: %w", err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("persona not found")
	}
	return nil
}

// GetMemory returns the persona's full memory record.
func (s *PersonaService) GetMemory(ctx context.Context, personaID string) (models.Memory, error) {
	persona, err := s.Get(ctx, personaID)
	if err != nil {
		return models.Memory{}, err
	}
	return persona.Memory, nil
}

// AppendFact appends a fact to the persona's memory unless it is a
// near-duplicate of an existing one. Returns ErrDuplicateFact for skips.
func (s *PersonaService) AppendFact(ctx context.Context, personaID, text, sourceConversation string) (*models.Fact, error) {
	persona, err := s.Get(ctx, personaID)
	if err != nil {
		return nil, err
	}

	for _, existing := range persona.Memory.Facts {
		if IsNearDuplicateFact(existing.Text, text) {
			log.Printf("🔁 [MEMORY] Skipping near-duplicate fact for persona %s: %q", personaID, truncateForLog(text, 60))
			return nil, ErrDuplicateFact
		}
	}

	id, err := s.mongodb.NextSequence(ctx, "facts:"+personaID)
	if err != nil {
		return nil, err
	}

	fact := models.Fact{
		ID:                 id,
		Text:               text,
		Timestamp:          time.Now(),
		SourceConversation: sourceConversation,
	}

	oid, _ := primitive.ObjectIDFromHex(personaID)
	_, err = s.collection.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{
		"$push": bson.M{"memory.facts": fact},
		"$set":  bson.M{"updatedAt": time.Now()},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append fact: %w", err)
	}

	log.Printf("🧠 [MEMORY] Saved fact #%d for persona %s", id, personaID)
	return &fact, nil
}

// AppendSummary appends a timestamped entry to the persona's summary log.
func (s *PersonaService) AppendSummary(ctx context.Context, personaID, text, conversationID string) (*models.SummaryEntry, error) {
	id, err := s.mongodb.NextSequence(ctx, "summaries:"+personaID)
	if err != nil {
		return nil, err
	}

	entry := models.SummaryEntry{
		ID:             id,
		Text:           text,
		Timestamp:      time.Now(),
		ConversationID: conversationID,
	}

	oid, err := primitive.ObjectIDFromHex(personaID)
	if err != nil {
		return nil, fmt.Errorf("invalid persona id: %w", err)
	}

	result, err := s.collection.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{
		"$push": bson.M{"memory.summaries": entry},
		"$set":  bson.M{"updatedAt": time.Now()},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append summary: %w", err)
	}
	if result.MatchedCount == 0 {
		return nil, fmt.Errorf("persona not found")
	}

	log.Printf("📝 [MEMORY] Saved summary #%d for persona %s", id, personaID)
	return &entry, nil
}

// MarkAutonomyChecked records the wake-up scheduler's last visit.
func (s *PersonaService) MarkAutonomyChecked(ctx context.Context, personaID string, at time.Time) error {
	oid, err := primitive.ObjectIDFromHex(personaID)
	if err != nil {
		return fmt.Errorf("invalid persona id: %w", err)
	}

	_, err = s.collection.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{
		"$set": bson.M{"autonomy.lastCheckAt": at},
	})
	if err != nil {
		return fmt.Errorf("failed to mark autonomy check: %w", err)
	}
	return nil
}

// DueForWakeUp returns personas with autonomy enabled whose check interval
// has elapsed.
func (s *PersonaService) DueForWakeUp(ctx context.Context, now time.Time) ([]models.Persona, error) {
	cursor, err := s.collection.Find(ctx, bson.M{"autonomy.enabled": true})
	if err != nil {
		return nil, fmt.Errorf("failed to query autonomous personas: %w", err)
	}
	defer cursor.Close(ctx)

	var all []models.Persona
	if err := cursor.All(ctx, &all); err != nil {
		return nil, fmt.Errorf("failed to decode personas: %w", err)
	}

	var due []models.Persona
	for _, p := range all {
		interval := time.Duration(p.Autonomy.IntervalMins) * time.Minute
		if interval <= 0 {
			continue
		}
		if p.Autonomy.LastCheckAt == nil || now.Sub(*p.Autonomy.LastCheckAt) >= interval {
			due = append(due, p)
		}
	}
	return due, nil
}

// IsNearDuplicateFact reports whether candidate is a near-duplicate of
// existing: either the first 50 characters match, or the word-level overlap
// (matched words / candidate word count) exceeds 0.8. A cheap filter, not
// exact-match only.
func IsNearDuplicateFact(existing, candidate string) bool {
	if factKey(existing) == factKey(candidate) {
		return true
	}
	return wordOverlapRatio(existing, candidate) > factOverlapThreshold
}

// factKey is the dedup key for a fact: its first 50 characters, lowercased.
func factKey(text string) string {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if len(normalized) > factKeyLength {
		return normalized[:factKeyLength]
	}
	return normalized
}

// wordOverlapRatio returns matched words divided by candidate word count.
func wordOverlapRatio(existing, candidate string) float64 {
	candidateWords := strings.Fields(strings.ToLower(candidate))
	if len(candidateWords) == 0 {
		return 0
	}

	existingWords := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(existing)) {
		existingWords[w] = true
	}

	matched := 0
	for _, w := range candidateWords {
		if existingWords[w] {
			matched++
		}
	}
	return float64(matched) / float64(len(candidateWords))
}

func truncateForLog(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
