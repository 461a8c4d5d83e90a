package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Persona represents a configured AI identity: model choice, system prompt,
// layered memory and autonomy settings. Distinct from the raw underlying model.
type Persona struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name         string             `bson:"name" json:"name"`
	Avatar       string             `bson:"avatar,omitempty" json:"avatar,omitempty"`
	ModelID      string             `bson:"modelId" json:"model_id"`
	SystemPrompt string             `bson:"systemPrompt" json:"system_prompt"`
	KnowledgeIDs []string           `bson:"knowledgeIds,omitempty" json:"knowledge_ids,omitempty"`

	Autonomy AutonomySettings `bson:"autonomy" json:"autonomy"`
	Memory   Memory           `bson:"memory" json:"memory"`

	CreatedAt time.Time `bson:"createdAt" json:"created_at"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updated_at"`
}

// AutonomySettings controls the persona's wake-up behavior.
type AutonomySettings struct {
	Enabled        bool       `bson:"enabled" json:"enabled"`
	IntervalMins   int        `bson:"intervalMins" json:"interval_mins"`
	LastCheckAt    *time.Time `bson:"lastCheckAt,omitempty" json:"last_check_at,omitempty"`
	WakeUpPrompt   string     `bson:"wakeUpPrompt,omitempty" json:"wake_up_prompt,omitempty"`
}

// Memory is the layered memory record owned by a persona.
// Facts and Summaries are the canonical append-only tiers; the legacy fields
// are read-only merge targets kept for personas created before the migration.
type Memory struct {
	Facts     []Fact         `bson:"facts,omitempty" json:"facts,omitempty"`
	Summaries []SummaryEntry `bson:"summaries,omitempty" json:"summaries,omitempty"`

	// Legacy fields. Never written by the canonical path.
	ManualFacts    []string `bson:"manualFacts,omitempty" json:"manual_facts,omitempty"`
	AutoFacts      []string `bson:"autoFacts,omitempty" json:"auto_facts,omitempty"`
	CurrentSummary string   `bson:"currentSummary,omitempty" json:"current_summary,omitempty"`
}

// Fact is a persistent, deduplicated memory entry. IDs are strictly
// increasing per persona and never reused; the cache breakpoint relies on
// "facts known as of id N" being a stable statement.
type Fact struct {
	ID                 int64     `bson:"id" json:"id"`
	Text               string    `bson:"text" json:"text"`
	Timestamp          time.Time `bson:"timestamp" json:"timestamp"`
	SourceConversation string    `bson:"sourceConversation,omitempty" json:"source_conversation,omitempty"`
}

// SummaryEntry is a timestamped narrative memory entry. The log accumulates
// across requests rather than replacing the previous entry.
type SummaryEntry struct {
	ID             int64     `bson:"id" json:"id"`
	Text           string    `bson:"text" json:"text"`
	Timestamp      time.Time `bson:"timestamp" json:"timestamp"`
	ConversationID string    `bson:"conversationId,omitempty" json:"conversation_id,omitempty"`
}

// MaxFactID returns the highest fact id in the memory, 0 when empty.
func (m *Memory) MaxFactID() int64 {
	var max int64
	for _, f := range m.Facts {
		if f.ID > max {
			max = f.ID
		}
	}
	return max
}

// MaxSummaryID returns the highest summary id in the memory, 0 when empty.
func (m *Memory) MaxSummaryID() int64 {
	var max int64
	for _, s := range m.Summaries {
		if s.ID > max {
			max = s.ID
		}
	}
	return max
}

// UnifiedMemoryView is the migration-read merge of canonical and legacy
// memory fields. Produced by MergeLegacyAndCanonical; the write path only
// ever targets the canonical fields.
type UnifiedMemoryView struct {
	Facts     []Fact
	Summaries []SummaryEntry

	// Legacy content surfaced only when the canonical tier is empty.
	ManualNotes   []string
	LegacyFacts   []string
	LegacySummary string
}

// MergeLegacyAndCanonical merges the legacy manual/auto fact fields and the
// single rolling summary into a unified read view. Legacy auto facts and the
// legacy summary are suppressed when the canonical tier has entries, so the
// same information is never reported under two schemas. Manual notes are
// always surfaced since they have no canonical counterpart.
func MergeLegacyAndCanonical(m Memory) UnifiedMemoryView {
	view := UnifiedMemoryView{
		Facts:       m.Facts,
		Summaries:   m.Summaries,
		ManualNotes: m.ManualFacts,
	}
	if len(m.Facts) == 0 {
		view.LegacyFacts = m.AutoFacts
	}
	if len(m.Summaries) == 0 {
		view.LegacySummary = m.CurrentSummary
	}
	return view
}
