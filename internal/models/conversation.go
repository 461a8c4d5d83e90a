package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Conversation is an ordered message log, optionally bound to a persona.
type Conversation struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	PersonaID string             `bson:"personaId,omitempty" json:"persona_id,omitempty"`
	Title     string             `bson:"title,omitempty" json:"title,omitempty"`
	Messages  []Message          `bson:"messages" json:"messages"`
	CreatedAt time.Time          `bson:"createdAt" json:"created_at"`
	UpdatedAt time.Time          `bson:"updatedAt" json:"updated_at"`
}

// Message is a single turn. The id is assigned at persistence time, is
// immutable once assigned, and ids are contiguous per conversation; this is
// the anchor the cache breakpoint tracker pins to. A message that has not
// been persisted yet carries id 0.
type Message struct {
	ID        int64     `bson:"id" json:"id"`
	Role      string    `bson:"role" json:"role"`
	Content   string    `bson:"content" json:"content"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
	Model     string    `bson:"model,omitempty" json:"model,omitempty"`
}

// ConversationListItem is the summary shape for listing conversations.
type ConversationListItem struct {
	ID           string    `json:"id"`
	PersonaID    string    `json:"persona_id,omitempty"`
	Title        string    `json:"title,omitempty"`
	MessageCount int       `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ToListItem converts a conversation to its listing summary.
func (c *Conversation) ToListItem() ConversationListItem {
	return ConversationListItem{
		ID:           c.ID.Hex(),
		PersonaID:    c.PersonaID,
		Title:        c.Title,
		MessageCount: len(c.Messages),
		UpdatedAt:    c.UpdatedAt,
	}
}
