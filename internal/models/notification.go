package models

import "time"

// Notification urgency levels accepted from the send_notification tool.
const (
	UrgencyLow    = "low"
	UrgencyMedium = "medium"
	UrgencyHigh   = "high"
)

// Notification is a message surfaced to the user outside the chat transcript,
// created by the send_notification tool or by autonomous wake-up turns.
type Notification struct {
	ID        string    `bson:"_id" json:"id"`
	PersonaID string    `bson:"personaId,omitempty" json:"persona_id,omitempty"`
	Message   string    `bson:"message" json:"message"`
	Urgency   string    `bson:"urgency" json:"urgency"`
	Read      bool      `bson:"read" json:"read"`
	CreatedAt time.Time `bson:"createdAt" json:"created_at"`
}

// NormalizeUrgency coerces an arbitrary urgency string to a known level,
// defaulting to medium.
func NormalizeUrgency(urgency string) string {
	switch urgency {
	case UrgencyLow, UrgencyMedium, UrgencyHigh:
		return urgency
	default:
		return UrgencyMedium
	}
}
