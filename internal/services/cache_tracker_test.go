package services

import (
	"testing"
	"time"

	"companion/internal/models"
)

func persistedMessages(n int) []models.Message {
	msgs := make([]models.Message, n)
	for i := range msgs {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		msgs[i] = models.Message{ID: int64(i + 1), Role: role, Content: "m"}
	}
	return msgs
}

func TestResolveSkipsShortOrUnpersistedConversations(t *testing.T) {
	tracker := NewCacheBreakpointTracker(NewMemoryBreakpointStore(), nil)

	tests := []struct {
		name           string
		conversationID string
		messages       []models.Message
	}{
		{"New conversation sentinel", "new", persistedMessages(10)},
		{"Empty conversation id", "", persistedMessages(10)},
		{"Too few messages", "conv1", persistedMessages(3)},
		{
			"Unpersisted message in history",
			"conv1",
			append(persistedMessages(5), models.Message{ID: 0, Role: "user", Content: "fresh"}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bp, minted := tracker.Resolve(tt.conversationID, tt.messages, 5, 2)
			if bp != nil || minted {
				t.Errorf("Expected no breakpoint, got %+v (minted=%v)", bp, minted)
			}
		})
	}
}

func TestResolveMintsAnchorBeforeTail(t *testing.T) {
	tracker := NewCacheBreakpointTracker(NewMemoryBreakpointStore(), nil)
	messages := persistedMessages(10)

	bp, minted := tracker.Resolve("conv1", messages, 7, 3)
	if bp == nil || !minted {
		t.Fatal("Expected a freshly minted breakpoint")
	}

	// The last 3 messages stay outside the cached prefix.
	if bp.AnchorMessageID != messages[len(messages)-4].ID {
		t.Errorf("Expected anchor at message %d, got %d", messages[len(messages)-4].ID, bp.AnchorMessageID)
	}
	if bp.MaxFactID != 7 || bp.MaxSummaryID != 3 {
		t.Errorf("Minted breakpoint should record true marks (7,3), got (%d,%d)", bp.MaxFactID, bp.MaxSummaryID)
	}
}

func TestResolveReusesUnexpiredBreakpoint(t *testing.T) {
	tracker := NewCacheBreakpointTracker(NewMemoryBreakpointStore(), nil)
	messages := persistedMessages(10)

	first, minted := tracker.Resolve("conv1", messages, 7, 3)
	if !minted {
		t.Fatal("Expected first resolve to mint")
	}

	// Memory grew and the conversation got longer; the stored marks must win.
	longer := persistedMessages(12)
	second, minted := tracker.Resolve("conv1", longer, 9, 4)
	if minted {
		t.Fatal("Expected reuse, got a fresh mint")
	}
	if second.AnchorMessageID != first.AnchorMessageID {
		t.Errorf("Anchor moved on reuse: %d -> %d", first.AnchorMessageID, second.AnchorMessageID)
	}
	if second.MaxFactID != 7 || second.MaxSummaryID != 3 {
		t.Errorf("Reused breakpoint marks changed: got (%d,%d)", second.MaxFactID, second.MaxSummaryID)
	}
}

func TestResolveRemintsWhenAnchorMissing(t *testing.T) {
	store := NewMemoryBreakpointStore()
	tracker := NewCacheBreakpointTracker(store, nil)

	// Anchor message id 42 is not present in the current history (trimmed away).
	store.Set("conv1", &Breakpoint{AnchorMessageID: 42, MaxFactID: 1, MaxSummaryID: 1, CreatedAt: time.Now()})

	bp, minted := tracker.Resolve("conv1", persistedMessages(10), 5, 2)
	if !minted {
		t.Fatal("Expected a re-mint when the stored anchor is gone from the history")
	}
	if bp.AnchorMessageID == 42 {
		t.Error("Re-minted breakpoint kept the stale anchor")
	}
}

func TestResolveRemintsExpiredBreakpoint(t *testing.T) {
	store := NewMemoryBreakpointStore()
	tracker := NewCacheBreakpointTracker(store, nil)
	messages := persistedMessages(10)

	stale := &Breakpoint{
		AnchorMessageID: messages[2].ID,
		MaxFactID:       1,
		MaxSummaryID:    0,
		CreatedAt:       time.Now().Add(-10 * time.Minute),
	}
	store.Set("conv1", stale)

	bp, minted := tracker.Resolve("conv1", messages, 6, 2)
	if !minted {
		t.Fatal("Expected an expired breakpoint to be replaced")
	}
	if bp.MaxFactID != 6 || bp.MaxSummaryID != 2 {
		t.Errorf("Fresh breakpoint should carry current marks, got (%d,%d)", bp.MaxFactID, bp.MaxSummaryID)
	}
}

func TestBreakpointExpired(t *testing.T) {
	bp := &Breakpoint{CreatedAt: time.Now()}
	if bp.Expired(time.Now()) {
		t.Error("Fresh breakpoint reported expired")
	}
	if !bp.Expired(time.Now().Add(breakpointTTL + time.Second)) {
		t.Error("Breakpoint past TTL reported valid")
	}
}

func TestShouldAnnotateThresholds(t *testing.T) {
	tracker := NewCacheBreakpointTracker(NewMemoryBreakpointStore(), []string{"claude-3-5-haiku"})

	tests := []struct {
		name    string
		modelID string
		tokens  int
		want    bool
	}{
		{"Default family above low threshold", "openai/gpt-4o", 2000, true},
		{"Default family below low threshold", "openai/gpt-4o", 900, false},
		{"High-minimum family below high threshold", "anthropic/claude-3-5-haiku", 2000, false},
		{"High-minimum family above high threshold", "anthropic/claude-3-5-haiku", 5000, true},
		{"Family match is case-insensitive", "Anthropic/Claude-3-5-Haiku", 2000, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tracker.ShouldAnnotate(tt.modelID, tt.tokens); got != tt.want {
				t.Errorf("ShouldAnnotate(%q, %d) = %v, want %v", tt.modelID, tt.tokens, got, tt.want)
			}
		})
	}
}
