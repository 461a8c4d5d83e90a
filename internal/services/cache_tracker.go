package services

import (
	"log"
	"strings"
	"sync"
	"time"

	"companion/internal/models"

	gocache "github.com/patrickmn/go-cache"
)

// Cache breakpoint tuning.
const (
	breakpointTTL = 5 * time.Minute

	// The last minUncachedTail messages are always left outside the cached
	// prefix so they can vary freely between calls.
	minUncachedTail = 3

	// Minimum estimated prompt tokens before a breakpoint annotation is
	// worth sending. Some model tiers only cache prefixes above 4096.
	cacheMinTokensDefault = 1024
	cacheMinTokensHigh    = 4096
)

// Breakpoint pins the prompt-cache anchor for one conversation: the message
// id the stable prefix ends at, plus the memory high-water-marks that were
// current when the anchor was set. Filtering memory to those ids on reuse is
// what keeps the cached prefix byte-identical while new facts accrue.
type Breakpoint struct {
	AnchorMessageID int64
	MaxFactID       int64
	MaxSummaryID    int64
	CreatedAt       time.Time
}

// Expired reports whether the breakpoint has outlived its TTL.
func (b *Breakpoint) Expired(now time.Time) bool {
	return now.Sub(b.CreatedAt) > breakpointTTL
}

// BreakpointStore is the keyed state the tracker runs on. The in-process
// implementation below suffices for a single-instance deployment; a
// multi-instance deployment would back this with the shared store instead.
type BreakpointStore interface {
	Get(conversationID string) (*Breakpoint, bool)
	Set(conversationID string, bp *Breakpoint)
	Delete(conversationID string)
}

// memoryBreakpointStore is the process-local store, TTL-evicted.
type memoryBreakpointStore struct {
	cache *gocache.Cache
}

// NewMemoryBreakpointStore creates the in-process breakpoint store.
func NewMemoryBreakpointStore() BreakpointStore {
	return &memoryBreakpointStore{
		cache: gocache.New(breakpointTTL, 2*breakpointTTL),
	}
}

func (s *memoryBreakpointStore) Get(conversationID string) (*Breakpoint, bool) {
	v, found := s.cache.Get(conversationID)
	if !found {
		return nil, false
	}
	return v.(*Breakpoint), true
}

func (s *memoryBreakpointStore) Set(conversationID string, bp *Breakpoint) {
	s.cache.Set(conversationID, bp, gocache.DefaultExpiration)
}

func (s *memoryBreakpointStore) Delete(conversationID string) {
	s.cache.Delete(conversationID)
}

// CacheBreakpointTracker decides, per conversation, whether to reuse the
// existing cache anchor or mint a new one.
type CacheBreakpointTracker struct {
	store BreakpointStore

	mu sync.RWMutex
	// Model-id substrings that require the higher token minimum.
	highMinimumFamilies []string
}

// NewCacheBreakpointTracker creates a tracker over the given store.
func NewCacheBreakpointTracker(store BreakpointStore, highMinimumFamilies []string) *CacheBreakpointTracker {
	return &CacheBreakpointTracker{
		store:               store,
		highMinimumFamilies: highMinimumFamilies,
	}
}

// SetHighMinimumFamilies replaces the threshold table (providers.json reload).
func (t *CacheBreakpointTracker) SetHighMinimumFamilies(families []string) {
	t.mu.Lock()
	t.highMinimumFamilies = families
	t.mu.Unlock()
}

// Resolve returns the breakpoint to use for this request and whether it was
// freshly minted. A minted breakpoint records the persona's true current
// memory high-water-marks; a reused one keeps its stored marks so the
// assembled prefix stays byte-identical.
//
// Returns nil when caching is skipped entirely: the conversation is too
// short, or any message lacks a persistent id (a conversation still being
// auto-saved for the first time has no ids yet).
func (t *CacheBreakpointTracker) Resolve(conversationID string, messages []models.Message, trueMaxFactID, trueMaxSummaryID int64) (*Breakpoint, bool) {
	if conversationID == "" || conversationID == NewConversationSentinel {
		return nil, false
	}
	if len(messages) <= minUncachedTail {
		t.recordOutcome("skipped")
		return nil, false
	}
	for _, m := range messages {
		if m.ID == 0 {
			t.recordOutcome("skipped")
			return nil, false
		}
	}

	now := time.Now()

	if existing, found := t.store.Get(conversationID); found {
		if !existing.Expired(now) && anchorPresent(messages, existing.AnchorMessageID) {
			t.recordOutcome("reused")
			return existing, false
		}
		t.store.Delete(conversationID)
	}

	anchor := messages[len(messages)-minUncachedTail-1].ID
	bp := &Breakpoint{
		AnchorMessageID: anchor,
		MaxFactID:       trueMaxFactID,
		MaxSummaryID:    trueMaxSummaryID,
		CreatedAt:       now,
	}
	t.store.Set(conversationID, bp)
	t.recordOutcome("minted")
	log.Printf("📌 [CACHE] Minted breakpoint for conversation %s at message #%d (facts≤%d, summaries≤%d)",
		conversationID, anchor, trueMaxFactID, trueMaxSummaryID)
	return bp, true
}

// ShouldAnnotate reports whether the computed breakpoint is worth announcing
// to the provider: the estimated prompt must clear the model's minimum
// cacheable size, otherwise the request goes out uncached even though a
// breakpoint exists.
func (t *CacheBreakpointTracker) ShouldAnnotate(modelID string, estimatedPromptTokens int) bool {
	return estimatedPromptTokens >= t.minTokensFor(modelID)
}

func (t *CacheBreakpointTracker) minTokensFor(modelID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	lower := strings.ToLower(modelID)
	for _, family := range t.highMinimumFamilies {
		if family != "" && strings.Contains(lower, strings.ToLower(family)) {
			return cacheMinTokensHigh
		}
	}
	return cacheMinTokensDefault
}

func (t *CacheBreakpointTracker) recordOutcome(outcome string) {
	if m := GetMetrics(); m != nil {
		m.CacheBreakpoints.WithLabelValues(outcome).Inc()
	}
}

func anchorPresent(messages []models.Message, anchorID int64) bool {
	for _, m := range messages {
		if m.ID == anchorID {
			return true
		}
	}
	return false
}
