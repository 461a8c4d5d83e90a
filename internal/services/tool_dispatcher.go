package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"companion/internal/models"
)

// MemoryStore is the append/dedup contract the dispatcher consumes. The
// Mongo-backed PersonaService satisfies it; tests use an in-memory fake.
type MemoryStore interface {
	AppendFact(ctx context.Context, personaID, text, sourceConversation string) (*models.Fact, error)
	AppendSummary(ctx context.Context, personaID, text, conversationID string) (*models.SummaryEntry, error)
}

// NotificationSink records notifications produced by tool calls.
type NotificationSink interface {
	Create(ctx context.Context, personaID, message, urgency string) (*models.Notification, error)
}

// KnowledgeSource serves the knowledge tools.
type KnowledgeSource interface {
	List(ctx context.Context) ([]models.KnowledgeFileInfo, error)
	GetByTitles(ctx context.Context, titles []string) ([]models.KnowledgeFile, error)
	Search(ctx context.Context, query string, fileIDs []string, maxResults int) ([]models.KnowledgeSearchResult, error)
}

// LoopStateSource reads the presence/state collaborator.
type LoopStateSource interface {
	State(ctx context.Context) (string, error)
}

// ToolDispatcher executes normalized tool calls with per-request dedup and
// idempotence guards. Execution errors are absorbed: a failing tool produces
// no effect, never a failed chat request.
type ToolDispatcher struct {
	memory        MemoryStore
	notifications NotificationSink
	knowledge     KnowledgeSource
	loopState     LoopStateSource
}

// NewToolDispatcher creates a dispatcher over the given collaborators.
func NewToolDispatcher(memory MemoryStore, notifications NotificationSink, knowledge KnowledgeSource, loopState LoopStateSource) *ToolDispatcher {
	return &ToolDispatcher{
		memory:        memory,
		notifications: notifications,
		knowledge:     knowledge,
		loopState:     loopState,
	}
}

// DispatchState carries the per-request guards: at most one honored
// save_summary per chat request, and one successful save_fact per distinct
// fact key. A rolling log stacks across requests, not within one.
type DispatchState struct {
	summarySaved  bool
	savedFactKeys map[string]bool
}

// NewDispatchState returns fresh per-request guard state.
func NewDispatchState() *DispatchState {
	return &DispatchState{savedFactKeys: make(map[string]bool)}
}

// DispatchResult is the outcome of a single tool execution.
type DispatchResult struct {
	Record models.ExecutedToolCall

	// FollowUp holds tool output that must be fed back to the model for a
	// further turn. Only search_knowledge sets it; every other tool is
	// fire-and-forget.
	FollowUp         string
	RequiresFollowUp bool

	SearchResults []models.KnowledgeSearchResult
}

// Execute runs one tool call against its collaborator.
func (d *ToolDispatcher) Execute(ctx context.Context, personaID, conversationID string, call ParsedToolCall, state *DispatchState) DispatchResult {
	result := d.execute(ctx, personaID, conversationID, call, state)

	if m := GetMetrics(); m != nil {
		m.ToolExecutions.WithLabelValues(call.Name, result.Record.Status).Inc()
	}
	return result
}

func (d *ToolDispatcher) execute(ctx context.Context, personaID, conversationID string, call ParsedToolCall, state *DispatchState) DispatchResult {
	switch call.Name {
	case ToolSaveFact:
		return d.saveFact(ctx, personaID, conversationID, call, state)
	case ToolSaveSummary:
		return d.saveSummary(ctx, personaID, conversationID, call, state)
	case ToolSendNotification:
		return d.sendNotification(ctx, personaID, call)
	case ToolLoadKnowledgeByTitle:
		return d.loadKnowledgeByTitle(ctx, call)
	case ToolListKnowledgeFiles:
		return d.listKnowledgeFiles(ctx, call)
	case ToolSearchKnowledge:
		return d.searchKnowledge(ctx, call)
	case ToolGetLoopState:
		return d.getLoopState(ctx, call)
	default:
		log.Printf("⚠️  [TOOL-DISPATCH] Unknown tool %q, skipping", call.Name)
		return failed(call.Name, "unknown tool")
	}
}

func (d *ToolDispatcher) saveFact(ctx context.Context, personaID, conversationID string, call ParsedToolCall, state *DispatchState) DispatchResult {
	text, _ := call.Args["fact"].(string)
	if strings.TrimSpace(text) == "" {
		return failed(call.Name, "empty fact")
	}
	if personaID == "" {
		return failed(call.Name, "no persona bound to this chat")
	}

	key := factKey(text)
	if state.savedFactKeys[key] {
		log.Printf("🔁 [TOOL-DISPATCH] save_fact already honored for this key in this request")
		return skipped(call.Name, "duplicate within request")
	}

	fact, err := d.memory.AppendFact(ctx, personaID, text, conversationID)
	if err != nil {
		if errors.Is(err, ErrDuplicateFact) {
			return skipped(call.Name, "near-duplicate of existing fact")
		}
		log.Printf("❌ [TOOL-DISPATCH] save_fact failed: %v", err)
		return failed(call.Name, err.Error())
	}

	state.savedFactKeys[key] = true
	return executed(call.Name, fmt.Sprintf("saved fact #%d", fact.ID))
}

func (d *ToolDispatcher) saveSummary(ctx context.Context, personaID, conversationID string, call ParsedToolCall, state *DispatchState) DispatchResult {
	text, _ := call.Args["summary"].(string)
	if strings.TrimSpace(text) == "" {
		return failed(call.Name, "empty summary")
	}
	if personaID == "" {
		return failed(call.Name, "no persona bound to this chat")
	}
	if state.summarySaved {
		log.Printf("🔁 [TOOL-DISPATCH] save_summary already honored in this request")
		return skipped(call.Name, "one summary per request")
	}

	entry, err := d.memory.AppendSummary(ctx, personaID, text, conversationID)
	if err != nil {
		log.Printf("❌ [TOOL-DISPATCH] save_summary failed: %v", err)
		return failed(call.Name, err.Error())
	}

	state.summarySaved = true
	return executed(call.Name, fmt.Sprintf("saved summary #%d", entry.ID))
}

func (d *ToolDispatcher) sendNotification(ctx context.Context, personaID string, call ParsedToolCall) DispatchResult {
	message, _ := call.Args["message"].(string)
	if strings.TrimSpace(message) == "" {
		return failed(call.Name, "empty message")
	}
	urgency, _ := call.Args["urgency"].(string)

	if _, err := d.notifications.Create(ctx, personaID, message, urgency); err != nil {
		log.Printf("❌ [TOOL-DISPATCH] send_notification failed: %v", err)
		return failed(call.Name, err.Error())
	}
	return executed(call.Name, "notification created")
}

// loadKnowledgeByTitle performs the store lookup but intentionally does not
// feed the file contents back into the same model turn. The loaded files
// surface on the next request through the attached-knowledge path.
func (d *ToolDispatcher) loadKnowledgeByTitle(ctx context.Context, call ParsedToolCall) DispatchResult {
	titles := stringSlice(call.Args["titles"])
	if len(titles) == 0 {
		return failed(call.Name, "no titles given")
	}

	files, err := d.knowledge.GetByTitles(ctx, titles)
	if err != nil {
		log.Printf("❌ [TOOL-DISPATCH] load_knowledge_by_title failed: %v", err)
		return failed(call.Name, err.Error())
	}
	return executed(call.Name, fmt.Sprintf("loaded %d of %d requested files", len(files), len(titles)))
}

func (d *ToolDispatcher) listKnowledgeFiles(ctx context.Context, call ParsedToolCall) DispatchResult {
	infos, err := d.knowledge.List(ctx)
	if err != nil {
		log.Printf("❌ [TOOL-DISPATCH] list_knowledge_files failed: %v", err)
		return failed(call.Name, err.Error())
	}
	return executed(call.Name, fmt.Sprintf("%d files in catalog", len(infos)))
}

// searchKnowledge is the one tool whose result must reach the model: the
// loop feeds the matches back as a tool turn so the model can answer.
func (d *ToolDispatcher) searchKnowledge(ctx context.Context, call ParsedToolCall) DispatchResult {
	query, _ := call.Args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return failed(call.Name, "empty query")
	}

	fileIDs := stringSlice(call.Args["files"])
	maxResults := 0
	if n, ok := call.Args["maxResults"].(float64); ok {
		maxResults = int(n)
	}

	results, err := d.knowledge.Search(ctx, query, fileIDs, maxResults)
	if err != nil {
		log.Printf("❌ [TOOL-DISPATCH] search_knowledge failed: %v", err)
		return failed(call.Name, err.Error())
	}

	return DispatchResult{
		Record: models.ExecutedToolCall{
			Name:   call.Name,
			Status: models.ToolStatusExecuted,
			Detail: fmt.Sprintf("%d matches", len(results)),
		},
		FollowUp:         formatSearchResults(query, results),
		RequiresFollowUp: true,
		SearchResults:    results,
	}
}

func (d *ToolDispatcher) getLoopState(ctx context.Context, call ParsedToolCall) DispatchResult {
	state, err := d.loopState.State(ctx)
	if err != nil {
		log.Printf("❌ [TOOL-DISPATCH] get_loop_state failed: %v", err)
		return failed(call.Name, err.Error())
	}
	return executed(call.Name, state)
}

// formatSearchResults renders matches for the follow-up tool turn.
func formatSearchResults(query string, results []models.KnowledgeSearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No matches found for %q.", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d match(es) for %q:\n", len(results), query)
	for _, r := range results {
		fmt.Fprintf(&sb, "\n[%s:%d]\n%s\n", r.FileTitle, r.Line, r.Snippet)
	}
	return sb.String()
}

func stringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	var out []string
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func executed(name, detail string) DispatchResult {
	return DispatchResult{Record: models.ExecutedToolCall{Name: name, Status: models.ToolStatusExecuted, Detail: detail}}
}

func skipped(name, detail string) DispatchResult {
	return DispatchResult{Record: models.ExecutedToolCall{Name: name, Status: models.ToolStatusSkippedDuplicate, Detail: detail}}
}

func failed(name, detail string) DispatchResult {
	return DispatchResult{Record: models.ExecutedToolCall{Name: name, Status: models.ToolStatusFailed, Detail: detail}}
}
