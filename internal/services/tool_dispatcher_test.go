package services

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"companion/internal/models"
)

type fakeMemoryStore struct {
	facts     []string
	summaries []string
	factErr   error
}

func (f *fakeMemoryStore) AppendFact(ctx context.Context, personaID, text, sourceConversation string) (*models.Fact, error) {
	if f.factErr != nil {
		return nil, f.factErr
	}
	f.facts = append(f.facts, text)
	return &models.Fact{ID: int64(len(f.facts)), Text: text}, nil
}

func (f *fakeMemoryStore) AppendSummary(ctx context.Context, personaID, text, conversationID string) (*models.SummaryEntry, error) {
	f.summaries = append(f.summaries, text)
	return &models.SummaryEntry{ID: int64(len(f.summaries)), Text: text}, nil
}

type fakeNotificationSink struct {
	created []models.Notification
}

func (f *fakeNotificationSink) Create(ctx context.Context, personaID, message, urgency string) (*models.Notification, error) {
	n := models.Notification{PersonaID: personaID, Message: message, Urgency: models.NormalizeUrgency(urgency)}
	f.created = append(f.created, n)
	return &n, nil
}

type fakeKnowledgeSource struct {
	files   []models.KnowledgeFile
	results []models.KnowledgeSearchResult
}

func (f *fakeKnowledgeSource) List(ctx context.Context) ([]models.KnowledgeFileInfo, error) {
	infos := make([]models.KnowledgeFileInfo, len(f.files))
	for i := range f.files {
		infos[i] = f.files[i].Info()
	}
	return infos, nil
}

func (f *fakeKnowledgeSource) GetByTitles(ctx context.Context, titles []string) ([]models.KnowledgeFile, error) {
	var out []models.KnowledgeFile
	for _, file := range f.files {
		for _, title := range titles {
			if file.Title == title {
				out = append(out, file)
			}
		}
	}
	return out, nil
}

func (f *fakeKnowledgeSource) Search(ctx context.Context, query string, fileIDs []string, maxResults int) ([]models.KnowledgeSearchResult, error) {
	return f.results, nil
}

type fakeLoopState struct {
	state string
}

func (f *fakeLoopState) State(ctx context.Context) (string, error) {
	return f.state, nil
}

func newTestDispatcher() (*ToolDispatcher, *fakeMemoryStore, *fakeNotificationSink, *fakeKnowledgeSource) {
	memory := &fakeMemoryStore{}
	sink := &fakeNotificationSink{}
	knowledge := &fakeKnowledgeSource{}
	d := NewToolDispatcher(memory, sink, knowledge, &fakeLoopState{state: "idle"})
	return d, memory, sink, knowledge
}

func TestDispatchSaveFactDedupWithinRequest(t *testing.T) {
	d, memory, _, _ := newTestDispatcher()
	state := NewDispatchState()
	call := ParsedToolCall{Name: ToolSaveFact, Args: map[string]interface{}{"fact": "moved to Berlin"}}

	first := d.Execute(context.Background(), "p1", "c1", call, state)
	if first.Record.Status != models.ToolStatusExecuted {
		t.Fatalf("First save_fact should execute, got %s (%s)", first.Record.Status, first.Record.Detail)
	}

	second := d.Execute(context.Background(), "p1", "c1", call, state)
	if second.Record.Status != models.ToolStatusSkippedDuplicate {
		t.Errorf("Repeated save_fact should be skipped, got %s", second.Record.Status)
	}
	if len(memory.facts) != 1 {
		t.Errorf("Expected exactly 1 stored fact, got %d", len(memory.facts))
	}

	// A fresh request gets fresh guards.
	third := d.Execute(context.Background(), "p1", "c2", call, NewDispatchState())
	if third.Record.Status != models.ToolStatusExecuted {
		t.Errorf("New request should allow the fact again, got %s", third.Record.Status)
	}
}

func TestDispatchSaveFactNearDuplicateFromStore(t *testing.T) {
	d, memory, _, _ := newTestDispatcher()
	memory.factErr = ErrDuplicateFact

	call := ParsedToolCall{Name: ToolSaveFact, Args: map[string]interface{}{"fact": "moved to Berlin"}}
	result := d.Execute(context.Background(), "p1", "c1", call, NewDispatchState())
	if result.Record.Status != models.ToolStatusSkippedDuplicate {
		t.Errorf("Store-level near-duplicate should report a skip, got %s", result.Record.Status)
	}
}

func TestDispatchSaveSummaryOncePerRequest(t *testing.T) {
	d, memory, _, _ := newTestDispatcher()
	state := NewDispatchState()

	first := d.Execute(context.Background(), "p1", "c1",
		ParsedToolCall{Name: ToolSaveSummary, Args: map[string]interface{}{"summary": "we planned a trip"}}, state)
	if first.Record.Status != models.ToolStatusExecuted {
		t.Fatalf("First save_summary should execute, got %s", first.Record.Status)
	}

	second := d.Execute(context.Background(), "p1", "c1",
		ParsedToolCall{Name: ToolSaveSummary, Args: map[string]interface{}{"summary": "a different summary"}}, state)
	if second.Record.Status != models.ToolStatusSkippedDuplicate {
		t.Errorf("Second save_summary in one request should be skipped, got %s", second.Record.Status)
	}
	if len(memory.summaries) != 1 {
		t.Errorf("Expected exactly 1 stored summary, got %d", len(memory.summaries))
	}
}

func TestDispatchRequiresPersonaForMemoryTools(t *testing.T) {
	d, _, _, _ := newTestDispatcher()

	for _, call := range []ParsedToolCall{
		{Name: ToolSaveFact, Args: map[string]interface{}{"fact": "something"}},
		{Name: ToolSaveSummary, Args: map[string]interface{}{"summary": "something"}},
	} {
		result := d.Execute(context.Background(), "", "c1", call, NewDispatchState())
		if result.Record.Status != models.ToolStatusFailed {
			t.Errorf("%s without persona should fail, got %s", call.Name, result.Record.Status)
		}
	}
}

func TestDispatchSendNotification(t *testing.T) {
	d, _, sink, _ := newTestDispatcher()

	result := d.Execute(context.Background(), "p1", "c1",
		ParsedToolCall{Name: ToolSendNotification, Args: map[string]interface{}{"message": "dinner at 7", "urgency": "bogus"}},
		NewDispatchState())
	if result.Record.Status != models.ToolStatusExecuted {
		t.Fatalf("Expected executed, got %s (%s)", result.Record.Status, result.Record.Detail)
	}
	if len(sink.created) != 1 {
		t.Fatalf("Expected 1 notification, got %d", len(sink.created))
	}
	if sink.created[0].Urgency != models.UrgencyMedium {
		t.Errorf("Unknown urgency should normalize to medium, got %s", sink.created[0].Urgency)
	}

	empty := d.Execute(context.Background(), "p1", "c1",
		ParsedToolCall{Name: ToolSendNotification, Args: map[string]interface{}{"message": "   "}},
		NewDispatchState())
	if empty.Record.Status != models.ToolStatusFailed {
		t.Errorf("Empty message should fail, got %s", empty.Record.Status)
	}
}

func TestDispatchSearchKnowledgeRequiresFollowUp(t *testing.T) {
	d, _, _, knowledge := newTestDispatcher()
	knowledge.results = []models.KnowledgeSearchResult{
		{FileTitle: "Garden Notes", Line: 12, Snippet: "tomatoes in May"},
	}

	result := d.Execute(context.Background(), "p1", "c1",
		ParsedToolCall{Name: ToolSearchKnowledge, Args: map[string]interface{}{"query": "tomatoes"}},
		NewDispatchState())

	if !result.RequiresFollowUp {
		t.Fatal("search_knowledge must request a follow-up turn")
	}
	if result.FollowUp == "" {
		t.Error("Follow-up content is empty")
	}
	if len(result.SearchResults) != 1 {
		t.Errorf("Expected search results surfaced, got %d", len(result.SearchResults))
	}
}

func TestDispatchLoadKnowledgeIsFireAndForget(t *testing.T) {
	d, _, _, knowledge := newTestDispatcher()
	knowledge.files = []models.KnowledgeFile{{ID: "k1", Title: "Garden Notes", Content: "secret payload"}}

	result := d.Execute(context.Background(), "p1", "c1",
		ParsedToolCall{Name: ToolLoadKnowledgeByTitle, Args: map[string]interface{}{"titles": []interface{}{"Garden Notes"}}},
		NewDispatchState())

	if result.Record.Status != models.ToolStatusExecuted {
		t.Fatalf("Expected executed, got %s", result.Record.Status)
	}
	if result.RequiresFollowUp {
		t.Error("load_knowledge_by_title must not loop back to the model")
	}
	if result.FollowUp != "" {
		t.Error("File contents must not be fed back into the same turn")
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	d, _, _, _ := newTestDispatcher()

	result := d.Execute(context.Background(), "p1", "c1",
		ParsedToolCall{Name: "format_disk", Args: map[string]interface{}{}}, NewDispatchState())
	if result.Record.Status != models.ToolStatusFailed {
		t.Errorf("Unknown tool should fail, got %s", result.Record.Status)
	}
}

func TestFormatSearchResults(t *testing.T) {
	empty := formatSearchResults("tomatoes", nil)
	if empty != fmt.Sprintf("No matches found for %q.", "tomatoes") {
		t.Errorf("Unexpected empty-result message: %q", empty)
	}

	formatted := formatSearchResults("tomatoes", []models.KnowledgeSearchResult{
		{FileTitle: "Garden Notes", Line: 12, Snippet: "tomatoes in May"},
	})
	for _, want := range []string{"1 match(es)", "Garden Notes:12", "tomatoes in May"} {
		if !strings.Contains(formatted, want) {
			t.Errorf("Expected %q in formatted results:\n%s", want, formatted)
		}
	}
}
