package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"companion/internal/models"
)

type fakePersonaSource struct {
	persona *models.Persona
}

func (f *fakePersonaSource) Get(ctx context.Context, personaID string) (*models.Persona, error) {
	if f.persona == nil {
		return nil, fmt.Errorf("persona not found")
	}
	return f.persona, nil
}

type fakeConversationStore struct {
	created  [][]models.Message
	appended [][]models.Message
}

func (f *fakeConversationStore) Get(ctx context.Context, conversationID string) (*models.Conversation, error) {
	return nil, fmt.Errorf("not found")
}

func (f *fakeConversationStore) Create(ctx context.Context, personaID string, messages []models.Message) (*models.Conversation, error) {
	f.created = append(f.created, messages)
	return &models.Conversation{PersonaID: personaID, Messages: messages}, nil
}

func (f *fakeConversationStore) AppendMessages(ctx context.Context, conversationID string, messages []models.Message) ([]models.Message, error) {
	f.appended = append(f.appended, messages)
	return messages, nil
}

type fakeKnowledgeReader struct {
	fakeKnowledgeSource
}

func (f *fakeKnowledgeReader) GetMany(ctx context.Context, ids []string) ([]models.KnowledgeFile, error) {
	return nil, nil
}

// providerScript returns one canned completion per call, in order. The last
// entry repeats once the script runs out.
type providerScript struct {
	responses []map[string]interface{}
	requests  []map[string]interface{}
}

func (p *providerScript) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		p.requests = append(p.requests, body)

		idx := len(p.requests) - 1
		if idx >= len(p.responses) {
			idx = len(p.responses) - 1
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(p.responses[idx])
	}
}

func textCompletion(content string) map[string]interface{} {
	return map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]interface{}{"content": content}, "finish_reason": "stop"},
		},
		"usage": map[string]interface{}{"prompt_tokens": 100, "completion_tokens": 20, "total_tokens": 120},
	}
}

func toolCompletion(name, arguments string) map[string]interface{} {
	return map[string]interface{}{
		"choices": []map[string]interface{}{
			{
				"message": map[string]interface{}{
					"content": "",
					"tool_calls": []map[string]interface{}{
						{
							"id":   "call_1",
							"type": "function",
							"function": map[string]interface{}{
								"name":      name,
								"arguments": arguments,
							},
						},
					},
				},
				"finish_reason": "tool_calls",
			},
		},
		"usage": map[string]interface{}{"prompt_tokens": 100, "completion_tokens": 10, "total_tokens": 110},
	}
}

func newTestChatService(t *testing.T, script *providerScript) (*ChatService, *fakeConversationStore, *fakeMemoryStore) {
	t.Helper()
	server := httptest.NewServer(script.handler())
	t.Cleanup(server.Close)

	memory := &fakeMemoryStore{}
	knowledge := &fakeKnowledgeReader{}
	knowledge.results = []models.KnowledgeSearchResult{
		{FileTitle: "Garden Notes", Line: 5, Snippet: "plant tomatoes in May"},
	}
	dispatcher := NewToolDispatcher(memory, &fakeNotificationSink{}, knowledge, &fakeLoopState{state: "idle"})

	personas := &fakePersonaSource{persona: &models.Persona{
		SystemPrompt: "You are Ada.",
	}}
	conversations := &fakeConversationStore{}

	svc := NewChatService(
		personas,
		conversations,
		knowledge,
		dispatcher,
		NewToolRegistry(nil),
		NewCacheBreakpointTracker(NewMemoryBreakpointStore(), nil),
		nil, // no rate limiter in tests
		server.URL,
		"test-key",
		40,
		3,
	)
	return svc, conversations, memory
}

func userTurn(content string) models.Message {
	return models.Message{Role: "user", Content: content, Timestamp: time.Now()}
}

func TestChatPlainCompletion(t *testing.T) {
	script := &providerScript{responses: []map[string]interface{}{
		textCompletion("Hello! Nice to meet you."),
	}}
	svc, conversations, _ := newTestChatService(t, script)

	resp, err := svc.Chat(context.Background(), &models.ChatRequest{
		Model:          "openai/gpt-4o",
		ConversationID: "new",
		Messages:       []models.Message{userTurn("hi")},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if resp.Message != "Hello! Nice to meet you." {
		t.Errorf("Unexpected reply: %q", resp.Message)
	}
	if len(script.requests) != 1 {
		t.Errorf("Expected 1 provider call, got %d", len(script.requests))
	}
	if resp.Usage.TotalTokens != 120 {
		t.Errorf("Expected usage aggregated, got %d", resp.Usage.TotalTokens)
	}
	if len(conversations.created) != 1 {
		t.Fatalf("Expected the new conversation to be auto-saved, got %d creates", len(conversations.created))
	}
	saved := conversations.created[0]
	if saved[len(saved)-1].Role != "assistant" {
		t.Error("Auto-saved transcript missing the assistant reply")
	}
}

func TestChatSystemMessageIsSingleAndFirst(t *testing.T) {
	script := &providerScript{responses: []map[string]interface{}{textCompletion("ok")}}
	svc, _, _ := newTestChatService(t, script)

	_, err := svc.Chat(context.Background(), &models.ChatRequest{
		Model:     "openai/gpt-4o",
		PersonaID: "p1",
		Messages:  []models.Message{userTurn("hi")},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	wireMessages := script.requests[0]["messages"].([]interface{})
	systemCount := 0
	for i, raw := range wireMessages {
		msg := raw.(map[string]interface{})
		if msg["role"] == "system" {
			systemCount++
			if i != 0 {
				t.Errorf("System message at position %d, expected 0", i)
			}
		}
	}
	if systemCount != 1 {
		t.Errorf("Expected exactly 1 system message, got %d", systemCount)
	}
}

func TestChatFireAndForgetToolEndsLoop(t *testing.T) {
	script := &providerScript{responses: []map[string]interface{}{
		toolCompletion("save_fact", `{"fact": "likes tea"}`),
	}}
	svc, _, memory := newTestChatService(t, script)

	resp, err := svc.Chat(context.Background(), &models.ChatRequest{
		Model:          "openai/gpt-4o",
		PersonaID:      "p1",
		ConversationID: "new",
		Messages:       []models.Message{userTurn("remember I like tea")},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if len(script.requests) != 1 {
		t.Errorf("Fire-and-forget tool should not trigger another provider call, got %d", len(script.requests))
	}
	if len(memory.facts) != 1 || memory.facts[0] != "likes tea" {
		t.Errorf("Expected the fact stored, got %v", memory.facts)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Status != models.ToolStatusExecuted {
		t.Errorf("Expected 1 executed tool record, got %+v", resp.ToolCalls)
	}
	// The model emitted only a tool call; the reply is legitimately empty.
	if resp.Message != "" {
		t.Errorf("Expected empty reply, got %q", resp.Message)
	}
}

func TestChatSearchKnowledgeLoopsBack(t *testing.T) {
	script := &providerScript{responses: []map[string]interface{}{
		toolCompletion("search_knowledge", `{"query": "tomatoes"}`),
		textCompletion("You planned to plant tomatoes in May."),
	}}
	svc, _, _ := newTestChatService(t, script)

	resp, err := svc.Chat(context.Background(), &models.ChatRequest{
		Model:          "openai/gpt-4o",
		PersonaID:      "p1",
		ConversationID: "new",
		Messages:       []models.Message{userTurn("when do I plant tomatoes?")},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if len(script.requests) != 2 {
		t.Fatalf("Expected 2 provider calls (tool + follow-up), got %d", len(script.requests))
	}
	if resp.Message != "You planned to plant tomatoes in May." {
		t.Errorf("Unexpected final reply: %q", resp.Message)
	}
	if len(resp.SearchResults) != 1 {
		t.Errorf("Expected search results surfaced, got %d", len(resp.SearchResults))
	}
	if resp.Usage.TotalTokens != 230 {
		t.Errorf("Expected usage summed across iterations, got %d", resp.Usage.TotalTokens)
	}

	// The follow-up request must carry the tool result back to the model.
	second := script.requests[1]["messages"].([]interface{})
	foundToolTurn := false
	for _, raw := range second {
		msg := raw.(map[string]interface{})
		if msg["role"] == "tool" {
			foundToolTurn = true
		}
	}
	if !foundToolTurn {
		t.Error("Follow-up request missing the tool result turn")
	}
}

func TestChatIterationCap(t *testing.T) {
	// The model keeps asking for searches; the loop must stop at 3 calls.
	script := &providerScript{responses: []map[string]interface{}{
		toolCompletion("search_knowledge", `{"query": "a"}`),
	}}
	svc, _, _ := newTestChatService(t, script)

	_, err := svc.Chat(context.Background(), &models.ChatRequest{
		Model:          "openai/gpt-4o",
		PersonaID:      "p1",
		ConversationID: "new",
		Messages:       []models.Message{userTurn("hi")},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if len(script.requests) != 3 {
		t.Errorf("Expected the loop capped at 3 provider calls, got %d", len(script.requests))
	}
}

func TestChatProviderErrorIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream broke"))
	}))
	defer server.Close()

	dispatcher := NewToolDispatcher(&fakeMemoryStore{}, &fakeNotificationSink{}, &fakeKnowledgeReader{}, &fakeLoopState{})
	svc := NewChatService(
		&fakePersonaSource{}, &fakeConversationStore{}, &fakeKnowledgeReader{},
		dispatcher, NewToolRegistry(nil),
		NewCacheBreakpointTracker(NewMemoryBreakpointStore(), nil),
		nil, server.URL, "key", 40, 3,
	)

	_, err := svc.Chat(context.Background(), &models.ChatRequest{
		Model:    "openai/gpt-4o",
		Messages: []models.Message{userTurn("hi")},
	})
	if err == nil {
		t.Fatal("Expected an error from a failing provider")
	}

	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("Expected a ProviderError, got %T: %v", err, err)
	}
	if provErr.StatusCode != http.StatusBadGateway {
		t.Errorf("Expected status 502, got %d", provErr.StatusCode)
	}
}

func TestChatTaggedFormatFollowUp(t *testing.T) {
	script := &providerScript{responses: []map[string]interface{}{
		textCompletion(`<tool_call>{"name": "search_knowledge", "arguments": {"query": "tomatoes"}}</tool_call>`),
		textCompletion("May is the month."),
	}}
	svc, _, _ := newTestChatService(t, script)
	// Route this model through the tag-format convention.
	svc.registry.SetTagFamilies([]string{"qwen"})

	resp, err := svc.Chat(context.Background(), &models.ChatRequest{
		Model:          "qwen/qwen-2.5",
		PersonaID:      "p1",
		ConversationID: "new",
		Messages:       []models.Message{userTurn("when?")},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if resp.Message != "May is the month." {
		t.Errorf("Unexpected reply: %q", resp.Message)
	}

	// Tagged format has no tools request field and no tool role; the result
	// goes back as a user turn.
	if _, hasTools := script.requests[0]["tools"]; hasTools {
		t.Error("Tagged format must not send the native tools field")
	}
	second := script.requests[1]["messages"].([]interface{})
	last := second[len(second)-1].(map[string]interface{})
	if last["role"] != "user" {
		t.Errorf("Tagged follow-up should be a user turn, got %v", last["role"])
	}
}

func TestTrimHistory(t *testing.T) {
	messages := persistedMessages(50)
	trimmed := trimHistory(messages, 40)
	if len(trimmed) != 40 {
		t.Fatalf("Expected 40 messages, got %d", len(trimmed))
	}
	if trimmed[0].ID != messages[10].ID {
		t.Errorf("Expected the tail kept, first id %d", trimmed[0].ID)
	}
	if got := trimHistory(messages, 100); len(got) != 50 {
		t.Errorf("Short history should pass through, got %d", len(got))
	}
}
