package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"companion/internal/logging"
	"companion/internal/models"
)

// ConversationID sentinel for a conversation that has not been persisted yet.
const NewConversationSentinel = "new"

// PersonaSource loads personas for chat requests.
type PersonaSource interface {
	Get(ctx context.Context, personaID string) (*models.Persona, error)
}

// ConversationStore persists conversations and assigns message ids.
type ConversationStore interface {
	Get(ctx context.Context, conversationID string) (*models.Conversation, error)
	Create(ctx context.Context, personaID string, messages []models.Message) (*models.Conversation, error)
	AppendMessages(ctx context.Context, conversationID string, messages []models.Message) ([]models.Message, error)
}

// KnowledgeReader extends the dispatcher's KnowledgeSource with id lookup
// for attached files.
type KnowledgeReader interface {
	KnowledgeSource
	GetMany(ctx context.Context, ids []string) ([]models.KnowledgeFile, error)
}

// ChatService runs the chat orchestration loop: context assembly, provider
// calls, tool dispatch, conversation persistence.
type ChatService struct {
	personas      PersonaSource
	conversations ConversationStore
	knowledge     KnowledgeReader
	dispatcher    *ToolDispatcher
	registry      *ToolRegistry
	tracker       *CacheBreakpointTracker
	limiter       *CompletionRateLimiter

	httpClient *http.Client

	mu        sync.RWMutex
	baseURL   string
	apiKey    string
	maxTokens int

	maxHistoryMessages int
	maxToolIterations  int
}

// NewChatService creates the orchestration service.
func NewChatService(
	personas PersonaSource,
	conversations ConversationStore,
	knowledge KnowledgeReader,
	dispatcher *ToolDispatcher,
	registry *ToolRegistry,
	tracker *CacheBreakpointTracker,
	limiter *CompletionRateLimiter,
	baseURL, apiKey string,
	maxHistoryMessages, maxToolIterations int,
) *ChatService {
	if maxToolIterations <= 0 {
		maxToolIterations = 3
	}
	if maxHistoryMessages <= 0 {
		maxHistoryMessages = 40
	}
	return &ChatService{
		personas:           personas,
		conversations:      conversations,
		knowledge:          knowledge,
		dispatcher:         dispatcher,
		registry:           registry,
		tracker:            tracker,
		limiter:            limiter,
		httpClient:         &http.Client{Timeout: 180 * time.Second},
		baseURL:            baseURL,
		apiKey:             apiKey,
		maxTokens:          4096,
		maxHistoryMessages: maxHistoryMessages,
		maxToolIterations:  maxToolIterations,
	}
}

// ApplyProviderConfig swaps in a freshly loaded providers.json: endpoint
// settings plus the model-family tables on the registry and tracker.
func (s *ChatService) ApplyProviderConfig(cfg *models.ProviderConfig) {
	s.mu.Lock()
	if cfg.BaseURL != "" {
		s.baseURL = cfg.BaseURL
	}
	if cfg.APIKey != "" {
		s.apiKey = cfg.APIKey
	}
	if cfg.MaxTokens > 0 {
		s.maxTokens = cfg.MaxTokens
	}
	s.mu.Unlock()

	s.registry.SetTagFamilies(cfg.TagFormatFamilies)
	s.tracker.SetHighMinimumFamilies(cfg.HighCacheMinimumFamilies)
	log.Printf("🔄 [CHAT] Provider config applied (%d tag families, %d high-minimum families)",
		len(cfg.TagFormatFamilies), len(cfg.HighCacheMinimumFamilies))
}

// Chat runs one chat request end to end. Tool failures degrade silently; a
// provider failure is the one error returned to the caller.
func (s *ChatService) Chat(ctx context.Context, req *models.ChatRequest) (*models.ChatResponse, error) {
	start := time.Now()
	if m := GetMetrics(); m != nil {
		m.ChatRequests.Inc()
		defer func() {
			m.ChatRequestLatency.Observe(time.Since(start).Seconds())
		}()
	}

	reqLog := logging.WithChat(req.ConversationID, req.PersonaID, req.Model)
	history := trimHistory(req.Messages, s.maxHistoryMessages)
	reqLog.Debug("chat request started", "messages", len(history))

	// Load persona and memory. A broken persona reference degrades to a
	// personaless chat rather than failing the request.
	var persona *models.Persona
	var memory models.Memory
	if req.PersonaID != "" {
		p, err := s.personas.Get(ctx, req.PersonaID)
		if err != nil {
			log.Printf("⚠️  [CHAT] Persona %s unavailable, continuing without: %v", req.PersonaID, err)
		} else {
			persona = p
			memory = p.Memory
		}
	}

	catalog, err := s.knowledge.List(ctx)
	if err != nil {
		log.Printf("⚠️  [CHAT] Knowledge catalog unavailable: %v", err)
	}

	attached, err := s.knowledge.GetMany(ctx, attachedKnowledgeIDs(persona, req.KnowledgeBaseIDs))
	if err != nil {
		log.Printf("⚠️  [CHAT] Attached knowledge unavailable: %v", err)
	}

	bp, _ := s.tracker.Resolve(req.ConversationID, history, memory.MaxFactID(), memory.MaxSummaryID())

	systemPrompt := ""
	if persona != nil {
		systemPrompt = persona.SystemPrompt
	}
	assembled := BuildSystemContext(systemPrompt, memory, catalog, attached, bp)

	format := s.registry.FormatFor(req.Model)
	systemText := assembled.SystemPrompt
	if format == ToolFormatTagged {
		if systemText != "" {
			systemText += blockSeparator
		}
		systemText += s.registry.TaggedToolsBlock()
	}

	var nativeTools []map[string]interface{}
	if format == ToolFormatNative {
		nativeTools = s.registry.NativeTools()
	}

	wire := s.buildWireMessages(systemText, history, bp, req.Model, nativeTools)

	response := &models.ChatResponse{ToolCalls: []models.ExecutedToolCall{}}
	state := NewDispatchState()
	finalText := ""

	iterations := 0
	for iterations < s.maxToolIterations {
		iterations++

		provResp, err := s.callProvider(ctx, req.Model, wire, nativeTools)
		if err != nil {
			if m := GetMetrics(); m != nil {
				m.ChatErrors.WithLabelValues("provider").Inc()
			}
			return nil, err
		}
		response.Usage.Add(provResp.Usage)

		var calls []ParsedToolCall
		prose := provResp.Content
		if format == ToolFormatNative {
			calls = ParseNativeToolCalls(provResp.ToolCalls)
		} else {
			calls, prose = ParseTaggedContent(provResp.Content)
		}

		if len(calls) == 0 {
			finalText = prose
			break
		}

		log.Printf("🔧 [CHAT] Iteration %d/%d: %d tool call(s)", iterations, s.maxToolIterations, len(calls))

		var followUps []string
		for _, call := range calls {
			logging.WithTool(reqLog, call.Name, iterations).Debug("dispatching tool")
			result := s.dispatcher.Execute(ctx, req.PersonaID, req.ConversationID, call, state)
			response.ToolCalls = append(response.ToolCalls, result.Record)
			response.SearchResults = append(response.SearchResults, result.SearchResults...)
			if result.RequiresFollowUp {
				followUps = append(followUps, result.FollowUp)
			}
		}

		// Fire-and-forget turn: side effects are applied and the loop ends
		// with whatever prose accompanied the tool calls, which may be
		// nothing at all.
		if len(followUps) == 0 {
			finalText = prose
			break
		}

		// search_knowledge needs its output back in front of the model.
		wire = appendFollowUpTurn(wire, format, provResp, followUps)
		finalText = prose
	}

	if m := GetMetrics(); m != nil {
		m.LoopIterations.Observe(float64(iterations))
	}

	s.persistTranscript(ctx, req, history, finalText)

	reqLog.Info("chat request finished",
		"iterations", iterations,
		"tool_calls", len(response.ToolCalls),
		"total_tokens", response.Usage.TotalTokens,
	)

	response.Message = finalText
	return response, nil
}

// buildWireMessages renders the system block plus history for the provider,
// stamping the current time onto the last user message and marking the cache
// anchor when the prompt clears the model's minimum cacheable size.
func (s *ChatService) buildWireMessages(systemText string, history []models.Message, bp *Breakpoint, modelID string, tools []map[string]interface{}) []map[string]interface{} {
	wire := make([]map[string]interface{}, 0, len(history)+1)
	if systemText != "" {
		wire = append(wire, map[string]interface{}{"role": "system", "content": systemText})
	}

	lastUserIdx := -1
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "user" {
			lastUserIdx = i
			break
		}
	}

	now := time.Now().Format(time.RFC1123)
	anchorIdx := -1
	for i, m := range history {
		content := m.Content
		if i == lastUserIdx {
			content = AppendTimestamp(content, now)
		}
		if bp != nil && m.ID == bp.AnchorMessageID {
			anchorIdx = len(wire)
		}
		wire = append(wire, map[string]interface{}{"role": m.Role, "content": content})
	}

	if anchorIdx >= 0 {
		total := EstimateMessagesTokens(wire) + EstimateToolDefTokens(tools)
		if s.tracker.ShouldAnnotate(modelID, total) {
			// Provider-side prompt caching: everything up to and including
			// the anchor message is the stable, reusable prefix.
			msg := wire[anchorIdx]
			msg["content"] = []map[string]interface{}{
				{
					"type":          "text",
					"text":          msg["content"],
					"cache_control": map[string]interface{}{"type": "ephemeral"},
				},
			}
		}
	}
	return wire
}

// providerResponse is the decoded completion result for one call.
type providerResponse struct {
	Content   string
	ToolCalls []NativeToolCall
	Usage     models.Usage
}

// callProvider POSTs a completion request. Any transport or non-2xx failure
// comes back as a ProviderError, the one fatal error class of the loop.
func (s *ChatService) callProvider(ctx context.Context, model string, messages []map[string]interface{}, tools []map[string]interface{}) (*providerResponse, error) {
	s.mu.RLock()
	baseURL, apiKey, maxTokens := s.baseURL, s.apiKey, s.maxTokens
	s.mu.RUnlock()

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, model); err != nil {
			return nil, &ProviderError{Err: err}
		}
	}

	reqBody := map[string]interface{}{
		"model":      model,
		"max_tokens": maxTokens,
		"messages":   messages,
		"stream":     false,
	}
	if len(tools) > 0 {
		reqBody["tools"] = tools
	}

	reqJSON, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &ProviderError{Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", baseURL+"/chat/completions", bytes.NewBuffer(reqJSON))
	if err != nil {
		return nil, &ProviderError{Err: fmt.Errorf("failed to create request: %w", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &ProviderError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var apiResult struct {
		Choices []struct {
			Message struct {
				Content   string           `json:"content"`
				ToolCalls []NativeToolCall `json:"tool_calls"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage models.Usage `json:"usage"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&apiResult); err != nil {
		return nil, &ProviderError{Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if len(apiResult.Choices) == 0 {
		return nil, &ProviderError{Err: fmt.Errorf("no choices in response")}
	}

	choice := apiResult.Choices[0]
	return &providerResponse{
		Content:   choice.Message.Content,
		ToolCalls: choice.Message.ToolCalls,
		Usage:     apiResult.Usage,
	}, nil
}

// appendFollowUpTurn extends the transcript with the assistant turn and its
// tool output so the next iteration sees the search results.
func appendFollowUpTurn(wire []map[string]interface{}, format ToolFormat, provResp *providerResponse, followUps []string) []map[string]interface{} {
	if format == ToolFormatNative {
		toolCallMsgs := make([]map[string]interface{}, 0, len(provResp.ToolCalls))
		for _, tc := range provResp.ToolCalls {
			toolCallMsgs = append(toolCallMsgs, map[string]interface{}{
				"id":   tc.ID,
				"type": tc.Type,
				"function": map[string]interface{}{
					"name":      tc.Function.Name,
					"arguments": tc.Function.Arguments,
				},
			})
		}

		assistantMsg := map[string]interface{}{
			"role":       "assistant",
			"tool_calls": toolCallMsgs,
		}
		if provResp.Content != "" {
			assistantMsg["content"] = provResp.Content
		}
		wire = append(wire, assistantMsg)

		followUpIdx := 0
		for _, tc := range provResp.ToolCalls {
			content := "done"
			if tc.Function.Name == ToolSearchKnowledge && followUpIdx < len(followUps) {
				content = followUps[followUpIdx]
				followUpIdx++
			}
			wire = append(wire, map[string]interface{}{
				"role":         "tool",
				"tool_call_id": tc.ID,
				"name":         tc.Function.Name,
				"content":      content,
			})
		}
		return wire
	}

	// Tagged format has no tool role; the result goes back as a user turn.
	wire = append(wire, map[string]interface{}{"role": "assistant", "content": provResp.Content})
	wire = append(wire, map[string]interface{}{
		"role":    "user",
		"content": "Tool results:\n\n" + strings.Join(followUps, "\n\n"),
	})
	return wire
}

// persistTranscript auto-saves the new turns. Store failures are logged,
// never returned to the caller.
func (s *ChatService) persistTranscript(ctx context.Context, req *models.ChatRequest, history []models.Message, finalText string) {
	if s.conversations == nil {
		return
	}

	assistantMsg := models.Message{
		Role:      "assistant",
		Content:   finalText,
		Timestamp: time.Now(),
		Model:     req.Model,
	}

	if req.ConversationID == "" || req.ConversationID == NewConversationSentinel {
		all := append(append([]models.Message{}, history...), assistantMsg)
		if _, err := s.conversations.Create(ctx, req.PersonaID, all); err != nil {
			log.Printf("⚠️  [CHAT] Failed to auto-save new conversation: %v", err)
		}
		return
	}

	// Only turns without persistent ids are new.
	var fresh []models.Message
	for _, m := range history {
		if m.ID == 0 {
			fresh = append(fresh, m)
		}
	}
	fresh = append(fresh, assistantMsg)

	if _, err := s.conversations.AppendMessages(ctx, req.ConversationID, fresh); err != nil {
		log.Printf("⚠️  [CHAT] Failed to append to conversation %s: %v", req.ConversationID, err)
	}
}

// trimHistory keeps the trailing tail of the history to bound token cost.
// Independent of the cache tail.
func trimHistory(messages []models.Message, max int) []models.Message {
	if len(messages) <= max {
		return messages
	}
	return messages[len(messages)-max:]
}

func attachedKnowledgeIDs(persona *models.Persona, requested []string) []string {
	seen := make(map[string]bool)
	var ids []string
	if persona != nil {
		for _, id := range persona.KnowledgeIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	for _, id := range requested {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}
