package models

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Model            string    `json:"model"`
	Messages         []Message `json:"messages"`
	KnowledgeBaseIDs []string  `json:"knowledgeBaseIds,omitempty"`
	PersonaID        string    `json:"personaId,omitempty"`
	ConversationID   string    `json:"conversationId,omitempty"` // "new" sentinel for not-yet-persisted
}

// ChatResponse is the body returned by POST /api/chat.
type ChatResponse struct {
	Message       string                  `json:"message"`
	Usage         Usage                   `json:"usage"`
	ToolCalls     []ExecutedToolCall      `json:"toolCalls"`
	SearchResults []KnowledgeSearchResult `json:"searchResults,omitempty"`
}

// Usage aggregates provider token accounting across loop iterations.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates usage from a single provider call.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// ExecutedToolCall records one tool execution for UI display.
type ExecutedToolCall struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "executed", "skipped_duplicate", "failed"
	Detail string `json:"detail,omitempty"`
}

// Tool execution statuses.
const (
	ToolStatusExecuted         = "executed"
	ToolStatusSkippedDuplicate = "skipped_duplicate"
	ToolStatusFailed           = "failed"
)
