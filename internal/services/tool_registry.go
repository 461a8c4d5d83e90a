package services

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// ToolFormat selects the wire convention for tool calling.
type ToolFormat string

const (
	// ToolFormatNative passes tools as a structured API field; the provider
	// returns structured tool_calls objects.
	ToolFormatNative ToolFormat = "native"
	// ToolFormatTagged describes tools inside the system prompt and expects
	// invocations as embedded <tool_call> JSON blocks. Used for model
	// families without structured tool-call support.
	ToolFormatTagged ToolFormat = "tagged"
)

// Tool names.
const (
	ToolSaveFact             = "save_fact"
	ToolSaveSummary          = "save_summary"
	ToolSendNotification     = "send_notification"
	ToolLoadKnowledgeByTitle = "load_knowledge_by_title"
	ToolListKnowledgeFiles   = "list_knowledge_files"
	ToolSearchKnowledge      = "search_knowledge"
	ToolGetLoopState         = "get_loop_state"
)

// ToolSpec declares one callable tool: its name, description and JSON schema
// parameters. The same spec renders into both wire formats.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// toolSpecs is the fixed tool set offered to every persona chat.
var toolSpecs = []ToolSpec{
	{
		Name:        ToolSaveFact,
		Description: "Save a persistent fact about the user to long-term memory. Use for stable information worth remembering across conversations.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"fact": map[string]interface{}{
					"type":        "string",
					"description": "The fact to remember, stated in one sentence",
				},
			},
			"required": []string{"fact"},
		},
	},
	{
		Name:        ToolSaveSummary,
		Description: "Save a short summary of the current conversation to rolling memory.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"summary": map[string]interface{}{
					"type":        "string",
					"description": "A concise summary of the conversation so far",
				},
			},
			"required": []string{"summary"},
		},
	},
	{
		Name:        ToolSendNotification,
		Description: "Send a notification to the user outside the chat window.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"message": map[string]interface{}{
					"type":        "string",
					"description": "The notification text",
				},
				"urgency": map[string]interface{}{
					"type": "string",
					"enum": []string{"low", "medium", "high"},
				},
			},
			"required": []string{"message"},
		},
	},
	{
		Name:        ToolLoadKnowledgeByTitle,
		Description: "Load knowledge files into context by their exact titles (case-insensitive).",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"titles": map[string]interface{}{
					"type":  "array",
					"items": map[string]interface{}{"type": "string"},
				},
			},
			"required": []string{"titles"},
		},
	},
	{
		Name:        ToolListKnowledgeFiles,
		Description: "List the titles and sizes of all available knowledge files.",
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
	},
	{
		Name:        ToolSearchKnowledge,
		Description: "Search knowledge files for lines matching a query. Returns matching snippets with surrounding context.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Substring to search for",
				},
				"files": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Optional file ids to restrict the search to",
				},
				"maxResults": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum matches to return (default 5, max 10)",
				},
			},
			"required": []string{"query"},
		},
	},
	{
		Name:        ToolGetLoopState,
		Description: "Read the current state of the autonomous loop and user presence.",
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
	},
}

// ToolRegistry renders the tool set in both wire formats and selects the
// format per model id.
type ToolRegistry struct {
	mu sync.RWMutex
	// Model-id substrings selecting tag format. New families are added to
	// providers.json, not to code.
	tagFamilies []string
}

// NewToolRegistry creates a registry with the given tag-format family markers.
func NewToolRegistry(tagFamilies []string) *ToolRegistry {
	return &ToolRegistry{tagFamilies: tagFamilies}
}

// SetTagFamilies replaces the tag-format family table (providers.json reload).
func (r *ToolRegistry) SetTagFamilies(families []string) {
	r.mu.Lock()
	r.tagFamilies = families
	r.mu.Unlock()
}

// FormatFor returns the tool-calling convention for a model identifier.
func (r *ToolRegistry) FormatFor(modelID string) ToolFormat {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lower := strings.ToLower(modelID)
	for _, family := range r.tagFamilies {
		if family != "" && strings.Contains(lower, strings.ToLower(family)) {
			return ToolFormatTagged
		}
	}
	return ToolFormatNative
}

// NativeTools renders the tool set as the structured "tools" request field.
func (r *ToolRegistry) NativeTools() []map[string]interface{} {
	tools := make([]map[string]interface{}, len(toolSpecs))
	for i, spec := range toolSpecs {
		tools[i] = map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        spec.Name,
				"description": spec.Description,
				"parameters":  spec.Parameters,
			},
		}
	}
	return tools
}

// TaggedToolsBlock renders the tool set as a <tools> block for embedding in
// the system prompt, with the invocation convention spelled out.
func (r *ToolRegistry) TaggedToolsBlock() string {
	schemas := make([]map[string]interface{}, len(toolSpecs))
	for i, spec := range toolSpecs {
		schemas[i] = map[string]interface{}{
			"name":        spec.Name,
			"description": spec.Description,
			"parameters":  spec.Parameters,
		}
	}
	schemasJSON, _ := json.MarshalIndent(schemas, "", "  ")

	var sb strings.Builder
	sb.WriteString("You have access to the following tools:\n\n<tools>\n")
	sb.Write(schemasJSON)
	sb.WriteString("\n</tools>\n\n")
	sb.WriteString("To call a tool, emit exactly one block of the form:\n")
	sb.WriteString(`<tool_call>{"name": "tool_name", "arguments": {"arg": "value"}}</tool_call>`)
	sb.WriteString("\nStop generating immediately after the closing </tool_call> tag.")
	return sb.String()
}

// KnownTool reports whether name is a declared tool.
func (r *ToolRegistry) KnownTool(name string) bool {
	for _, spec := range toolSpecs {
		if spec.Name == name {
			return true
		}
	}
	return false
}

// ValidateToolName returns an error naming the unknown tool, for logging.
func (r *ToolRegistry) ValidateToolName(name string) error {
	if !r.KnownTool(name) {
		return fmt.Errorf("unknown tool: %s", name)
	}
	return nil
}
