package services

import (
	"testing"
)

func TestParseTaggedContent(t *testing.T) {
	tests := []struct {
		name          string
		content       string
		expectedCalls int
		expectedName  string
		expectedProse string
	}{
		{
			name:          "No tool calls returns content as prose",
			content:       "Just a normal reply with no tools.",
			expectedCalls: 0,
			expectedProse: "Just a normal reply with no tools.",
		},
		{
			name:          "Single well-formed call",
			content:       `<tool_call>{"name": "save_fact", "arguments": {"fact": "likes tea"}}</tool_call>`,
			expectedCalls: 1,
			expectedName:  "save_fact",
			expectedProse: "",
		},
		{
			name:          "Prose before the call is kept",
			content:       "Let me remember that.\n<tool_call>{\"name\": \"save_fact\", \"arguments\": {\"fact\": \"likes tea\"}}</tool_call>",
			expectedCalls: 1,
			expectedName:  "save_fact",
			expectedProse: "Let me remember that.",
		},
		{
			name:          "Trailing chatter after the call is discarded",
			content:       `<tool_call>{"name": "get_loop_state", "arguments": {}}</tool_call> And here is me guessing the result...`,
			expectedCalls: 1,
			expectedName:  "get_loop_state",
			expectedProse: "",
		},
		{
			name:          "Malformed JSON block is dropped",
			content:       `<tool_call>{not json at all</tool_call>`,
			expectedCalls: 0,
			expectedProse: "",
		},
		{
			name: "Multiple calls in one response",
			content: `<tool_call>{"name": "save_fact", "arguments": {"fact": "a"}}</tool_call>` +
				`<tool_call>{"name": "save_fact", "arguments": {"fact": "b"}}</tool_call>`,
			expectedCalls: 2,
			expectedName:  "save_fact",
			expectedProse: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls, prose := ParseTaggedContent(tt.content)
			if len(calls) != tt.expectedCalls {
				t.Fatalf("Expected %d calls, got %d", tt.expectedCalls, len(calls))
			}
			if prose != tt.expectedProse {
				t.Errorf("Expected prose %q, got %q", tt.expectedProse, prose)
			}
			if tt.expectedCalls > 0 && calls[0].Name != tt.expectedName {
				t.Errorf("Expected tool %q, got %q", tt.expectedName, calls[0].Name)
			}
		})
	}
}

func TestParseTaggedContentArguments(t *testing.T) {
	content := `<tool_call>{"name": "search_knowledge", "arguments": {"query": "vacation plans", "max_results": 3}}</tool_call>`

	calls, _ := ParseTaggedContent(content)
	if len(calls) != 1 {
		t.Fatalf("Expected 1 call, got %d", len(calls))
	}

	if calls[0].Args["query"] != "vacation plans" {
		t.Errorf("Expected query argument, got %v", calls[0].Args["query"])
	}
	if n, ok := calls[0].Args["max_results"].(float64); !ok || n != 3 {
		t.Errorf("Expected max_results=3, got %v", calls[0].Args["max_results"])
	}
}

func TestParseNativeToolCalls(t *testing.T) {
	call := NativeToolCall{ID: "call_1", Type: "function"}
	call.Function.Name = "send_notification"
	call.Function.Arguments = `{"message": "dinner at 7", "urgency": "high"}`

	broken := NativeToolCall{ID: "call_2", Type: "function"}
	broken.Function.Name = "search_knowledge"
	broken.Function.Arguments = `{"query": broken`

	parsed := ParseNativeToolCalls([]NativeToolCall{call, broken})
	if len(parsed) != 1 {
		t.Fatalf("Expected 1 parsed call (broken one dropped), got %d", len(parsed))
	}
	if parsed[0].Name != "send_notification" {
		t.Errorf("Expected send_notification, got %s", parsed[0].Name)
	}
	if parsed[0].Args["message"] != "dinner at 7" {
		t.Errorf("Expected message argument, got %v", parsed[0].Args["message"])
	}
}

func TestParseNativeToolCallsEmptyArguments(t *testing.T) {
	call := NativeToolCall{ID: "call_1", Type: "function"}
	call.Function.Name = "list_knowledge_files"
	call.Function.Arguments = ""

	parsed := ParseNativeToolCalls([]NativeToolCall{call})
	if len(parsed) != 1 {
		t.Fatalf("Expected 1 parsed call, got %d", len(parsed))
	}
	if len(parsed[0].Args) != 0 {
		t.Errorf("Expected empty args map, got %v", parsed[0].Args)
	}
}

func TestSalvageToolArguments(t *testing.T) {
	tests := []struct {
		name     string
		toolName string
		raw      string
		wantOK   bool
		wantKey  string
		wantVal  string
	}{
		{
			name:     "save_fact salvaged from malformed JSON",
			toolName: ToolSaveFact,
			raw:      `{"fact": "moved to Berlin", trailing garbage`,
			wantOK:   true,
			wantKey:  "fact",
			wantVal:  "moved to Berlin",
		},
		{
			name:     "send_notification salvaged",
			toolName: ToolSendNotification,
			raw:      `{"message": "call mom", "urgency": oops}`,
			wantOK:   true,
			wantKey:  "message",
			wantVal:  "call mom",
		},
		{
			name:     "escaped quotes survive salvage",
			toolName: ToolSaveFact,
			raw:      `{"fact": "calls the cat \"Biscuit\"", broken`,
			wantOK:   true,
			wantKey:  "fact",
			wantVal:  `calls the cat "Biscuit"`,
		},
		{
			name:     "other tools are never salvaged",
			toolName: ToolSearchKnowledge,
			raw:      `{"query": "something", broken`,
			wantOK:   false,
		},
		{
			name:     "no matching field fails",
			toolName: ToolSaveFact,
			raw:      `{"wrong": "field"`,
			wantOK:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, ok := salvageToolArguments(tt.toolName, tt.raw)
			if ok != tt.wantOK {
				t.Fatalf("Expected ok=%v, got %v", tt.wantOK, ok)
			}
			if tt.wantOK && args[tt.wantKey] != tt.wantVal {
				t.Errorf("Expected %s=%q, got %v", tt.wantKey, tt.wantVal, args[tt.wantKey])
			}
		})
	}
}
