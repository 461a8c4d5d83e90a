package services

import (
	"encoding/json"
	"log"
	"regexp"
	"strings"
)

// ParsedToolCall is the normalized shape for a tool invocation, regardless
// of which wire convention it arrived in.
type ParsedToolCall struct {
	Name string
	Args map[string]interface{}
}

// NativeToolCall mirrors the provider's structured tool_calls entries.
type NativeToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

var (
	toolCallTagPattern = regexp.MustCompile(`(?s)<tool_call>(.*?)</tool_call>`)

	// Salvage extractors for the two tools where pulling a single string
	// field out of malformed JSON is safe.
	factFieldPattern    = regexp.MustCompile(`"fact"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	messageFieldPattern = regexp.MustCompile(`"message"\s*:\s*"((?:[^"\\]|\\.)*)"`)
)

// ParseNativeToolCalls normalizes structured tool_calls from the provider.
// A call whose arguments fail to parse is salvaged where safe, otherwise
// skipped; it never fails the request.
func ParseNativeToolCalls(calls []NativeToolCall) []ParsedToolCall {
	var parsed []ParsedToolCall
	for _, call := range calls {
		args, ok := parseToolArguments(call.Function.Name, call.Function.Arguments)
		if !ok {
			log.Printf("⚠️  [TOOL-PARSE] Dropping tool call %s: unparseable arguments", call.Function.Name)
			continue
		}
		parsed = append(parsed, ParsedToolCall{Name: call.Function.Name, Args: args})
	}
	return parsed
}

// ParseTaggedContent scans free text for <tool_call> blocks and returns the
// normalized calls plus the prose that should be shown to the user (text
// before the first block). Text after the last closing tag is logged and
// discarded: when a tool call is present the model was told to stop, so
// trailing chatter is never surfaced as the assistant's reply.
func ParseTaggedContent(content string) (calls []ParsedToolCall, prose string) {
	matches := toolCallTagPattern.FindAllStringSubmatchIndex(content, -1)
	if len(matches) == 0 {
		return nil, content
	}

	prose = strings.TrimSpace(content[:matches[0][0]])

	for _, m := range matches {
		inner := content[m[2]:m[3]]

		var envelope struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal([]byte(inner), &envelope); err != nil || envelope.Name == "" {
			log.Printf("⚠️  [TOOL-PARSE] Dropping malformed <tool_call> block: %v", err)
			continue
		}

		args, ok := parseToolArguments(envelope.Name, string(envelope.Arguments))
		if !ok {
			log.Printf("⚠️  [TOOL-PARSE] Dropping tool call %s: unparseable arguments", envelope.Name)
			continue
		}
		calls = append(calls, ParsedToolCall{Name: envelope.Name, Args: args})
	}

	trailing := strings.TrimSpace(content[matches[len(matches)-1][1]:])
	if trailing != "" {
		log.Printf("💬 [TOOL-PARSE] Model kept talking after tool call (%d chars), discarding", len(trailing))
	}

	return calls, prose
}

// parseToolArguments decodes a JSON arguments payload. On failure it falls
// back to regex salvage for the tools that declare one, and reports false
// when nothing usable can be recovered.
func parseToolArguments(toolName, argsJSON string) (map[string]interface{}, bool) {
	trimmed := strings.TrimSpace(argsJSON)
	if trimmed == "" || trimmed == "null" {
		return map[string]interface{}{}, true
	}

	var args map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &args); err == nil {
		return args, true
	}

	if salvaged, ok := salvageToolArguments(toolName, trimmed); ok {
		log.Printf("🔧 [TOOL-PARSE] Salvaged arguments for %s via regex fallback", toolName)
		return salvaged, true
	}
	return nil, false
}

// salvageToolArguments extracts the single required string field from
// malformed JSON. Only save_fact and send_notification declare a fallback
// decoder; for every other tool salvage is unsafe and the call is skipped.
func salvageToolArguments(toolName, raw string) (map[string]interface{}, bool) {
	switch toolName {
	case ToolSaveFact:
		if m := factFieldPattern.FindStringSubmatch(raw); m != nil {
			if text, ok := unescapeJSONString(m[1]); ok {
				return map[string]interface{}{"fact": text}, true
			}
		}
	case ToolSendNotification:
		if m := messageFieldPattern.FindStringSubmatch(raw); m != nil {
			if text, ok := unescapeJSONString(m[1]); ok {
				return map[string]interface{}{"message": text}, true
			}
		}
	}
	return nil, false
}

// unescapeJSONString decodes the inner text of a captured JSON string.
func unescapeJSONString(escaped string) (string, bool) {
	var out string
	if err := json.Unmarshal([]byte(`"`+escaped+`"`), &out); err != nil {
		return "", false
	}
	return out, true
}
