package services

import "encoding/json"

// EstimateTokens returns an approximate token count using the ~4 chars/token heuristic.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

// EstimateMessagesTokens estimates the total token count for a set of chat messages.
// Accounts for role overhead (~4 tokens per message for role, separators).
func EstimateMessagesTokens(messages []map[string]interface{}) int {
	total := 0
	for _, msg := range messages {
		total += 4 // role + separators overhead per message
		if c, ok := msg["content"].(string); ok {
			total += EstimateTokens(c)
		}
		// tool_calls JSON adds tokens too
		if tc, ok := msg["tool_calls"]; ok {
			tcJSON, _ := json.Marshal(tc)
			total += EstimateTokens(string(tcJSON))
		}
	}
	return total
}

// EstimateToolDefTokens estimates the token overhead from tool definitions.
func EstimateToolDefTokens(tools []map[string]interface{}) int {
	if len(tools) == 0 {
		return 0
	}
	toolsJSON, _ := json.Marshal(tools)
	return EstimateTokens(string(toolsJSON))
}
