package models

// ProviderConfig holds the completion endpoint settings plus the model-family
// tables that drive tool-format selection and cache annotation thresholds.
// Loaded from providers.json and hot-reloaded on change, so adding a model
// family is a data change, not a code change.
type ProviderConfig struct {
	BaseURL   string `json:"base_url"`
	APIKey    string `json:"api_key,omitempty"` // Usually injected from env instead
	MaxTokens int    `json:"max_tokens,omitempty"`

	// Model-id substrings that select the tag-format tool convention
	// (tools described in the system prompt, calls as <tool_call> blocks).
	TagFormatFamilies []string `json:"tag_format_families"`

	// Model-id substrings requiring the higher minimum-token threshold
	// before a cache breakpoint annotation is worth sending.
	HighCacheMinimumFamilies []string `json:"high_cache_minimum_families"`
}
