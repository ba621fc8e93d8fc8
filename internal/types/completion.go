package types

// ChatMessage is one turn of an OpenAI-style chat conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// CompletionOptions are the per-request generation knobs.
type CompletionOptions struct {
	Model       string
	Temperature *float64
}

// TokenUsage mirrors the provider's usage summary.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResult is the aggregated outcome of a non-streaming completion.
type CompletionResult struct {
	Content string
	Model   string
	Usage   *TokenUsage
}

// CompletionDelta is the tagged decode of one upstream streaming frame:
// at most one of Content / terminal signal (FinishReason, Usage) per delta.
// Frames that decode to a zero CompletionDelta are heartbeats.
type CompletionDelta struct {
	Content      string
	FinishReason string
	Usage        *TokenUsage
	Model        string
}

// Terminal reports whether the delta carries an end-of-stream signal.
func (d CompletionDelta) Terminal() bool {
	return d.FinishReason != "" || d.Usage != nil
}
