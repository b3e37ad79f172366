package domain

// AllowedRoles is the set of message roles accepted on the wire.
var AllowedRoles = map[string]bool{
	"system":    true,
	"user":      true,
	"assistant": true,
	"tool":      true,
}

// Message represents a chat message. Content is opaque to the gateway and must
// never be retained beyond the processing lifetime of its request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RequestMetadata carries the client-side scrubbing attestation.
type RequestMetadata struct {
	Scrubbed        bool   `json:"scrubbed"`
	Scrubber        string `json:"scrubber,omitempty"`
	ScrubberVersion string `json:"scrubber_version,omitempty"`
}

// ChatCompletionsRequest is the inbound request body for /v1/chat/completions.
// ZDROnly is a pointer so an absent field can default to true (fail closed).
type ChatCompletionsRequest struct {
	Messages []Message       `json:"messages"`
	Model    string          `json:"model,omitempty"`
	ZDROnly  *bool           `json:"zdr_only,omitempty"`
	Metadata RequestMetadata `json:"metadata"`
}

// ZDR reports the effective zdr_only value; absent means true.
func (r *ChatCompletionsRequest) ZDR() bool {
	if r.ZDROnly == nil {
		return true
	}
	return *r.ZDROnly
}

// TotalChars returns the sum of message content lengths.
func (r *ChatCompletionsRequest) TotalChars() int {
	total := 0
	for _, m := range r.Messages {
		total += len(m.Content)
	}
	return total
}

// Usage represents token usage.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Choice represents a single completion choice.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// ChatCompletionsResponse is the outbound response body for /v1/chat/completions.
type ChatCompletionsResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}
