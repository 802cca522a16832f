package llm

// CompletionRequest is a provider-agnostic completion request.
type CompletionRequest struct {
	// System is the system prompt. Providers without a dedicated system
	// field send it as the first message.
	System string

	// Messages are the conversation messages after the system prompt.
	Messages []Message

	// JSON asks the provider to constrain the answer to a JSON object.
	JSON bool

	// Temperature overrides the provider default when non-nil.
	Temperature *float64

	// MaxTokens bounds the answer length. Zero uses the provider default.
	MaxTokens int
}
