// Package llm provides clients for text-generation backends.
package llm

import "context"

// GenerateOptions configures a single generation request. Zero values fall
// back to the client's defaults.
type GenerateOptions struct {
	Model        string  // overrides the client's default model
	SystemPrompt string  // system-level instructions
	Temperature  float32 // 0 = deterministic
	MaxTokens    int     // 0 = no limit
}

// StreamChunk is one fragment of a streamed response. Error is set at most
// once, on the final chunk.
type StreamChunk struct {
	Token string
	Done  bool
	Error error
}

// LLM is a text-generation backend.
type LLM interface {
	// Generate blocks until the full response is available.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)

	// GenerateStream returns a channel of response fragments. The channel is
	// closed when generation completes or fails; callers check Done and Error
	// on each chunk.
	GenerateStream(ctx context.Context, prompt string, opts GenerateOptions) (<-chan StreamChunk, error)

	// ModelName identifies the default model.
	ModelName() string
}
