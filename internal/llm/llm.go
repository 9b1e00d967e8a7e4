// Package llm defines the streaming LLM client the synthesis stage talks
// to: prompt in, streamed tokens plus a final token count out.
package llm

import "context"

// GenerateOptions configures a generation request.
type GenerateOptions struct {
	// Model names the model to use (e.g. "llama3.2"). Empty uses the
	// client's configured default.
	Model string

	// SystemPrompt sets the system-level instructions for the model.
	SystemPrompt string

	// Temperature controls randomness (0.0 = deterministic).
	Temperature float32

	// MaxTokens caps the response length. Zero means no limit.
	MaxTokens int
}

// StreamChunk is a single item of a generation stream.
type StreamChunk struct {
	// Token is the generated text fragment.
	Token string

	// Done marks the final chunk of the stream.
	Done bool

	// TokenCount is the total number of completion tokens generated,
	// reported on the Done chunk only (zero before then, and zero if the
	// backend doesn't report it).
	TokenCount int

	// Error carries a mid-stream failure. A chunk with Error set is the
	// last one delivered.
	Error error
}

// LLM is the language-model client interface.
type LLM interface {
	// Generate blocks until the full response is available.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)

	// GenerateStream returns a channel of response chunks. The channel is
	// closed when generation completes or fails; callers check
	// StreamChunk.Done and StreamChunk.Error to distinguish the two.
	GenerateStream(ctx context.Context, prompt string, opts GenerateOptions) (<-chan StreamChunk, error)
}
