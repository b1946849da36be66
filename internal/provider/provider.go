// Package provider abstracts the generative-model and embedding backends.
// The pipeline never talks to a vendor SDK directly; it consumes these
// interfaces so tests and keyless runs can swap in the mock.
package provider

import "context"

// GenerateRequest is a single generation call.
type GenerateRequest struct {
	Model  string
	Prompt string
}

// GenerateResponse carries the model's full text output.
type GenerateResponse struct {
	Text string
}

// StreamChunk is one token (or token group) of a streamed generation.
// Err is set on the terminal chunk when the stream ended abnormally.
type StreamChunk struct {
	Text string
	Err  error
}

// LLM generates text, either in one shot or as a token stream.
type LLM interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
	// GenerateStream returns a channel of chunks. The channel is closed when
	// the stream ends; cancelling ctx releases the underlying provider stream.
	GenerateStream(ctx context.Context, req GenerateRequest) (<-chan StreamChunk, error)
}

// Embedder turns a text into its embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
