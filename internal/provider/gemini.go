package provider

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Compile-time checks.
var (
	_ LLM      = (*Gemini)(nil)
	_ Embedder = (*Gemini)(nil)
)

// Gemini backs the provider interfaces with the Gemini API. One client serves
// both generation and embedding; the model is chosen per request (generation)
// or fixed at construction (embedding).
type Gemini struct {
	client     *genai.Client
	embedModel string
}

// NewGemini creates a Gemini provider. embedModel names the embedding model,
// e.g. "text-embedding-004".
func NewGemini(ctx context.Context, apiKey, embedModel string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: missing API key")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: creating client: %w", err)
	}
	return &Gemini{client: client, embedModel: embedModel}, nil
}

func (g *Gemini) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	resp, err := g.client.Models.GenerateContent(
		ctx,
		req.Model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: req.Prompt}}}},
		nil,
	)
	if err != nil {
		return GenerateResponse{}, fmt.Errorf("gemini generate: %w", err)
	}
	return GenerateResponse{Text: strings.TrimSpace(resp.Text())}, nil
}

func (g *Gemini) GenerateStream(ctx context.Context, req GenerateRequest) (<-chan StreamChunk, error) {
	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		for resp, err := range g.client.Models.GenerateContentStream(
			ctx,
			req.Model,
			[]*genai.Content{{Parts: []*genai.Part{{Text: req.Prompt}}}},
			nil,
		) {
			if err != nil {
				select {
				case out <- StreamChunk{Err: fmt.Errorf("gemini stream: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case out <- StreamChunk{Text: resp.Text()}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := g.client.Models.EmbedContent(
		ctx,
		g.embedModel,
		[]*genai.Content{{Parts: []*genai.Part{{Text: text}}}},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("gemini embed: no embedding values returned")
	}
	return resp.Embeddings[0].Values, nil
}
