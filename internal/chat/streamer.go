// Package chat answers questions about a single paper with retrieval-grounded,
// token-streamed responses. Retrieval is best effort: a missing or empty index
// degrades to a context-free answer flagged as such, never an error.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/paperlens/paperlens/internal/index"
	"github.com/paperlens/paperlens/internal/llm"
	"github.com/paperlens/paperlens/internal/paper"
	"github.com/paperlens/paperlens/internal/provider"
)

// Turn is one prior exchange in the caller-owned chat session.
type Turn struct {
	Role string `json:"role"` // "user" or "assistant"
	Text string `json:"text"`
}

// Event is one element of the response stream. The first event carries
// stream metadata (ContextFree); subsequent events each carry a token; the
// final event has Done set and is always delivered unless the consumer
// cancels. Err is only set on an abnormal final event.
type Event struct {
	Token       string
	Done        bool
	ContextFree bool
	Err         error
}

const (
	defaultTopK          = 5
	defaultHistoryBudget = 8000
)

// Streamer produces grounded streamed answers for one paper at a time.
type Streamer struct {
	indexes       *index.Manager
	llm           provider.LLM
	tier          llm.Tier
	topK          int
	historyBudget int
	logger        *slog.Logger
}

// NewStreamer creates a Streamer generating with the given tier. topK and
// historyBudget of 0 select the defaults (5 chunks, 8000 characters).
func NewStreamer(indexes *index.Manager, p provider.LLM, tier llm.Tier, topK, historyBudget int) *Streamer {
	if topK <= 0 {
		topK = defaultTopK
	}
	if historyBudget <= 0 {
		historyBudget = defaultHistoryBudget
	}
	return &Streamer{
		indexes:       indexes,
		llm:           p,
		tier:          tier,
		topK:          topK,
		historyBudget: historyBudget,
		logger:        slog.Default(),
	}
}

// Stream answers question about doc, forwarding tokens as they arrive.
// Provider failures do not surface as a returned error: stream establishment
// is retried with the tier's backoff, and when the provider is beyond saving
// the failure travels down the channel as the terminal event, so every caller
// that got a channel also gets a well-formed end of stream. Cancelling ctx
// stops forwarding and releases the provider stream; tokens already delivered
// stay delivered.
func (s *Streamer) Stream(ctx context.Context, doc *paper.Document, question string, history []Turn) (<-chan Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	chunks, contextFree := s.retrieve(ctx, doc, question)
	prompt := s.buildPrompt(question, chunks, TruncateHistory(history, s.historyBudget))

	out := make(chan Event)

	upstream, err := s.openStream(ctx, prompt)
	if err != nil {
		s.logger.Warn("chat stream could not be established", "paper_id", doc.ID, "error", err)
		go func() {
			defer close(out)
			if !emit(ctx, out, Event{ContextFree: contextFree}) {
				return
			}
			emit(ctx, out, Event{Done: true, Err: err})
		}()
		return out, nil
	}

	go func() {
		defer close(out)

		if !emit(ctx, out, Event{ContextFree: contextFree}) {
			return
		}
		for chunk := range upstream {
			if chunk.Err != nil {
				s.logger.Warn("chat stream interrupted", "paper_id", doc.ID, "error", chunk.Err)
				emit(ctx, out, Event{Done: true, Err: chunk.Err})
				return
			}
			if !emit(ctx, out, Event{Token: chunk.Text}) {
				return
			}
		}
		emit(ctx, out, Event{Done: true})
	}()
	return out, nil
}

// openStream starts the provider stream, retrying failed establishment with
// the tier's doubling backoff. Cancellation stops the retry loop at the next
// checkpoint.
func (s *Streamer) openStream(ctx context.Context, prompt string) (<-chan provider.StreamChunk, error) {
	var lastErr error
	for try := 0; try <= s.tier.MaxRetries; try++ {
		if try > 0 {
			if err := llm.WaitBackoff(ctx, s.tier.Backoff<<(try-1)); err != nil {
				return nil, err
			}
		}
		upstream, err := s.llm.GenerateStream(ctx, provider.GenerateRequest{Model: s.tier.Model, Prompt: prompt})
		if err == nil {
			return upstream, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("starting chat stream failed, will retry",
			"tier", s.tier.Name, "model", s.tier.Model,
			"attempt", try+1, "max_attempts", s.tier.MaxRetries+1, "error", err)
		lastErr = err
	}
	return nil, fmt.Errorf("starting chat stream: %w", lastErr)
}

func emit(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// retrieve finds the chunks most relevant to the question. Any failure along
// the way (extraction, index build, query embedding) degrades to no-context
// mode instead of propagating.
func (s *Streamer) retrieve(ctx context.Context, doc *paper.Document, question string) ([]index.ScoredChunk, bool) {
	text, err := doc.Text()
	if err != nil {
		s.logger.Warn("chat running without context, extraction failed", "paper_id", doc.ID, "error", err)
		return nil, true
	}

	ix, err := s.indexes.Ensure(ctx, doc.ID, doc.Fingerprint, text)
	if err != nil {
		s.logger.Warn("chat running without context, index build failed", "paper_id", doc.ID, "error", err)
		return nil, true
	}

	chunks, err := s.indexes.Retrieve(ctx, ix, question, s.topK)
	if err != nil {
		s.logger.Warn("chat running without context, retrieval failed", "paper_id", doc.ID, "error", err)
		return nil, true
	}
	if len(chunks) == 0 {
		return nil, true
	}
	return chunks, false
}

func (s *Streamer) buildPrompt(question string, chunks []index.ScoredChunk, history []Turn) string {
	var sb strings.Builder
	sb.WriteString("You are a knowledgeable research paper expert. Answer the question based on the paper content.\n")

	if len(chunks) > 0 {
		sb.WriteString("\nPaper excerpts:\n")
		for _, c := range chunks {
			fmt.Fprintf(&sb, "---\n%s\n", c.Text)
		}
	} else {
		sb.WriteString("\nNo paper excerpts are available; answer from general knowledge and say so.\n")
	}

	if len(history) > 0 {
		sb.WriteString("\nConversation so far:\n")
		for _, t := range history {
			fmt.Fprintf(&sb, "%s: %s\n", t.Role, t.Text)
		}
	}

	fmt.Fprintf(&sb, "\nQuestion: %s\n\nProvide a clear, detailed response with specific references to the paper where relevant.", question)
	return sb.String()
}

// TruncateHistory bounds prior turns to a character budget. The earliest turn
// is pinned (it usually sets durable context); after that the newest turns
// are kept, dropping older middle turns first.
func TruncateHistory(history []Turn, budget int) []Turn {
	if len(history) == 0 {
		return nil
	}

	first := history[0]
	used := len(first.Text)

	var recent []Turn
	for i := len(history) - 1; i >= 1; i-- {
		t := history[i]
		if used+len(t.Text) > budget {
			break
		}
		used += len(t.Text)
		recent = append(recent, t)
	}

	out := make([]Turn, 0, len(recent)+1)
	out = append(out, first)
	for i := len(recent) - 1; i >= 0; i-- {
		out = append(out, recent[i])
	}
	return out
}
