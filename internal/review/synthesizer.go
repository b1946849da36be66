// Package review synthesizes a literature review across a bounded set of
// papers. Each paper contributes its most topic-relevant excerpts; papers
// whose text or index cannot be produced are dropped from the review and
// from the citation list rather than failing the whole synthesis.
package review

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/paperlens/paperlens/internal/cache"
	"github.com/paperlens/paperlens/internal/index"
	"github.com/paperlens/paperlens/internal/llm"
	"github.com/paperlens/paperlens/internal/paper"
	"github.com/paperlens/paperlens/internal/provider"
)

const (
	// MaxPapers bounds one synthesis request.
	MaxPapers = 20

	defaultParallelism    = 4
	defaultChunksPerPaper = 3
)

// Paper pairs a document with its display metadata for citation rendering.
type Paper struct {
	Doc  *paper.Document
	Meta paper.Metadata
}

// Citation identifies one paper actually used by the review. Ref matches the
// [n] markers in the review text.
type Citation struct {
	Ref     int      `json:"ref"`
	PaperID string   `json:"paper_id"`
	Title   string   `json:"title"`
	Authors []string `json:"authors,omitempty"`
	Year    int      `json:"year,omitempty"`
	URL     string   `json:"url,omitempty"`
}

// Result is a synthesized review. Citations appear in the same relative
// order as the input papers and list only papers whose excerpts reached the
// model.
type Result struct {
	Topic       string     `json:"topic"`
	Review      string     `json:"review"`
	Citations   []Citation `json:"citations"`
	GeneratedAt time.Time  `json:"generated_at"`
}

// Synthesizer builds literature reviews. Create one with NewSynthesizer.
type Synthesizer struct {
	indexes        *index.Manager
	llm            provider.LLM
	tier           llm.Tier
	cache          cache.Store
	schemaVersion  string
	ttl            time.Duration
	parallelism    int
	chunksPerPaper int
	logger         *slog.Logger
}

// NewSynthesizer creates a Synthesizer. The cache store may be nil to
// disable result caching; parallelism of 0 selects the default.
func NewSynthesizer(indexes *index.Manager, p provider.LLM, tier llm.Tier, store cache.Store, schemaVersion string, ttl time.Duration, parallelism int) *Synthesizer {
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}
	return &Synthesizer{
		indexes:        indexes,
		llm:            p,
		tier:           tier,
		cache:          store,
		schemaVersion:  schemaVersion,
		ttl:            ttl,
		parallelism:    parallelism,
		chunksPerPaper: defaultChunksPerPaper,
		logger:         slog.Default(),
	}
}

type excerpt struct {
	paper  Paper
	chunks []index.ScoredChunk
}

// Synthesize produces a review of topic across papers. It is cooperative:
// cancelling ctx stops before the next paper is processed and before the
// model call.
func (s *Synthesizer) Synthesize(ctx context.Context, topic string, papers []Paper) (Result, error) {
	if strings.TrimSpace(topic) == "" {
		return Result{}, fmt.Errorf("review topic is empty")
	}
	if len(papers) == 0 {
		return Result{}, fmt.Errorf("no papers to review")
	}
	if len(papers) > MaxPapers {
		return Result{}, fmt.Errorf("too many papers: %d exceeds limit of %d", len(papers), MaxPapers)
	}

	key := s.cacheKey(topic, papers)
	if cached, ok := s.readCache(ctx, key); ok {
		return cached, nil
	}

	excerpts := s.gather(ctx, topic, papers)
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	usable := excerpts[:0]
	for _, e := range excerpts {
		if len(e.chunks) > 0 {
			usable = append(usable, e)
		}
	}
	if len(usable) == 0 {
		return Result{}, fmt.Errorf("no usable paper content for review of %q", topic)
	}

	prompt, citations := buildPrompt(topic, usable)
	res := llm.InvokeText(ctx, s.llm, s.tier, prompt, "")
	if res.UsedFallback() {
		return Result{}, fmt.Errorf("review generation failed after %d attempts", res.Attempts)
	}

	result := Result{
		Topic:       topic,
		Review:      res.Value,
		Citations:   citations,
		GeneratedAt: time.Now().UTC(),
	}
	s.writeCache(ctx, key, result)
	return result, nil
}

// gather retrieves topic-relevant excerpts for each paper with bounded
// parallelism. Per-paper failure leaves an empty slot; the group error is
// always nil because workers degrade instead of failing.
func (s *Synthesizer) gather(ctx context.Context, topic string, papers []Paper) []excerpt {
	excerpts := make([]excerpt, len(papers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i, p := range papers {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			excerpts[i] = excerpt{paper: p, chunks: s.retrieve(gctx, topic, p)}
			return nil
		})
	}
	_ = g.Wait() // workers degrade instead of failing

	return excerpts
}

func (s *Synthesizer) retrieve(ctx context.Context, topic string, p Paper) []index.ScoredChunk {
	text, err := p.Doc.Text()
	if err != nil {
		s.logger.Warn("excluding paper from review, extraction failed", "paper_id", p.Doc.ID, "error", err)
		return nil
	}
	ix, err := s.indexes.Ensure(ctx, p.Doc.ID, p.Doc.Fingerprint, text)
	if err != nil {
		s.logger.Warn("excluding paper from review, index build failed", "paper_id", p.Doc.ID, "error", err)
		return nil
	}
	chunks, err := s.indexes.Retrieve(ctx, ix, topic, s.chunksPerPaper)
	if err != nil {
		s.logger.Warn("excluding paper from review, retrieval failed", "paper_id", p.Doc.ID, "error", err)
		return nil
	}
	return chunks
}

// buildPrompt renders the numbered-source synthesis prompt. Reference
// numbers follow the order papers were submitted, so citations read
// stably across regenerations.
func buildPrompt(topic string, usable []excerpt) (string, []Citation) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are writing a literature review on the topic: %s\n\n", topic)
	sb.WriteString("Below are excerpts from the source papers, each under a numbered reference.\n\n")

	citations := make([]Citation, 0, len(usable))
	for i, e := range usable {
		ref := i + 1
		fmt.Fprintf(&sb, "[%d] %s\n", ref, e.paper.Meta.Title)
		for _, c := range e.chunks {
			fmt.Fprintf(&sb, "%s\n", c.Text)
		}
		sb.WriteString("\n")

		citations = append(citations, Citation{
			Ref:     ref,
			PaperID: e.paper.Doc.ID,
			Title:   e.paper.Meta.Title,
			Authors: e.paper.Meta.Authors,
			Year:    e.paper.Meta.Year,
			URL:     e.paper.Meta.URL,
		})
	}

	sb.WriteString("Write a coherent literature review that synthesizes these sources. " +
		"Compare approaches, note agreements and contradictions, and identify open problems. " +
		"Cite sources inline using their bracketed numbers, e.g. [1]. " +
		"Use only the numbered sources above.")
	return sb.String(), citations
}

// cacheKey derives a stable key from the topic and the submitted papers'
// content fingerprints, in input order. Same papers, same topic, same key.
func (s *Synthesizer) cacheKey(topic string, papers []Paper) string {
	h := sha256.New()
	h.Write([]byte(topic))
	for _, p := range papers {
		h.Write([]byte{0})
		h.Write([]byte(p.Doc.Fingerprint))
	}
	digest := hex.EncodeToString(h.Sum(nil))[:16]
	return cache.Key("review", digest, s.schemaVersion, s.tier.Model)
}

func (s *Synthesizer) readCache(ctx context.Context, key string) (Result, bool) {
	if s.cache == nil {
		return Result{}, false
	}
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("review cache read failed", "key", key, "error", err)
		return Result{}, false
	}
	if !ok {
		return Result{}, false
	}
	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		s.logger.Warn("discarding undecodable cached review", "key", key, "error", err)
		return Result{}, false
	}
	return result, true
}

func (s *Synthesizer) writeCache(ctx context.Context, key string, result Result) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
		s.logger.Warn("review cache write failed", "key", key, "error", err)
	}
}
