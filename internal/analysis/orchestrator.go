package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/paperlens/paperlens/internal/cache"
	"github.com/paperlens/paperlens/internal/extract"
	"github.com/paperlens/paperlens/internal/llm"
	"github.com/paperlens/paperlens/internal/paper"
	"github.com/paperlens/paperlens/internal/provider"
)

const (
	// fastPrefixChars bounds the text sent to the fast tier; a paper's opening
	// carries the title, abstract and framing, which is all the at-a-glance
	// pass needs.
	fastPrefixChars = 3000
	// deepPrefixChars bounds the deep tier's input.
	deepPrefixChars = 15000

	kindFast = "analysis"
	kindDeep = "deep"
)

// Orchestrator owns the NotStarted -> FastReady -> DeepReady progression for
// each paper. Fast and deep results are cached independently, so refreshing
// the fast analysis never discards an already-computed deep one.
type Orchestrator struct {
	cache         cache.Store
	llm           provider.LLM
	fastTier      llm.Tier
	deepTier      llm.Tier
	schemaVersion string
	ttl           time.Duration

	group  singleflight.Group
	logger *slog.Logger
}

// New creates an Orchestrator. ttl bounds how long cached records live.
func New(store cache.Store, p provider.LLM, fastTier, deepTier llm.Tier, schemaVersion string, ttl time.Duration) *Orchestrator {
	return &Orchestrator{
		cache:         store,
		llm:           p,
		fastTier:      fastTier,
		deepTier:      deepTier,
		schemaVersion: schemaVersion,
		ttl:           ttl,
		logger:        slog.Default(),
	}
}

// Analyze returns the fast analysis for doc, generating and caching it on
// first request. With forceRefresh the cache read is skipped and the entry is
// overwritten; an already-computed deep analysis for the same fingerprint is
// left untouched either way.
func (o *Orchestrator) Analyze(ctx context.Context, doc *paper.Document, meta paper.Metadata, forceRefresh bool) (*Record, error) {
	key := o.fastKey(doc.Fingerprint)

	if !forceRefresh {
		if rec, ok := o.readFast(ctx, key); ok {
			return rec, nil
		}
	}

	// Coalesce concurrent requests for the same artifact: late joiners get
	// the in-flight result instead of paying for their own model call.
	flightKey := key + ":" + o.fastTier.Name
	v, err, _ := o.group.Do(flightKey, func() (any, error) {
		return o.computeFast(ctx, doc, meta)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Record), nil
}

// Deepen adds the deep analysis to an existing record, generating it lazily.
// Idempotent: a cached deep result short-circuits generation.
func (o *Orchestrator) Deepen(ctx context.Context, doc *paper.Document, meta paper.Metadata) (*Record, error) {
	rec, err := o.Analyze(ctx, doc, meta, false)
	if err != nil {
		return nil, err
	}

	deepKey := o.deepKey(doc.Fingerprint)
	if deep, ok := o.readDeep(ctx, deepKey); ok {
		merged := *rec
		merged.Deep = deep
		return &merged, nil
	}

	flightKey := deepKey + ":" + o.deepTier.Name
	v, err, _ := o.group.Do(flightKey, func() (any, error) {
		return o.computeDeep(ctx, doc)
	})
	if err != nil {
		return nil, err
	}

	merged := *rec
	merged.Deep = v.(*DeepAnalysis)
	return &merged, nil
}

// Cached returns the stored analysis for a fingerprint, merging in the deep
// sub-record when present. The bool reports whether a fast record exists.
func (o *Orchestrator) Cached(ctx context.Context, fingerprint string) (*Record, bool) {
	rec, ok := o.readFast(ctx, o.fastKey(fingerprint))
	if !ok {
		return nil, false
	}
	if deep, ok := o.readDeep(ctx, o.deepKey(fingerprint)); ok {
		rec.Deep = deep
	}
	return rec, true
}

func (o *Orchestrator) computeFast(ctx context.Context, doc *paper.Document, meta paper.Metadata) (*Record, error) {
	text, err := doc.Text()
	if err != nil {
		var extErr *extract.Error
		if errors.As(err, &extErr) {
			// Degraded input: serve a metadata-only record rather than failing.
			// Not cached, so a later retry with fixed bytes starts clean.
			o.logger.Warn("text extraction failed, returning metadata-only analysis",
				"paper_id", doc.ID, "error", extErr)
			return o.newRecord(meta, fallbackFast()), nil
		}
		return nil, fmt.Errorf("extracting text for %s: %w", doc.ID, err)
	}

	result := llm.Invoke(ctx, o.llm, o.fastTier,
		fastPrompt(prefix(text, fastPrefixChars)),
		parseFast,
		llm.PartialJSON[FastAnalysis],
		fallbackFast(),
	)
	o.logger.Info("fast analysis generated",
		"paper_id", doc.ID, "source", result.Source.String(), "attempts", result.Attempts)

	rec := o.newRecord(meta, result.Value)
	o.writeJSON(ctx, o.fastKey(doc.Fingerprint), rec)
	return rec, nil
}

func (o *Orchestrator) computeDeep(ctx context.Context, doc *paper.Document) (*DeepAnalysis, error) {
	text, err := doc.Text()
	if err != nil {
		var extErr *extract.Error
		if !errors.As(err, &extErr) {
			return nil, fmt.Errorf("extracting text for %s: %w", doc.ID, err)
		}
		text = ""
	}
	if text == "" {
		deep := fallbackDeep()
		return &deep, nil
	}

	result := llm.Invoke(ctx, o.llm, o.deepTier,
		deepPrompt(prefix(text, deepPrefixChars)),
		parseDeep,
		llm.PartialJSON[DeepAnalysis],
		fallbackDeep(),
	)
	o.logger.Info("deep analysis generated",
		"paper_id", doc.ID, "source", result.Source.String(), "attempts", result.Attempts)

	deep := result.Value
	o.writeJSON(ctx, o.deepKey(doc.Fingerprint), &deep)
	return &deep, nil
}

func (o *Orchestrator) newRecord(meta paper.Metadata, fast FastAnalysis) *Record {
	return &Record{
		Paper:         meta,
		Fast:          fast,
		GeneratedAt:   time.Now().UTC(),
		SchemaVersion: o.schemaVersion,
		ModelTag:      o.fastTier.Model,
	}
}

func (o *Orchestrator) fastKey(fingerprint string) string {
	return cache.Key(kindFast, fingerprint, o.schemaVersion, o.fastTier.Model)
}

func (o *Orchestrator) deepKey(fingerprint string) string {
	return cache.Key(kindDeep, fingerprint, o.schemaVersion, o.deepTier.Model)
}

func (o *Orchestrator) readFast(ctx context.Context, key string) (*Record, bool) {
	data, ok, err := o.cache.Get(ctx, key)
	if err != nil {
		o.logger.Warn("cache read failed", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		o.logger.Warn("discarding undecodable cache entry", "key", key, "error", err)
		return nil, false
	}
	return &rec, true
}

func (o *Orchestrator) readDeep(ctx context.Context, key string) (*DeepAnalysis, bool) {
	data, ok, err := o.cache.Get(ctx, key)
	if err != nil || !ok {
		return nil, false
	}
	var deep DeepAnalysis
	if err := json.Unmarshal(data, &deep); err != nil {
		return nil, false
	}
	return &deep, true
}

func (o *Orchestrator) writeJSON(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		o.logger.Warn("cache encode failed", "key", key, "error", err)
		return
	}
	if err := o.cache.Set(ctx, key, data, o.ttl); err != nil {
		o.logger.Warn("cache write failed", "key", key, "error", err)
	}
}

// parseFast decodes and validates the fast-analysis shape. A response missing
// the core narrative fields counts as a parse failure so the retry loop gets
// another chance at a clean answer.
func parseFast(raw string) (FastAnalysis, error) {
	fast, err := llm.ParseJSON[FastAnalysis](raw)
	if err != nil {
		return FastAnalysis{}, err
	}
	if fast.Title == "" || fast.Abstract == "" || fast.Methodology == "" {
		return FastAnalysis{}, errors.New("fast analysis missing required fields")
	}
	return fast, nil
}

func parseDeep(raw string) (DeepAnalysis, error) {
	deep, err := llm.ParseJSON[DeepAnalysis](raw)
	if err != nil {
		return DeepAnalysis{}, err
	}
	if deep.Introduction == "" || deep.Methodology == "" {
		return DeepAnalysis{}, errors.New("deep analysis missing required fields")
	}
	return deep, nil
}

// prefix returns the first n runes of s.
func prefix(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
