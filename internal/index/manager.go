package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/paperlens/paperlens/internal/provider"
)

// embedConcurrency bounds parallel embedding calls within one build to
// respect provider rate limits.
const embedConcurrency = 4

// ChunkStore persists embedded chunks keyed by content fingerprint, so an
// index for unchanged bytes survives a process restart. Implementations may
// be absent; the Manager then keeps indexes in memory only.
type ChunkStore interface {
	Load(ctx context.Context, fingerprint string) (paperID string, chunks []Chunk, ok bool, err error)
	Save(ctx context.Context, paperID, fingerprint string, chunks []Chunk) error
}

// Manager builds indexes lazily and enforces at-most-one build per
// fingerprint via singleflight. Late joiners wait on the in-flight build.
type Manager struct {
	embedder  provider.Embedder
	store     ChunkStore // optional
	chunkSize int
	overlap   int

	group singleflight.Group

	mu            sync.RWMutex
	byFingerprint map[string]*Index

	logger *slog.Logger
}

// NewManager creates a Manager. store may be nil for memory-only operation.
// chunkSize/overlap of 0 select the defaults (1000/200).
func NewManager(embedder provider.Embedder, store ChunkStore, chunkSize, overlap int) *Manager {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = 200
	}
	return &Manager{
		embedder:      embedder,
		store:         store,
		chunkSize:     chunkSize,
		overlap:       overlap,
		byFingerprint: make(map[string]*Index),
		logger:        slog.Default(),
	}
}

// Ensure returns the index for the given fingerprint, building it from text
// if it does not exist yet. Rebuilding for a fingerprint that already has an
// index is a no-op returning the existing one.
func (m *Manager) Ensure(ctx context.Context, paperID, fingerprint, text string) (*Index, error) {
	m.mu.RLock()
	ix, ok := m.byFingerprint[fingerprint]
	m.mu.RUnlock()
	if ok {
		return ix, nil
	}

	v, err, _ := m.group.Do(fingerprint, func() (any, error) {
		// Re-check under the flight: a racing caller may have finished.
		m.mu.RLock()
		ix, ok := m.byFingerprint[fingerprint]
		m.mu.RUnlock()
		if ok {
			return ix, nil
		}

		ix, err := m.load(ctx, fingerprint)
		if err != nil {
			m.logger.Warn("loading persisted index failed, rebuilding", "fingerprint", fingerprint, "error", err)
		}
		if ix == nil {
			ix, err = m.build(ctx, paperID, fingerprint, text)
			if err != nil {
				return nil, err
			}
		}

		m.mu.Lock()
		m.byFingerprint[fingerprint] = ix
		m.mu.Unlock()
		return ix, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Index), nil
}

// Retrieve embeds the query and returns the topK most similar chunks.
func (m *Manager) Retrieve(ctx context.Context, ix *Index, query string, topK int) ([]ScoredChunk, error) {
	if ix.Empty() {
		return nil, nil
	}
	vec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return ix.Search(vec, topK), nil
}

func (m *Manager) load(ctx context.Context, fingerprint string) (*Index, error) {
	if m.store == nil {
		return nil, nil
	}
	paperID, chunks, ok, err := m.store.Load(ctx, fingerprint)
	if err != nil || !ok {
		return nil, err
	}
	return &Index{PaperID: paperID, Fingerprint: fingerprint, Chunks: chunks}, nil
}

// build chunks the text and embeds every chunk with bounded parallelism.
// A chunk whose embedding fails is logged and skipped; the index is best
// effort and never blocks on a single bad chunk.
func (m *Manager) build(ctx context.Context, paperID, fingerprint, text string) (*Index, error) {
	spans := Chunks(text, m.chunkSize, m.overlap)
	if len(spans) == 0 {
		return nil, fmt.Errorf("building index for %s: no text to chunk", paperID)
	}

	embedded := make([][]float32, len(spans))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)
	for i, span := range spans {
		g.Go(func() error {
			vec, err := m.embedder.Embed(gCtx, span.Text)
			if err != nil {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				m.logger.Warn("skipping chunk, embedding failed",
					"paper_id", paperID, "ordinal", span.Ordinal, "error", err)
				return nil
			}
			embedded[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("building index for %s: %w", paperID, err)
	}

	chunks := make([]Chunk, 0, len(spans))
	for i, span := range spans {
		if embedded[i] == nil {
			continue
		}
		chunks = append(chunks, Chunk{
			Ordinal:   span.Ordinal,
			Start:     span.Start,
			End:       span.End,
			Text:      span.Text,
			Embedding: embedded[i],
		})
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("building index for %s: all %d chunks failed to embed", paperID, len(spans))
	}

	ix := &Index{PaperID: paperID, Fingerprint: fingerprint, Chunks: chunks}
	if m.store != nil {
		if err := m.store.Save(ctx, paperID, fingerprint, chunks); err != nil {
			m.logger.Warn("persisting index failed", "fingerprint", fingerprint, "error", err)
		}
	}
	return ix, nil
}
