// Package index builds and queries per-paper semantic indexes. An index is
// built at most once per content fingerprint; concurrent requests for the
// same fingerprint share the in-flight build instead of duplicating embedding
// cost. Search is brute-force cosine similarity, which is plenty for a single
// paper's chunk count.
package index

import (
	"container/heap"
	"math"
)

// Chunk is an embedded text span of one paper.
type Chunk struct {
	Ordinal   int
	Start     int
	End       int
	Text      string
	Embedding []float32
}

// ScoredChunk pairs a chunk with its similarity to a query.
type ScoredChunk struct {
	Chunk
	Score float32
}

// Index is the nearest-neighbor structure over one paper's embedded chunks.
type Index struct {
	PaperID     string
	Fingerprint string
	Chunks      []Chunk
}

// Empty reports whether the index has no searchable chunks.
func (ix *Index) Empty() bool {
	return ix == nil || len(ix.Chunks) == 0
}

// Search returns the topK chunks most similar to the query vector, best
// first. A zero query vector yields no results.
func (ix *Index) Search(query []float32, topK int) []ScoredChunk {
	if ix.Empty() || topK <= 0 {
		return nil
	}

	queryNorm := norm(query)
	if queryNorm == 0 {
		return nil
	}

	h := &scoredHeap{}
	heap.Init(h)
	for _, c := range ix.Chunks {
		score := cosine(query, c.Embedding, queryNorm)
		if h.Len() < topK {
			heap.Push(h, ScoredChunk{Chunk: c, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = ScoredChunk{Chunk: c, Score: score}
			heap.Fix(h, 0)
		}
	}

	// Pop in ascending order and reverse into best-first.
	out := make([]ScoredChunk, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(ScoredChunk)
	}
	return out
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes dot(a,b) / (aNorm * |b|). aNorm is precomputed by the caller.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// scoredHeap is a min-heap of ScoredChunk ordered by Score.
type scoredHeap []ScoredChunk

func (h scoredHeap) Len() int            { return len(h) }
func (h scoredHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h scoredHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *scoredHeap) Push(x interface{}) { *h = append(*h, x.(ScoredChunk)) }
func (h *scoredHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
