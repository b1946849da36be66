package provider

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// Compile-time checks.
var (
	_ LLM      = (*Mock)(nil)
	_ Embedder = (*Mock)(nil)
)

// Mock is a deterministic offline provider. Generation echoes a canned
// response; embeddings are derived from a hash of the input so identical
// texts map to identical vectors. Used in tests and keyless startup.
type Mock struct {
	Dim      int
	Response string
}

// NewMock creates a Mock with the given embedding dimension.
func NewMock(dim int) *Mock {
	if dim <= 0 {
		dim = 64
	}
	return &Mock{Dim: dim, Response: "mock response"}
}

func (m *Mock) Generate(_ context.Context, req GenerateRequest) (GenerateResponse, error) {
	return GenerateResponse{Text: m.Response}, nil
}

func (m *Mock) GenerateStream(ctx context.Context, req GenerateRequest) (<-chan StreamChunk, error) {
	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		for _, w := range strings.Fields(m.Response) {
			select {
			case out <- StreamChunk{Text: w + " "}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (m *Mock) Embed(_ context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, m.Dim)
	var norm float64
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		v := float32(int64(seed>>33)) / float32(math.MaxInt32)
		vec[i] = v
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}
