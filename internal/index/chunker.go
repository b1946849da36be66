package index

// Span is one chunk of source text with its rune offsets. Spans are derived
// deterministically: the same text always produces the same spans, which
// keeps chunk ordinals stable across rebuilds.
type Span struct {
	Ordinal int
	Start   int // rune offset, inclusive
	End     int // rune offset, exclusive
	Text    string
}

// Chunks splits text into a sliding window of size runes advancing by
// size-overlap. Offsets are preserved verbatim, so concatenating each span's
// text after trimming the overlap reconstructs the input exactly.
func Chunks(text string, size, overlap int) []Span {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	step := size - overlap

	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var out []Span
	for i := 0; i < len(runes); i += step {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, Span{
			Ordinal: len(out),
			Start:   i,
			End:     end,
			Text:    string(runes[i:end]),
		})
		if end == len(runes) {
			break
		}
	}
	return out
}
