// Package extract turns raw paper bytes into plain text. It applies an
// ordered fallback chain: strict structural PDF parse, lenient per-page parse
// that skips malformed pages, and finally a raw byte scrape that ignores
// document structure entirely. A tier that produces too little text counts as
// a failure and the next tier runs.
package extract

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// minMeaningful is the smallest extraction considered usable. Shorter output
// usually means the tier only recovered page furniture or noise.
const minMeaningful = 50

// TierFailure records why one extraction tier was rejected.
type TierFailure struct {
	Tier   string
	Reason string
}

// Error reports that every extraction tier failed, with per-tier reasons.
// Callers treat this as a degraded-input signal, not a hard failure.
type Error struct {
	Attempts []TierFailure
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString("text extraction failed")
	for _, a := range e.Attempts {
		fmt.Fprintf(&sb, "; %s: %s", a.Tier, a.Reason)
	}
	return sb.String()
}

type tier struct {
	name string
	fn   func(raw []byte) (string, error)
}

// Text extracts plain text from raw PDF bytes using the fallback chain.
// On total failure it returns an *Error listing what each tier reported.
func Text(raw []byte) (string, error) {
	return runChain(raw, []tier{
		{name: "strict", fn: strictParse},
		{name: "lenient", fn: lenientParse},
		{name: "scrape", fn: scrapeText},
	})
}

func runChain(raw []byte, tiers []tier) (string, error) {
	extErr := &Error{}
	for _, t := range tiers {
		text, err := t.fn(raw)
		if err != nil {
			extErr.Attempts = append(extErr.Attempts, TierFailure{Tier: t.name, Reason: err.Error()})
			continue
		}
		if meaningfulLen(text) < minMeaningful {
			extErr.Attempts = append(extErr.Attempts, TierFailure{
				Tier:   t.name,
				Reason: fmt.Sprintf("only %d meaningful characters", meaningfulLen(text)),
			})
			continue
		}
		return text, nil
	}
	return "", extErr
}

// meaningfulLen counts non-whitespace characters.
func meaningfulLen(s string) int {
	n := 0
	for _, r := range s {
		if !isSpace(r) {
			n++
		}
	}
	return n
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\f' || r == '\v'
}

// strictParse extracts the whole document in one pass. The pdf library panics
// on some malformed cross-reference tables, so the call is fenced.
func strictParse(raw []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parse panic: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	buf := new(strings.Builder)
	if _, err := io.Copy(buf, reader); err != nil {
		return "", fmt.Errorf("read extracted text: %w", err)
	}
	return buf.String(), nil
}

// lenientParse walks pages individually, keeping whatever pages parse and
// skipping the ones that don't.
func lenientParse(raw []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parse panic: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var sb strings.Builder
	kept := 0
	for i := 1; i <= r.NumPage(); i++ {
		pageText, pageErr := extractPage(r, i)
		if pageErr != nil {
			continue
		}
		if kept > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(pageText)
		kept++
	}
	if kept == 0 {
		return "", fmt.Errorf("no readable pages out of %d", r.NumPage())
	}
	return sb.String(), nil
}

func extractPage(r *pdf.Reader, n int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("page %d panic: %v", n, rec)
		}
	}()

	p := r.Page(n)
	if p.V.IsNull() {
		return "", fmt.Errorf("page %d missing", n)
	}
	return p.GetPlainText(nil)
}

// scrapeText ignores PDF structure and pulls printable runs straight from the
// bytes: literal strings inside uncompressed content streams plus any long
// ASCII runs (covers plain-text payloads mislabelled as PDFs).
func scrapeText(raw []byte) (string, error) {
	var sb strings.Builder

	// Pass 1: parenthesized string literals, the text-showing operands of
	// uncompressed content streams.
	depth := 0
	var lit []byte
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c == '\\' && depth > 0 && i+1 < len(raw):
			lit = append(lit, raw[i+1])
			i++
		case c == '(':
			depth++
		case c == ')' && depth > 0:
			depth--
			if depth == 0 && len(lit) > 1 {
				sb.Write(lit)
				sb.WriteByte(' ')
			}
			lit = lit[:0]
		case depth > 0:
			lit = append(lit, c)
		}
	}

	// Pass 2: long printable runs outside structural syntax.
	if meaningfulLen(sb.String()) < minMeaningful {
		var run []byte
		for _, c := range raw {
			if c >= 0x20 && c < 0x7f && c != '<' && c != '>' && c != '/' {
				run = append(run, c)
				continue
			}
			if len(run) >= 8 {
				sb.Write(run)
				sb.WriteByte('\n')
			}
			run = run[:0]
		}
		if len(run) >= 8 {
			sb.Write(run)
		}
	}

	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", fmt.Errorf("no printable text found in %d bytes", len(raw))
	}
	return out, nil
}
