// Package paper defines the paper document model shared by the analysis,
// chat, and review pipelines, plus the source abstraction that supplies raw
// paper bytes. Network fetch from an external archive is deliberately outside
// this package: callers plug in whatever Source they have.
package paper

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"

	"github.com/paperlens/paperlens/internal/extract"
)

// ErrNotFound reports that a Source has no paper for the given id.
var ErrNotFound = errors.New("paper not found")

// SourceKind identifies where a paper's bytes came from.
type SourceKind string

const (
	KindUploaded SourceKind = "uploaded"
	KindRemote   SourceKind = "remote"
	KindURL      SourceKind = "url"
)

// Metadata is the display information attached to a paper.
type Metadata struct {
	PaperID string     `json:"paper_id"`
	Title   string     `json:"title"`
	Authors []string   `json:"authors"`
	Year    int        `json:"year,omitempty"`
	URL     string     `json:"url,omitempty"`
	Source  SourceKind `json:"source"`
}

// Document is a paper's raw bytes plus the content fingerprint derived from
// them. Text extraction runs at most once; the result is immutable after.
type Document struct {
	ID          string
	Kind        SourceKind
	Raw         []byte
	Fingerprint string

	extractOnce sync.Once
	text        string
	extractErr  error
}

// NewDocument builds a Document and computes its content fingerprint.
func NewDocument(id string, kind SourceKind, raw []byte) *Document {
	return &Document{
		ID:          id,
		Kind:        kind,
		Raw:         raw,
		Fingerprint: Fingerprint(raw),
	}
}

// Fingerprint returns the stable content identity for a byte payload:
// the first 16 hex characters of its SHA-256. Truncation keeps cache keys
// short; 64 bits of prefix is plenty for a per-user paper corpus.
func Fingerprint(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:16]
}

// Text extracts plain text from the document's raw bytes, running the
// extraction fallback chain on first call and caching the outcome. The error,
// if any, is an *extract.Error carrying per-tier reasons.
func (d *Document) Text() (string, error) {
	d.extractOnce.Do(func() {
		d.text, d.extractErr = extract.Text(d.Raw)
	})
	return d.text, d.extractErr
}

// Source supplies raw paper bytes and metadata for an identifier.
type Source interface {
	Fetch(ctx context.Context, paperID string) ([]byte, Metadata, error)
}
