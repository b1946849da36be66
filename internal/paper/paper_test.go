package paper

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFingerprint(t *testing.T) {
	fp := Fingerprint([]byte("hello"))
	if len(fp) != 16 {
		t.Fatalf("fingerprint length = %d, want 16", len(fp))
	}
	if fp != Fingerprint([]byte("hello")) {
		t.Error("fingerprint not deterministic")
	}
	if fp == Fingerprint([]byte("hello!")) {
		t.Error("distinct content produced the same fingerprint")
	}
	for _, r := range fp {
		if !strings.ContainsRune("0123456789abcdef", r) {
			t.Fatalf("fingerprint %q contains non-hex rune %q", fp, r)
		}
	}
}

func TestNewDocument(t *testing.T) {
	raw := []byte("paper bytes")
	doc := NewDocument("upload_abcd1234", KindUploaded, raw)
	if doc.Fingerprint != Fingerprint(raw) {
		t.Error("document fingerprint does not match its bytes")
	}
	if doc.Kind != KindUploaded {
		t.Errorf("kind = %s", doc.Kind)
	}
}

func TestDirSourceFetch(t *testing.T) {
	dir := t.TempDir()
	hash := "cafebabe12345678"
	content := []byte("stored paper content")
	if err := os.WriteFile(filepath.Join(dir, hash+".pdf"), content, 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewDirSource(dir)
	raw, meta, err := s.Fetch(context.Background(), "upload_"+hash)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != string(content) {
		t.Error("fetched bytes differ from stored bytes")
	}
	if meta.PaperID != "upload_"+hash || meta.Source != KindUploaded {
		t.Errorf("meta = %+v", meta)
	}
}

func TestDirSourceMissingPaper(t *testing.T) {
	s := NewDirSource(t.TempDir())
	_, _, err := s.Fetch(context.Background(), "upload_0123456789abcdef")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDirSourceRejectsMalformedIDs(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "secret.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewDirSource(dir)

	ids := []string{
		"",
		"upload_",
		"upload_../secret",
		"upload_SECRET",
		"../../etc/passwd",
		"upload_zzzz9999zzzz9999",
	}
	for _, id := range ids {
		if _, _, err := s.Fetch(context.Background(), id); !errors.Is(err, ErrNotFound) {
			t.Errorf("Fetch(%q) = %v, want ErrNotFound", id, err)
		}
	}
}
