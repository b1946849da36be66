package paper

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// uploadIDPattern restricts ids to hex content hashes, preventing path
// traversal through crafted identifiers.
var uploadIDPattern = regexp.MustCompile(`^upload_([0-9a-f]{8,64})$`)

// DirSource serves uploaded papers from a directory of {hash}.pdf files.
// IDs take the form "upload_{hash}".
type DirSource struct {
	dir string
}

// NewDirSource creates a DirSource rooted at dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

func (s *DirSource) Fetch(_ context.Context, paperID string) ([]byte, Metadata, error) {
	m := uploadIDPattern.FindStringSubmatch(paperID)
	if m == nil {
		return nil, Metadata{}, fmt.Errorf("invalid uploaded paper id %q: %w", paperID, ErrNotFound)
	}

	path := filepath.Join(s.dir, m[1]+".pdf")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Metadata{}, fmt.Errorf("uploaded paper %s: %w", paperID, ErrNotFound)
		}
		return nil, Metadata{}, fmt.Errorf("reading uploaded paper %s: %w", paperID, err)
	}

	meta := Metadata{
		PaperID: paperID,
		Title:   "Uploaded Paper",
		Authors: []string{"Unknown"},
		URL:     "/uploads/" + m[1] + ".pdf",
		Source:  KindUploaded,
	}
	return raw, meta, nil
}
