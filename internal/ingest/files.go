package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Files stores uploaded document bytes under
// <root>/<user>/<collection>/<document>/<name>.
type Files struct {
	root string
}

func NewFiles(root string) *Files {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return &Files{root: root}
}

// Save writes data and returns the path it was stored at.
func (f *Files) Save(userID, collectionID, documentID, name string, data []byte) (string, error) {
	for _, part := range []string{userID, collectionID, documentID} {
		if part == "" || strings.ContainsAny(part, `/\`) || part == ".." {
			return "", fmt.Errorf("invalid path component %q", part)
		}
	}
	name = filepath.Base(filepath.Clean("/" + name))
	if name == "/" || name == "." {
		return "", fmt.Errorf("invalid file name")
	}

	dir := filepath.Join(f.root, userID, collectionID, documentID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

// Read loads a stored file. Paths outside the root are rejected.
func (f *Files) Read(path string) ([]byte, error) {
	rel, err := filepath.Rel(f.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("path %s is outside the file store", path)
	}
	return os.ReadFile(path)
}

// RemoveDocument deletes every stored file of a document.
func (f *Files) RemoveDocument(userID, collectionID, documentID string) error {
	if userID == "" || collectionID == "" || documentID == "" {
		return nil
	}
	return os.RemoveAll(filepath.Join(f.root, userID, collectionID, documentID))
}
