package metrics_store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotFound signals that no document has been persisted yet.
// The store treats it as an empty starting state.
var ErrNotFound = errors.New("no persisted metrics document")

// Storage is the persistence boundary for the snapshot collection.
type Storage interface {
	Load() (*Document, error)
	Save(doc *Document) error
}

// FileStorage persists the document as a JSON file with atomic
// replace semantics: a successful Save is durably visible to the next
// Load by the same process.
type FileStorage struct {
	path string
}

func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

func (f *FileStorage) Load() (*Document, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("corrupt metrics document: %w", err)
	}
	return &doc, nil
}

func (f *FileStorage) Save(doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return err
	}

	// Write to a temp file in the same directory, then rename over the
	// target so readers never observe a half-written document.
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	return os.Rename(tmp.Name(), f.path)
}
