package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"klaus/types"
)

// ErrMixedDimensions marks an index holding vectors from more than one
// embedding model.
var ErrMixedDimensions = errors.New("index mixes embedding dimensions")

// IndexStorer persists the embedded knowledge base.
type IndexStorer interface {
	LoadIndex(context.Context) ([]types.EmbeddedFact, error)
	SaveIndex(context.Context, []types.EmbeddedFact) error
}

// FileIndex keeps the vector index as a JSON array of {id, text, embedding}.
type FileIndex struct {
	path string
}

func NewFileIndex(path string) *FileIndex {
	return &FileIndex{path: path}
}

func (f *FileIndex) Path() string { return f.path }

// LoadIndex returns an empty index when the file does not exist.
func (f *FileIndex) LoadIndex(_ context.Context) ([]types.EmbeddedFact, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index %s: %w", f.path, err)
	}

	var facts []types.EmbeddedFact
	if err := json.Unmarshal(data, &facts); err != nil {
		return nil, fmt.Errorf("decode index %s: %w", f.path, err)
	}
	if err := checkDimensions(facts); err != nil {
		return nil, fmt.Errorf("index %s: %w", f.path, err)
	}
	return facts, nil
}

func checkDimensions(facts []types.EmbeddedFact) error {
	if len(facts) == 0 {
		return nil
	}
	dim := len(facts[0].Embedding)
	for _, f := range facts {
		if len(f.Embedding) != dim || dim == 0 {
			return fmt.Errorf("%w: %s has %d, %s has %d", ErrMixedDimensions, facts[0].ID, dim, f.ID, len(f.Embedding))
		}
	}
	return nil
}

// SaveIndex writes to a temp file in the same directory and renames it over
// the old index, so readers never see a partial file.
func (f *FileIndex) SaveIndex(_ context.Context, facts []types.EmbeddedFact) error {
	if facts == nil {
		facts = []types.EmbeddedFact{}
	}
	data, err := json.MarshalIndent(facts, "", "  ")
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".kb_embeddings-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}
