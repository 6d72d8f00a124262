package ontology

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/OFFIS-RIT/agentkg/pkg/common"
)

// ErrVersionNotFound is returned when a requested version was never saved.
var ErrVersionNotFound = errors.New("ontology version not found")

// SchemaStore persists ontology versions per domain.
type SchemaStore interface {
	// Latest returns the newest version, or nil when the domain has none.
	Latest(ctx context.Context, domain string) (*Schema, error)
	Version(ctx context.Context, domain string, version int) (*Schema, error)
	Save(ctx context.Context, domain string, s *Schema) error
}

// FileStore keeps one indented JSON file per version plus latest.json in a
// directory per domain.
type FileStore struct {
	root string
}

func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

func (f *FileStore) dir(domain string) string {
	name := common.SanitizeIdentifier(domain, common.LowerCase)
	if name == "" {
		name = "default"
	}
	return filepath.Join(f.root, name)
}

func (f *FileStore) Latest(ctx context.Context, domain string) (*Schema, error) {
	s, err := readSchema(filepath.Join(f.dir(domain), "latest.json"))
	if errors.Is(err, ErrVersionNotFound) {
		return nil, nil
	}
	return s, err
}

func (f *FileStore) Version(ctx context.Context, domain string, version int) (*Schema, error) {
	return readSchema(filepath.Join(f.dir(domain), fmt.Sprintf("v%04d.json", version)))
}

// Save writes the version file and then replaces latest.json. The document
// counter moves between versions, so saving the same version twice rewrites it.
func (f *FileStore) Save(ctx context.Context, domain string, s *Schema) error {
	dir := f.dir(domain)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create ontology dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ontology: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, fmt.Sprintf("v%04d.json", s.Version)), data); err != nil {
		return err
	}
	return writeAtomic(filepath.Join(dir, "latest.json"), data)
}

func readSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, filepath.Base(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ontology: %w", err)
	}
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode ontology %s: %w", path, err)
	}
	return &s, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ontology-*")
	if err != nil {
		return fmt.Errorf("failed to write ontology: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write ontology: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write ontology: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write ontology: %w", err)
	}
	return nil
}
