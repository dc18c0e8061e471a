package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tribridrag/tribridrag/domain/manifest"
)

// ErrManifestNotFound indicates no manifest exists for the corpus.
var ErrManifestNotFound = errors.New("manifest not found")

// ManifestStore persists one manifest per corpus_id as a JSON file,
// written with stage-and-rename semantics so a reader never observes a
// half-updated manifest.
type ManifestStore struct {
	dir string
}

// NewManifestStore creates a ManifestStore rooted at dir (created if
// absent).
func NewManifestStore(dir string) (*ManifestStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create manifest dir: %w", err)
	}
	return &ManifestStore{dir: dir}, nil
}

// Get loads the manifest for corpusID.
func (s *ManifestStore) Get(ctx context.Context, corpusID string) (manifest.Manifest, error) {
	if err := ctx.Err(); err != nil {
		return manifest.Manifest{}, err
	}
	raw, err := os.ReadFile(s.path(corpusID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return manifest.Manifest{}, fmt.Errorf("%w: corpus %s", ErrManifestNotFound, corpusID)
		}
		return manifest.Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m manifest.Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return manifest.Manifest{}, fmt.Errorf("decode manifest for corpus %s: %w", corpusID, err)
	}
	return m, nil
}

// Put atomically replaces the manifest for m's corpus: the new content is
// staged to a temp file in the same directory and renamed into place.
func (s *ManifestStore) Put(ctx context.Context, m manifest.Manifest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	path := s.path(m.CorpusID)
	tmp, err := os.CreateTemp(s.dir, ".manifest-*")
	if err != nil {
		return fmt.Errorf("stage manifest: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close manifest: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("commit manifest: %w", err)
	}
	return nil
}

// Delete removes the manifest for corpusID. Deleting an absent manifest
// is not an error.
func (s *ManifestStore) Delete(ctx context.Context, corpusID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(s.path(corpusID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete manifest: %w", err)
	}
	return nil
}

// List returns the corpus ids that have a manifest.
func (s *ManifestStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

// path sanitizes the corpus id into a filename; corpus ids are
// caller-chosen strings and must not escape the manifest directory.
func (s *ManifestStore) path(corpusID string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, corpusID)
	return filepath.Join(s.dir, safe+".json")
}
