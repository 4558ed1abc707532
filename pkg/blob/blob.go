// Package blob stores ciphertext blobs on local disk under deterministic,
// content-derived paths. A blob has no identity of its own: its location is
// a function of the owning record's content hash.
package blob

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// RefPrefixLen is how many hex characters of the content hash name a blob.
const RefPrefixLen = 16

var (
	// ErrNotFound indicates no blob exists at the given reference.
	ErrNotFound = errors.New("blob: not found")

	// ErrInvalidRef indicates a reference not produced by RefForHash.
	ErrInvalidRef = errors.New("blob: invalid storage reference")
)

// Store is a local-disk blob store rooted at a base directory. Blobs are
// sharded two levels deep by hash prefix to keep directory fan-out sane.
type Store struct {
	basePath string
}

func NewStore(basePath string) (*Store, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("blob: create base dir: %w", err)
	}
	return &Store{basePath: basePath}, nil
}

// RefForHash derives the storage reference for a content hash:
// the first two shard levels plus a RefPrefixLen-character name.
func RefForHash(contentHash string) string {
	return filepath.Join(contentHash[:2], contentHash[2:4], contentHash[:RefPrefixLen]+".enc")
}

// Write stores data at ref. The blob lands via a temp file and rename so a
// reader never observes a partial write.
func (s *Store) Write(ref string, data []byte) error {
	path, err := s.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("blob: create shard dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.basePath, "ingest-*")
	if err != nil {
		return fmt.Errorf("blob: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("blob: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("blob: close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("blob: move into place: %w", err)
	}
	return nil
}

// Read returns the blob at ref, or ErrNotFound.
func (s *Store) Read(ref string) ([]byte, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("blob: read %s: %w", ref, err)
	}
	return data, nil
}

// Delete removes the blob at ref. Deleting an absent blob is not an error.
func (s *Store) Delete(ref string) error {
	path, err := s.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blob: delete %s: %w", ref, err)
	}
	return nil
}

// Exists reports whether a blob is present at ref.
func (s *Store) Exists(ref string) bool {
	path, err := s.resolve(ref)
	if err != nil {
		return false
	}
	_, statErr := os.Stat(path)
	return statErr == nil
}

// resolve joins ref with the base directory, rejecting anything that would
// escape it.
func (s *Store) resolve(ref string) (string, error) {
	if ref == "" || filepath.IsAbs(ref) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	path := filepath.Join(s.basePath, ref)
	rel, err := filepath.Rel(s.basePath, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return path, nil
}
