// Package local implements a filesystem-backed archive cache.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/JakeFAU/fre-lookup/internal/hash/sha256"
	"github.com/JakeFAU/fre-lookup/internal/lookup"
)

const (
	blobExt = ".blob"
	keyExt  = ".key"
)

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the root directory where blobs will be stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// BlobStore writes archives to the local filesystem. Cache keys are URLs, so each entry is
// stored under the SHA-256 of its key with a sidecar file holding the key itself.
type BlobStore struct {
	baseDir string
}

var _ lookup.BlobCache = (*BlobStore)(nil)

// New creates a new local filesystem-backed blob store.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	// Check if the directory exists and is writable.
	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
				return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
			}
		} else {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &BlobStore{baseDir: cfg.BaseDir}, nil
}

// Get reads the archive stored under key.
func (s *BlobStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	base := s.entryPath(key)
	// #nosec G304 -- path is derived from a hex digest inside baseDir.
	data, err := os.ReadFile(base + blobExt)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, true, nil
}

// Put writes data atomically: the blob is renamed into place before its key file appears.
func (s *BlobStore) Put(_ context.Context, key string, data []byte) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("key is required")
	}
	base := s.entryPath(key)
	if err := writeAtomic(base+blobExt, data); err != nil {
		return err
	}
	return writeAtomic(base+keyExt, []byte(key))
}

// Keys lists every cached key in lexical order.
func (s *BlobStore) Keys(_ context.Context) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.baseDir, "*"+keyExt))
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	keys := make([]string, 0, len(matches))
	for _, m := range matches {
		// #nosec G304 -- path comes from globbing baseDir.
		raw, err := os.ReadFile(m)
		if err != nil {
			return nil, fmt.Errorf("failed to read key file: %w", err)
		}
		keys = append(keys, string(raw))
	}
	sort.Strings(keys)
	return keys, nil
}

// Purge removes every cached entry but keeps the base directory.
func (s *BlobStore) Purge(_ context.Context) error {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return fmt.Errorf("failed to list base directory: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || (!strings.HasSuffix(name, blobExt) && !strings.HasSuffix(name, keyExt)) {
			continue
		}
		if err := os.Remove(filepath.Join(s.baseDir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	return nil
}

func (s *BlobStore) entryPath(key string) string {
	return filepath.Join(s.baseDir, sha256.EntryName(key))
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to move file into place: %w", err)
	}
	return nil
}
