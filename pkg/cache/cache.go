// Package cache stores build artifacts across pipeline runs, addressed by a
// key derived from dependency lockfile content. The cache is never
// authoritative: a miss only means a slower from-scratch run.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"

	"github.com/litetx/ltxkit/pkg/errors"
)

const defaultRootDir = "~/.cache/ltxkit"

// Key derives a cache key from the given lockfiles, resolved relative to
// projectDir. Unchanged lockfile content always yields the same key.
func Key(prefix string, projectDir string, lockfiles []string) (string, error) {
	hash := sha256.New()

	for _, name := range lockfiles {
		file, err := os.Open(filepath.Join(projectDir, name))
		if err != nil {
			return "", fmt.Errorf("Failed to hash lockfile %s: %w", name, err)
		}
		_, _ = io.WriteString(hash, name)
		if _, err := io.Copy(hash, file); err != nil {
			file.Close()
			return "", fmt.Errorf("Failed to hash lockfile %s: %w", name, err)
		}
		file.Close()
	}

	return prefix + "-" + hex.EncodeToString(hash.Sum(nil)), nil
}

// Store saves and restores directory trees by key.
type Store interface {
	// Restore extracts the entry for key into dir. A missing entry is reported
	// as a CACHE_MISS coded error so callers can treat it as non-fatal.
	Restore(ctx context.Context, key string, dir string) error
	// Save stores the tree rooted at dir under key, replacing any previous entry.
	Save(ctx context.Context, key string, dir string) error
}

// LocalStore keeps cache entries as tarballs in a directory.
type LocalStore struct {
	rootDir string
}

func NewLocalStore(rootDir string) (*LocalStore, error) {
	if rootDir == "" {
		rootDir = defaultRootDir
	}
	rootDir, err := homedir.Expand(rootDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, err
	}
	return &LocalStore{rootDir: rootDir}, nil
}

func (s *LocalStore) Restore(ctx context.Context, key string, dir string) error {
	file, err := os.Open(s.pathForKey(key))
	if os.IsNotExist(err) {
		return errors.CacheMiss(fmt.Sprintf("no cache entry for %s", key))
	} else if err != nil {
		return err
	}
	defer file.Close()

	if err := extractArchive(file, dir); err != nil {
		return fmt.Errorf("Failed to restore cache entry %s: %w", key, err)
	}
	return nil
}

func (s *LocalStore) Save(ctx context.Context, key string, dir string) error {
	tmp, err := os.CreateTemp(s.rootDir, key+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := archiveDir(tmp, dir); err != nil {
		tmp.Close()
		return fmt.Errorf("Failed to save cache entry %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), s.pathForKey(key))
}

func (s *LocalStore) pathForKey(key string) string {
	return filepath.Join(s.rootDir, key+".tar.gz")
}
