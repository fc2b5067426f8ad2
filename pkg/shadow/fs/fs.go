// Package fs stores shadows as plain files in a local directory.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/shadow"
)

// Store keeps every shadow in one file under a base directory.
//
// Writers stage into a temporary file in the same directory and rename it
// over the shadow on Close, so readers never see a partial write.
//
// Thread Safety:
// The store holds no in-process state besides the base path; concurrency is
// left to the operating system.
type Store struct {
	basePath string
}

var _ shadow.Store = (*Store)(nil)

// New creates a store rooted at basePath, creating the directory if needed.
//
// Parameters:
//   - ctx: Context for cancellation
//   - basePath: Directory holding shadow files
//
// Returns:
//   - *Store: Initialized store
//   - error: Returns error if directory creation fails or context is cancelled
func New(ctx context.Context, basePath string) (*Store, error) {
	// ========================================================================
	// Step 1: Check context before filesystem operation
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 2: Create the base directory if it doesn't exist
	// ========================================================================

	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create shadow directory: %w", err)
	}

	return &Store{basePath: basePath}, nil
}

// BasePath returns the directory holding shadow files.
func (s *Store) BasePath() string { return s.basePath }

func (s *Store) filePath(id shadow.ID) string {
	return filepath.Join(s.basePath, string(id)+".shadow")
}

func (s *Store) Create(ctx context.Context) (shadow.ID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := shadow.NewID()
	f, err := os.OpenFile(s.filePath(id), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create shadow file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to create shadow file: %w", err)
	}
	logger.Debug("shadow: created %s", s.filePath(id))
	return id, nil
}

func (s *Store) OpenWriter(ctx context.Context, id shadow.ID) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := s.Stat(ctx, id); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(s.basePath, string(id)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to stage shadow write: %w", err)
	}
	return &writer{File: tmp, target: s.filePath(id)}, nil
}

func (s *Store) OpenReader(ctx context.Context, id shadow.ID) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.filePath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("shadow %s: %w", id, shadow.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open shadow file: %w", err)
	}
	return f, nil
}

func (s *Store) Stat(ctx context.Context, id shadow.ID) (shadow.Info, error) {
	if err := ctx.Err(); err != nil {
		return shadow.Info{}, err
	}
	fi, err := os.Stat(s.filePath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return shadow.Info{}, fmt.Errorf("shadow %s: %w", id, shadow.ErrNotFound)
		}
		return shadow.Info{}, fmt.Errorf("failed to stat shadow file: %w", err)
	}
	return shadow.Info{Size: fi.Size(), ModTime: fi.ModTime()}, nil
}

func (s *Store) Delete(ctx context.Context, id shadow.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(s.filePath(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete shadow file: %w", err)
	}
	return nil
}

func (s *Store) IDs(ctx context.Context) ([]shadow.ID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list shadow directory: %w", err)
	}
	var ids []shadow.ID
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ".shadow"); ok && e.Type().IsRegular() {
			ids = append(ids, shadow.ID(name))
		}
	}
	return ids, nil
}

// Close keeps the shadow files on disk.
func (s *Store) Close() error { return nil }

type writer struct {
	*os.File
	target string
	done   bool
}

func (w *writer) Close() error {
	if w.done {
		return nil
	}
	w.done = true

	if err := w.File.Close(); err != nil {
		_ = os.Remove(w.File.Name())
		return fmt.Errorf("failed to close shadow file: %w", err)
	}
	if err := os.Rename(w.File.Name(), w.target); err != nil {
		_ = os.Remove(w.File.Name())
		return fmt.Errorf("failed to commit shadow file: %w", err)
	}
	return nil
}
