package store

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/1F47E/geo-viewport-cache/pkg/viewcache"
)

const snapshotVersion = 1

// snapshot is the gob layout of a cache file
type snapshot struct {
	Version int
	Entries []viewcache.Entry
}

// File keeps the snapshot in a single gob file
type File struct {
	path string
}

// NewFile returns a store writing to path
func NewFile(path string) *File {
	return &File{path: path}
}

// SaveEntries writes entries to a temporary file and renames it over the
// target, so readers never see a partial snapshot
func (f *File) SaveEntries(ctx context.Context, entries []viewcache.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(snapshot{Version: snapshotVersion, Entries: entries}); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}

	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// LoadEntries reads the snapshot. A missing file is an empty snapshot.
func (f *File) LoadEntries(ctx context.Context) ([]viewcache.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer file.Close()

	var s snapshot
	if err := gob.NewDecoder(file).Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if s.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: unknown version %d", ErrCorrupt, s.Version)
	}
	return s.Entries, nil
}

// Path returns the snapshot location
func (f *File) Path() string {
	return f.path
}
