package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// FileTarget stores snapshots as dated files in a directory.
type FileTarget struct {
	dir    string
	keep   int
	logger zerolog.Logger
}

// NewFileTarget creates the directory if needed.
func NewFileTarget(dir string, keep int, logger zerolog.Logger) (*FileTarget, error) {
	if keep <= 0 {
		keep = DefaultKeep
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	return &FileTarget{
		dir:    dir,
		keep:   keep,
		logger: logger.With().Str("component", "backup").Logger(),
	}, nil
}

// Store writes one snapshot file and prunes beyond the retention count.
func (t *FileTarget) Store(ctx context.Context, takenAt time.Time, data []byte) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	name := snapshotName(takenAt)
	path := filepath.Join(t.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}

	names, err := t.List(ctx)
	if err != nil {
		return err
	}
	for len(names) > t.keep {
		oldest := names[0]
		if err := os.Remove(filepath.Join(t.dir, oldest)); err != nil {
			t.logger.Warn().Err(err).Str("file", oldest).Msg("failed to prune backup")
			break
		}
		names = names[1:]
	}

	t.logger.Debug().Str("file", name).Msg("backup written")
	return nil
}

// List returns retained snapshot names, oldest first.
func (t *FileTarget) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name())
		}
	}
	// Dated names sort chronologically.
	sort.Strings(names)
	return names, nil
}

// Ensure FileTarget implements Target.
var _ Target = (*FileTarget)(nil)
