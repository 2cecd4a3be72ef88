// Package backup provides snapshot targets for integrity-check backups.
// A target stores dated snapshots and keeps at most a fixed number of them.
package backup

import (
	"context"
	"time"
)

// DefaultKeep is the number of dated snapshots retained by a target.
const DefaultKeep = 5

// Target stores dated backup snapshots.
type Target interface {
	// Store writes one snapshot and prunes the oldest snapshots beyond
	// the retention count.
	Store(ctx context.Context, takenAt time.Time, data []byte) error

	// List returns the names of retained snapshots, oldest first.
	List(ctx context.Context) ([]string, error)
}

// snapshotName formats the dated object/file name for a snapshot.
func snapshotName(takenAt time.Time) string {
	return "quill-backup-" + takenAt.UTC().Format("20060102T150405Z") + ".json"
}
