package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prn-tf/quill/internal/domain"
	"github.com/prn-tf/quill/internal/metrics"
	"github.com/prn-tf/quill/internal/store"
)

// ReconcileUsers loads the persisted user table, repairing it when it
// contradicts in-memory state. Repair writes flow in one direction only:
// memory to store, never a silent in-memory overwrite from a suspect read.
//
// Three conditions trigger a repair:
//   - the store reads back empty or unreadable while the mirror is
//     non-empty (a torn or lost write),
//   - the admin record vanished from the table while the mirror still
//     holds it,
//   - malformed records are present among readable ones.
func (r *Repository) ReconcileUsers(ctx context.Context) {
	var loaded []*domain.User
	ok := r.adapter.Load(ctx, store.KeyUsers, &loaded)

	r.mu.Lock()
	mirrorLen := len(r.users)
	mirrorHasAdmin := hasAdmin(r.users)
	r.mu.Unlock()

	if (!ok || len(loaded) == 0) && mirrorLen > 0 {
		r.logger.Warn().
			Int("mirror", mirrorLen).
			Msg("user table read back empty, rewriting from memory")
		metrics.UserTableRepairs.Inc()
		r.FlushUsers(ctx)
		return
	}

	if mirrorHasAdmin && !hasAdmin(loaded) {
		r.logger.Warn().Msg("admin record missing from user table, rewriting from memory")
		metrics.UserTableRepairs.Inc()
		r.FlushUsers(ctx)
		return
	}

	cleaned := loaded[:0]
	dropped := 0
	for _, u := range loaded {
		if u == nil || !u.Valid() {
			dropped++
			continue
		}
		cleaned = append(cleaned, u)
	}

	r.mu.Lock()
	r.users = cleaned
	r.mu.Unlock()

	if dropped > 0 {
		r.logger.Warn().
			Int("dropped", dropped).
			Msg("malformed user records removed from table")
		metrics.UserTableRepairs.Inc()
		r.FlushUsers(ctx)
	}
}

func hasAdmin(users []*domain.User) bool {
	for _, u := range users {
		if u != nil && u.Username == domain.AdminUsername {
			return true
		}
	}
	return false
}

// Snapshot is the integrity-check backup payload. It mirrors the shape
// kept under the backup key: every collection plus the session at the
// moment the snapshot was taken.
type Snapshot struct {
	Timestamp   time.Time         `json:"timestamp"`
	Users       []*domain.User    `json:"users"`
	Articles    []*domain.Article `json:"articles"`
	Comments    []*domain.Comment `json:"comments"`
	CurrentUser *domain.Session   `json:"currentUser"`
}

// TakeSnapshot captures the mirrors into a snapshot and persists it under
// the backup key. The marshaled bytes are returned for external targets.
func (r *Repository) TakeSnapshot(ctx context.Context) (*Snapshot, []byte, error) {
	r.mu.RLock()
	snap := &Snapshot{
		Timestamp: time.Now().UTC(),
		Users:     append([]*domain.User(nil), r.users...),
		Articles:  append([]*domain.Article(nil), r.articles...),
		Comments:  append([]*domain.Comment(nil), r.comments...),
	}
	if r.session != nil {
		c := *r.session
		snap.CurrentUser = &c
	}
	r.mu.RUnlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return nil, nil, err
	}

	r.adapter.Store(ctx, store.KeyDataBackup, snap)
	return snap, data, nil
}

// RestoreSnapshot loads the persisted backup, if any.
func (r *Repository) RestoreSnapshot(ctx context.Context) (*Snapshot, bool) {
	var snap Snapshot
	if !r.adapter.Load(ctx, store.KeyDataBackup, &snap) {
		return nil, false
	}
	if snap.Timestamp.IsZero() {
		return nil, false
	}
	return &snap, true
}
