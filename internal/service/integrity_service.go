package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/quill/internal/backup"
	"github.com/prn-tf/quill/internal/repository"
)

// IntegrityService runs the periodic data integrity check: admin account
// bootstrap, user table reconciliation and a rotated backup snapshot.
type IntegrityService struct {
	repo     *repository.Repository
	sessions *SessionService
	target   backup.Target
	interval time.Duration
	logger   zerolog.Logger
}

// NewIntegrityService creates a new IntegrityService. A nil target skips
// external snapshots; the in-store backup key is still written.
func NewIntegrityService(repo *repository.Repository, sessions *SessionService, target backup.Target, interval time.Duration, logger zerolog.Logger) *IntegrityService {
	return &IntegrityService{
		repo:     repo,
		sessions: sessions,
		target:   target,
		interval: interval,
		logger:   logger.With().Str("service", "integrity").Logger(),
	}
}

// Run performs checks on the configured interval until the context is
// cancelled. Intended to run in its own goroutine.
func (s *IntegrityService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CheckOnce(ctx)
		}
	}
}

// CheckOnce runs one full integrity pass.
func (s *IntegrityService) CheckOnce(ctx context.Context) {
	if err := s.sessions.EnsureAdminAccount(ctx); err != nil {
		s.logger.Error().Err(err).Msg("admin bootstrap failed during integrity check")
	}
	s.repo.ReconcileUsers(ctx)

	snap, data, err := s.repo.TakeSnapshot(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("snapshot failed")
		return
	}

	if s.target != nil {
		if err := s.target.Store(ctx, snap.Timestamp, data); err != nil {
			s.logger.Warn().Err(err).Msg("external backup failed")
		}
	}

	s.logger.Debug().
		Int("users", len(snap.Users)).
		Int("articles", len(snap.Articles)).
		Int("comments", len(snap.Comments)).
		Msg("integrity check complete")
}
