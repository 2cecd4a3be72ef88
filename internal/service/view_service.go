package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/quill/internal/config"
	"github.com/prn-tf/quill/internal/domain"
	"github.com/prn-tf/quill/internal/lock"
	"github.com/prn-tf/quill/internal/metrics"
	"github.com/prn-tf/quill/internal/repository"
	"github.com/prn-tf/quill/internal/store"
)

// ViewService synchronizes article view counters across instances sharing
// one storage backend. Correctness model: a view is counted at most once
// per instance lifetime, and concurrent instances suppress each other
// through a short-lived lease rather than a transaction. Suppressed views
// are an accepted undercount, lost updates are not.
type ViewService struct {
	repo     *repository.Repository
	locker   lock.Locker
	renderer Renderer
	notifier domain.Notifier
	cfg      config.ViewConfig
	logger   zerolog.Logger

	mu     sync.Mutex
	viewed map[string]bool

	// lastTotal is the aggregate the renderer saw last; the audit compares
	// storage against it.
	lastTotal int64
}

// NewViewService creates a new ViewService.
func NewViewService(repo *repository.Repository, locker lock.Locker, renderer Renderer, notifier domain.Notifier, cfg config.ViewConfig, logger zerolog.Logger) *ViewService {
	if renderer == nil {
		renderer = NopRenderer{}
	}
	if notifier == nil {
		notifier = domain.NopNotifier{}
	}
	return &ViewService{
		repo:     repo,
		locker:   locker,
		renderer: renderer,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With().Str("service", "view").Logger(),
		viewed:   make(map[string]bool),
	}
}

// RegisterView counts one view of the article. Returns the article as it
// stands after the attempt and whether the counter was incremented.
//
// The flow is deliberate:
//  1. the local marker short-circuits repeat views from this instance
//     without touching storage;
//  2. the lease suppresses concurrent writers;
//  3. the counter is re-read fresh before the increment so another
//     instance's writes are never overwritten with stale state;
//  4. the lease is released on a delay, widening the suppression window
//     past the write.
func (s *ViewService) RegisterView(ctx context.Context, articleID string) (*domain.Article, bool, error) {
	s.mu.Lock()
	seen := s.viewed[articleID]
	s.viewed[articleID] = true
	s.mu.Unlock()

	if seen {
		metrics.ViewsSuppressed.WithLabelValues("local").Inc()
		article, found := s.repo.ArticleByID(articleID)
		if !found {
			return nil, false, domain.NewDomainError(domain.ErrNotFound, "article", articleID)
		}
		return article, false, nil
	}

	lease, ok, err := s.locker.TryAcquire(ctx, store.ViewLockKey(articleID), s.cfg.LeaseTTL)
	if err != nil {
		s.logger.Warn().Err(err).Str("article", articleID).Msg("view lock unavailable")
	}
	if !ok {
		// Another instance is counting this view.
		metrics.ViewsSuppressed.WithLabelValues("lease").Inc()
		s.repo.ReloadArticles(ctx)
		article, found := s.repo.ArticleByID(articleID)
		if !found {
			return nil, false, domain.NewDomainError(domain.ErrNotFound, "article", articleID)
		}
		s.refresh()
		return article, false, nil
	}

	// Re-read before write.
	s.repo.ReloadArticles(ctx)
	article, found := s.repo.ArticleByID(articleID)
	if !found {
		s.locker.Release(ctx, store.ViewLockKey(articleID), lease)
		return nil, false, domain.NewDomainError(domain.ErrNotFound, "article", articleID)
	}

	article.Views++
	s.repo.UpsertArticle(ctx, article)
	metrics.ViewsRecorded.Inc()

	time.AfterFunc(s.cfg.ReleaseDelay, func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := s.locker.Release(releaseCtx, store.ViewLockKey(articleID), lease); err != nil {
			s.logger.Debug().Err(err).Str("article", articleID).Msg("view lock release failed")
		}
	})

	s.logger.Debug().Str("article", articleID).Int64("views", article.Views).Msg("view recorded")
	s.refresh()
	return article, true, nil
}

// Run consumes the storage change feed and drives the periodic audit until
// the context is cancelled. Intended to run in its own goroutine.
func (s *ViewService) Run(ctx context.Context) {
	events, err := s.repo.WatchChanges(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("change feed unavailable, relying on audit only")
	}

	ticker := time.NewTicker(s.cfg.AuditInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-events:
			if !open {
				events = nil
				continue
			}
			if ev.Key == store.KeyArticles {
				s.repo.ReloadArticles(ctx)
				s.refresh()
			}
		case <-ticker.C:
			s.audit(ctx)
		}
	}
}

// audit reloads the counters from storage and corrects the rendered
// aggregate when it drifted. Read-only with respect to storage: the one
// mutation it could imply, defaulting a missing counter to zero, already
// happens on deserialization.
func (s *ViewService) audit(ctx context.Context) {
	s.repo.ReloadArticles(ctx)
	total := s.repo.TotalViews()

	s.mu.Lock()
	drifted := total != s.lastTotal
	s.mu.Unlock()

	if drifted {
		s.logger.Warn().Int64("stored", total).Int64("rendered", s.lastTotal).
			Msg("view totals drifted, correcting render")
		s.notifier.Notify(domain.Notification{
			Message: "View counts were refreshed", Kind: domain.NotifyWarning,
			DurationMs: 3000, AutoClose: true,
		})
		s.refresh()
	}
}

// refresh pushes the current collection and stats to every surface.
func (s *ViewService) refresh() {
	articles := s.repo.FilterArticles("", "", repository.SortNewest)
	stats := s.repo.Stats()

	s.mu.Lock()
	s.lastTotal = stats.TotalViews
	s.mu.Unlock()

	s.renderer.Refresh(articles, stats)
}
