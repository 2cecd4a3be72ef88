package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/quill/internal/domain"
	"github.com/prn-tf/quill/internal/repository"
)

// ContentService owns article and comment lifecycles plus the admin-gated
// moderation operations. Authorization is decided here, never in the
// handlers: every moderation call takes the acting session and refuses
// before any mutation.
type ContentService struct {
	repo     *repository.Repository
	notifier domain.Notifier
	logger   zerolog.Logger

	// saving is the single-flight guard against double article submission.
	saving atomic.Bool
}

// NewContentService creates a new ContentService.
func NewContentService(repo *repository.Repository, notifier domain.Notifier, logger zerolog.Logger) *ContentService {
	if notifier == nil {
		notifier = domain.NopNotifier{}
	}
	return &ContentService{
		repo:     repo,
		notifier: notifier,
		logger:   logger.With().Str("service", "content").Logger(),
	}
}

// requireAdmin refuses non-admin actors before any state is touched.
func requireAdmin(actor *domain.Session) error {
	if actor == nil || !actor.IsAdmin {
		return domain.ErrPermissionDenied
	}
	return nil
}

// =============================================================================
// Articles
// =============================================================================

// SaveArticleInput carries article fields. An empty ID means create.
type SaveArticleInput struct {
	ID       string
	Title    string
	Category string
	Content  string
}

// SaveArticle creates or edits an article. Edits overwrite title, category
// and content and bump the update timestamp; the view counter and creation
// timestamp are never touched. A second submission while one is in flight
// is rejected rather than queued.
func (s *ContentService) SaveArticle(ctx context.Context, actor *domain.Session, input SaveArticleInput) (*domain.Article, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if input.Title == "" || input.Category == "" || input.Content == "" {
		s.notifier.Notify(domain.Notification{
			Message: "Title, category and content are required", Kind: domain.NotifyError,
			DurationMs: 4000, AutoClose: true,
		})
		return nil, domain.NewDomainError(domain.ErrInvalidInput, ErrArticleFieldsEmpty.Error(), input.ID)
	}

	if !s.saving.CompareAndSwap(false, true) {
		return nil, ErrSaveInProgress
	}
	defer s.saving.Store(false)

	now := time.Now().UTC()
	var article *domain.Article
	if input.ID != "" {
		existing, found := s.repo.ArticleByID(input.ID)
		if !found {
			return nil, domain.NewDomainError(domain.ErrNotFound, "article", input.ID)
		}
		existing.Title = input.Title
		existing.Category = input.Category
		existing.Content = input.Content
		existing.UpdatedAt = now
		article = existing
	} else {
		article = domain.NewArticle(uuid.NewString(), input.Title, input.Category, input.Content)
	}

	s.repo.UpsertArticle(ctx, article)

	// The original system re-persisted the session alongside every article
	// save after losing logins to torn writes. Kept.
	if session := s.repo.Session(); session != nil {
		s.repo.SetSession(ctx, session)
	}

	s.logger.Info().Str("article", article.ID).Str("title", article.Title).Msg("article saved")
	s.notifier.Notify(domain.Notification{
		Message: "Article saved", Kind: domain.NotifySuccess,
		DurationMs: 3000, AutoClose: true,
	})
	return article, nil
}

// DeleteArticle removes the article and its comments.
func (s *ContentService) DeleteArticle(ctx context.Context, actor *domain.Session, articleID string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if _, found := s.repo.ArticleByID(articleID); !found {
		return domain.NewDomainError(domain.ErrNotFound, "article", articleID)
	}

	for _, c := range s.repo.CommentsForArticle(articleID) {
		s.repo.RemoveComment(ctx, c.ID)
	}
	s.repo.RemoveArticle(ctx, articleID)

	s.logger.Info().Str("article", articleID).Msg("article deleted")
	return nil
}

// ListArticles returns articles filtered by category and search term in
// the requested order.
func (s *ContentService) ListArticles(category, search string, order repository.ArticleSort) []*domain.Article {
	return s.repo.FilterArticles(category, search, order)
}

// GetArticle returns one article.
func (s *ContentService) GetArticle(articleID string) (*domain.Article, error) {
	article, found := s.repo.ArticleByID(articleID)
	if !found {
		return nil, domain.NewDomainError(domain.ErrNotFound, "article", articleID)
	}
	return article, nil
}

// ResetViews zeroes the view counter of one article, or of every article
// when articleID is empty.
func (s *ContentService) ResetViews(ctx context.Context, actor *domain.Session, articleID string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}

	if articleID != "" {
		article, found := s.repo.ArticleByID(articleID)
		if !found {
			return domain.NewDomainError(domain.ErrNotFound, "article", articleID)
		}
		article.Views = 0
		s.repo.UpsertArticle(ctx, article)
		return nil
	}

	for _, article := range s.repo.Articles() {
		article.Views = 0
		s.repo.UpsertArticle(ctx, article)
	}
	s.logger.Info().Msg("view counters reset")
	return nil
}

// =============================================================================
// Comments
// =============================================================================

// SubmitCommentInput carries comment fields. Author is ignored when the
// acting session is the administrator.
type SubmitCommentInput struct {
	ArticleID string
	Author    string
	Content   string
}

// SubmitComment adds a comment to an article. Content must be between 2
// and 1000 characters inclusive; a 2-character comment is accepted.
func (s *ContentService) SubmitComment(ctx context.Context, actor *domain.Session, input SubmitCommentInput) (*domain.Comment, error) {
	if input.ArticleID == "" {
		return nil, domain.NewDomainError(domain.ErrInvalidInput, "article id required", "")
	}
	if _, found := s.repo.ArticleByID(input.ArticleID); !found {
		return nil, domain.NewDomainError(domain.ErrNotFound, "article", input.ArticleID)
	}

	contentLen := len([]rune(input.Content))
	if contentLen < domain.CommentContentMin {
		return nil, domain.NewDomainError(domain.ErrInvalidInput, ErrCommentTooShort.Error(), input.ArticleID)
	}
	if contentLen > domain.CommentContentMax {
		return nil, domain.NewDomainError(domain.ErrInvalidInput, ErrCommentTooLong.Error(), input.ArticleID)
	}

	author := input.Author
	isAdmin := actor != nil && actor.IsAdmin
	if isAdmin {
		author = domain.AdminDisplayName
	} else {
		authorLen := len([]rune(author))
		if authorLen < domain.CommentAuthorMin || authorLen > domain.CommentAuthorMax {
			return nil, domain.NewDomainError(domain.ErrInvalidInput, ErrInvalidAuthorName.Error(), input.ArticleID)
		}
	}

	comment := domain.NewComment(uuid.NewString(), input.ArticleID, author, input.Content, isAdmin)
	s.repo.AddComment(ctx, comment)

	s.logger.Info().Str("article", input.ArticleID).Str("author", author).Msg("comment submitted")
	return comment, nil
}

// ListComments returns an article's comments, pinned first, then newest
// first.
func (s *ContentService) ListComments(articleID string) []*domain.Comment {
	return s.repo.CommentsForArticle(articleID)
}

// SetCommentPinned pins or unpins a comment.
func (s *ContentService) SetCommentPinned(ctx context.Context, actor *domain.Session, commentID string, pinned bool) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}

	comment, found := s.repo.CommentByID(commentID)
	if !found {
		return domain.NewDomainError(domain.ErrNotFound, "comment", commentID)
	}
	comment.IsPinned = pinned
	s.repo.UpdateComment(ctx, comment)
	return nil
}

// DeleteComment removes a comment.
func (s *ContentService) DeleteComment(ctx context.Context, actor *domain.Session, commentID string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}

	if _, found := s.repo.CommentByID(commentID); !found {
		return domain.NewDomainError(domain.ErrNotFound, "comment", commentID)
	}
	s.repo.RemoveComment(ctx, commentID)
	return nil
}

// =============================================================================
// User moderation
// =============================================================================

// ListUsers returns one page of users plus the total count.
func (s *ContentService) ListUsers(actor *domain.Session, offset, limit int) ([]*domain.User, int, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, 0, err
	}
	users, total := s.repo.UserPage(offset, limit)
	return users, total, nil
}

// SetUserLocked locks or unlocks an account. The administrator account is
// exempt unconditionally.
func (s *ContentService) SetUserLocked(ctx context.Context, actor *domain.Session, userID string, locked bool) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}

	user, found := s.repo.UserByID(userID)
	if !found {
		return domain.NewDomainError(domain.ErrUserNotFound, "user", userID)
	}
	if user.IsReservedAdmin() && locked {
		return domain.NewDomainError(domain.ErrPermissionDenied, ErrAdminUnlockable.Error(), user.Username)
	}

	user.IsLocked = locked
	if !locked {
		user.LockedUntil = nil
		user.LoginAttempts = 0
	}
	s.repo.UpdateUser(ctx, user)

	s.logger.Info().Str("username", user.Username).Bool("locked", locked).Msg("user lock changed")
	return nil
}

// EditUserInput carries moderation edits to a user record.
type EditUserInput struct {
	ID    string
	Email string
}

// EditUser applies moderation edits.
func (s *ContentService) EditUser(ctx context.Context, actor *domain.Session, input EditUserInput) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}

	user, found := s.repo.UserByID(input.ID)
	if !found {
		return domain.NewDomainError(domain.ErrUserNotFound, "user", input.ID)
	}
	if input.Email != "" {
		user.Email = input.Email
	}
	s.repo.UpdateUser(ctx, user)
	return nil
}

// DeleteUser removes an account and every comment it authored. Deleting
// the acting user's own account also ends their session. The administrator
// account cannot be deleted.
func (s *ContentService) DeleteUser(ctx context.Context, actor *domain.Session, userID string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}

	user, found := s.repo.UserByID(userID)
	if !found {
		return domain.NewDomainError(domain.ErrUserNotFound, "user", userID)
	}
	if user.IsReservedAdmin() {
		return domain.NewDomainError(domain.ErrPermissionDenied, ErrAdminUndeletable.Error(), user.Username)
	}

	removed := s.repo.RemoveCommentsByAuthor(ctx, user.Username)
	s.repo.RemoveUser(ctx, userID)

	if actor.Username == user.Username {
		s.repo.ClearSession(ctx)
	}

	s.logger.Info().Str("username", user.Username).Int("comments_removed", removed).Msg("user deleted")
	return nil
}

// Stats returns the aggregate counters for the stats surfaces.
func (s *ContentService) Stats() repository.Stats {
	return s.repo.Stats()
}
