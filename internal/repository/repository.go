// Package repository holds the canonical in-memory mirrors of the blog
// entities and keeps them synchronized with the persistent store adapter.
// No other component owns these collections: the session manager mutates
// users and the session, the view synchronizer increments views, the
// content manager edits articles and comments — all through here.
package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/quill/internal/domain"
	"github.com/prn-tf/quill/internal/kvstore"
	"github.com/prn-tf/quill/internal/store"
)

// Repository mirrors the persisted collections in memory.
// Mirrors are tab-local caches in the original's terms: reconciled with
// the shared store opportunistically, not transactionally. Callers must
// tolerate eventually-consistent cross-instance state.
type Repository struct {
	adapter *store.Adapter
	logger  zerolog.Logger

	mu       sync.RWMutex
	users    []*domain.User
	articles []*domain.Article
	comments []*domain.Comment
	session  *domain.Session
}

// NewRepository creates an empty repository over the adapter.
func NewRepository(adapter *store.Adapter, logger zerolog.Logger) *Repository {
	return &Repository{
		adapter: adapter,
		logger:  logger.With().Str("component", "repository").Logger(),
	}
}

// LoadAll populates every mirror from storage. Called once during the
// startup pipeline, after the admin bootstrap.
func (r *Repository) LoadAll(ctx context.Context) {
	r.ReconcileUsers(ctx)
	r.ReloadArticles(ctx)
	r.ReloadComments(ctx)
	r.ReloadSession(ctx)
}

// WatchChanges exposes the storage change feed for cross-instance
// propagation.
func (r *Repository) WatchChanges(ctx context.Context) (<-chan kvstore.Event, error) {
	return r.adapter.Watch(ctx)
}

// Probe checks storage backend availability.
func (r *Repository) Probe(ctx context.Context) error {
	return r.adapter.Probe(ctx)
}

// =============================================================================
// Users
// =============================================================================

// ReloadUsers replaces the user mirror with the persisted collection.
// Missing or unreadable data leaves the mirror empty-by-default; use
// ReconcileUsers when the mirror may be more trustworthy than the store.
func (r *Repository) ReloadUsers(ctx context.Context) {
	var users []*domain.User
	r.adapter.Load(ctx, store.KeyUsers, &users)

	r.mu.Lock()
	r.users = users
	r.mu.Unlock()
}

// FlushUsers writes the user mirror to storage. The mirror is copied
// before marshaling so a concurrent mutation cannot tear the write.
func (r *Repository) FlushUsers(ctx context.Context) bool {
	return r.adapter.Store(ctx, store.KeyUsers, r.Users())
}

// Users returns a copy of the user mirror.
func (r *Repository) Users() []*domain.User {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.User, len(r.users))
	for i, u := range r.users {
		c := *u
		out[i] = &c
	}
	return out
}

// UserByUsername returns a copy of the matching user.
func (r *Repository) UserByUsername(username string) (*domain.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if u.Username == username {
			c := *u
			return &c, true
		}
	}
	return nil, false
}

// UserByID returns a copy of the matching user.
func (r *Repository) UserByID(id string) (*domain.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if u.ID == id {
			c := *u
			return &c, true
		}
	}
	return nil, false
}

// EmailTaken reports whether any user has the given email.
func (r *Repository) EmailTaken(email string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			return true
		}
	}
	return false
}

// AddUser appends a user to the mirror and persists the collection.
func (r *Repository) AddUser(ctx context.Context, user *domain.User) bool {
	c := *user
	r.mu.Lock()
	r.users = append(r.users, &c)
	r.mu.Unlock()
	return r.FlushUsers(ctx)
}

// UpdateUser replaces the stored record matching user.ID and persists.
func (r *Repository) UpdateUser(ctx context.Context, user *domain.User) bool {
	c := *user
	r.mu.Lock()
	found := false
	for i, u := range r.users {
		if u.ID == user.ID {
			r.users[i] = &c
			found = true
			break
		}
	}
	r.mu.Unlock()

	if !found {
		return false
	}
	return r.FlushUsers(ctx)
}

// RemoveUser deletes the user from the mirror and persists. The cascade to
// the user's comments belongs to the content manager, not here.
func (r *Repository) RemoveUser(ctx context.Context, id string) bool {
	r.mu.Lock()
	found := false
	kept := r.users[:0]
	for _, u := range r.users {
		if u.ID == id {
			found = true
			continue
		}
		kept = append(kept, u)
	}
	r.users = kept
	r.mu.Unlock()

	if !found {
		return false
	}
	return r.FlushUsers(ctx)
}

// UserPage returns one page of users ordered by creation time descending,
// plus the total count.
func (r *Repository) UserPage(offset, limit int) ([]*domain.User, int) {
	users := r.Users()
	sort.Slice(users, func(i, j int) bool {
		return users[i].CreatedAt.After(users[j].CreatedAt)
	})

	total := len(users)
	if offset >= total {
		return nil, total
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return users[offset:end], total
}

// =============================================================================
// Articles
// =============================================================================

// ReloadArticles replaces the article mirror from storage. Articles with a
// missing views field deserialize to zero, honoring the never-undefined
// invariant.
func (r *Repository) ReloadArticles(ctx context.Context) {
	var articles []*domain.Article
	r.adapter.Load(ctx, store.KeyArticles, &articles)

	r.mu.Lock()
	r.articles = articles
	r.mu.Unlock()
}

// FlushArticles writes the article mirror to storage. The mirror is
// copied before marshaling so a concurrent mutation cannot tear the write.
func (r *Repository) FlushArticles(ctx context.Context) bool {
	return r.adapter.Store(ctx, store.KeyArticles, r.Articles())
}

// Articles returns a copy of the article mirror.
func (r *Repository) Articles() []*domain.Article {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Article, len(r.articles))
	for i, a := range r.articles {
		c := *a
		out[i] = &c
	}
	return out
}

// ArticleByID returns a copy of the matching article.
func (r *Repository) ArticleByID(id string) (*domain.Article, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, a := range r.articles {
		if a.ID == id {
			c := *a
			return &c, true
		}
	}
	return nil, false
}

// UpsertArticle inserts or replaces the article and persists.
func (r *Repository) UpsertArticle(ctx context.Context, article *domain.Article) bool {
	c := *article
	r.mu.Lock()
	replaced := false
	for i, a := range r.articles {
		if a.ID == article.ID {
			r.articles[i] = &c
			replaced = true
			break
		}
	}
	if !replaced {
		r.articles = append(r.articles, &c)
	}
	r.mu.Unlock()
	return r.FlushArticles(ctx)
}

// RemoveArticle deletes the article and persists. Its comments are left
// dangling on purpose; rendering queries skip them.
func (r *Repository) RemoveArticle(ctx context.Context, id string) bool {
	r.mu.Lock()
	found := false
	kept := r.articles[:0]
	for _, a := range r.articles {
		if a.ID == id {
			found = true
			continue
		}
		kept = append(kept, a)
	}
	r.articles = kept
	r.mu.Unlock()

	if !found {
		return false
	}
	return r.FlushArticles(ctx)
}

// ArticleSort orders for FilterArticles.
type ArticleSort string

// Article sort orders.
const (
	SortNewest ArticleSort = "newest"
	SortViews  ArticleSort = "views"
)

// FilterArticles returns articles matching the category and search term,
// in the requested order. Empty category matches all; the search term is
// matched case-insensitively against title and content.
func (r *Repository) FilterArticles(category, search string, order ArticleSort) []*domain.Article {
	articles := r.Articles()

	filtered := articles[:0]
	needle := strings.ToLower(search)
	for _, a := range articles {
		if category != "" && a.Category != category {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(a.Title), needle) &&
			!strings.Contains(strings.ToLower(a.Content), needle) {
			continue
		}
		filtered = append(filtered, a)
	}

	switch order {
	case SortViews:
		sort.Slice(filtered, func(i, j int) bool {
			if filtered[i].Views != filtered[j].Views {
				return filtered[i].Views > filtered[j].Views
			}
			return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
		})
	default:
		sort.Slice(filtered, func(i, j int) bool {
			return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
		})
	}
	return filtered
}

// TotalViews sums the view counters across the mirror.
func (r *Repository) TotalViews() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var total int64
	for _, a := range r.articles {
		total += a.Views
	}
	return total
}

// =============================================================================
// Comments
// =============================================================================

// ReloadComments replaces the comment mirror from storage.
func (r *Repository) ReloadComments(ctx context.Context) {
	var comments []*domain.Comment
	r.adapter.Load(ctx, store.KeyComments, &comments)

	r.mu.Lock()
	r.comments = comments
	r.mu.Unlock()
}

// FlushComments writes the comment mirror to storage. The mirror is
// copied before marshaling so a concurrent mutation cannot tear the write.
func (r *Repository) FlushComments(ctx context.Context) bool {
	return r.adapter.Store(ctx, store.KeyComments, r.Comments())
}

// Comments returns a copy of the comment mirror.
func (r *Repository) Comments() []*domain.Comment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Comment, len(r.comments))
	for i, c := range r.comments {
		cc := *c
		out[i] = &cc
	}
	return out
}

// CommentsForArticle returns the article's comments, pinned first, then
// newest first.
func (r *Repository) CommentsForArticle(articleID string) []*domain.Comment {
	r.mu.RLock()
	var out []*domain.Comment
	for _, c := range r.comments {
		if c.ArticleID == articleID {
			cc := *c
			out = append(out, &cc)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].IsPinned != out[j].IsPinned {
			return out[i].IsPinned
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// CommentByID returns a copy of the matching comment.
func (r *Repository) CommentByID(id string) (*domain.Comment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.comments {
		if c.ID == id {
			cc := *c
			return &cc, true
		}
	}
	return nil, false
}

// AddComment appends a comment and persists.
func (r *Repository) AddComment(ctx context.Context, comment *domain.Comment) bool {
	cc := *comment
	r.mu.Lock()
	r.comments = append(r.comments, &cc)
	r.mu.Unlock()
	return r.FlushComments(ctx)
}

// UpdateComment replaces the stored record matching comment.ID and persists.
func (r *Repository) UpdateComment(ctx context.Context, comment *domain.Comment) bool {
	cc := *comment
	r.mu.Lock()
	found := false
	for i, c := range r.comments {
		if c.ID == comment.ID {
			r.comments[i] = &cc
			found = true
			break
		}
	}
	r.mu.Unlock()

	if !found {
		return false
	}
	return r.FlushComments(ctx)
}

// RemoveComment deletes the comment and persists.
func (r *Repository) RemoveComment(ctx context.Context, id string) bool {
	r.mu.Lock()
	found := false
	kept := r.comments[:0]
	for _, c := range r.comments {
		if c.ID == id {
			found = true
			continue
		}
		kept = append(kept, c)
	}
	r.comments = kept
	r.mu.Unlock()

	if !found {
		return false
	}
	return r.FlushComments(ctx)
}

// RemoveCommentsByAuthor deletes every comment by the author and persists.
// Returns the number removed.
func (r *Repository) RemoveCommentsByAuthor(ctx context.Context, author string) int {
	r.mu.Lock()
	removed := 0
	kept := r.comments[:0]
	for _, c := range r.comments {
		if c.Author == author {
			removed++
			continue
		}
		kept = append(kept, c)
	}
	r.comments = kept
	r.mu.Unlock()

	if removed > 0 {
		r.FlushComments(ctx)
	}
	return removed
}

// CommentCount returns the number of comments in the mirror.
func (r *Repository) CommentCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.comments)
}

// =============================================================================
// Session
// =============================================================================

// ReloadSession replaces the session mirror from storage.
func (r *Repository) ReloadSession(ctx context.Context) {
	var session *domain.Session
	if !r.adapter.Load(ctx, store.KeySession, &session) {
		session = nil
	}

	r.mu.Lock()
	r.session = session
	r.mu.Unlock()
}

// Session returns a copy of the current session, or nil when logged out.
func (r *Repository) Session() *domain.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.session == nil {
		return nil
	}
	c := *r.session
	return &c
}

// SetSession installs the session in memory and storage.
func (r *Repository) SetSession(ctx context.Context, session *domain.Session) bool {
	c := *session
	r.mu.Lock()
	r.session = &c
	r.mu.Unlock()
	return r.adapter.Store(ctx, store.KeySession, &c)
}

// ClearSession removes the session from memory and storage.
func (r *Repository) ClearSession(ctx context.Context) {
	r.mu.Lock()
	r.session = nil
	r.mu.Unlock()
	r.adapter.Remove(ctx, store.KeySession)
}

// =============================================================================
// First-load flag
// =============================================================================

// FirstLoad reports whether the logged-out view has never been forced for
// this storage origin.
func (r *Repository) FirstLoad(ctx context.Context) bool {
	var seen bool
	r.adapter.Load(ctx, store.KeyFirstLoadFlag, &seen)
	return !seen
}

// MarkLoaded records that the first-load view was shown.
func (r *Repository) MarkLoaded(ctx context.Context) {
	r.adapter.Store(ctx, store.KeyFirstLoadFlag, true)
}

// =============================================================================
// Statistics
// =============================================================================

// Stats summarizes the collections for the stats surfaces.
type Stats struct {
	Articles    int       `json:"articles"`
	Comments    int       `json:"comments"`
	Users       int       `json:"users"`
	TotalViews  int64     `json:"totalViews"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// Snapshot of the current stats.
func (r *Repository) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var views int64
	for _, a := range r.articles {
		views += a.Views
	}
	return Stats{
		Articles:    len(r.articles),
		Comments:    len(r.comments),
		Users:       len(r.users),
		TotalViews:  views,
		GeneratedAt: time.Now().UTC(),
	}
}
