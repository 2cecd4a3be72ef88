package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/quill/internal/domain"
	"github.com/prn-tf/quill/internal/kvstore"
	"github.com/prn-tf/quill/internal/store"
)

func newTestRepo(t *testing.T) (*Repository, *store.Adapter) {
	t.Helper()
	backend := kvstore.NewMemoryStore()
	t.Cleanup(func() { backend.Close() })
	adapter := store.NewAdapter(backend, zerolog.Nop())
	return NewRepository(adapter, zerolog.Nop()), adapter
}

func TestArticleRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo, adapter := newTestRepo(t)

	article := domain.NewArticle("a1", "First Post", "go", "Hello world")
	require.True(t, repo.UpsertArticle(ctx, article))

	// A second repository over the same adapter reloads what the first
	// wrote, like a second instance over one shared store.
	other := NewRepository(adapter, zerolog.Nop())
	other.ReloadArticles(ctx)

	got, found := other.ArticleByID("a1")
	require.True(t, found)
	require.Equal(t, "First Post", got.Title)
	require.Equal(t, "go", got.Category)
	require.Equal(t, int64(0), got.Views)
}

func TestArticleCopiesDoNotAlias(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	require.True(t, repo.UpsertArticle(ctx, domain.NewArticle("a1", "Title", "cat", "body")))

	got, found := repo.ArticleByID("a1")
	require.True(t, found)
	got.Title = "mutated"

	again, _ := repo.ArticleByID("a1")
	require.Equal(t, "Title", again.Title)
}

func TestConcurrentFlushAndUpdateKeepsTableIntact(t *testing.T) {
	ctx := context.Background()
	repo, adapter := newTestRepo(t)

	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("u%d", i)
		require.True(t, repo.AddUser(ctx, domain.NewUser(id, "user"+id, id+"@example.com", "digest")))
	}

	// Flushes marshal a copy of the mirror, so a concurrent update must
	// never tear the persisted collection.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			repo.FlushUsers(ctx)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			u := domain.NewUser("u5", "useru5", fmt.Sprintf("u5-%d@example.com", i), "digest")
			repo.UpdateUser(ctx, u)
		}
	}()
	wg.Wait()

	other := NewRepository(adapter, zerolog.Nop())
	other.ReloadUsers(ctx)
	require.Len(t, other.Users(), 20)
}

func TestFilterArticles(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	old := domain.NewArticle("a1", "Go Generics", "go", "type parameters")
	old.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	old.Views = 10
	mid := domain.NewArticle("a2", "SQL Tips", "db", "indexes and joins")
	mid.CreatedAt = time.Now().UTC().Add(-time.Hour)
	mid.Views = 50
	fresh := domain.NewArticle("a3", "Go Routines", "go", "concurrency")
	fresh.Views = 20

	for _, a := range []*domain.Article{old, mid, fresh} {
		require.True(t, repo.UpsertArticle(ctx, a))
	}

	tests := []struct {
		name     string
		category string
		search   string
		order    ArticleSort
		wantIDs  []string
	}{
		{name: "all newest first", order: SortNewest, wantIDs: []string{"a3", "a2", "a1"}},
		{name: "all by views", order: SortViews, wantIDs: []string{"a2", "a3", "a1"}},
		{name: "category filter", category: "go", order: SortNewest, wantIDs: []string{"a3", "a1"}},
		{name: "search title case-insensitive", search: "go", order: SortNewest, wantIDs: []string{"a3", "a1"}},
		{name: "search content", search: "indexes", order: SortNewest, wantIDs: []string{"a2"}},
		{name: "no match", search: "rust", order: SortNewest, wantIDs: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := repo.FilterArticles(tt.category, tt.search, tt.order)
			var ids []string
			for _, a := range got {
				ids = append(ids, a.ID)
			}
			require.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestCommentsPinnedFirstThenNewest(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	base := time.Now().UTC()
	mk := func(id string, age time.Duration, pinned bool) *domain.Comment {
		c := domain.NewComment(id, "a1", "alice", "some comment", false)
		c.CreatedAt = base.Add(-age)
		c.IsPinned = pinned
		return c
	}

	require.True(t, repo.AddComment(ctx, mk("c1", 3*time.Hour, false)))
	require.True(t, repo.AddComment(ctx, mk("c2", 2*time.Hour, true)))
	require.True(t, repo.AddComment(ctx, mk("c3", time.Hour, false)))
	require.True(t, repo.AddComment(ctx, repoCommentOther()))

	got := repo.CommentsForArticle("a1")
	require.Len(t, got, 3)
	require.Equal(t, "c2", got[0].ID)
	require.Equal(t, "c3", got[1].ID)
	require.Equal(t, "c1", got[2].ID)
}

func repoCommentOther() *domain.Comment {
	return domain.NewComment("cx", "a2", "bob", "unrelated", false)
}

func TestRemoveCommentsByAuthor(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	for _, id := range []string{"c1", "c2", "c3"} {
		require.True(t, repo.AddComment(ctx, domain.NewComment(id, "a1", "mallory", "spam spam", false)))
	}
	require.True(t, repo.AddComment(ctx, domain.NewComment("c4", "a1", "alice", "legit", false)))

	removed := repo.RemoveCommentsByAuthor(ctx, "mallory")
	require.Equal(t, 3, removed)
	require.Equal(t, 1, repo.CommentCount())

	repo.ReloadComments(ctx)
	require.Equal(t, 1, repo.CommentCount())
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	require.Nil(t, repo.Session())

	session := &domain.Session{ID: "s1", Username: "alice", LoginTime: time.Now().UTC()}
	require.True(t, repo.SetSession(ctx, session))

	repo.ReloadSession(ctx)
	got := repo.Session()
	require.NotNil(t, got)
	require.Equal(t, "alice", got.Username)

	repo.ClearSession(ctx)
	require.Nil(t, repo.Session())
	repo.ReloadSession(ctx)
	require.Nil(t, repo.Session())
}

func TestFirstLoadFlag(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	require.True(t, repo.FirstLoad(ctx))
	repo.MarkLoaded(ctx)
	require.False(t, repo.FirstLoad(ctx))
}

func TestUserPage(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	base := time.Now().UTC()
	for i, name := range []string{"u1", "u2", "u3"} {
		u := domain.NewUser(name, name, name+"@example.com", "digest")
		u.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.True(t, repo.AddUser(ctx, u))
	}

	page, total := repo.UserPage(0, 2)
	require.Equal(t, 3, total)
	require.Len(t, page, 2)
	require.Equal(t, "u3", page[0].Username)
	require.Equal(t, "u2", page[1].Username)

	page, _ = repo.UserPage(2, 2)
	require.Len(t, page, 1)
	require.Equal(t, "u1", page[0].Username)

	page, _ = repo.UserPage(5, 2)
	require.Empty(t, page)
}

func TestStatsTotals(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	a := domain.NewArticle("a1", "One", "go", "x")
	a.Views = 3
	b := domain.NewArticle("a2", "Two", "go", "y")
	b.Views = 4
	require.True(t, repo.UpsertArticle(ctx, a))
	require.True(t, repo.UpsertArticle(ctx, b))
	require.True(t, repo.AddComment(ctx, domain.NewComment("c1", "a1", "alice", "hi there", false)))

	stats := repo.Stats()
	require.Equal(t, 2, stats.Articles)
	require.Equal(t, 1, stats.Comments)
	require.Equal(t, int64(7), stats.TotalViews)
	require.Equal(t, int64(7), repo.TotalViews())
}
