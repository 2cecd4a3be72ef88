package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/quill/internal/config"
	"github.com/prn-tf/quill/internal/kvstore"
	"github.com/prn-tf/quill/internal/lock"
	"github.com/prn-tf/quill/internal/repository"
	"github.com/prn-tf/quill/internal/service"
	"github.com/prn-tf/quill/internal/store"
)

const testCookie = "quill_session"

func newTestServer(t *testing.T) http.Handler {
	h, _ := newTestStack(t)
	return h
}

func newTestStack(t *testing.T) (http.Handler, *kvstore.MemoryStore) {
	t.Helper()

	backend := kvstore.NewMemoryStore()
	t.Cleanup(func() { backend.Close() })

	repo := repository.NewRepository(store.NewAdapter(backend, zerolog.Nop()), zerolog.Nop())
	hub := NewHub(zerolog.Nop())

	sessionCfg := config.SessionConfig{
		TTL:              24 * time.Hour,
		MaxAge:           30 * 24 * time.Hour,
		FailureThreshold: 5,
		LockoutDuration:  30 * time.Minute,
		CookieName:       testCookie,
	}
	adminCfg := config.AdminConfig{Password: "admin123", Email: "admin@quill.local"}
	viewCfg := config.ViewConfig{LeaseTTL: time.Minute, ReleaseDelay: 0, AuditInterval: time.Hour}

	sessions := service.NewSessionService(repo, hub, sessionCfg, adminCfg, zerolog.Nop())
	content := service.NewContentService(repo, hub, zerolog.Nop())
	views := service.NewViewService(repo, lock.NewMemoryLocker(), hub, hub, viewCfg, zerolog.Nop())

	require.NoError(t, sessions.EnsureAdminAccount(context.Background()))

	api := NewAPIHandler(APIConfig{
		SessionService: sessions,
		ContentService: content,
		ViewService:    views,
		Repository:     repo,
		Hub:            hub,
		CookieName:     testCookie,
		Logger:         zerolog.Nop(),
	})
	return api.Router(false, "/metrics"), backend
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == testCookie {
			return c
		}
	}
	t.Fatal("session cookie not set")
	return nil
}

func loginAdmin(t *testing.T, h http.Handler) *http.Cookie {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/login", map[string]string{
		"username": "admin", "password": "admin123",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	return sessionCookie(t, rec)
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, dest))
}

func TestHealthz(t *testing.T) {
	h := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "healthy")
}

func TestHealthzDegraded(t *testing.T) {
	h, backend := newTestStack(t)
	require.NoError(t, backend.Close())

	rec := doJSON(t, h, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "degraded")
}

func TestLoginWrongPassword(t *testing.T) {
	h := newTestServer(t)
	rec := doJSON(t, h, http.MethodPost, "/api/login", map[string]string{
		"username": "admin", "password": "nope123",
	}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "notification")
}

func TestArticleLifecycleOverHTTP(t *testing.T) {
	h := newTestServer(t)

	// Anonymous writes are refused.
	rec := doJSON(t, h, http.MethodPost, "/api/articles", map[string]string{
		"title": "Post", "category": "go", "content": "body",
	}, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	cookie := loginAdmin(t, h)

	rec = doJSON(t, h, http.MethodPost, "/api/articles", map[string]string{
		"title": "Post", "category": "go", "content": "body",
	}, cookie)
	require.Equal(t, http.StatusCreated, rec.Code)

	var article struct {
		ID    string `json:"id"`
		Views int64  `json:"views"`
	}
	decodeData(t, rec, &article)
	require.NotEmpty(t, article.ID)
	require.Zero(t, article.Views)

	// Registering a view counts once, then deduplicates.
	rec = doJSON(t, h, http.MethodPost, "/api/articles/"+article.ID+"/view", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var viewResult struct {
		Counted bool `json:"counted"`
		Article struct {
			Views int64 `json:"views"`
		} `json:"article"`
	}
	decodeData(t, rec, &viewResult)
	require.True(t, viewResult.Counted)
	require.Equal(t, int64(1), viewResult.Article.Views)

	rec = doJSON(t, h, http.MethodPost, "/api/articles/"+article.ID+"/view", nil, nil)
	decodeData(t, rec, &viewResult)
	require.False(t, viewResult.Counted)
	require.Equal(t, int64(1), viewResult.Article.Views)

	// The list surface shows it.
	rec = doJSON(t, h, http.MethodGet, "/api/articles", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var articles []struct {
		ID string `json:"id"`
	}
	decodeData(t, rec, &articles)
	require.Len(t, articles, 1)

	// Comments: anonymous visitors may post.
	rec = doJSON(t, h, http.MethodPost, "/api/articles/"+article.ID+"/comments", map[string]string{
		"author": "alice", "content": "great post",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/articles/"+article.ID+"/comments", nil, nil)
	var comments []struct {
		Author string `json:"author"`
	}
	decodeData(t, rec, &comments)
	require.Len(t, comments, 1)
	require.Equal(t, "alice", comments[0].Author)

	// Stats aggregate everything.
	rec = doJSON(t, h, http.MethodGet, "/api/stats", nil, nil)
	var stats struct {
		Articles   int   `json:"articles"`
		Comments   int   `json:"comments"`
		TotalViews int64 `json:"totalViews"`
	}
	decodeData(t, rec, &stats)
	require.Equal(t, 1, stats.Articles)
	require.Equal(t, 1, stats.Comments)
	require.Equal(t, int64(1), stats.TotalViews)

	// Delete as admin.
	rec = doJSON(t, h, http.MethodDelete, "/api/articles/"+article.ID, nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, h, http.MethodGet, "/api/articles/"+article.ID, nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCommentDeletionOverHTTP(t *testing.T) {
	h := newTestServer(t)
	cookie := loginAdmin(t, h)

	rec := doJSON(t, h, http.MethodPost, "/api/articles", map[string]string{
		"title": "Post", "category": "go", "content": "body",
	}, cookie)
	require.Equal(t, http.StatusCreated, rec.Code)
	var article struct {
		ID string `json:"id"`
	}
	decodeData(t, rec, &article)

	rec = doJSON(t, h, http.MethodPost, "/api/articles/"+article.ID+"/comments", map[string]string{
		"author": "alice", "content": "great post",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var comment struct {
		ID string `json:"id"`
	}
	decodeData(t, rec, &comment)
	require.NotEmpty(t, comment.ID)

	// Anonymous deletion is refused and leaves the comment in place.
	rec = doJSON(t, h, http.MethodDelete, "/api/admin/comments/"+comment.ID, nil, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/articles/"+article.ID+"/comments", nil, nil)
	var comments []struct {
		ID string `json:"id"`
	}
	decodeData(t, rec, &comments)
	require.Len(t, comments, 1)

	rec = doJSON(t, h, http.MethodDelete, "/api/admin/comments/"+comment.ID, nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/articles/"+article.ID+"/comments", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), comment.ID)
}

func TestRegisterAndSessionEndpoint(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/register", map[string]string{
		"username": "alice", "email": "alice@example.com",
		"password": "pass12", "confirmPassword": "pass12",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	cookie := sessionCookie(t, rec)

	rec = doJSON(t, h, http.MethodGet, "/api/session", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	var session struct {
		Username string `json:"username"`
		IsAdmin  bool   `json:"isAdmin"`
	}
	decodeData(t, rec, &session)
	require.Equal(t, "alice", session.Username)
	require.False(t, session.IsAdmin)

	// Logout clears the session; the cookie no longer resolves.
	rec = doJSON(t, h, http.MethodPost, "/api/logout", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/session", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "alice")
}

func TestAdminEndpointsGated(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/api/admin/users", nil, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	// A non-admin session is refused too.
	reg := doJSON(t, h, http.MethodPost, "/api/register", map[string]string{
		"username": "bob", "email": "bob@example.com",
		"password": "pass12", "confirmPassword": "pass12",
	}, nil)
	require.Equal(t, http.StatusCreated, reg.Code)
	rec = doJSON(t, h, http.MethodGet, "/api/admin/users", nil, sessionCookie(t, reg))
	require.Equal(t, http.StatusForbidden, rec.Code)

	cookie := loginAdmin(t, h)
	rec = doJSON(t, h, http.MethodGet, "/api/admin/users", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Total int `json:"total"`
		Users []struct {
			Username string `json:"username"`
		} `json:"users"`
	}
	decodeData(t, rec, &payload)
	require.Equal(t, 2, payload.Total)
	// Digests never appear in the response.
	require.NotContains(t, rec.Body.String(), "passwordDigest")
}
