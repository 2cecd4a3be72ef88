package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/prn-tf/quill/internal/domain"
	"github.com/prn-tf/quill/internal/metrics"
	"github.com/prn-tf/quill/internal/repository"
	"github.com/prn-tf/quill/internal/service"
)

// APIHandler exposes the blog operations over HTTP.
type APIHandler struct {
	sessions   *service.SessionService
	content    *service.ContentService
	views      *service.ViewService
	repo       *repository.Repository
	hub        *Hub
	cookieName string
	logger     zerolog.Logger
}

// APIConfig contains configuration for the API handler.
type APIConfig struct {
	SessionService *service.SessionService
	ContentService *service.ContentService
	ViewService    *service.ViewService
	Repository     *repository.Repository
	Hub            *Hub
	CookieName     string
	Logger         zerolog.Logger
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(cfg APIConfig) *APIHandler {
	return &APIHandler{
		sessions:   cfg.SessionService,
		content:    cfg.ContentService,
		views:      cfg.ViewService,
		repo:       cfg.Repository,
		hub:        cfg.Hub,
		cookieName: cfg.CookieName,
		logger:     cfg.Logger.With().Str("component", "api").Logger(),
	}
}

// Router builds the chi router with all routes registered.
func (h *APIHandler) Router(metricsEnabled bool, metricsPath string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)

	r.Get("/healthz", h.handleHealth)
	if metricsEnabled {
		r.Handle(metricsPath, metrics.Handler())
	}
	r.Get("/ws", h.hub.ServeWS)

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", h.handleLogin)
		r.Post("/register", h.handleRegister)
		r.Post("/logout", h.handleLogout)
		r.Get("/session", h.handleSession)

		r.Get("/articles", h.handleListArticles)
		r.Post("/articles", h.handleSaveArticle)
		r.Get("/articles/{id}", h.handleGetArticle)
		r.Delete("/articles/{id}", h.handleDeleteArticle)
		r.Post("/articles/{id}/view", h.handleRegisterView)

		r.Get("/articles/{id}/comments", h.handleListComments)
		r.Post("/articles/{id}/comments", h.handleSubmitComment)

		r.Get("/stats", h.handleStats)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/users", h.handleListUsers)
			r.Post("/users/{id}/lock", h.handleLockUser)
			r.Post("/users/{id}/unlock", h.handleUnlockUser)
			r.Put("/users/{id}", h.handleEditUser)
			r.Delete("/users/{id}", h.handleDeleteUser)
			r.Post("/comments/{id}/pin", h.handlePinComment)
			r.Post("/comments/{id}/unpin", h.handleUnpinComment)
			r.Delete("/comments/{id}", h.handleDeleteComment)
			r.Post("/views/reset", h.handleResetViews)
		})
	})

	return r
}

// requestLogger logs one line per request in the zerolog idiom.
func (h *APIHandler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// =============================================================================
// Session helpers
// =============================================================================

// currentSession resolves the acting session. The cookie carries only the
// session id; the persisted session record stays the source of truth.
func (h *APIHandler) currentSession(r *http.Request) *domain.Session {
	cookie, err := r.Cookie(h.cookieName)
	if err != nil {
		return nil
	}
	session := h.repo.Session()
	if session == nil || session.ID != cookie.Value {
		return nil
	}
	if !h.sessions.ValidateSession(session) {
		return nil
	}
	return session
}

func (h *APIHandler) setSessionCookie(w http.ResponseWriter, session *domain.Session) {
	cookie := &http.Cookie{
		Name:     h.cookieName,
		Value:    session.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if session.SessionExpiry != nil {
		cookie.Expires = *session.SessionExpiry
	}
	http.SetCookie(w, cookie)
}

func (h *APIHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name: h.cookieName, Value: "", Path: "/", MaxAge: -1, HttpOnly: true,
	})
}

// =============================================================================
// Response helpers
// =============================================================================

// response is the uniform JSON envelope. Notifications ride along so the
// client can surface them without a second round trip.
type response struct {
	Data         any                  `json:"data,omitempty"`
	Notification *domain.Notification `json:"notification,omitempty"`
	Error        string               `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, resp response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// writeError maps domain errors onto HTTP statuses and a notification.
func (h *APIHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := domain.NotifyError

	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrUserNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrUserAlreadyExists), errors.Is(err, service.ErrSaveInProgress):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrAccountLocked):
		status = http.StatusLocked
	}

	writeJSON(w, status, response{
		Error: err.Error(),
		Notification: &domain.Notification{
			Message: err.Error(), Kind: kind,
			DurationMs: 4000, AutoClose: status != http.StatusLocked,
		},
	})
}

func decode(r *http.Request, dest any) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return domain.NewDomainError(domain.ErrInvalidInput, "malformed request body", "")
	}
	return nil
}

// =============================================================================
// Auth endpoints
// =============================================================================

func (h *APIHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decode(r, &body); err != nil {
		h.writeError(w, err)
		return
	}

	session, err := h.sessions.Login(r.Context(), service.LoginInput{
		Username: body.Username,
		Password: body.Password,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.setSessionCookie(w, session)
	writeJSON(w, http.StatusOK, response{Data: session})
}

func (h *APIHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username        string `json:"username"`
		Email           string `json:"email"`
		Password        string `json:"password"`
		ConfirmPassword string `json:"confirmPassword"`
	}
	if err := decode(r, &body); err != nil {
		h.writeError(w, err)
		return
	}

	session, err := h.sessions.Register(r.Context(), service.RegisterInput{
		Username:        body.Username,
		Email:           body.Email,
		Password:        body.Password,
		ConfirmPassword: body.ConfirmPassword,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.setSessionCookie(w, session)
	writeJSON(w, http.StatusCreated, response{Data: session})
}

func (h *APIHandler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Logout(r.Context())
	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, response{})
}

func (h *APIHandler) handleSession(w http.ResponseWriter, r *http.Request) {
	session := h.currentSession(r)
	if session == nil {
		writeJSON(w, http.StatusOK, response{})
		return
	}
	writeJSON(w, http.StatusOK, response{Data: session})
}

// =============================================================================
// Article endpoints
// =============================================================================

func (h *APIHandler) handleListArticles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	order := repository.SortNewest
	if q.Get("sort") == string(repository.SortViews) {
		order = repository.SortViews
	}
	articles := h.content.ListArticles(q.Get("category"), q.Get("search"), order)
	writeJSON(w, http.StatusOK, response{Data: articles})
}

func (h *APIHandler) handleGetArticle(w http.ResponseWriter, r *http.Request) {
	article, err := h.content.GetArticle(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Data: article})
}

func (h *APIHandler) handleSaveArticle(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		Category string `json:"category"`
		Content  string `json:"content"`
	}
	if err := decode(r, &body); err != nil {
		h.writeError(w, err)
		return
	}

	article, err := h.content.SaveArticle(r.Context(), h.currentSession(r), service.SaveArticleInput{
		ID:       body.ID,
		Title:    body.Title,
		Category: body.Category,
		Content:  body.Content,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	status := http.StatusOK
	if body.ID == "" {
		status = http.StatusCreated
	}
	writeJSON(w, status, response{Data: article})
}

func (h *APIHandler) handleDeleteArticle(w http.ResponseWriter, r *http.Request) {
	if err := h.content.DeleteArticle(r.Context(), h.currentSession(r), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response{})
}

func (h *APIHandler) handleRegisterView(w http.ResponseWriter, r *http.Request) {
	article, counted, err := h.views.RegisterView(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Data: map[string]any{
		"article": article,
		"counted": counted,
	}})
}

// =============================================================================
// Comment endpoints
// =============================================================================

func (h *APIHandler) handleListComments(w http.ResponseWriter, r *http.Request) {
	comments := h.content.ListComments(chi.URLParam(r, "id"))
	writeJSON(w, http.StatusOK, response{Data: comments})
}

func (h *APIHandler) handleSubmitComment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Author  string `json:"author"`
		Content string `json:"content"`
	}
	if err := decode(r, &body); err != nil {
		h.writeError(w, err)
		return
	}

	comment, err := h.content.SubmitComment(r.Context(), h.currentSession(r), service.SubmitCommentInput{
		ArticleID: chi.URLParam(r, "id"),
		Author:    body.Author,
		Content:   body.Content,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, response{Data: comment})
}

// =============================================================================
// Admin endpoints
// =============================================================================

func (h *APIHandler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		limit = 50
	}

	users, total, err := h.content.ListUsers(h.currentSession(r), offset, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}

	// Digests never leave the server.
	type userView struct {
		ID            string     `json:"id"`
		Username      string     `json:"username"`
		Email         string     `json:"email"`
		IsAdmin       bool       `json:"isAdmin"`
		IsLocked      bool       `json:"isLocked"`
		LockedUntil   *time.Time `json:"lockedUntil"`
		CreatedAt     time.Time  `json:"createdAt"`
		LastLogin     time.Time  `json:"lastLogin"`
		LoginAttempts int        `json:"loginAttempts"`
	}
	views := make([]userView, len(users))
	for i, u := range users {
		views[i] = userView{
			ID: u.ID, Username: u.Username, Email: u.Email,
			IsAdmin: u.IsAdmin, IsLocked: u.IsLocked, LockedUntil: u.LockedUntil,
			CreatedAt: u.CreatedAt, LastLogin: u.LastLogin, LoginAttempts: u.LoginAttempts,
		}
	}

	writeJSON(w, http.StatusOK, response{Data: map[string]any{
		"users": views,
		"total": total,
	}})
}

func (h *APIHandler) handleLockUser(w http.ResponseWriter, r *http.Request) {
	h.setUserLocked(w, r, true)
}

func (h *APIHandler) handleUnlockUser(w http.ResponseWriter, r *http.Request) {
	h.setUserLocked(w, r, false)
}

func (h *APIHandler) setUserLocked(w http.ResponseWriter, r *http.Request, locked bool) {
	err := h.content.SetUserLocked(r.Context(), h.currentSession(r), chi.URLParam(r, "id"), locked)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response{})
}

func (h *APIHandler) handleEditUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decode(r, &body); err != nil {
		h.writeError(w, err)
		return
	}

	err := h.content.EditUser(r.Context(), h.currentSession(r), service.EditUserInput{
		ID:    chi.URLParam(r, "id"),
		Email: body.Email,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response{})
}

func (h *APIHandler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	actor := h.currentSession(r)
	userID := chi.URLParam(r, "id")

	// Deleting your own account ends the session; remember before mutation.
	var self bool
	if actor != nil {
		if u, found := h.repo.UserByID(userID); found {
			self = u.Username == actor.Username
		}
	}

	if err := h.content.DeleteUser(r.Context(), actor, userID); err != nil {
		h.writeError(w, err)
		return
	}
	if self {
		h.clearSessionCookie(w)
	}
	writeJSON(w, http.StatusOK, response{})
}

func (h *APIHandler) handlePinComment(w http.ResponseWriter, r *http.Request) {
	h.setCommentPinned(w, r, true)
}

func (h *APIHandler) handleUnpinComment(w http.ResponseWriter, r *http.Request) {
	h.setCommentPinned(w, r, false)
}

func (h *APIHandler) setCommentPinned(w http.ResponseWriter, r *http.Request, pinned bool) {
	err := h.content.SetCommentPinned(r.Context(), h.currentSession(r), chi.URLParam(r, "id"), pinned)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response{})
}

func (h *APIHandler) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	err := h.content.DeleteComment(r.Context(), h.currentSession(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response{})
}

func (h *APIHandler) handleResetViews(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ArticleID string `json:"articleId"`
	}
	if err := decode(r, &body); err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.content.ResetViews(r.Context(), h.currentSession(r), body.ArticleID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response{})
}

// =============================================================================
// Misc endpoints
// =============================================================================

func (h *APIHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, response{Data: h.content.Stats()})
}

func (h *APIHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if err := h.repo.Probe(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, response{Data: map[string]string{"status": status}})
}
