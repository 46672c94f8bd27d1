package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ludexhq/ludex/pkg/catalog"
	"github.com/ludexhq/ludex/pkg/downloads"
	"github.com/ludexhq/ludex/pkg/feed"
	"github.com/ludexhq/ludex/pkg/remote"
)

// CommentFeed is the slice of the comment synchronizer the API serves.
type CommentFeed interface {
	Window() []feed.Comment
	Len() int
	Publish(ctx context.Context, pub feed.Publication) (*feed.Comment, error)
}

// CatalogProvider serves stable copies of catalog pages.
type CatalogProvider interface {
	RenderPage(ctx context.Context, page int, query string) (catalog.Entry, error)
}

// VisibleReporter absorbs visible-id reports from the shell viewport.
type VisibleReporter interface {
	NoteVisible(ids []string)
}

type commentsResponse struct {
	Comments []feed.Comment `json:"comments"`
	Total    int            `json:"total"`
}

type publishRequest struct {
	Body        string `json:"body"`
	EntityID    string `json:"entity_id"`
	EntityLabel string `json:"entity_label"`
}

type catalogPageResponse struct {
	Query string         `json:"query"`
	Page  int            `json:"page"`
	Total int            `json:"total"`
	Items []catalog.Item `json:"items"`
}

type visibleRequest struct {
	IDs []string `json:"ids"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Status    int    `json:"status"`
	Retryable bool   `json:"retryable,omitempty"`
}

// searchTracker remembers the last committed search term so prefs is written
// only when it changes.
type searchTracker struct {
	mu   sync.Mutex
	term string
}

func newSearchTracker(term string) *searchTracker {
	return &searchTracker{term: term}
}

// Commit records term and reports whether it differs from the previous one.
func (t *searchTracker) Commit(term string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if term == t.term {
		return false
	}
	t.term = term
	return true
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Feed == nil {
		respondError(w, http.StatusServiceUnavailable, errors.New("comment feed not configured"))
		return
	}
	window := s.cfg.Feed.Window()
	if window == nil {
		window = []feed.Comment{}
	}
	respondJSON(w, http.StatusOK, commentsResponse{Comments: window, Total: s.cfg.Feed.Len()})
}

func (s *Server) handlePublishComment(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Feed == nil {
		respondError(w, http.StatusServiceUnavailable, errors.New("comment feed not configured"))
		return
	}

	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		respondError(w, http.StatusBadRequest, errors.New("comment body required"))
		return
	}

	comment, err := s.cfg.Feed.Publish(r.Context(), feed.Publication{
		Body:        req.Body,
		EntityID:    req.EntityID,
		EntityLabel: req.EntityLabel,
	})
	if err != nil {
		respondError(w, statusForError(err), err)
		return
	}
	respondJSON(w, http.StatusCreated, comment)
}

func (s *Server) handleCatalogPage(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Catalog == nil {
		respondError(w, http.StatusServiceUnavailable, errors.New("catalog not configured"))
		return
	}

	query := r.URL.Query().Get("query")
	page := parsePage(r.URL.Query().Get("page"))

	entry, err := s.cfg.Catalog.RenderPage(r.Context(), page, query)
	if err != nil {
		respondError(w, statusForError(err), err)
		return
	}

	s.commitSearch(r.Context(), entry.Key.Query)

	items := entry.Items
	if items == nil {
		items = []catalog.Item{}
	}
	respondJSON(w, http.StatusOK, catalogPageResponse{
		Query: entry.Key.Query,
		Page:  entry.Key.Page,
		Total: entry.Total,
		Items: items,
	})
}

// commitSearch persists the normalized term once per change. A failed write
// is logged and otherwise ignored; the loaded page is still served.
func (s *Server) commitSearch(ctx context.Context, term string) {
	if s.cfg.Prefs == nil || !s.search.Commit(term) {
		return
	}
	if err := s.cfg.Prefs.SetLastSearch(ctx, term); err != nil {
		s.logger.Warn("persisting last search failed", zap.Error(err))
	}
}

func (s *Server) handleCatalogVisible(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Visible == nil {
		respondError(w, http.StatusServiceUnavailable, errors.New("refresher not configured"))
		return
	}

	var req visibleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	s.cfg.Visible.NoteVisible(req.IDs)
	respondJSON(w, http.StatusAccepted, map[string]int{"accepted": len(req.IDs)})
}

// gameRefFromRequest builds the correlation reference from the path and
// query. The app path segment always participates; the rest are optional.
func gameRefFromRequest(r *http.Request) downloads.GameRef {
	q := r.URL.Query()
	return downloads.GameRef{
		AppID:  chi.URLParam(r, "app"),
		GameID: q.Get("game"),
		Slug:   q.Get("slug"),
		Title:  q.Get("title"),
	}
}

func (s *Server) handleDownloadState(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Downloads == nil {
		respondError(w, http.StatusServiceUnavailable, errors.New("download engine not configured"))
		return
	}

	ctrl := s.cfg.Downloads.Controller(gameRefFromRequest(r))
	state, err := ctrl.State(r.Context())
	if err != nil {
		respondError(w, statusForError(err), err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

func (s *Server) handleDownloadToggle(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Downloads == nil {
		respondError(w, http.StatusServiceUnavailable, errors.New("download engine not configured"))
		return
	}

	ctrl := s.cfg.Downloads.Controller(gameRefFromRequest(r))
	state, err := ctrl.Toggle(r.Context())
	if err != nil {
		respondError(w, statusForError(err), err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

func (s *Server) handleDownloadStop(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Downloads == nil {
		respondError(w, http.StatusServiceUnavailable, errors.New("download engine not configured"))
		return
	}

	ctrl := s.cfg.Downloads.Controller(gameRefFromRequest(r))
	state, err := ctrl.Stop(r.Context())
	if err != nil {
		respondError(w, statusForError(err), err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

// parsePage parses a zero-based page index, treating anything unparseable or
// negative as page zero.
func parsePage(raw string) int {
	if raw == "" {
		return 0
	}
	if v, err := strconv.Atoi(raw); err == nil && v > 0 {
		return v
	}
	return 0
}

// statusForError maps component errors onto HTTP statuses for the shell.
func statusForError(err error) int {
	switch {
	case errors.Is(err, feed.ErrSignInRequired):
		return http.StatusUnauthorized
	case errors.Is(err, downloads.ErrNoTask):
		return http.StatusNotFound
	case errors.Is(err, feed.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	var apiErr *remote.APIError
	if errors.As(err, &apiErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondJSON sends a JSON response with appropriate headers.
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// respondError sends a structured JSON error response.
func respondError(w http.ResponseWriter, status int, err error) {
	resp := errorResponse{
		Error:  http.StatusText(status),
		Status: status,
	}
	if err != nil {
		resp.Error = err.Error()
	}
	var apiErr *remote.APIError
	if errors.As(err, &apiErr) {
		resp.Retryable = apiErr.Retryable
	}
	respondJSON(w, status, resp)
}
