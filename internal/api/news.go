package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dutschedule/dutnotify/internal/domain"
	"github.com/dutschedule/dutnotify/internal/refresh"
	"github.com/dutschedule/dutnotify/internal/session"
)

// NewsHandler serves the shared news feeds and per-device news search.
type NewsHandler struct {
	*Handler
}

// NewNewsHandler creates a new NewsHandler.
func NewNewsHandler(h *Handler) *NewsHandler {
	return &NewsHandler{Handler: h}
}

// RegisterRoutes registers news routes.
func (h *NewsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/news", func(r chi.Router) {
		r.Post("/search", h.Search)
		r.Get("/search/history", h.SearchHistory)
		r.Delete("/search/history", h.ClearSearchHistory)
		r.Get("/{kind}", h.GetNews)
		r.Post("/{kind}/more", h.LoadMore)
	})
}

type newsResponse struct {
	State           refresh.State     `json:"state"`
	LastCompletedAt int64             `json:"last_completed_at"`
	Items           []domain.NewsItem `json:"items"`
	NextPage        int               `json:"next_page,omitempty"`
	Error           string            `json:"error,omitempty"`
}

func newNewsResponse(snap refresh.Snapshot[[]domain.NewsItem], nextPage int) newsResponse {
	resp := newsResponse{
		State:           snap.State,
		LastCompletedAt: snap.LastCompletedAt,
		Items:           []domain.NewsItem{},
		NextPage:        nextPage,
	}
	if snap.Value != nil {
		resp.Items = *snap.Value
	}
	if snap.Err != nil {
		resp.Error = snap.Err.Error()
	}
	return resp
}

func (h *NewsHandler) feed(w http.ResponseWriter, r *http.Request) (*session.NewsFeed, bool) {
	kind, err := domain.ParseNewsType(chi.URLParam(r, "kind"))
	if err != nil {
		Error(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	feed, err := h.sessions.Feed(kind)
	if err != nil {
		Error(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return feed, true
}

// GetNews handles GET /api/news/{kind}.
// Refreshes the first page unless it is still fresh; ?force=true bypasses the TTL.
func (h *NewsHandler) GetNews(w http.ResponseWriter, r *http.Request) {
	feed, ok := h.feed(w, r)
	if !ok {
		return
	}
	snap, err := feed.RefreshWait(r.Context(), queryBool(r, "force"))
	if err != nil {
		slog.Debug("News refresh wait ended early", "kind", feed.Kind(), "error", err)
	}
	JSON(w, http.StatusOK, newNewsResponse(snap, feed.NextPage()))
}

// LoadMore handles POST /api/news/{kind}/more.
func (h *NewsHandler) LoadMore(w http.ResponseWriter, r *http.Request) {
	feed, ok := h.feed(w, r)
	if !ok {
		return
	}
	snap, err := feed.LoadMoreWait(r.Context())
	if err != nil {
		slog.Debug("News load more wait ended early", "kind", feed.Kind(), "error", err)
	}
	JSON(w, http.StatusOK, newNewsResponse(snap, feed.NextPage()))
}

type searchRequest struct {
	Query     string `json:"query"`
	Method    string `json:"method"`
	Type      string `json:"type"`
	StartOver bool   `json:"start_over"`
}

// Search handles POST /api/news/search.
func (h *NewsHandler) Search(w http.ResponseWriter, r *http.Request) {
	d, ok := h.device(w, r)
	if !ok {
		return
	}

	var req searchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	q := session.SearchQuery{Query: req.Query, StartOver: req.StartOver}
	var err error
	if q.Method, err = domain.ParseNewsSearchType(req.Method); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Type != "" {
		if q.Type, err = domain.ParseNewsType(req.Type); err != nil {
			Error(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	snap, started, err := d.Search.SearchWait(r.Context(), q)
	if err != nil {
		slog.Warn("News search failed", "device_id", d.ID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to run search")
		return
	}
	status := http.StatusOK
	if !started && snap.State == refresh.Running {
		status = http.StatusAccepted
	}
	JSON(w, status, newNewsResponse(snap, 0))
}

// SearchHistory handles GET /api/news/search/history.
func (h *NewsHandler) SearchHistory(w http.ResponseWriter, r *http.Request) {
	d, ok := h.device(w, r)
	if !ok {
		return
	}
	history, err := d.Search.History(r.Context())
	if err != nil {
		slog.Error("Failed to load search history", "device_id", d.ID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load search history")
		return
	}
	if history == nil {
		history = []domain.NewsSearchHistory{}
	}
	JSON(w, http.StatusOK, history)
}

// ClearSearchHistory handles DELETE /api/news/search/history.
func (h *NewsHandler) ClearSearchHistory(w http.ResponseWriter, r *http.Request) {
	d, ok := h.device(w, r)
	if !ok {
		return
	}
	if err := d.Search.ClearHistory(r.Context()); err != nil {
		slog.Error("Failed to clear search history", "device_id", d.ID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to clear search history")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
