package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"storyline/internal/core"
	"storyline/internal/narrative"
	"storyline/internal/persistence"

	"github.com/go-chi/chi/v5"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	defaultLocale    = "en"
)

// HealthResponse reports dependency checks
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// ItemsResponse wraps an item listing
type ItemsResponse struct {
	Items  []core.FeedItem `json:"items"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// TimelineResponse is a thread with its members in order
type TimelineResponse struct {
	Thread  *core.StoryThread `json:"thread"`
	Entries []TimelineEntry   `json:"entries"`
}

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"database": "ok"}
	if err := s.store.Ping(r.Context()); err != nil {
		checks["database"] = "error"
		s.respondJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Checks: checks})
		return
	}
	s.respondJSON(w, http.StatusOK, HealthResponse{Status: "ok", Checks: checks})
}

// handleListItems handles GET /api/items?category=&since=&until=&limit=&offset=
func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := persistence.ListOptions{Category: strings.ToLower(strings.TrimSpace(q.Get("category")))}

	var err error
	if opts.Limit, err = intParam(q.Get("limit"), defaultListLimit); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if opts.Limit > maxListLimit {
		opts.Limit = maxListLimit
	}
	if opts.Offset, err = intParam(q.Get("offset"), 0); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	if opts.Since, err = timeParam(q.Get("since")); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid since: "+err.Error())
		return
	}
	if opts.Until, err = timeParam(q.Get("until")); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid until: "+err.Error())
		return
	}

	items, err := s.store.FeedItems().List(r.Context(), opts)
	if err != nil {
		s.log.Error("Failed to list items", "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to list items")
		return
	}
	if items == nil {
		items = []core.FeedItem{}
	}
	s.respondJSON(w, http.StatusOK, ItemsResponse{Items: items, Limit: opts.Limit, Offset: opts.Offset})
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.store.FeedItems().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondLookupError(w, err, "item")
		return
	}
	s.respondJSON(w, http.StatusOK, item)
}

func (s *Server) handleThreadTimeline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	thread, err := s.store.Threads().Get(r.Context(), id)
	if err != nil {
		s.respondLookupError(w, err, "thread")
		return
	}
	entries, err := s.timeline.Timeline(r.Context(), id)
	if err != nil {
		s.log.Error("Failed to load timeline", "thread_id", id, "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to load timeline")
		return
	}
	if entries == nil {
		entries = []TimelineEntry{}
	}
	s.respondJSON(w, http.StatusOK, TimelineResponse{Thread: thread, Entries: entries})
}

func (s *Server) handleListDomains(w http.ResponseWriter, r *http.Request) {
	domains, err := s.store.Domains().List(r.Context())
	if err != nil {
		s.log.Error("Failed to list domains", "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to list domains")
		return
	}
	if r.URL.Query().Get("blocked") == "true" {
		blocked := domains[:0]
		for _, d := range domains {
			if d.Blocked {
				blocked = append(blocked, d)
			}
		}
		domains = blocked
	}
	if domains == nil {
		domains = []core.DomainReputation{}
	}
	s.respondJSON(w, http.StatusOK, domains)
}

// handleLatestBriefing handles GET /api/briefings/latest?locale=&format=
func (s *Server) handleLatestBriefing(w http.ResponseWriter, r *http.Request) {
	b, err := s.store.Briefings().Latest(r.Context(), localeParam(r))
	if err != nil {
		s.respondLookupError(w, err, "briefing")
		return
	}
	s.respondBriefing(w, r, b)
}

// handleGetBriefing handles GET /api/briefings/{date}?locale=&format=
func (s *Server) handleGetBriefing(w http.ResponseWriter, r *http.Request) {
	date, err := time.Parse("2006-01-02", chi.URLParam(r, "date"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	b, err := s.store.Briefings().Get(r.Context(), date, localeParam(r))
	if err != nil {
		s.respondLookupError(w, err, "briefing")
		return
	}
	s.respondBriefing(w, r, b)
}

func (s *Server) respondBriefing(w http.ResponseWriter, r *http.Request, b *core.Briefing) {
	switch r.URL.Query().Get("format") {
	case "html":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(narrative.HTML(b))
	case "markdown", "md":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(narrative.Markdown(b)))
	default:
		s.respondJSON(w, http.StatusOK, b)
	}
}

func (s *Server) respondLookupError(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, core.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, what+" not found")
		return
	}
	s.log.Error("Lookup failed", "entity", what, "error", err)
	s.respondError(w, http.StatusInternalServerError, "failed to load "+what)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("Failed to encode JSON response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}

func localeParam(r *http.Request) string {
	if l := strings.TrimSpace(r.URL.Query().Get("locale")); l != "" {
		return l
	}
	return defaultLocale
}

func intParam(v string, fallback int) (int, error) {
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("must be a non-negative integer")
	}
	return n, nil
}

// timeParam accepts RFC 3339 timestamps or bare dates.
func timeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}
