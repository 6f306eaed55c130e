// Package remotetest provides an in-memory convention service for tests.
// It serves the same HTTP API as the real service so the remote client,
// the download engine and the mutation engine can be exercised end to end.
package remotetest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/starford/convsync/internal/models"
)

// Route keys accepted by Calls and Fail.
const (
	RouteList       = "GET /api/conventions"
	RouteDetail     = "GET /api/conventions/{id}"
	RouteBody       = "GET /api/conventions/{id}/raw"
	RouteCreate     = "POST /api/conventions"
	RouteUpdate     = "PATCH /api/conventions/{id}"
	RouteDelete     = "DELETE /api/conventions/{id}"
	RouteGuides     = "GET /api/platform-guides"
	RouteGuidesHash = "GET /api/platform-guides/hash"
	RouteProfiles   = "GET /api/agent-configs"
)

// Server is a fake convention service backed by memory.
type Server struct {
	// OmitPagination drops the pagination block from list responses so
	// clients must fall back to the short-page heuristic.
	OmitPagination bool
	// OmitRevision strips updatedAt from detail responses.
	OmitRevision bool
	// Token, when set, must arrive as "Authorization: Bearer <token>".
	Token string

	mu             sync.Mutex
	docs           []models.Convention
	guides         []models.SharedGuide
	guidesHash     string
	guidesDisabled bool
	profiles       []models.AgentProfile
	unlisted       map[string]bool
	nextID         int
	revision       int
	calls          map[string]int
	failures       map[string]int
	lastUpdate     map[string]json.RawMessage

	srv *httptest.Server
}

// New starts a fake service that is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		guidesHash: "guides-v1",
		calls:      make(map[string]int),
		failures:   make(map[string]int),
		unlisted:   make(map[string]bool),
	}
	s.srv = httptest.NewServer(s.router())
	t.Cleanup(s.srv.Close)
	return s
}

// URL returns the base URL of the fake service.
func (s *Server) URL() string {
	return s.srv.URL
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.countCalls)
	r.Use(s.auth)

	r.Route("/api/conventions", func(r chi.Router) {
		r.Get("/", s.listConventions)
		r.Post("/", s.createConvention)
		r.Get("/{id}", s.getConvention)
		r.Get("/{id}/raw", s.getBody)
		r.Patch("/{id}", s.updateConvention)
		r.Delete("/{id}", s.deleteConvention)
	})
	r.Get("/api/platform-guides", s.listGuides)
	r.Get("/api/platform-guides/hash", s.guidesHashHandler)
	r.Get("/api/agent-configs", s.listProfiles)
	return r
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Token == "" {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") || strings.TrimPrefix(header, "Bearer ") != s.Token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) countCalls(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		pattern := strings.TrimSuffix(chi.RouteContext(r.Context()).RoutePattern(), "/")
		s.mu.Lock()
		s.calls[r.Method+" "+pattern]++
		s.mu.Unlock()
	})
}

// AddConvention stores doc, assigning an id and revision token when missing,
// and returns the stored copy.
func (s *Server) AddConvention(doc models.Convention) models.Convention {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.ID == "" {
		s.nextID++
		doc.ID = fmt.Sprintf("cv-%d", s.nextID)
	}
	if doc.UpdatedAt == "" {
		doc.UpdatedAt = s.nextRevision()
	}
	s.docs = append(s.docs, doc)
	return doc
}

// AddUnlisted stores doc so it can be read by id but never appears in the
// catalog listing, like a template linked from an agent profile.
func (s *Server) AddUnlisted(doc models.Convention) models.Convention {
	stored := s.AddConvention(doc)
	s.mu.Lock()
	s.unlisted[stored.ID] = true
	s.mu.Unlock()
	return stored
}

// Convention returns the stored document with id.
func (s *Server) Convention(id string) (models.Convention, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return models.Convention{}, false
	}
	return s.docs[i], true
}

// Touch advances the revision token of id as if someone else edited it.
func (s *Server) Touch(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return ""
	}
	s.docs[i].UpdatedAt = s.nextRevision()
	return s.docs[i].UpdatedAt
}

// Remove deletes id directly, bypassing the API.
func (s *Server) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 {
		s.docs = append(s.docs[:i], s.docs[i+1:]...)
	}
}

// SetGuides replaces the platform guide set and its hash.
func (s *Server) SetGuides(guides []models.SharedGuide, hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guides = guides
	s.guidesHash = hash
	s.guidesDisabled = false
}

// DisableGuides makes both guide endpoints answer 404.
func (s *Server) DisableGuides() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guidesDisabled = true
}

// SetProfiles replaces the agent profile list.
func (s *Server) SetProfiles(profiles []models.AgentProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles = profiles
}

// Fail makes the next n requests to route answer with status.
func (s *Server) Fail(route string, status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route+"#"+strconv.Itoa(status)] = n
}

// Calls returns how many requests hit route.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// LastUpdate returns the raw JSON fields of the most recent PATCH body.
func (s *Server) LastUpdate() map[string]json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUpdate
}

func (s *Server) nextRevision() string {
	s.revision++
	return fmt.Sprintf("2026-01-01T00:00:%02d.000Z", s.revision)
}

func (s *Server) indexOf(id string) int {
	for i := range s.docs {
		if s.docs[i].ID == id {
			return i
		}
	}
	return -1
}

// injected writes a queued failure for route, if any.
func (s *Server) injected(w http.ResponseWriter, route string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, n := range s.failures {
		name, code, _ := strings.Cut(key, "#")
		if name != route || n <= 0 {
			continue
		}
		s.failures[key] = n - 1
		status, _ := strconv.Atoi(code)
		writeJSON(w, status, map[string]string{"error": "injected failure"})
		return true
	}
	return false
}

func (s *Server) listConventions(w http.ResponseWriter, r *http.Request) {
	if s.injected(w, RouteList) {
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 100
	}

	s.mu.Lock()
	var listed []models.Convention
	for _, d := range s.docs {
		if !s.unlisted[d.ID] {
			listed = append(listed, d)
		}
	}
	omit := s.OmitPagination
	s.mu.Unlock()

	total := len(listed)
	start := (page - 1) * size
	end := start + size
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}
	items := make([]models.Convention, end-start)
	copy(items, listed[start:end])

	for i := range items {
		items[i].Content = ""
	}
	resp := map[string]any{"data": items}
	if !omit {
		totalPages := (total + size - 1) / size
		resp["pagination"] = models.Pagination{Page: page, PageSize: size, Total: total, TotalPages: totalPages}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getConvention(w http.ResponseWriter, r *http.Request) {
	if s.injected(w, RouteDetail) {
		return
	}
	doc, ok := s.Convention(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "convention not found"})
		return
	}
	if s.OmitRevision {
		doc.UpdatedAt = ""
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": doc})
}

func (s *Server) getBody(w http.ResponseWriter, r *http.Request) {
	if s.injected(w, RouteBody) {
		return
	}
	doc, ok := s.Convention(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "convention not found"})
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, doc.Content)
}

func (s *Server) createConvention(w http.ResponseWriter, r *http.Request) {
	if s.injected(w, RouteCreate) {
		return
	}
	var doc models.Convention
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if strings.TrimSpace(doc.Title) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "title is required"})
		return
	}
	doc.ID = ""
	doc.UpdatedAt = ""
	stored := s.AddConvention(doc)
	writeJSON(w, http.StatusCreated, map[string]any{"data": stored})
}

func (s *Server) updateConvention(w http.ResponseWriter, r *http.Request) {
	if s.injected(w, RouteUpdate) {
		return
	}
	var fields map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	var precondition, content string
	_ = json.Unmarshal(fields["updatedAt"], &precondition)
	_ = json.Unmarshal(fields["content"], &content)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUpdate = fields
	i := s.indexOf(chi.URLParam(r, "id"))
	if i < 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "convention not found"})
		return
	}
	if precondition == "" || precondition != s.docs[i].UpdatedAt {
		writeJSON(w, http.StatusConflict, map[string]string{"code": "stale_revision", "message": "convention was modified"})
		return
	}
	doc := &s.docs[i]
	doc.Content = content
	applyNullable(fields, "trigger", &doc.Trigger)
	applyNullable(fields, "description", &doc.Description)
	applyNullable(fields, "agentInstruction", &doc.AgentInstruction)
	doc.UpdatedAt = s.nextRevision()
	writeJSON(w, http.StatusOK, map[string]any{"data": *doc})
}

func applyNullable(fields map[string]json.RawMessage, key string, dst **string) {
	raw, ok := fields[key]
	if !ok {
		return
	}
	if string(raw) == "null" {
		*dst = nil
		return
	}
	var v string
	if err := json.Unmarshal(raw, &v); err == nil {
		*dst = &v
	}
}

func (s *Server) deleteConvention(w http.ResponseWriter, r *http.Request) {
	if s.injected(w, RouteDelete) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(chi.URLParam(r, "id"))
	if i < 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "convention not found"})
		return
	}
	s.docs = append(s.docs[:i], s.docs[i+1:]...)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listGuides(w http.ResponseWriter, _ *http.Request) {
	if s.injected(w, RouteGuides) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.guidesDisabled {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	guides := s.guides
	if guides == nil {
		guides = []models.SharedGuide{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": guides})
}

func (s *Server) guidesHashHandler(w http.ResponseWriter, _ *http.Request) {
	if s.injected(w, RouteGuidesHash) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.guidesDisabled {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"hash": s.guidesHash})
}

func (s *Server) listProfiles(w http.ResponseWriter, _ *http.Request) {
	if s.injected(w, RouteProfiles) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	profiles := s.profiles
	if profiles == nil {
		profiles = []models.AgentProfile{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": profiles})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
