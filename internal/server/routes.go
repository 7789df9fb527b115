package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/ember/internal/engine"
)

type addMemoryRequest struct {
	Content  string   `json:"content" validate:"required,max=65536"`
	Source   string   `json:"source" validate:"max=256"`
	Client   string   `json:"client" validate:"max=256"`
	Project  string   `json:"project" validate:"max=1024"`
	Pinned   bool     `json:"pinned"`
	Mentions []string `json:"mentions" validate:"max=100,dive,required"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		badRequest(w, "q parameter required")
		return
	}
	limit, ok := intParam(w, r, "limit")
	if !ok {
		return
	}

	results, err := s.engine.Search(r.Context(), query, limit, engine.Filters{
		Client:  q.Get("client"),
		Project: q.Get("project"),
		Source:  q.Get("source"),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"count":   len(results),
		"results": results,
	})
}

func (s *Server) handleAddMemory(w http.ResponseWriter, r *http.Request) {
	var req addMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		badRequest(w, err.Error())
		return
	}

	m, err := s.engine.Add(r.Context(), engine.AddRequest{
		Content:  req.Content,
		Source:   req.Source,
		Client:   req.Client,
		Project:  req.Project,
		Pinned:   req.Pinned,
		Mentions: req.Mentions,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	s.respondMemory(w, r, s.engine.Get)
}

func (s *Server) handlePin(w http.ResponseWriter, r *http.Request) {
	s.respondMemory(w, r, s.engine.Pin)
}

func (s *Server) handleUnpin(w http.ResponseWriter, r *http.Request) {
	s.respondMemory(w, r, s.engine.Unpin)
}

func (s *Server) handleAccess(w http.ResponseWriter, r *http.Request) {
	s.respondMemory(w, r, s.engine.Access)
}

func (s *Server) handleMention(w http.ResponseWriter, r *http.Request) {
	s.respondMemory(w, r, s.engine.Mention)
}

// respondMemory runs a single-memory operation on the {id} URL param.
func (s *Server) respondMemory(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id string) (*engine.MemoryView, error)) {
	m, err := op(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleHot(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit")
	if !ok {
		return
	}
	memories, err := s.engine.WhatsHot(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(memories),
		"memories": memories,
	})
}

func (s *Server) handleCold(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit")
	if !ok {
		return
	}
	minAge := s.engine.Options().ColdMinAgeDays
	if v := r.URL.Query().Get("min_age_days"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			badRequest(w, "min_age_days must be a number")
			return
		}
		minAge = f
	}

	memories, err := s.engine.WhatsCold(r.Context(), limit, minAge)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"min_age_days": minAge,
		"count":        len(memories),
		"memories":     memories,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDecay(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Decay(r.Context())
	respondReport(w, report, err)
}

func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Backfill(r.Context())
	respondReport(w, report, err)
}

// respondReport answers a maintenance run. A partial failure still carries
// the report so callers see what succeeded.
func respondReport(w http.ResponseWriter, report any, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, report)
		return
	}
	if engine.KindOf(err) != engine.KindPartialFailure {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusMultiStatus, map[string]any{
		"error":  err.Error(),
		"kind":   engine.KindPartialFailure,
		"report": report,
	})
}

// intParam reads an optional integer query parameter. Absent means 0.
func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		badRequest(w, name+" must be an integer")
		return 0, false
	}
	return n, true
}
