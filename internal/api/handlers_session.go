// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/streamkeeper/internal/degradation"
	"github.com/ManuGH/streamkeeper/internal/engine"
)

func (s *Server) handleBudgets(w http.ResponseWriter, _ *http.Request) {
	records := s.engine.Budget().Snapshots()
	sort.Slice(records, func(i, j int) bool { return records[i].VideoID < records[j].VideoID })
	if records == nil {
		records = []degradation.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.engine.Budget().Snapshot(chi.URLParam(r, "videoID"))
	if !ok {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleBudgetReset(w http.ResponseWriter, r *http.Request) {
	if !s.engine.Budget().ResetVideo(chi.URLParam(r, "videoID")) {
		writeNotFound(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	infos := s.engine.Sessions()
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	if infos == nil {
		infos = []engine.Info{}
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*engine.Session, bool) {
	sess, ok := s.engine.Session(chi.URLParam(r, "id"))
	if !ok {
		writeNotFound(w)
	}
	return sess, ok
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.session(w, r); ok {
		writeJSON(w, http.StatusOK, sess.Info())
	}
}

// handleSessionRetry is the user-facing "try again" after exhaustion.
func (s *Server) handleSessionRetry(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.Retry()
	writeJSON(w, http.StatusAccepted, sess.Info())
}

func (s *Server) handleSessionRefresh(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.ForceRefresh(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Info())
}

func (s *Server) handleSessionClose(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.Close()
	w.WriteHeader(http.StatusNoContent)
}
