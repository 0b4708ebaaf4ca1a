// Package web serves a small read-only HTTP surface next to the bot:
// health, Prometheus metrics, and JSON views of ongoing contests.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/akotadi/Lockout-Bot/internal/metrics"
	"github.com/akotadi/Lockout-Bot/internal/storage"
)

// Server exposes contest state over HTTP
type Server struct {
	repo *storage.Repository
	srv  *http.Server
}

// NewServer builds the server and its routes
func NewServer(addr string, repo *storage.Repository) *Server {
	s := &Server{repo: repo}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/matches", s.handleMatches).Methods(http.MethodGet)
	api.HandleFunc("/rounds", s.handleRounds).Methods(http.MethodGet)
	api.HandleFunc("/ranklist", s.handleRanklist).Methods(http.MethodGet)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until Stop is called
func (s *Server) Start() {
	slog.Info("Starting web server", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Web server failed", "error", err)
	}
}

// Stop shuts the server down gracefully
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		slog.Error("Web server shutdown failed", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// guildParam extracts the required guild query parameter.
func guildParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	guildID := r.URL.Query().Get("guild")
	if guildID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing guild parameter"})
		return "", false
	}
	return guildID, true
}

func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request) {
	guildID, ok := guildParam(w, r)
	if !ok {
		return
	}
	matches, err := s.repo.ListMatches(guildID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage failure"})
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

func (s *Server) handleRounds(w http.ResponseWriter, r *http.Request) {
	guildID, ok := guildParam(w, r)
	if !ok {
		return
	}
	rounds, err := s.repo.ListRounds(guildID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage failure"})
		return
	}
	writeJSON(w, http.StatusOK, rounds)
}

func (s *Server) handleRanklist(w http.ResponseWriter, r *http.Request) {
	guildID, ok := guildParam(w, r)
	if !ok {
		return
	}
	entries, err := s.repo.Ranklist(guildID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage failure"})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
