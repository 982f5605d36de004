// Package api exposes the daemon's REST surface and the WebSocket push
// channel consumed by UI frontends.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/parley-dev/parley/internal/config"
	"github.com/parley-dev/parley/internal/credentials"
	"github.com/parley-dev/parley/internal/events"
	"github.com/parley-dev/parley/internal/models"
	"github.com/parley-dev/parley/internal/relay"
	"github.com/parley-dev/parley/internal/store"
)

// Server provides the REST API handlers.
type Server struct {
	store  store.Store
	config *config.Store
	creds  *credentials.Store
	relay  *relay.Relay
	broker *events.Broker
}

// NewServer creates a new API server.
func NewServer(s store.Store, cfg *config.Store, creds *credentials.Store, rl *relay.Relay, broker *events.Broker) *Server {
	return &Server{
		store:  s,
		config: cfg,
		creds:  creds,
		relay:  rl,
		broker: broker,
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/auth", s.getAuthState)
	mux.HandleFunc("POST /api/v1/auth/validate", s.validateAPIKey)
	mux.HandleFunc("POST /api/v1/auth/onboarding", s.saveOnboarding)
	mux.HandleFunc("POST /api/v1/auth/logout", s.logout)

	mux.HandleFunc("GET /api/v1/sessions", s.listSessions)
	mux.HandleFunc("POST /api/v1/sessions", s.createSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.getSession)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", s.deleteSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/rename", s.renameSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/messages", s.sendMessage)
	mux.HandleFunc("POST /api/v1/sessions/{id}/cancel", s.cancelProcessing)

	mux.HandleFunc("GET /api/v1/config", s.getConfig)
	mux.HandleFunc("PUT /api/v1/config", s.setConfig)
	mux.HandleFunc("GET /api/v1/config/theme", s.getTheme)
	mux.HandleFunc("PUT /api/v1/config/theme", s.setTheme)

	mux.HandleFunc("GET /api/v1/events", s.handleEvents)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// envelope is the uniform response shape: exactly one of data or error
// is meaningful, discriminated by success.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: msg})
}

// writeStoreError maps store failures onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// --- Auth ---

type authState struct {
	Authenticated bool            `json:"authenticated"`
	Type          models.AuthType `json:"type,omitempty"`
	CreatedAt     *time.Time      `json:"createdAt,omitempty"`
}

func (s *Server) getAuthState(w http.ResponseWriter, r *http.Request) {
	creds, err := s.creds.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	state := authState{}
	if creds != nil {
		state.Authenticated = true
		state.Type = creds.Type
		state.CreatedAt = &creds.CreatedAt
	}
	writeData(w, http.StatusOK, state)
}

// validateAPIKey checks key shape locally. No network call is made, so
// the result is deterministic and works offline.
func (s *Server) validateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"valid": validKeyShape(req.Value)})
}

func validKeyShape(key string) bool {
	return strings.HasPrefix(key, "sk-ant-") && len(key) > 20
}

// saveOnboarding stores the credential and the initial config in one
// call, matching the first-run flow of the UI.
func (s *Server) saveOnboarding(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type  models.AuthType `json:"type"`
		Value string          `json:"value"`
		Model string          `json:"model"`
		Theme models.Theme    `json:"theme"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Value == "" {
		writeError(w, http.StatusBadRequest, "credential value is required")
		return
	}
	if req.Type == "" {
		req.Type = models.AuthAPIKey
	}

	if err := s.creds.Save(&models.Credentials{
		Type:      req.Type,
		Value:     req.Value,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	update := config.Update{AuthType: &req.Type}
	if req.Model != "" {
		update.Model = &req.Model
	}
	if req.Theme != "" {
		update.Theme = &req.Theme
	}
	cfg, err := s.config.Save(update)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, http.StatusOK, cfg)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.creds.Delete(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"loggedOut": true})
}

// --- Sessions ---

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.ListSessions()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, http.StatusOK, items)
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	sess, err := s.store.CreateSession(req.Name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, http.StatusCreated, sess)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.store.LoadSession(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeData(w, http.StatusOK, sess)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existed, err := s.store.DeleteSession(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"deleted": existed})
}

func (s *Server) renameSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	sess, err := s.store.UpdateSession(id, store.SessionUpdate{Name: &req.Name})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeData(w, http.StatusOK, sess)
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	started, err := s.relay.SendMessage(r.Context(), id, req.Text)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"started": started})
}

func (s *Server) cancelProcessing(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cancelled := s.relay.CancelProcessing(id)
	writeData(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

// --- Config ---

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, s.config.Load())
}

func (s *Server) setConfig(w http.ResponseWriter, r *http.Request) {
	var update config.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	cfg, err := s.config.Save(update)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeData(w, http.StatusOK, cfg)
}

func (s *Server) getTheme(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]models.Theme{"theme": s.config.Load().Theme})
}

func (s *Server) setTheme(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Theme models.Theme `json:"theme"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	cfg, err := s.config.Save(config.Update{Theme: &req.Theme})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeData(w, http.StatusOK, map[string]models.Theme{"theme": cfg.Theme})
}
