package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/heungtae/codex-chat-bridge/internal/codec"
	"github.com/heungtae/codex-chat-bridge/internal/config"
	"github.com/heungtae/codex-chat-bridge/internal/pipeline"
	"github.com/heungtae/codex-chat-bridge/internal/profile"
)

func (s *Server) handleResponses(w http.ResponseWriter, r *http.Request) {
	s.translate(w, r, config.WireResponses)
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	s.translate(w, r, config.WireChat)
}

// translate runs one request under the profile active at arrival.
func (s *Server) translate(w http.ResponseWriter, r *http.Request, inbound config.Wire) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	active := s.profiles.Active()
	if active.Config.Verbose {
		slog.Info("bridge.inbound",
			"path", r.URL.Path,
			"profile", active.Name,
			"accept", r.Header.Get("Accept"),
			"body", string(body),
		)
	}

	s.pipeline.Execute(w, &pipeline.Call{
		Context:       r.Context(),
		Inbound:       inbound,
		Body:          body,
		Header:        r.Header,
		Profile:       active.Name,
		Config:        active.Config,
		AcceptsStream: acceptsStream(r),
	})
}

func acceptsStream(r *http.Request) bool {
	for _, v := range r.Header.Values("Accept") {
		if strings.Contains(strings.ToLower(v), "text/event-stream") {
			return true
		}
	}
	return false
}

// profileView is the body of GET /profile and of a successful switch.
type profileView struct {
	Name   string         `json:"name"`
	Config config.Summary `json:"config"`
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	active := s.profiles.Active()
	codec.WriteJSON(w, http.StatusOK, profileView{Name: active.Name, Config: active.Config.Summary()})
}

func (s *Server) handleSwitchProfile(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var payload struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		codec.WriteError(w, http.StatusBadRequest, "invalid_request", "", "Invalid JSON body")
		return
	}
	name := strings.TrimSpace(payload.Name)
	if name == "" {
		codec.WriteError(w, http.StatusBadRequest, "invalid_request", "", "name is required")
		return
	}

	cfg, err := s.profiles.SwitchTo(name)
	if errors.Is(err, profile.ErrUnknownProfile) {
		codec.WriteError(w, http.StatusNotFound, "unknown_profile", "", err.Error())
		return
	}
	if err != nil {
		codec.WriteError(w, http.StatusInternalServerError, "internal_error", "", err.Error())
		return
	}
	codec.WriteJSON(w, http.StatusOK, profileView{Name: name, Config: cfg.Summary()})
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	codec.WriteJSON(w, http.StatusOK, map[string]any{
		"active":   s.profiles.Active().Name,
		"profiles": s.profiles.List(),
	})
}

// handleShutdown stops the process when the active profile allows it.
// Otherwise the endpoint does not exist.
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if !s.profiles.Active().Config.HTTPShutdown {
		http.NotFound(w, r)
		return
	}
	slog.Info("server.shutdown_requested", "remote", r.RemoteAddr)
	codec.WriteJSON(w, http.StatusOK, map[string]string{"status": "shutting down"})
	if s.requestShutdown != nil {
		time.AfterFunc(shutdownDelay, s.requestShutdown)
	}
}
