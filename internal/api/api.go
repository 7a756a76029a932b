// Package api exposes the daemon's control surface: tunnel lifecycle
// routes, interactive auth correlation, daemon metadata, and the SSE
// event stream. All routes live under /api and speak JSON.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/SchirmForge/ssh-tunnel-manager/internal/bus"
	"github.com/SchirmForge/ssh-tunnel-manager/internal/model"
	"github.com/SchirmForge/ssh-tunnel-manager/internal/profile"
	"github.com/SchirmForge/ssh-tunnel-manager/internal/token"
	"github.com/SchirmForge/ssh-tunnel-manager/internal/tunnel"
)

// HeartbeatInterval paces SSE keepalive events.
const HeartbeatInterval = 10 * time.Second

// Version is stamped into /api/daemon/info.
const Version = "0.1.0"

// Info describes the daemon instance for GET /api/daemon/info.
type Info struct {
	ListenerMode   string
	BindHost       string
	BindPort       int
	SocketPath     string
	RequireAuth    bool
	GroupAccess    bool
	ConfigFilePath string
	KnownHostsPath string
	StartedAt      time.Time
}

// Server wires the HTTP handlers to the tunnel manager, profile store,
// and event bus.
type Server struct {
	Manager  *tunnel.Manager
	Profiles *profile.Store
	Bus      *bus.Bus
	Token    *token.Token // nil disables authentication
	Info     Info

	// Shutdown is invoked by POST /api/daemon/shutdown after the
	// response is written.
	Shutdown func()
}

type errorResponse struct {
	Error string `json:"error"`
}

type successResponse struct {
	Message string `json:"message"`
}

// Handler builds the full route table, wrapped in the auth middleware
// when a token is configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/daemon/info", s.handleDaemonInfo)
	mux.HandleFunc("POST /api/daemon/shutdown", s.handleShutdown)
	mux.HandleFunc("GET /api/tunnels", s.handleListTunnels)
	mux.HandleFunc("POST /api/tunnels/{id}/start", s.handleStart)
	mux.HandleFunc("POST /api/tunnels/{id}/stop", s.handleStop)
	mux.HandleFunc("GET /api/tunnels/{id}/status", s.handleStatus)
	mux.HandleFunc("GET /api/tunnels/{id}/auth", s.handleGetAuth)
	mux.HandleFunc("POST /api/tunnels/{id}/auth", s.handleSubmitAuth)
	mux.HandleFunc("GET /api/events", s.handleEvents)

	if s.Token == nil {
		return mux
	}
	return s.authMiddleware(mux)
}

// authMiddleware rejects requests whose X-Tunnel-Token header is
// missing or does not match, in constant time.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provided := r.Header.Get(token.Header)
		if !s.Token.Matches(provided) {
			if provided == "" {
				slog.Warn("authentication failed: missing token", "path", r.URL.Path)
			} else {
				slog.Warn("authentication failed: invalid token", "path", r.URL.Path)
			}
			writeError(w, http.StatusUnauthorized, "missing or invalid authentication token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (s *Server) handleListTunnels(w http.ResponseWriter, _ *http.Request) {
	tunnels := s.Manager.List()
	writeJSON(w, http.StatusOK, map[string]any{"tunnels": tunnels})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}

	// An empty body means a local start; anything else must parse.
	var req model.StartTunnelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Mode == "" {
		req.Mode = model.SourceLocal
	}
	if req.ProfileID != "" && req.ProfileID != id.String() {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("profile ID mismatch: URL has %s but request has %s", id, req.ProfileID))
		return
	}

	var p *model.Profile
	switch req.Mode {
	case model.SourceLocal:
		loaded, err := s.Profiles.LoadByID(id)
		if err != nil {
			if errors.Is(err, profile.ErrNotFound) {
				writeError(w, http.StatusNotFound, fmt.Sprintf("profile not found: %s", id))
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		p = loaded
	case model.SourceHybrid:
		if req.Profile == nil {
			writeError(w, http.StatusBadRequest, "hybrid mode requires profile data in request")
			return
		}
		req.Profile.ID = id
		resolved, err := profile.ResolveHybrid(req.Profile)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		p = resolved
	case model.SourceRemote:
		writeError(w, http.StatusNotImplemented, "remote mode not implemented")
		return
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown profile source mode %q", req.Mode))
		return
	}

	if err := s.Manager.Start(p); err != nil {
		if errors.Is(err, tunnel.ErrAlreadyActive) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	slog.Info("tunnel start initiated", "id", id, "mode", req.Mode)
	writeJSON(w, http.StatusAccepted, successResponse{Message: fmt.Sprintf("tunnel %s starting", id)})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	if err := s.Manager.Stop(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Message: fmt.Sprintf("tunnel %s stopping", id)})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	status, err := s.Manager.Status(id)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("tunnel %s not found or not active", id))
		return
	}
	resp := model.TunnelStatusResponse{ID: id, Status: status}
	if pending, ok := s.Manager.PendingAuth(id); ok {
		resp.PendingAuth = pending
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetAuth(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	pending, ok := s.Manager.PendingAuth(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no pending authentication request")
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *Server) handleSubmitAuth(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	var resp model.AuthResponse
	if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if resp.TunnelID != uuid.Nil && resp.TunnelID != id {
		writeError(w, http.StatusBadRequest, "tunnel ID in request body doesn't match URL")
		return
	}
	if err := s.Manager.SubmitAuth(id, resp.Value); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp.Value = ""
	writeJSON(w, http.StatusOK, successResponse{Message: "authentication response submitted"})
}

func (s *Server) handleDaemonInfo(w http.ResponseWriter, _ *http.Request) {
	username := "unknown"
	if u, err := user.Current(); err == nil {
		username = u.Username
	}
	sshDir := "~/.ssh"
	if home, err := os.UserHomeDir(); err == nil {
		sshDir = home + "/.ssh"
	}
	info := model.DaemonInfo{
		Version:        Version,
		UptimeSeconds:  int64(time.Since(s.Info.StartedAt).Seconds()),
		StartedAt:      s.Info.StartedAt.UTC().Format(time.RFC3339),
		ListenerMode:   s.Info.ListenerMode,
		BindHost:       s.Info.BindHost,
		BindPort:       s.Info.BindPort,
		SocketPath:     s.Info.SocketPath,
		RequireAuth:    s.Info.RequireAuth,
		GroupAccess:    s.Info.GroupAccess,
		ConfigFilePath: s.Info.ConfigFilePath,
		KnownHostsPath: s.Info.KnownHostsPath,
		SSHKeyDir:      sshDir,
		ActiveTunnels:  s.Manager.ActiveCount(),
		PID:            os.Getpid(),
		User:           username,
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleShutdown(w http.ResponseWriter, _ *http.Request) {
	slog.Info("shutdown requested over the control API")
	w.WriteHeader(http.StatusAccepted)
	if s.Shutdown != nil {
		go func() {
			time.Sleep(time.Second)
			s.Shutdown()
		}()
	}
}

// handleEvents serves the SSE stream: every bus event plus heartbeats,
// each as a single data: frame carrying JSON with a lowercase type tag.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sub := s.Bus.Subscribe()
	defer sub.Unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if lag := sub.Lagged(); lag > 0 {
				slog.Debug("sse subscriber lagged", "dropped", lag)
			}
			if err := writeSSE(w, flusher, ev); err != nil {
				return
			}
		case <-heartbeat.C:
			ev := model.Event{Type: model.EventHeartbeat, Timestamp: time.Now().UTC()}
			if err := writeSSE(w, flusher, ev); err != nil {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, ev model.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		slog.Error("failed to serialize event", "error", err)
		return nil
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func pathUUID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.PathValue("id")
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid tunnel id %q", raw))
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
