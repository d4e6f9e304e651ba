package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/heungtae/codex-chat-bridge/internal/codec"
	"github.com/heungtae/codex-chat-bridge/internal/metrics"
	"github.com/heungtae/codex-chat-bridge/internal/pipeline"
	"github.com/heungtae/codex-chat-bridge/internal/profile"
)

// maxBodyBytes limits the size of incoming request bodies.
const maxBodyBytes = 10 * 1024 * 1024 // 10 MB

// shutdownDelay lets the /shutdown reply reach the caller before the
// listener closes.
const shutdownDelay = 50 * time.Millisecond

// Options wires a Server to its collaborators.
type Options struct {
	Profiles *profile.Manager
	Upstream pipeline.Sender
	Metrics  *metrics.Metrics
	// RequestShutdown is called once an accepted /shutdown reply was sent.
	RequestShutdown func()
}

// Server is the main HTTP server.
type Server struct {
	profiles        *profile.Manager
	pipeline        *pipeline.Pipeline
	metrics         *metrics.Metrics
	requestShutdown func()

	handler    http.Handler
	httpServer *http.Server
	listener   net.Listener
}

// New creates a new server with all routes registered.
func New(opts Options) *Server {
	s := &Server{
		profiles:        opts.Profiles,
		pipeline:        &pipeline.Pipeline{Upstream: opts.Upstream, Metrics: opts.Metrics},
		metrics:         opts.Metrics,
		requestShutdown: opts.RequestShutdown,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /v1/responses", s.handleResponses)
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)

	mux.HandleFunc("GET /profile", s.handleGetProfile)
	mux.HandleFunc("POST /profile", s.handleSwitchProfile)
	mux.HandleFunc("GET /profiles", s.handleListProfiles)

	mux.HandleFunc("GET /shutdown", s.handleShutdown)
	mux.HandleFunc("POST /shutdown", s.handleShutdown)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	s.handler = corsMiddleware(verboseMiddleware(s.profiles, mux))
	s.httpServer = &http.Server{
		Handler:     s.handler,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler { return s.handler }

// Listen binds host:port. Port 0 picks a free port; the returned address
// carries the bound one.
func (s *Server) Listen(host string, port int) (*net.TCPAddr, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("listen on %s:%d: %w", host, port, err)
	}
	s.listener = ln
	return ln.Addr().(*net.TCPAddr), nil
}

// Serve accepts connections on the bound listener until Shutdown.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("server is not listening")
	}
	if err := s.httpServer.Serve(s.listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// serverInfo is the discovery file written after the listener binds.
type serverInfo struct {
	Port int `json:"port"`
	PID  int `json:"pid"`
}

// WriteServerInfo writes {"port","pid"} to path.
func WriteServerInfo(path string, port int) error {
	data, err := json.Marshal(serverInfo{Port: port, PID: os.Getpid()})
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write server info %s: %w", path, err)
	}
	slog.Info("server.info_written", "path", path, "port", port)
	return nil
}

// --- Helpers ---

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			codec.WriteError(w, http.StatusRequestEntityTooLarge, "invalid_request", "", "Request body too large")
			return nil, false
		}
		codec.WriteError(w, http.StatusBadRequest, "invalid_request", "", "Failed to read request body")
		return nil, false
	}
	return body, true
}
