// Package server exposes the console to operator shells: an HTTP JSON API for
// snapshots and mutations, and a WebSocket stream of bus events.
package server

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"mcpconsole-go/internal/config"
	"mcpconsole-go/internal/console"
	"mcpconsole-go/internal/events"
	"mcpconsole-go/internal/logs"
	"mcpconsole-go/internal/profile"
	"mcpconsole-go/internal/storage"
	"mcpconsole-go/internal/upstream"
)

// ActivationHistory lists stored activation records. *storage.Manager implements it.
type ActivationHistory interface {
	ListActivations(profileID string, limit int) ([]*storage.ActivationRecord, error)
}

// Deps are the components the shell drives. History, Protocol and DataDir
// are optional; their endpoints report empty results without them.
type Deps struct {
	Console  *console.Console
	Servers  *upstream.Registry
	Profiles *profile.Registry
	Bus      *events.Bus
	History  ActivationHistory
	Protocol *logs.ProtocolLog
	DataDir  string
}

// Server is the HTTP shell
type Server struct {
	deps    Deps
	listen  string
	streams *WebSocketManager
	handler http.Handler
	logger  *zap.Logger

	// background connects and activations outlive their request
	baseCtx context.Context
	cancel  context.CancelFunc

	mu         sync.Mutex
	httpServer *http.Server
}

// New builds the shell for cfg.Listen, allowing cfg.CORSAllowedOrigins
func New(deps Deps, cfg *config.Config, logger *zap.Logger) *Server {
	logger = logger.Named("http")
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		deps:    deps,
		listen:  cfg.Listen,
		streams: NewWebSocketManager(deps.Bus, cfg.CORSAllowedOrigins, logger),
		logger:  logger,
		baseCtx: ctx,
		cancel:  cancel,
	}

	mux := http.NewServeMux()
	s.routes(mux)

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	s.handler = c.Handler(s.logRequests(mux))
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/console", s.handleSnapshot)
	mux.HandleFunc("POST /api/v1/console/select", s.handleSelectServer)
	mux.HandleFunc("PUT /api/v1/console/view", s.handleSetView)

	mux.HandleFunc("GET /api/v1/servers", s.handleListServers)
	mux.HandleFunc("GET /api/v1/servers/{id}", s.handleGetServer)
	mux.HandleFunc("POST /api/v1/servers/{id}/connect", s.handleConnect)
	mux.HandleFunc("POST /api/v1/servers/{id}/disconnect", s.handleDisconnect)
	mux.HandleFunc("POST /api/v1/servers/{id}/ping", s.handlePing)

	mux.HandleFunc("GET /api/v1/profiles", s.handleListProfiles)
	mux.HandleFunc("POST /api/v1/profiles/deactivate", s.handleDeactivate)
	mux.HandleFunc("POST /api/v1/profiles/{id}/activate", s.handleActivate)
	mux.HandleFunc("GET /api/v1/profiles/{id}/activations", s.handleActivations)

	mux.HandleFunc("GET /api/v1/protocol", s.handleProtocol)
	mux.HandleFunc("GET /api/v1/failures", s.handleFailures)

	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		s.streams.HandleWebSocket(w, r, r.URL.Query().Get("server"))
	})
}

// Handler returns the routed handler with CORS and request logging applied
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Streams returns the WebSocket manager
func (s *Server) Streams() *WebSocketManager {
	return s.streams
}

// ListenAndServe blocks until the listener fails or Shutdown is called
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ConnState:         s.logConnectionState,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("HTTP shell listening", zap.String("address", ln.Addr().String()))
	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("HTTP shell stopped unexpectedly", zap.Error(err))
		return err
	}
	s.logger.Info("HTTP shell stopped")
	return nil
}

// Shutdown stops accepting requests and cancels background work started by
// requests. Event streams are closed separately through Streams().Stop().
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, config.HTTPShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Warn("HTTP shell did not drain in time, closing", zap.Error(err))
		return errors.Join(err, srv.Close())
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Int("status_code", rw.statusCode),
			zap.Duration("duration", time.Since(start)),
		}
		if rw.statusCode >= http.StatusInternalServerError {
			s.logger.Warn("Request failed", fields...)
			return
		}
		s.logger.Debug("Request completed", fields...)
	})
}

func (s *Server) logConnectionState(conn net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew, http.StateHijacked, http.StateClosed:
		s.logger.Debug("Client connection state",
			zap.String("remote_addr", conn.RemoteAddr().String()),
			zap.String("state", state.String()))
	}
}

// responseWriter captures the status code. It forwards Hijack so WebSocket
// upgrades pass through the logging middleware.
type responseWriter struct {
	http.ResponseWriter
	statusCode    int
	headerWritten bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.headerWritten {
		rw.statusCode = code
		rw.headerWritten = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}
