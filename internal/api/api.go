// Package api exposes the circbuf control API over Unix socket and optional TCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/kahiteam/circbuf/internal/adapter"
	"github.com/kahiteam/circbuf/internal/events"
	"github.com/kahiteam/circbuf/internal/metrics"
	"github.com/kahiteam/circbuf/internal/registry"
	"github.com/kahiteam/circbuf/internal/ring"
)

// maxBodyBytes bounds request bodies. Sample uploads are the largest.
const maxBodyBytes = 64 << 20

// Buffers provides buffer operations to the API layer.
type Buffers interface {
	Create(name string, channels, capacity int, strict bool) (registry.BufferInfo, error)
	Clear(name string) error
	Add(name string, data []float32) error
	Get(name string, numSamples, channel, start int) ([]float32, error)
	GetMostRecent(name string, numSamples int) (adapter.Matrix, error)
	Reset(name string) error
	Info(name string) (registry.BufferInfo, error)
	List() []registry.BufferInfo
	Exec(command string, args []any) (any, error)
}

// ConfigManager provides config management operations.
type ConfigManager interface {
	GetConfig() any
	Reload() (added, changed, removed []string, err error)
}

// DaemonInfo describes the running daemon.
type DaemonInfo interface {
	IsShuttingDown() bool
	IsReady() bool
	Version() map[string]string
	Shutdown()
}

// Server is the HTTP API server for circbuf.
type Server struct {
	buffers    Buffers
	config     ConfigManager
	daemon     DaemonInfo
	bus        *events.Bus
	metrics    *metrics.Collector
	logger     *slog.Logger
	mux        *http.ServeMux
	unixLn     net.Listener
	tcpLn      net.Listener
	unixServer *http.Server
	tcpServer  *http.Server

	authUser string
	authPass string // bcrypt hash

	// closing ends open event streams, which Shutdown would otherwise wait on.
	closing   chan struct{}
	closeOnce sync.Once

	afterSubscribe func() // test hook, runs before history replay
}

// Config holds API server configuration.
type Config struct {
	Username string
	Password string             // bcrypt hash
	Metrics  *metrics.Collector // serves /metrics when set
}

// NewServer creates an API server with the given dependencies.
func NewServer(cfg Config, bufs Buffers, cm ConfigManager, di DaemonInfo, bus *events.Bus, logger *slog.Logger) *Server {
	s := &Server{
		buffers:  bufs,
		config:   cm,
		daemon:   di,
		bus:      bus,
		metrics:  cfg.Metrics,
		logger:   logger,
		authUser: cfg.Username,
		authPass: cfg.Password,
		closing:  make(chan struct{}),
	}
	s.mux = s.buildMux()
	return s
}

func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()

	// Probe endpoints -- no auth required.
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)

	// API v1 endpoints -- auth required on TCP.
	mux.HandleFunc("GET /api/v1/buffers", s.requireAuth(s.handleListBuffers))
	mux.HandleFunc("POST /api/v1/buffers", s.requireAuth(s.handleCreateBuffer))
	mux.HandleFunc("GET /api/v1/buffers/{name}", s.requireAuth(s.handleGetBuffer))
	mux.HandleFunc("DELETE /api/v1/buffers/{name}", s.requireAuth(s.handleDestroyBuffer))
	mux.HandleFunc("POST /api/v1/buffers/{name}/samples", s.requireAuth(s.handleAddSamples))
	mux.HandleFunc("GET /api/v1/buffers/{name}/samples", s.requireAuth(s.handleReadRange))
	mux.HandleFunc("GET /api/v1/buffers/{name}/recent", s.requireAuth(s.handleReadRecent))
	mux.HandleFunc("POST /api/v1/buffers/{name}/reset", s.requireAuth(s.handleResetBuffer))

	mux.HandleFunc("POST /api/v1/command", s.requireAuth(s.handleCommand))

	mux.HandleFunc("GET /api/v1/config", s.requireAuth(s.handleGetConfig))
	mux.HandleFunc("POST /api/v1/config/reload", s.requireAuth(s.handleReloadConfig))

	mux.HandleFunc("POST /api/v1/shutdown", s.requireAuth(s.handleShutdown))
	mux.HandleFunc("GET /api/v1/version", s.requireAuth(s.handleVersion))

	mux.HandleFunc("GET /api/v1/events/stream", s.requireAuth(s.handleEventStream))

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.requireAuth(s.metrics.Handler().ServeHTTP))
	}

	return mux
}

// Handler returns the server's routes, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// StartUnix creates and begins serving on a Unix domain socket.
func (s *Server) StartUnix(path string, mode os.FileMode) error {
	if err := removeStaleSocket(path); err != nil {
		return fmt.Errorf("cannot create socket: %s: %w", path, err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("cannot create socket: %s: %w", path, err)
	}

	if err := os.Chmod(path, mode); err != nil {
		ln.Close()
		return fmt.Errorf("cannot set socket permissions: %s: %w", path, err)
	}

	s.unixLn = ln
	s.unixServer = &http.Server{Handler: s.mux}

	go func() {
		if err := s.unixServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("unix server error", "error", err)
		}
	}()

	s.logger.Info("unix socket server started", "path", path)
	return nil
}

// StartTCP begins serving on a TCP address.
func (s *Server) StartTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("cannot bind %s: %w", addr, err)
	}

	s.tcpLn = ln
	s.tcpServer = &http.Server{Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}

	host, _, _ := net.SplitHostPort(addr)
	if host == "0.0.0.0" || host == "" || host == "::" {
		s.logger.Warn("HTTP server bound to all interfaces", "addr", addr)
	}
	if s.authUser == "" {
		s.logger.Warn("HTTP server has no authentication configured", "addr", addr)
	}

	go func() {
		if err := s.tcpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("tcp server error", "error", err)
		}
	}()

	s.logger.Info("tcp http server started", "addr", ln.Addr().String())
	return nil
}

// Stop gracefully shuts down all listeners.
func (s *Server) Stop(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closing) })

	var errs []error
	if s.unixServer != nil {
		if err := s.unixServer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.tcpServer != nil {
		if err := s.tcpServer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("server shutdown: %w", errors.Join(errs...))
	}
	return nil
}

// UnixAddr returns the address of the Unix listener, or empty if not started.
func (s *Server) UnixAddr() string {
	if s.unixLn != nil {
		return s.unixLn.Addr().String()
	}
	return ""
}

// TCPAddr returns the address of the TCP listener, or empty if not started.
func (s *Server) TCPAddr() string {
	if s.tcpLn != nil {
		return s.tcpLn.Addr().String()
	}
	return ""
}

func removeStaleSocket(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("%s exists and is not a socket", path)
	}
	return os.Remove(path)
}

// --- Auth middleware ---

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Unix socket connections skip auth.
		if isUnixConn(r) {
			next(w, r)
			return
		}

		if s.authUser == "" {
			next(w, r)
			return
		}

		user, pass, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="circbuf"`)
			writeError(w, http.StatusUnauthorized, "authentication required", "UNAUTHORIZED")
			return
		}

		if user != s.authUser || bcrypt.CompareHashAndPassword([]byte(s.authPass), []byte(pass)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="circbuf"`)
			writeError(w, http.StatusUnauthorized, "invalid credentials", "UNAUTHORIZED")
			return
		}

		next(w, r)
	}
}

func isUnixConn(r *http.Request) bool {
	// Over a Unix socket, RemoteAddr is empty or "@".
	return r.RemoteAddr == "" || r.RemoteAddr == "@"
}

// --- JSON helpers ---

// writeJSON encodes data before committing status. A value that fails to
// encode is answered with 500 SERVER_ERROR.
func writeJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		slog.Error("encode response", "error", err)
		status = http.StatusInternalServerError
		body = []byte(`{"error":"failed to encode response","code":"SERVER_ERROR"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// classifyError maps a buffer error to an HTTP status and error code.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, adapter.ErrUnknownCommand):
		return http.StatusBadRequest, "UNKNOWN_COMMAND"
	case errors.Is(err, ring.ErrInvalidChannel):
		return http.StatusBadRequest, "INVALID_CHANNEL"
	case errors.Is(err, ring.ErrCapacityExceeded):
		return http.StatusBadRequest, "CAPACITY_EXCEEDED"
	case errors.Is(err, ring.ErrOutOfRange):
		return http.StatusBadRequest, "OUT_OF_RANGE"
	case errors.Is(err, ring.ErrInvalidArgument):
		return http.StatusBadRequest, "INVALID_ARGUMENT"
	default:
		return http.StatusInternalServerError, "SERVER_ERROR"
	}
}

// fail writes err as a JSON error and counts it against op.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status, code := classifyError(err)
	if s.metrics != nil {
		s.metrics.IncError(op, strings.ToLower(code))
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "op", op, "error", err)
	}
	writeError(w, status, err.Error(), code)
}

// intParam reads a non-negative integer query parameter. def is returned
// when the parameter is absent; def < 0 makes it required.
func intParam(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		if def < 0 {
			return 0, fmt.Errorf("query parameter %q is required: %w", key, ring.ErrInvalidArgument)
		}
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("query parameter %q must be a non-negative integer, got %q: %w",
			key, v, ring.ErrInvalidArgument)
	}
	return n, nil
}
