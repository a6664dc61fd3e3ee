// pattern: Imperative Shell

// Package web is the transport shell: it accepts websocket sessions,
// owns each connection's lifecycle, and bridges frames to the broker and
// the terminal multiplexer.
package web

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"coderoom/internal/broker"
	"coderoom/internal/logging"
	"coderoom/internal/term"
)

// Config holds web server configuration.
type Config struct {
	Bind    string
	Port    int
	Shell   term.Config // shell spawned for every accepted connection
	Origins []string    // allowed websocket origin patterns
}

// Server serves the session websocket and the health endpoint.
type Server struct {
	httpServer *http.Server
	router     *broker.Router
	terminals  *term.Mux
	shell      term.Config
	origins    []string
	logger     *logging.ScopedLogger
	addr       string
	listener   net.Listener
}

// New creates a web server. router carries the broker core; terminals
// owns the per-connection shells.
func New(cfg Config, router *broker.Router, terminals *term.Mux, logProvider logging.LoggerProvider) *Server {
	logger := logProvider.For("web")
	addr := fmt.Sprintf("%s:%d", cfg.Bind, cfg.Port)

	mux := http.NewServeMux()

	origins := cfg.Origins
	if len(origins) == 0 {
		origins = []string{"127.0.0.1:*", "localhost:*"}
	}

	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		router:    router,
		terminals: terminals,
		shell:     cfg.Shell,
		origins:   origins,
		logger:    logger,
		addr:      addr,
	}

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.HandleSession)

	return s
}

// Listen binds the server to its configured address and returns the
// listener. Call Serve() after Listen() to start accepting connections.
// The two-step split lets callers obtain the bound address (useful for
// ephemeral port 0 in tests) before the server blocks on Serve().
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("web server listen: %w", err)
	}
	s.listener = ln
	return ln, nil
}

// Serve accepts connections on the listener. Blocks until the server
// stops. Must call Listen() first.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("web server started", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Start is a convenience that calls Listen() then Serve().
func (s *Server) Start() error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Addr returns the address the server is listening on.
// Only valid after Listen() or Start() has been called.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("web server shutting down")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
