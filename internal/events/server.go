package events

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/osone/voicepipe/internal/health"
	"github.com/osone/voicepipe/internal/observe"
)

// writeTimeout bounds a single websocket write so one wedged client cannot
// hold its serving goroutine forever.
const writeTimeout = 5 * time.Second

// Server exposes the pipeline over HTTP: a websocket event feed at /events
// plus liveness and readiness probes.
type Server struct {
	bus     *Bus
	health  *health.Handler
	log     *slog.Logger
	metrics *observe.Metrics

	httpSrv *http.Server
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the server's logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) ServerOption {
	return func(s *Server) { s.log = log }
}

// WithMetrics sets the metrics instance. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithHealth sets the health handler mounted at /healthz and /readyz. When
// nil, no probe routes are registered.
func WithHealth(h *health.Handler) ServerOption {
	return func(s *Server) { s.health = h }
}

// NewServer creates a Server streaming events from bus on addr.
func NewServer(addr string, bus *Bus, opts ...ServerOption) *Server {
	s := &Server{
		bus: bus,
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /events", s.handleEvents)
	if s.health != nil {
		s.health.Register(mux)
	}

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(s.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the server's root handler, for mounting under an existing
// HTTP server instead of ListenAndServe.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// ListenAndServe serves until the listener fails or Shutdown is called.
// Returns nil on graceful shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Info("event server listening", "addr", s.httpSrv.Addr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// handleEvents upgrades the connection and streams bus events as JSON text
// messages until the client disconnects or the bus closes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "event stream aborted")

	ctx := r.Context()
	sub, cancel := s.bus.Subscribe()
	defer cancel()

	s.metrics.EventSubscribers.Add(ctx, 1)
	defer s.metrics.EventSubscribers.Add(ctx, -1)
	s.log.Debug("event subscriber connected", "remote", r.RemoteAddr)

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "server shutting down")
			return
		case ev, ok := <-sub:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "event bus closed")
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, ev)
			wcancel()
			if err != nil {
				s.log.Debug("event subscriber dropped", "remote", r.RemoteAddr, "error", err)
				return
			}
		}
	}
}
