package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sadewadee/phpembed/internal/config"
	"github.com/sadewadee/phpembed/internal/websocket"
)

// Server is the phpembed HTTP server.
type Server struct {
	cfg     *config.Config
	engine  Engine
	logger  *slog.Logger
	http    *http.Server
	router  *Router
	metrics *Metrics
	ws      *websocket.Manager
}

// New creates a new phpembed server.
func New(cfg *config.Config, engine Engine, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		engine: engine,
		logger: logger,
	}

	if cfg.WebSocket.Enabled {
		s.ws = websocket.NewManager(engine, cfg.WebSocket.MaxConnections, cfg.Worker.RequestTimeout.Duration(), logger)
	}
	s.metrics = NewMetrics(engine, s.ws)
	s.router = NewRouter(cfg, engine, s.ws, logger)

	s.http = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      s.buildMiddleware(s.router),
		ReadTimeout:  cfg.Server.ReadTimeout.Duration(),
		WriteTimeout: cfg.Server.WriteTimeout.Duration(),
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Handler returns the fully wrapped request handler.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Server.Address)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Stop.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("phpembed server starting",
		"address", ln.Addr().String(),
		"websocket", s.cfg.WebSocket.Enabled,
		"metrics", s.cfg.Metrics.Enabled,
	)
	if err := s.http.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("phpembed server shutting down")
	if s.ws != nil {
		s.ws.CloseAll()
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) buildMiddleware(handler http.Handler) http.Handler {
	handler = LoggingMiddleware(s.logger)(handler)
	handler = RequestIDMiddleware()(handler)

	if s.cfg.Metrics.Enabled {
		handler = s.metrics.Middleware(s.cfg.Metrics.Path)(handler)
	}

	// Recovery is outermost
	return RecoveryMiddleware(s.logger)(handler)
}
