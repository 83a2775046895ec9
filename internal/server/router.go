package server

import (
	"context"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/sadewadee/phpembed/internal/config"
	"github.com/sadewadee/phpembed/internal/websocket"
	"github.com/sadewadee/phpembed/internal/worker"
)

// Router dispatches incoming HTTP requests to the appropriate handler.
type Router struct {
	cfg           *config.Config
	engine        Engine
	logger        *slog.Logger
	static        http.Handler
	phpHandler    http.Handler
	healthHandler *HealthHandler
	wsHandler     http.Handler
}

// NewRouter creates a new request router. ws may be nil when WebSocket
// support is disabled.
func NewRouter(cfg *config.Config, engine Engine, ws *websocket.Manager, logger *slog.Logger) *Router {
	r := &Router{
		cfg:    cfg,
		engine: engine,
		logger: logger,
	}

	root := cfg.App.Root
	if root == "" {
		root = "."
	}
	r.static = NewStaticHandler(root)
	r.phpHandler = r.newPHPHandler()
	r.healthHandler = NewHealthHandler(engine)
	if ws != nil {
		r.wsHandler = websocket.NewHandler(ws, cfg.WebSocket.PingInterval.Duration(), cfg.WebSocket.AllowedOrigins, logger)
	}

	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// Health check endpoints
	switch req.URL.Path {
	case "/health", "/healthz", "/ready", "/readyz":
		r.healthHandler.ServeHTTP(w, req)
		return
	}

	if r.wsHandler != nil && req.URL.Path == r.cfg.WebSocket.Path {
		r.wsHandler.ServeHTTP(w, req)
		return
	}

	// Assets are served from disk, scripts never are
	if isStaticFile(req.URL.Path) {
		r.static.ServeHTTP(w, req)
		return
	}

	// Forward everything else to PHP
	r.phpHandler.ServeHTTP(w, req)
}

func isStaticFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".css", ".js", ".png", ".jpg", ".jpeg", ".gif", ".svg", ".ico",
		".woff", ".woff2", ".ttf", ".eot", ".map", ".webp", ".avif",
		".mp4", ".webm", ".pdf", ".txt", ".xml", ".json":
		return true
	}
	return false
}

func (r *Router) newPHPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		if d := r.cfg.Worker.RequestTimeout.Duration(); d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}

		res, err := r.engine.Exec(ctx, worker.HTTPJob(req))
		if err != nil {
			r.logger.Error("php exec", "error", err, "path", req.URL.Path)
			status := http.StatusBadGateway
			if ctx.Err() == context.DeadlineExceeded {
				status = http.StatusGatewayTimeout
			}
			http.Error(w, http.StatusText(status), status)
			return
		}

		resp := res.Response
		if resp == nil {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		// An uncaught exception with nothing sent yet is a server error.
		if res.Exception && resp.Status == 0 && resp.Body.Len() == 0 {
			r.logger.Error("uncaught php exception", "path", req.URL.Path, "exception", res.Value)
			resp.Status = http.StatusInternalServerError
		}
		if _, err := resp.WriteTo(w); err != nil {
			r.logger.Debug("writing response", "error", err)
		}
	})
}
