// Package api serves the browser UI: the control page, JSON endpoints for
// status, parameters and camera control, the rendered frame as JPEG, and a
// websocket that pushes telemetry.
package api

import (
	"context"
	"embed"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/circlecam/internal/acquire"
	"github.com/mikeyg42/circlecam/internal/config"
	"github.com/mikeyg42/circlecam/internal/fault"
	"github.com/mikeyg42/circlecam/internal/render"
	"github.com/mikeyg42/circlecam/internal/state"
)

//go:embed web/index.html
var webFS embed.FS

// Camera is the acquisition control surface used by the handlers.
type Camera interface {
	Switch(ctx context.Context) error
	Retry(ctx context.Context) error
	Devices() ([]acquire.Device, error)
	Constraints() acquire.Constraints
}

// Server is an HTTP API server
type Server struct {
	cfg        config.ServerConfig
	app        *state.AppState
	camera     Camera
	surface    *render.Surface
	hub        *Hub
	logger     *zap.Logger
	httpServer *http.Server
}

// NewServer wires the routes. ctx bounds the server's background goroutines.
func NewServer(ctx context.Context, cfg config.ServerConfig, app *state.AppState, camera Camera, surface *render.Surface, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.L().Named("api")
	}
	s := &Server{
		cfg:     cfg,
		app:     app,
		camera:  camera,
		surface: surface,
		logger:  logger,
	}
	s.hub = NewHub(app, cfg.AllowedOrigins, logger.Named("ws"))

	mux := http.NewServeMux()
	throttle := newCameraThrottle(ctx, cfg.CameraRatePerMinute, logger.Named("throttle"))

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/params", s.handleGetParams)
	mux.HandleFunc("POST /api/params", s.handleSetParams)
	mux.HandleFunc("GET /api/devices", s.secure(s.handleDevices))
	mux.HandleFunc("POST /api/camera/switch", s.secure(throttle.wrap(s.handleSwitch)))
	mux.HandleFunc("POST /api/camera/retry", s.secure(throttle.wrap(s.handleRetry)))
	mux.HandleFunc("GET /frame.jpg", s.secure(s.handleFrame))
	mux.HandleFunc("GET /ws", s.secure(s.hub.ServeHTTP))

	s.httpServer = &http.Server{
		Addr:           cfg.ListenAddr,
		Handler:        corsMiddleware(cfg.AllowedOrigins, mux),
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   15 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// corsMiddleware adds CORS headers for allow-listed origins.
func corsMiddleware(origins []string, next http.Handler) http.Handler {
	allowedOrigins := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowedOrigins[o] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secure refuses camera access to remote clients over plain HTTP, the way
// browsers only expose cameras to secure contexts.
func (s *Server) secure(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil && !s.cfg.TLSEnabled() && !isLoopback(r.RemoteAddr) {
			writeJSON(w, http.StatusForbidden, errorBody{
				Error:     fault.Message(fault.UnsupportedContext),
				ErrorKind: fault.UnsupportedContext,
			})
			return
		}
		next(w, r)
	}
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Serve accepts connections on ln, with TLS when configured.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("Starting API server", zap.String("addr", ln.Addr().String()), zap.Bool("tls", s.cfg.TLSEnabled()))
	if s.cfg.TLSEnabled() {
		return s.httpServer.ServeTLS(ln, s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

type errorBody struct {
	Error     string     `json:"error"`
	ErrorKind fault.Kind `json:"errorKind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
