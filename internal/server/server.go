package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"path/filepath"
	"time"
)

// BuildInfo is reported by the health endpoint.
type BuildInfo struct {
	Version string
	Commit  string
}

type Config struct {
	Addr    string // public listener, e.g. ":8000"
	OpsAddr string // health and metrics listener; empty disables it
	Build   BuildInfo

	PublicDir    string // served root
	TemplatePath string // form template, defaults to PublicDir/data.html
	MaxFormBytes int64

	Upload UploadOptions
	Guard  *UploadGuard
	Hooks  []StoredFileHook

	// Checks are extra components reported by /health (database, bucket).
	Checks []HealthChecker

	// Audit backs /uploads/recent on the ops listener; nil leaves it out.
	Audit AuditReader
}

// DefaultMaxFormBytes caps form bodies when Config.MaxFormBytes is unset.
const DefaultMaxFormBytes = 1 << 20

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8000"
	}
	if c.PublicDir == "" {
		c.PublicDir = "public"
	}
	if c.TemplatePath == "" {
		c.TemplatePath = filepath.Join(c.PublicDir, "data.html")
	}
	if c.MaxFormBytes <= 0 {
		c.MaxFormBytes = DefaultMaxFormBytes
	}
	c.Upload = c.Upload.withDefaults()
	return c
}

// Server owns the public listener and, when configured, the ops listener.
// It is built once at startup and torn down with Shutdown.
type Server struct {
	cfg        Config
	httpServer *http.Server
	opsServer  *http.Server
}

func New(cfg Config) *Server {
	cfg = cfg.withDefaults()
	s := &Server{cfg: cfg}

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if cfg.OpsAddr != "" {
		s.opsServer = &http.Server{
			Addr:              cfg.OpsAddr,
			Handler:           s.OpsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return s
}

// Handler returns the public handler with its middleware.
// Order: requestID -> logging -> security headers -> compression -> dispatch.
func (s *Server) Handler() http.Handler {
	var handler = s.dispatch()
	handler = compressionMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = loggingMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

// OpsHandler serves /health, /live and /metrics, plus /uploads/recent when
// an audit store is configured.
func (s *Server) OpsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.HandleHealth)
	mux.HandleFunc("/live", s.HandleLive)
	mux.Handle("/metrics", PrometheusMetricsHandlerFor(s.cfg.Build))
	if s.cfg.Audit != nil {
		mux.HandleFunc("/uploads/recent", s.HandleRecentUploads)
	}
	return requestIDMiddleware(mux)
}

// Start listens on the public address (and the ops address, if any) and
// blocks until the public server stops.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}

	if s.opsServer != nil {
		opsLn, err := net.Listen("tcp", s.opsServer.Addr)
		if err != nil {
			_ = ln.Close()
			return err
		}
		go func() {
			if err := s.opsServer.Serve(opsLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				Error("ops_server_failed", map[string]any{"addr": s.opsServer.Addr}, err)
			}
		}()
	}

	err = s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	var opsErr error
	if s.opsServer != nil {
		opsErr = s.opsServer.Shutdown(ctx)
	}
	return errors.Join(s.httpServer.Shutdown(ctx), opsErr)
}
