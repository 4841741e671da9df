// Package httpserver exposes the scrape and introspection endpoints
// of spec.md §6 over HTTP(S). Its shape — one handler method per
// route registered on a stdlib ServeMux, wrapped in a single
// *http.Server with explicit Start/Stop — follows the HTTP API server
// of the project this repo was adapted from, minus the JWT auth and
// per-client rate-limit middleware that server wires in: spec.md's non-goals rule out scraper
// authentication beyond optional transport-level TLS.
package httpserver

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/herakles-io/herakles-proc-mem-exporter/internal/health"
	"github.com/herakles-io/herakles-proc-mem-exporter/pkg/config"
)

// HealthSource is satisfied by health.Monitor.
type HealthSource interface {
	Get() health.Report
}

// Server is the HTTP(S) frontend for /metrics, /health, /config,
// /subgroups, and /doc.
type Server struct {
	server *http.Server
	logger *zap.Logger

	enableTLS bool
}

// Options configures the non-route parts of the server: bind address,
// TLS materials, and the collaborators each handler renders.
type Options struct {
	Bind        string
	Port        int
	EnableTLS   bool
	TLSCertPath string
	TLSKeyPath  string

	Config       *config.Config
	RuleGroups   []string
	Health       HealthSource
	EnableHealth bool
}

// New builds a Server with routes registered but not yet listening.
// /metrics reads from the default Prometheus registry; main is
// expected to have called prometheus.MustRegister on the Collector
// before the server starts accepting scrapes. When opts.EnableTLS is
// set, New loads the certificate/key pair immediately via
// LoadTLSConfig so a bad TLS material is a fatal startup error
// (spec.md §7) rather than a failure discovered only once Start is
// called.
func New(opts Options, logger *zap.Logger) (*Server, error) {
	mux := http.NewServeMux()
	s := &Server{logger: logger, enableTLS: opts.EnableTLS}

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/config", s.handleConfig(opts.Config))
	mux.HandleFunc("/subgroups", s.handleSubgroups(opts.RuleGroups))
	mux.HandleFunc("/doc", s.handleDoc())
	if opts.EnableHealth && opts.Health != nil {
		mux.HandleFunc("/health", s.handleHealth(opts.Health))
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", opts.Bind, opts.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	if opts.EnableTLS {
		tlsConfig, err := LoadTLSConfig(opts.TLSCertPath, opts.TLSKeyPath)
		if err != nil {
			return nil, err
		}
		s.server.TLSConfig = tlsConfig
	}

	return s, nil
}

// Start begins serving, blocking until the listener stops. It chooses
// TLS vs plaintext based on how the Server was configured. The
// certificate pair is already loaded into s.server.TLSConfig by New,
// so the cert/key paths passed here are empty.
func (s *Server) Start() error {
	s.logger.Info("scrape server starting", zap.String("addr", s.server.Addr), zap.Bool("tls", s.enableTLS))

	var err error
	if s.enableTLS {
		err = s.server.ListenAndServeTLS("", "")
	} else {
		err = s.server.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the server, waiting up to ctx's deadline for
// in-flight scrapes to finish (spec.md §5's bounded shutdown grace
// period; the listener itself stops accepting immediately).
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping scrape server")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleConfig(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(cfg); err != nil {
			s.logger.Warn("failed to encode /config response", zap.Error(err))
		}
	}
}

func (s *Server) handleSubgroups(groups []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string][]string{"groups": groups}); err != nil {
			s.logger.Warn("failed to encode /subgroups response", zap.Error(err))
		}
	}
}

func (s *Server) handleHealth(h HealthSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := h.Get()
		w.Header().Set("Content-Type", "application/json")
		if report.OverallStatus == health.StatusCritical {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(report); err != nil {
			s.logger.Warn("failed to encode /health response", zap.Error(err))
		}
	}
}

func (s *Server) handleDoc() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head><title>herakles</title></head><body>
<h1>herakles proc-mem exporter</h1>
<ul>
<li><a href="/metrics">/metrics</a></li>
<li><a href="/health">/health</a></li>
<li><a href="/config">/config</a></li>
<li><a href="/subgroups">/subgroups</a></li>
</ul>
</body></html>`)
	}
}

// LoadTLSConfig reads the configured cert/key pair, surfacing a fatal
// startup error per spec.md §7 when TLS is enabled but the materials
// can't be loaded. The stdlib crypto/tls package is the only way to
// do this; no pack library wraps certificate loading.
func LoadTLSConfig(certPath, keyPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("httpserver: load TLS materials: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, nil
}
