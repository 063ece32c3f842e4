package metric

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/confsync/errors"
	"github.com/c360/confsync/pkg/security"
	"github.com/c360/confsync/pkg/tlsutil"
)

const indexPage = `<html>
<head><title>Confsync Metrics</title></head>
<body>
<h1>Confsync Metrics Server</h1>
<p><a href="%s">Metrics</a></p>
<p><a href="/health">Health</a></p>
</body>
</html>`

// Server is the operational HTTP endpoint: Prometheus metrics on the
// configured path, health on /health, and an index on /.
type Server struct {
	port     int
	path     string
	registry *MetricsRegistry
	security security.Config

	mu     sync.Mutex
	server *http.Server
	health http.HandlerFunc
}

// NewServer builds the server. Zero values pick the defaults: port
// 9090 and path /metrics.
func NewServer(port int, path string, registry *MetricsRegistry, securityCfg security.Config) *Server {
	if port == 0 {
		port = 9090
	}
	if path == "" {
		path = "/metrics"
	}

	return &Server{
		port:     port,
		path:     path,
		registry: registry,
		security: securityCfg,
	}
}

// SetHealthHandler replaces the default liveness stub served on
// /health. Must be called before Start.
func (s *Server) SetHealthHandler(h http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health = h
}

// Start listens and serves until Stop is called or the listener
// fails. A clean shutdown returns http.ErrServerClosed, unwrapped, so
// callers can filter it.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		return errors.WrapInvalid(fmt.Errorf("server already running"),
			"Server", "Start", "double start")
	}
	if s.registry == nil {
		s.mu.Unlock()
		return errors.WrapFatal(fmt.Errorf("nil registry"),
			"Server", "Start", "metrics registry not provided")
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.buildMux(),
	}
	if s.security.TLS.Server.Enabled {
		tlsConfig, err := tlsutil.LoadServerTLSConfig(s.security.TLS.Server, s.security.TLS.Server.MTLS)
		if err != nil {
			s.mu.Unlock()
			return errors.WrapFatal(err, "Server", "Start", "load TLS config")
		}
		srv.TLSConfig = tlsConfig
	}
	s.server = srv
	// Serve outside the lock or Stop could never take it.
	s.mu.Unlock()

	var err error
	if srv.TLSConfig != nil {
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}
	if err == nil || stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return errors.WrapFatal(err, "Server", "Start",
		fmt.Sprintf("serve on port %d", s.port))
}

// buildMux assembles the routes. Called under s.mu.
func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle(s.path, promhttp.HandlerFor(
		s.registry.PrometheusRegistry(),
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	))

	health := s.health
	if health == nil {
		health = func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		}
	}
	mux.HandleFunc("/health", health)

	path := s.path
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprintf(w, indexPage, path)
	})

	return mux
}

// Stop shuts the server down, letting in-flight scrapes finish. The
// server can be started again afterwards.
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "Server", "Stop", "shutdown HTTP server")
	}
	return nil
}

// Address returns the URL the metrics are served on.
func (s *Server) Address() string {
	scheme := "http"
	if s.security.TLS.Server.Enabled {
		scheme = "https"
	}
	return fmt.Sprintf("%s://localhost:%d%s", scheme, s.port, s.path)
}
