// Package server implements the ControlServer (spec §4.7, §6.3, §6.4,
// §7): a single chi.Mux-based HTTP(S) listener exposing the REST API,
// the /ws live event stream, and an optional static dashboard,
// grounded on the teacher's admin.server bootstrap/shutdown shape
// (internal/admin/http.go) but routed with chi the way the teacher's
// newer internal/admin/handlers/routes.go does.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"

	"github.com/dagucloud/scriptd/internal/auth"
	"github.com/dagucloud/scriptd/internal/cluster"
	"github.com/dagucloud/scriptd/internal/dispatch"
	"github.com/dagucloud/scriptd/internal/eventbus"
	"github.com/dagucloud/scriptd/internal/logx"
	"github.com/dagucloud/scriptd/internal/queue"
	"github.com/dagucloud/scriptd/internal/script"
)

// Config controls the listener itself.
type Config struct {
	Host        string
	Port        int
	TLSCertPath string
	TLSKeyPath  string
	// DashboardDir, if set, is served at "/" as static files.
	DashboardDir string
}

func (c Config) hasTLS() bool { return c.TLSCertPath != "" && c.TLSKeyPath != "" }

// Dependencies wires every domain component the control plane fronts.
// Membership and Dispatcher are nil when clustering is disabled; handlers
// that need them return 503 in that case.
type Dependencies struct {
	Registry   *script.Registry
	Queue      *queue.Queue
	Membership *cluster.Membership
	Dispatcher *dispatch.Dispatcher
	Auth       auth.Store
	AuthEnabled bool
	Bus        *eventbus.Bus
	Logs       *logx.TailBuffer

	WatchDir       string
	WatchExtension string
	Reload         func(ctx context.Context) error

	Version   string
	StartedAt time.Time
}

// Server is the ControlServer.
type Server struct {
	cfg  Config
	deps Dependencies
	log  *slog.Logger

	mux  *chi.Mux
	http *http.Server

	// actualPort is filled in once Run has bound a listener, after
	// any port-retry (spec §4.7/§8: 19720 in use → 19721).
	actualPort int
}

// New builds a Server. Call Run to start serving.
func New(cfg Config, deps Dependencies, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{cfg: cfg, deps: deps, log: log}
	s.mux = chi.NewRouter()
	s.configureMiddleware()
	s.configureRoutes()
	return s
}

// ActualPort returns the port the listener actually bound to, valid
// only after Run has started listening.
func (s *Server) ActualPort() int { return s.actualPort }

func (s *Server) configureMiddleware() {
	logger := httplog.NewLogger("scriptd", httplog.Options{
		JSON:           true,
		LogLevel:       slog.LevelInfo,
		Concise:        true,
		RequestHeaders: false,
	})
	s.mux.Use(httplog.RequestLogger(logger))
	s.mux.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		MaxAge:           300,
	}))
}

// Run binds the listener (retrying the next port on collision) and
// serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, port, err := listenWithRetry(s.cfg.Host, s.cfg.Port, s.log)
	if err != nil {
		return fmt.Errorf("binding control server listener: %w", err)
	}
	s.actualPort = port

	s.http = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var serveErr error
		if s.cfg.hasTLS() {
			s.log.Info("control server listening (tls)", "host", s.cfg.Host, "port", port)
			serveErr = s.http.ServeTLS(ln, s.cfg.TLSCertPath, s.cfg.TLSKeyPath)
		} else {
			s.log.Info("control server listening", "host", s.cfg.Host, "port", port)
			serveErr = s.http.Serve(ln)
		}
		if errors.Is(serveErr, http.ErrServerClosed) {
			serveErr = nil
		}
		errCh <- serveErr
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("control server shutdown", "error", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// listenWithRetry tries port, then port+1, ... up to 10 times, logging
// a warning on every collision (spec §4.7/§8 boundary case).
func listenWithRetry(host string, port int, log *slog.Logger) (net.Listener, int, error) {
	const maxAttempts = 10
	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		addr := net.JoinHostPort(host, fmt.Sprintf("%d", port+i))
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return ln, port + i, nil
		}
		lastErr = err
		log.Warn("control server port in use, retrying next port", "addr", addr, "error", err)
	}
	return nil, 0, fmt.Errorf("no free port found starting at %d: %w", port, lastErr)
}
