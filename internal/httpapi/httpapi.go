// Package httpapi exposes the control surface an operator or orchestration
// platform drives a running sync daemon with: liveness, Prometheus metrics,
// a point-in-time status snapshot, and an on-demand run trigger. The trigger
// endpoint is JWT-gated whenever control_api.jwt_secret is configured, and
// left open otherwise, matching the metrics endpoint's own historical
// unauthenticated default.
package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/evalgo/snowflake-to-falkordb/internal/config"
	"github.com/evalgo/snowflake-to-falkordb/internal/metrics"
)

// RunOnceFunc triggers one orchestrator pass. It is supplied by the caller
// (cmd/syncctl) so this package never imports the orchestrator directly,
// keeping the dependency direction one-way.
type RunOnceFunc func(ctx context.Context) error

// Server wraps an *echo.Echo configured with the control API's routes.
type Server struct {
	Echo *echo.Echo

	runOnce RunOnceFunc
	log     *logrus.Logger

	mu      sync.Mutex
	lastRun time.Time
	lastErr string
	running bool
}

// New builds a Server with /healthz, /metrics, /status, and /runs/trigger
// registered. "/" serves the same Prometheus exposition as /metrics, for
// scrapers pointed at the bare address. /runs/trigger requires a valid JWT
// bearer token whenever cfg.JWTSecret is set.
func New(cfg *config.ControlAPIConfig, runOnce RunOnceFunc, reg *metrics.Registry, log *logrus.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	s := &Server{Echo: e, runOnce: runOnce, log: log}

	metricsHandler := echo.WrapHandler(promhttp.HandlerFor(reg.Gatherer(), promhttp.HandlerOpts{}))
	e.GET("/healthz", s.handleHealthz)
	e.GET("/", metricsHandler)
	e.GET("/metrics", metricsHandler)
	e.GET("/status", s.handleStatus)

	trigger := e.Group("/runs")
	if cfg != nil && cfg.JWTSecret != nil && *cfg.JWTSecret != "" {
		trigger.Use(echojwt.WithConfig(echojwt.Config{
			SigningKey: []byte(*cfg.JWTSecret),
			NewClaimsFunc: func(c echo.Context) jwt.Claims {
				return &jwt.RegisteredClaims{}
			},
		}))
	}
	trigger.POST("/trigger", s.handleTrigger)

	return s
}

// ListenAndServe starts the control API's HTTP server, blocking until ctx
// is cancelled or the server fails.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Echo.Shutdown(shutdownCtx); err != nil {
			s.log.WithField("error", err).Warn("control API shutdown did not complete cleanly")
		}
	}()

	if err := s.Echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Running   bool      `json:"running"`
	LastRunAt time.Time `json:"last_run_at,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

func (s *Server) handleStatus(c echo.Context) error {
	s.mu.Lock()
	resp := statusResponse{Running: s.running, LastRunAt: s.lastRun, LastError: s.lastErr}
	s.mu.Unlock()
	return c.JSON(http.StatusOK, resp)
}

// handleTrigger launches a run in the background and returns immediately,
// since a full sync run may take longer than an HTTP client is willing to
// wait. The running flag only dedupes trigger-vs-trigger requests; the
// orchestrator's own run lock serializes a triggered pass against the
// daemon loop's ticks.
func (s *Server) handleTrigger(c echo.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return c.JSON(http.StatusConflict, map[string]string{"error": "a run is already in progress"})
	}
	s.running = true
	s.mu.Unlock()

	go func() {
		err := s.runOnce(context.Background())

		s.mu.Lock()
		s.running = false
		s.lastRun = time.Now()
		if err != nil {
			s.lastErr = err.Error()
			s.log.WithField("error", err).Error("triggered sync run failed")
		} else {
			s.lastErr = ""
		}
		s.mu.Unlock()
	}()

	return c.JSON(http.StatusAccepted, map[string]string{"status": "triggered"})
}
