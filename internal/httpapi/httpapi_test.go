package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/snowflake-to-falkordb/internal/config"
	"github.com/evalgo/snowflake-to-falkordb/internal/metrics"
)

func testServer(runOnce RunOnceFunc, cfg *config.ControlAPIConfig) *Server {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return New(cfg, runOnce, metrics.New(), log)
}

func TestHealthzReturnsOK(t *testing.T) {
	s := testServer(func(ctx context.Context) error { return nil }, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	s := testServer(func(ctx context.Context) error { return nil }, nil)

	for _, path := range []string{"/metrics", "/"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		s.Echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "snowflake_to_falkordb_runs")
	}
}

func TestTriggerWithoutJWTSecretIsOpen(t *testing.T) {
	done := make(chan struct{})
	s := testServer(func(ctx context.Context) error { close(done); return nil }, nil)

	req := httptest.NewRequest(http.MethodPost, "/runs/trigger", nil)
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runOnce was never invoked")
	}
}

func TestTriggerRejectsMissingTokenWhenSecretConfigured(t *testing.T) {
	secret := "top-secret"
	s := testServer(func(ctx context.Context) error { return nil }, &config.ControlAPIConfig{JWTSecret: &secret})

	req := httptest.NewRequest(http.MethodPost, "/runs/trigger", nil)
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerAcceptsValidToken(t *testing.T) {
	secret := "top-secret"
	done := make(chan struct{})
	s := testServer(func(ctx context.Context) error { close(done); return nil }, &config.ControlAPIConfig{JWTSecret: &secret})

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/runs/trigger", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runOnce was never invoked")
	}
}

func TestStatusReflectsLastRun(t *testing.T) {
	done := make(chan struct{})
	s := testServer(func(ctx context.Context) error { close(done); return nil }, nil)

	req := httptest.NewRequest(http.MethodPost, "/runs/trigger", nil)
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runOnce was never invoked")
	}
	// allow the background goroutine to flip s.running back to false.
	time.Sleep(20 * time.Millisecond)

	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	rec = httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"running":false`)
}
