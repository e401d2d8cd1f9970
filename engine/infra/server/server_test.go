package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/danmincu/pulstrate/engine/executor"
	"github.com/danmincu/pulstrate/engine/group"
	"github.com/danmincu/pulstrate/engine/infra/memstore"
	"github.com/danmincu/pulstrate/engine/infra/monitoring"
	"github.com/danmincu/pulstrate/engine/infra/server/appstate"
	"github.com/danmincu/pulstrate/engine/progress"
	"github.com/danmincu/pulstrate/engine/queue"
	"github.com/danmincu/pulstrate/engine/service"
	"github.com/danmincu/pulstrate/engine/task"
	"github.com/danmincu/pulstrate/engine/worker"
)

type staticStore struct {
	err error
}

func (s *staticStore) HealthCheck(context.Context) error { return s.err }

type serverHarness struct {
	state      *appstate.State
	dispatcher *worker.Dispatcher
}

func newServerHarness(t *testing.T, store appstate.HealthChecker) *serverHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	repo := memstore.NewStore()
	mutator := task.NewMutator(repo)
	q := queue.New()
	groups := group.NewRegistry(group.DefaultMaxParallelism)
	cancels := worker.NewCancelRegistry()
	svc, err := service.New(service.Options{
		Repo:       repo,
		Mutator:    mutator,
		Queue:      q,
		Events:     task.NopPublisher{},
		Aggregator: progress.NewAggregator(repo, mutator, task.NopPublisher{}),
		Canceller:  cancels,
	})
	require.NoError(t, err)
	dispatcher, err := worker.NewDispatcher(worker.Options{
		Repo:      repo,
		Mutator:   mutator,
		Queue:     q,
		Service:   svc,
		Executors: executor.NewRegistry(),
		Gates:     worker.NewGates(groups),
		Cancels:   cancels,
	})
	require.NoError(t, err)
	state, err := appstate.NewState(appstate.NewBaseDeps(svc, repo, nil, nil, groups, nil, store), dispatcher)
	require.NoError(t, err)
	return &serverHarness{state: state, dispatcher: dispatcher}
}

func (h *serverHarness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.dispatcher.Start(context.Background()))
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.dispatcher.Stop(stopCtx)
	})
}

func serveJSON(t *testing.T, srv *Server, method, path, owner, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, http.NoBody)
	}
	if owner != "" {
		req.Header.Set("X-Owner-ID", owner)
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func decodeHealthData(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Data
}

func TestConfigFullAddress(t *testing.T) {
	t.Run("Should join host and port", func(t *testing.T) {
		cfg := &Config{Host: "127.0.0.1", Port: 8080}
		require.Equal(t, "127.0.0.1:8080", cfg.FullAddress())
	})
}

func TestConvertRateLimitConfig(t *testing.T) {
	t.Run("Should map rps and burst onto the limiter period", func(t *testing.T) {
		cfg, err := convertRateLimitConfig(&RateLimitConfig{Enabled: true, RPS: 10, Burst: 20})
		require.NoError(t, err)
		require.Equal(t, 2*time.Second, cfg.GlobalRate.Period)
		require.Equal(t, int64(20), cfg.GlobalRate.Limit)
	})
	t.Run("Should reject non-positive rps", func(t *testing.T) {
		_, err := convertRateLimitConfig(&RateLimitConfig{Enabled: true, Burst: 10})
		require.Error(t, err)
	})
	t.Run("Should reject non-positive burst", func(t *testing.T) {
		_, err := convertRateLimitConfig(&RateLimitConfig{Enabled: true, RPS: 5})
		require.Error(t, err)
	})
}

func TestNew(t *testing.T) {
	harness := newServerHarness(t, nil)
	t.Run("Should reject a nil config", func(t *testing.T) {
		_, err := New(context.Background(), nil, harness.state, nil, nil)
		require.Error(t, err)
	})
	t.Run("Should reject a nil state", func(t *testing.T) {
		_, err := New(context.Background(), &Config{}, nil, nil, nil)
		require.Error(t, err)
	})
	t.Run("Should surface invalid rate limit settings", func(t *testing.T) {
		cfg := &Config{RateLimit: RateLimitConfig{Enabled: true}}
		_, err := New(context.Background(), cfg, harness.state, nil, nil)
		require.Error(t, err)
	})
}

func TestServerRouting(t *testing.T) {
	harness := newServerHarness(t, nil)
	harness.start(t)
	srv, err := New(context.Background(), &Config{CORSEnabled: true}, harness.state, nil, nil)
	require.NoError(t, err)

	t.Run("Should serve the versioned task API", func(t *testing.T) {
		w := serveJSON(t, srv, http.MethodPost, "/api/v0/tasks", "alice", `{"type":"noop"}`)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	})
	t.Run("Should serve the group API", func(t *testing.T) {
		w := serveJSON(t, srv, http.MethodGet, "/api/v0/groups", "alice", "")
		require.Equal(t, http.StatusOK, w.Code)
		require.Contains(t, w.Body.String(), `"id":"default"`)
	})
	t.Run("Should answer preflight requests when CORS is enabled", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/v0/tasks", http.NoBody)
		w := httptest.NewRecorder()
		srv.Router().ServeHTTP(w, req)
		require.Equal(t, http.StatusNoContent, w.Code)
		require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestHealthEndpoint(t *testing.T) {
	t.Run("Should report ready while the dispatcher runs", func(t *testing.T) {
		harness := newServerHarness(t, &staticStore{})
		harness.start(t)
		srv, err := New(context.Background(), &Config{}, harness.state, nil, nil)
		require.NoError(t, err)
		w := serveJSON(t, srv, http.MethodGet, "/healthz", "", "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		data := decodeHealthData(t, w)
		require.Equal(t, true, data["ready"])
		dispatcher, ok := data["dispatcher"].(map[string]any)
		require.True(t, ok)
		require.Equal(t, true, dispatcher["running"])
		store, ok := data["store"].(map[string]any)
		require.True(t, ok)
		require.Equal(t, true, store["healthy"])
	})
	t.Run("Should report not ready while the dispatcher is stopped", func(t *testing.T) {
		harness := newServerHarness(t, nil)
		srv, err := New(context.Background(), &Config{}, harness.state, nil, nil)
		require.NoError(t, err)
		w := serveJSON(t, srv, http.MethodGet, "/healthz", "", "")
		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		data := decodeHealthData(t, w)
		require.Equal(t, false, data["ready"])
		require.Equal(t, "not_ready", data["status"])
	})
	t.Run("Should degrade when the store health check fails", func(t *testing.T) {
		harness := newServerHarness(t, &staticStore{err: errors.New("connection refused")})
		harness.start(t)
		srv, err := New(context.Background(), &Config{}, harness.state, nil, nil)
		require.NoError(t, err)
		w := serveJSON(t, srv, http.MethodGet, "/healthz", "", "")
		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		data := decodeHealthData(t, w)
		require.Equal(t, "degraded", data["status"])
		store, ok := data["store"].(map[string]any)
		require.True(t, ok)
		require.Equal(t, false, store["healthy"])
		require.Equal(t, "connection refused", store["error"])
	})
}

func TestServerRateLimit(t *testing.T) {
	harness := newServerHarness(t, nil)
	harness.start(t)
	cfg := &Config{RateLimit: RateLimitConfig{Enabled: true, RPS: 1, Burst: 1}}
	srv, err := New(context.Background(), cfg, harness.state, nil, nil)
	require.NoError(t, err)

	t.Run("Should throttle bursts beyond the configured rate", func(t *testing.T) {
		first := serveJSON(t, srv, http.MethodGet, "/api/v0/tasks", "alice", "")
		require.Equal(t, http.StatusOK, first.Code)
		second := serveJSON(t, srv, http.MethodGet, "/api/v0/tasks", "alice", "")
		require.Equal(t, http.StatusTooManyRequests, second.Code)
	})
	t.Run("Should leave the health probe outside the limiter", func(t *testing.T) {
		w := serveJSON(t, srv, http.MethodGet, "/healthz", "", "")
		require.Equal(t, http.StatusOK, w.Code)
	})
}

func TestServerMetricsRoute(t *testing.T) {
	harness := newServerHarness(t, nil)
	harness.start(t)
	monitoringSvc, err := monitoring.NewMonitoringService(
		context.Background(),
		&monitoring.Config{Enabled: true, Path: "/metrics"},
	)
	require.NoError(t, err)
	srv, err := New(context.Background(), &Config{}, harness.state, monitoringSvc, nil)
	require.NoError(t, err)

	t.Run("Should expose the metrics endpoint when monitoring is enabled", func(t *testing.T) {
		w := serveJSON(t, srv, http.MethodGet, "/metrics", "", "")
		require.Equal(t, http.StatusOK, w.Code)
		require.Contains(t, w.Header().Get("Content-Type"), "text/plain")
	})
}
