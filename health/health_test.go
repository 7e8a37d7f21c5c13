package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthyChecker(name string) Checker {
	return NewCheckerFunc(name, func(ctx context.Context) CheckResult {
		return CheckResult{Name: name, Status: StatusHealthy, Timestamp: time.Now()}
	})
}

func checkerWithStatus(name string, status Status) Checker {
	return NewCheckerFunc(name, func(ctx context.Context) CheckResult {
		return CheckResult{Name: name, Status: status, Timestamp: time.Now()}
	})
}

func TestRegistry(t *testing.T) {
	t.Run("all healthy checks aggregate to healthy", func(t *testing.T) {
		registry := NewRegistry()
		registry.Register(healthyChecker("a"))
		registry.Register(healthyChecker("b"))

		report := registry.Check(context.Background())

		assert.Equal(t, StatusHealthy, report.Status)
		assert.Len(t, report.Checks, 2)
	})

	t.Run("one degraded check degrades the aggregate", func(t *testing.T) {
		registry := NewRegistry()
		registry.Register(healthyChecker("a"))
		registry.Register(checkerWithStatus("b", StatusDegraded))

		report := registry.Check(context.Background())

		assert.Equal(t, StatusDegraded, report.Status)
	})

	t.Run("unhealthy outranks degraded", func(t *testing.T) {
		registry := NewRegistry()
		registry.Register(checkerWithStatus("a", StatusDegraded))
		registry.Register(checkerWithStatus("b", StatusUnhealthy))
		registry.Register(healthyChecker("c"))

		report := registry.Check(context.Background())

		assert.Equal(t, StatusUnhealthy, report.Status)
	})

	t.Run("a check that outlives the deadline is reported unhealthy", func(t *testing.T) {
		registry := NewRegistry()
		registry.Register(healthyChecker("fast"))
		registry.Register(NewCheckerFunc("slow", func(ctx context.Context) CheckResult {
			time.Sleep(500 * time.Millisecond)
			return CheckResult{Name: "slow", Status: StatusHealthy}
		}))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		report := registry.Check(ctx)

		assert.Equal(t, StatusUnhealthy, report.Status)
		require.Contains(t, report.Checks, "slow")
		assert.Equal(t, StatusUnhealthy, report.Checks["slow"].Status)
		assert.Equal(t, "check timed out", report.Checks["slow"].Message)
	})

	t.Run("metadata rides along on every report", func(t *testing.T) {
		registry := NewRegistry()
		registry.SetMetadata("service", "scholardex")
		registry.Register(healthyChecker("a"))

		report := registry.Check(context.Background())

		assert.Equal(t, "scholardex", report.Metadata["service"])
	})

	t.Run("unregister removes a checker", func(t *testing.T) {
		registry := NewRegistry()
		registry.Register(checkerWithStatus("flaky", StatusUnhealthy))
		registry.Unregister("flaky")

		report := registry.Check(context.Background())

		assert.Equal(t, StatusHealthy, report.Status)
		assert.Empty(t, report.Checks)
	})
}

func TestHandler(t *testing.T) {
	t.Run("healthy registry answers 200 with a JSON report", func(t *testing.T) {
		registry := NewRegistry()
		registry.Register(healthyChecker("broker"))
		handler := NewHandler(registry, time.Second)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var report OverallHealth
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
		assert.Equal(t, StatusHealthy, report.Status)
		assert.Contains(t, report.Checks, "broker")
	})

	t.Run("unhealthy registry answers 503", func(t *testing.T) {
		registry := NewRegistry()
		registry.Register(checkerWithStatus("broker", StatusUnhealthy))
		handler := NewHandler(registry, time.Second)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("degraded registry still answers 200", func(t *testing.T) {
		registry := NewRegistry()
		registry.Register(checkerWithStatus("queue", StatusDegraded))
		handler := NewHandler(registry, time.Second)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("rejects non-GET methods", func(t *testing.T) {
		handler := NewHandler(NewRegistry(), time.Second)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))

		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

type stubReporter struct{ connected bool }

func (s stubReporter) IsConnected() bool { return s.connected }

func TestBrokerChecker(t *testing.T) {
	t.Run("connected broker is healthy", func(t *testing.T) {
		result := NewBrokerChecker(stubReporter{connected: true}).Check(context.Background())
		assert.Equal(t, StatusHealthy, result.Status)
	})

	t.Run("disconnected broker is unhealthy", func(t *testing.T) {
		result := NewBrokerChecker(stubReporter{connected: false}).Check(context.Background())
		assert.Equal(t, StatusUnhealthy, result.Status)
		assert.Equal(t, "broker connection is down", result.Message)
	})
}

type stubCounter struct{ n int }

func (s stubCounter) PendingCount() int { return s.n }

func TestPendingChecker(t *testing.T) {
	checker := NewPendingChecker(stubCounter{n: 3}, 10, 100)

	t.Run("low volume is healthy", func(t *testing.T) {
		result := checker.Check(context.Background())
		assert.Equal(t, StatusHealthy, result.Status)
		assert.Equal(t, 3, result.Details["pending"])
	})

	t.Run("volume above the warning threshold is degraded", func(t *testing.T) {
		result := NewPendingChecker(stubCounter{n: 42}, 10, 100).Check(context.Background())
		assert.Equal(t, StatusDegraded, result.Status)
	})

	t.Run("volume above the critical threshold is unhealthy", func(t *testing.T) {
		result := NewPendingChecker(stubCounter{n: 250}, 10, 100).Check(context.Background())
		assert.Equal(t, StatusUnhealthy, result.Status)
	})
}

func TestQueueBacklogChecker(t *testing.T) {
	t.Run("shallow queue is healthy", func(t *testing.T) {
		depth := func(ctx context.Context, queue string) (int, error) { return 7, nil }
		result := NewQueueBacklogChecker("search-request", depth, 100).Check(context.Background())

		assert.Equal(t, StatusHealthy, result.Status)
		assert.Equal(t, "queue_search-request", result.Name)
		assert.Equal(t, 7, result.Details["depth"])
	})

	t.Run("deep queue is degraded", func(t *testing.T) {
		depth := func(ctx context.Context, queue string) (int, error) { return 5000, nil }
		result := NewQueueBacklogChecker("search-request", depth, 100).Check(context.Background())

		assert.Equal(t, StatusDegraded, result.Status)
	})

	t.Run("inaccessible queue is unhealthy", func(t *testing.T) {
		depth := func(ctx context.Context, queue string) (int, error) {
			return 0, errors.New("inspect failed")
		}
		result := NewQueueBacklogChecker("search-request", depth, 100).Check(context.Background())

		assert.Equal(t, StatusUnhealthy, result.Status)
		assert.Equal(t, "inspect failed", result.Error)
	})
}

func TestRuntimeChecker(t *testing.T) {
	result := NewRuntimeChecker(10000, 20000).Check(context.Background())

	assert.Equal(t, StatusHealthy, result.Status)
	assert.Contains(t, result.Details, "goroutines")
	assert.Contains(t, result.Details, "heap_alloc_mb")
}
