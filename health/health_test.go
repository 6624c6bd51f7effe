package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glimte/rpcbridge/bridge"
	"github.com/glimte/rpcbridge/contracts"
	"github.com/glimte/rpcbridge/remote"
	"github.com/glimte/rpcbridge/transports/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixed(name string, status Status) Checker {
	return NewCheckerFunc(name, func(ctx context.Context) (Status, string, error) {
		return status, string(status), nil
	})
}

func TestRegistryCheck(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Status
	}{
		{"no checks", nil, StatusHealthy},
		{"all healthy", []Status{StatusHealthy, StatusHealthy}, StatusHealthy},
		{"one degraded", []Status{StatusHealthy, StatusDegraded}, StatusDegraded},
		{"unhealthy wins", []Status{StatusDegraded, StatusUnhealthy, StatusHealthy}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewRegistry()
			for i, s := range tt.statuses {
				registry.Register(fixed(string(rune('a'+i)), s))
			}

			report := registry.Check(context.Background())
			assert.Equal(t, tt.want, report.Status)
			assert.Len(t, report.Checks, len(tt.statuses))
		})
	}
}

func TestWorstStatusWins(t *testing.T) {
	assert.Equal(t, StatusHealthy, worse(StatusHealthy, StatusHealthy))
	assert.Equal(t, StatusDegraded, worse(StatusHealthy, StatusDegraded))
	assert.Equal(t, StatusDegraded, worse(StatusDegraded, StatusHealthy))
	assert.Equal(t, StatusUnhealthy, worse(StatusDegraded, StatusUnhealthy))
	assert.Equal(t, StatusUnhealthy, worse(StatusUnhealthy, StatusDegraded))
	assert.Equal(t, StatusUnhealthy, worse(StatusHealthy, Status("bogus")))

	registry := NewRegistry()
	registry.Register(fixed("bridge", StatusDegraded))
	registry.Register(fixed("broker", StatusUnhealthy))

	report := registry.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Equal(t, StatusDegraded, report.Checks["bridge"].Status)
	assert.Equal(t, StatusUnhealthy, report.Checks["broker"].Status)

	rec := httptest.NewRecorder()
	NewHandler(registry, time.Second).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, StatusUnhealthy, body.Status)
}

func TestRegistryCheckTimeout(t *testing.T) {
	registry := NewRegistry()
	registry.Register(fixed("fast", StatusHealthy))
	registry.Register(NewCheckerFunc("stuck", func(ctx context.Context) (Status, string, error) {
		<-ctx.Done()
		time.Sleep(200 * time.Millisecond)
		return StatusHealthy, "", nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	report := registry.Check(ctx)
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Equal(t, "Check timed out", report.Checks["stuck"].Message)
}

func TestCheckerFuncError(t *testing.T) {
	checker := NewCheckerFunc("disk", func(ctx context.Context) (Status, string, error) {
		return StatusUnhealthy, "full", errors.New("no space")
	})

	result := checker.Check(context.Background())
	assert.Equal(t, "disk", result.Name)
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.Equal(t, "no space", result.Error)
}

func TestHandler(t *testing.T) {
	registry := NewRegistry()
	registry.Register(fixed("bridge", StatusDegraded))
	handler := NewHandler(registry, time.Second)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var report Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Contains(t, report.Checks, "bridge")

	registry.Register(fixed("broker", StatusUnhealthy))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, "alive", rec.Body.String())
}

func TestBridgeChecker(t *testing.T) {
	t.Run("unconfigured bridge is degraded", func(t *testing.T) {
		b, err := bridge.NewBridge(bridge.LauncherFunc(func(ctx context.Context, url string, inbound func(contracts.Envelope)) (contracts.Endpoint, error) {
			return nil, errors.New("unused")
		}), bridge.WithLogger(quietLogger()))
		require.NoError(t, err)
		defer b.Close()

		result := NewBridgeChecker(b).Check(context.Background())
		assert.Equal(t, StatusDegraded, result.Status)
		assert.Equal(t, false, result.Details["configured"])
	})

	t.Run("ready bridge is healthy", func(t *testing.T) {
		responder := remote.NewResponder(remote.WithLogger(quietLogger()))
		require.NoError(t, remote.RegisterDemo(responder))
		launcher, err := memory.NewLauncher(responder, memory.WithLogger(quietLogger()))
		require.NoError(t, err)

		b, err := bridge.NewBridge(launcher, bridge.WithAddress("memory://local"), bridge.WithLogger(quietLogger()))
		require.NoError(t, err)
		defer b.Close()

		checker := NewBridgeChecker(b)
		assert.Equal(t, StatusHealthy, checker.Check(context.Background()).Status)

		_, err = b.Invoke(context.Background(), "echo", 1)
		require.NoError(t, err)

		result := checker.Check(context.Background())
		assert.Equal(t, StatusHealthy, result.Status)
		assert.Equal(t, "ready", result.Details["phase"])
		assert.Equal(t, 0, result.Details["pending"])
	})

	t.Run("failed handshake is unhealthy", func(t *testing.T) {
		b, err := bridge.NewBridge(bridge.LauncherFunc(func(ctx context.Context, url string, inbound func(contracts.Envelope)) (contracts.Endpoint, error) {
			return nil, errors.New("blocked")
		}), bridge.WithAddress("https://script.example.com/exec"), bridge.WithLogger(quietLogger()))
		require.NoError(t, err)
		defer b.Close()

		_, err = b.Invoke(context.Background(), "echo")
		require.Error(t, err)

		result := NewBridgeChecker(b).Check(context.Background())
		assert.Equal(t, StatusUnhealthy, result.Status)
		assert.Equal(t, "failed", result.Details["phase"])
	})
}

func TestResponderChecker(t *testing.T) {
	responder := remote.NewResponder(remote.WithLogger(quietLogger()))
	checker := NewResponderChecker(responder)
	assert.Equal(t, StatusDegraded, checker.Check(context.Background()).Status)

	require.NoError(t, remote.RegisterDemo(responder))
	result := checker.Check(context.Background())
	assert.Equal(t, StatusHealthy, result.Status)
	assert.Equal(t, []string{"echo", "fail", "slow", "sum"}, result.Details["methods"])
}
