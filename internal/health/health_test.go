// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/streamkeeper/internal/clock"
	"github.com/ManuGH/streamkeeper/internal/config"
)

func TestNewManager(t *testing.T) {
	m := NewManager("v1.2.3")
	assert.NotNil(t, m)
	assert.Equal(t, "v1.2.3", m.version)
	assert.Empty(t, m.checkers)
}

func TestManager_Health_NoCheckers(t *testing.T) {
	m := NewManager("v1.0.0")

	resp := m.Health(context.Background(), false)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "v1.0.0", resp.Version)
	assert.Nil(t, resp.Checks)
}

func TestManager_Health_WithCheckers(t *testing.T) {
	m := NewManager("v1.0.0")

	m.RegisterChecker(&mockChecker{name: "healthy", status: StatusHealthy})
	m.RegisterChecker(&mockChecker{name: "degraded", status: StatusDegraded})

	// Non-verbose: no checks included
	resp := m.Health(context.Background(), false)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Nil(t, resp.Checks)

	resp = m.Health(context.Background(), true)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Len(t, resp.Checks, 2)
	assert.Equal(t, StatusHealthy, resp.Checks["healthy"].Status)
	assert.Equal(t, StatusDegraded, resp.Checks["degraded"].Status)
}

func TestManager_Health_UnhealthyWins(t *testing.T) {
	m := NewManager("v1.0.0")
	m.RegisterChecker(&mockChecker{name: "unhealthy", status: StatusUnhealthy})
	m.RegisterChecker(&mockChecker{name: "degraded", status: StatusDegraded})

	resp := m.Health(context.Background(), true)
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Len(t, resp.Checks, 2)
}

func TestManager_Health_Uptime(t *testing.T) {
	fc := clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	m := NewManager("v1.0.0", WithClock(fc))

	assert.Equal(t, int64(0), m.Health(context.Background(), false).Uptime)

	fc.Advance(90 * time.Second)
	resp := m.Health(context.Background(), false)
	assert.Equal(t, int64(90), resp.Uptime)
	assert.Equal(t, fc.Now(), resp.Timestamp)
}

func TestManager_Ready(t *testing.T) {
	tests := []struct {
		name       string
		checkers   []Checker
		wantReady  bool
		wantStatus Status
	}{
		{name: "no checkers", wantReady: true, wantStatus: StatusHealthy},
		{
			name: "all healthy",
			checkers: []Checker{
				&mockChecker{name: "a", status: StatusHealthy},
				&mockChecker{name: "b", status: StatusHealthy},
			},
			wantReady:  true,
			wantStatus: StatusHealthy,
		},
		{
			name:       "degraded is still ready",
			checkers:   []Checker{&mockChecker{name: "a", status: StatusDegraded}},
			wantReady:  true,
			wantStatus: StatusDegraded,
		},
		{
			name:       "unhealthy",
			checkers:   []Checker{&mockChecker{name: "a", status: StatusUnhealthy}},
			wantReady:  false,
			wantStatus: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager("v1.0.0")
			for _, c := range tt.checkers {
				m.RegisterChecker(c)
			}
			resp := m.Ready(context.Background())
			assert.Equal(t, tt.wantReady, resp.Ready)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Len(t, resp.Checks, len(tt.checkers))
		})
	}
}

func TestManager_ServeHealth(t *testing.T) {
	m := NewManager("v1.0.0")
	m.RegisterChecker(&mockChecker{name: "test", status: StatusHealthy})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	m.ServeHealth(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Nil(t, resp.Checks)

	req = httptest.NewRequest(http.MethodGet, "/healthz?verbose=true", nil)
	w = httptest.NewRecorder()
	m.ServeHealth(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	resp = HealthResponse{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Len(t, resp.Checks, 1)
}

func TestManager_ServeHealth_EncodingError(t *testing.T) {
	m := NewManager("v1.0.0")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := &brokenWriter{header: make(http.Header)}

	// Should not panic even if encoding fails
	m.ServeHealth(w, req)
}

func TestManager_ServeReady(t *testing.T) {
	tests := []struct {
		name           string
		checker        Checker
		expectedStatus int
		expectedReady  bool
	}{
		{
			name:           "healthy",
			checker:        &mockChecker{name: "test", status: StatusHealthy},
			expectedStatus: http.StatusOK,
			expectedReady:  true,
		},
		{
			name:           "degraded",
			checker:        &mockChecker{name: "test", status: StatusDegraded},
			expectedStatus: http.StatusOK,
			expectedReady:  true,
		},
		{
			name:           "unhealthy",
			checker:        &mockChecker{name: "test", status: StatusUnhealthy},
			expectedStatus: http.StatusServiceUnavailable,
			expectedReady:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager("v1.0.0")
			m.RegisterChecker(tt.checker)

			req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
			w := httptest.NewRecorder()
			m.ServeReady(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)

			var resp ReadinessResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, tt.expectedReady, resp.Ready)
		})
	}
}

func TestFuncChecker(t *testing.T) {
	ok := NewFuncChecker("redis", StatusUnhealthy, func(context.Context) error { return nil })
	assert.Equal(t, "redis", ok.Name())
	assert.Equal(t, StatusHealthy, ok.Check(context.Background()).Status)

	bad := NewFuncChecker("breaker", StatusDegraded, func(context.Context) error { return errors.New("open") })
	res := bad.Check(context.Background())
	assert.Equal(t, StatusDegraded, res.Status)
	assert.Equal(t, "open", res.Error)
}

func TestFuncChecker_HasDeadline(t *testing.T) {
	c := NewFuncChecker("slow", StatusUnhealthy, func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		if !ok {
			return errors.New("no deadline")
		}
		return nil
	})
	assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)
}

func TestLastRunChecker(t *testing.T) {
	fc := clock.NewFake(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	now := fc.Now()

	tests := []struct {
		name           string
		lastRun        time.Time
		lastError      string
		expectedStatus Status
		expectedMsg    string
	}{
		{
			name:           "no run yet",
			expectedStatus: StatusHealthy,
			expectedMsg:    "no run yet",
		},
		{
			name:           "last run failed",
			lastRun:        now,
			lastError:      "redis unavailable",
			expectedStatus: StatusDegraded,
			expectedMsg:    "last run failed",
		},
		{
			name:           "recent success",
			lastRun:        now.Add(-time.Minute),
			expectedStatus: StatusHealthy,
			expectedMsg:    "last run successful",
		},
		{
			name:           "stale success",
			lastRun:        now.Add(-10 * time.Minute),
			expectedStatus: StatusDegraded,
			expectedMsg:    "last run is stale",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewLastRunChecker("janitor", 5*time.Minute, fc, func() (time.Time, string) {
				return tt.lastRun, tt.lastError
			})

			result := checker.Check(context.Background())
			assert.Equal(t, "janitor", checker.Name())
			assert.Equal(t, tt.expectedStatus, result.Status)
			assert.Contains(t, result.Message, tt.expectedMsg)
		})
	}
}

func TestPerformStartupChecks(t *testing.T) {
	cfg := config.Defaults()
	assert.NoError(t, PerformStartupChecks(context.Background(), cfg))

	cfg.Diagnostics.DumpPath = filepath.Join(t.TempDir(), "failures.json")
	assert.NoError(t, PerformStartupChecks(context.Background(), cfg))

	cfg.Diagnostics.DumpPath = filepath.Join(t.TempDir(), "missing", "failures.json")
	assert.ErrorContains(t, PerformStartupChecks(context.Background(), cfg), "does not exist")

	file := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	cfg.Diagnostics.DumpPath = filepath.Join(file, "failures.json")
	assert.ErrorContains(t, PerformStartupChecks(context.Background(), cfg), "not a directory")
}

type mockChecker struct {
	name    string
	status  Status
	message string
	err     string
}

func (m *mockChecker) Name() string {
	return m.name
}

func (m *mockChecker) Check(_ context.Context) CheckResult {
	return CheckResult{
		Status:  m.status,
		Message: m.message,
		Error:   m.err,
	}
}

// brokenWriter is a mock ResponseWriter that always fails to write
type brokenWriter struct {
	header http.Header
}

func (w *brokenWriter) Header() http.Header {
	return w.header
}

func (w *brokenWriter) Write([]byte) (int, error) {
	return 0, assert.AnError
}

func (w *brokenWriter) WriteHeader(int) {}
