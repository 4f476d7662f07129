package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		components map[string]bool
		want       string
	}{
		{"no components", nil, "healthy"},
		{"all healthy", map[string]bool{"api": true, "raft": true}, "healthy"},
		{"one unhealthy", map[string]bool{"api": true, "raft": false}, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthChecker("1.0.0", ComponentRaft)
			for name, healthy := range tt.components {
				h.UpdateComponent(name, healthy, "not connected")
			}

			health := h.Health()
			assert.Equal(t, tt.want, health.Status)
			assert.Equal(t, "1.0.0", health.Version)
			assert.Len(t, health.Components, len(tt.components))
		})
	}
}

func TestReadiness(t *testing.T) {
	h := NewHealthChecker("dev", ComponentRaft, ComponentCoordinator)

	r := h.Readiness()
	assert.Equal(t, "not_ready", r.Status)
	assert.Equal(t, "not registered", r.Components[ComponentRaft])
	assert.Equal(t, "waiting for coordinator", r.Message)

	h.UpdateComponent(ComponentRaft, false, "leader not elected")
	h.UpdateComponent(ComponentCoordinator, true, "")
	r = h.Readiness()
	assert.Equal(t, "not_ready", r.Status)
	assert.Equal(t, "not ready: leader not elected", r.Components[ComponentRaft])

	h.UpdateComponent(ComponentRaft, true, "")
	r = h.Readiness()
	assert.Equal(t, "ready", r.Status)
	assert.Empty(t, r.Message)
}

func TestHandlers(t *testing.T) {
	h := NewHealthChecker("dev", ComponentAPI)

	tests := []struct {
		name    string
		handler http.HandlerFunc
		setup   func()
		code    int
		status  string
	}{
		{"ready handler not ready", h.ReadyHandler(), func() {}, http.StatusServiceUnavailable, "not_ready"},
		{"ready handler ready", h.ReadyHandler(), func() { h.UpdateComponent(ComponentAPI, true, "") }, http.StatusOK, "ready"},
		{"health handler healthy", h.HealthHandler(), func() {}, http.StatusOK, "healthy"},
		{"health handler unhealthy", h.HealthHandler(), func() { h.UpdateComponent(ComponentAPI, false, "down") }, http.StatusServiceUnavailable, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			w := httptest.NewRecorder()
			tt.handler(w, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var body HealthStatus
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tt.status, body.Status)
		})
	}
}
