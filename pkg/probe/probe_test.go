package probe

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProber(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		header  string
		prober  func(url string) *HTTPProber
		healthy bool
	}{
		{
			name:    "ok",
			status:  http.StatusOK,
			prober:  NewHTTPProber,
			healthy: true,
		},
		{
			name:    "server error",
			status:  http.StatusInternalServerError,
			prober:  NewHTTPProber,
			healthy: false,
		},
		{
			name:   "custom status range",
			status: http.StatusCreated,
			prober: func(url string) *HTTPProber {
				return NewHTTPProber(url).WithStatusRange(201, 201)
			},
			healthy: true,
		},
		{
			name:   "redirect outside range",
			status: http.StatusNotModified,
			prober: func(url string) *HTTPProber {
				return NewHTTPProber(url).WithStatusRange(200, 299)
			},
			healthy: false,
		},
		{
			name:   "required header",
			status: http.StatusOK,
			header: "probe",
			prober: func(url string) *HTTPProber {
				return NewHTTPProber(url).WithHeader("X-Burrow", "probe").WithMethod(http.MethodHead)
			},
			healthy: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.header != "" && r.Header.Get("X-Burrow") != tt.header {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			result := tt.prober(server.URL).Probe(context.Background())
			assert.Equal(t, tt.healthy, result.Healthy, result.Message)
			assert.False(t, result.CheckedAt.IsZero())
		})
	}
}

func TestHTTPProberCancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := NewHTTPProber(server.URL).Probe(ctx)
	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "request failed")
}

func TestTCPProber(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()

	prober := NewTCPProber(addr)
	assert.Equal(t, KindTCP, prober.Kind())
	assert.True(t, prober.Probe(context.Background()).Healthy)

	require.NoError(t, lis.Close())
	result := prober.Probe(context.Background())
	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "connection failed")
}

func TestExecProber(t *testing.T) {
	assert.True(t, NewExecProber([]string{"true"}).Probe(context.Background()).Healthy)
	assert.False(t, NewExecProber([]string{"false"}).Probe(context.Background()).Healthy)

	result := NewExecProber(nil).Probe(context.Background())
	assert.False(t, result.Healthy)
	assert.Equal(t, "no command specified", result.Message)
}

// scripted returns the queued results in order, then repeats the last one
type scripted struct {
	results []bool
	calls   atomic.Int32
}

func (s *scripted) Probe(ctx context.Context) Result {
	n := int(s.calls.Add(1)) - 1
	if n >= len(s.results) {
		n = len(s.results) - 1
	}
	return Result{Healthy: s.results[n], Message: "scripted", CheckedAt: time.Now()}
}

func (s *scripted) Kind() Kind { return "scripted" }

func TestWatchFailsAfterRetries(t *testing.T) {
	p := &scripted{results: []bool{false, true, false, false, false}}
	cfg := Config{Interval: time.Millisecond, Timeout: time.Second, Retries: 3}

	var seen int
	err := Watch(context.Background(), p, cfg, func(Result, *Status) { seen++ })
	require.ErrorIs(t, err, ErrUnhealthy)
	assert.Contains(t, err.Error(), "after 3 scripted probes")
	assert.Equal(t, 5, seen)
}

func TestWatchRunsUntilCancelled(t *testing.T) {
	p := &scripted{results: []bool{true}}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, p, Config{Interval: time.Millisecond, Retries: 1}, nil)
	}()

	require.Eventually(t, func() bool { return p.calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestStatusStartPeriod(t *testing.T) {
	cfg := Config{Retries: 1, StartPeriod: time.Hour}
	status := NewStatus()

	status.Update(Result{Healthy: false}, cfg)
	assert.True(t, status.Healthy)
	assert.Zero(t, status.ConsecutiveFailures)

	cfg.StartPeriod = 0
	status.Update(Result{Healthy: false}, cfg)
	assert.False(t, status.Healthy)

	status.Update(Result{Healthy: true}, cfg)
	assert.True(t, status.Healthy)
	assert.Equal(t, 1, status.ConsecutiveSuccesses)
}
