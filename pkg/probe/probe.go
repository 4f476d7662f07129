package probe

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnhealthy is returned by Watch once a target failed Retries probes in a row
var ErrUnhealthy = errors.New("probe target unhealthy")

// Kind represents the type of probe
type Kind string

const (
	KindHTTP Kind = "http"
	KindTCP  Kind = "tcp"
	KindExec Kind = "exec"
)

// Result represents the outcome of a single probe
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

func failed(start time.Time, format string, args ...interface{}) Result {
	return Result{
		Healthy:   false,
		Message:   fmt.Sprintf(format, args...),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Prober checks a single target
type Prober interface {
	Probe(ctx context.Context) Result
	Kind() Kind
}

// Config controls how Watch probes a target
type Config struct {
	// Interval is the time between probes
	Interval time.Duration

	// Timeout bounds a single probe
	Timeout time.Duration

	// Retries is the number of consecutive failures that make the target unhealthy
	Retries int

	// StartPeriod is a grace period during which failures are not counted
	StartPeriod time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
		Retries:  3,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.Retries <= 0 {
		c.Retries = def.Retries
	}
	return c
}

// Status tracks the health of one watched target
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastResult           Result
	Healthy              bool
	StartedAt            time.Time
}

// NewStatus returns a status that is healthy until proven otherwise
func NewStatus() *Status {
	return &Status{
		Healthy:   true,
		StartedAt: time.Now(),
	}
}

// Update folds a new result into the status
func (s *Status) Update(result Result, cfg Config) {
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
		return
	}

	s.ConsecutiveSuccesses = 0
	if s.InStartPeriod(cfg) {
		return
	}
	s.ConsecutiveFailures++
	if s.ConsecutiveFailures >= cfg.Retries {
		s.Healthy = false
	}
}

// InStartPeriod reports whether failures are still being ignored
func (s *Status) InStartPeriod(cfg Config) bool {
	if cfg.StartPeriod == 0 {
		return false
	}
	return time.Since(s.StartedAt) < cfg.StartPeriod
}

// Watch probes p every cfg.Interval until ctx is done or the target turns
// unhealthy. observe, if set, sees every result.
func Watch(ctx context.Context, p Prober, cfg Config, observe func(Result, *Status)) error {
	cfg = cfg.withDefaults()
	status := NewStatus()

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		probeCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		result := p.Probe(probeCtx)
		cancel()

		if ctx.Err() != nil {
			return ctx.Err()
		}

		status.Update(result, cfg)
		if observe != nil {
			observe(result, status)
		}
		if !status.Healthy {
			return fmt.Errorf("%w after %d %s probes: %s",
				ErrUnhealthy, status.ConsecutiveFailures, p.Kind(), result.Message)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
