package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/burrow/pkg/ledger"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/probe"
	"github.com/cuemby/burrow/pkg/registry"
	"github.com/cuemby/burrow/pkg/taskmanager"
)

// Built-in action names
const (
	Sleep = "sleep"
	Echo  = "echo"
	Fail  = "fail"
	Probe = "probe"
)

// SleepRequest is the request of the sleep action. A zero Duration sleeps
// until the task is cancelled.
type SleepRequest struct {
	Duration Duration `json:"duration"`
}

// FailRequest is the request of the fail action
type FailRequest struct {
	Message string   `json:"message"`
	After   Duration `json:"after,omitempty"`
}

// ProbeRequest is the request of the probe action. Exactly one target
// field applies, selected by Kind.
type ProbeRequest struct {
	Kind probe.Kind `json:"kind"`

	URL       string            `json:"url,omitempty"`
	Method    string            `json:"method,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	StatusMin int               `json:"status_min,omitempty"`
	StatusMax int               `json:"status_max,omitempty"`

	Address string   `json:"address,omitempty"`
	Command []string `json:"command,omitempty"`

	Interval    Duration `json:"interval,omitempty"`
	Timeout     Duration `json:"timeout,omitempty"`
	Retries     int      `json:"retries,omitempty"`
	StartPeriod Duration `json:"start_period,omitempty"`
}

// Prober builds the prober the request describes
func (r ProbeRequest) Prober() (probe.Prober, error) {
	switch r.Kind {
	case probe.KindHTTP:
		if r.URL == "" {
			return nil, errors.New("http probe requires a url")
		}
		p := probe.NewHTTPProber(r.URL)
		if r.Method != "" {
			p.WithMethod(r.Method)
		}
		for k, v := range r.Headers {
			p.WithHeader(k, v)
		}
		if r.StatusMin > 0 || r.StatusMax > 0 {
			p.WithStatusRange(r.StatusMin, r.StatusMax)
		}
		return p, nil
	case probe.KindTCP:
		if r.Address == "" {
			return nil, errors.New("tcp probe requires an address")
		}
		return probe.NewTCPProber(r.Address), nil
	case probe.KindExec:
		if len(r.Command) == 0 {
			return nil, errors.New("exec probe requires a command")
		}
		return probe.NewExecProber(r.Command), nil
	default:
		return nil, fmt.Errorf("unknown probe kind %q", r.Kind)
	}
}

// Config returns the watch configuration
func (r ProbeRequest) Config() probe.Config {
	return probe.Config{
		Interval:    time.Duration(r.Interval),
		Timeout:     time.Duration(r.Timeout),
		Retries:     r.Retries,
		StartPeriod: time.Duration(r.StartPeriod),
	}
}

// Duration is a time.Duration that reads "1m30s" or nanoseconds from JSON
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		*d = Duration(parsed)
	case nil:
		*d = 0
	default:
		return fmt.Errorf("invalid duration %v", value)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Register adds the built-in actions to reg
func Register(reg *registry.Registry) error {
	for name, action := range map[string]registry.ActionFunc{
		Sleep: sleep,
		Echo:  echo,
		Fail:  fail,
		Probe: watchProbe,
	} {
		if err := reg.Register(name, registry.ExecutorGeneric, action); err != nil {
			return err
		}
	}
	return nil
}

func sleep(ctx context.Context, req ledger.Request, task *taskmanager.Task) error {
	var r SleepRequest
	if err := decode(req, &r); err != nil {
		return err
	}
	return wait(ctx, time.Duration(r.Duration))
}

func echo(ctx context.Context, req ledger.Request, task *taskmanager.Task) error {
	logger := log.WithPersistentTaskID(task.Parent().ID)
	logger.Info().
		Int64("local_id", task.ID()).
		RawJSON("request", nonEmpty(req)).
		Msg("echo")
	return ctx.Err()
}

func fail(ctx context.Context, req ledger.Request, task *taskmanager.Task) error {
	var r FailRequest
	if err := decode(req, &r); err != nil {
		return err
	}
	if r.After > 0 {
		if err := wait(ctx, time.Duration(r.After)); err != nil {
			return err
		}
	}
	if r.Message == "" {
		r.Message = "task failed"
	}
	return errors.New(r.Message)
}

// watchProbe runs until cancelled and fails once the target turns unhealthy
func watchProbe(ctx context.Context, req ledger.Request, task *taskmanager.Task) error {
	var r ProbeRequest
	if err := decode(req, &r); err != nil {
		return err
	}
	p, err := r.Prober()
	if err != nil {
		return err
	}

	logger := log.WithPersistentTaskID(task.Parent().ID)
	healthy := true
	return probe.Watch(ctx, p, r.Config(), func(result probe.Result, status *probe.Status) {
		if status.Healthy == healthy && result.Healthy {
			return
		}
		healthy = status.Healthy
		logger.Warn().
			Str("kind", string(p.Kind())).
			Bool("healthy", result.Healthy).
			Int("consecutive_failures", status.ConsecutiveFailures).
			Str("message", result.Message).
			Msg("Probe result")
	})
}

// wait blocks for d, or until ctx is done when d is zero
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func decode(req ledger.Request, v interface{}) error {
	if len(req) == 0 {
		return nil
	}
	if err := json.Unmarshal(req, v); err != nil {
		return fmt.Errorf("failed to decode request: %w", err)
	}
	return nil
}

func nonEmpty(req ledger.Request) []byte {
	if len(req) == 0 {
		return []byte("null")
	}
	return req
}
