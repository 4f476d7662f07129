package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/ledger"
	"github.com/cuemby/burrow/pkg/registry"
	"github.com/cuemby/burrow/pkg/taskmanager"
	"github.com/cuemby/burrow/pkg/types"
)

type outcome struct {
	ok  bool
	err error
}

func capture() (Listener, <-chan outcome) {
	ch := make(chan outcome, 2)
	return ListenerFuncs{
		Response: func() { ch <- outcome{ok: true} },
		Failure:  func(err error) { ch <- outcome{err: err} },
	}, ch
}

func holder(executor string, fn registry.ActionFunc) *registry.Holder {
	return &registry.Holder{Name: "test", Executor: executor, Action: fn}
}

func wait(t *testing.T, ch <-chan outcome) outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("listener not invoked")
		return outcome{}
	}
}

func newTask(tm *taskmanager.Manager) *taskmanager.Task {
	return tm.Register("test", types.PersistentTaskID{ID: 1, AllocationID: 1})
}

func TestExecuteActionOutcomes(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name    string
		fn      registry.ActionFunc
		wantOK  bool
		wantErr string
	}{
		{
			name:   "success",
			fn:     func(ctx context.Context, req ledger.Request, task *taskmanager.Task) error { return nil },
			wantOK: true,
		},
		{
			name:    "failure",
			fn:      func(ctx context.Context, req ledger.Request, task *taskmanager.Task) error { return boom },
			wantErr: "boom",
		},
		{
			name:    "panic",
			fn:      func(ctx context.Context, req ledger.Request, task *taskmanager.Task) error { panic("kaput") },
			wantErr: "panicked: kaput",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewExecutor(DefaultConfig())
			listener, ch := capture()

			e.ExecuteAction(ledger.Request(`{}`), newTask(taskmanager.NewManager()), holder(registry.ExecutorGeneric, tt.fn), listener)

			o := wait(t, ch)
			assert.Equal(t, tt.wantOK, o.ok)
			if tt.wantErr != "" {
				require.Error(t, o.err)
				assert.Contains(t, o.err.Error(), tt.wantErr)
			}
			require.NoError(t, e.Stop(context.Background()))
			assert.Empty(t, ch, "listener invoked more than once")
		})
	}
}

func TestCancellationIsReportedAsFailure(t *testing.T) {
	e := NewExecutor(DefaultConfig())
	tm := taskmanager.NewManager()
	task := newTask(tm)
	listener, ch := capture()

	started := make(chan struct{})
	e.ExecuteAction(nil, task, holder(registry.ExecutorGeneric, func(ctx context.Context, req ledger.Request, task *taskmanager.Task) error {
		close(started)
		<-ctx.Done()
		return context.Cause(ctx)
	}), listener)

	<-started
	require.NoError(t, tm.Cancel(task.ID(), "reassigned"))

	o := wait(t, ch)
	assert.False(t, o.ok)
	assert.True(t, errors.Is(o.err, taskmanager.ErrTaskCancelled))
}

func TestQueueBoundsConcurrency(t *testing.T) {
	e := NewExecutor(Config{QueueSizes: map[string]int{"single": 1}})
	tm := taskmanager.NewManager()

	var running, peak int32
	release := make(chan struct{})
	fn := func(ctx context.Context, req ledger.Request, task *taskmanager.Task) error {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&running, -1)
		return nil
	}

	l1, ch1 := capture()
	l2, ch2 := capture()
	e.ExecuteAction(nil, newTask(tm), holder("single", fn), l1)
	e.ExecuteAction(nil, newTask(tm), holder("single", fn), l2)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&running))

	close(release)
	assert.True(t, wait(t, ch1).ok)
	assert.True(t, wait(t, ch2).ok)
	assert.Equal(t, int32(1), atomic.LoadInt32(&peak))
}

func TestCancelledWhileQueued(t *testing.T) {
	e := NewExecutor(Config{QueueSizes: map[string]int{"single": 1}})
	tm := taskmanager.NewManager()

	started := make(chan struct{})
	block := make(chan struct{})
	defer close(block)
	busy, _ := capture()
	e.ExecuteAction(nil, newTask(tm), holder("single", func(ctx context.Context, req ledger.Request, task *taskmanager.Task) error {
		close(started)
		<-block
		return nil
	}), busy)

	// The queue slot must be taken before the second execution is submitted
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("first action did not start")
	}

	queued := newTask(tm)
	listener, ch := capture()
	e.ExecuteAction(nil, queued, holder("single", func(ctx context.Context, req ledger.Request, task *taskmanager.Task) error {
		t.Error("queued action must not run after cancellation")
		return nil
	}), listener)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, tm.Cancel(queued.ID(), "removed"))

	o := wait(t, ch)
	assert.True(t, errors.Is(o.err, taskmanager.ErrTaskCancelled))
}

func TestCancelledBeforeSubmitNeverRuns(t *testing.T) {
	e := NewExecutor(DefaultConfig())
	tm := taskmanager.NewManager()

	task := newTask(tm)
	require.NoError(t, tm.Cancel(task.ID(), "removed"))

	var ran atomic.Bool
	listener, ch := capture()
	e.ExecuteAction(nil, task, holder(registry.ExecutorGeneric, func(ctx context.Context, req ledger.Request, task *taskmanager.Task) error {
		ran.Store(true)
		return nil
	}), listener)

	o := wait(t, ch)
	assert.True(t, errors.Is(o.err, taskmanager.ErrTaskCancelled))
	assert.False(t, ran.Load())
}

func TestStopRejectsNewExecutions(t *testing.T) {
	e := NewExecutor(DefaultConfig())
	require.NoError(t, e.Stop(context.Background()))

	listener, ch := capture()
	e.ExecuteAction(nil, newTask(taskmanager.NewManager()), holder(registry.ExecutorGeneric, func(ctx context.Context, req ledger.Request, task *taskmanager.Task) error {
		return nil
	}), listener)

	o := wait(t, ch)
	assert.True(t, errors.Is(o.err, ErrStopped))
}
