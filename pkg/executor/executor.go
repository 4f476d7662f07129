package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/cuemby/burrow/pkg/ledger"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/registry"
	"github.com/cuemby/burrow/pkg/taskmanager"
)

// ErrStopped is reported to listeners of executions submitted after Stop
var ErrStopped = errors.New("executor stopped")

// Listener receives the outcome of one execution. Exactly one of the two
// methods is called, exactly once, and never on the submitting goroutine.
type Listener interface {
	OnResponse()
	OnFailure(err error)
}

// ListenerFuncs adapts a pair of functions to Listener
type ListenerFuncs struct {
	Response func()
	Failure  func(err error)
}

func (l ListenerFuncs) OnResponse() {
	if l.Response != nil {
		l.Response()
	}
}

func (l ListenerFuncs) OnFailure(err error) {
	if l.Failure != nil {
		l.Failure(err)
	}
}

// Config holds executor configuration
type Config struct {
	// QueueSizes bounds concurrent executions per executor queue
	QueueSizes map[string]int
	// DefaultQueueSize applies to queues missing from QueueSizes
	DefaultQueueSize int
}

// DefaultConfig returns the queue sizes used when none are configured
func DefaultConfig() Config {
	return Config{
		QueueSizes: map[string]int{
			registry.ExecutorGeneric:    64,
			registry.ExecutorManagement: 4,
		},
		DefaultQueueSize: 16,
	}
}

// Executor runs persistent actions on bounded executor queues
type Executor struct {
	cfg    Config
	logger zerolog.Logger

	mu      sync.Mutex
	queues  map[string]*semaphore.Weighted
	stopped bool
	wg      sync.WaitGroup
}

// NewExecutor creates an executor
func NewExecutor(cfg Config) *Executor {
	if cfg.DefaultQueueSize <= 0 {
		cfg.DefaultQueueSize = DefaultConfig().DefaultQueueSize
	}
	return &Executor{
		cfg:    cfg,
		logger: log.WithComponent("executor"),
		queues: make(map[string]*semaphore.Weighted),
	}
}

// ExecuteAction runs holder's action for task asynchronously and reports the
// outcome to listener. Cancellation of the task's context is seen by the
// action; whatever it returns afterwards is the reported outcome.
func (e *Executor) ExecuteAction(req ledger.Request, task *taskmanager.Task, holder *registry.Holder, listener Listener) {
	once := &onceListener{delegate: listener}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		go once.OnFailure(ErrStopped)
		return
	}
	queue := e.queueLocked(holder.Executor)
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		e.run(queue, req, task, holder, once)
	}()
}

func (e *Executor) run(queue *semaphore.Weighted, req ledger.Request, task *taskmanager.Task, holder *registry.Holder, listener *onceListener) {
	ctx := task.Context()
	logger := e.logger.With().
		Int64("local_id", task.ID()).
		Str("persistent_task", task.Parent().String()).
		Str("action", holder.Name).
		Logger()

	if err := queue.Acquire(ctx, 1); err != nil {
		logger.Debug().Err(err).Msg("Task cancelled while queued")
		listener.OnFailure(causeOf(ctx, err))
		return
	}
	defer queue.Release(1)

	if err := ctx.Err(); err != nil {
		logger.Debug().Err(err).Msg("Task cancelled while queued")
		listener.OnFailure(causeOf(ctx, err))
		return
	}

	timer := metrics.NewTimer()
	err := e.invoke(ctx, req, task, holder)
	timer.ObserveDurationVec(metrics.ActionDuration, holder.Name)

	if err != nil {
		logger.Debug().Err(err).Msg("Persistent action failed")
		listener.OnFailure(err)
		return
	}
	logger.Debug().Msg("Persistent action completed")
	listener.OnResponse()
}

func (e *Executor) invoke(ctx context.Context, req ledger.Request, task *taskmanager.Task, holder *registry.Holder) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("persistent action %s panicked: %v", holder.Name, r)
		}
	}()
	return holder.Action.Execute(ctx, req, task)
}

func (e *Executor) queueLocked(name string) *semaphore.Weighted {
	q, ok := e.queues[name]
	if !ok {
		size, ok := e.cfg.QueueSizes[name]
		if !ok || size <= 0 {
			size = e.cfg.DefaultQueueSize
		}
		q = semaphore.NewWeighted(int64(size))
		e.queues[name] = q
	}
	return q
}

// Stop rejects new executions and waits for running ones until ctx is done
func (e *Executor) Stop(ctx context.Context) error {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to drain executor: %w", ctx.Err())
	}
}

func causeOf(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return err
}

type onceListener struct {
	once     sync.Once
	delegate Listener
}

func (l *onceListener) OnResponse() {
	l.once.Do(l.delegate.OnResponse)
}

func (l *onceListener) OnFailure(err error) {
	l.once.Do(func() { l.delegate.OnFailure(err) })
}
