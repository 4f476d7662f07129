package taskmanager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
)

var (
	// ErrTaskNotFound is returned for unknown local task ids
	ErrTaskNotFound = errors.New("local task not found")

	// ErrTaskCancelled is the cancellation cause seen by actions
	ErrTaskCancelled = errors.New("task cancelled")
)

// Manager tracks the cancellable tasks running on this node
type Manager struct {
	mu     sync.RWMutex
	lastID int64
	tasks  map[int64]*Task
	logger zerolog.Logger
}

// NewManager creates an empty task manager
func NewManager() *Manager {
	return &Manager{
		tasks:  make(map[int64]*Task),
		logger: log.WithComponent("taskmanager"),
	}
}

// Register creates a STARTED task for the given persistent task allocation
func (m *Manager) Register(action string, parent types.PersistentTaskID) *Task {
	ctx, cancel := context.WithCancelCause(context.Background())

	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastID++
	t := &Task{
		id:        m.lastID,
		action:    action,
		parent:    parent,
		startedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		state:     types.TaskStateStarted,
	}
	m.tasks[t.id] = t

	m.logger.Debug().
		Int64("local_id", t.id).
		Str("persistent_task", parent.String()).
		Str("action", action).
		Msg("Registered local task")
	return t
}

// Unregister removes the task and releases its context
func (m *Manager) Unregister(t *Task) {
	m.mu.Lock()
	delete(m.tasks, t.id)
	m.mu.Unlock()

	t.cancel(context.Canceled)
	m.logger.Debug().Int64("local_id", t.id).Msg("Unregistered local task")
}

// Get returns the task with the given local id
func (m *Manager) Get(id int64) (*Task, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	return t, ok
}

// List returns all registered tasks ordered by local id
func (m *Manager) List() []*Task {
	m.mu.RLock()
	out := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Len returns the number of registered tasks
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tasks)
}

// Status returns the status of a local task
func (m *Manager) Status(id int64) (Status, error) {
	t, ok := m.Get(id)
	if !ok {
		return Status{}, fmt.Errorf("failed to get status of task %d: %w", id, ErrTaskNotFound)
	}
	return t.Status(), nil
}

// MarkCancelled flags a local task as CANCELLED without interrupting it
func (m *Manager) MarkCancelled(id int64) error {
	t, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("failed to mark task %d cancelled: %w", id, ErrTaskNotFound)
	}
	t.MarkCancelled()
	return nil
}

// Cancel signals the task's context. The running action decides when to
// stop; the task stays registered until its owner unregisters it.
func (m *Manager) Cancel(id int64, reason string) error {
	t, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("failed to cancel task %d: %w", id, ErrTaskNotFound)
	}
	t.MarkCancelled()
	t.cancel(fmt.Errorf("%w: %s", ErrTaskCancelled, reason))

	m.logger.Info().
		Int64("local_id", id).
		Str("persistent_task", t.parent.String()).
		Str("reason", reason).
		Msg("Cancelled local task")
	return nil
}

// Infos returns status snapshots of all tasks
func (m *Manager) Infos() []types.TaskInfo {
	tasks := m.List()
	out := make([]types.TaskInfo, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Info())
	}
	return out
}
