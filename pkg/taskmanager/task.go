package taskmanager

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/types"
)

// Status is the status value reported for a local persistent task. Its JSON
// form is exactly {"state":"STARTED"} or {"state":"CANCELLED"}; status
// tooling depends on that shape.
type Status struct {
	State types.TaskState `json:"state"`
}

func (s Status) String() string {
	data, err := json.Marshal(s)
	if err != nil {
		return `{"state":"` + string(s.State) + `"}`
	}
	return string(data)
}

// Task is a locally running, cancellable persistent task
type Task struct {
	id        int64
	action    string
	parent    types.PersistentTaskID
	startedAt time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc

	mu    sync.RWMutex
	state types.TaskState
}

// ID returns the local task id
func (t *Task) ID() int64 { return t.id }

// Action returns the action type the task runs
func (t *Task) Action() string { return t.action }

// Parent returns the persistent task allocation this local task serves
func (t *Task) Parent() types.PersistentTaskID { return t.parent }

// Context is cancelled when the task is cancelled or unregistered. Actions
// are expected to watch it and return.
func (t *Task) Context() context.Context { return t.ctx }

// Status returns the current status value
func (t *Task) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Status{State: t.state}
}

// MarkCancelled records that the task is no longer assigned to this node.
// It returns false when the task was already cancelled.
func (t *Task) MarkCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == types.TaskStateCancelled {
		return false
	}
	t.state = types.TaskStateCancelled
	return true
}

// IsCancelled reports whether MarkCancelled has been called
func (t *Task) IsCancelled() bool {
	return t.Status().State == types.TaskStateCancelled
}

// Info returns a snapshot suitable for status endpoints
func (t *Task) Info() types.TaskInfo {
	return types.TaskInfo{
		LocalID:      t.id,
		PersistentID: t.parent.ID,
		AllocationID: t.parent.AllocationID,
		Action:       t.action,
		State:        t.Status().State,
		StartedAt:    t.startedAt,
	}
}
