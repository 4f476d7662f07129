package authority

import (
	"github.com/cuemby/burrow/pkg/taskmanager"
	"github.com/cuemby/burrow/pkg/types"
)

// TaskAuthority is the part of the authority a node writes to
type TaskAuthority interface {
	CompleteTask(id types.PersistentTaskID, failure string) error
}

// LocalService delivers cancellations and completion notifications without
// a network hop: cancellations go straight to the local task manager and
// completions straight to the authority. Each call runs on its own
// goroutine, so callers may invoke it while a ledger change is being
// applied.
type LocalService struct {
	authority TaskAuthority
	tasks     *taskmanager.Manager
}

// NewLocalService creates a LocalService
func NewLocalService(authority TaskAuthority, tasks *taskmanager.Manager) *LocalService {
	return &LocalService{authority: authority, tasks: tasks}
}

// SendCancellation cancels the local task localID
func (s *LocalService) SendCancellation(localID int64, done func(error)) {
	go func() {
		done(s.tasks.Cancel(localID, "persistent task is no longer assigned to this node"))
	}()
}

// SendCompletionNotification reports the outcome of id to the authority
func (s *LocalService) SendCompletionNotification(id types.PersistentTaskID, failure error, done func(error)) {
	go func() {
		var msg string
		if failure != nil {
			msg = failure.Error()
		}
		done(s.authority.CompleteTask(id, msg))
	}()
}
