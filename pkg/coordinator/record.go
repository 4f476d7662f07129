package coordinator

import (
	"strconv"

	"github.com/cuemby/burrow/pkg/taskmanager"
	"github.com/cuemby/burrow/pkg/types"
)

type recordState int

const (
	// assigned here and running
	stateStarted recordState = iota
	// running, but the ledger no longer assigns it here
	stateCancelled
	// finished, completion notification in flight
	stateNotifying
	// finished, the last notification attempt failed
	stateNotificationFailed
	// finished and acknowledged by the authority
	stateNotified
)

var allStates = []recordState{
	stateStarted,
	stateCancelled,
	stateNotifying,
	stateNotificationFailed,
	stateNotified,
}

func (s recordState) String() string {
	switch s {
	case stateStarted:
		return "started"
	case stateCancelled:
		return "cancelled"
	case stateNotifying:
		return "notifying"
	case stateNotificationFailed:
		return "notification_failed"
	case stateNotified:
		return "notified"
	default:
		return "unknown"
	}
}

// record is the coordinator's bookkeeping for one allocation of a
// persistent task on this node.
type record struct {
	key   types.PersistentTaskID
	task  *taskmanager.Task
	state recordState

	// outcome reported by the executor, resent verbatim on retries
	failure error

	// the ledger dropped the entry while a notification was in flight
	released bool
}

func (r *record) metadata() map[string]string {
	return map[string]string{
		"persistent_task_id": strconv.FormatInt(r.key.ID, 10),
		"allocation_id":      strconv.FormatInt(r.key.AllocationID, 10),
		"local_id":           strconv.FormatInt(r.task.ID(), 10),
		"action":             r.task.Action(),
	}
}
