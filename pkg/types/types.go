package types

import (
	"fmt"
	"time"
)

// Node represents a cluster member that can run persistent tasks
type Node struct {
	ID        string     `json:"id"`
	RaftAddr  string     `json:"raft_addr"`
	APIAddr   string     `json:"api_addr"`
	Status    NodeStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}

// NodeStatus represents the current state of a node
type NodeStatus string

const (
	NodeStatusReady    NodeStatus = "ready"
	NodeStatusDown     NodeStatus = "down"
	NodeStatusDraining NodeStatus = "draining"
)

// PersistentTaskID identifies one allocation of a persistent task. The same
// ledger id reassigned to a node yields a new AllocationID, so local
// bookkeeping keyed on this pair never confuses two allocations.
type PersistentTaskID struct {
	ID           int64 `json:"id"`
	AllocationID int64 `json:"allocation_id"`
}

func (p PersistentTaskID) String() string {
	return fmt.Sprintf("%d/%d", p.ID, p.AllocationID)
}

// TaskState is the externally reported state of a local task
type TaskState string

const (
	TaskStateStarted   TaskState = "STARTED"
	TaskStateCancelled TaskState = "CANCELLED"
)

// TaskInfo describes a locally running persistent task for status surfaces
type TaskInfo struct {
	LocalID      int64     `json:"local_id"`
	PersistentID int64     `json:"persistent_id"`
	AllocationID int64     `json:"allocation_id"`
	Action       string    `json:"action"`
	State        TaskState `json:"state"`
	StartedAt    time.Time `json:"started_at"`
}

// Completion records the reported outcome of a finished persistent task
type Completion struct {
	ID          PersistentTaskID `json:"id"`
	Action      string           `json:"action"`
	Node        string           `json:"node"`
	Failure     string           `json:"failure,omitempty"`
	CompletedAt time.Time        `json:"completed_at"`
}

// Succeeded reports whether the task finished without a failure
func (c *Completion) Succeeded() bool {
	return c.Failure == ""
}
