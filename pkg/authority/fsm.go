package authority

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/ledger"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// ErrStaleAllocation is returned when a completion names an allocation the
// ledger has already replaced
var ErrStaleAllocation = errors.New("stale persistent task allocation")

// Command ops
const (
	OpCreateTask     = "create_task"
	OpReassignTask   = "reassign_task"
	OpRemoveTask     = "remove_task"
	OpCompleteTask   = "complete_task"
	OpRegisterNode   = "register_node"
	OpDeregisterNode = "deregister_node"
)

// Command represents a state change operation in the Raft log
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// CreateTaskRequest adds a persistent task. An empty Node lets the
// authority place it on the least loaded ready node.
type CreateTaskRequest struct {
	Action  string         `json:"action"`
	Request ledger.Request `json:"request,omitempty"`
	Flags   ledger.Flags   `json:"flags"`
	Node    string         `json:"node,omitempty"`
}

// ReassignTaskRequest moves a task to another node
type ReassignTaskRequest struct {
	ID   int64  `json:"id"`
	Node string `json:"node"`
}

// RemoveTaskRequest drops a task from the ledger
type RemoveTaskRequest struct {
	ID int64 `json:"id"`
}

// CompleteTaskRequest reports the outcome of one allocation
type CompleteTaskRequest struct {
	ID      types.PersistentTaskID `json:"id"`
	Failure string                 `json:"failure,omitempty"`
	Node    string                 `json:"node,omitempty"`
	At      time.Time              `json:"at"`
}

// DeregisterNodeRequest removes a node and moves its tasks elsewhere
type DeregisterNodeRequest struct {
	ID string `json:"id"`
}

// Listener receives every ledger change in apply order
type Listener interface {
	LedgerChanged(previous, current *ledger.Ledger)
}

// ListenerFunc adapts a function to Listener
type ListenerFunc func(previous, current *ledger.Ledger)

func (f ListenerFunc) LedgerChanged(previous, current *ledger.Ledger) {
	f(previous, current)
}

// FSM implements the Raft finite state machine holding the ledger
type FSM struct {
	mu     sync.RWMutex
	ledger *ledger.Ledger
	nodes  map[string]*types.Node
	store  storage.Store
	logger zerolog.Logger

	listenerMu sync.RWMutex
	listeners  []Listener

	// Delivery to listeners is held back while raft replays the log it
	// found at startup. replayIndex is the last index of that log.
	held        bool
	replayIndex uint64

	// deliverMu serializes deliveries; delivered is the ledger the
	// listeners saw last.
	deliverMu sync.Mutex
	delivered *ledger.Ledger
}

// NewFSM creates an FSM with an empty ledger. store may be nil.
func NewFSM(store storage.Store) *FSM {
	empty := ledger.Empty()
	return &FSM{
		ledger:    empty,
		delivered: empty,
		nodes:     make(map[string]*types.Node),
		store:     store,
		logger:    log.WithComponent("fsm"),
	}
}

// HoldUntil suppresses listener delivery until the entry at index has been
// applied or Release is called. Listeners then receive a single change from
// the empty ledger to the current one, never the intermediate history.
func (f *FSM) HoldUntil(index uint64) {
	if index == 0 {
		return
	}
	f.mu.Lock()
	f.held = true
	f.replayIndex = index
	f.mu.Unlock()
}

// Release ends a hold and delivers the current ledger
func (f *FSM) Release() {
	f.mu.Lock()
	f.held = false
	f.mu.Unlock()
	f.deliver()
}

// Replaying reports whether delivery is still held back
func (f *FSM) Replaying() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.held
}

// AddListener registers l for all subsequent ledger changes
func (f *FSM) AddListener(l Listener) {
	f.listenerMu.Lock()
	defer f.listenerMu.Unlock()
	f.listeners = append(f.listeners, l)
}

// Ledger returns the current ledger snapshot
func (f *FSM) Ledger() *ledger.Ledger {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.ledger
}

// Nodes returns the registered nodes ordered by ID
func (f *FSM) Nodes() []*types.Node {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.sortedNodesLocked()
}

func (f *FSM) sortedNodesLocked() []*types.Node {
	out := make([]*types.Node, 0, len(f.nodes))
	for _, n := range f.nodes {
		cp := *n
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Apply applies a Raft log entry to the FSM
// This is called by Raft when a log entry is committed
func (f *FSM) Apply(entry *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(entry.Data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %w", err)
	}

	f.mu.Lock()
	if f.held && entry.Index >= f.replayIndex {
		f.held = false
	}
	prev := f.ledger
	result, next, err := f.applyLocked(cmd)
	if err != nil {
		f.mu.Unlock()
		f.deliver()
		return err
	}
	if next != nil && next != prev {
		f.ledger = next
		f.persistLedgerLocked(next)
	}
	f.mu.Unlock()

	f.deliver()
	return result
}

func (f *FSM) applyLocked(cmd Command) (interface{}, *ledger.Ledger, error) {
	switch cmd.Op {
	case OpCreateTask:
		var req CreateTaskRequest
		if err := json.Unmarshal(cmd.Data, &req); err != nil {
			return nil, nil, err
		}
		if req.Action == "" {
			return nil, nil, fmt.Errorf("create_task: action is required")
		}
		node := req.Node
		if node == "" {
			node = SelectNode(f.ledger, f.sortedNodesLocked())
		}
		next, id := f.ledger.AddTask(req.Action, req.Request, req.Flags, node)
		return id, next, nil

	case OpReassignTask:
		var req ReassignTaskRequest
		if err := json.Unmarshal(cmd.Data, &req); err != nil {
			return nil, nil, err
		}
		next, err := f.ledger.ReassignTask(req.ID, req.Node)
		if err != nil {
			return nil, nil, err
		}
		return nil, next, nil

	case OpRemoveTask:
		var req RemoveTaskRequest
		if err := json.Unmarshal(cmd.Data, &req); err != nil {
			return nil, nil, err
		}
		next, err := f.ledger.RemoveTask(req.ID)
		if err != nil {
			return nil, nil, err
		}
		return nil, next, nil

	case OpCompleteTask:
		var req CompleteTaskRequest
		if err := json.Unmarshal(cmd.Data, &req); err != nil {
			return nil, nil, err
		}
		return f.completeLocked(req)

	case OpRegisterNode:
		var node types.Node
		if err := json.Unmarshal(cmd.Data, &node); err != nil {
			return nil, nil, err
		}
		if node.ID == "" {
			return nil, nil, fmt.Errorf("register_node: id is required")
		}
		f.nodes[node.ID] = &node
		if f.store != nil {
			if err := f.store.SaveNode(&node); err != nil {
				f.logger.Error().Err(err).Str("node_id", node.ID).Msg("Failed to persist node")
			}
		}
		return nil, nil, nil

	case OpDeregisterNode:
		var req DeregisterNodeRequest
		if err := json.Unmarshal(cmd.Data, &req); err != nil {
			return nil, nil, err
		}
		return f.deregisterLocked(req.ID)

	default:
		return nil, nil, fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

func (f *FSM) completeLocked(req CompleteTaskRequest) (interface{}, *ledger.Ledger, error) {
	entry, ok := f.ledger.Get(req.ID.ID)
	if !ok {
		return nil, nil, fmt.Errorf("failed to complete task %d: %w", req.ID.ID, ledger.ErrNoSuchTask)
	}
	if entry.AllocationID != req.ID.AllocationID {
		return nil, nil, fmt.Errorf("failed to complete task %s, current allocation is %d: %w",
			req.ID, entry.AllocationID, ErrStaleAllocation)
	}

	next, err := f.ledger.RemoveTask(entry.ID)
	if err != nil {
		return nil, nil, err
	}

	if f.store != nil {
		c := &types.Completion{
			ID:          req.ID,
			Action:      entry.Action,
			Node:        entry.Node,
			Failure:     req.Failure,
			CompletedAt: req.At,
		}
		if err := f.store.RecordCompletion(c); err != nil {
			f.logger.Error().Err(err).Str("persistent_task", req.ID.String()).Msg("Failed to record completion")
		}
	}
	return nil, next, nil
}

// deregisterLocked removes a node and moves each of its tasks to the least
// loaded remaining node, or leaves it unassigned when none is ready.
func (f *FSM) deregisterLocked(id string) (interface{}, *ledger.Ledger, error) {
	if _, ok := f.nodes[id]; !ok {
		return nil, nil, fmt.Errorf("deregister_node: unknown node %s", id)
	}
	delete(f.nodes, id)
	if f.store != nil {
		if err := f.store.DeleteNode(id); err != nil {
			f.logger.Error().Err(err).Str("node_id", id).Msg("Failed to delete node")
		}
	}

	nodes := f.sortedNodesLocked()
	cur := f.ledger
	for _, e := range cur.TasksForNode(id) {
		next, err := cur.ReassignTask(e.ID, selectNode(cur, nodes, id))
		if err != nil {
			return nil, nil, err
		}
		cur = next
	}
	return nil, cur, nil
}

func (f *FSM) persistLedgerLocked(l *ledger.Ledger) {
	if f.store == nil {
		return
	}
	if err := f.store.SaveLedger(l); err != nil {
		f.logger.Error().Err(err).Int64("version", l.Version()).Msg("Failed to persist ledger")
	}
}

// deliver hands the current ledger to every listener unless it was
// delivered already or delivery is held
func (f *FSM) deliver() {
	f.deliverMu.Lock()
	defer f.deliverMu.Unlock()

	f.mu.RLock()
	current, held := f.ledger, f.held
	f.mu.RUnlock()
	if held || current == f.delivered {
		return
	}
	prev := f.delivered
	f.delivered = current

	f.listenerMu.RLock()
	listeners := append([]Listener(nil), f.listeners...)
	f.listenerMu.RUnlock()

	for _, l := range listeners {
		l.LedgerChanged(prev, current)
	}
}

// Snapshot creates a point-in-time snapshot of the FSM
// This is called periodically by Raft to compact the log
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return &Snapshot{
		Ledger: f.ledger,
		Nodes:  f.sortedNodesLocked(),
	}, nil
}

// Restore restores the FSM from a snapshot
// This is called when a node restarts or joins the cluster
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snapshot Snapshot
	if err := json.NewDecoder(rc).Decode(&snapshot); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snapshot.Ledger == nil {
		snapshot.Ledger = ledger.Empty()
	}

	f.mu.Lock()
	f.ledger = snapshot.Ledger
	f.nodes = make(map[string]*types.Node, len(snapshot.Nodes))
	for _, node := range snapshot.Nodes {
		f.nodes[node.ID] = node
		if f.store != nil {
			if err := f.store.SaveNode(node); err != nil {
				f.mu.Unlock()
				return fmt.Errorf("failed to restore node: %w", err)
			}
		}
	}
	f.persistLedgerLocked(snapshot.Ledger)
	f.mu.Unlock()

	f.deliver()
	return nil
}

// Snapshot represents a point-in-time snapshot of authority state. The
// ledger is immutable, so holding the pointer is enough.
type Snapshot struct {
	Ledger *ledger.Ledger `json:"ledger"`
	Nodes  []*types.Node  `json:"nodes"`
}

// Persist writes the snapshot to the given SnapshotSink
func (s *Snapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()

	if err != nil {
		sink.Cancel()
	}

	return err
}

// Release releases the snapshot resources
func (s *Snapshot) Release() {}
