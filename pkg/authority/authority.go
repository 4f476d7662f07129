package authority

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/ledger"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

var (
	// ErrNotLeader is returned by writes issued on a follower
	ErrNotLeader = errors.New("not the raft leader")

	// ErrNotStarted is returned before Start has created the raft instance
	ErrNotStarted = errors.New("raft not initialized")
)

// Config holds configuration for creating an Authority
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string

	// InMemory keeps raft state and the store out of the data directory.
	// Used by tests and throwaway single-node runs.
	InMemory bool

	// ApplyTimeout bounds each raft apply (default 5s)
	ApplyTimeout time.Duration
}

// Authority owns the replicated ledger. Writes go through raft; every
// member's FSM delivers the resulting ledger changes to its listeners.
type Authority struct {
	nodeID       string
	bindAddr     string
	dataDir      string
	inMemory     bool
	applyTimeout time.Duration

	raft      *raft.Raft
	fsm       *FSM
	store     storage.Store
	transport raft.Transport
	closers   []func() error
	logger    zerolog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates an authority. Raft is not running until Start.
func New(cfg Config) (*Authority, error) {
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("authority: node id is required")
	}
	if cfg.ApplyTimeout <= 0 {
		cfg.ApplyTimeout = 5 * time.Second
	}

	a := &Authority{
		nodeID:       cfg.NodeID,
		bindAddr:     cfg.BindAddr,
		dataDir:      cfg.DataDir,
		inMemory:     cfg.InMemory,
		applyTimeout: cfg.ApplyTimeout,
		stopCh:       make(chan struct{}),
		logger:       log.WithComponent("authority").With().Str("node_id", cfg.NodeID).Logger(),
	}

	if !cfg.InMemory {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create store: %w", err)
		}
		a.store = store
		a.closers = append(a.closers, store.Close)
	}

	a.fsm = NewFSM(a.store)
	return a, nil
}

// AddListener registers l for ledger changes. Register before Start so no
// change is missed.
func (a *Authority) AddListener(l Listener) {
	a.fsm.AddListener(l)
}

func (a *Authority) raftConfig() *raft.Config {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(a.nodeID)

	// LAN timings: failover in a few seconds rather than the WAN defaults
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond

	config.LogOutput = log.WithComponent("raft")
	return config
}

// Start creates the raft instance. With bootstrap set, it forms a new
// single-member cluster; otherwise it waits to be added by the leader.
func (a *Authority) Start(bootstrap bool) error {
	config := a.raftConfig()
	raftLog := log.WithComponent("raft")

	var (
		logStore      raft.LogStore
		stableStore   raft.StableStore
		snapshotStore raft.SnapshotStore
	)

	if a.inMemory {
		inmem := raft.NewInmemStore()
		logStore, stableStore = inmem, inmem
		snapshotStore = raft.NewInmemSnapshotStore()
		_, transport := raft.NewInmemTransport(raft.ServerAddress(a.nodeID))
		a.transport = transport
	} else {
		addr, err := net.ResolveTCPAddr("tcp", a.bindAddr)
		if err != nil {
			return fmt.Errorf("failed to resolve bind address: %w", err)
		}

		transport, err := raft.NewTCPTransport(a.bindAddr, addr, 3, 10*time.Second, raftLog)
		if err != nil {
			return fmt.Errorf("failed to create transport: %w", err)
		}
		a.transport = transport
		a.closers = append(a.closers, transport.Close)

		snapshots, err := raft.NewFileSnapshotStore(a.dataDir, 2, raftLog)
		if err != nil {
			return fmt.Errorf("failed to create snapshot store: %w", err)
		}
		snapshotStore = snapshots

		logs, err := raftboltdb.NewBoltStore(filepath.Join(a.dataDir, "raft-log.db"))
		if err != nil {
			return fmt.Errorf("failed to create log store: %w", err)
		}
		a.closers = append(a.closers, logs.Close)

		stable, err := raftboltdb.NewBoltStore(filepath.Join(a.dataDir, "raft-stable.db"))
		if err != nil {
			return fmt.Errorf("failed to create stable store: %w", err)
		}
		a.closers = append(a.closers, stable.Close)
		logStore, stableStore = logs, stable
	}

	// Entries already in the log are history: listeners only see the
	// ledger they lead to.
	replayIndex, err := logStore.LastIndex()
	if err != nil {
		return fmt.Errorf("failed to read last log index: %w", err)
	}
	a.fsm.HoldUntil(replayIndex)

	r, err := raft.NewRaft(config, a.fsm, logStore, stableStore, snapshotStore, a.transport)
	if err != nil {
		return fmt.Errorf("failed to create raft: %w", err)
	}
	a.raft = r

	if replayIndex > 0 {
		a.logger.Info().Uint64("index", replayIndex).Msg("Replaying raft log")
		go a.releaseAfterReplay(replayIndex)
	}

	if !bootstrap {
		a.logger.Info().Msg("Raft started, waiting to be added to a cluster")
		return nil
	}

	hasState, err := raft.HasExistingState(logStore, stableStore, snapshotStore)
	if err != nil {
		return fmt.Errorf("failed to inspect raft state: %w", err)
	}
	if hasState {
		a.logger.Info().Msg("Existing raft state found, skipping bootstrap")
		return nil
	}

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{
				ID:      config.LocalID,
				Address: a.transport.LocalAddr(),
			},
		},
	}
	if err := a.raft.BootstrapCluster(configuration).Error(); err != nil {
		return fmt.Errorf("failed to bootstrap cluster: %w", err)
	}

	a.logger.Info().Str("addr", string(a.transport.LocalAddr())).Msg("Bootstrapped cluster")
	return nil
}

// releaseAfterReplay ends the listener hold once raft has applied the log
// found at startup. The last entries may not be commands, so the FSM cannot
// always tell on its own.
func (a *Authority) releaseAfterReplay(index uint64) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if a.raft.AppliedIndex() >= index {
			if a.fsm.Replaying() {
				a.fsm.Release()
			}
			a.logger.Info().Uint64("index", index).Msg("Raft log replayed")
			return
		}
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
		}
	}
}

// WaitForLeader blocks until the cluster has a leader or ctx is done
func (a *Authority) WaitForLeader(ctx context.Context) error {
	if a.raft == nil {
		return ErrNotStarted
	}
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if addr, _ := a.raft.LeaderWithID(); addr != "" {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("no raft leader: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// AddVoter adds a new member to the raft cluster
func (a *Authority) AddVoter(nodeID, address string) error {
	if a.raft == nil {
		return ErrNotStarted
	}
	if !a.IsLeader() {
		return fmt.Errorf("%w, current leader: %s", ErrNotLeader, a.LeaderAddr())
	}

	future := a.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to add voter: %w", err)
	}

	a.logger.Info().Str("voter", nodeID).Str("addr", address).Msg("Added voter")
	return nil
}

// RemoveServer removes a member from the raft cluster
func (a *Authority) RemoveServer(nodeID string) error {
	if a.raft == nil {
		return ErrNotStarted
	}
	if !a.IsLeader() {
		return ErrNotLeader
	}

	future := a.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to remove server: %w", err)
	}
	return nil
}

// Servers returns the members of the raft cluster
func (a *Authority) Servers() ([]raft.Server, error) {
	if a.raft == nil {
		return nil, ErrNotStarted
	}

	future := a.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("failed to get configuration: %w", err)
	}
	return future.Configuration().Servers, nil
}

// IsLeader returns true if this member is the raft leader
func (a *Authority) IsLeader() bool {
	if a.raft == nil {
		return false
	}
	return a.raft.State() == raft.Leader
}

// LeaderAddr returns the raft address of the current leader
func (a *Authority) LeaderAddr() string {
	if a.raft == nil {
		return ""
	}
	addr, _ := a.raft.LeaderWithID()
	return string(addr)
}

// LocalAddr returns this member's raft transport address
func (a *Authority) LocalAddr() string {
	if a.transport == nil {
		return ""
	}
	return string(a.transport.LocalAddr())
}

// AppliedIndex returns the last applied raft index
func (a *Authority) AppliedIndex() uint64 {
	if a.raft == nil {
		return 0
	}
	return a.raft.AppliedIndex()
}

// LastIndex returns the last raft log index
func (a *Authority) LastIndex() uint64 {
	if a.raft == nil {
		return 0
	}
	return a.raft.LastIndex()
}

// Stats returns raft statistics
func (a *Authority) Stats() map[string]string {
	if a.raft == nil {
		return nil
	}
	return a.raft.Stats()
}

// Apply submits a command to the raft cluster and returns the FSM result
func (a *Authority) Apply(cmd Command) (interface{}, error) {
	if a.raft == nil {
		return nil, ErrNotStarted
	}
	if !a.IsLeader() {
		return nil, fmt.Errorf("%w, current leader: %s", ErrNotLeader, a.LeaderAddr())
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command: %w", err)
	}

	future := a.raft.Apply(data, a.applyTimeout)
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("failed to apply command: %w", err)
	}

	resp := future.Response()
	if err, ok := resp.(error); ok && err != nil {
		return nil, err
	}
	return resp, nil
}

func (a *Authority) applyOp(op string, payload interface{}) (interface{}, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return a.Apply(Command{Op: op, Data: data})
}

// CreateTask adds a persistent task and returns its id
func (a *Authority) CreateTask(action string, req ledger.Request, flags ledger.Flags, node string) (int64, error) {
	resp, err := a.applyOp(OpCreateTask, CreateTaskRequest{Action: action, Request: req, Flags: flags, Node: node})
	if err != nil {
		return 0, err
	}
	id, ok := resp.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected create_task result %T", resp)
	}
	return id, nil
}

// ReassignTask moves a task to node under a new allocation
func (a *Authority) ReassignTask(id int64, node string) error {
	_, err := a.applyOp(OpReassignTask, ReassignTaskRequest{ID: id, Node: node})
	return err
}

// RemoveTask drops a task from the ledger
func (a *Authority) RemoveTask(id int64) error {
	_, err := a.applyOp(OpRemoveTask, RemoveTaskRequest{ID: id})
	return err
}

// CompleteTask records the outcome of an allocation and drops the task
func (a *Authority) CompleteTask(id types.PersistentTaskID, failure string) error {
	_, err := a.applyOp(OpCompleteTask, CompleteTaskRequest{ID: id, Failure: failure, At: time.Now().UTC()})
	return err
}

// RegisterNode adds or updates a node eligible for placement
func (a *Authority) RegisterNode(node *types.Node) error {
	_, err := a.applyOp(OpRegisterNode, node)
	return err
}

// DeregisterNode removes a node and moves its tasks elsewhere
func (a *Authority) DeregisterNode(id string) error {
	_, err := a.applyOp(OpDeregisterNode, DeregisterNodeRequest{ID: id})
	return err
}

// Ledger returns the ledger as last applied on this member
func (a *Authority) Ledger() *ledger.Ledger {
	return a.fsm.Ledger()
}

// Nodes returns the registered nodes as last applied on this member
func (a *Authority) Nodes() []*types.Node {
	return a.fsm.Nodes()
}

// Completions returns the recorded completion history
func (a *Authority) Completions() ([]*types.Completion, error) {
	if a.store == nil {
		return nil, nil
	}
	return a.store.ListCompletions()
}

// Shutdown stops raft and releases its stores
func (a *Authority) Shutdown() error {
	a.stopOnce.Do(func() { close(a.stopCh) })

	var errs []error
	if a.raft != nil {
		if err := a.raft.Shutdown().Error(); err != nil {
			errs = append(errs, fmt.Errorf("failed to shut down raft: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
