package reconciler

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/authority"
	"github.com/cuemby/burrow/pkg/ledger"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
)

// Placement reasons
const (
	ReasonUnassigned = "unassigned"
	ReasonNodeGone   = "node_gone"
)

// DefaultInterval is how often the leader rechecks placement
const DefaultInterval = 30 * time.Second

// Authority is the part of the authority the reconciler reads and writes
type Authority interface {
	IsLeader() bool
	Ledger() *ledger.Ledger
	Nodes() []*types.Node
	ReassignTask(id int64, node string) error
}

// Reconciler places persistent tasks the ledger leaves without a usable
// node: tasks created while no node was ready, and tasks assigned to nodes
// that are no longer registered or ready. Only the raft leader acts.
type Reconciler struct {
	authority Authority
	interval  time.Duration
	logger    zerolog.Logger

	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
	triggerC chan struct{}
}

// NewReconciler creates a new reconciler
func NewReconciler(auth Authority, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reconciler{
		authority: auth,
		interval:  interval,
		logger:    log.WithComponent("reconciler"),
		stopCh:    make(chan struct{}),
		triggerC:  make(chan struct{}, 1),
	}
}

// Start begins the reconciliation loop
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reconciler
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Trigger requests a recheck without waiting for the next tick
func (r *Reconciler) Trigger() {
	select {
	case r.triggerC <- struct{}{}:
	default:
	}
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-r.triggerC:
		case <-r.stopCh:
			return
		}
		if _, err := r.Reconcile(); err != nil {
			r.logger.Warn().Err(err).Msg("Placement recheck failed")
		}
	}
}

// Reconcile runs one placement pass and returns how many tasks it moved.
// Followers do nothing.
func (r *Reconciler) Reconcile() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.authority.IsLeader() {
		return 0, nil
	}

	nodes := r.authority.Nodes()
	usable := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		usable[n.ID] = n.Status == types.NodeStatusReady
	}

	placed := 0
	for _, e := range r.authority.Ledger().Tasks() {
		reason := ""
		switch {
		case e.Node == "":
			reason = ReasonUnassigned
		case !usable[e.Node]:
			reason = ReasonNodeGone
		default:
			continue
		}

		// Re-read so each choice sees the previous placements
		target := authority.SelectNode(r.authority.Ledger(), nodes)
		if target == "" {
			r.logger.Debug().Int64("persistent_task", e.ID).Msg("No ready node for task")
			return placed, nil
		}
		if err := r.authority.ReassignTask(e.ID, target); err != nil {
			return placed, fmt.Errorf("failed to place task %d: %w", e.ID, err)
		}

		placed++
		metrics.TasksPlaced.WithLabelValues(reason).Inc()
		r.logger.Info().
			Int64("persistent_task", e.ID).
			Str("from", e.Node).
			Str("to", target).
			Str("reason", reason).
			Msg("Placed persistent task")
	}
	return placed, nil
}
