package coordinator

import (
	"sort"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/executor"
	"github.com/cuemby/burrow/pkg/ledger"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/registry"
	"github.com/cuemby/burrow/pkg/taskmanager"
	"github.com/cuemby/burrow/pkg/types"
)

// ActionService delivers cancellation requests and completion notifications.
// Both calls return immediately; done is invoked later, at most once, with
// nil on acknowledgement or the delivery error.
type ActionService interface {
	SendCancellation(localID int64, done func(error))
	SendCompletionNotification(id types.PersistentTaskID, failure error, done func(error))
}

// Executor runs actions asynchronously and reports each outcome exactly once
type Executor interface {
	ExecuteAction(req ledger.Request, task *taskmanager.Task, holder *registry.Holder, listener executor.Listener)
}

// Event is one ledger change as seen by a node
type Event struct {
	Previous  *ledger.Ledger
	Current   *ledger.Ledger
	LocalNode string
}

// Coordinator makes the persistent tasks running on this node match the
// ledger's assignments.
type Coordinator struct {
	nodeID   string
	service  ActionService
	registry *registry.Registry
	tasks    *taskmanager.Manager
	executor Executor
	broker   *events.Broker
	logger   zerolog.Logger

	mu      sync.Mutex
	running map[types.PersistentTaskID]*record
	unknown map[types.PersistentTaskID]struct{}
}

// NewCoordinator creates a coordinator for the node nodeID
func NewCoordinator(nodeID string, service ActionService, reg *registry.Registry, tasks *taskmanager.Manager, exec Executor) *Coordinator {
	return &Coordinator{
		nodeID:   nodeID,
		service:  service,
		registry: reg,
		tasks:    tasks,
		executor: exec,
		logger:   log.WithComponent("coordinator").With().Str("node_id", nodeID).Logger(),
		running:  make(map[types.PersistentTaskID]*record),
		unknown:  make(map[types.PersistentTaskID]struct{}),
	}
}

// SetBroker enables lifecycle event publishing
func (c *Coordinator) SetBroker(b *events.Broker) {
	c.broker = b
}

// LedgerChanged reconciles against a new ledger for this coordinator's node
func (c *Coordinator) LedgerChanged(previous, current *ledger.Ledger) {
	c.ClusterChanged(Event{Previous: previous, Current: current, LocalNode: c.nodeID})
}

type startRequest struct {
	rec     *record
	request ledger.Request
	holder  *registry.Holder
}

type notifyRequest struct {
	rec     *record
	failure error
}

// ClusterChanged runs one reconciliation pass. Calls must not overlap;
// completions and acknowledgements may arrive concurrently.
func (c *Coordinator) ClusterChanged(ev Event) {
	if ev.Previous.Equal(ev.Current) {
		return
	}
	if c.broker != nil {
		c.broker.Publish(events.NewEvent(events.EventLedgerChanged, "", map[string]string{
			"version": strconv.FormatInt(ev.Current.Version(), 10),
			"tasks":   strconv.Itoa(len(ev.Current.Tasks())),
		}))
	}

	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	var (
		starts   []startRequest
		cancels  []*record
		notifies []notifyRequest
	)

	c.mu.Lock()

	visited := make(map[types.PersistentTaskID]bool)
	for _, entry := range ev.Current.TasksForNode(ev.LocalNode) {
		key := types.PersistentTaskID{ID: entry.ID, AllocationID: entry.AllocationID}
		visited[key] = true

		rec, ok := c.running[key]
		if !ok {
			if s, ok := c.startLocked(key, entry); ok {
				starts = append(starts, s)
			}
			continue
		}

		if rec.state == stateNotificationFailed {
			// The authority still lists the task, so the last notification
			// never landed; send the same outcome again.
			rec.state = stateNotifying
			notifies = append(notifies, notifyRequest{rec: rec, failure: rec.failure})
		}
	}

	for key := range c.unknown {
		if !visited[key] {
			delete(c.unknown, key)
		}
	}

	for key, rec := range c.running {
		if visited[key] {
			continue
		}
		switch rec.state {
		case stateStarted:
			rec.state = stateCancelled
			rec.task.MarkCancelled()
			cancels = append(cancels, rec)
		case stateCancelled:
			// still running; its completion listener removes it
		case stateNotifying:
			rec.released = true
		case stateNotified:
			c.removeLocked(rec)
		case stateNotificationFailed:
			c.logger.Warn().
				Str("persistent_task", key.String()).
				Msg("Authority dropped task before acknowledging its completion notification")
			c.removeLocked(rec)
		}
	}

	c.updateGaugesLocked()
	c.mu.Unlock()

	for _, s := range starts {
		metrics.TasksStarted.Inc()
		c.publish(events.EventTaskStarted, "persistent task started", s.rec)
		c.executor.ExecuteAction(s.request, s.rec.task, s.holder, &completionListener{c: c, rec: s.rec})
	}

	for _, rec := range cancels {
		c.cancel(rec)
	}

	for _, n := range notifies {
		c.notify(n.rec, n.failure)
	}
}

func (c *Coordinator) startLocked(key types.PersistentTaskID, entry ledger.Entry) (startRequest, bool) {
	if _, reported := c.unknown[key]; reported {
		return startRequest{}, false
	}

	holder, err := c.registry.Lookup(entry.Action)
	if err != nil {
		c.unknown[key] = struct{}{}
		metrics.UnknownActions.Inc()
		c.logger.Error().
			Err(err).
			Str("persistent_task", key.String()).
			Str("action", entry.Action).
			Msg("Cannot start persistent task")
		if c.broker != nil {
			c.broker.Publish(events.NewEvent(events.EventTaskUnknownAction, err.Error(), map[string]string{
				"persistent_task_id": strconv.FormatInt(key.ID, 10),
				"allocation_id":      strconv.FormatInt(key.AllocationID, 10),
				"action":             entry.Action,
			}))
		}
		return startRequest{}, false
	}

	task := c.tasks.Register(entry.Action, key)
	rec := &record{key: key, task: task, state: stateStarted}
	c.running[key] = rec

	c.logger.Info().
		Str("persistent_task", key.String()).
		Int64("local_id", task.ID()).
		Str("action", entry.Action).
		Msg("Starting persistent task")
	return startRequest{rec: rec, request: entry.Request, holder: holder}, true
}

func (c *Coordinator) cancel(rec *record) {
	localID := rec.task.ID()
	metrics.TasksCancelled.Inc()
	c.publish(events.EventTaskCancelled, "persistent task no longer assigned to this node", rec)
	c.logger.Info().
		Str("persistent_task", rec.key.String()).
		Int64("local_id", localID).
		Msg("Cancelling persistent task")

	c.service.SendCancellation(localID, func(err error) {
		if err != nil {
			metrics.CancellationsTotal.WithLabelValues("failed").Inc()
			c.logger.Warn().
				Err(err).
				Str("persistent_task", rec.key.String()).
				Int64("local_id", localID).
				Msg("Failed to cancel persistent task")
			return
		}
		metrics.CancellationsTotal.WithLabelValues("acknowledged").Inc()
	})
}

// onCompletion handles the executor's outcome for rec
func (c *Coordinator) onCompletion(rec *record, failure error) {
	result := "success"
	if failure != nil {
		result = "failure"
	}

	c.mu.Lock()
	if c.running[rec.key] != rec {
		c.mu.Unlock()
		c.logger.Warn().Str("persistent_task", rec.key.String()).Msg("Completion for untracked persistent task")
		return
	}

	switch rec.state {
	case stateCancelled:
		// The ledger already moved the task away; nobody expects a result.
		metrics.TasksCompleted.WithLabelValues(result).Inc()
		c.removeLocked(rec)
		c.updateGaugesLocked()
		c.mu.Unlock()
		c.logger.Info().Err(failure).Str("persistent_task", rec.key.String()).Msg("Cancelled persistent task finished")
		return
	case stateStarted:
		metrics.TasksCompleted.WithLabelValues(result).Inc()
		rec.failure = failure
		rec.state = stateNotifying
	default:
		state := rec.state
		c.mu.Unlock()
		c.logger.Warn().
			Str("persistent_task", rec.key.String()).
			Str("state", state.String()).
			Msg("Persistent task completed twice")
		return
	}
	c.updateGaugesLocked()
	c.mu.Unlock()

	if failure != nil {
		c.publish(events.EventTaskFailed, failure.Error(), rec)
	} else {
		c.publish(events.EventTaskCompleted, "persistent task completed", rec)
	}
	c.notify(rec, failure)
}

func (c *Coordinator) notify(rec *record, failure error) {
	c.logger.Debug().
		Err(failure).
		Str("persistent_task", rec.key.String()).
		Msg("Sending completion notification")

	c.service.SendCompletionNotification(rec.key, failure, func(err error) {
		c.onNotificationAck(rec, err)
	})
}

func (c *Coordinator) onNotificationAck(rec *record, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		metrics.NotificationsTotal.WithLabelValues("failed").Inc()
	} else {
		metrics.NotificationsTotal.WithLabelValues("acknowledged").Inc()
	}

	if c.running[rec.key] != rec || rec.state != stateNotifying {
		return
	}

	switch {
	case err == nil && rec.released:
		c.removeLocked(rec)
	case err == nil:
		rec.state = stateNotified
	case rec.released:
		c.logger.Warn().Err(err).
			Str("persistent_task", rec.key.String()).
			Msg("Completion notification failed for task the authority already dropped")
		c.removeLocked(rec)
	default:
		rec.state = stateNotificationFailed
		c.logger.Warn().Err(err).
			Str("persistent_task", rec.key.String()).
			Msg("Completion notification failed, will retry on next ledger change")
		if c.broker != nil {
			c.broker.Publish(events.NewEvent(events.EventNotificationFailed, err.Error(), rec.metadata()))
		}
	}
	c.updateGaugesLocked()
}

func (c *Coordinator) removeLocked(rec *record) {
	delete(c.running, rec.key)
	c.tasks.Unregister(rec.task)
	c.logger.Debug().Str("persistent_task", rec.key.String()).Msg("Removed persistent task from local bookkeeping")
	if c.broker != nil {
		c.broker.Publish(events.NewEvent(events.EventTaskRemoved, "local bookkeeping removed", rec.metadata()))
	}
}

func (c *Coordinator) updateGaugesLocked() {
	counts := make(map[recordState]int, len(allStates))
	for _, rec := range c.running {
		counts[rec.state]++
	}
	for _, s := range allStates {
		metrics.LocalTasks.WithLabelValues(s.String()).Set(float64(counts[s]))
	}
}

func (c *Coordinator) publish(t events.EventType, msg string, rec *record) {
	if c.broker == nil {
		return
	}
	c.broker.Publish(events.NewEvent(t, msg, rec.metadata()))
}

// TaskStatus describes one entry of the coordinator's bookkeeping
type TaskStatus struct {
	ID      types.PersistentTaskID `json:"id"`
	LocalID int64                  `json:"local_id"`
	Action  string                 `json:"action"`
	Phase   string                 `json:"phase"`
	Status  taskmanager.Status     `json:"status"`
	Failure string                 `json:"failure,omitempty"`
}

// Tasks returns a snapshot of the local bookkeeping ordered by task id
func (c *Coordinator) Tasks() []TaskStatus {
	c.mu.Lock()
	out := make([]TaskStatus, 0, len(c.running))
	for _, rec := range c.running {
		s := TaskStatus{
			ID:      rec.key,
			LocalID: rec.task.ID(),
			Action:  rec.task.Action(),
			Phase:   rec.state.String(),
			Status:  rec.task.Status(),
		}
		if rec.failure != nil {
			s.Failure = rec.failure.Error()
		}
		out = append(out, s)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ID.ID != out[j].ID.ID {
			return out[i].ID.ID < out[j].ID.ID
		}
		return out[i].ID.AllocationID < out[j].ID.AllocationID
	})
	return out
}

// Len returns the number of tracked persistent tasks
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.running)
}

type completionListener struct {
	c   *Coordinator
	rec *record
}

func (l *completionListener) OnResponse() {
	l.c.onCompletion(l.rec, nil)
}

func (l *completionListener) OnFailure(err error) {
	l.c.onCompletion(l.rec, err)
}
