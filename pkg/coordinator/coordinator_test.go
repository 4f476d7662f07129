package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/executor"
	"github.com/cuemby/burrow/pkg/ledger"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/registry"
	"github.com/cuemby/burrow/pkg/taskmanager"
	"github.com/cuemby/burrow/pkg/types"
)

const (
	thisNode   = "this_node"
	otherNode  = "other_node"
	testAction = "test"
)

type execution struct {
	request  ledger.Request
	task     *taskmanager.Task
	holder   *registry.Holder
	listener executor.Listener
}

// recordingExecutor captures submissions instead of running them
type recordingExecutor struct {
	mu         sync.Mutex
	executions []execution
}

func (e *recordingExecutor) ExecuteAction(req ledger.Request, task *taskmanager.Task, holder *registry.Holder, listener executor.Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executions = append(e.executions, execution{request: req, task: task, holder: holder, listener: listener})
}

func (e *recordingExecutor) size() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.executions)
}

func (e *recordingExecutor) get(i int) execution {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.executions[i]
}

type notification struct {
	id      types.PersistentTaskID
	failure error
	done    func(error)
}

type cancellation struct {
	localID int64
	done    func(error)
}

// recordingService captures outgoing calls and leaves acknowledgement to the test
type recordingService struct {
	mu            sync.Mutex
	notifications []notification
	cancellations []cancellation
}

func (s *recordingService) SendCancellation(localID int64, done func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancellations = append(s.cancellations, cancellation{localID: localID, done: done})
}

func (s *recordingService) SendCompletionNotification(id types.PersistentTaskID, failure error, done func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, notification{id: id, failure: failure, done: done})
}

func (s *recordingService) notificationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.notifications)
}

func (s *recordingService) lastNotification() notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifications[len(s.notifications)-1]
}

func (s *recordingService) cancellationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cancellations)
}

type fixture struct {
	coord    *Coordinator
	service  *recordingService
	executor *recordingExecutor
	tasks    *taskmanager.Manager
	state    *ledger.Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := registry.NewRegistry()
	require.NoError(t, reg.Register(testAction, registry.ExecutorGeneric, registry.ActionFunc(
		func(ctx context.Context, _ ledger.Request, _ *taskmanager.Task) error { return nil },
	)))

	f := &fixture{
		service:  &recordingService{},
		executor: &recordingExecutor{},
		tasks:    taskmanager.NewManager(),
		state:    ledger.Empty(),
	}
	f.coord = NewCoordinator(thisNode, f.service, reg, f.tasks, f.executor)
	return f
}

// apply moves the fixture to next and delivers the change
func (f *fixture) apply(next *ledger.Ledger) {
	prev := f.state
	f.state = next
	f.coord.ClusterChanged(Event{Previous: prev, Current: next, LocalNode: thisNode})
}

func (f *fixture) add(t *testing.T, action, node string) int64 {
	t.Helper()
	req, err := json.Marshal(map[string]string{"param": "value"})
	require.NoError(t, err)
	next, id := f.state.AddTask(action, req, ledger.Flags{}, node)
	f.apply(next)
	return id
}

func (f *fixture) reassign(t *testing.T, id int64, node string) {
	t.Helper()
	next, err := f.state.ReassignTask(id, node)
	require.NoError(t, err)
	f.apply(next)
}

func (f *fixture) remove(t *testing.T, id int64) {
	t.Helper()
	next, err := f.state.RemoveTask(id)
	require.NoError(t, err)
	f.apply(next)
}

// addUnrelated adds a task assigned to another node
func (f *fixture) addUnrelated(t *testing.T) {
	t.Helper()
	f.add(t, testAction, otherNode)
}

func TestStartTask(t *testing.T) {
	f := newFixture(t)

	// Tasks that are not assigned here are ignored
	f.addUnrelated(t)
	f.addUnrelated(t)
	assert.Equal(t, 0, f.executor.size())

	id := f.add(t, testAction, thisNode)
	require.Equal(t, 1, f.executor.size())
	first := f.executor.get(0)
	assert.Equal(t, id, first.task.Parent().ID)
	assert.Equal(t, testAction, first.holder.Name)
	assert.JSONEq(t, `{"param":"value"}`, string(first.request))
	assert.Equal(t, `{"state":"STARTED"}`, first.task.Status().String())

	// Unrelated changes do not start it again
	f.addUnrelated(t)
	assert.Equal(t, 1, f.executor.size())

	first.listener.OnResponse()
	require.Equal(t, 1, f.service.notificationCount())
	n := f.service.lastNotification()
	assert.Equal(t, first.task.Parent(), n.id)
	assert.NoError(t, n.failure)

	// Moving the task away and back starts a fresh allocation
	f.reassign(t, id, otherNode)
	assert.Equal(t, 1, f.executor.size())
	f.reassign(t, id, thisNode)
	require.Equal(t, 2, f.executor.size())
	second := f.executor.get(1)
	assert.Equal(t, id, second.task.Parent().ID)
	assert.NotEqual(t, first.task.Parent().AllocationID, second.task.Parent().AllocationID)
	assert.NotEqual(t, first.task.ID(), second.task.ID())
}

func TestReallocatedFailedTaskStartsOnce(t *testing.T) {
	f := newFixture(t)

	// One task assigned here starts exactly once
	moved := f.add(t, testAction, thisNode)
	require.Equal(t, 1, f.executor.size())

	// It moves away while an unrelated task lands elsewhere
	b := ledger.NewBuilder(f.state)
	require.NoError(t, b.ReassignTask(moved, otherNode))
	b.AddTask(testAction, nil, ledger.Flags{}, otherNode)
	f.apply(b.Build())
	assert.Equal(t, 1, f.executor.size())
	require.Equal(t, 1, f.service.cancellationCount())
	f.executor.get(0).listener.OnFailure(taskmanager.ErrTaskCancelled)
	assert.Equal(t, 0, f.coord.Len())

	// Two tasks run side by side
	b = ledger.NewBuilder(f.state)
	failedID := b.AddTask(testAction, nil, ledger.Flags{}, thisNode)
	finishedID := b.AddTask(testAction, nil, ledger.Flags{}, thisNode)
	f.apply(b.Build())
	require.Equal(t, 3, f.executor.size())

	var failedExec, finishedExec execution
	for i := 1; i < 3; i++ {
		switch e := f.executor.get(i); e.task.Parent().ID {
		case failedID:
			failedExec = e
		case finishedID:
			finishedExec = e
		}
	}
	require.NotNil(t, failedExec.listener)
	require.NotNil(t, finishedExec.listener)

	failedExec.listener.OnFailure(errors.New("boom"))
	finishedExec.listener.OnResponse()
	require.Equal(t, 2, f.service.notificationCount())

	// Neither notification is acknowledged before the ledger drops the
	// finished task and hands the failed id back to this node
	b = ledger.NewBuilder(f.state)
	require.NoError(t, b.RemoveTask(finishedID))
	require.NoError(t, b.ReassignTask(failedID, thisNode))
	f.apply(b.Build())

	require.Equal(t, 4, f.executor.size())
	restarted := f.executor.get(3)
	assert.Equal(t, failedID, restarted.task.Parent().ID)
	assert.NotEqual(t, failedExec.task.Parent().AllocationID, restarted.task.Parent().AllocationID)

	// Replays and unrelated changes do not start it again
	f.coord.ClusterChanged(Event{Previous: ledger.Empty(), Current: f.state, LocalNode: thisNode})
	f.addUnrelated(t)
	assert.Equal(t, 4, f.executor.size())

	// Late acknowledgements release the old records only
	f.service.mu.Lock()
	pending := append([]notification(nil), f.service.notifications...)
	f.service.mu.Unlock()
	for _, n := range pending {
		n.done(nil)
	}
	require.Equal(t, 1, f.coord.Len())
	assert.Equal(t, restarted.task.Parent(), f.coord.Tasks()[0].ID)
	assert.Equal(t, 1, f.tasks.Len())
}

func TestRepeatedCompletionCountedOnce(t *testing.T) {
	f := newFixture(t)
	completed := func() float64 {
		return testutil.ToFloat64(metrics.TasksCompleted.WithLabelValues("success"))
	}
	before := completed()

	id := f.add(t, testAction, thisNode)
	exec := f.executor.get(0)
	exec.listener.OnResponse()
	assert.Equal(t, before+1, completed())

	// A second report for the same record is ignored
	exec.listener.OnResponse()
	assert.Equal(t, before+1, completed())
	assert.Equal(t, 1, f.service.notificationCount())

	// So is a report once the record is gone
	f.service.lastNotification().done(nil)
	f.remove(t, id)
	require.Equal(t, 0, f.coord.Len())
	exec.listener.OnResponse()
	assert.Equal(t, before+1, completed())
}

func TestTaskCancellation(t *testing.T) {
	f := newFixture(t)

	f.addUnrelated(t)
	id := f.add(t, testAction, thisNode)
	require.Equal(t, 1, f.executor.size())
	assert.Equal(t, 1, f.tasks.Len())

	f.remove(t, id)
	require.Equal(t, 1, f.service.cancellationCount())
	exec := f.executor.get(0)
	assert.Equal(t, exec.task.ID(), f.service.cancellations[0].localID)
	assert.Equal(t, `{"state":"CANCELLED"}`, exec.task.Status().String())

	// Still registered until the executor reports back
	assert.Equal(t, 1, f.tasks.Len())

	exec.listener.OnFailure(taskmanager.ErrTaskCancelled)
	assert.Equal(t, 0, f.tasks.Len())
	assert.Equal(t, 0, f.coord.Len())

	// The authority already dropped the task, so nobody is notified
	assert.Equal(t, 0, f.service.notificationCount())
}

func TestNotificationFailure(t *testing.T) {
	f := newFixture(t)

	f.addUnrelated(t)
	id := f.add(t, testAction, thisNode)
	require.Equal(t, 1, f.executor.size())

	failure := errors.New("test failure")
	f.executor.get(0).listener.OnFailure(failure)
	require.Equal(t, 1, f.service.notificationCount())
	first := f.service.lastNotification()
	assert.Equal(t, failure, first.failure)

	first.done(errors.New("authority unavailable"))
	assert.Equal(t, 1, f.tasks.Len())

	// Any later change retries with the same outcome
	f.addUnrelated(t)
	require.Equal(t, 2, f.service.notificationCount())
	retry := f.service.lastNotification()
	assert.Equal(t, first.id, retry.id)
	assert.Same(t, failure, retry.failure)
	assert.Equal(t, 1, f.tasks.Len())

	retry.done(nil)
	assert.Equal(t, 1, f.tasks.Len())
	assert.Equal(t, "notified", f.coord.Tasks()[0].Phase)

	// Dropping the entry releases the bookkeeping
	f.reassign(t, id, otherNode)
	assert.Equal(t, 0, f.tasks.Len())
	assert.Equal(t, 0, f.coord.Len())
	assert.Equal(t, 0, f.service.cancellationCount())
}

func TestReleasedWhileNotifying(t *testing.T) {
	f := newFixture(t)

	id := f.add(t, testAction, thisNode)
	f.executor.get(0).listener.OnResponse()
	require.Equal(t, 1, f.service.notificationCount())

	f.remove(t, id)
	assert.Equal(t, 1, f.coord.Len())
	assert.Equal(t, 0, f.service.cancellationCount())

	f.service.lastNotification().done(nil)
	assert.Equal(t, 0, f.coord.Len())
	assert.Equal(t, 0, f.tasks.Len())
}

func TestFailedNotificationDroppedByLedger(t *testing.T) {
	f := newFixture(t)

	id := f.add(t, testAction, thisNode)
	f.executor.get(0).listener.OnResponse()
	f.service.lastNotification().done(errors.New("unreachable"))
	assert.Equal(t, 1, f.coord.Len())

	f.remove(t, id)
	assert.Equal(t, 0, f.coord.Len())
	assert.Equal(t, 1, f.service.notificationCount())
}

func TestUnknownActionIsReportedOnce(t *testing.T) {
	f := newFixture(t)
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe(events.EventTaskUnknownAction)
	f.coord.SetBroker(broker)

	f.add(t, "missing", thisNode)
	assert.Equal(t, 0, f.executor.size())
	assert.Equal(t, 0, f.tasks.Len())

	ev := <-sub
	assert.Equal(t, events.EventTaskUnknownAction, ev.Type)
	assert.Equal(t, "missing", ev.Metadata["action"])

	history := broker.Recent(0)
	require.Len(t, history, 2)
	assert.Equal(t, events.EventLedgerChanged, history[0].Type)
	assert.Equal(t, "1", history[0].Metadata["tasks"])

	// Later changes do not retry the start
	f.addUnrelated(t)
	assert.Equal(t, 0, f.executor.size())
	assert.Equal(t, 0, f.coord.Len())

	// Other tasks are unaffected
	f.add(t, testAction, thisNode)
	assert.Equal(t, 1, f.executor.size())
}

func TestEqualLedgersAreNoop(t *testing.T) {
	f := newFixture(t)
	f.add(t, testAction, thisNode)
	require.Equal(t, 1, f.executor.size())

	f.coord.ClusterChanged(Event{Previous: f.state, Current: f.state, LocalNode: thisNode})
	assert.Equal(t, 1, f.executor.size())
	assert.Equal(t, 0, f.service.cancellationCount())
}

func TestCompletionAfterRecordRemoved(t *testing.T) {
	f := newFixture(t)
	id := f.add(t, testAction, thisNode)
	exec := f.executor.get(0)

	f.remove(t, id)
	exec.listener.OnFailure(taskmanager.ErrTaskCancelled)
	require.Equal(t, 0, f.coord.Len())

	// A stray second report is ignored
	exec.listener.OnResponse()
	assert.Equal(t, 0, f.service.notificationCount())
}

func TestTasksOrdering(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.add(t, testAction, thisNode)
	}

	statuses := f.coord.Tasks()
	require.Len(t, statuses, 3)
	for i, s := range statuses {
		assert.Equal(t, int64(i+1), s.ID.ID, fmt.Sprintf("position %d", i))
		assert.Equal(t, "started", s.Phase)
		assert.Equal(t, types.TaskStateStarted, s.Status.State)
	}
}
