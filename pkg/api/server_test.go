package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/cuemby/burrow/pkg/authority"
	"github.com/cuemby/burrow/pkg/coordinator"
	"github.com/cuemby/burrow/pkg/ledger"
	"github.com/cuemby/burrow/pkg/taskmanager"
	"github.com/cuemby/burrow/pkg/types"
)

// fakeAuthority applies writes to an in-memory ledger
type fakeAuthority struct {
	mu       sync.Mutex
	ledger   *ledger.Ledger
	nodes    []*types.Node
	voters   map[string]string
	follower bool
	failures []string
}

func newFakeAuthority() *fakeAuthority {
	return &fakeAuthority{ledger: ledger.Empty(), voters: map[string]string{}}
}

func (f *fakeAuthority) write(fn func() error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.follower {
		return fmt.Errorf("%w, current leader: 10.0.0.1:7946", authority.ErrNotLeader)
	}
	return fn()
}

func (f *fakeAuthority) CreateTask(action string, req ledger.Request, flags ledger.Flags, node string) (int64, error) {
	var id int64
	err := f.write(func() error {
		f.ledger, id = f.ledger.AddTask(action, req, flags, node)
		return nil
	})
	return id, err
}

func (f *fakeAuthority) ReassignTask(id int64, node string) error {
	return f.write(func() error {
		next, err := f.ledger.ReassignTask(id, node)
		f.ledger = next
		return err
	})
}

func (f *fakeAuthority) RemoveTask(id int64) error {
	return f.write(func() error {
		next, err := f.ledger.RemoveTask(id)
		f.ledger = next
		return err
	})
}

func (f *fakeAuthority) CompleteTask(id types.PersistentTaskID, failure string) error {
	return f.write(func() error {
		e, ok := f.ledger.Get(id.ID)
		if !ok {
			return ledger.ErrNoSuchTask
		}
		if e.AllocationID != id.AllocationID {
			return authority.ErrStaleAllocation
		}
		f.failures = append(f.failures, failure)
		next, err := f.ledger.RemoveTask(id.ID)
		f.ledger = next
		return err
	})
}

func (f *fakeAuthority) RegisterNode(node *types.Node) error {
	return f.write(func() error {
		f.nodes = append(f.nodes, node)
		return nil
	})
}

func (f *fakeAuthority) AddVoter(nodeID, address string) error {
	return f.write(func() error {
		f.voters[nodeID] = address
		return nil
	})
}

func (f *fakeAuthority) Ledger() *ledger.Ledger {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ledger
}

func (f *fakeAuthority) Nodes() []*types.Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*types.Node(nil), f.nodes...)
}

func (f *fakeAuthority) LeaderAddr() string { return "10.0.0.1:7946" }

func dial(t *testing.T, srv *Server) *PersistentTasksClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewPersistentTasksClient(conn)
}

func TestServerTaskAdministration(t *testing.T) {
	auth := newFakeAuthority()
	c := dial(t, NewServer("node-1", auth, taskmanager.NewManager(), staticStatus(nil)))
	ctx := context.Background()

	created, err := c.CreateTask(ctx, &CreateTaskRequest{Action: "echo", Request: json.RawMessage(`{"message":"hi"}`), Node: "node-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.ID)

	_, err = c.CreateTask(ctx, &CreateTaskRequest{Action: "sleep", Node: "node-2"})
	require.NoError(t, err)

	all, err := c.ListTasks(ctx, &ListTasksRequest{})
	require.NoError(t, err)
	require.Len(t, all.Tasks, 2)
	assert.JSONEq(t, `{"message":"hi"}`, string(all.Tasks[0].Request))
	assert.Equal(t, auth.Ledger().Version(), all.Version)

	mine, err := c.ListTasks(ctx, &ListTasksRequest{Node: "node-2"})
	require.NoError(t, err)
	require.Len(t, mine.Tasks, 1)
	assert.Equal(t, "sleep", mine.Tasks[0].Action)

	_, err = c.ReassignTask(ctx, &ReassignTaskRequest{ID: 2, Node: "node-1"})
	require.NoError(t, err)
	_, err = c.RemoveTask(ctx, &RemoveTaskRequest{ID: 1})
	require.NoError(t, err)

	_, err = c.RemoveTask(ctx, &RemoveTaskRequest{ID: 1})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = c.CreateTask(ctx, &CreateTaskRequest{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestServerCompleteTask(t *testing.T) {
	auth := newFakeAuthority()
	c := dial(t, NewServer("node-1", auth, taskmanager.NewManager(), staticStatus(nil)))
	ctx := context.Background()

	id, err := auth.CreateTask("echo", nil, ledger.Flags{}, "node-1")
	require.NoError(t, err)
	entry, _ := auth.Ledger().Get(id)

	_, err = c.CompleteTask(ctx, &CompleteTaskRequest{ID: types.PersistentTaskID{ID: id, AllocationID: entry.AllocationID + 1}})
	assert.Equal(t, codes.Aborted, status.Code(err))

	_, err = c.CompleteTask(ctx, &CompleteTaskRequest{ID: types.PersistentTaskID{ID: id, AllocationID: entry.AllocationID}, Failure: "boom"})
	require.NoError(t, err)
	assert.Equal(t, []string{"boom"}, auth.failures)

	_, err = c.CompleteTask(ctx, &CompleteTaskRequest{ID: types.PersistentTaskID{ID: id, AllocationID: entry.AllocationID}})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestServerCancelAndLocalTasks(t *testing.T) {
	tm := taskmanager.NewManager()
	task := tm.Register("sleep", types.PersistentTaskID{ID: 4, AllocationID: 9})
	local := staticStatus{{ID: task.Parent(), LocalID: task.ID(), Action: "sleep", Phase: "started", Status: task.Status()}}
	c := dial(t, NewServer("node-1", newFakeAuthority(), tm, local))
	ctx := context.Background()

	_, err := c.CancelTask(ctx, &CancelTaskRequest{LocalID: task.ID()})
	require.NoError(t, err)
	assert.True(t, task.IsCancelled())
	assert.ErrorIs(t, context.Cause(task.Context()), taskmanager.ErrTaskCancelled)

	_, err = c.CancelTask(ctx, &CancelTaskRequest{LocalID: 99})
	assert.Equal(t, codes.NotFound, status.Code(err))

	resp, err := c.ListLocalTasks(ctx, &ListLocalTasksRequest{})
	require.NoError(t, err)
	assert.Equal(t, "node-1", resp.Node)
	require.Len(t, resp.Tasks, 1)
	assert.Equal(t, []coordinator.TaskStatus(local), resp.Tasks)
}

func TestServerJoinCluster(t *testing.T) {
	auth := newFakeAuthority()
	c := dial(t, NewServer("node-1", auth, taskmanager.NewManager(), staticStatus(nil)))
	ctx := context.Background()

	_, err := c.JoinCluster(ctx, &JoinClusterRequest{NodeID: "node-2"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = c.JoinCluster(ctx, &JoinClusterRequest{NodeID: "node-2", RaftAddr: "10.0.0.2:7946", APIAddr: "10.0.0.2:7947"})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2:7946", auth.voters["node-2"])
	require.Len(t, auth.Nodes(), 1)
	assert.Equal(t, types.NodeStatusReady, auth.Nodes()[0].Status)
}

func TestFollowerRefusesWritesWithLeaderTrailer(t *testing.T) {
	auth := newFakeAuthority()
	auth.nodes = []*types.Node{{ID: "leader", RaftAddr: "10.0.0.1:7946", APIAddr: "10.0.0.1:7947"}}
	auth.follower = true
	c := dial(t, NewServer("node-2", auth, taskmanager.NewManager(), staticStatus(nil)))

	var trailer metadata.MD
	_, err := c.CreateTask(context.Background(), &CreateTaskRequest{Action: "echo"}, grpc.Trailer(&trailer))
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	assert.Equal(t, []string{"10.0.0.1:7947"}, trailer.Get(LeaderTrailer))

	// Reads are served locally
	_, err = c.ListTasks(context.Background(), &ListTasksRequest{})
	assert.NoError(t, err)
}

func TestMethodName(t *testing.T) {
	assert.Equal(t, "ListTasks", methodName("/burrow.PersistentTasks/ListTasks"))
	assert.Equal(t, "bare", methodName("bare"))
}
