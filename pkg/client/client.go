package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/cuemby/burrow/pkg/api"
	"github.com/cuemby/burrow/pkg/ledger"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
)

// DefaultTimeout bounds each RPC
const DefaultTimeout = 10 * time.Second

// Option configures a Client
type Option func(*Client)

// WithTimeout sets the per-call timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithDialOptions appends gRPC dial options, used for the initial
// connection and for leader redirects
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *Client) { c.dialOpts = append(c.dialOpts, opts...) }
}

// WithTransportCredentials replaces the default plaintext transport
func WithTransportCredentials(creds credentials.TransportCredentials) Option {
	return WithDialOptions(grpc.WithTransportCredentials(creds))
}

// Client wraps the burrow gRPC API for nodes and the CLI. It also serves
// as a coordinator's action service: cancellations and completion
// notifications are sent asynchronously and acknowledged through a
// callback.
type Client struct {
	addr     string
	conn     *grpc.ClientConn
	api      *api.PersistentTasksClient
	timeout  time.Duration
	dialOpts []grpc.DialOption
	logger   zerolog.Logger

	mu      sync.Mutex
	leaders map[string]*Client
	closed  bool
	wg      sync.WaitGroup
}

// NewClient connects to the node API at addr
func NewClient(addr string, opts ...Option) (*Client, error) {
	c := &Client{
		addr:     addr,
		timeout:  DefaultTimeout,
		dialOpts: []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
		logger:   log.WithComponent("client").With().Str("addr", addr).Logger(),
		leaders:  make(map[string]*Client),
	}
	for _, opt := range opts {
		opt(c)
	}

	conn, err := grpc.NewClient(addr, c.dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	c.conn = conn
	c.api = api.NewPersistentTasksClient(conn)
	return c, nil
}

// Addr returns the address the client is connected to
func (c *Client) Addr() string {
	return c.addr
}

// Close waits for in-flight asynchronous calls and closes all connections
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	leaders := c.leaders
	c.leaders = nil
	c.mu.Unlock()

	c.wg.Wait()
	for _, l := range leaders {
		l.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) context() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	ctx = metadata.AppendToOutgoingContext(ctx, api.RequestIDHeader, uuid.New().String())
	return ctx, cancel
}

// write runs call against this node and, if a follower refuses it, once
// more against the leader it names.
func (c *Client) write(call func(ctx context.Context, target *api.PersistentTasksClient, opts ...grpc.CallOption) error) error {
	ctx, cancel := c.context()
	defer cancel()

	var trailer metadata.MD
	err := call(ctx, c.api, grpc.Trailer(&trailer))
	if status.Code(err) != codes.FailedPrecondition {
		return err
	}

	addrs := trailer.Get(api.LeaderTrailer)
	if len(addrs) == 0 || addrs[0] == c.addr {
		return err
	}
	leader, lerr := c.leader(addrs[0])
	if lerr != nil {
		return fmt.Errorf("%w (redirect to %s failed: %v)", err, addrs[0], lerr)
	}
	c.logger.Debug().Str("leader", addrs[0]).Msg("Redirecting write to leader")
	return call(ctx, leader.api)
}

func (c *Client) leader(addr string) (*Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("client closed")
	}
	if l, ok := c.leaders[addr]; ok {
		return l, nil
	}
	l, err := NewClient(addr, WithTimeout(c.timeout), func(l *Client) { l.dialOpts = c.dialOpts })
	if err != nil {
		return nil, err
	}
	c.leaders[addr] = l
	return l, nil
}

// CreateTask adds a persistent task and returns its id. An empty node lets
// the authority place it.
func (c *Client) CreateTask(action string, req json.RawMessage, flags ledger.Flags, node string) (int64, error) {
	var id int64
	err := c.write(func(ctx context.Context, target *api.PersistentTasksClient, opts ...grpc.CallOption) error {
		resp, err := target.CreateTask(ctx, &api.CreateTaskRequest{Action: action, Request: req, Flags: flags, Node: node}, opts...)
		if err != nil {
			return err
		}
		id = resp.ID
		return nil
	})
	return id, err
}

// RemoveTask drops a persistent task
func (c *Client) RemoveTask(id int64) error {
	return c.write(func(ctx context.Context, target *api.PersistentTasksClient, opts ...grpc.CallOption) error {
		_, err := target.RemoveTask(ctx, &api.RemoveTaskRequest{ID: id}, opts...)
		return err
	})
}

// ReassignTask moves a persistent task to node
func (c *Client) ReassignTask(id int64, node string) error {
	return c.write(func(ctx context.Context, target *api.PersistentTasksClient, opts ...grpc.CallOption) error {
		_, err := target.ReassignTask(ctx, &api.ReassignTaskRequest{ID: id, Node: node}, opts...)
		return err
	})
}

// CompleteTask reports the outcome of an allocation
func (c *Client) CompleteTask(id types.PersistentTaskID, failure string) error {
	return c.write(func(ctx context.Context, target *api.PersistentTasksClient, opts ...grpc.CallOption) error {
		_, err := target.CompleteTask(ctx, &api.CompleteTaskRequest{ID: id, Failure: failure}, opts...)
		return err
	})
}

// JoinCluster asks the cluster to add this node
func (c *Client) JoinCluster(nodeID, raftAddr, apiAddr string) error {
	return c.write(func(ctx context.Context, target *api.PersistentTasksClient, opts ...grpc.CallOption) error {
		_, err := target.JoinCluster(ctx, &api.JoinClusterRequest{NodeID: nodeID, RaftAddr: raftAddr, APIAddr: apiAddr}, opts...)
		return err
	})
}

// ListTasks returns the ledger, optionally restricted to one node
func (c *Client) ListTasks(node string) (*api.ListTasksResponse, error) {
	ctx, cancel := c.context()
	defer cancel()
	return c.api.ListTasks(ctx, &api.ListTasksRequest{Node: node})
}

// ListLocalTasks returns the connected node's coordinator bookkeeping
func (c *Client) ListLocalTasks() (*api.ListLocalTasksResponse, error) {
	ctx, cancel := c.context()
	defer cancel()
	return c.api.ListLocalTasks(ctx, &api.ListLocalTasksRequest{})
}

// CancelTask cancels a task running on the connected node
func (c *Client) CancelTask(localID int64, reason string) error {
	ctx, cancel := c.context()
	defer cancel()
	_, err := c.api.CancelTask(ctx, &api.CancelTaskRequest{LocalID: localID, Reason: reason})
	return err
}

// async runs fn on its own goroutine unless the client is closed
func (c *Client) async(fn func() error, done func(error)) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		go done(fmt.Errorf("client closed"))
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		done(fn())
	}()
}

// SendCancellation cancels localID on the connected node
func (c *Client) SendCancellation(localID int64, done func(error)) {
	c.async(func() error {
		return c.CancelTask(localID, "persistent task is no longer assigned to this node")
	}, done)
}

// SendCompletionNotification reports the outcome of id to the authority
func (c *Client) SendCompletionNotification(id types.PersistentTaskID, failure error, done func(error)) {
	var msg string
	if failure != nil {
		msg = failure.Error()
	}
	c.async(func() error {
		return c.CompleteTask(id, msg)
	}, done)
}
