package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/cuemby/burrow/pkg/authority"
	"github.com/cuemby/burrow/pkg/coordinator"
	"github.com/cuemby/burrow/pkg/ledger"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/taskmanager"
	"github.com/cuemby/burrow/pkg/types"
)

// LeaderTrailer carries the leader's API address on writes a follower
// refuses with codes.FailedPrecondition
const LeaderTrailer = "burrow-leader"

// Authority is the ledger owner the server forwards writes to
type Authority interface {
	CreateTask(action string, req ledger.Request, flags ledger.Flags, node string) (int64, error)
	ReassignTask(id int64, node string) error
	RemoveTask(id int64) error
	CompleteTask(id types.PersistentTaskID, failure string) error
	RegisterNode(node *types.Node) error
	AddVoter(nodeID, address string) error
	Ledger() *ledger.Ledger
	Nodes() []*types.Node
	LeaderAddr() string
}

// TaskCanceller cancels tasks running on this node
type TaskCanceller interface {
	Cancel(id int64, reason string) error
}

// LocalStatus reports the persistent tasks tracked on this node
type LocalStatus interface {
	Tasks() []coordinator.TaskStatus
}

// Server implements the PersistentTasks gRPC service
type Server struct {
	nodeID    string
	authority Authority
	tasks     TaskCanceller
	status    LocalStatus
	grpc      *grpc.Server
	logger    zerolog.Logger
}

// NewServer creates a new API server. opts are passed to grpc.NewServer,
// typically to install transport credentials.
func NewServer(nodeID string, auth Authority, tasks TaskCanceller, localStatus LocalStatus, opts ...grpc.ServerOption) *Server {
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(RequestIDInterceptor(), MetricsInterceptor()),
	}, opts...)
	s := &Server{
		nodeID:    nodeID,
		authority: auth,
		tasks:     tasks,
		status:    localStatus,
		logger:    log.WithComponent("api"),
		grpc:      grpc.NewServer(opts...),
	}
	s.grpc.RegisterService(&ServiceDesc, s)
	return s
}

// Start listens on addr and serves until Stop
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve serves on an existing listener
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC API listening")
	return s.grpc.Serve(lis)
}

// Stop gracefully stops the gRPC server
func (s *Server) Stop() {
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
}

// CancelTask cancels a task running on this node
func (s *Server) CancelTask(ctx context.Context, req *CancelTaskRequest) (*CancelTaskResponse, error) {
	reason := req.Reason
	if reason == "" {
		reason = "cancelled by request"
	}
	if err := s.tasks.Cancel(req.LocalID, reason); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &CancelTaskResponse{}, nil
}

// CompleteTask records the outcome of a task allocation
func (s *Server) CompleteTask(ctx context.Context, req *CompleteTaskRequest) (*CompleteTaskResponse, error) {
	if err := s.authority.CompleteTask(req.ID, req.Failure); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &CompleteTaskResponse{}, nil
}

// CreateTask adds a persistent task to the ledger
func (s *Server) CreateTask(ctx context.Context, req *CreateTaskRequest) (*CreateTaskResponse, error) {
	if req.Action == "" {
		return nil, status.Error(codes.InvalidArgument, "action is required")
	}
	id, err := s.authority.CreateTask(req.Action, ledger.Request(req.Request), req.Flags, req.Node)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &CreateTaskResponse{ID: id}, nil
}

// RemoveTask drops a persistent task from the ledger
func (s *Server) RemoveTask(ctx context.Context, req *RemoveTaskRequest) (*RemoveTaskResponse, error) {
	if err := s.authority.RemoveTask(req.ID); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &RemoveTaskResponse{}, nil
}

// ReassignTask moves a persistent task to another node
func (s *Server) ReassignTask(ctx context.Context, req *ReassignTaskRequest) (*ReassignTaskResponse, error) {
	if err := s.authority.ReassignTask(req.ID, req.Node); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &ReassignTaskResponse{}, nil
}

// ListTasks returns the ledger as applied on this node
func (s *Server) ListTasks(ctx context.Context, req *ListTasksRequest) (*ListTasksResponse, error) {
	l := s.authority.Ledger()
	tasks := l.Tasks()
	if req.Node != "" {
		tasks = l.TasksForNode(req.Node)
	}
	if tasks == nil {
		tasks = []ledger.Entry{}
	}
	return &ListTasksResponse{Version: l.Version(), Tasks: tasks}, nil
}

// ListLocalTasks returns the persistent tasks tracked on this node
func (s *Server) ListLocalTasks(ctx context.Context, req *ListLocalTasksRequest) (*ListLocalTasksResponse, error) {
	return &ListLocalTasksResponse{Node: s.nodeID, Tasks: s.status.Tasks()}, nil
}

// JoinCluster adds a node to raft and registers it for placement
func (s *Server) JoinCluster(ctx context.Context, req *JoinClusterRequest) (*JoinClusterResponse, error) {
	if req.NodeID == "" || req.RaftAddr == "" {
		return nil, status.Error(codes.InvalidArgument, "node id and raft address are required")
	}
	if err := s.authority.AddVoter(req.NodeID, req.RaftAddr); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	node := &types.Node{
		ID:        req.NodeID,
		RaftAddr:  req.RaftAddr,
		APIAddr:   req.APIAddr,
		Status:    types.NodeStatusReady,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.authority.RegisterNode(node); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	s.logger.Info().Str("joined", req.NodeID).Str("raft_addr", req.RaftAddr).Msg("Node joined cluster")
	return &JoinClusterResponse{}, nil
}

// toStatus maps domain errors onto gRPC codes. Writes refused by a
// follower also carry the leader's API address in a trailer.
func (s *Server) toStatus(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, ledger.ErrNoSuchTask), errors.Is(err, taskmanager.ErrTaskNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, authority.ErrStaleAllocation):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, authority.ErrNotLeader):
		if addr := s.leaderAPIAddr(); addr != "" {
			_ = grpc.SetTrailer(ctx, metadata.Pairs(LeaderTrailer, addr))
		}
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, authority.ErrNotStarted):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func (s *Server) leaderAPIAddr() string {
	leader := s.authority.LeaderAddr()
	if leader == "" {
		return ""
	}
	for _, n := range s.authority.Nodes() {
		if n.RaftAddr == leader {
			return n.APIAddr
		}
	}
	return ""
}
