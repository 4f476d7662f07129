package api

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"

	"github.com/cuemby/burrow/pkg/coordinator"
	"github.com/cuemby/burrow/pkg/ledger"
	"github.com/cuemby/burrow/pkg/types"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "burrow.PersistentTasks"

type CancelTaskRequest struct {
	LocalID int64  `json:"local_id"`
	Reason  string `json:"reason,omitempty"`
}

type CancelTaskResponse struct{}

type CompleteTaskRequest struct {
	ID      types.PersistentTaskID `json:"id"`
	Failure string                 `json:"failure,omitempty"`
}

type CompleteTaskResponse struct{}

type CreateTaskRequest struct {
	Action  string          `json:"action"`
	Request json.RawMessage `json:"request,omitempty"`
	Flags   ledger.Flags    `json:"flags"`
	Node    string          `json:"node,omitempty"`
}

type CreateTaskResponse struct {
	ID int64 `json:"id"`
}

type RemoveTaskRequest struct {
	ID int64 `json:"id"`
}

type RemoveTaskResponse struct{}

type ReassignTaskRequest struct {
	ID   int64  `json:"id"`
	Node string `json:"node"`
}

type ReassignTaskResponse struct{}

type ListTasksRequest struct {
	// Node restricts the result to tasks assigned to this node
	Node string `json:"node,omitempty"`
}

type ListTasksResponse struct {
	Version int64          `json:"version"`
	Tasks   []ledger.Entry `json:"tasks"`
}

type ListLocalTasksRequest struct{}

type ListLocalTasksResponse struct {
	Node  string                   `json:"node"`
	Tasks []coordinator.TaskStatus `json:"tasks"`
}

type JoinClusterRequest struct {
	NodeID   string `json:"node_id"`
	RaftAddr string `json:"raft_addr"`
	APIAddr  string `json:"api_addr"`
}

type JoinClusterResponse struct{}

// PersistentTasksServer is the server API for the PersistentTasks service
type PersistentTasksServer interface {
	CancelTask(context.Context, *CancelTaskRequest) (*CancelTaskResponse, error)
	CompleteTask(context.Context, *CompleteTaskRequest) (*CompleteTaskResponse, error)
	CreateTask(context.Context, *CreateTaskRequest) (*CreateTaskResponse, error)
	RemoveTask(context.Context, *RemoveTaskRequest) (*RemoveTaskResponse, error)
	ReassignTask(context.Context, *ReassignTaskRequest) (*ReassignTaskResponse, error)
	ListTasks(context.Context, *ListTasksRequest) (*ListTasksResponse, error)
	ListLocalTasks(context.Context, *ListLocalTasksRequest) (*ListLocalTasksResponse, error)
	JoinCluster(context.Context, *JoinClusterRequest) (*JoinClusterResponse, error)
}

func unaryHandler[Req, Resp any](method string, call func(PersistentTasksServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	fullMethod := "/" + ServiceName + "/" + method
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(PersistentTasksServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(PersistentTasksServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc describes the PersistentTasks service for grpc.Server.RegisterService
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PersistentTasksServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CancelTask", Handler: unaryHandler("CancelTask", PersistentTasksServer.CancelTask)},
		{MethodName: "CompleteTask", Handler: unaryHandler("CompleteTask", PersistentTasksServer.CompleteTask)},
		{MethodName: "CreateTask", Handler: unaryHandler("CreateTask", PersistentTasksServer.CreateTask)},
		{MethodName: "RemoveTask", Handler: unaryHandler("RemoveTask", PersistentTasksServer.RemoveTask)},
		{MethodName: "ReassignTask", Handler: unaryHandler("ReassignTask", PersistentTasksServer.ReassignTask)},
		{MethodName: "ListTasks", Handler: unaryHandler("ListTasks", PersistentTasksServer.ListTasks)},
		{MethodName: "ListLocalTasks", Handler: unaryHandler("ListLocalTasks", PersistentTasksServer.ListLocalTasks)},
		{MethodName: "JoinCluster", Handler: unaryHandler("JoinCluster", PersistentTasksServer.JoinCluster)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "burrow/persistent_tasks",
}

// PersistentTasksClient is the client API for the PersistentTasks service
type PersistentTasksClient struct {
	cc grpc.ClientConnInterface
}

// NewPersistentTasksClient wraps a connection
func NewPersistentTasksClient(cc grpc.ClientConnInterface) *PersistentTasksClient {
	return &PersistentTasksClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in interface{}, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *PersistentTasksClient) CancelTask(ctx context.Context, in *CancelTaskRequest, opts ...grpc.CallOption) (*CancelTaskResponse, error) {
	return invoke[CancelTaskResponse](ctx, c.cc, "CancelTask", in, opts)
}

func (c *PersistentTasksClient) CompleteTask(ctx context.Context, in *CompleteTaskRequest, opts ...grpc.CallOption) (*CompleteTaskResponse, error) {
	return invoke[CompleteTaskResponse](ctx, c.cc, "CompleteTask", in, opts)
}

func (c *PersistentTasksClient) CreateTask(ctx context.Context, in *CreateTaskRequest, opts ...grpc.CallOption) (*CreateTaskResponse, error) {
	return invoke[CreateTaskResponse](ctx, c.cc, "CreateTask", in, opts)
}

func (c *PersistentTasksClient) RemoveTask(ctx context.Context, in *RemoveTaskRequest, opts ...grpc.CallOption) (*RemoveTaskResponse, error) {
	return invoke[RemoveTaskResponse](ctx, c.cc, "RemoveTask", in, opts)
}

func (c *PersistentTasksClient) ReassignTask(ctx context.Context, in *ReassignTaskRequest, opts ...grpc.CallOption) (*ReassignTaskResponse, error) {
	return invoke[ReassignTaskResponse](ctx, c.cc, "ReassignTask", in, opts)
}

func (c *PersistentTasksClient) ListTasks(ctx context.Context, in *ListTasksRequest, opts ...grpc.CallOption) (*ListTasksResponse, error) {
	return invoke[ListTasksResponse](ctx, c.cc, "ListTasks", in, opts)
}

func (c *PersistentTasksClient) ListLocalTasks(ctx context.Context, in *ListLocalTasksRequest, opts ...grpc.CallOption) (*ListLocalTasksResponse, error) {
	return invoke[ListLocalTasksResponse](ctx, c.cc, "ListLocalTasks", in, opts)
}

func (c *PersistentTasksClient) JoinCluster(ctx context.Context, in *JoinClusterRequest, opts ...grpc.CallOption) (*JoinClusterResponse, error) {
	return invoke[JoinClusterResponse](ctx, c.cc, "JoinCluster", in, opts)
}
