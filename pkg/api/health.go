package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/burrow/pkg/coordinator"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/taskmanager"
)

// TaskStatuses looks up the status value of a local task
type TaskStatuses interface {
	Status(id int64) (taskmanager.Status, error)
}

// EventHistory returns the latest lifecycle events, oldest first
type EventHistory interface {
	Recent(n int) []*events.Event
}

// HealthServer provides the node's HTTP surface: health checks, metrics and
// local task status
type HealthServer struct {
	checker *metrics.HealthChecker
	status  LocalStatus
	tasks   TaskStatuses
	events  EventHistory
	mux     *http.ServeMux
	server  *http.Server
}

// NewHealthServer creates a new HTTP server. status and tasks may be nil on
// nodes that do not run a coordinator.
func NewHealthServer(checker *metrics.HealthChecker, localStatus LocalStatus, tasks TaskStatuses) *HealthServer {
	if checker == nil {
		checker = metrics.DefaultHealthChecker
	}
	mux := http.NewServeMux()
	hs := &HealthServer{
		checker: checker,
		status:  localStatus,
		tasks:   tasks,
		mux:     mux,
		server: &http.Server{
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}

	mux.HandleFunc("GET /health", checker.HealthHandler())
	mux.HandleFunc("GET /ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /tasks", hs.tasksHandler)
	mux.HandleFunc("GET /tasks/{id}", hs.taskStatusHandler)
	mux.HandleFunc("GET /events", hs.eventsHandler)

	return hs
}

// SetEvents exposes h under /events. Call it before serving.
func (hs *HealthServer) SetEvents(h EventHistory) {
	hs.events = h
}

// Start serves on addr until Shutdown
func (hs *HealthServer) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return hs.Serve(lis)
}

// Serve serves on an existing listener until Shutdown
func (hs *HealthServer) Serve(lis net.Listener) error {
	err := hs.server.Serve(lis)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server
func (hs *HealthServer) Shutdown() error {
	return hs.server.Close()
}

// TasksResponse lists the persistent tasks tracked on this node
type TasksResponse struct {
	Timestamp time.Time                `json:"timestamp"`
	Tasks     []coordinator.TaskStatus `json:"tasks"`
}

func (hs *HealthServer) tasksHandler(w http.ResponseWriter, r *http.Request) {
	tasks := []coordinator.TaskStatus{}
	if hs.status != nil {
		tasks = append(tasks, hs.status.Tasks()...)
	}
	writeJSON(w, http.StatusOK, TasksResponse{Timestamp: time.Now(), Tasks: tasks})
}

// taskStatusHandler serves the status value of one local task, which is
// exactly {"state":"STARTED"} or {"state":"CANCELLED"}
func (hs *HealthServer) taskStatusHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid task id", http.StatusBadRequest)
		return
	}
	if hs.tasks == nil {
		http.Error(w, "no task manager", http.StatusNotFound)
		return
	}

	st, err := hs.tasks.Status(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(st.String()))
}

// EventsResponse lists recent lifecycle events on this node
type EventsResponse struct {
	Events []*events.Event `json:"events"`
}

// eventsHandler serves the event history; ?limit=N keeps the newest N
func (hs *HealthServer) eventsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	resp := EventsResponse{Events: []*events.Event{}}
	if hs.events != nil {
		resp.Events = append(resp.Events, hs.events.Recent(limit)...)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetHandler returns the HTTP handler for embedding in other servers
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
