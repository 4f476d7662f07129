package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/burrow/pkg/ledger"
	"github.com/cuemby/burrow/pkg/taskmanager"
)

var (
	// ErrUnknownAction is returned when no action is registered under a name
	ErrUnknownAction = errors.New("unknown persistent action")

	// ErrDuplicateRegistration is returned when a name is registered twice
	ErrDuplicateRegistration = errors.New("persistent action already registered")
)

// Executor queue names
const (
	ExecutorGeneric    = "generic"
	ExecutorManagement = "management"
)

// Action is the business logic behind a persistent action type. Execute
// runs until the work is done or ctx is cancelled. A nil return is a
// successful completion; any error is reported as the task's failure.
type Action interface {
	Execute(ctx context.Context, req ledger.Request, task *taskmanager.Task) error
}

// ActionFunc adapts a function to the Action interface
type ActionFunc func(ctx context.Context, req ledger.Request, task *taskmanager.Task) error

// Execute calls f
func (f ActionFunc) Execute(ctx context.Context, req ledger.Request, task *taskmanager.Task) error {
	return f(ctx, req, task)
}

// Holder is the execution descriptor of a registered action
type Holder struct {
	Name     string
	Executor string
	Action   Action
}

// Registry maps action type names to their execution descriptors
type Registry struct {
	mu      sync.RWMutex
	actions map[string]*Holder
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]*Holder)}
}

// Register installs an action under name on the given executor queue
func (r *Registry) Register(name, executor string, action Action) error {
	if name == "" {
		return fmt.Errorf("registry: action name is required")
	}
	if executor == "" {
		return fmt.Errorf("registry: executor is required for %s", name)
	}
	if action == nil {
		return fmt.Errorf("registry: action is required for %s", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[name]; exists {
		return fmt.Errorf("registry: %s: %w", name, ErrDuplicateRegistration)
	}
	r.actions[name] = &Holder{Name: name, Executor: executor, Action: action}
	return nil
}

// MustRegister panics if registration fails
func (r *Registry) MustRegister(name, executor string, action Action) {
	if err := r.Register(name, executor, action); err != nil {
		panic(err)
	}
}

// Lookup returns the holder registered under name
func (r *Registry) Lookup(name string) (*Holder, error) {
	r.mu.RLock()
	h, ok := r.actions[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("registry: %s: %w", name, ErrUnknownAction)
	}
	return h, nil
}

// Actions returns the registered action names, sorted
func (r *Registry) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
