package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrNoSuchTask is returned by ledger mutations that reference an absent id
var ErrNoSuchTask = errors.New("no such persistent task")

// Request is the opaque, action-specific payload of a persistent task.
// It is JSON so it survives raft log entries and RPCs unchanged.
type Request = json.RawMessage

// Flags are boolean attributes reserved for assignment policy. The
// coordinator carries them but never interprets them.
type Flags struct {
	StopOnCompletion   bool `json:"stop_on_completion"`
	RemoveOnCompletion bool `json:"remove_on_completion"`
}

// Entry is one persistent task as recorded cluster-wide
type Entry struct {
	ID           int64   `json:"id"`
	AllocationID int64   `json:"allocation_id"`
	Action       string  `json:"action"`
	Request      Request `json:"request,omitempty"`
	Flags        Flags   `json:"flags"`
	Node         string  `json:"node"`
}

// AssignedTo reports whether the entry is currently assigned to node
func (e Entry) AssignedTo(node string) bool {
	return e.Node != "" && e.Node == node
}

func (e Entry) equal(o Entry) bool {
	return e.ID == o.ID &&
		e.AllocationID == o.AllocationID &&
		e.Action == o.Action &&
		e.Flags == o.Flags &&
		e.Node == o.Node &&
		bytes.Equal(e.Request, o.Request)
}

// Ledger is an immutable, versioned set of persistent tasks. A nil *Ledger
// is a valid empty ledger. All mutations return a new value and leave the
// receiver untouched, so an old snapshot can be diffed against a new one.
type Ledger struct {
	version          int64
	lastID           int64
	lastAllocationID int64
	tasks            map[int64]Entry
}

// Empty returns a ledger with no tasks
func Empty() *Ledger {
	return &Ledger{tasks: map[int64]Entry{}}
}

// Version returns the ledger version; it increases with every change
func (l *Ledger) Version() int64 {
	if l == nil {
		return 0
	}
	return l.version
}

// Len returns the number of tasks
func (l *Ledger) Len() int {
	if l == nil {
		return 0
	}
	return len(l.tasks)
}

// HasTask reports whether a task with the given id exists
func (l *Ledger) HasTask(id int64) bool {
	_, ok := l.Get(id)
	return ok
}

// Get returns the entry for id
func (l *Ledger) Get(id int64) (Entry, bool) {
	if l == nil {
		return Entry{}, false
	}
	e, ok := l.tasks[id]
	return e, ok
}

// Tasks returns all entries ordered by id
func (l *Ledger) Tasks() []Entry {
	if l == nil {
		return nil
	}
	out := make([]Entry, 0, len(l.tasks))
	for _, e := range l.tasks {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TasksForNode returns the entries assigned to node, ordered by id
func (l *Ledger) TasksForNode(node string) []Entry {
	var out []Entry
	for _, e := range l.Tasks() {
		if e.AssignedTo(node) {
			out = append(out, e)
		}
	}
	return out
}

// Equal reports whether two ledgers hold the same content
func (l *Ledger) Equal(o *Ledger) bool {
	if l.Len() != o.Len() {
		return false
	}
	if l.Len() == 0 {
		return true
	}
	if l.version != o.version || l.lastID != o.lastID || l.lastAllocationID != o.lastAllocationID {
		return false
	}
	for id, e := range l.tasks {
		oe, ok := o.tasks[id]
		if !ok || !e.equal(oe) {
			return false
		}
	}
	return true
}

// AddTask returns a new ledger containing a freshly numbered task
func (l *Ledger) AddTask(action string, req Request, flags Flags, node string) (*Ledger, int64) {
	b := NewBuilder(l)
	id := b.AddTask(action, req, flags, node)
	return b.Build(), id
}

// ReassignTask returns a new ledger with task id assigned to node
func (l *Ledger) ReassignTask(id int64, node string) (*Ledger, error) {
	b := NewBuilder(l)
	if err := b.ReassignTask(id, node); err != nil {
		return l, err
	}
	return b.Build(), nil
}

// RemoveTask returns a new ledger without task id
func (l *Ledger) RemoveTask(id int64) (*Ledger, error) {
	b := NewBuilder(l)
	if err := b.RemoveTask(id); err != nil {
		return l, err
	}
	return b.Build(), nil
}

type ledgerJSON struct {
	Version          int64   `json:"version"`
	LastID           int64   `json:"last_id"`
	LastAllocationID int64   `json:"last_allocation_id"`
	Tasks            []Entry `json:"tasks"`
}

// MarshalJSON encodes the ledger with tasks ordered by id
func (l *Ledger) MarshalJSON() ([]byte, error) {
	tasks := l.Tasks()
	if tasks == nil {
		tasks = []Entry{}
	}
	return json.Marshal(ledgerJSON{
		Version:          l.Version(),
		LastID:           l.lastIDOrZero(),
		LastAllocationID: l.lastAllocationOrZero(),
		Tasks:            tasks,
	})
}

// UnmarshalJSON decodes a ledger produced by MarshalJSON
func (l *Ledger) UnmarshalJSON(data []byte) error {
	var raw ledgerJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	tasks := make(map[int64]Entry, len(raw.Tasks))
	for _, e := range raw.Tasks {
		if _, dup := tasks[e.ID]; dup {
			return fmt.Errorf("duplicate persistent task id %d", e.ID)
		}
		if e.ID > raw.LastID {
			return fmt.Errorf("persistent task id %d exceeds last assigned id %d", e.ID, raw.LastID)
		}
		tasks[e.ID] = e
	}
	*l = Ledger{
		version:          raw.Version,
		lastID:           raw.LastID,
		lastAllocationID: raw.LastAllocationID,
		tasks:            tasks,
	}
	return nil
}

func (l *Ledger) lastIDOrZero() int64 {
	if l == nil {
		return 0
	}
	return l.lastID
}

func (l *Ledger) lastAllocationOrZero() int64 {
	if l == nil {
		return 0
	}
	return l.lastAllocationID
}
