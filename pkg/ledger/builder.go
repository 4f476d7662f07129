package ledger

import (
	"fmt"
)

// Builder accumulates changes on top of a base ledger. The base is never
// modified; Build produces a new Ledger with a bumped version when any
// change was made.
type Builder struct {
	base             *Ledger
	tasks            map[int64]Entry
	lastID           int64
	lastAllocationID int64
	changed          bool
}

// NewBuilder starts a builder from base, which may be nil
func NewBuilder(base *Ledger) *Builder {
	b := &Builder{
		base:  base,
		tasks: make(map[int64]Entry, base.Len()+1),
	}
	if base != nil {
		for id, e := range base.tasks {
			b.tasks[id] = e
		}
		b.lastID = base.lastID
		b.lastAllocationID = base.lastAllocationID
	}
	return b
}

// AddTask records a new task and returns its id. Ids are never reused.
func (b *Builder) AddTask(action string, req Request, flags Flags, node string) int64 {
	b.lastID++
	b.lastAllocationID++
	b.tasks[b.lastID] = Entry{
		ID:           b.lastID,
		AllocationID: b.lastAllocationID,
		Action:       action,
		Request:      append(Request(nil), req...),
		Flags:        flags,
		Node:         node,
	}
	b.changed = true
	return b.lastID
}

// ReassignTask moves task id to node under a new allocation id
func (b *Builder) ReassignTask(id int64, node string) error {
	e, ok := b.tasks[id]
	if !ok {
		return fmt.Errorf("failed to reassign task %d: %w", id, ErrNoSuchTask)
	}
	b.lastAllocationID++
	e.AllocationID = b.lastAllocationID
	e.Node = node
	b.tasks[id] = e
	b.changed = true
	return nil
}

// RemoveTask drops task id
func (b *Builder) RemoveTask(id int64) error {
	if _, ok := b.tasks[id]; !ok {
		return fmt.Errorf("failed to remove task %d: %w", id, ErrNoSuchTask)
	}
	delete(b.tasks, id)
	b.changed = true
	return nil
}

// HasTask reports whether id is present in the builder's current view
func (b *Builder) HasTask(id int64) bool {
	_, ok := b.tasks[id]
	return ok
}

// Build returns the resulting ledger. Without changes the base is returned
// as is (an empty ledger when the base was nil).
func (b *Builder) Build() *Ledger {
	if !b.changed {
		if b.base == nil {
			return Empty()
		}
		return b.base
	}
	tasks := make(map[int64]Entry, len(b.tasks))
	for id, e := range b.tasks {
		tasks[id] = e
	}
	return &Ledger{
		version:          b.base.Version() + 1,
		lastID:           b.lastID,
		lastAllocationID: b.lastAllocationID,
		tasks:            tasks,
	}
}
