package storage

import (
	"errors"

	"github.com/cuemby/burrow/pkg/ledger"
	"github.com/cuemby/burrow/pkg/types"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

// Store defines the interface for the authority's durable state
type Store interface {
	// Ledger
	SaveLedger(l *ledger.Ledger) error
	LoadLedger() (*ledger.Ledger, error)

	// Nodes
	SaveNode(node *types.Node) error
	GetNode(id string) (*types.Node, error)
	ListNodes() ([]*types.Node, error)
	DeleteNode(id string) error

	// Completions
	RecordCompletion(c *types.Completion) error
	ListCompletions() ([]*types.Completion, error)

	// Utility
	Close() error
}
