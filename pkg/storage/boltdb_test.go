package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/ledger"
	"github.com/cuemby/burrow/pkg/types"
)

func newStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLedgerRoundTrip(t *testing.T) {
	s := newStore(t)

	empty, err := s.LoadLedger()
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())

	l, id := ledger.Empty().AddTask("sleep", ledger.Request(`{"duration":"1s"}`), ledger.Flags{}, "node-1")
	l, _ = l.AddTask("echo", nil, ledger.Flags{RemoveOnCompletion: true}, "node-2")
	l, err = l.ReassignTask(id, "node-2")
	require.NoError(t, err)

	require.NoError(t, s.SaveLedger(l))
	loaded, err := s.LoadLedger()
	require.NoError(t, err)
	assert.True(t, l.Equal(loaded))
	assert.Equal(t, l.Version(), loaded.Version())

	// Ids keep increasing after a reload
	_, next := loaded.AddTask("echo", nil, ledger.Flags{}, "node-1")
	assert.Equal(t, int64(3), next)
}

func TestLedgerSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "burrow.db")
	s, err := OpenBoltStore(path)
	require.NoError(t, err)

	l, _ := ledger.Empty().AddTask("sleep", nil, ledger.Flags{}, "node-1")
	require.NoError(t, s.SaveLedger(l))
	require.NoError(t, s.Close())

	s, err = OpenBoltStore(path)
	require.NoError(t, err)
	defer s.Close()

	loaded, err := s.LoadLedger()
	require.NoError(t, err)
	assert.True(t, l.Equal(loaded))
}

func TestNodes(t *testing.T) {
	s := newStore(t)

	node := &types.Node{ID: "node-1", APIAddr: "127.0.0.1:7947", Status: types.NodeStatusReady, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.SaveNode(node))
	require.NoError(t, s.SaveNode(&types.Node{ID: "node-2", Status: types.NodeStatusReady}))

	got, err := s.GetNode("node-1")
	require.NoError(t, err)
	assert.Equal(t, node.APIAddr, got.APIAddr)
	assert.True(t, node.CreatedAt.Equal(got.CreatedAt))

	nodes, err := s.ListNodes()
	require.NoError(t, err)
	assert.Len(t, nodes, 2)

	require.NoError(t, s.DeleteNode("node-1"))
	_, err = s.GetNode("node-1")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCompletionsKeepOrder(t *testing.T) {
	s := newStore(t)

	for i := int64(1); i <= 12; i++ {
		c := &types.Completion{ID: types.PersistentTaskID{ID: i, AllocationID: i}, Action: "echo", Node: "node-1"}
		if i%2 == 0 {
			c.Failure = "boom"
		}
		require.NoError(t, s.RecordCompletion(c))
	}

	list, err := s.ListCompletions()
	require.NoError(t, err)
	require.Len(t, list, 12)
	for i, c := range list {
		assert.Equal(t, int64(i+1), c.ID.ID)
		assert.Equal(t, i%2 == 0, c.Succeeded())
	}
}
