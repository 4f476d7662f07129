package authority

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/burrow/pkg/ledger"
	"github.com/cuemby/burrow/pkg/types"
)

func TestSelectNode(t *testing.T) {
	l := ledger.Empty()
	l, _ = l.AddTask("echo", nil, ledger.Flags{}, "node-a")
	l, _ = l.AddTask("echo", nil, ledger.Flags{}, "node-a")
	l, _ = l.AddTask("echo", nil, ledger.Flags{}, "node-b")

	ready := func(id string) *types.Node { return &types.Node{ID: id, Status: types.NodeStatusReady} }

	tests := []struct {
		name  string
		nodes []*types.Node
		want  string
	}{
		{"no nodes", nil, ""},
		{"least loaded", []*types.Node{ready("node-a"), ready("node-b")}, "node-b"},
		{"empty node wins", []*types.Node{ready("node-a"), ready("node-b"), ready("node-c")}, "node-c"},
		{"tie breaks on id", []*types.Node{ready("node-d"), ready("node-c")}, "node-c"},
		{"skips non-ready", []*types.Node{ready("node-a"), {ID: "node-c", Status: types.NodeStatusDown}}, "node-a"},
		{"skips draining", []*types.Node{{ID: "node-c", Status: types.NodeStatusDraining}}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectNode(l, tt.nodes))
		})
	}
}
