package authority

import (
	"sort"

	"github.com/cuemby/burrow/pkg/ledger"
	"github.com/cuemby/burrow/pkg/types"
)

// SelectNode picks the ready node carrying the fewest persistent tasks.
// Ties go to the lowest node ID so every replica makes the same choice.
// It returns "" when no node is ready.
func SelectNode(l *ledger.Ledger, nodes []*types.Node) string {
	return selectNode(l, nodes, "")
}

func selectNode(l *ledger.Ledger, nodes []*types.Node, exclude string) string {
	ready := filterReadyNodes(nodes, exclude)
	if len(ready) == 0 {
		return ""
	}

	taskCounts := make(map[string]int)
	for _, e := range l.Tasks() {
		taskCounts[e.Node]++
	}

	selected := ready[0]
	for _, node := range ready[1:] {
		if taskCounts[node.ID] < taskCounts[selected.ID] {
			selected = node
		}
	}
	return selected.ID
}

func filterReadyNodes(nodes []*types.Node, exclude string) []*types.Node {
	var ready []*types.Node
	for _, node := range nodes {
		if node.Status == types.NodeStatusReady && node.ID != exclude {
			ready = append(ready, node)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].ID < ready[j].ID })
	return ready
}
