package metrics

import (
	"time"

	"github.com/cuemby/burrow/pkg/ledger"
	"github.com/cuemby/burrow/pkg/types"
)

// Source exposes the authority state the collector samples
type Source interface {
	IsLeader() bool
	AppliedIndex() uint64
	LastIndex() uint64
	Ledger() *ledger.Ledger
	Nodes() []*types.Node
}

// Collector periodically samples authority state into gauges
type Collector struct {
	source   Source
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source Source, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

// Collect takes one sample
func (c *Collector) Collect() {
	c.collectLedgerMetrics()
	c.collectNodeMetrics()
	c.collectRaftMetrics()
}

func (c *Collector) collectLedgerMetrics() {
	l := c.source.Ledger()
	LedgerTasksTotal.Set(float64(l.Len()))
	LedgerVersion.Set(float64(l.Version()))
}

func (c *Collector) collectNodeMetrics() {
	counts := map[types.NodeStatus]int{
		types.NodeStatusReady:    0,
		types.NodeStatusDown:     0,
		types.NodeStatusDraining: 0,
	}
	for _, node := range c.source.Nodes() {
		counts[node.Status]++
	}
	for status, count := range counts {
		NodesTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}

func (c *Collector) collectRaftMetrics() {
	if c.source.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}
	RaftAppliedIndex.Set(float64(c.source.AppliedIndex()))
	RaftLastLogIndex.Set(float64(c.source.LastIndex()))
}
