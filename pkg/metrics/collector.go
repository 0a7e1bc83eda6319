package metrics

import (
	"context"
	"time"

	"github.com/cuemby/dataorchestrator/pkg/store"
)

// Collector periodically refreshes gauges that aren't naturally updated
// by the operation that changes them — currently just the task-state
// distribution, since a task can sit DONE/ERRORED/ZOMBIE indefinitely
// between ticks with nothing else re-deriving its count. Node-state
// gauges are set directly by pkg/scheduler.Tick and need no polling.
type Collector struct {
	store  *store.Store
	stopCh chan struct{}
}

// NewCollector returns a Collector backed by s.
func NewCollector(s *store.Store) *Collector {
	return &Collector{
		store:  s,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15s interval, in the background.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	counts, err := c.store.CountTasksByState(context.Background())
	if err != nil {
		return
	}
	for state, count := range counts {
		TasksTotal.WithLabelValues(string(state)).Set(float64(count))
	}
}
