package metrics

import (
	"time"

	"github.com/tuskdata/tusk/pkg/types"
)

// Source exposes the state the collector samples
type Source interface {
	CountJobsByStatus() (map[types.JobStatus]int, error)
	ListWorkers() []*types.Worker
}

// Collector periodically refreshes the cluster gauges from a Source
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

// Collect samples the source once
func (c *Collector) Collect() {
	c.collectJobMetrics()
	c.collectWorkerMetrics()
}

func (c *Collector) collectJobMetrics() {
	counts, err := c.source.CountJobsByStatus()
	if err != nil {
		return
	}

	for _, status := range types.AllJobStatuses {
		JobsTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

func (c *Collector) collectWorkerMetrics() {
	workers := c.source.ListWorkers()

	counts := map[types.WorkerStatus]int{
		types.WorkerStatusIdle:    0,
		types.WorkerStatusBusy:    0,
		types.WorkerStatusOffline: 0,
	}
	used, free := 0, 0
	for _, w := range workers {
		counts[w.Status]++
		if w.Status != types.WorkerStatusOffline {
			used += len(w.Jobs)
			free += w.FreeSlots()
		}
	}

	for status, count := range counts {
		WorkersTotal.WithLabelValues(string(status)).Set(float64(count))
	}
	WorkerSlotsTotal.WithLabelValues("used").Set(float64(used))
	WorkerSlotsTotal.WithLabelValues("free").Set(float64(free))
}
