package worker

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/procfs"
	"github.com/rs/zerolog"
	"github.com/tuskdata/tusk/pkg/log"
	"github.com/tuskdata/tusk/pkg/types"
)

// HealthMonitor samples host load and memory for the heartbeat. The latest sample is
// cached so a heartbeat never blocks on procfs.
type HealthMonitor struct {
	interval time.Duration
	fs       *procfs.FS
	logger   zerolog.Logger

	mu     sync.RWMutex
	latest types.HealthMetrics

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHealthMonitor creates a new health monitor reading the host's /proc
func NewHealthMonitor(interval time.Duration) *HealthMonitor {
	return newHealthMonitor(interval, procfs.DefaultMountPoint)
}

func newHealthMonitor(interval time.Duration, mountPoint string) *HealthMonitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	hm := &HealthMonitor{
		interval: interval,
		logger:   log.WithComponent("health-monitor"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		// heartbeats carry zero metrics
		hm.logger.Debug().Err(err).Str("mount_point", mountPoint).Msg("procfs unavailable")
		return hm
	}
	hm.fs = &fs
	return hm
}

// Start takes a first sample and starts the monitor
func (hm *HealthMonitor) Start() {
	hm.sample()
	go hm.monitorLoop()
}

// Stop stops the health monitor
func (hm *HealthMonitor) Stop() {
	close(hm.stopCh)
	<-hm.doneCh
}

// Latest returns the most recent sample
func (hm *HealthMonitor) Latest() types.HealthMetrics {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	return hm.latest
}

func (hm *HealthMonitor) monitorLoop() {
	defer close(hm.doneCh)

	ticker := time.NewTicker(hm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hm.sample()
		case <-hm.stopCh:
			return
		}
	}
}

func (hm *HealthMonitor) sample() {
	if hm.fs == nil {
		return
	}

	var m types.HealthMetrics
	if avg, err := hm.fs.LoadAvg(); err == nil {
		m.CPUPercent = loadPercent(avg.Load1, runtime.NumCPU())
	} else {
		hm.logger.Debug().Err(err).Msg("Failed to read load average")
	}
	if mi, err := hm.fs.Meminfo(); err == nil {
		m.MemoryPercent = memoryPercent(mi)
	} else {
		hm.logger.Debug().Err(err).Msg("Failed to read meminfo")
	}

	hm.mu.Lock()
	hm.latest = m
	hm.mu.Unlock()
}

// loadPercent turns the one-minute load average into a percentage of the available cores
func loadPercent(load1 float64, cpus int) float64 {
	if cpus <= 0 {
		cpus = 1
	}
	return clampPercent(load1 / float64(cpus) * 100)
}

// memoryPercent returns the share of memory not available to new allocations
func memoryPercent(mi procfs.Meminfo) float64 {
	if mi.MemTotal == nil || mi.MemAvailable == nil || *mi.MemTotal == 0 {
		return 0
	}
	total := float64(*mi.MemTotal)
	return clampPercent((total - float64(*mi.MemAvailable)) / total * 100)
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
