package webmonitor

import (
	"sync"
	"time"
)

// Monitor holds the latest frame snapshot and loop statistics.
type Monitor struct {
	startTime time.Time

	mu         sync.Mutex
	frames     uint64
	firstFrame time.Time
	latest     *Snapshot
}

// NewMonitor creates an empty Monitor.
func NewMonitor() *Monitor {
	return &Monitor{startTime: time.Now()}
}

// Update replaces the latest snapshot.
func (m *Monitor) Update(s Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.frames == 0 {
		m.firstFrame = time.Now()
	}
	m.frames++
	m.latest = &s
}

// Snapshot returns the current stats and the latest snapshot, or nil before
// the first frame.
func (m *Monitor) Snapshot() (MonitorStats, *Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := MonitorStats{
		FramesProcessed: m.frames,
		UptimeSeconds:   time.Since(m.startTime).Seconds(),
	}
	if m.frames > 1 {
		if elapsed := time.Since(m.firstFrame).Seconds(); elapsed > 0 {
			stats.CurrentFPS = float64(m.frames-1) / elapsed
		}
	}

	if m.latest == nil {
		return stats, nil
	}
	stats.DetectionCount = len(m.latest.Detections)
	latest := *m.latest
	return stats, &latest
}
