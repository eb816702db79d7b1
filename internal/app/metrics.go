package app

import (
	"sync/atomic"
	"time"
)

// Metrics counts coordination events over the life of the application.
type Metrics struct {
	backendFailures atomic.Uint64
	crashes         atomic.Uint64
	restarts        atomic.Uint64
	reloads         atomic.Uint64
	reloadErrors    atomic.Uint64

	startTime time.Time
}

// NewMetrics creates a metrics tracker.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordBackendFailure counts a backend task that failed or timed out.
func (m *Metrics) RecordBackendFailure() { m.backendFailures.Add(1) }

// RecordCrash counts a server process that exited unexpectedly.
func (m *Metrics) RecordCrash() { m.crashes.Add(1) }

// RecordRestart counts a server that was attached again after a crash.
func (m *Metrics) RecordRestart() { m.restarts.Add(1) }

// RecordReload counts an applied configuration reload.
func (m *Metrics) RecordReload() { m.reloads.Add(1) }

// RecordReloadError counts a configuration reload that was rejected.
func (m *Metrics) RecordReloadError() { m.reloadErrors.Add(1) }

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	BackendFailures uint64
	Crashes         uint64
	Restarts        uint64
	Reloads         uint64
	ReloadErrors    uint64
	Uptime          time.Duration
}

// Snapshot returns the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		BackendFailures: m.backendFailures.Load(),
		Crashes:         m.crashes.Load(),
		Restarts:        m.restarts.Load(),
		Reloads:         m.reloads.Load(),
		ReloadErrors:    m.reloadErrors.Load(),
		Uptime:          time.Since(m.startTime),
	}
}
