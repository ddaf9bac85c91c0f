// ============================================================================
// Batchkit Orchestrator - Debug Introspection Loop
// ============================================================================
//
// Package: internal/orchestrator
// File: debug.go
// Purpose: Optional periodic dump of queue depth, in-progress count, retired
// manager count, and per-manager steal/success/failure counters. Deliberately
// lighter than a full stack-trace dump: Go goroutine dumps are not a
// per-goroutine introspection primitive attributable to a specific named
// goroutine without extra plumbing this orchestrator has no other use for.
//
// ============================================================================

package orchestrator

import (
	"time"
)

// debugLoop runs only when opts.DebugLoopEvery > 0. It logs a structured
// snapshot of orchestrator health at each tick until a stop is requested.
func (o *Orchestrator) debugLoop() {
	ticker := time.NewTicker(o.opts.DebugLoopEvery)
	defer ticker.Stop()

	for range ticker.C {
		if o.acct.IsStopRequested() {
			return
		}
		o.logDebugSnapshot()
	}
}

type managerStats interface {
	Stats() map[string]int64
}

func (o *Orchestrator) logDebugSnapshot() {
	stats := o.acct.Stats()

	o.mu.Lock()
	managers := make([]struct {
		name     string
		endpoint string
		stats    map[string]int64
	}, 0, len(o.managers))
	for _, m := range o.managers {
		var s map[string]int64
		if withStats, ok := m.(managerStats); ok {
			s = withStats.Stats()
		}
		managers = append(managers, struct {
			name     string
			endpoint string
			stats    map[string]int64
		}{name: m.Name(), endpoint: m.EndpointName(), stats: s})
	}
	generation := o.endpointGeneration
	batchID := o.onBatchID
	o.mu.Unlock()

	o.log.Info("orchestrator status",
		"batch_id", batchID,
		"endpoint_generation", generation,
		"queued", stats["queued"],
		"in_progress", stats["in_progress"],
		"old_managers", stats["old_managers"],
		"successes", stats["successes"],
		"failures", stats["failures"],
		"manager_count", len(managers),
	)

	for _, m := range managers {
		entry := o.log.With("manager", m.name, "endpoint", m.endpoint)
		if m.stats == nil {
			entry.Debug("manager status unavailable")
			continue
		}
		entry.Debug("manager status",
			"stolen", m.stats["stolen"],
			"successes", m.stats["successes"],
			"failures", m.stats["failures"],
		)
	}
}
