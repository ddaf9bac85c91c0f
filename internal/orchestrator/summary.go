// ============================================================================
// Batchkit Orchestrator - Run Summary Publisher
// ============================================================================
//
// Package: internal/orchestrator
// File: summary.go
// Purpose: Periodically (and at batch conclusion) snapshot accounting state,
// ask the active batch request's summarizer to render it, and persist the
// result atomically — either per-batch through the StatusProvider or to a
// single singleton path when the orchestrator is run that way.
//
// Design:
//   Snapshot under the accounting lock, release it before doing any I/O,
//   write with a bounded retry budget that differs between the periodic
//   refresh (forgiving, another attempt follows shortly) and the terminal
//   write (no next attempt to fall back on), and tolerate the batch having
//   been deleted out from under the write.
//
// ============================================================================

package orchestrator

import (
	"errors"
	"path/filepath"
	"time"

	"github.com/ChuLiYu/batchkit/internal/statusprovider"
	"github.com/ChuLiYu/batchkit/internal/summarywriter"
)

// runSummaryLoop refreshes the on-disk run summary at opts.RunSummaryEvery
// until a stop is requested. The terminal per-batch write happens
// separately, from finishBatch, with the larger TerminalSummaryWriteRetries
// budget; in singleton mode masterFinalize makes one last single-attempt
// write at shutdown.
func (o *Orchestrator) runSummaryLoop() {
	ticker := time.NewTicker(o.opts.RunSummaryEvery)
	defer ticker.Stop()

	for range ticker.C {
		if o.acct.IsStopRequested() {
			return
		}
		logConclusion := o.opts.SingletonPath == ""
		if err := o.writeSummaryInformation(false, PeriodicSummaryWriteRetries, logConclusion, false); err != nil {
			o.log.Warn("periodic run summary write failed", "error", err)
		}
	}
}

// writeSummaryInformation snapshots accounting state and persists the
// summarizer's rendering of it. The write is skipped only when no batch has
// been dispatched yet (no summarizer installed or no batch id); forceWrite
// does not change that. retries applies to the singleton-path write only:
// SetRunSummary is called once.
func (o *Orchestrator) writeSummaryInformation(forceWrite bool, retries int, logConclusion, terminal bool) error {
	o.mu.Lock()
	summarizer := o.summarizer
	batchID := o.onBatchID
	o.mu.Unlock()

	if summarizer == nil || batchID < 0 {
		if !forceWrite {
			return nil
		}
		return nil
	}

	snap := o.acct.Snapshot(logConclusion)
	rendered := summarizer.RunSummary(snap)

	if o.opts.SingletonPath != "" {
		return summarywriter.WriteJSONAtomic(o.opts.SingletonPath, rendered, retries)
	}

	if err := o.statusProvider.SetRunSummary(batchID, rendered); err != nil {
		if errors.Is(err, statusprovider.ErrBatchNotFound) {
			// The batch was deleted out from under this write; tolerate
			// the race rather than surfacing it as an error.
			return nil
		}
		return err
	}
	return nil
}

// runSummaryPath returns basePath/run_summary.json, batchkit's historical
// per-batch summary filename convention. Nothing in this module calls it.
func runSummaryPath(basePath string) string {
	return filepath.Join(basePath, "run_summary.json")
}
