// ============================================================================
// Batchkit Orchestrator - Tunable Constants
// ============================================================================
//
// Package: internal/orchestrator
// File: constants.go
//
// ============================================================================

package orchestrator

import "time"

const (
	// DefaultMaxRetries bounds how many times a retriable work item may be
	// requeued before the orchestrator gives up on it.
	DefaultMaxRetries = 3

	// DefaultRunSummaryInterval is how often the run-summary loop refreshes
	// the on-disk artifact while a batch is active.
	DefaultRunSummaryInterval = 5 * time.Second

	// PeriodicSummaryWriteRetries is the retry budget for run-summary
	// writes issued by the periodic loop: a transient failure here should
	// not be noisy, since another attempt follows shortly.
	PeriodicSummaryWriteRetries = 5

	// TerminalSummaryWriteRetries is the retry budget for the final
	// run-summary write at the conclusion of a batch, where there is no
	// "next attempt" to fall back on.
	TerminalSummaryWriteRetries = 10

	// hotswapNamePrefix names each generation's managers as
	// "HotswapGen<N>_<endpoint>", matching the orchestrator's debug and log
	// output conventions.
	hotswapNamePrefix = "HotswapGen"
)
