// ============================================================================
// Batchkit Run-Summary Writer - Atomic Bounded-Retry Artifact Persistence
// ============================================================================
//
// Package: internal/summarywriter
// File: summary_writer.go
// Purpose: Write the run-summary JSON artifact for a batch (or a singleton,
// cross-batch summary file) atomically and with a bounded retry budget, so a
// transient disk hiccup during the periodic run-summary loop never takes
// down the orchestrator.
//
// Lineage:
//   Atomic-write discipline (temp file + os.Rename, remove the temp file on
//   a failed rename) is lifted directly from snapshot.Manager.Write of the
//   raft-recovery project this module was derived from (not part of this
//   module). The bounded-retry wrapper around it replaces
//   that unconditional single attempt with cenkalti/backoff/v4, since the
//   run-summary publisher must tolerate a configurable number of attempts
//   (distinguishing a forgiving periodic retry budget from a larger
//   terminal one) rather than failing fast.
//
// ============================================================================

package summarywriter

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cenkalti/backoff/v4"
)

// WriteJSONAtomic marshals v to indented JSON and writes it to path via the
// temp-file-then-rename pattern, retrying up to maxRetries times on failure
// with a short exponential backoff. maxRetries <= 0 means a single attempt,
// no retries.
func WriteJSONAtomic(path string, v any, maxRetries int) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run summary: %w", err)
	}

	attempt := func() error {
		tmpPath := path + ".tmp"
		if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
			return fmt.Errorf("write temp run summary: %w", err)
		}
		if err := os.Rename(tmpPath, path); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("rename run summary into place: %w", err)
		}
		return nil
	}

	if maxRetries <= 0 {
		return attempt()
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(maxRetries))
	return backoff.Retry(attempt, policy)
}
