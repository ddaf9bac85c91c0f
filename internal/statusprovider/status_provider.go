// ============================================================================
// Batchkit Status Provider - Batch Lifecycle Bookkeeping
// ============================================================================
//
// Package: internal/statusprovider
// File: status_provider.go
// Purpose: External collaborator tracking each batch's lifecycle status
// (waiting/running/done/deleted), its run summary, and its on-disk base
// path. The orchestrator core only ever talks to the StatusProvider
// interface; MemoryStatusProvider is the reference implementation used by
// the CLI and by tests.
//
// Lineage:
//   Grounded on the jobmanager state-map design of the raft-recovery
//   project this module was derived from (not part of this module): a
//   single mutex-guarded map as the source of truth, generalized from
//   per-job state to per-batch state.
//
// ============================================================================

package statusprovider

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/ChuLiYu/batchkit/pkg/types"
)

// ErrBatchNotFound is returned when an operation targets a batch ID the
// provider has no record of, mirroring BatchNotFoundException.
var ErrBatchNotFound = errors.New("batch not found")

// StatusProvider is the external collaborator the orchestrator uses to
// track batch lifecycle, publish run summaries, and resolve a batch's base
// artifact directory. Implementations must be safe for concurrent use.
//
// Lock/Unlock expose the provider's mutual-exclusion primitive directly so a
// caller can bracket a check-then-transition sequence (IsDeleted followed by
// ChangeStatus or DeleteBatch) in one critical section. ChangeStatus,
// IsDeleted, and DeleteBatch do not take the lock themselves — the caller
// must hold it (via Lock/Unlock, or the WithLock convenience) for every call
// to any of the three, including a single standalone call. SetRunSummary,
// BatchBasePath, and RegisterBatch are self-contained and lock internally.
type StatusProvider interface {
	// Lock acquires the provider's mutual-exclusion primitive. Must be
	// released with Unlock. Required around any call to ChangeStatus,
	// IsDeleted, or DeleteBatch.
	Lock()

	// Unlock releases the lock acquired by Lock.
	Unlock()

	// ChangeStatus transitions batchID to status. Returns ErrBatchNotFound
	// if the batch is unknown. Caller must hold the lock.
	ChangeStatus(batchID int64, status types.BatchStatus) error

	// IsDeleted reports whether batchID has been marked deleted (or is
	// simply unknown, which is treated the same as deleted for the
	// purposes of skip-checks in the master loop). Caller must hold the
	// lock.
	IsDeleted(batchID int64) bool

	// DeleteBatch marks batchID deleted and clears any artifacts the
	// provider owns for it. Caller must hold the lock.
	DeleteBatch(batchID int64) error

	// SetRunSummary stores the latest run-summary JSON for batchID.
	SetRunSummary(batchID int64, summary map[string]any) error

	// BatchBasePath returns the directory under which this batch's work
	// item artifacts and run summary should be written.
	BatchBasePath(batchID int64) string

	// RegisterBatch records a newly submitted batch in the waiting state.
	// Called by the submission path (typically the CLI's submit command)
	// before the request is pushed onto the orchestrator's submission
	// stream.
	RegisterBatch(batchID int64, basePath string) error
}

// WithLock runs fn with the provider's lock held, releasing it even if fn
// panics. Convenience for the common "check then transition" pattern.
func WithLock(p StatusProvider, fn func()) {
	p.Lock()
	defer p.Unlock()
	fn()
}

// MemoryStatusProvider is an in-memory reference StatusProvider. It is
// sufficient for single-process deployments and for tests; a persistent
// implementation (e.g. backed by a database) can satisfy the same
// interface for multi-process deployments.
type MemoryStatusProvider struct {
	mu sync.Mutex

	statuses map[int64]types.BatchStatus
	basePath map[int64]string
	summary  map[int64]map[string]any
	rootDir  string
}

// NewMemoryStatusProvider creates a provider that resolves batch base paths
// as <rootDir>/<batchID>.
func NewMemoryStatusProvider(rootDir string) *MemoryStatusProvider {
	return &MemoryStatusProvider{
		statuses: make(map[int64]types.BatchStatus),
		basePath: make(map[int64]string),
		summary:  make(map[int64]map[string]any),
		rootDir:  rootDir,
	}
}

func (p *MemoryStatusProvider) RegisterBatch(batchID int64, basePath string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if basePath == "" {
		basePath = filepath.Join(p.rootDir, fmt.Sprintf("%d", batchID))
	}
	p.statuses[batchID] = types.BatchWaiting
	p.basePath[batchID] = basePath
	return nil
}

// Lock acquires the provider's mutex. Callers must hold it around every
// call to ChangeStatus, IsDeleted, or DeleteBatch.
func (p *MemoryStatusProvider) Lock() { p.mu.Lock() }

// Unlock releases the mutex acquired by Lock.
func (p *MemoryStatusProvider) Unlock() { p.mu.Unlock() }

// ChangeStatus assumes the caller holds the lock (see Lock).
func (p *MemoryStatusProvider) ChangeStatus(batchID int64, status types.BatchStatus) error {
	if _, ok := p.statuses[batchID]; !ok {
		return fmt.Errorf("%w: batch %d", ErrBatchNotFound, batchID)
	}
	p.statuses[batchID] = status
	return nil
}

// IsDeleted assumes the caller holds the lock (see Lock).
func (p *MemoryStatusProvider) IsDeleted(batchID int64) bool {
	status, ok := p.statuses[batchID]
	return !ok || status == types.BatchDeleted
}

// DeleteBatch assumes the caller holds the lock (see Lock).
func (p *MemoryStatusProvider) DeleteBatch(batchID int64) error {
	if _, ok := p.statuses[batchID]; !ok {
		return fmt.Errorf("%w: batch %d", ErrBatchNotFound, batchID)
	}
	p.statuses[batchID] = types.BatchDeleted
	return nil
}

func (p *MemoryStatusProvider) SetRunSummary(batchID int64, summary map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.statuses[batchID]; !ok {
		return fmt.Errorf("%w: batch %d", ErrBatchNotFound, batchID)
	}
	p.summary[batchID] = summary
	return nil
}

func (p *MemoryStatusProvider) BatchBasePath(batchID int64) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if path, ok := p.basePath[batchID]; ok {
		return path
	}
	return filepath.Join(p.rootDir, fmt.Sprintf("%d", batchID))
}

// Status is a test/introspection helper, not part of the StatusProvider
// interface: returns the current status and whether the batch is known.
func (p *MemoryStatusProvider) Status(batchID int64) (types.BatchStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	status, ok := p.statuses[batchID]
	return status, ok
}

// RunSummary is a test/introspection helper returning the last summary
// stored for batchID.
func (p *MemoryStatusProvider) RunSummary(batchID int64) (map[string]any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	summary, ok := p.summary[batchID]
	return summary, ok
}
