// ============================================================================
// Batchkit Accounting - Work Queue and Result Bookkeeping
// ============================================================================
//
// Package: internal/accounting
// File: state.go
// Purpose: Single source of truth for one batch's pending work queue,
// in-progress ownership, and accumulated results.
//
// Design Philosophy:
//   One mutex (mu) guards every field below; one condition variable (cond)
//   built on that same mutex implements the classic consumer/waiter pattern
//   for StealWork, matching the accounting_lock + file_queue_cond pairing of
//   the batch orchestrator this package is modeled on.
//
// State Machine (per work item):
//   queued -> in-progress (StealWork)
//   in-progress -> merged + done (NotifyWorkSuccess)
//   in-progress -> merged + requeued, or merged + done (NotifyWorkFailure,
//     depending on CanRetry and attempts already burned)
//
// Concurrency:
//   - sync.Mutex protects all fields.
//   - sync.Cond(mu) lets StealWork block until work arrives, a stop is
//     requested, or the calling manager is retired.
//   - Safe for any number of concurrent EndpointManager goroutines.
//
// ============================================================================

package accounting

import (
	"sync"
	"time"

	"github.com/ChuLiYu/batchkit/pkg/types"
)

// State tracks one batch's work queue, in-flight ownership, and merged
// results. A single State is reused across the lifetime of the process;
// Reset prepares it for each new batch.
type State struct {
	mu   sync.Mutex
	cond *sync.Cond

	maxRetries int

	queue           []*types.WorkItem
	inProgress      map[types.WorkItemID]*types.WorkItem
	inProgressOwner map[types.WorkItemID]string
	workResults     map[types.WorkItemID]*types.WorkResult
	oldManagers     map[string]struct{}
	stopRequested   bool

	batchID       int64
	startTime     time.Time
	endpointCount int

	successCount uint64
	failureCount uint64

	batchCompletion *event
}

// NewState creates an empty accounting state. maxRetries bounds how many
// times a retriable work item may be requeued before it is abandoned.
func NewState(maxRetries int) *State {
	s := &State{
		maxRetries:      maxRetries,
		queue:           make([]*types.WorkItem, 0),
		inProgress:      make(map[types.WorkItemID]*types.WorkItem),
		inProgressOwner: make(map[types.WorkItemID]string),
		workResults:     make(map[types.WorkItemID]*types.WorkResult),
		oldManagers:     make(map[string]struct{}),
		batchCompletion: newEvent(),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Reset prepares the state for a newly dispatched batch. It does not touch
// stopRequested: once stop has been requested the orchestrator is shutting
// down for good, batch or no batch.
func (s *State) Reset(batchID int64, endpointCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.batchID = batchID
	s.endpointCount = endpointCount
	s.startTime = time.Now()
	s.queue = s.queue[:0]
	s.inProgress = make(map[types.WorkItemID]*types.WorkItem)
	s.inProgressOwner = make(map[types.WorkItemID]string)
	s.workResults = make(map[types.WorkItemID]*types.WorkResult)
	s.successCount = 0
	s.failureCount = 0
}

// EnqueueWork appends work items to the pending queue and seeds a nil result
// placeholder for each, then wakes any EndpointManager goroutines blocked in
// StealWork.
func (s *State) EnqueueWork(items []*types.WorkItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range items {
		s.queue = append(s.queue, item)
		s.workResults[item.FilePath] = nil
	}
	s.cond.Broadcast()

	// A batch with no work items is complete as soon as it is dispatched.
	if len(s.queue) == 0 && len(s.inProgress) == 0 {
		s.batchCompletion.Set()
	}
}

// QueueEmpty reports whether the pending queue and in-progress set are both
// empty, i.e. the batch has nothing left to hand out or wait on.
func (s *State) QueueEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) == 0 && len(s.inProgress) == 0
}

// AssertEmpty reports whether the queue and in-progress set are empty,
// matching the master loop's pre-dispatch sanity assertion.
func (s *State) AssertEmpty() bool {
	return s.QueueEmpty()
}

// StealWork is called by an EndpointManager goroutine looking for work. It
// blocks until work is available, the caller's manager has been retired
// (added to the old-managers set), or a stop has been requested. ok is false
// in the latter two cases: a sentinel telling the caller to give up.
//
// endpointLanguage, if non-empty, is matched case-insensitively against the
// work item's Language; a mismatch puts the item back on the queue for a
// qualified manager and retires the caller early (it will be recreated on
// the next hotswap with correct routing).
func (s *State) StealWork(managerName, endpointLanguage string) (item *types.WorkItem, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if _, retired := s.oldManagers[managerName]; retired || s.stopRequested {
			return nil, false
		}

		if len(s.queue) > 0 {
			work := s.queue[0]
			s.queue = s.queue[1:]

			if work.Language != "" && endpointLanguage != "" &&
				!sameLanguage(work.Language, endpointLanguage) {
				// Wrong kind of endpoint stole this one. Put it back for
				// someone qualified and retire this manager; it will be
				// recreated with matching config on the next hotswap.
				s.queue = append(s.queue, work)
				s.oldManagers[managerName] = struct{}{}
				s.cond.Signal()
				return nil, false
			}

			s.inProgress[work.FilePath] = work
			s.inProgressOwner[work.FilePath] = managerName
			return work, true
		}

		s.cond.Wait()
	}
}

func sameLanguage(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// mergeResult accumulates attempts across retries: the incoming result's
// Attempts count is "since last merge", not absolute. Caller must hold mu.
func (s *State) mergeResult(filepath types.WorkItemID, result types.WorkResult) *types.WorkResult {
	prev := s.workResults[filepath]
	if prev != nil {
		result.Attempts += prev.Attempts
	}
	merged := result
	s.workResults[filepath] = &merged
	return &merged
}

// NotifyWorkSuccess records a successful attempt. Calls from a retired
// manager (one that lost a race with hotswap or cancellation) or arriving
// after a stop was requested are silently dropped: the work item has already
// been reassigned or the batch is tearing down.
func (s *State) NotifyWorkSuccess(filepath types.WorkItemID, managerName string, result types.WorkResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.successCount++
	if _, retired := s.oldManagers[managerName]; retired {
		return
	}
	if s.stopRequested {
		return
	}

	delete(s.inProgress, filepath)
	delete(s.inProgressOwner, filepath)
	s.mergeResult(filepath, result)

	if len(s.queue) == 0 && len(s.inProgress) == 0 {
		s.batchCompletion.Set()
	}
}

// NotifyWorkFailure records a failed attempt and, if the item is still
// retriable and has not exhausted maxRetries, places it back on the queue
// for another manager. Subject to the same retired-manager/stop-requested
// drop checks as NotifyWorkSuccess. Returns whether the item was requeued.
func (s *State) NotifyWorkFailure(filepath types.WorkItemID, managerName string, result types.WorkResult) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failureCount++
	if _, retired := s.oldManagers[managerName]; retired {
		return false
	}
	if s.stopRequested {
		return false
	}

	merged := s.mergeResult(filepath, result)
	requeued := false

	if result.CanRetry && merged.Attempts-1 < s.maxRetries {
		if item, stillTracked := s.inProgress[filepath]; stillTracked {
			s.queue = append(s.queue, item)
			s.cond.Signal()
			requeued = true
		}
	}

	delete(s.inProgress, filepath)
	delete(s.inProgressOwner, filepath)

	if len(s.queue) == 0 && len(s.inProgress) == 0 {
		s.batchCompletion.Set()
	}
	return requeued
}

// RequestStop is the terminal shutdown signal: drains the queue, wakes every
// blocked StealWork caller with ok=false, and marks the batch complete so the
// master loop's wait unblocks for good.
func (s *State) RequestStop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopRequested = true
	s.queue = s.queue[:0]
	s.cond.Broadcast()
	s.batchCompletion.Set()
}

// IsStopRequested reports whether RequestStop has been called.
func (s *State) IsStopRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopRequested
}

// CancelBatch ends batchID prematurely: the queue is drained, in-progress
// tracking is cleared (EndpointManagers are expected to cancel their
// in-flight work items independently), and every currently known manager
// name is retired so late results are ignored. Returns false if batchID is
// not the batch currently tracked.
func (s *State) CancelBatch(batchID int64, managerNames []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.batchID != batchID {
		return false
	}

	s.queue = s.queue[:0]
	s.inProgress = make(map[types.WorkItemID]*types.WorkItem)
	s.inProgressOwner = make(map[types.WorkItemID]string)
	for _, name := range managerNames {
		s.oldManagers[name] = struct{}{}
	}
	s.cond.Broadcast()
	s.batchCompletion.Set()
	return true
}

// RetireManager adds managerName to the old-managers set without touching
// queue or in-progress state, used by hotswap when an endpoint is removed or
// reconfigured out from under its manager. Broadcasts so any goroutine of
// this manager blocked in StealWork wakes up and observes the sentinel.
func (s *State) RetireManager(managerName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oldManagers[managerName] = struct{}{}
	s.cond.Broadcast()
}

// ReassignOwnedBy moves every in-progress item owned by managerName back
// onto the pending queue, used by hotswap when a manager is retired with
// work still checked out.
func (s *State) ReassignOwnedBy(managerName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for filepath, owner := range s.inProgressOwner {
		if owner != managerName {
			continue
		}
		item := s.inProgress[filepath]
		delete(s.inProgress, filepath)
		delete(s.inProgressOwner, filepath)
		if item != nil {
			s.queue = append(s.queue, item)
		}
	}
	s.cond.Broadcast()
}

// BatchCompletion returns the channel that closes once the current batch has
// no pending or in-progress work left, a stop was requested, or the batch was
// canceled.
func (s *State) BatchCompletion() <-chan struct{} {
	return s.batchCompletion.Wait()
}

// ClearBatchCompletion rearms the batch-completion event ahead of dispatching
// a new batch.
func (s *State) ClearBatchCompletion() {
	s.batchCompletion.Clear()
}

// Stats reports queue/in-progress sizes and running success/failure tallies,
// primarily for the debug loop and metrics exporter.
func (s *State) Stats() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]int{
		"queued":       len(s.queue),
		"in_progress":  len(s.inProgress),
		"old_managers": len(s.oldManagers),
		"successes":    int(s.successCount),
		"failures":     int(s.failureCount),
	}
}

// Snapshot takes a consistent, point-in-time copy of batch progress for the
// run-summary publisher. The returned WorkResults map is a shallow copy: the
// *types.WorkResult values themselves are never mutated after being merged,
// only replaced, so sharing them is safe.
func (s *State) Snapshot(logConclusion bool) types.RunSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make(map[types.WorkItemID]*types.WorkResult, len(s.workResults))
	for k, v := range s.workResults {
		results[k] = v
	}

	return types.RunSnapshot{
		BatchID:       s.batchID,
		WorkResults:   results,
		QueuedCount:   len(s.queue),
		InProgress:    len(s.inProgress),
		StartTimeUnix: s.startTime.UnixMilli(),
		EndpointCount: s.endpointCount,
		LogConclusion: logConclusion,
	}
}
