// ============================================================================
// Batchkit Orchestrator - Batch Lifecycle Master Loop
// ============================================================================
//
// Package: internal/orchestrator
// File: orchestrator.go
// Purpose: Core coordinator that pulls batch requests off a submission
// stream, decomposes each into work items, drives the accounting/StealWork
// protocol to completion, and reports status + run summaries.
//
// Lineage:
//   Grounded on controller.Controller of the raft-recovery project this
//   module was derived from (not part of this module): one struct owning a
//   mutex-protected core plus a handful of long-lived goroutines (here:
//   master loop, run-summary loop, debug loop) started from Start and
//   joined from Join, matching that package's dispatch/
//   result/timeout/snapshot loop arrangement and its shutdown-ordering
//   discipline.
//
// Concurrency:
//   - mu protects managers, endpointGeneration, and currentRequest: state
//     the hotswap engine reads and writes.
//   - acct (internal/accounting.State) owns its own lock for the
//     queue/in-progress/results protocol; the orchestrator never reaches
//     into it directly except through its exported methods.
//
// ============================================================================

package orchestrator

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ChuLiYu/batchkit/internal/accounting"
	"github.com/ChuLiYu/batchkit/internal/config"
	"github.com/ChuLiYu/batchkit/internal/configwatcher"
	"github.com/ChuLiYu/batchkit/internal/endpoint"
	"github.com/ChuLiYu/batchkit/internal/logging"
	"github.com/ChuLiYu/batchkit/internal/metrics"
	"github.com/ChuLiYu/batchkit/internal/statusprovider"
	"github.com/ChuLiYu/batchkit/pkg/types"
)

// StopToken gates RequestStop to the goroutine that constructed the
// Orchestrator. Single-process Go has no notion of a signal handler
// running in an inherited child process, so a capability token expresses
// the "only my creator may stop me" contract directly instead of checking
// process identity.
type StopToken struct{}

// Options bundles everything needed to construct an Orchestrator.
type Options struct {
	StatusProvider  statusprovider.StatusProvider
	ConfigFile      string
	StrictConfig    bool
	LogFolder       string
	CacheSearchDirs []string
	Log             logging.Sink
	MaxRetries      int
	RunSummaryEvery time.Duration
	DebugLoopEvery  time.Duration // 0 disables the debug loop
	SingletonPath   string        // non-empty switches to singleton run-summary mode
	Metrics         *metrics.Collector // nil disables metrics recording
}

// Orchestrator is the batch lifecycle master loop: one instance owns the
// work queue, the endpoint manager fleet, and the run-summary/debug
// goroutines for the lifetime of the process.
type Orchestrator struct {
	opts Options
	log  logging.Sink

	acct           *accounting.State
	statusProvider statusprovider.StatusProvider
	submissionCh   chan types.BatchRequest

	globalWorkLock sync.Mutex

	mu                 sync.Mutex
	managers           []endpoint.Manager
	managerMeta        map[string]managerMeta // keyed by manager Name()
	endpointGeneration int
	currentRequest     types.BatchRequest
	onBatchID          int64
	summarizer         types.BatchRunSummarizer
	lastFleetConfig    config.FleetConfig

	configWatcher configwatcher.ConfigWatcher
	creatorToken  *StopToken

	masterWg sync.WaitGroup
	loopsWg  sync.WaitGroup

	successCbCount atomic.Int64
	failureCbCount atomic.Int64

	stolenAt sync.Map // types.WorkItemID -> time.Time, for latency metrics
}

// New constructs an Orchestrator. The returned StopToken must be retained
// by the caller and passed back to RequestStop; no other caller can stop
// the orchestrator.
func New(opts Options) (*Orchestrator, *StopToken) {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RunSummaryEvery <= 0 {
		opts.RunSummaryEvery = DefaultRunSummaryInterval
	}
	if opts.Log == nil {
		opts.Log = logging.NewSlogSink(nil)
	}

	token := &StopToken{}
	o := &Orchestrator{
		opts:           opts,
		log:            opts.Log,
		acct:           accounting.NewState(opts.MaxRetries),
		statusProvider: opts.StatusProvider,
		submissionCh:   make(chan types.BatchRequest, 1),
		managerMeta:    make(map[string]managerMeta),
		onBatchID:      -1,
		creatorToken:   token,
	}
	return o, token
}

// Start launches the master loop, the run-summary loop, the config
// watcher, and (if configured) the debug loop. Non-blocking.
func (o *Orchestrator) Start() error {
	watcher, err := configwatcher.Watch(o.opts.ConfigFile, 200*time.Millisecond, o.log, func() {
		if err := o.hotswap(); err != nil {
			o.log.Error("hotswap failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("start config watcher: %w", err)
	}
	o.configWatcher = watcher

	// Establish the initial fleet before any batch arrives.
	if err := o.hotswap(); err != nil {
		o.log.Warn("initial hotswap failed, starting with an empty fleet", "error", err)
	}

	o.masterWg.Add(1)
	go func() {
		defer o.masterWg.Done()
		o.masterLoop()
	}()

	o.loopsWg.Add(1)
	go func() {
		defer o.loopsWg.Done()
		o.runSummaryLoop()
	}()

	if o.opts.DebugLoopEvery > 0 {
		o.loopsWg.Add(1)
		go func() {
			defer o.loopsWg.Done()
			o.debugLoop()
		}()
	}

	return nil
}

// Submit enqueues a batch request for the master loop to pick up. The
// caller is expected to have already registered the batch with the
// StatusProvider in the waiting state.
func (o *Orchestrator) Submit(req types.BatchRequest) {
	o.submissionCh <- req
}

// Join blocks until the master loop has exited (i.e. after RequestStop).
func (o *Orchestrator) Join() {
	o.masterWg.Wait()
	o.loopsWg.Wait()
}

// RequestStop is the terminal shutdown signal. It is idempotent and a
// no-op for any caller other than the one holding the token returned by
// New.
func (o *Orchestrator) RequestStop(token *StopToken) {
	if token != o.creatorToken {
		return
	}

	if o.configWatcher != nil {
		if err := o.configWatcher.Stop(); err != nil {
			o.log.Warn("config watcher stop returned error", "error", err)
		}
	}

	o.acct.RequestStop()
	select {
	case o.submissionCh <- nil: // stop sentinel for the master loop's blocking receive
	default:
	}
}

// CancelBatch ends batchID prematurely if it is the batch currently being
// processed. Remaining work items are skipped; every current EndpointManager
// is retired at once and stopped in the background, and the fleet is rebuilt
// on the next batch's hotswap.
//
// CancelBatch is fire-and-forget with respect to manager wind-down: the
// master loop only ever waits on acct.BatchCompletion(), never on consumer
// goroutines actually exiting, so each manager's (blocking) RequestStop runs
// on its own goroutine instead of the caller's.
func (o *Orchestrator) CancelBatch(batchID int64) bool {
	o.mu.Lock()
	managers := make([]endpoint.Manager, len(o.managers))
	copy(managers, o.managers)
	o.mu.Unlock()

	names := make([]string, len(managers))
	for i, m := range managers {
		names[i] = m.Name()
	}

	if !o.acct.CancelBatch(batchID, names) {
		return false
	}

	for _, m := range managers {
		m := m
		go m.RequestStop()
	}
	if o.opts.Metrics != nil {
		o.opts.Metrics.RecordBatchCanceled()
	}
	return true
}

// --- WorkSource: the cyclic-reference-breaking interface exposed to
// EndpointManagers. Implemented by delegating straight to accounting.State,
// whose bookkeeping already enforces the old-managers/stop-requested drop
// semantics.

func (o *Orchestrator) StealWork(managerName, language string) (*types.WorkItem, bool) {
	item, ok := o.acct.StealWork(managerName, language)
	if ok {
		if o.opts.Metrics != nil {
			o.opts.Metrics.RecordStolen()
		}
		o.stolenAt.Store(item.FilePath, time.Now())
	}
	return item, ok
}

func (o *Orchestrator) NotifyWorkSuccess(filepath types.WorkItemID, managerName string, result types.WorkResult) {
	o.successCbCount.Add(1)
	o.acct.NotifyWorkSuccess(filepath, managerName, result)
	if o.opts.Metrics != nil {
		o.opts.Metrics.RecordSucceeded(o.takeLatency(filepath))
		o.reportQueueGauges()
	}
}

func (o *Orchestrator) NotifyWorkFailure(filepath types.WorkItemID, managerName string, result types.WorkResult) bool {
	o.failureCbCount.Add(1)
	requeued := o.acct.NotifyWorkFailure(filepath, managerName, result)
	if o.opts.Metrics != nil {
		o.opts.Metrics.RecordFailed()
		if requeued {
			o.opts.Metrics.RecordRequeued()
		}
		o.reportQueueGauges()
	}
	return requeued
}

// takeLatency returns the elapsed time since filepath was last stolen,
// consuming the recorded timestamp so a retried item measures only its
// final successful attempt.
func (o *Orchestrator) takeLatency(filepath types.WorkItemID) float64 {
	v, ok := o.stolenAt.LoadAndDelete(filepath)
	if !ok {
		return 0
	}
	return time.Since(v.(time.Time)).Seconds()
}

func (o *Orchestrator) reportQueueGauges() {
	stats := o.acct.Stats()
	o.opts.Metrics.UpdateQueueStats(stats["queued"], stats["in_progress"])
}

// masterLoop implements the batch lifecycle controller's 13-step
// procedure: pull a request, hotswap the fleet for its type, dispatch its
// work items, wait for completion, publish the final summary, and
// transition status — then loop for the next batch, until a stop sentinel
// (nil request) is received.
func (o *Orchestrator) masterLoop() {
	for {
		request, ok := <-o.submissionCh
		if !ok || request == nil {
			o.masterFinalize()
			return
		}

		batchID := request.BatchID()

		// Ensure the batch was not canceled while it sat waiting.
		o.statusProvider.Lock()
		deletedBeforeStart := o.statusProvider.IsDeleted(batchID)
		o.statusProvider.Unlock()
		if deletedBeforeStart {
			o.log.Info("skipping batch marked deleted while waiting", "batch_id", batchID)
			continue
		}

		o.mu.Lock()
		o.currentRequest = request
		o.mu.Unlock()

		// Recreate endpoints for the new batch's type, in case the prior
		// batch retired managers for language mismatch or similar reasons.
		if err := o.hotswap(); err != nil {
			o.log.Error("hotswap before batch dispatch failed", "batch_id", batchID, "error", err)
		}

		if o.acct.IsStopRequested() {
			o.masterFinalize()
			return
		}

		o.acct.Reset(batchID, o.managerCount())

		o.mu.Lock()
		o.summarizer = request.RunSummarizer()
		o.onBatchID = batchID
		o.mu.Unlock()

		o.acct.ClearBatchCompletion()

		if !o.acct.AssertEmpty() {
			o.log.Error("queue and in-progress set were not empty at batch start", "batch_id", batchID)
		}

		items, err := request.MakeWorkItems(o.statusProvider.BatchBasePath(batchID))
		if err != nil {
			o.log.Error("failed to materialize work items", "batch_id", batchID, "error", err)
			o.finishBatch(request, false)
			continue
		}
		o.acct.EnqueueWork(items)

		canceled := o.transitionToRunningOrCancel(batchID)
		if canceled {
			o.CancelBatch(batchID)
		}

		<-o.acct.BatchCompletion()

		o.finishBatch(request, canceled)
	}
}

func (o *Orchestrator) managerCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.managers)
}

// transitionToRunningOrCancel atomically checks whether batchID was deleted
// while it sat waiting and, if not, transitions it to running. The check and
// the transition happen under the StatusProvider's lock so a concurrent
// DeleteBatch can never land between them.
func (o *Orchestrator) transitionToRunningOrCancel(batchID int64) bool {
	o.statusProvider.Lock()
	defer o.statusProvider.Unlock()

	if o.statusProvider.IsDeleted(batchID) {
		return true
	}
	if err := o.statusProvider.ChangeStatus(batchID, types.BatchRunning); err != nil {
		o.log.Warn("failed to transition batch to running", "batch_id", batchID, "error", err)
	}
	return false
}

// finishBatch writes the terminal run summary, combines per-file results if
// requested, and transitions the batch to its terminal status.
func (o *Orchestrator) finishBatch(request types.BatchRequest, canceledBeforeWait bool) {
	batchID := request.BatchID()

	o.statusProvider.Lock()
	deletedNow := o.statusProvider.IsDeleted(batchID)
	o.statusProvider.Unlock()
	canceled := canceledBeforeWait || deletedNow

	if canceled {
		o.log.Info("canceled processing batch", "batch_id", batchID)
	} else {
		o.log.Info("completed batch", "batch_id", batchID)
		if o.opts.Metrics != nil {
			o.opts.Metrics.RecordBatchCompleted()
		}
	}

	logConclusion := o.opts.SingletonPath == ""
	if err := o.writeSummaryInformation(true, TerminalSummaryWriteRetries, logConclusion, true); err != nil {
		o.log.Warn("failed to write terminal run summary", "batch_id", batchID, "error", err)
	}

	if !canceled && request.CombineResults() {
		o.combineResults(request, batchID)
	}

	o.statusProvider.Lock()
	defer o.statusProvider.Unlock()
	if o.statusProvider.IsDeleted(batchID) {
		if err := o.statusProvider.DeleteBatch(batchID); err != nil {
			o.log.Warn("failed to delete batch", "batch_id", batchID, "error", err)
		}
	} else if err := o.statusProvider.ChangeStatus(batchID, types.BatchDone); err != nil {
		o.log.Warn("failed to transition batch to done", "batch_id", batchID, "error", err)
	}
}

// combineResults concatenates per-item results into a single artifact when
// request reports CombineResults() and also implements the optional
// types.BatchResultCombiner capability. A request that asks for combination
// without implementing the combiner is a configuration mistake, logged and
// otherwise ignored rather than treated as fatal.
func (o *Orchestrator) combineResults(request types.BatchRequest, batchID int64) {
	combiner, ok := request.(types.BatchResultCombiner)
	if !ok {
		o.log.Warn("combine_results requested but batch request does not implement a combiner", "batch_id", batchID)
		return
	}

	basePath := o.statusProvider.BatchBasePath(batchID)
	snap := o.acct.Snapshot(false)
	if err := combiner.CombineBatchResults(basePath, snap.WorkResults); err != nil {
		o.log.Warn("failed to combine batch results", "batch_id", batchID, "error", err)
		return
	}
	o.log.Info("combined batch results into a single file", "batch_id", batchID)
}

func (o *Orchestrator) masterFinalize() {
	if o.opts.SingletonPath != "" {
		if err := o.writeSummaryInformation(false, 0, true, true); err != nil {
			o.log.Warn("failed to log final singleton summary", "error", err)
		}
	}
}
