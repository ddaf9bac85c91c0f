// ============================================================================
// Batchkit Core Type Definitions
// ============================================================================
//
// Package: pkg/types
// Purpose: Core domain models shared by the orchestrator, endpoint managers,
// and the external collaborators (StatusProvider, ConfigWatcher).
//
// Design Principles:
//   1. WorkItem/WorkResult are deliberately payload-opaque: the orchestrator
//      never interprets Payload/Data, only FilePath, Language, and the retry
//      bookkeeping fields.
//   2. WorkItem and WorkResult carry JSON tags, since per-item results are
//      serialized as JSON (fsbatch's combined output file).
//
// ============================================================================

// Package types defines the core domain models for the batch orchestrator.
package types

// WorkItemID uniquely identifies a work item within a batch (its filepath).
type WorkItemID = string

// WorkItem is the atomic unit of scheduling: one file-path-like identifier
// plus a payload the core never interprets.
type WorkItem struct {
	FilePath string         `json:"filepath"`
	Language string         `json:"language,omitempty"` // optional routing tag
	Payload  map[string]any `json:"payload,omitempty"`  // producer-supplied, opaque to core
}

// WorkResult is produced by an EndpointManager after attempting a WorkItem.
//
// Attempts is the number of attempts made SINCE THE LAST MERGE on the wire,
// not the absolute count — the accounting layer accumulates it on merge. See
// internal/accounting.State.mergeResult.
type WorkResult struct {
	Attempts int            `json:"attempts"`
	CanRetry bool           `json:"can_retry"`
	Success  bool           `json:"success"`
	Data     map[string]any `json:"data,omitempty"`
	Err      string         `json:"error,omitempty"`
}

// BatchStatus is the lifecycle state of a batch as tracked by StatusProvider.
type BatchStatus string

const (
	BatchWaiting BatchStatus = "waiting"
	BatchRunning BatchStatus = "running"
	BatchDone    BatchStatus = "done"
	BatchDeleted BatchStatus = "deleted"
)

// EndpointConfig is an opaque-to-core configuration map for one endpoint,
// compared by value equality during hotswap. Conventionally carries at least
// a "language" key used for StealWork routing.
type EndpointConfig map[string]any

// EndpointStatusChecker reports whether a logical endpoint is healthy enough
// to keep receiving work. Out of core scope beyond the interface: concrete
// implementations live with the application embedding this module.
type EndpointStatusChecker interface {
	IsHealthy(endpointName string) bool
}

// WorkItemProcessor performs the actual endpoint invocation (HTTP/RPC/file
// processing) for one WorkItem against one endpoint. Out of core scope beyond
// the interface.
type WorkItemProcessor interface {
	Process(item *WorkItem, endpointConfig EndpointConfig) WorkResult
}

// EndpointStatusCheckerFactory builds an EndpointStatusChecker for the
// currently-active batch request type. Resolved once per hotswap.
type EndpointStatusCheckerFactory func() EndpointStatusChecker

// WorkItemProcessorFactory builds a WorkItemProcessor for the currently-active
// batch request type. Resolved once per hotswap.
type WorkItemProcessorFactory func() WorkItemProcessor

// RunSnapshot is the consistent, lock-free snapshot taken by the run-summary
// publisher before it calls out to a BatchRunSummarizer or writes JSON.
type RunSnapshot struct {
	BatchID       int64
	WorkResults   map[WorkItemID]*WorkResult
	QueuedCount   int
	InProgress    int
	StartTimeUnix int64 // unix millis
	EndpointCount int
	LogConclusion bool
}

// BatchRunSummarizer renders a point-in-time snapshot of batch progress into
// whatever shape the run-summary artifact should have.
type BatchRunSummarizer interface {
	RunSummary(snap RunSnapshot) map[string]any
}

// BatchResultCombiner is an optional capability a BatchRequest can implement
// when it wants its per-item results concatenated into a single artifact at
// batch conclusion. The orchestrator type-asserts for this rather than
// folding it into BatchRequest itself, since CombineResults() reporting true
// without a combiner to match is a configuration error the orchestrator logs
// and otherwise ignores, not a hard requirement on every embedder.
type BatchResultCombiner interface {
	CombineBatchResults(basePath string, results map[WorkItemID]*WorkResult) error
}

// BatchRequest is a concrete batch submission: an identifier plus everything
// the orchestrator needs to materialize work items and route them to the
// right kind of endpoint manager.
type BatchRequest interface {
	BatchID() int64
	CombineResults() bool

	// MakeWorkItems materializes the work items for this batch. basePath is
	// the StatusProvider-supplied base path for batch artifacts.
	MakeWorkItems(basePath string) ([]*WorkItem, error)

	EndpointStatusCheckerFactory() EndpointStatusCheckerFactory
	WorkItemProcessorFactory() WorkItemProcessorFactory
	RunSummarizer() BatchRunSummarizer
}
