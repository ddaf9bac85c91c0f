package orchestrator

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/batchkit/pkg/types"
)

// blockingProcessor blocks its first invocation until release is closed,
// letting a test hold a work item "in progress" long enough to hotswap the
// fleet out from under its owning manager.
type blockingProcessor struct {
	started chan string
	release chan struct{}
}

func newBlockingProcessor() *blockingProcessor {
	return &blockingProcessor{
		started: make(chan string, 4),
		release: make(chan struct{}),
	}
}

func (p *blockingProcessor) Process(item *types.WorkItem, cfg types.EndpointConfig) types.WorkResult {
	select {
	case p.started <- item.FilePath:
	default:
	}
	<-p.release
	return types.WorkResult{Success: true, Attempts: 1}
}

// TestHotswapMidBatchReassignsInProgressWork exercises retiring a manager
// while it still owns an in-progress item: the item must come back onto the
// queue and be finished by the manager that replaces it, and the retired
// manager's own eventual report of the same item must be silently dropped.
func TestHotswapMidBatchReassignsInProgressWork(t *testing.T) {
	dir := t.TempDir()
	endpointsPath := writeEndpointFile(t, dir, 1)
	orch, token, sp := newTestOrchestrator(t, endpointsPath, dir)
	defer func() { orch.RequestStop(token); orch.Join() }()

	batchID := int64(10)
	require.NoError(t, sp.RegisterBatch(batchID, filepath.Join(dir, "out")))

	proc := newBlockingProcessor()
	req := &testRequest{
		id: batchID,
		items: []*types.WorkItem{
			{FilePath: "first.txt"},
			{FilePath: "second.txt"},
		},
		processor: func() types.WorkItemProcessor { return proc },
	}
	orch.Submit(req)

	select {
	case <-proc.started:
	case <-time.After(2 * time.Second):
		t.Fatal("processor never started on the first item")
	}

	// Bump concurrency on the same endpoint so its config compares unequal
	// on the next hotswap, retiring the manager that owns "first.txt".
	require.NoError(t, os.WriteFile(endpointsPath, []byte("demo:\n  concurrency: 2\n"), 0o644))

	hotswapDone := make(chan error, 1)
	go func() { hotswapDone <- orch.hotswap() }()

	// hotswap()'s teardown of the old manager blocks on RequestStop until
	// the in-flight Process call returns; give it time to get there before
	// releasing, so this genuinely exercises the blocked-teardown path
	// rather than racing past it.
	time.Sleep(100 * time.Millisecond)
	close(proc.release)

	select {
	case err := <-hotswapDone:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("hotswap never completed after the in-flight item was released")
	}

	waitForStatus(t, sp, batchID, types.BatchDone)

	summary, ok := sp.RunSummary(batchID)
	require.True(t, ok)
	assert.Equal(t, 2, summary["succeeded"], "the reassigned item and the never-touched one must both complete")
	assert.Equal(t, 0, summary["failed"])
}

// partialProgressProcessor completes every item immediately except blockOn,
// which blocks until release is closed, and records which filepaths it has
// been asked to process.
type partialProgressProcessor struct {
	blockOn string
	started chan string
	release chan struct{}
	seen    sync.Map // filepath -> struct{}
}

func (p *partialProgressProcessor) Process(item *types.WorkItem, cfg types.EndpointConfig) types.WorkResult {
	p.seen.Store(item.FilePath, struct{}{})
	if item.FilePath == p.blockOn {
		select {
		case p.started <- item.FilePath:
		default:
		}
		<-p.release
	}
	return types.WorkResult{Success: true, Attempts: 1}
}

func (p *partialProgressProcessor) wasProcessed(filepath string) bool {
	_, ok := p.seen.Load(filepath)
	return ok
}

// TestCancelBatchDuringPartialProgressIsFireAndForget covers a run with
// completed items, one item in progress, and items still queued: canceling
// must return promptly (not block on the in-flight item's manager winding
// down) and the still-queued items must never be processed.
func TestCancelBatchDuringPartialProgressIsFireAndForget(t *testing.T) {
	dir := t.TempDir()
	endpointsPath := writeEndpointFile(t, dir, 1)
	orch, token, sp := newTestOrchestrator(t, endpointsPath, dir)
	defer func() { orch.RequestStop(token); orch.Join() }()

	batchID := int64(20)
	require.NoError(t, sp.RegisterBatch(batchID, filepath.Join(dir, "out")))

	proc := &partialProgressProcessor{
		blockOn: "c.txt",
		started: make(chan string, 1),
		release: make(chan struct{}),
	}
	req := &testRequest{
		id: batchID,
		items: []*types.WorkItem{
			{FilePath: "a.txt"},
			{FilePath: "b.txt"},
			{FilePath: "c.txt"},
			{FilePath: "d.txt"},
			{FilePath: "e.txt"},
		},
		processor: func() types.WorkItemProcessor { return proc },
	}
	orch.Submit(req)

	select {
	case <-proc.started:
	case <-time.After(2 * time.Second):
		t.Fatal("processor never reached the blocking item")
	}
	assert.True(t, proc.wasProcessed("a.txt"))
	assert.True(t, proc.wasProcessed("b.txt"))
	assert.False(t, proc.wasProcessed("d.txt"), "a queued item must not run ahead of the single concurrency slot")
	assert.False(t, proc.wasProcessed("e.txt"))

	cancelDone := make(chan struct{})
	go func() {
		assert.True(t, orch.CancelBatch(batchID))
		close(cancelDone)
	}()

	select {
	case <-cancelDone:
	case <-time.After(300 * time.Millisecond):
		t.Fatal("CancelBatch blocked on manager wind-down instead of being fire-and-forget")
	}

	// Unblock the in-flight Process call so its consumer goroutine can
	// notice the retirement and exit cleanly.
	close(proc.release)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if status, ok := sp.Status(batchID); ok && (status == types.BatchDone || status == types.BatchDeleted) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	assert.False(t, proc.wasProcessed("d.txt"), "queued items must never be processed after cancellation")
	assert.False(t, proc.wasProcessed("e.txt"), "queued items must never be processed after cancellation")
}
