package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/batchkit/internal/logging"
	"github.com/ChuLiYu/batchkit/internal/statusprovider"
	"github.com/ChuLiYu/batchkit/pkg/types"
)

// testRequest is a minimal in-memory types.BatchRequest for driving the
// master loop end to end without touching the filesystem for input items.
type testRequest struct {
	id        int64
	items     []*types.WorkItem
	processor func() types.WorkItemProcessor
	summary   chan types.RunSnapshot
}

func (r *testRequest) BatchID() int64       { return r.id }
func (r *testRequest) CombineResults() bool { return false }

func (r *testRequest) MakeWorkItems(basePath string) ([]*types.WorkItem, error) {
	return r.items, nil
}

func (r *testRequest) EndpointStatusCheckerFactory() types.EndpointStatusCheckerFactory {
	return func() types.EndpointStatusChecker { return alwaysHealthy{} }
}

func (r *testRequest) WorkItemProcessorFactory() types.WorkItemProcessorFactory {
	return types.WorkItemProcessorFactory(r.processor)
}

func (r *testRequest) RunSummarizer() types.BatchRunSummarizer {
	return summarizerFunc(func(snap types.RunSnapshot) map[string]any {
		if r.summary != nil {
			select {
			case r.summary <- snap:
			default:
			}
		}
		succeeded, failed := 0, 0
		for _, res := range snap.WorkResults {
			if res == nil {
				continue
			}
			if res.Success {
				succeeded++
			} else {
				failed++
			}
		}
		return map[string]any{"succeeded": succeeded, "failed": failed}
	})
}

type alwaysHealthy struct{}

func (alwaysHealthy) IsHealthy(string) bool { return true }

type summarizerFunc func(types.RunSnapshot) map[string]any

func (f summarizerFunc) RunSummary(snap types.RunSnapshot) map[string]any { return f(snap) }

// succeedingProcessor reports every item as an immediate success.
type succeedingProcessor struct{ processed atomic.Int64 }

func (p *succeedingProcessor) Process(item *types.WorkItem, cfg types.EndpointConfig) types.WorkResult {
	p.processed.Add(1)
	return types.WorkResult{Success: true, Attempts: 1}
}

func writeEndpointFile(t *testing.T, dir string, concurrency int) string {
	t.Helper()
	path := filepath.Join(dir, "endpoints.yaml")
	content := fmt.Sprintf("demo:\n  concurrency: %d\n", concurrency)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestOrchestrator(t *testing.T, endpointsPath, statusRoot string) (*Orchestrator, *StopToken, *statusprovider.MemoryStatusProvider) {
	t.Helper()
	sp := statusprovider.NewMemoryStatusProvider(statusRoot)
	orch, token := New(Options{
		StatusProvider:  sp,
		ConfigFile:      endpointsPath,
		Log:             logging.NewTextSink(0),
		MaxRetries:      2,
		RunSummaryEvery: 20 * time.Millisecond,
	})
	require.NoError(t, orch.Start())
	return orch, token, sp
}

func waitForStatus(t *testing.T, sp *statusprovider.MemoryStatusProvider, batchID int64, want types.BatchStatus) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if status, ok := sp.Status(batchID); ok && status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("batch %d never reached status %q", batchID, want)
}

func TestOrchestratorRunsBatchToCompletion(t *testing.T) {
	dir := t.TempDir()
	endpointsPath := writeEndpointFile(t, dir, 2)
	orch, token, sp := newTestOrchestrator(t, endpointsPath, dir)
	defer func() { orch.RequestStop(token); orch.Join() }()

	batchID := int64(1)
	require.NoError(t, sp.RegisterBatch(batchID, filepath.Join(dir, "out")))

	proc := &succeedingProcessor{}
	req := &testRequest{
		id: batchID,
		items: []*types.WorkItem{
			{FilePath: "a.txt"},
			{FilePath: "b.txt"},
			{FilePath: "c.txt"},
		},
		processor: func() types.WorkItemProcessor { return proc },
	}
	orch.Submit(req)

	waitForStatus(t, sp, batchID, types.BatchDone)
	assert.Equal(t, int64(3), proc.processed.Load())

	summary, ok := sp.RunSummary(batchID)
	require.True(t, ok)
	assert.Equal(t, 3, summary["succeeded"])
	assert.Equal(t, 0, summary["failed"])
}

func TestOrchestratorCancelBatch(t *testing.T) {
	dir := t.TempDir()
	endpointsPath := writeEndpointFile(t, dir, 1)
	orch, token, sp := newTestOrchestrator(t, endpointsPath, dir)
	defer func() { orch.RequestStop(token); orch.Join() }()

	batchID := int64(2)
	require.NoError(t, sp.RegisterBatch(batchID, filepath.Join(dir, "out")))
	sp.Lock()
	err := sp.ChangeStatus(batchID, types.BatchWaiting)
	require.NoError(t, err)
	err = sp.DeleteBatch(batchID)
	require.NoError(t, err)
	sp.Unlock()

	proc := &succeedingProcessor{}
	req := &testRequest{
		id:        batchID,
		items:     []*types.WorkItem{{FilePath: "only.txt"}},
		processor: func() types.WorkItemProcessor { return proc },
	}
	orch.Submit(req)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if proc.processed.Load() != 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, int64(0), proc.processed.Load(), "a batch deleted before dispatch should be skipped entirely")
}

func TestRequestStopIgnoresForeignToken(t *testing.T) {
	dir := t.TempDir()
	endpointsPath := writeEndpointFile(t, dir, 1)
	orch, token, _ := newTestOrchestrator(t, endpointsPath, dir)

	foreign := &StopToken{}
	orch.RequestStop(foreign)
	assert.False(t, orch.acct.IsStopRequested(), "a token other than the creator's must not stop the orchestrator")

	orch.RequestStop(token)
	orch.Join()
	assert.True(t, orch.acct.IsStopRequested())
}
