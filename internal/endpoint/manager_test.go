package endpoint

// ============================================================================
// Endpoint Manager Test File
// Purpose: Verify pull-based consumption, graceful stop, and name accessors.
// ============================================================================

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ChuLiYu/batchkit/internal/logging"
	"github.com/ChuLiYu/batchkit/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource is an in-memory WorkSource driven entirely by test code: it
// hands out items from a slice and records every success/failure callback.
type fakeSource struct {
	mu        sync.Mutex
	items     []*types.WorkItem
	retired   map[string]bool
	successes []string
	failures  []string
	done      chan struct{}
	doneOnce  sync.Once
}

func newFakeSource(items []*types.WorkItem) *fakeSource {
	return &fakeSource{
		items:   items,
		retired: make(map[string]bool),
		done:    make(chan struct{}),
	}
}

func (f *fakeSource) StealWork(managerName, language string) (*types.WorkItem, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.retired[managerName] {
		return nil, false
	}
	if len(f.items) == 0 {
		f.doneOnce.Do(func() { close(f.done) })
		return nil, false
	}
	item := f.items[0]
	f.items = f.items[1:]
	return item, true
}

func (f *fakeSource) NotifyWorkSuccess(filepath types.WorkItemID, managerName string, result types.WorkResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.successes = append(f.successes, filepath)
}

func (f *fakeSource) NotifyWorkFailure(filepath types.WorkItemID, managerName string, result types.WorkResult) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, filepath)
	return false
}

// fakeProcessor always succeeds unless the file path is in failPaths.
type fakeProcessor struct {
	failPaths map[string]bool
	processed atomic.Int64
}

func (p *fakeProcessor) Process(item *types.WorkItem, cfg types.EndpointConfig) types.WorkResult {
	p.processed.Add(1)
	if p.failPaths[item.FilePath] {
		return types.WorkResult{Success: false, CanRetry: false, Attempts: 1}
	}
	return types.WorkResult{Success: true, Attempts: 1}
}

func TestManagerProcessesAllItemsThenStopsOnSentinel(t *testing.T) {
	items := []*types.WorkItem{
		{FilePath: "a.wav"},
		{FilePath: "b.wav"},
		{FilePath: "c.wav"},
	}
	source := newFakeSource(items)
	processor := &fakeProcessor{failPaths: map[string]bool{"b.wav": true}}

	mgr := NewManager(Config{
		Name:         "HotswapGen1_demo",
		EndpointName: "demo",
		Concurrency:  2,
		Source:       source,
		Processor:    processor,
		Log:          logging.NewTextSink(slog.LevelDebug),
	})

	mgr.Start()

	select {
	case <-source.done:
	case <-time.After(2 * time.Second):
		t.Fatal("manager never drained the fake source")
	}

	mgr.RequestStop()

	assert.Equal(t, int64(3), processor.processed.Load())
	assert.ElementsMatch(t, []string{"a.wav", "c.wav"}, source.successes)
	assert.ElementsMatch(t, []string{"b.wav"}, source.failures)
}

func TestManagerNameAndEndpointName(t *testing.T) {
	mgr := NewManager(Config{
		Name:         "HotswapGen2_en-us",
		EndpointName: "en-us",
		Concurrency:  1,
		Source:       newFakeSource(nil),
		Processor:    &fakeProcessor{},
		Log:          logging.NewTextSink(slog.LevelDebug),
	})
	require.Equal(t, "HotswapGen2_en-us", mgr.Name())
	require.Equal(t, "en-us", mgr.EndpointName())
}

func TestManagerRequestStopIsIdempotent(t *testing.T) {
	mgr := NewManager(Config{
		Name:         "HotswapGen1_demo",
		EndpointName: "demo",
		Concurrency:  1,
		Source:       newFakeSource(nil),
		Processor:    &fakeProcessor{},
		Log:          logging.NewTextSink(slog.LevelDebug),
	})
	mgr.Start()
	mgr.RequestStop()
	mgr.RequestStop() // must not deadlock or panic
	assert.True(t, mgr.IsStopRequested())
}
