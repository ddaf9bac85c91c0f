package statusprovider

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/batchkit/pkg/types"
)

func TestRegisterBatchDefaultsBasePath(t *testing.T) {
	p := NewMemoryStatusProvider("/tmp/batches")
	require.NoError(t, p.RegisterBatch(1, ""))
	assert.Equal(t, "/tmp/batches/1", p.BatchBasePath(1))

	status, ok := p.Status(1)
	require.True(t, ok)
	assert.Equal(t, types.BatchWaiting, status)
}

func TestChangeStatusRequiresCallerHeldLock(t *testing.T) {
	p := NewMemoryStatusProvider("/tmp/batches")
	require.NoError(t, p.RegisterBatch(2, ""))

	p.Lock()
	err := p.ChangeStatus(2, types.BatchRunning)
	p.Unlock()
	require.NoError(t, err)

	status, ok := p.Status(2)
	require.True(t, ok)
	assert.Equal(t, types.BatchRunning, status)
}

func TestChangeStatusUnknownBatch(t *testing.T) {
	p := NewMemoryStatusProvider("/tmp/batches")
	p.Lock()
	err := p.ChangeStatus(999, types.BatchRunning)
	p.Unlock()
	assert.ErrorIs(t, err, ErrBatchNotFound)
}

func TestIsDeletedTreatsUnknownBatchAsDeleted(t *testing.T) {
	p := NewMemoryStatusProvider("/tmp/batches")
	p.Lock()
	deleted := p.IsDeleted(404)
	p.Unlock()
	assert.True(t, deleted)
}

// TestWithLockSerializesCheckThenTransition is the atomicity contract
// Lock/Unlock exists for: a concurrent DeleteBatch must never land between
// an IsDeleted check and the ChangeStatus it gates.
func TestWithLockSerializesCheckThenTransition(t *testing.T) {
	p := NewMemoryStatusProvider("/tmp/batches")
	require.NoError(t, p.RegisterBatch(3, ""))

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		WithLock(p, func() {
			if !p.IsDeleted(3) {
				_ = p.ChangeStatus(3, types.BatchRunning)
			}
		})
	}()
	go func() {
		defer wg.Done()
		WithLock(p, func() {
			_ = p.DeleteBatch(3)
		})
	}()
	wg.Wait()

	status, ok := p.Status(3)
	require.True(t, ok)
	assert.Contains(t, []types.BatchStatus{types.BatchRunning, types.BatchDeleted}, status,
		"whichever critical section ran second must observe a consistent prior state, never both transitions applied out of order")
}

func TestSetRunSummaryAndRunSummary(t *testing.T) {
	p := NewMemoryStatusProvider("/tmp/batches")
	require.NoError(t, p.RegisterBatch(4, ""))

	require.NoError(t, p.SetRunSummary(4, map[string]any{"succeeded": 1}))
	summary, ok := p.RunSummary(4)
	require.True(t, ok)
	assert.Equal(t, 1, summary["succeeded"])
}
