package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/herakles-io/herakles-proc-mem-exporter/pkg/model"
)

func countingRefresh(n *int64, success bool, delay time.Duration) RefreshFunc {
	return func(ctx context.Context) model.Snapshot {
		atomic.AddInt64(n, 1)
		if delay > 0 {
			time.Sleep(delay)
		}
		return model.Snapshot{Success: success, ProcessCount: int(atomic.LoadInt64(n))}
	}
}

func TestFirstGetBlocksUntilRefreshCompletes(t *testing.T) {
	var calls int64
	c := New(time.Hour, countingRefresh(&calls, true, 0), zap.NewNop())

	snap := c.Get(context.Background())
	assert.True(t, snap.Success)
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestWithinTTLServesCachedSnapshotWithoutRefreshing(t *testing.T) {
	var calls int64
	c := New(time.Hour, countingRefresh(&calls, true, 0), zap.NewNop())

	c.Get(context.Background())
	c.Get(context.Background())
	c.Get(context.Background())
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestExpiredTTLTriggersNewRefresh(t *testing.T) {
	var calls int64
	c := New(time.Millisecond, countingRefresh(&calls, true, 0), zap.NewNop())

	c.Get(context.Background())
	time.Sleep(5 * time.Millisecond)
	c.Get(context.Background())
	time.Sleep(20 * time.Millisecond) // the second refresh runs in the background
	assert.Equal(t, int64(2), atomic.LoadInt64(&calls))
}

func TestStaleWhileRefreshServesPreviousDuringInFlightRefresh(t *testing.T) {
	var calls int64
	release := make(chan struct{})
	refresh := func(ctx context.Context) model.Snapshot {
		n := atomic.AddInt64(&calls, 1)
		if n == 2 {
			<-release
		}
		return model.Snapshot{Success: true, ProcessCount: int(n)}
	}
	c := New(time.Millisecond, refresh, zap.NewNop())

	first := c.Get(context.Background())
	require.Equal(t, 1, first.ProcessCount)
	time.Sleep(5 * time.Millisecond)

	var wg sync.WaitGroup
	wg.Add(1)
	var second model.Snapshot
	go func() {
		defer wg.Done()
		second = c.Get(context.Background())
	}()
	time.Sleep(20 * time.Millisecond) // let the second refresh start and block
	assert.True(t, c.Stats().Updating)
	close(release)
	wg.Wait()

	// The second call observed the in-flight refresh and was served the
	// still-published first snapshot rather than waiting for refresh #2.
	assert.Equal(t, 1, second.ProcessCount)
}

func TestFailedRefreshLeavesCurrentUnchanged(t *testing.T) {
	var calls int64
	good := true
	refresh := func(ctx context.Context) model.Snapshot {
		atomic.AddInt64(&calls, 1)
		return model.Snapshot{Success: good, ProcessCount: 42}
	}
	c := New(time.Millisecond, refresh, zap.NewNop())

	first := c.Get(context.Background())
	require.True(t, first.Success)
	require.Equal(t, 42, first.ProcessCount)

	good = false
	time.Sleep(5 * time.Millisecond)
	second := c.Get(context.Background())
	assert.Equal(t, 42, second.ProcessCount) // stale snapshot from before the failure
	time.Sleep(20 * time.Millisecond)        // let the background refresh record its failure
	assert.False(t, c.Stats().LastRefreshSuccess)
}

func TestStatsReportsUpdatingDuringInFlightRefresh(t *testing.T) {
	block := make(chan struct{})
	refresh := func(ctx context.Context) model.Snapshot {
		<-block
		return model.Snapshot{Success: true}
	}
	c := New(time.Hour, refresh, zap.NewNop())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Get(context.Background())
	}()
	time.Sleep(10 * time.Millisecond)
	assert.True(t, c.Stats().Updating)
	close(block)
	wg.Wait()
	assert.False(t, c.Stats().Updating)
}
