// Package cache holds the latest published Snapshot and enforces
// TTL-gated, at-most-one-in-flight refresh with stale-while-refresh
// semantics, per spec.md §4.7. It is adapted from the cache-aside
// pattern of the Redis-backed project/runner cache this repo started
// from, but here the "backend" is the scan pipeline itself rather
// than a remote store, and there is exactly one cached value instead
// of a keyed map.
package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/herakles-io/herakles-proc-mem-exporter/pkg/model"
)

// RefreshFunc produces a fresh Snapshot. Snapshot.Success reports
// whether the refresh should be published; a failed refresh leaves
// the previously published Snapshot in place.
type RefreshFunc func(ctx context.Context) model.Snapshot

// Stats is a point-in-time read of the cache's internal bookkeeping,
// rendered by the metrics collector as the `_cache_update_*` gauges.
type Stats struct {
	LastRefreshSuccess  bool
	LastRefreshDuration time.Duration
	Updating            bool
}

// Cache publishes Snapshots atomically and coalesces concurrent
// refresh triggers into at most one in-flight refresh.
type Cache struct {
	mu            sync.Mutex
	current       *model.Snapshot
	lastRefreshAt time.Time
	inFlight      bool
	doneCh        chan struct{}

	lastRefreshSuccess  bool
	lastRefreshDuration time.Duration

	ttl     time.Duration
	refresh RefreshFunc
	logger  *zap.Logger
}

// New constructs a Cache with the given TTL and refresh function.
func New(ttl time.Duration, refresh RefreshFunc, logger *zap.Logger) *Cache {
	return &Cache{ttl: ttl, refresh: refresh, logger: logger}
}

// Get returns the current Snapshot, triggering a refresh when the TTL
// has elapsed. The very first call ever made blocks until that first
// refresh completes; every subsequent call that finds a refresh
// already running serves the previous Snapshot immediately
// (stale-while-refresh) rather than waiting.
func (c *Cache) Get(ctx context.Context) model.Snapshot {
	c.mu.Lock()
	if c.current != nil && time.Since(c.lastRefreshAt) < c.ttl {
		snap := *c.current
		c.mu.Unlock()
		return snap
	}

	firstEver := c.current == nil
	if c.inFlight {
		if !firstEver {
			snap := *c.current
			c.mu.Unlock()
			return snap
		}
		done := c.doneCh
		c.mu.Unlock()
		<-done
		return c.snapshotOrEmpty()
	}

	c.inFlight = true
	done := make(chan struct{})
	c.doneCh = done
	c.mu.Unlock()

	go c.runRefresh(ctx, done)

	if firstEver {
		<-done
		return c.snapshotOrEmpty()
	}
	c.mu.Lock()
	snap := *c.current
	c.mu.Unlock()
	return snap
}

func (c *Cache) snapshotOrEmpty() model.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return model.Snapshot{Success: false}
	}
	return *c.current
}

func (c *Cache) runRefresh(ctx context.Context, done chan struct{}) {
	defer close(done)
	start := time.Now()
	snap := c.refresh(ctx)
	dur := time.Since(start)

	c.mu.Lock()
	c.lastRefreshDuration = dur
	c.lastRefreshSuccess = snap.Success
	if snap.Success {
		s := snap
		c.current = &s
		c.lastRefreshAt = time.Now()
	} else {
		c.logger.Warn("cache refresh failed; serving stale snapshot", zap.Duration("elapsed", dur))
	}
	c.inFlight = false
	c.mu.Unlock()
}

// Stats reports the cache's internal bookkeeping for observability.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		LastRefreshSuccess:  c.lastRefreshSuccess,
		LastRefreshDuration: c.lastRefreshDuration,
		Updating:            c.inFlight,
	}
}

// LastRefreshSuccessValue, LastRefreshDurationSeconds, and
// UpdatingValue render Stats as the float64 values the Prometheus
// collector emits directly, satisfying metrics.CacheStats.
func (c *Cache) LastRefreshSuccessValue() float64 {
	if c.Stats().LastRefreshSuccess {
		return 1
	}
	return 0
}

func (c *Cache) LastRefreshDurationSeconds() float64 {
	return c.Stats().LastRefreshDuration.Seconds()
}

func (c *Cache) UpdatingValue() float64 {
	if c.Stats().Updating {
		return 1
	}
	return 0
}

// RunBackground periodically calls Get on an interval of its own,
// independent of scrape traffic, so CpuSampler priors and the
// published Snapshot stay warm between scrapes. This is optional per
// spec.md §4.7; callers that only want scrape-driven refresh simply
// never start it. It returns once ctx is cancelled.
func (c *Cache) RunBackground(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Get(ctx)
		}
	}
}
