// Package cpusampler implements the CPU-delta state machine: cumulative
// user+system ticks are converted to a percent-of-one-core figure by
// diffing against the prior observation of the same pid, detecting pid
// reuse via the kernel's own process start-time field.
package cpusampler

import (
	"sync"
	"time"

	"github.com/herakles-io/herakles-proc-mem-exporter/pkg/model"
)

// shard holds one slice of the pid -> CpuPrior map, each guarded by
// its own mutex so unrelated pids never contend (spec.md §9's
// "sharded map with atomic snapshot swap"; writers still lock their
// shard, but since exactly one worker ever touches a given pid within
// a scan, contention only occurs across different pids hashing to the
// same shard).
type shard struct {
	mu      sync.Mutex
	priors  map[int]model.CpuPrior
	touched map[int]bool
}

// Sampler carries CpuPrior state across scans. TickHZ is the kernel
// clock-tick rate used to convert ticks to seconds; NCPU bounds the
// clamp on cpu_percent (100 * ncpu is the ceiling for a fully busy
// multi-core process).
type Sampler struct {
	shards []*shard
	tickHZ float64
	ncpu   int
}

// New constructs a Sampler with the given shard count (typically the
// scan's configured parallelism), tick rate, and logical CPU count.
func New(shards int, tickHZ float64, ncpu int) *Sampler {
	if shards < 1 {
		shards = 1
	}
	s := &Sampler{shards: make([]*shard, shards), tickHZ: tickHZ, ncpu: ncpu}
	for i := range s.shards {
		s.shards[i] = &shard{priors: make(map[int]model.CpuPrior), touched: make(map[int]bool)}
	}
	return s
}

func (s *Sampler) shardFor(pid int) *shard {
	idx := pid % len(s.shards)
	if idx < 0 {
		idx += len(s.shards)
	}
	return s.shards[idx]
}

// Observe computes cpu_time_seconds and cpu_percent for one pid given
// its current cumulative ticks, start-time ticks, and the wallclock
// timestamp of this observation. It is safe to call concurrently for
// different pids; concurrent calls for the same pid are not
// supported (the Scanner guarantees each pid is handled by exactly
// one worker per scan).
func (s *Sampler) Observe(pid int, utimeTicks, stimeTicks, startTimeTicks uint64, now time.Time) (cpuTimeSec, cpuPercent float64) {
	totalTicks := utimeTicks + stimeTicks
	cpuTimeSec = float64(totalTicks) / s.tickHZ

	sh := s.shardFor(pid)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.touched[pid] = true

	prior, ok := sh.priors[pid]
	if !ok || prior.StartTimeTicks != startTimeTicks {
		// First observation, or pid reuse: no valid delta.
		sh.priors[pid] = model.CpuPrior{
			PID: pid, StartTimeTicks: startTimeTicks,
			PrevCPUTicks: totalTicks, PrevWallclock: now,
		}
		return cpuTimeSec, 0
	}

	elapsed := now.Sub(prior.PrevWallclock).Seconds()
	if elapsed <= 0 {
		// Wallclock moved backward or didn't advance: report 0 rather
		// than divide by a non-positive interval.
		sh.priors[pid] = model.CpuPrior{
			PID: pid, StartTimeTicks: startTimeTicks,
			PrevCPUTicks: totalTicks, PrevWallclock: now,
		}
		return cpuTimeSec, 0
	}

	tickDelta := float64(totalTicks) - float64(prior.PrevCPUTicks)
	if tickDelta < 0 {
		tickDelta = 0
	}
	pct := 100 * (tickDelta / s.tickHZ) / elapsed
	pct = clamp(pct, 0, 100*float64(maxInt(s.ncpu, 1)))

	sh.priors[pid] = model.CpuPrior{
		PID: pid, StartTimeTicks: startTimeTicks,
		PrevCPUTicks: totalTicks, PrevWallclock: now,
	}
	return cpuTimeSec, pct
}

// GC drops any prior whose pid was not Observe()'d since the last GC
// call, per spec.md §4.3's "after the scan, any prior whose pid was
// not observed in this pass is dropped." Call once at the end of every
// scan.
func (s *Sampler) GC() {
	for _, sh := range s.shards {
		sh.mu.Lock()
		for pid := range sh.priors {
			if !sh.touched[pid] {
				delete(sh.priors, pid)
			}
		}
		sh.touched = make(map[int]bool)
		sh.mu.Unlock()
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
