// Package scanner orchestrates one full scan pass: enumerate pids,
// fan out per-pid work across a bounded worker pool, and assemble the
// resulting ProcessRecords into a Snapshot, per spec.md §4.5.
package scanner

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/herakles-io/herakles-proc-mem-exporter/internal/aggregation"
	"github.com/herakles-io/herakles-proc-mem-exporter/internal/classifier"
	"github.com/herakles-io/herakles-proc-mem-exporter/internal/cpusampler"
	"github.com/herakles-io/herakles-proc-mem-exporter/internal/memparser"
	"github.com/herakles-io/herakles-proc-mem-exporter/internal/procsource"
	"github.com/herakles-io/herakles-proc-mem-exporter/pkg/model"
)

// Config carries the tunables the Scanner needs beyond its
// collaborators.
type Config struct {
	Parallelism int
	Aggregation aggregation.Config
	Filter      classifier.FilterPolicy
}

// Scanner ties together a ProcSource, Classifier, MemoryParser
// capability, and CpuSampler to produce one Snapshot per call to
// Scan. All collaborators are explicit dependencies (spec.md §9's
// "process-wide state -> explicit dependency-injected context"); the
// Scanner holds no hidden singletons.
type Scanner struct {
	source     procsource.Source
	classifier *classifier.Classifier
	sampler    *cpusampler.Sampler
	rollupOK   bool
	cfg        Config
	logger     *zap.Logger

	permWarned sync.Once
}

// New constructs a Scanner. rollupAvailable is the one-shot
// capability probe result from memparser.Probe, decided once at
// startup per spec.md §4.2.
func New(source procsource.Source, cls *classifier.Classifier, sampler *cpusampler.Sampler, rollupAvailable bool, cfg Config, logger *zap.Logger) *Scanner {
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	return &Scanner{source: source, classifier: cls, sampler: sampler, rollupOK: rollupAvailable, cfg: cfg, logger: logger}
}

// Scan performs one full pass: list pids, fan out per-pid reads across
// a semaphore-bounded pool of cfg.Parallelism workers, apply the
// filter policy, and hand the result to the aggregation engine.
func (s *Scanner) Scan(ctx context.Context) model.Snapshot {
	start := time.Now()
	s.permWarned = sync.Once{} // permission errors are logged once per scan

	pids, err := s.source.ListPIDs()
	if err != nil {
		s.logger.Error("scan: failed to enumerate pids", zap.Error(err))
		return model.Snapshot{GeneratedAt: start, Duration: time.Since(start), Success: false}
	}

	records := s.collect(ctx, pids, start)
	kept := s.cfg.Filter.Apply(records)
	subgroups, top := aggregation.Aggregate(kept, s.cfg.Aggregation)
	s.sampler.GC()

	return model.Snapshot{
		GeneratedAt:    start,
		Duration:       time.Since(start),
		PerProcess:     kept,
		PerSubgroup:    subgroups,
		TopPerSubgroup: top,
		Success:        true,
		ProcessCount:   len(kept),
	}
}

// collect fans the per-pid work for pids out across a bounded pool,
// returning every record successfully produced (dropping pids whose
// reads failed with ErrMissing, silently, per spec.md §7).
func (s *Scanner) collect(ctx context.Context, pids []int, observedAt time.Time) []model.ProcessRecord {
	sem := semaphore.NewWeighted(int64(s.cfg.Parallelism))
	var mu sync.Mutex
	var wg sync.WaitGroup
	records := make([]model.ProcessRecord, 0, len(pids))

	for _, pid := range pids {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context cancelled: stop dispatching further work.
			break
		}
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			defer sem.Release(1)

			rec, ok := s.collectOne(pid, observedAt)
			if !ok {
				return
			}
			mu.Lock()
			records = append(records, rec)
			mu.Unlock()
		}(pid)
	}
	wg.Wait()
	return records
}

// collectOne performs the full per-pid pipeline: name, cmdline,
// classification, memory parse, CPU sample. Any Missing read drops
// the pid silently; a Permission error is logged once per scan (not
// per pid) and the pid is dropped; Malformed content also drops the
// pid without aborting the scan.
func (s *Scanner) collectOne(pid int, observedAt time.Time) (model.ProcessRecord, bool) {
	name, err := s.source.ReadName(pid)
	if err != nil {
		s.reportReadErr(err)
		return model.ProcessRecord{}, false
	}
	cmdline, err := s.source.ReadCmdline(pid)
	if err != nil {
		s.reportReadErr(err)
		return model.ProcessRecord{}, false
	}

	group, subgroup := s.classifier.Classify(name, cmdline, pid)

	mem, err := s.readMemory(pid)
	if err != nil {
		s.reportReadErr(err)
		return model.ProcessRecord{}, false
	}

	stat, err := s.source.ReadCPUStat(pid)
	if err != nil {
		s.reportReadErr(err)
		return model.ProcessRecord{}, false
	}
	cpuTimeSec, cpuPercent := s.sampler.Observe(pid, stat.UtimeTicks, stat.StimeTicks, stat.StartTimeTicks, observedAt)

	return model.ProcessRecord{
		PID: pid, Name: name, Cmdline: cmdline, Group: group, Subgroup: subgroup,
		RSSBytes: mem.RSSBytes, PSSBytes: mem.PSSBytes, USSBytes: mem.USSBytes,
		CPUTimeSec: cpuTimeSec, CPUPercent: cpuPercent,
	}, true
}

// readMemory tries the consolidated summary first when the
// capability probe found it available, falling back to the detailed
// file either when the probe found it unavailable globally or when
// this specific pid's summary read reports !ok (spec.md §4.2's
// "runtime fallback is permitted if the preferred path returns
// Missing for a specific pid").
func (s *Scanner) readMemory(pid int) (memparser.Memory, error) {
	if s.rollupOK {
		raw, ok, err := s.source.ReadMemorySummary(pid)
		if err != nil {
			return memparser.Memory{}, err
		}
		if ok {
			return memparser.ParseSummary(raw), nil
		}
	}
	raw, err := s.source.ReadMemoryDetail(pid)
	if err != nil {
		return memparser.Memory{}, err
	}
	return memparser.ParseDetail(raw), nil
}

func (s *Scanner) reportReadErr(err error) {
	if errors.Is(err, procsource.ErrPermission) {
		s.permWarned.Do(func() {
			s.logger.Warn("scan: permission denied reading process files; some pids will be dropped", zap.Error(err))
		})
	}
	// ErrMissing and ErrMalformed are expected/absorbed per spec.md §7
	// and are never logged per-occurrence.
}
