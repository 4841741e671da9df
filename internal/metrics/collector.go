// Package metrics implements the prometheus.Collector that renders
// the current Cache snapshot as the metric families of spec.md §6,
// in the pull-based MustNewConstMetric style used throughout the
// Prometheus process-exporter ecosystem rather than a hand-rolled
// text writer.
package metrics

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/herakles-io/herakles-proc-mem-exporter/internal/health"
	"github.com/herakles-io/herakles-proc-mem-exporter/pkg/model"
)

var (
	rssDesc = prometheus.NewDesc("herakles_proc_mem_rss_bytes", "Resident set size of a tracked process.",
		[]string{"group", "subgroup", "pid", "name"}, nil)
	pssDesc = prometheus.NewDesc("herakles_proc_mem_pss_bytes", "Proportional set size of a tracked process.",
		[]string{"group", "subgroup", "pid", "name"}, nil)
	ussDesc = prometheus.NewDesc("herakles_proc_mem_uss_bytes", "Unique set size of a tracked process.",
		[]string{"group", "subgroup", "pid", "name"}, nil)
	cpuPercentDesc = prometheus.NewDesc("herakles_proc_mem_cpu_percent", "Instantaneous CPU usage percent of a tracked process.",
		[]string{"group", "subgroup", "pid", "name"}, nil)
	cpuTimeDesc = prometheus.NewDesc("herakles_proc_mem_cpu_time_seconds", "Cumulative CPU time of a tracked process.",
		[]string{"group", "subgroup", "pid", "name"}, nil)

	groupRSSSumDesc = prometheus.NewDesc("herakles_proc_mem_group_rss_sum_bytes", "Summed RSS across a subgroup.",
		[]string{"group", "subgroup"}, nil)
	groupPSSSumDesc = prometheus.NewDesc("herakles_proc_mem_group_pss_sum_bytes", "Summed PSS across a subgroup.",
		[]string{"group", "subgroup"}, nil)
	groupUSSSumDesc = prometheus.NewDesc("herakles_proc_mem_group_uss_sum_bytes", "Summed USS across a subgroup.",
		[]string{"group", "subgroup"}, nil)
	groupCPUTimeSumDesc = prometheus.NewDesc("herakles_proc_mem_group_cpu_time_sum_seconds", "Summed CPU time across a subgroup.",
		[]string{"group", "subgroup"}, nil)

	topRSSDesc = prometheus.NewDesc("herakles_proc_mem_top_rss_bytes", "RSS of a top-ranked process within its subgroup.",
		[]string{"group", "subgroup", "rank", "pid", "name", "ranked_by"}, nil)
	topPSSDesc = prometheus.NewDesc("herakles_proc_mem_top_pss_bytes", "PSS of a top-ranked process within its subgroup.",
		[]string{"group", "subgroup", "rank", "pid", "name", "ranked_by"}, nil)
	topUSSDesc = prometheus.NewDesc("herakles_proc_mem_top_uss_bytes", "USS of a top-ranked process within its subgroup.",
		[]string{"group", "subgroup", "rank", "pid", "name", "ranked_by"}, nil)
	topCPUPercentDesc = prometheus.NewDesc("herakles_proc_mem_top_cpu_percent", "CPU percent of a top-ranked process within its subgroup.",
		[]string{"group", "subgroup", "rank", "pid", "name", "ranked_by"}, nil)

	topPctRSSDesc = prometheus.NewDesc("herakles_proc_mem_top_rss_percent_of_subgroup", "RSS share of the owning subgroup.",
		[]string{"group", "subgroup", "rank", "pid", "name", "ranked_by"}, nil)
	topPctPSSDesc = prometheus.NewDesc("herakles_proc_mem_top_pss_percent_of_subgroup", "PSS share of the owning subgroup.",
		[]string{"group", "subgroup", "rank", "pid", "name", "ranked_by"}, nil)
	topPctUSSDesc = prometheus.NewDesc("herakles_proc_mem_top_uss_percent_of_subgroup", "USS share of the owning subgroup.",
		[]string{"group", "subgroup", "rank", "pid", "name", "ranked_by"}, nil)
	topPctCPUDesc = prometheus.NewDesc("herakles_proc_mem_top_cpu_percent_of_subgroup", "CPU time share of the owning subgroup.",
		[]string{"group", "subgroup", "rank", "pid", "name", "ranked_by"}, nil)

	scrapeDurationDesc = prometheus.NewDesc("herakles_proc_mem_scrape_duration_seconds", "Duration of the most recently published scan.", nil, nil)
	processesTotalDesc = prometheus.NewDesc("herakles_proc_mem_processes_total", "Number of processes in the most recently published snapshot.", nil, nil)

	cacheUpdateDurationDesc = prometheus.NewDesc("herakles_proc_mem_cache_update_duration_seconds", "Duration of the most recent cache refresh.", nil, nil)
	cacheUpdateSuccessDesc  = prometheus.NewDesc("herakles_proc_mem_cache_update_success", "Whether the most recent cache refresh succeeded (1) or not (0).", nil, nil)
	cacheUpdatingDesc       = prometheus.NewDesc("herakles_proc_mem_cache_updating", "Whether a cache refresh is currently in flight.", nil, nil)

	healthBufferFillDesc  = prometheus.NewDesc("herakles_proc_mem_health_buffer_fill_percent", "Fill percent of a tunable read buffer.", []string{"buffer"}, nil)
	healthBufferStatusDesc = prometheus.NewDesc("herakles_proc_mem_health_buffer_status", "Buffer status as a number: 0=ok, 1=warn, 2=critical.", []string{"buffer"}, nil)
)

// SnapshotSource is satisfied by cache.Cache; kept as an interface so
// the collector can be tested without constructing a real cache.
type SnapshotSource interface {
	Get(ctx context.Context) model.Snapshot
}

// CacheStats is satisfied by cache.Cache.Stats.
type CacheStats interface {
	LastRefreshSuccessValue() float64
	LastRefreshDurationSeconds() float64
	UpdatingValue() float64
}

// HealthSource is satisfied by health.Monitor.
type HealthSource interface {
	Get() health.Report
}

// EmitConfig gates which per-process, per-subgroup-sum, and top-N
// metric families Collect renders, mirroring config.Config's
// enable_rss/enable_pss/enable_uss/enable_cpu emission flags
// (spec.md §6). A zero-value EmitConfig emits nothing; New defaults
// every field to true so callers that don't care can omit it.
type EmitConfig struct {
	RSS bool
	PSS bool
	USS bool
	CPU bool
}

// Collector implements prometheus.Collector, reading the current
// Snapshot from its Cache on every Collect call rather than holding
// its own metric state (spec.md's "scrape handlers are non-blocking:
// they only take a shared reference to the current snapshot and
// render").
type Collector struct {
	snapshots SnapshotSource
	cache     CacheStats
	health    HealthSource
	emit      EmitConfig
}

// New constructs a Collector over the given Cache-like collaborators,
// emitting every metric family.
func New(snapshots SnapshotSource, cacheStats CacheStats, healthSource HealthSource) *Collector {
	return NewWithEmitConfig(snapshots, cacheStats, healthSource, EmitConfig{RSS: true, PSS: true, USS: true, CPU: true})
}

// NewWithEmitConfig constructs a Collector that only renders the
// metric families enabled in emit, per the enable_rss/enable_pss/
// enable_uss/enable_cpu config flags.
func NewWithEmitConfig(snapshots SnapshotSource, cacheStats CacheStats, healthSource HealthSource, emit EmitConfig) *Collector {
	return &Collector{snapshots: snapshots, cache: cacheStats, health: healthSource, emit: emit}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- rssDesc
	ch <- pssDesc
	ch <- ussDesc
	ch <- cpuPercentDesc
	ch <- cpuTimeDesc
	ch <- groupRSSSumDesc
	ch <- groupPSSSumDesc
	ch <- groupUSSSumDesc
	ch <- groupCPUTimeSumDesc
	ch <- topRSSDesc
	ch <- topPSSDesc
	ch <- topUSSDesc
	ch <- topCPUPercentDesc
	ch <- topPctRSSDesc
	ch <- topPctPSSDesc
	ch <- topPctUSSDesc
	ch <- topPctCPUDesc
	ch <- scrapeDurationDesc
	ch <- processesTotalDesc
	ch <- cacheUpdateDurationDesc
	ch <- cacheUpdateSuccessDesc
	ch <- cacheUpdatingDesc
	ch <- healthBufferFillDesc
	ch <- healthBufferStatusDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.snapshots.Get(context.Background())
	c.collectPerProcess(ch, snap)
	c.collectPerSubgroup(ch, snap)
	c.collectTop(ch, snap)
	c.collectScrapeStats(ch, snap)
	c.collectCacheStats(ch)
	c.collectHealth(ch)
}

func (c *Collector) collectPerProcess(ch chan<- prometheus.Metric, snap model.Snapshot) {
	for _, r := range snap.PerProcess {
		labels := []string{r.Group, r.Subgroup, pidLabel(r.PID), r.Name}
		if c.emit.RSS {
			ch <- prometheus.MustNewConstMetric(rssDesc, prometheus.GaugeValue, float64(r.RSSBytes), labels...)
		}
		if c.emit.PSS {
			ch <- prometheus.MustNewConstMetric(pssDesc, prometheus.GaugeValue, float64(r.PSSBytes), labels...)
		}
		if c.emit.USS {
			ch <- prometheus.MustNewConstMetric(ussDesc, prometheus.GaugeValue, float64(r.USSBytes), labels...)
		}
		if c.emit.CPU {
			ch <- prometheus.MustNewConstMetric(cpuPercentDesc, prometheus.GaugeValue, r.CPUPercent, labels...)
			ch <- prometheus.MustNewConstMetric(cpuTimeDesc, prometheus.GaugeValue, r.CPUTimeSec, labels...)
		}
	}
}

func (c *Collector) collectPerSubgroup(ch chan<- prometheus.Metric, snap model.Snapshot) {
	for _, g := range snap.PerSubgroup {
		labels := []string{g.Group, g.Subgroup}
		if c.emit.RSS {
			ch <- prometheus.MustNewConstMetric(groupRSSSumDesc, prometheus.GaugeValue, float64(g.RSSSum), labels...)
		}
		if c.emit.PSS {
			ch <- prometheus.MustNewConstMetric(groupPSSSumDesc, prometheus.GaugeValue, float64(g.PSSSum), labels...)
		}
		if c.emit.USS {
			ch <- prometheus.MustNewConstMetric(groupUSSSumDesc, prometheus.GaugeValue, float64(g.USSSum), labels...)
		}
		if c.emit.CPU {
			ch <- prometheus.MustNewConstMetric(groupCPUTimeSumDesc, prometheus.GaugeValue, g.CPUTimeSum, labels...)
		}
	}
}

func (c *Collector) collectTop(ch chan<- prometheus.Metric, snap model.Snapshot) {
	for _, e := range snap.TopPerSubgroup {
		labels := []string{e.Group, e.Subgroup, rankLabel(e.Rank), pidLabel(e.PID), e.Name, string(e.RankedBy)}
		if c.emit.RSS {
			ch <- prometheus.MustNewConstMetric(topRSSDesc, prometheus.GaugeValue, float64(e.RSSBytes), labels...)
			ch <- prometheus.MustNewConstMetric(topPctRSSDesc, prometheus.GaugeValue, e.PctOfSubgroupRSS, labels...)
		}
		if c.emit.PSS {
			ch <- prometheus.MustNewConstMetric(topPSSDesc, prometheus.GaugeValue, float64(e.PSSBytes), labels...)
			ch <- prometheus.MustNewConstMetric(topPctPSSDesc, prometheus.GaugeValue, e.PctOfSubgroupPSS, labels...)
		}
		if c.emit.USS {
			ch <- prometheus.MustNewConstMetric(topUSSDesc, prometheus.GaugeValue, float64(e.USSBytes), labels...)
			ch <- prometheus.MustNewConstMetric(topPctUSSDesc, prometheus.GaugeValue, e.PctOfSubgroupUSS, labels...)
		}
		if c.emit.CPU {
			ch <- prometheus.MustNewConstMetric(topCPUPercentDesc, prometheus.GaugeValue, e.CPUPercent, labels...)
			ch <- prometheus.MustNewConstMetric(topPctCPUDesc, prometheus.GaugeValue, e.PctOfSubgroupCPU, labels...)
		}
	}
}

func (c *Collector) collectScrapeStats(ch chan<- prometheus.Metric, snap model.Snapshot) {
	ch <- prometheus.MustNewConstMetric(scrapeDurationDesc, prometheus.GaugeValue, snap.Duration.Seconds())
	ch <- prometheus.MustNewConstMetric(processesTotalDesc, prometheus.GaugeValue, float64(snap.ProcessCount))
}

func (c *Collector) collectCacheStats(ch chan<- prometheus.Metric) {
	if c.cache == nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(cacheUpdateDurationDesc, prometheus.GaugeValue, c.cache.LastRefreshDurationSeconds())
	ch <- prometheus.MustNewConstMetric(cacheUpdateSuccessDesc, prometheus.GaugeValue, c.cache.LastRefreshSuccessValue())
	ch <- prometheus.MustNewConstMetric(cacheUpdatingDesc, prometheus.GaugeValue, c.cache.UpdatingValue())
}

func (c *Collector) collectHealth(ch chan<- prometheus.Metric) {
	if c.health == nil {
		return
	}
	report := c.health.Get()
	for _, b := range report.Buffers {
		ch <- prometheus.MustNewConstMetric(healthBufferFillDesc, prometheus.GaugeValue, b.FillPercent, b.Name)
		ch <- prometheus.MustNewConstMetric(healthBufferStatusDesc, prometheus.GaugeValue, statusValue(b.Status), b.Name)
	}
}

func pidLabel(pid int) string   { return strconv.Itoa(pid) }
func rankLabel(rank int) string { return strconv.Itoa(rank) }

func statusValue(s health.Status) float64 {
	switch s {
	case health.StatusCritical:
		return 2
	case health.StatusWarn:
		return 1
	default:
		return 0
	}
}
