// Package model defines the data types shared across the collection,
// classification, caching, and aggregation pipeline: ProcessRecord,
// ClassificationRule, CpuPrior, SubgroupAggregate, and Snapshot.
package model

import "time"

// ProcessRecord describes one live pid observed during a single scan.
type ProcessRecord struct {
	PID        int
	Name       string
	Cmdline    string
	Group      string
	Subgroup   string
	RSSBytes   uint64
	PSSBytes   uint64
	USSBytes   uint64
	CPUTimeSec float64
	CPUPercent float64
}

// MatchKind discriminates how a ClassificationRule matches a process.
type MatchKind int

const (
	// MatchExactName matches against the process's short command name.
	MatchExactName MatchKind = iota
	// MatchCmdlinePattern matches a compiled regular expression against
	// the process's full command line.
	MatchCmdlinePattern
)

// ClassificationRule describes one classification rule. NameMatches
// holds literal command names; CmdlineMatches holds regex source
// strings. The Classifier loads and compiles rules from its own
// TOML-tagged Rule type and does not build ClassificationRule values.
type ClassificationRule struct {
	Group          string
	Subgroup       string
	NameMatches    []string
	CmdlineMatches []string
}

// CpuPrior is the state CpuSampler carries for one pid across scans.
type CpuPrior struct {
	PID            int
	StartTimeTicks uint64
	PrevCPUTicks   uint64
	PrevWallclock  time.Time
}

// RankedBy names which metric produced a TopEntry's rank.
type RankedBy string

const (
	RankedByUSS     RankedBy = "uss"
	RankedByCPUTime RankedBy = "cpu_time"
)

// TopEntry is one ranked member of a subgroup's top-N list for a given
// metric (memory, ranked by USS, or CPU, ranked by cumulative CPU time).
type TopEntry struct {
	Group            string
	Subgroup         string
	RankedBy         RankedBy
	Rank             int
	PID              int
	Name             string
	RSSBytes         uint64
	PSSBytes         uint64
	USSBytes         uint64
	CPUPercent       float64
	CPUTimeSec       float64
	PctOfSubgroupRSS float64
	PctOfSubgroupPSS float64
	PctOfSubgroupUSS float64
	PctOfSubgroupCPU float64
}

// SubgroupAggregate sums the metrics of every ProcessRecord classified
// into a given (Group, Subgroup) pair.
type SubgroupAggregate struct {
	Group         string
	Subgroup      string
	RSSSum        uint64
	PSSSum        uint64
	USSSum        uint64
	CPUPercentSum float64
	CPUTimeSum    float64
	Members       []ProcessRecord
}

// Snapshot is the immutable result of one completed scan + aggregation
// pass. Once published, a Snapshot is never mutated; a scrape handler
// holds a shared reference to it without blocking a concurrent refresh.
type Snapshot struct {
	GeneratedAt     time.Time
	Duration        time.Duration
	PerProcess      []ProcessRecord
	PerSubgroup     []SubgroupAggregate
	TopPerSubgroup  []TopEntry
	Success         bool
	ProcessCount    int
}
