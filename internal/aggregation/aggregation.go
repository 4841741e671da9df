// Package aggregation groups filtered process records by (group,
// subgroup), computes subgroup sums, and selects top-N members per
// subgroup by USS (memory) and by cumulative CPU time, per spec.md
// §4.6.
package aggregation

import (
	"sort"

	"github.com/herakles-io/herakles-proc-mem-exporter/pkg/model"
)

const (
	otherGroup    = "other"
	otherSubgroup = "other"
)

// Config carries the top-N limits spec.md §4.6 needs.
type Config struct {
	TopNSubgroup int
	TopNOthers   int
}

// Aggregate groups records and builds per-subgroup sums plus top-N
// entries, returning them in a deterministic order (sorted by group
// then subgroup) so repeated runs over identical inputs produce
// byte-identical output modulo cpu_percent.
func Aggregate(records []model.ProcessRecord, cfg Config) ([]model.SubgroupAggregate, []model.TopEntry) {
	type key struct{ group, subgroup string }
	groups := make(map[key]*model.SubgroupAggregate)
	order := make([]key, 0)

	for _, r := range records {
		k := key{r.Group, r.Subgroup}
		agg, ok := groups[k]
		if !ok {
			agg = &model.SubgroupAggregate{Group: r.Group, Subgroup: r.Subgroup}
			groups[k] = agg
			order = append(order, k)
		}
		agg.RSSSum += r.RSSBytes
		agg.PSSSum += r.PSSBytes
		agg.USSSum += r.USSBytes
		agg.CPUPercentSum += r.CPUPercent
		agg.CPUTimeSum += r.CPUTimeSec
		agg.Members = append(agg.Members, r)
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].group != order[j].group {
			return order[i].group < order[j].group
		}
		return order[i].subgroup < order[j].subgroup
	})

	subgroups := make([]model.SubgroupAggregate, 0, len(order))
	top := make([]model.TopEntry, 0)
	for _, k := range order {
		agg := groups[k]
		subgroups = append(subgroups, *agg)

		limit := cfg.TopNSubgroup
		if k.group == otherGroup && k.subgroup == otherSubgroup {
			limit = cfg.TopNOthers
		}
		top = append(top, topEntriesForSubgroup(*agg, limit)...)
	}
	return subgroups, top
}

func topEntriesForSubgroup(agg model.SubgroupAggregate, topN int) []model.TopEntry {
	entries := make([]model.TopEntry, 0, 2*topN)
	entries = append(entries, rankBy(agg, topN, model.RankedByUSS, byUSSDesc)...)
	entries = append(entries, rankBy(agg, topN, model.RankedByCPUTime, byCPUTimeDesc)...)
	return entries
}

func byUSSDesc(a, b model.ProcessRecord) bool {
	if a.USSBytes != b.USSBytes {
		return a.USSBytes > b.USSBytes
	}
	return a.PID < b.PID
}

func byCPUTimeDesc(a, b model.ProcessRecord) bool {
	if a.CPUTimeSec != b.CPUTimeSec {
		return a.CPUTimeSec > b.CPUTimeSec
	}
	return a.PID < b.PID
}

func rankBy(agg model.SubgroupAggregate, topN int, rankedBy model.RankedBy, less func(a, b model.ProcessRecord) bool) []model.TopEntry {
	if topN <= 0 || len(agg.Members) == 0 {
		return nil
	}
	members := make([]model.ProcessRecord, len(agg.Members))
	copy(members, agg.Members)
	sort.Slice(members, func(i, j int) bool { return less(members[i], members[j]) })

	k := topN
	if k > len(members) {
		k = len(members)
	}
	out := make([]model.TopEntry, 0, k)
	for i := 0; i < k; i++ {
		m := members[i]
		out = append(out, model.TopEntry{
			Group: agg.Group, Subgroup: agg.Subgroup, RankedBy: rankedBy, Rank: i + 1, PID: m.PID, Name: m.Name,
			RSSBytes: m.RSSBytes, PSSBytes: m.PSSBytes, USSBytes: m.USSBytes,
			CPUPercent: m.CPUPercent, CPUTimeSec: m.CPUTimeSec,
			PctOfSubgroupRSS: pct(m.RSSBytes, agg.RSSSum),
			PctOfSubgroupPSS: pct(m.PSSBytes, agg.PSSSum),
			PctOfSubgroupUSS: pct(m.USSBytes, agg.USSSum),
			PctOfSubgroupCPU: pctFloat(m.CPUTimeSec, agg.CPUTimeSum),
		})
	}
	return out
}

func pct(part, whole uint64) float64 {
	if whole == 0 {
		return 0
	}
	return 100 * float64(part) / float64(whole)
}

func pctFloat(part, whole float64) float64 {
	if whole == 0 {
		return 0
	}
	return 100 * part / whole
}
