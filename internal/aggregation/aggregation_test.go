package aggregation

import (
	"testing"

	"github.com/herakles-io/herakles-proc-mem-exporter/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postgresRecords() []model.ProcessRecord {
	return []model.ProcessRecord{
		{PID: 1234, Name: "postgres", Group: "db", Subgroup: "postgres", USSBytes: 300, RSSBytes: 300, PSSBytes: 300, CPUTimeSec: 30},
		{PID: 1235, Name: "postgres", Group: "db", Subgroup: "postgres", USSBytes: 150, RSSBytes: 150, PSSBytes: 150, CPUTimeSec: 20},
		{PID: 1236, Name: "postgres", Group: "db", Subgroup: "postgres", USSBytes: 100, RSSBytes: 100, PSSBytes: 100, CPUTimeSec: 10},
	}
}

func TestS3TopNAndPercentages(t *testing.T) {
	subgroups, top := Aggregate(postgresRecords(), Config{TopNSubgroup: 3, TopNOthers: 3})
	require.Len(t, subgroups, 1)
	assert.Equal(t, uint64(550), subgroups[0].USSSum)

	// top holds the uss-ranked list followed by the cpu_time-ranked
	// list for this subgroup, in that order (see topEntriesForSubgroup).
	require.Len(t, top, 6) // 3 mem + 3 cpu

	byRankUSS := map[int]model.TopEntry{}
	for _, e := range top[:3] {
		byRankUSS[e.Rank] = e
	}
	assert.Equal(t, 1234, byRankUSS[1].PID)
	assert.InDelta(t, 54.5, byRankUSS[1].PctOfSubgroupUSS, 0.05)
	assert.Equal(t, 1235, byRankUSS[2].PID)
	assert.InDelta(t, 27.3, byRankUSS[2].PctOfSubgroupUSS, 0.05)
	assert.Equal(t, 1236, byRankUSS[3].PID)
	assert.InDelta(t, 18.2, byRankUSS[3].PctOfSubgroupUSS, 0.05)
}

func TestInvariantSubgroupSumsMatchMembers(t *testing.T) {
	records := append(postgresRecords(), model.ProcessRecord{
		PID: 99, Name: "nginx", Group: "web", Subgroup: "nginx", USSBytes: 50, RSSBytes: 60, PSSBytes: 55, CPUTimeSec: 1,
	})
	subgroups, _ := Aggregate(records, Config{TopNSubgroup: 3, TopNOthers: 3})
	require.Len(t, subgroups, 2)

	for _, agg := range subgroups {
		var wantUSS, wantRSS, wantPSS uint64
		var wantCPU float64
		for _, m := range agg.Members {
			wantUSS += m.USSBytes
			wantRSS += m.RSSBytes
			wantPSS += m.PSSBytes
			wantCPU += m.CPUTimeSec
		}
		assert.Equal(t, wantUSS, agg.USSSum)
		assert.Equal(t, wantRSS, agg.RSSSum)
		assert.Equal(t, wantPSS, agg.PSSSum)
		assert.Equal(t, wantCPU, agg.CPUTimeSum)
	}
}

func TestTieBreakBySmallerPID(t *testing.T) {
	records := []model.ProcessRecord{
		{PID: 20, Group: "g", Subgroup: "s", USSBytes: 100, CPUTimeSec: 5},
		{PID: 10, Group: "g", Subgroup: "s", USSBytes: 100, CPUTimeSec: 5},
	}
	_, top := Aggregate(records, Config{TopNSubgroup: 2, TopNOthers: 2})
	require.Len(t, top, 4)
	assert.Equal(t, 10, top[0].PID) // rank 1 of memory list
	assert.Equal(t, 20, top[1].PID)
}

func TestZeroSumAvoidsDivideByZero(t *testing.T) {
	records := []model.ProcessRecord{{PID: 1, Group: "g", Subgroup: "s", USSBytes: 0, CPUTimeSec: 0}}
	_, top := Aggregate(records, Config{TopNSubgroup: 1, TopNOthers: 1})
	require.NotEmpty(t, top)
	for _, e := range top {
		assert.Equal(t, 0.0, e.PctOfSubgroupUSS)
		assert.Equal(t, 0.0, e.PctOfSubgroupCPU)
	}
}

func TestOtherBucketUsesTopNOthers(t *testing.T) {
	records := []model.ProcessRecord{
		{PID: 1, Group: "other", Subgroup: "other", USSBytes: 300, CPUTimeSec: 1},
		{PID: 2, Group: "other", Subgroup: "other", USSBytes: 200, CPUTimeSec: 1},
		{PID: 3, Group: "other", Subgroup: "other", USSBytes: 100, CPUTimeSec: 1},
	}
	_, top := Aggregate(records, Config{TopNSubgroup: 10, TopNOthers: 1})
	// 1 uss-rank entry + 1 cpu-rank entry = 2 total for the capped "other" bucket.
	assert.Len(t, top, 2)
}

func TestEmptyRecordsProduceEmptySnapshot(t *testing.T) {
	subgroups, top := Aggregate(nil, Config{TopNSubgroup: 5, TopNOthers: 5})
	assert.Empty(t, subgroups)
	assert.Empty(t, top)
}

func TestDeterministicAcrossRepeatedRuns(t *testing.T) {
	records := postgresRecords()
	s1, t1 := Aggregate(records, Config{TopNSubgroup: 3, TopNOthers: 3})
	s2, t2 := Aggregate(records, Config{TopNSubgroup: 3, TopNOthers: 3})
	assert.Equal(t, s1, s2)
	assert.Equal(t, t1, t2)
}
