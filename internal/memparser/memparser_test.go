package memparser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const s1Rollup = "Rss:              524288 kB\n" +
	"Pss:              409600 kB\n" +
	"Shared_Clean:          0 kB\n" +
	"Shared_Dirty:          0 kB\n" +
	"Private_Clean:    204800 kB\n" +
	"Private_Dirty:    102400 kB\n" +
	"Referenced:       300000 kB\n"

func TestParseSummaryS1(t *testing.T) {
	mem := ParseSummary([]byte(s1Rollup))
	assert.Equal(t, uint64(524288*1024), mem.RSSBytes)
	assert.Equal(t, uint64(409600*1024), mem.PSSBytes)
	assert.Equal(t, uint64((204800+102400)*1024), mem.USSBytes)
}

func TestParseSummaryMissingPSSDefaultsZero(t *testing.T) {
	mem := ParseSummary([]byte("Rss: 1000 kB\nPrivate_Clean: 200 kB\nPrivate_Dirty: 100 kB\n"))
	assert.Equal(t, uint64(0), mem.PSSBytes)
	assert.Equal(t, uint64(300*1024), mem.USSBytes)
}

func TestParseDetailSumsAcrossBlocks(t *testing.T) {
	detail := "7f0000000000-7f0000001000 r--p 00000000 00:00 0\n" +
		"Rss:              100 kB\nPss:              50 kB\nPrivate_Clean:     10 kB\nPrivate_Dirty:      0 kB\n" +
		"7f0000001000-7f0000002000 rw-p 00000000 00:00 0\n" +
		"Rss:              200 kB\nPss:             200 kB\nPrivate_Clean:      0 kB\nPrivate_Dirty:    200 kB\n"

	mem := ParseDetail([]byte(detail))
	assert.Equal(t, uint64(300*1024), mem.RSSBytes)
	assert.Equal(t, uint64(250*1024), mem.PSSBytes)
	assert.Equal(t, uint64(210*1024), mem.USSBytes)
}

func TestRollupAndDetailAgreeWithinTolerance(t *testing.T) {
	rollup := ParseSummary([]byte(s1Rollup))
	detail := ParseDetail([]byte(s1Rollup)) // single block == rollup-equivalent shape
	assert.Equal(t, rollup, detail)
}

func TestProbeRollupAvailable(t *testing.T) {
	reader := func(pid int) ([]byte, bool, error) { return []byte("Rss: 1 kB\n"), true, nil }
	cap := Probe(reader, 1)
	assert.True(t, cap.RollupAvailable)
}

func TestProbeRollupUnavailable(t *testing.T) {
	reader := func(pid int) ([]byte, bool, error) { return nil, false, nil }
	cap := Probe(reader, 1)
	assert.False(t, cap.RollupAvailable)
}
