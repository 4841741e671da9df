// Package memparser extracts RSS/PSS/USS from the raw content of a
// process's consolidated memory-mapping summary (smaps_rollup) or, as
// a fallback, its detailed per-mapping file (smaps).
package memparser

import (
	"bufio"
	"bytes"
	"strconv"
)

// Memory holds the three byte counts this exporter tracks.
type Memory struct {
	RSSBytes uint64
	PSSBytes uint64
	USSBytes uint64
}

// ParseSummary parses a consolidated mapping summary (smaps_rollup):
// a single "Rss:", "Pss:", "Private_Clean:" and "Private_Dirty:" line
// each, already aggregated across all mappings by the kernel.
// USS = Private_Clean + Private_Dirty. Missing fields default to 0;
// PSS in particular may legitimately be absent on kernels without
// CONFIG_MEM_SOFT_DIRTY.
func ParseSummary(raw []byte) Memory {
	fields := sumFields(raw)
	return Memory{
		RSSBytes: fields["Rss"],
		PSSBytes: fields["Pss"],
		USSBytes: fields["Private_Clean"] + fields["Private_Dirty"],
	}
}

// ParseDetail parses the full per-mapping file (smaps), summing the
// same four fields across every mapping block in the file.
func ParseDetail(raw []byte) Memory {
	fields := sumFields(raw)
	return Memory{
		RSSBytes: fields["Rss"],
		PSSBytes: fields["Pss"],
		USSBytes: fields["Private_Clean"] + fields["Private_Dirty"],
	}
}

// sumFields scans every line of raw for "<Key>:   <N> kB" and sums N
// (converted to bytes) per key. This is correct for both the
// single-block rollup file and the multi-block detail file: in the
// detail file each mapping contributes its own Rss/Pss/Private_Clean/
// Private_Dirty line, and summing every line across all blocks is
// exactly the fallback aggregation spec.md describes.
func sumFields(raw []byte) map[string]uint64 {
	out := map[string]uint64{
		"Rss": 0, "Pss": 0, "Private_Clean": 0, "Private_Dirty": 0,
	}
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		line := sc.Bytes()
		key, kb, ok := parseKBLine(line)
		if !ok {
			continue
		}
		if _, tracked := out[key]; !tracked {
			continue
		}
		out[key] += kb * 1024
	}
	return out
}

// parseKBLine parses a line of the form "Key:   1234 kB" and returns
// (Key, 1234, true). Lines not matching that shape return ok=false.
func parseKBLine(line []byte) (string, uint64, bool) {
	colon := bytes.IndexByte(line, ':')
	if colon < 0 {
		return "", 0, false
	}
	key := string(bytes.TrimSpace(line[:colon]))
	rest := bytes.Fields(line[colon+1:])
	if len(rest) == 0 {
		return "", 0, false
	}
	v, err := strconv.ParseUint(string(rest[0]), 10, 64)
	if err != nil {
		return "", 0, false
	}
	return key, v, true
}

// Capability records whether ReadMemorySummary (smaps_rollup) is
// available on this kernel, probed once at startup against a known
// pid per spec.md §4.2 and §9's "one-shot capability probe" note.
type Capability struct {
	RollupAvailable bool
}

// Probe determines rollup availability by invoking summaryReader
// against selfPID once. A per-pid runtime fallback to the detail file
// remains permitted even when RollupAvailable is true, for pids whose
// individual rollup read reports !ok.
func Probe(summaryReader func(pid int) (raw []byte, ok bool, err error), selfPID int) Capability {
	_, ok, err := summaryReader(selfPID)
	return Capability{RollupAvailable: err == nil && ok}
}
