package classifier

import "github.com/herakles-io/herakles-proc-mem-exporter/pkg/model"

// SearchMode controls how FilterPolicy treats SearchGroups.
type SearchMode string

const (
	SearchOff     SearchMode = "off"
	SearchInclude SearchMode = "include"
	SearchExclude SearchMode = "exclude"
)

// FilterPolicy is the post-classification record filter of spec.md
// §4.4: applied after classification and before the record reaches
// the AggregationEngine.
type FilterPolicy struct {
	SearchMode    SearchMode
	SearchGroups  map[string]struct{}
	DisableOthers bool
	MinUSSBytes   uint64
}

// NewFilterPolicy builds a FilterPolicy from a group list and the
// other raw config values, converting MinUSSKB to bytes once.
func NewFilterPolicy(mode SearchMode, searchGroups []string, disableOthers bool, minUSSKB int) FilterPolicy {
	set := make(map[string]struct{}, len(searchGroups))
	for _, g := range searchGroups {
		set[g] = struct{}{}
	}
	return FilterPolicy{
		SearchMode:    mode,
		SearchGroups:  set,
		DisableOthers: disableOthers,
		MinUSSBytes:   uint64(minUSSKB) * 1024,
	}
}

// Keep reports whether r survives the filter policy.
func (p FilterPolicy) Keep(r model.ProcessRecord) bool {
	if p.DisableOthers && r.Group == otherGroup && r.Subgroup == otherSubgroup {
		return false
	}
	if r.USSBytes < p.MinUSSBytes {
		return false
	}
	switch p.SearchMode {
	case SearchInclude:
		_, ok := p.SearchGroups[r.Group]
		return ok
	case SearchExclude:
		_, ok := p.SearchGroups[r.Group]
		return !ok
	default:
		return true
	}
}

// Apply filters a slice of records in place, returning the kept subset.
func (p FilterPolicy) Apply(records []model.ProcessRecord) []model.ProcessRecord {
	kept := records[:0]
	for _, r := range records {
		if p.Keep(r) {
			kept = append(kept, r)
		}
	}
	return kept
}
