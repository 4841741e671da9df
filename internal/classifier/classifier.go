// Package classifier matches a process's command name and full
// command line against a compiled rule set to produce a (group,
// subgroup) tag pair, per spec.md §4.4.
package classifier

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"

	"github.com/pelletier/go-toml/v2"
)

const (
	otherGroup    = "other"
	otherSubgroup = "other"
)

// compiledFamily is one (group, subgroup) rule family after loading:
// its literal name matches (indexed separately in the flat hash) and
// its compiled cmdline regexes, tried in declaration order.
type compiledFamily struct {
	group, subgroup string
	names           map[string]struct{}
	patterns        []*regexp.Regexp
}

// Classifier holds the compiled rule set. It is read-only after
// Load returns, so lookups require no synchronization (spec.md §5).
type Classifier struct {
	exact    map[string][2]string // name -> [group, subgroup]
	families []*compiledFamily
}

// familyKey identifies a rule family by its declared group/subgroup.
type familyKey struct{ group, subgroup string }

// Load compiles the classifier from the embedded default ruleset plus
// an optional user override file. Per spec.md §4.4's load order: the
// default rules are compiled first; userPath (if non-empty) is read
// next, falling back to systemRulesPath if userPath itself doesn't
// exist; a missing file at either location is silent, but a present,
// malformed file aborts loading with an error (the caller is expected
// to treat this as a fatal startup error per spec.md §7).
func Load(defaultTOML []byte, userPath, systemRulesPath string) (*Classifier, error) {
	var def ruleFile
	if err := toml.Unmarshal(defaultTOML, &def); err != nil {
		return nil, fmt.Errorf("classifier: parse embedded default ruleset: %w", err)
	}

	order := make([]familyKey, 0, len(def.Rules))
	index := make(map[familyKey]*compiledFamily, len(def.Rules))
	for _, r := range def.Rules {
		fam := newFamily(r)
		key := familyKey{r.Group, r.Subgroup}
		order = append(order, key)
		index[key] = fam
	}

	userRules, err := loadUserRules(userPath, systemRulesPath)
	if err != nil {
		return nil, err
	}
	for _, r := range userRules {
		key := familyKey{r.Group, r.Subgroup}
		if fam, ok := index[key]; ok {
			fam.merge(r)
			continue
		}
		fam := newFamily(r)
		index[key] = fam
		order = append(order, key)
	}

	c := &Classifier{exact: make(map[string][2]string), families: make([]*compiledFamily, 0, len(order))}
	for _, key := range order {
		fam := index[key]
		c.families = append(c.families, fam)
		for name := range fam.names {
			if _, taken := c.exact[name]; !taken {
				c.exact[name] = [2]string{fam.group, fam.subgroup}
			}
		}
	}
	return c, nil
}

func newFamily(r Rule) *compiledFamily {
	fam := &compiledFamily{group: r.Group, subgroup: r.Subgroup, names: make(map[string]struct{})}
	fam.merge(r)
	return fam
}

func (f *compiledFamily) merge(r Rule) {
	for _, n := range r.NameMatches {
		f.names[n] = struct{}{}
	}
	for _, pat := range r.CmdlineMatches {
		re, err := regexp.Compile(pat)
		if err != nil {
			// A malformed pattern in the embedded default is a
			// programmer error; skip it rather than panic so one bad
			// pattern can't take down classification entirely.
			continue
		}
		f.patterns = append(f.patterns, re)
	}
}

// loadUserRules reads userPath, falling back to systemPath when
// userPath is empty or absent. Returns (nil, nil) when neither file
// is present.
func loadUserRules(userPath, systemPath string) ([]Rule, error) {
	path := userPath
	if path == "" || !fileExists(path) {
		path = systemPath
	}
	if path == "" || !fileExists(path) {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("classifier: read user ruleset %s: %w", path, err)
	}
	var rf ruleFile
	if err := toml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("classifier: parse user ruleset %s: %w", path, err)
	}
	return rf.Rules, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Classify returns the (group, subgroup) for a process, given its
// short command name, full command line, and pid (accepted for
// interface symmetry with spec.md §4.4; the embedded default and
// current user ruleset never match on pid).
func (c *Classifier) Classify(name, cmdline string, pid int) (group, subgroup string) {
	if gs, ok := c.exact[name]; ok {
		return gs[0], gs[1]
	}
	for _, fam := range c.families {
		for _, re := range fam.patterns {
			if re.MatchString(cmdline) {
				return fam.group, fam.subgroup
			}
		}
	}
	return otherGroup, otherSubgroup
}

// Groups returns the sorted, de-duplicated set of group names known to
// the loaded rule set, rendered by the /subgroups introspection
// endpoint.
func (c *Classifier) Groups() []string {
	seen := make(map[string]struct{})
	for _, fam := range c.families {
		seen[fam.group] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for g := range seen {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}
