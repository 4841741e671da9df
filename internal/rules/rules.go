// Package rules embeds the default subgroup classification ruleset.
// Its literal contents are a representative starter set; the
// production ruleset is an external, operator-supplied concern
// (spec.md §1, §4.4).
package rules

import _ "embed"

//go:embed default_subgroups.toml
var DefaultSubgroupsTOML []byte
