package classifier

// Rule is one entry of the rule set, as loaded from TOML. A process
// matches a Rule if its command name is in NameMatches OR its full
// command line matches any pattern in CmdlineMatches.
type Rule struct {
	Group          string   `toml:"group"`
	Subgroup       string   `toml:"subgroup"`
	NameMatches    []string `toml:"name_matches"`
	CmdlineMatches []string `toml:"cmdline_matches"`
}

// ruleFile is the on-disk shape of both the embedded default ruleset
// and a user override file.
type ruleFile struct {
	Rules []Rule `toml:"rules"`
}
