package promptvault

// Filter selects records by domain, environment and agent type. Empty fields match everything.
type Filter struct {
	Domain      string
	Environment Environment
	AgentType   string
}

// Match reports whether r satisfies every non-empty field of f.
func (f Filter) Match(r PromptRecord) bool {
	if f.Domain != "" && r.Domain != f.Domain {
		return false
	}
	if f.Environment != "" && r.Environment != f.Environment {
		return false
	}
	if f.AgentType != "" && r.AgentType != f.AgentType {
		return false
	}
	return true
}

// Predicate returns f.Match as a function value for Registry.List.
func (f Filter) Predicate() func(PromptRecord) bool { return f.Match }
