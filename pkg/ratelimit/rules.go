package ratelimit

import (
	"strings"
	"time"
)

// Rule maps a request path pattern to a rate-limit bucket. Exact rules
// match the whole path; prefix rules match path families.
type Rule struct {
	// Name identifies the bucket in cache keys and stats
	Name string
	// Pattern is the exact path or path prefix to match
	Pattern string
	// Prefix selects prefix matching instead of exact matching
	Prefix bool
	// Limit is the base number of requests allowed per window
	Limit int
	// Window is the counting window length
	Window time.Duration
}

// DefaultRules returns the bucket table, most specific first. The final
// entry is the catch-all default.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "login", Pattern: "/auth/login", Limit: 5, Window: 300 * time.Second},
		{Name: "register", Pattern: "/auth/register", Limit: 3, Window: 300 * time.Second},
		{Name: "auth", Pattern: "/auth/", Prefix: true, Limit: 10, Window: time.Minute},
		{Name: "admin", Pattern: "/admin/", Prefix: true, Limit: 50, Window: time.Minute},
		{Name: "api", Pattern: "/api/", Prefix: true, Limit: 100, Window: time.Minute},
		{Name: "default", Pattern: "", Prefix: true, Limit: 60, Window: time.Minute},
	}
}

// MatchRule returns the first rule matching the path. Rules are evaluated
// in order, so exact entries must precede their prefix families.
func MatchRule(rules []Rule, path string) Rule {
	for _, rule := range rules {
		if rule.Prefix {
			if strings.HasPrefix(path, rule.Pattern) {
				return rule
			}
		} else if path == rule.Pattern {
			return rule
		}
	}
	// Unreachable with DefaultRules; a custom table without a catch-all
	// falls back to the default bucket.
	return Rule{Name: "default", Limit: 60, Window: time.Minute}
}
