package evidence

import "strings"

// Rule ties a factual claim keyword to a predicate that decides whether the
// gathered evidence supports it. Supported is fail-closed: when in doubt,
// return false and let the draft be flagged.
type Rule struct {
	Claim     string
	Supported func(bundles []Bundle) bool
}

// Checker scans generated narrative for factual claims that the evidence
// does not back up.
type Checker struct {
	rules []Rule
}

// NewChecker builds a checker from the given rules. With no rules it uses
// the default set.
func NewChecker(rules ...Rule) *Checker {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Checker{rules: rules}
}

// Check returns the claims present in text that no bundle supports. An empty
// result means the draft passed. No evidence at all means every detected
// claim is unsupported.
func (c *Checker) Check(text string, bundles []Bundle) []string {
	lowered := strings.ToLower(text)
	var unsupported []string
	for _, r := range c.rules {
		if !strings.Contains(lowered, r.Claim) {
			continue
		}
		if len(bundles) == 0 || !r.Supported(bundles) {
			unsupported = append(unsupported, r.Claim)
		}
	}
	return unsupported
}

// DefaultRules covers the claims drafts most often fabricate: delivery
// failures, filtering, email auth, throttling, and service incidents.
func DefaultRules() []Rule {
	return []Rule{
		{Claim: "bounce", Supported: func(bundles []Bundle) bool {
			return totalBounced(bundles) > 0 || strings.Contains(searchText(bundles), "bounce")
		}},
		{Claim: "quarantine", Supported: keywordSupport("quarantine")},
		{Claim: "dmarc", Supported: keywordSupport("dmarc")},
		{Claim: "spf", Supported: keywordSupport("spf")},
		{Claim: "rate limit", Supported: func(bundles []Bundle) bool {
			text := searchText(bundles)
			return strings.Contains(text, "rate limit") || strings.Contains(text, "rate_limit") || strings.Contains(text, "429")
		}},
		{Claim: "auth failed", Supported: func(bundles []Bundle) bool {
			text := searchText(bundles)
			return strings.Contains(text, "auth failed") || strings.Contains(text, "auth_failed") || strings.Contains(text, "authentication fail")
		}},
		{Claim: "workflow disabled", Supported: func(bundles []Bundle) bool {
			text := searchText(bundles)
			return strings.Contains(text, "workflow disabled") || strings.Contains(text, "workflow_disabled")
		}},
		{Claim: "outage", Supported: func(bundles []Bundle) bool {
			for _, b := range bundles {
				if b.ObservedIncident {
					return true
				}
			}
			text := searchText(bundles)
			return strings.Contains(text, "outage") || strings.Contains(text, "incident")
		}},
	}
}

func keywordSupport(keyword string) func(bundles []Bundle) bool {
	return func(bundles []Bundle) bool {
		return strings.Contains(searchText(bundles), keyword)
	}
}
