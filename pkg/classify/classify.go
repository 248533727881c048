package classify

import (
	"regexp"
	"strings"
)

// TaskCategory is a closed set. Every query maps to exactly one category,
// with CategoryGeneral as the fallback when no pattern matches.
type TaskCategory string

const (
	CategoryCodeAnalysis TaskCategory = "code_analysis"
	CategoryAnalytics    TaskCategory = "analytics"
	CategoryPlanning     TaskCategory = "planning"
	CategoryQuickLookup  TaskCategory = "quick_lookup"
	CategoryGeneral      TaskCategory = "general"
)

func (c TaskCategory) String() string {
	return string(c)
}

// Classification is the result of classifying one query. Reason is shown to
// the user, so it names the signal that matched rather than internals.
type Classification struct {
	Category TaskCategory `json:"category"`
	Reason   string       `json:"reason"`
}

type rule struct {
	category TaskCategory
	pattern  *regexp.Regexp
	reason   string
}

// Rules are checked in order; the first match wins. Code beats analytics
// beats planning beats lookup, so "generate a SQL query for deployment
// frequency" still lands on code generation.
var rules = []rule{
	{
		category: CategoryCodeAnalysis,
		pattern:  regexp.MustCompile(`(?i)\b(sql|cypher|query|queries|select\s+|schema|code|script|function|regex|snippet)\b`),
		reason:   "query or code generation detected",
	},
	{
		category: CategoryAnalytics,
		pattern:  regexp.MustCompile(`(?i)\b(dora|metric|metrics|deployment frequency|lead time|change failure|mttr|restore|anomal(y|ies)|trend|incident|failure rate|velocity|throughput)\b`),
		reason:   "engineering metrics analysis detected",
	},
	{
		category: CategoryPlanning,
		pattern:  regexp.MustCompile(`(?i)\b(plan|planning|allocate|allocation|assign|staffing|capacity|workload|roadmap|expert|best suited|who should|recommend)\b`),
		reason:   "planning or workload reasoning detected",
	},
	{
		category: CategoryQuickLookup,
		pattern:  regexp.MustCompile(`(?i)^\s*(who is|what is|when did|where is|list|show me|how many)\b`),
		reason:   "quick factual lookup detected",
	},
}

// Classify maps a raw query to a task category. It is a pure function:
// the same input always yields the same category and reason.
func Classify(query string) Classification {
	q := strings.TrimSpace(query)
	for _, r := range rules {
		if r.pattern.MatchString(q) {
			return Classification{Category: r.category, Reason: r.reason}
		}
	}
	return Classification{Category: CategoryGeneral, Reason: "no specific signal, using general reasoning"}
}

// Categories lists every category in precedence order, fallback last.
func Categories() []TaskCategory {
	return []TaskCategory{
		CategoryCodeAnalysis,
		CategoryAnalytics,
		CategoryPlanning,
		CategoryQuickLookup,
		CategoryGeneral,
	}
}
