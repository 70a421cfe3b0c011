package ranker

import (
	"regexp"
	"strings"
)

// Intent is the topical class of a query. It picks the candidate corpus
// pool and the domain guidance appended to the prompt.
type Intent string

const (
	IntentNEC      Intent = "nec"
	IntentWattmonk Intent = "wattmonk"
	IntentGeneral  Intent = "general"
)

// Cheap rule-based matching over the lowercased query. Known precision
// limitation: "policy" or "services" in an unrelated sentence still pulls
// the company corpus into the pool; the score threshold downstream is what
// keeps such matches from grounding an answer.
var (
	necPattern      = regexp.MustCompile(`\bnec\b|national electrical code|nfpa 70|\barticle\s+\d`)
	wattmonkPattern = regexp.MustCompile(`wattmonk|\bpolicy\b|\bsla\b|\bpricing\b|\bservices\b|turnaround`)
)

// ClassifyIntent is a pure function of the lowercased query text.
func ClassifyIntent(query string) Intent {
	s := strings.ToLower(query)
	if necPattern.MatchString(s) {
		return IntentNEC
	}
	if wattmonkPattern.MatchString(s) {
		return IntentWattmonk
	}
	return IntentGeneral
}
