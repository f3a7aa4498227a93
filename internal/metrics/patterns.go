package metrics

import (
	"sort"

	"github.com/kozaktomas/meter-lab/internal/database"
)

// maxPatternExamples bounds the details kept per error category.
const maxPatternExamples = 3

// ErrorPattern is one error category with a few example details.
type ErrorPattern struct {
	Category string   `json:"category"`
	Count    int      `json:"count"`
	Examples []string `json:"examples,omitempty"`
}

// ErrorPatterns groups corrections by category, most frequent first. Ties
// keep first-seen order. Examples are the first non-empty details.
func ErrorPatterns(corrections []database.Correction) []ErrorPattern {
	var out []ErrorPattern
	index := make(map[string]int)
	for _, c := range corrections {
		i, ok := index[c.ErrorCategory]
		if !ok {
			i = len(out)
			index[c.ErrorCategory] = i
			out = append(out, ErrorPattern{Category: c.ErrorCategory})
		}
		out[i].Count++
		if c.Details != "" && len(out[i].Examples) < maxPatternExamples {
			out[i].Examples = append(out[i].Examples, c.Details)
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Count > out[b].Count })
	return out
}
