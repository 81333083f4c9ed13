// Package textsim scores textual similarity of two strings on a 0-100
// scale. It is the single fuzzy-equivalence oracle shared by the ingestion
// admission filter and the arbitration engine.
package textsim

import "github.com/agnivade/levenshtein"

// DupThreshold is the score at or above which two questions are treated as
// the same question for suppression and clustering purposes.
const DupThreshold = 50

// Ratio returns a normalized edit-distance similarity of a and b in
// [0, 100], higher meaning more similar. It is symmetric, deterministic and
// pure. The relation `Ratio(a, b) >= DupThreshold` is not transitive.
func Ratio(a, b string) int {
	if a == b {
		return 100
	}
	la := len([]rune(a))
	lb := len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 100
	}
	dist := levenshtein.ComputeDistance(a, b)
	return (longest - dist) * 100 / longest
}
