package retrieval

import (
	"fmt"
	"strings"
)

// Filter retains every candidate whose score meets the threshold
// (inclusive) in their original ranked order. An empty result is a
// valid outcome, not an error.
func Filter(candidates []Candidate, threshold float64) []Candidate {
	admissible := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Score >= threshold {
			admissible = append(admissible, c)
		}
	}
	return admissible
}

// BuildContext assembles the admissible candidates into the context
// block handed to the completion service: ordered (source, text) pairs.
// An empty slice yields an empty block.
func BuildContext(candidates []Candidate) string {
	parts := make([]string, 0, len(candidates))
	for _, c := range candidates {
		parts = append(parts, fmt.Sprintf("Source: %s\nText: %s", c.SourceID, c.Content))
	}
	return strings.Join(parts, "\n")
}

// Sources lists the source identifiers of the candidates in order.
func Sources(candidates []Candidate) []string {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.SourceID)
	}
	return out
}
