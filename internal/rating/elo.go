// Package rating computes lockout rating updates from ranked contest
// outcomes. Every pair of participants is treated as a two-player Elo
// exchange decided by their relative finishing rank, so the update is
// deterministic and zero-sum for a pair of equally rated players.
package rating

import "math"

// Baseline is the rating an unrated participant competes at.
const Baseline = 1500

// kFactor controls the magnitude of a single pairwise exchange.
const kFactor = 32

// Outcome is one participant's finishing position. Rank is 1-based and
// lower is better; ties share a rank.
type Outcome struct {
	UserID string
	Rank   int
	Rating int
}

// Change is the result of an update for one participant.
type Change struct {
	NewRating int
	Delta     int
}

// Engine computes rating changes. The formula is kept behind this type so
// it can be swapped without touching contest code.
type Engine struct{}

// New returns a rating engine.
func New() *Engine {
	return &Engine{}
}

// Calculate returns the rating change for every participant. outcomes must
// be sorted ascending by rank. A participant's delta is the sum of their
// pairwise exchanges against every other participant.
func (e *Engine) Calculate(outcomes []Outcome) map[string]Change {
	changes := make(map[string]Change, len(outcomes))
	for i, a := range outcomes {
		var delta float64
		for j, b := range outcomes {
			if i == j {
				continue
			}
			expected := 1 / (1 + math.Pow(10, float64(b.Rating-a.Rating)/400))
			actual := 0.5
			switch {
			case a.Rank < b.Rank:
				actual = 1
			case a.Rank > b.Rank:
				actual = 0
			}
			delta += kFactor * (actual - expected)
		}
		d := int(math.Round(delta))
		changes[a.UserID] = Change{NewRating: a.Rating + d, Delta: d}
	}
	return changes
}
