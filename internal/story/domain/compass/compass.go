// Package compass computes cumulative per-axis scores from a profile's
// recorded choice history.
package compass

import (
	"sort"

	"github.com/mystira/story-engine/internal/story/domain/session"
)

// Scores sums choice deltas per axis across the supplied choice history.
//
// The history is expected to span every session the profile has played. A
// single session's running total only reflects that session's trajectory,
// so callers must never substitute a cached per-session value for this
// derivation. Choices without an axis contribute nothing.
func Scores(choices []session.Choice) map[string]float64 {
	scores := make(map[string]float64)
	for _, choice := range choices {
		if choice.Axis == "" {
			continue
		}
		scores[choice.Axis] += choice.Delta
	}
	return scores
}

// Axes returns the axes present in scores in ascending name order, for
// deterministic iteration and display.
func Axes(scores map[string]float64) []string {
	axes := make([]string, 0, len(scores))
	for axis := range scores {
		axes = append(axes, axis)
	}
	sort.Strings(axes)
	return axes
}
