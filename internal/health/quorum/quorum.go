// Package quorum decides the "actual" chain height from disagreeing nodes.
package quorum

import (
	"fmt"
	"slices"
)

// Range is an inclusive height interval.
type Range struct {
	Lower int
	Upper int
}

// Contains reports whether h lies inside the range.
func (r Range) Contains(h int) bool {
	return h >= r.Lower && h <= r.Upper
}

func (r Range) String() string {
	return fmt.Sprintf("[%d, %d]", r.Lower, r.Upper)
}

// ActualHeightsRange returns the window [h, h+epsilon-1], anchored at one of
// the reported heights, that covers the most heights. On ties the window with
// the lowest anchor wins. Returns nil for no heights.
func ActualHeightsRange(heights []int, epsilon int) *Range {
	if len(heights) == 0 {
		return nil
	}
	epsilon = max(epsilon, 1)

	sorted := slices.Clone(heights)
	slices.Sort(sorted)

	var (
		best      Range
		bestCount int
	)
	for i, lower := range sorted {
		window := Range{Lower: lower, Upper: lower + epsilon - 1}
		count := 0
		for _, h := range sorted[i:] {
			if h > window.Upper {
				break
			}
			count++
		}
		if count > bestCount {
			best, bestCount = window, count
		}
	}
	return &best
}
