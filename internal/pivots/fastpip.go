package pivots

import (
	"math"
	"sort"

	"alpaca-signal-engine/internal/domain"
)

// FastPIP reduces a bar sequence to at most maxPoints perceptually important
// points using iterative Douglas-Peucker refinement on close prices. It is
// not used for signal detection, only for compact visual summaries.
func FastPIP(bars []domain.Bar, maxPoints int) []domain.Pivot {
	n := len(bars)
	if n == 0 || maxPoints <= 0 {
		return nil
	}
	if maxPoints >= n {
		maxPoints = n
	}

	kept := map[int]bool{0: true, n - 1: true}

	for len(kept) < maxPoints {
		idx, dist := farthestFromKept(bars, kept)
		if idx < 0 || dist == 0 {
			break
		}
		kept[idx] = true
	}

	indices := make([]int, 0, len(kept))
	for i := range kept {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	points := make([]domain.Pivot, 0, len(indices))
	for _, i := range indices {
		t := domain.PivotValley
		if isLocalHigh(bars, i) {
			t = domain.PivotPeak
		}
		points = append(points, pivotAt(bars, i, t))
	}
	return points
}

// farthestFromKept finds the unkept index with the greatest vertical
// distance to the segment between its surrounding kept neighbours.
func farthestFromKept(bars []domain.Bar, kept map[int]bool) (int, float64) {
	bestIdx := -1
	bestDist := 0.0

	anchors := make([]int, 0, len(kept))
	for i := range kept {
		anchors = append(anchors, i)
	}
	sort.Ints(anchors)

	for a := 0; a+1 < len(anchors); a++ {
		lo, hi := anchors[a], anchors[a+1]
		for i := lo + 1; i < hi; i++ {
			d := verticalDistance(bars, lo, hi, i)
			if d > bestDist {
				bestDist = d
				bestIdx = i
			}
		}
	}
	return bestIdx, bestDist
}

func verticalDistance(bars []domain.Bar, lo, hi, i int) float64 {
	span := float64(hi - lo)
	if span == 0 {
		return 0
	}
	frac := float64(i-lo) / span
	interp := bars[lo].Close + frac*(bars[hi].Close-bars[lo].Close)
	return math.Abs(bars[i].Close - interp)
}

func isLocalHigh(bars []domain.Bar, i int) bool {
	left := i > 0 && bars[i].Close >= bars[i-1].Close
	right := i+1 < len(bars) && bars[i].Close >= bars[i+1].Close
	if i == 0 {
		return right
	}
	if i == len(bars)-1 {
		return left
	}
	return left && right
}
