package grouping

import (
	"cmp"
	"fmt"
	"math/bits"
	"slices"
)

// maxOptimalUsers bounds the exhaustive search of Optimal.
const maxOptimalUsers = 12

// Greedy accepts candidates by descending throughput as long as they are
// disjoint from what was accepted. It falls back to singletons unless the
// greedy result is better on average.
type Greedy struct{}

func (Greedy) Name() string { return PartitionGreedy }

func (Greedy) Partition(cands []candidate, n int) ([]candidate, error) {
	sorted := slices.Clone(cands)
	slices.SortStableFunc(sorted, func(x, y candidate) int {
		return cmp.Compare(y.throughput, x.throughput)
	})
	all := allMask(n)
	var covered uint64
	var picked []candidate
	for _, c := range sorted {
		if c.mask&covered != 0 {
			continue
		}
		picked = append(picked, c)
		covered |= c.mask
		if covered == all {
			break
		}
	}
	singles := singletons(cands)
	if average(picked) <= average(singles) {
		return singles, nil
	}
	return picked, nil
}

// Optimal searches every partition for the best average throughput per
// group. Ties keep the first partition found.
type Optimal struct{}

func (Optimal) Name() string { return PartitionOptimal }

func (Optimal) Partition(cands []candidate, n int) ([]candidate, error) {
	if n > maxOptimalUsers {
		return nil, fmt.Errorf("optimal partition supports at most %d users, got %d", maxOptimalUsers, n)
	}
	// byLowest[i] holds the candidates whose lowest member is user i.
	byLowest := make([][]candidate, n)
	for _, c := range cands {
		i := bits.TrailingZeros64(c.mask)
		byLowest[i] = append(byLowest[i], c)
	}
	all := allMask(n)
	var (
		best    []candidate
		bestAvg = -1.0
		stack   []candidate
	)
	var search func(covered uint64, sum float64)
	search = func(covered uint64, sum float64) {
		if covered == all {
			if avg := sum / float64(len(stack)); avg > bestAvg {
				bestAvg = avg
				best = slices.Clone(stack)
			}
			return
		}
		next := bits.TrailingZeros64(^covered)
		for _, c := range byLowest[next] {
			if c.mask&covered != 0 {
				continue
			}
			stack = append(stack, c)
			search(covered|c.mask, sum+c.throughput)
			stack = stack[:len(stack)-1]
		}
	}
	search(0, 0)
	return best, nil
}

func singletons(cands []candidate) []candidate {
	var out []candidate
	for _, c := range cands {
		if bits.OnesCount64(c.mask) == 1 {
			out = append(out, c)
		}
	}
	return out
}

func average(cs []candidate) float64 {
	if len(cs) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range cs {
		sum += c.throughput
	}
	return sum / float64(len(cs))
}
