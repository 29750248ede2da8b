package provenance

import "sort"

// coverageSet maps a chunk index to the requirements it satisfies.
type coverageSet struct {
	chunk     int
	covers    map[string]struct{}
	relevance float64
}

// greedyHittingSet selects chunk indexes so every coverable requirement is
// covered by at least one selected chunk: repeatedly take the chunk covering
// the most still-uncovered requirements, ties broken by higher relevance,
// then by lower index for determinism. A final reverse prune drops picks made
// redundant by later ones, keeping the selection locally minimal.
// Requirements no chunk covers are returned as unsatisfied.
func greedyHittingSet(sets []coverageSet, requirements []string) (selected []int, unsatisfied []string) {
	uncovered := make(map[string]struct{}, len(requirements))
	for _, r := range requirements {
		uncovered[r] = struct{}{}
	}

	for len(uncovered) > 0 {
		best := -1
		bestGain := 0
		bestRelevance := 0.0

		for _, s := range sets {
			gain := 0
			for r := range s.covers {
				if _, ok := uncovered[r]; ok {
					gain++
				}
			}
			if gain == 0 {
				continue
			}
			if gain > bestGain || (gain == bestGain && s.relevance > bestRelevance) {
				best = s.chunk
				bestGain = gain
				bestRelevance = s.relevance
			}
		}

		if best == -1 {
			break
		}

		for _, s := range sets {
			if s.chunk != best {
				continue
			}
			for r := range s.covers {
				delete(uncovered, r)
			}
		}
		selected = append(selected, best)
	}

	// A greedy pick can become redundant once later picks cover the same
	// requirements. Prune in reverse selection order: drop any chunk whose
	// requirements are all covered by the rest of the selection, so removing
	// any remaining chunk leaves at least one requirement uncovered.
	coversBy := make(map[int]map[string]struct{}, len(sets))
	for _, s := range sets {
		coversBy[s.chunk] = s.covers
	}
	for i := len(selected) - 1; i >= 0; i-- {
		redundant := true
		for r := range coversBy[selected[i]] {
			elsewhere := false
			for j, c := range selected {
				if j == i {
					continue
				}
				if _, ok := coversBy[c][r]; ok {
					elsewhere = true
					break
				}
			}
			if !elsewhere {
				redundant = false
				break
			}
		}
		if redundant {
			selected = append(selected[:i], selected[i+1:]...)
		}
	}

	for _, r := range requirements {
		if _, ok := uncovered[r]; ok {
			unsatisfied = append(unsatisfied, r)
		}
	}
	sort.Ints(selected)
	return selected, unsatisfied
}
