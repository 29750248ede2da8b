package rerank

// DiverseOptions configures SelectDiverse.
type DiverseOptions struct {
	// Lambda trades relevance for diversity: 1 is pure relevance, 0 ignores
	// the query after the first pick.
	Lambda float64

	// K caps the number of selections; 0 selects the whole pool.
	K int

	// Ops computes similarities; nil falls back to StdVectorOps.
	Ops VectorOps
}

// SelectDiverse applies Maximal Marginal Relevance: it repeatedly picks the
// unselected candidate maximizing
//
//	lambda*sim(candidate, query) - (1-lambda)*max(sim(candidate, selected))
//
// until k candidates are chosen or the pool is exhausted. Ties keep the
// earlier candidate.
func SelectDiverse(candidates []Candidate, queryEmbedding []float32, opts DiverseOptions) []Candidate {
	ops := opts.Ops
	if ops == nil {
		ops = StdVectorOps{}
	}
	k := opts.K
	if k <= 0 || k > len(candidates) {
		k = len(candidates)
	}
	if k == 0 {
		return nil
	}

	vectors := make([][]float32, len(candidates))
	for i, c := range candidates {
		vectors[i] = c.Vector
	}
	querySims := ops.BatchSimilarity(queryEmbedding, vectors)

	selected := make([]Candidate, 0, k)
	selectedIdx := make([]int, 0, k)
	used := make([]bool, len(candidates))

	for len(selected) < k {
		best := -1
		bestScore := 0.0
		for i := range candidates {
			if used[i] {
				continue
			}

			maxToSelected := 0.0
			for j, sIdx := range selectedIdx {
				sim := ops.CosineSimilarity(candidates[i].Vector, vectors[sIdx])
				if j == 0 || sim > maxToSelected {
					maxToSelected = sim
				}
			}

			score := opts.Lambda * querySims[i]
			if len(selectedIdx) > 0 {
				score -= (1 - opts.Lambda) * maxToSelected
			}

			if best < 0 || score > bestScore {
				best = i
				bestScore = score
			}
		}
		if best < 0 {
			break
		}
		used[best] = true
		selectedIdx = append(selectedIdx, best)
		selected = append(selected, candidates[best])
	}
	return selected
}
