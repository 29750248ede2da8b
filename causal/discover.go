package causal

import (
	"context"
	"sort"

	"github.com/hupe1980/recallgraph/distance"
	"github.com/hupe1980/recallgraph/store"
)

// propensityStrata is the number of propensity bins used by the stratified
// models in DiscoverEffects.
const propensityStrata = 5

// Effect is a discovered causal effect estimate.
type Effect struct {
	EdgeID     string
	FromID     uint64
	ToID       uint64
	Uplift     float64
	Confidence float64
	SampleSize int
	Similarity float64
}

// RecordEpisode stores one historical data point for later discovery.
func (g *Graph) RecordEpisode(ctx context.Context, ep *store.Episode) error {
	return g.store.InsertEpisode(ctx, ep)
}

// DiscoverEffects estimates the causal effect of fromID on toID from the
// stored historical episodes with the doubly-robust estimator
//
//	tau(x) = mu1(x) - mu0(x) + a*(y-mu1(x))/e(x) - (1-a)*(y-mu0(x))/(1-e(x))
//
// where the propensity e(x) is the treated fraction within the episode's
// context stratum (clamped away from 0 and 1) and mu1/mu0 are per-stratum
// outcome means. The estimate stays consistent when either the propensity
// model or the outcome model is correct; it does not collapse to a
// difference in means unless every stratum is perfectly balanced. The
// resulting edge is upserted with mechanism "discovered".
func (g *Graph) DiscoverEffects(ctx context.Context, fromID, toID uint64) (*Effect, error) {
	episodes, err := g.store.ListEpisodes(ctx, fromID, toID)
	if err != nil {
		return nil, err
	}
	if len(episodes) < g.opts.MinSampleSize {
		return nil, ErrInsufficientData
	}

	var hasTreated, hasControl bool
	for _, ep := range episodes {
		if ep.Treated {
			hasTreated = true
		} else {
			hasControl = true
		}
	}
	if !hasTreated || !hasControl {
		return nil, ErrInsufficientData
	}

	scores := contextScores(episodes)
	strata := assignStrata(scores, propensityStrata)

	type stratumModel struct {
		total, treated         int
		sumTreated, sumControl float64
		nTreated, nControl     int
	}
	models := make([]stratumModel, propensityStrata)
	var globalTreatedSum, globalControlSum float64
	var globalTreatedN, globalControlN int
	for i, ep := range episodes {
		m := &models[strata[i]]
		m.total++
		if ep.Treated {
			m.treated++
			m.sumTreated += ep.Outcome
			m.nTreated++
			globalTreatedSum += ep.Outcome
			globalTreatedN++
		} else {
			m.sumControl += ep.Outcome
			m.nControl++
			globalControlSum += ep.Outcome
			globalControlN++
		}
	}
	globalMu1 := globalTreatedSum / float64(globalTreatedN)
	globalMu0 := globalControlSum / float64(globalControlN)

	var tauSum float64
	for i, ep := range episodes {
		m := &models[strata[i]]

		e := clamp(float64(m.treated)/float64(m.total), propensityFloor, propensityCeil)

		// Outcome models fall back to the global arm mean when a stratum
		// has no data for that arm.
		mu1 := globalMu1
		if m.nTreated > 0 {
			mu1 = m.sumTreated / float64(m.nTreated)
		}
		mu0 := globalMu0
		if m.nControl > 0 {
			mu0 = m.sumControl / float64(m.nControl)
		}

		tau := mu1 - mu0
		if ep.Treated {
			tau += (ep.Outcome - mu1) / e
		} else {
			tau -= (ep.Outcome - mu0) / (1 - e)
		}
		tauSum += tau
	}

	n := len(episodes)
	effect := &Effect{
		FromID:     fromID,
		ToID:       toID,
		Uplift:     tauSum / float64(n),
		Confidence: float64(n) / float64(n+2*g.opts.MinSampleSize),
		SampleSize: n,
		Similarity: mean(scores),
	}

	uplift := effect.Uplift
	sampleSize := effect.SampleSize
	edge := &store.Edge{
		FromID:     fromID,
		ToID:       toID,
		Similarity: effect.Similarity,
		Uplift:     &uplift,
		Confidence: effect.Confidence,
		SampleSize: &sampleSize,
		Mechanism:  "discovered",
	}
	edgeID, err := g.AddEdge(ctx, edge)
	if err != nil {
		return nil, err
	}
	effect.EdgeID = edgeID
	return effect, nil
}

// contextScores projects every episode context onto the treated-centroid
// direction via cosine similarity. The score is the stratification variable.
func contextScores(episodes []*store.Episode) []float64 {
	var centroid []float32
	var treated int
	for _, ep := range episodes {
		if !ep.Treated {
			continue
		}
		if centroid == nil {
			centroid = make([]float32, len(ep.Context))
		}
		for i, v := range ep.Context {
			centroid[i] += v
		}
		treated++
	}
	for i := range centroid {
		centroid[i] /= float32(treated)
	}

	scores := make([]float64, len(episodes))
	for i, ep := range episodes {
		scores[i] = float64(1 - distance.Cosine(ep.Context, centroid))
	}
	return scores
}

// assignStrata splits episodes into k equal-frequency bins by score rank.
func assignStrata(scores []float64, k int) []int {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] < scores[order[b]] })

	strata := make([]int, len(scores))
	for rank, idx := range order {
		s := rank * k / len(scores)
		if s >= k {
			s = k - 1
		}
		strata[idx] = s
	}
	return strata
}

// Confounder is a third-party memory correlated with both the treatment and
// the outcome of an edge's episodes.
type Confounder struct {
	MemoryID             uint64
	TreatmentCorrelation float64
	OutcomeCorrelation   float64
	Score                float64
}

// DetectConfounders scans the covariates of an edge's episodes for
// third-party memories whose Pearson correlation with both the treatment
// indicator and the outcome exceeds the configured threshold. The edge's
// confounder score is updated to the strongest candidate found.
func (g *Graph) DetectConfounders(ctx context.Context, edgeID string) ([]Confounder, error) {
	edge, err := g.store.GetEdge(ctx, edgeID)
	if err != nil {
		return nil, err
	}

	episodes, err := g.store.ListEpisodes(ctx, edge.FromID, edge.ToID)
	if err != nil {
		return nil, err
	}
	if len(episodes) < 2 {
		return nil, ErrInsufficientData
	}

	treatment := make([]float64, len(episodes))
	outcome := make([]float64, len(episodes))
	covariateIDs := make(map[uint64]struct{})
	for i, ep := range episodes {
		if ep.Treated {
			treatment[i] = 1
		}
		outcome[i] = ep.Outcome
		for id := range ep.Covariates {
			covariateIDs[id] = struct{}{}
		}
	}

	var candidates []Confounder
	for id := range covariateIDs {
		series := make([]float64, len(episodes))
		for i, ep := range episodes {
			series[i] = ep.Covariates[id] // missing covariate reads as 0
		}

		rT := pearson(series, treatment)
		rO := pearson(series, outcome)
		if absFloat(rT) >= g.opts.ConfounderThreshold && absFloat(rO) >= g.opts.ConfounderThreshold {
			candidates = append(candidates, Confounder{
				MemoryID:             id,
				TreatmentCorrelation: rT,
				OutcomeCorrelation:   rO,
				Score:                (absFloat(rT) + absFloat(rO)) / 2,
			})
		}
	}
	sort.Slice(candidates, func(a, b int) bool {
		if candidates[a].Score != candidates[b].Score {
			return candidates[a].Score > candidates[b].Score
		}
		return candidates[a].MemoryID < candidates[b].MemoryID
	})

	if len(candidates) > 0 {
		score := candidates[0].Score
		edge.ConfounderScore = &score
		if _, err := g.store.UpsertEdge(ctx, edge); err != nil {
			return nil, err
		}
	}
	return candidates, nil
}

func absFloat(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
