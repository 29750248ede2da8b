// Package rerank turns similarity hits and causal signals into a single
// ranked candidate list.
//
// Scoring is pure: the reranker holds no state beyond its weights, so
// concurrent calls need no coordination. Retrieval orchestration lives in the
// engine; this package only orders what it is given.
package rerank

import (
	"math"
	"sort"
)

// Default utility weights. Callers tune these per workload.
const (
	DefaultAlpha = 1.0
	DefaultBeta  = 0.5
	DefaultGamma = 0.1
)

// VectorOps is the similarity capability the reranker depends on. A SIMD or
// GPU-accelerated implementation is just another value of this interface.
type VectorOps interface {
	CosineSimilarity(a, b []float32) float64
	BatchSimilarity(query []float32, vectors [][]float32) []float64
}

// StdVectorOps is the portable software implementation of VectorOps.
type StdVectorOps struct{}

func (StdVectorOps) CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func (s StdVectorOps) BatchSimilarity(query []float32, vectors [][]float32) []float64 {
	sims := make([]float64, len(vectors))
	for i, v := range vectors {
		sims[i] = s.CosineSimilarity(query, v)
	}
	return sims
}

// Candidate is one similarity hit entering the reranker.
type Candidate struct {
	ID         uint64
	Type       string
	Content    string
	Vector     []float32
	Similarity float64

	// SearchRank is the candidate's position in the original similarity
	// search; it breaks utility ties so output is deterministic.
	SearchRank int

	// LatencyCost is the caller-estimated cost of materializing this
	// candidate (e.g. cold storage reads), in the same unit space as the
	// other score terms.
	LatencyCost float64
}

// CausalSignal is the resolved causal evidence for a candidate.
type CausalSignal struct {
	EdgeID     string
	Uplift     float64
	Confidence float64
}

// Scored is a candidate with its utility decomposition.
type Scored struct {
	Candidate
	Uplift     float64
	Confidence float64
	Utility    float64
}

// Options configures the utility weights.
type Options struct {
	// Alpha weighs similarity, Beta weighs causal uplift, Gamma penalizes
	// latency cost.
	Alpha float64
	Beta  float64
	Gamma float64

	// MinConfidence, when > 0, drops candidates whose causal confidence is
	// below it. Zero keeps every candidate, scoring unresolved ones with
	// uplift 0.
	MinConfidence float64
}

// Reranker scores candidates with U = alpha*similarity + beta*uplift -
// gamma*latencyCost.
type Reranker struct {
	opts Options
}

// New creates a reranker with the default weights.
func New(optFns ...func(o *Options)) *Reranker {
	opts := Options{
		Alpha: DefaultAlpha,
		Beta:  DefaultBeta,
		Gamma: DefaultGamma,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Reranker{opts: opts}
}

// WithWeights overrides the three utility weights.
func WithWeights(alpha, beta, gamma float64) func(o *Options) {
	return func(o *Options) {
		o.Alpha = alpha
		o.Beta = beta
		o.Gamma = gamma
	}
}

// WithMinConfidence enables confidence filtering.
func WithMinConfidence(min float64) func(o *Options) {
	return func(o *Options) { o.MinConfidence = min }
}

// Rerank scores every candidate against its causal signal and returns the
// top k by utility. Candidates without a signal score with uplift 0 and
// confidence 0 instead of being excluded. Equal utilities keep the original
// search order.
func (r *Reranker) Rerank(candidates []Candidate, signals map[uint64]CausalSignal, k int) []Scored {
	scored := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		signal := signals[c.ID]
		if r.opts.MinConfidence > 0 && signal.Confidence < r.opts.MinConfidence {
			continue
		}

		scored = append(scored, Scored{
			Candidate:  c,
			Uplift:     signal.Uplift,
			Confidence: signal.Confidence,
			Utility:    r.opts.Alpha*c.Similarity + r.opts.Beta*signal.Uplift - r.opts.Gamma*c.LatencyCost,
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Utility != scored[j].Utility {
			return scored[i].Utility > scored[j].Utility
		}
		return scored[i].SearchRank < scored[j].SearchRank
	})

	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored
}
