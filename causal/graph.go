package causal

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/recallgraph/store"
)

const (
	// DefaultMinSampleSize is the minimum number of episodes or observations
	// required before any estimate is attempted.
	DefaultMinSampleSize = 10

	// DefaultConfounderThreshold is the absolute Pearson correlation above
	// which a covariate counts as correlated with treatment or outcome.
	DefaultConfounderThreshold = 0.3

	// Propensity clamp bounds. Extreme propensities blow up the inverse
	// weighting terms of the doubly-robust estimator.
	propensityFloor = 0.05
	propensityCeil  = 0.95
)

// Options configures a Graph.
type Options struct {
	// MinSampleSize gates CalculateUplift and DiscoverEffects.
	MinSampleSize int

	// ConfounderThreshold is the correlation cutoff for DetectConfounders.
	ConfounderThreshold float64
}

// DefaultOptions contains the default options for the graph.
var DefaultOptions = Options{
	MinSampleSize:       DefaultMinSampleSize,
	ConfounderThreshold: DefaultConfounderThreshold,
}

// Graph is the causal-edge graph over a row store.
type Graph struct {
	store store.Store
	opts  Options
}

// New creates a new causal graph backed by s.
func New(s store.Store, optFns ...func(o *Options)) *Graph {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MinSampleSize <= 0 {
		opts.MinSampleSize = DefaultMinSampleSize
	}
	if opts.ConfounderThreshold <= 0 {
		opts.ConfounderThreshold = DefaultConfounderThreshold
	}
	return &Graph{store: s, opts: opts}
}

// AddEdge upserts an edge keyed by (FromID, ToID) and returns its id. A new
// edge without an id gets a generated one; upserting an existing pair keeps
// the stored id.
func (g *Graph) AddEdge(ctx context.Context, e *store.Edge) (string, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	return g.store.UpsertEdge(ctx, e)
}

// GetEdge fetches one edge by id.
func (g *Graph) GetEdge(ctx context.Context, id string) (*store.Edge, error) {
	return g.store.GetEdge(ctx, id)
}

// ExperimentSpec registers a new experiment.
type ExperimentSpec struct {
	Hypothesis  string
	TreatmentID uint64
	ControlID   *uint64
}

// CreateExperiment registers a running experiment and returns it.
func (g *Graph) CreateExperiment(ctx context.Context, spec ExperimentSpec) (*store.Experiment, error) {
	exp := &store.Experiment{
		ID:          uuid.New().String(),
		Hypothesis:  spec.Hypothesis,
		TreatmentID: spec.TreatmentID,
		ControlID:   spec.ControlID,
		StartTime:   time.Now().UTC(),
		Status:      store.StatusRunning,
	}
	if err := g.store.CreateExperiment(ctx, exp); err != nil {
		return nil, err
	}
	return exp, nil
}

// RecordObservation appends one outcome data point to a running experiment.
// The store rejects the insert atomically once the experiment has completed
// or failed, so observations can never land after the statistics are frozen.
func (g *Graph) RecordObservation(ctx context.Context, obs *store.Observation) error {
	err := g.store.InsertObservation(ctx, obs)
	if errors.Is(err, store.ErrNotRunning) {
		exp, gerr := g.store.GetExperiment(ctx, obs.ExperimentID)
		if gerr != nil {
			return gerr
		}
		return &ErrExperimentNotRunning{ID: exp.ID, Status: exp.Status}
	}
	return err
}

// CalculateUplift completes an experiment: sample means per arm, two-sample
// uplift, standard error from pooled variance, a two-tailed Student-t
// p-value, and a 95% confidence interval. Completion is a one-way transition
// resolved by a compare-and-swap on the experiment status; losers of the race
// and later callers get the frozen result back, never a recomputation.
func (g *Graph) CalculateUplift(ctx context.Context, experimentID string) (*store.Experiment, error) {
	exp, err := g.store.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	if exp.Status == store.StatusCompleted {
		return exp, nil
	}
	if exp.Status != store.StatusRunning {
		return nil, &ErrExperimentNotRunning{ID: exp.ID, Status: exp.Status}
	}

	observations, err := g.store.ListObservations(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	var treatment, control []float64
	for _, obs := range observations {
		if obs.IsTreatment {
			treatment = append(treatment, obs.OutcomeValue)
		} else {
			control = append(control, obs.OutcomeValue)
		}
	}
	if len(observations) < g.opts.MinSampleSize || len(treatment) < 2 || len(control) < 2 {
		return nil, ErrInsufficientData
	}

	tMean := mean(treatment)
	cMean := mean(control)
	uplift := tMean - cMean
	se := pooledStandardError(
		sampleVariance(treatment, tMean), len(treatment),
		sampleVariance(control, cMean), len(control),
	)

	var pValue float64
	switch {
	case se > 0:
		t := uplift / se
		pValue = tTestPValue(t, len(treatment)+len(control)-2)
	case uplift != 0:
		pValue = 0
	default:
		pValue = 1
	}

	now := time.Now().UTC()
	exp.EndTime = &now
	exp.SampleSize = len(observations)
	exp.TreatmentMean = tMean
	exp.ControlMean = cMean
	exp.Uplift = uplift
	exp.PValue = pValue
	exp.CILow = uplift - 1.96*se
	exp.CIHigh = uplift + 1.96*se
	exp.Status = store.StatusCompleted

	won, err := g.store.CompleteExperiment(ctx, exp)
	if err != nil {
		return nil, err
	}
	if !won {
		// Another completion raced us; return its frozen result.
		return g.store.GetExperiment(ctx, experimentID)
	}
	return exp, nil
}

// ResolveEdge copies a completed experiment's frozen statistics into an edge
// and records the experiment as evidence.
func (g *Graph) ResolveEdge(ctx context.Context, edgeID, experimentID string) (*store.Edge, error) {
	exp, err := g.store.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	if exp.Status != store.StatusCompleted {
		return nil, &ErrExperimentNotRunning{ID: exp.ID, Status: exp.Status}
	}

	edge, err := g.store.GetEdge(ctx, edgeID)
	if err != nil {
		return nil, err
	}

	uplift := exp.Uplift
	sampleSize := exp.SampleSize
	edge.Uplift = &uplift
	edge.SampleSize = &sampleSize
	edge.Confidence = clamp(1-exp.PValue, 0, 1)
	edge.Mechanism = "experiment"
	if !containsString(edge.EvidenceIDs, experimentID) {
		edge.EvidenceIDs = append(edge.EvidenceIDs, experimentID)
	}

	if _, err := g.store.UpsertEdge(ctx, edge); err != nil {
		return nil, err
	}
	return edge, nil
}

func containsString(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

// EffectFilter selects edges in QueryCausalEffects.
type EffectFilter struct {
	FromID        *uint64
	ToID          *uint64
	MinConfidence float64
	MinUplift     *float64
	Limit         int
}

// QueryCausalEffects returns edges passing the confidence/uplift floor,
// most confident first.
func (g *Graph) QueryCausalEffects(ctx context.Context, f EffectFilter) ([]*store.Edge, error) {
	return g.store.ListEdges(ctx, store.EdgeFilter{
		FromID:        f.FromID,
		ToID:          f.ToID,
		MinConfidence: f.MinConfidence,
		MinUplift:     f.MinUplift,
		Limit:         f.Limit,
	})
}

// PrunePolicy selects edges eligible for removal.
type PrunePolicy struct {
	// ConfidenceFloor removes edges whose confidence fell below it.
	ConfidenceFloor float64

	// MaxAge removes edges not updated within the window. Zero disables.
	MaxAge time.Duration

	// MinSampleSize removes resolved edges with fewer samples. Zero disables;
	// edges with no sample size yet are kept.
	MinSampleSize int
}

// PruneEdges removes edges matching the policy and returns how many were
// removed. Invoked by an external scheduler, never by queries.
func (g *Graph) PruneEdges(ctx context.Context, policy PrunePolicy) (int, error) {
	edges, err := g.store.ListEdges(ctx, store.EdgeFilter{})
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	var doomed []string
	for _, e := range edges {
		switch {
		case e.Confidence < policy.ConfidenceFloor:
			doomed = append(doomed, e.ID)
		case policy.MaxAge > 0 && now.Sub(e.UpdatedAt) > policy.MaxAge:
			doomed = append(doomed, e.ID)
		case policy.MinSampleSize > 0 && e.SampleSize != nil && *e.SampleSize < policy.MinSampleSize:
			doomed = append(doomed, e.ID)
		}
	}
	if len(doomed) == 0 {
		return 0, nil
	}
	if err := g.store.DeleteEdges(ctx, doomed); err != nil {
		return 0, err
	}
	return len(doomed), nil
}

// Stats is a read-only snapshot of graph health.
type Stats struct {
	Edges                int
	AvgConfidence        float64
	ExperimentsRunning   int
	ExperimentsCompleted int
	ExperimentsFailed    int
}

// Stats collects current graph statistics.
func (g *Graph) Stats(ctx context.Context) (*Stats, error) {
	counts, err := g.store.Counts(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Edges:                counts.Edges,
		AvgConfidence:        counts.AvgConfidence,
		ExperimentsRunning:   counts.ExperimentsRunning,
		ExperimentsCompleted: counts.ExperimentsCompleted,
		ExperimentsFailed:    counts.ExperimentsFailed,
	}, nil
}

// FailExperiment marks a running experiment failed, releasing it from the
// running set without statistics.
func (g *Graph) FailExperiment(ctx context.Context, experimentID string) error {
	exp, err := g.store.GetExperiment(ctx, experimentID)
	if err != nil {
		return err
	}
	if exp.Status != store.StatusRunning {
		return &ErrExperimentNotRunning{ID: exp.ID, Status: exp.Status}
	}

	now := time.Now().UTC()
	exp.EndTime = &now
	exp.Status = store.StatusFailed

	won, err := g.store.CompleteExperiment(ctx, exp)
	if err != nil {
		return err
	}
	if !won {
		return errors.New("experiment already completed")
	}
	return nil
}
