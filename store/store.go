package store

import (
	"context"
	"time"
)

// Edge is a directed causal assertion between two memory items. Uplift and
// SampleSize stay nil until an experiment (or discovery) resolves them.
type Edge struct {
	ID              string
	FromID          uint64
	FromType        string
	ToID            uint64
	ToType          string
	Similarity      float64
	Uplift          *float64
	Confidence      float64
	SampleSize      *int
	EvidenceIDs     []string
	ConfounderScore *float64
	Mechanism       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ExperimentStatus is the lifecycle state of an experiment.
type ExperimentStatus string

const (
	StatusRunning   ExperimentStatus = "running"
	StatusCompleted ExperimentStatus = "completed"
	StatusFailed    ExperimentStatus = "failed"
)

// Experiment is one controlled A/B test. Summary statistics are written once,
// when the experiment completes, and frozen afterwards.
type Experiment struct {
	ID            string
	Hypothesis    string
	TreatmentID   uint64
	ControlID     *uint64
	StartTime     time.Time
	EndTime       *time.Time
	SampleSize    int
	TreatmentMean float64
	ControlMean   float64
	Uplift        float64
	PValue        float64
	CILow         float64
	CIHigh        float64
	Status        ExperimentStatus
}

// Observation is a single outcome data point for a running experiment.
type Observation struct {
	ID           int64
	ExperimentID string
	EpisodeID    uint64
	IsTreatment  bool
	OutcomeValue float64
	OutcomeType  string
	CreatedAt    time.Time
}

// Episode is one historical, non-randomized data point used by causal
// discovery. Covariates records presence/intensity of third-party memories
// during the episode, keyed by memory id.
type Episode struct {
	ID         int64
	FromID     uint64
	ToID       uint64
	Context    []float32
	Treated    bool
	Outcome    float64
	Covariates map[uint64]float64
	CreatedAt  time.Time
}

// Content is a hash-keyed content row; ParentHash links derived content to
// its source for lineage walks.
type Content struct {
	Hash       string
	ParentHash string
	Data       []byte
	CreatedAt  time.Time
}

// EdgeFilter selects edges in ListEdges. Zero values mean "no constraint".
type EdgeFilter struct {
	FromID        *uint64
	ToID          *uint64
	MinConfidence float64
	MinUplift     *float64
	Limit         int
}

// Store is the row-storage boundary. Implementations must use parameterized
// queries and atomic single-row upserts.
type Store interface {
	// UpsertEdge inserts the edge, or overwrites the existing edge keyed by
	// (FromID, ToID). Returns the edge id.
	UpsertEdge(ctx context.Context, e *Edge) (string, error)
	GetEdge(ctx context.Context, id string) (*Edge, error)
	ListEdges(ctx context.Context, f EdgeFilter) ([]*Edge, error)
	DeleteEdges(ctx context.Context, ids []string) error

	CreateExperiment(ctx context.Context, exp *Experiment) error
	GetExperiment(ctx context.Context, id string) (*Experiment, error)
	// CompleteExperiment writes the frozen summary statistics and flips the
	// status, but only if the experiment is still running. Returns false when
	// another completion already won the race.
	CompleteExperiment(ctx context.Context, exp *Experiment) (bool, error)

	// InsertObservation appends an outcome data point, atomically guarded on
	// the experiment still being running. Returns ErrNotRunning otherwise.
	InsertObservation(ctx context.Context, obs *Observation) error
	ListObservations(ctx context.Context, experimentID string) ([]*Observation, error)

	InsertEpisode(ctx context.Context, ep *Episode) error
	ListEpisodes(ctx context.Context, fromID, toID uint64) ([]*Episode, error)

	PutContent(ctx context.Context, c *Content) error
	GetContent(ctx context.Context, hash string) (*Content, error)

	// Counts returns aggregate row counts for the stats surface.
	Counts(ctx context.Context) (*Counts, error)

	Close() error
}

// Counts is an aggregate snapshot used by stats surfaces.
type Counts struct {
	Edges                int
	AvgConfidence        float64
	ExperimentsRunning   int
	ExperimentsCompleted int
	ExperimentsFailed    int
}
