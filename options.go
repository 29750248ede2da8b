package recallgraph

import (
	"log/slog"
	"time"

	"github.com/hupe1980/recallgraph/blobstore"
	"github.com/hupe1980/recallgraph/hnsw"
	"github.com/hupe1980/recallgraph/provenance"
	"github.com/hupe1980/recallgraph/rerank"
	"github.com/hupe1980/recallgraph/resource"
)

const (
	// DefaultOversample is the multiple of k fetched from the index before
	// causal reranking.
	DefaultOversample = 4

	// DefaultMaxParallelEmbed bounds concurrent embedding calls during batch
	// adds.
	DefaultMaxParallelEmbed = 8
)

type options struct {
	logger           *Logger
	metricsCollector MetricsCollector
	hnswOptions      []func(o *hnsw.Options)
	rerankOptions    []func(o *rerank.Options)
	oversample       int
	maxParallelEmbed int
	diversityLambda  float64
	diversityEnabled bool
	snapshotStore    blobstore.Store
	snapshotName     string
	snapshotCodec    hnsw.Codec
	archiveStore     blobstore.Store
	ledger           provenance.Ledger
	resourceConfig   *resource.Config
	rebuildInterval  time.Duration
}

// Option configures Engine constructor behavior.
//
// Today options primarily exist to avoid exploding the API surface
// (e.g. snapshot-specific constructor variants).
type Option func(*options)

// WithHNSWOptions forwards options to the underlying index (M, EF, metric,
// rebuild threshold, random seed).
func WithHNSWOptions(optFns ...func(o *hnsw.Options)) Option {
	return func(o *options) {
		o.hnswOptions = append(o.hnswOptions, optFns...)
	}
}

// WithRerankOptions forwards options to the utility reranker (weights,
// minimum confidence).
func WithRerankOptions(optFns ...func(o *rerank.Options)) Option {
	return func(o *options) {
		o.rerankOptions = append(o.rerankOptions, optFns...)
	}
}

// WithOversample sets the multiple of k fetched from the index before
// reranking. Larger values give the causal signals more candidates to
// promote at the cost of extra edge lookups.
func WithOversample(factor int) Option {
	return func(o *options) {
		if factor > 0 {
			o.oversample = factor
		}
	}
}

// WithMaxParallelEmbed bounds concurrent embedding calls during AddMemories.
func WithMaxParallelEmbed(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxParallelEmbed = n
		}
	}
}

// WithDiversity enables an MMR pass over the reranked results. lambda=1 is
// pure relevance, lambda=0 pure diversity.
func WithDiversity(lambda float64) Option {
	return func(o *options) {
		o.diversityEnabled = true
		o.diversityLambda = lambda
	}
}

// WithSnapshots configures index snapshot persistence. On Open the engine
// attempts to load the named snapshot; Snapshot() writes it back. A missing
// or corrupt snapshot degrades to an empty index.
func WithSnapshots(s blobstore.Store, name string, codec hnsw.Codec) Option {
	return func(o *options) {
		o.snapshotStore = s
		o.snapshotName = name
		o.snapshotCodec = codec
	}
}

// WithCertificateArchive archives every issued certificate as JSON to the
// given blob store.
func WithCertificateArchive(s blobstore.Store) Option {
	return func(o *options) {
		o.archiveStore = s
	}
}

// WithCertificateLedger appends every issued certificate to an external
// append-only ledger.
func WithCertificateLedger(l provenance.Ledger) Option {
	return func(o *options) {
		o.ledger = l
	}
}

// WithResourceConfig bounds background work (rebuild memory, worker slots,
// snapshot IO).
func WithResourceConfig(cfg resource.Config) Option {
	return func(o *options) {
		o.resourceConfig = &cfg
	}
}

// WithBackgroundRebuild starts a background rebuilder that rebuilds the
// index whenever the staleness threshold is exceeded, checking at the given
// interval.
func WithBackgroundRebuild(interval time.Duration) Option {
	return func(o *options) {
		o.rebuildInterval = interval
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &recallgraph.BasicMetricsCollector{}
//	eng, _ := recallgraph.Open(ctx, embedder, st, recallgraph.WithMetricsCollector(metrics))
//	// ... use eng ...
//	stats := metrics.GetStats()
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := recallgraph.NewJSONLogger(slog.LevelInfo)
//	eng, _ := recallgraph.Open(ctx, embedder, st, recallgraph.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		oversample:       DefaultOversample,
		maxParallelEmbed: DefaultMaxParallelEmbed,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
