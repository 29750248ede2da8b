// Package recallgraph provides a causal-aware semantic retrieval engine for Go.
//
// Recallgraph combines an HNSW approximate-nearest-neighbor index with a
// causal-effect graph, a utility reranker, and a verifiable provenance layer:
//
//   - hnsw: slot-arena HNSW index with tombstoned removal, atomic graph
//     publication and snapshot persistence
//   - causal: controlled-experiment uplift statistics plus doubly-robust
//     effect discovery from observational episodes
//   - rerank: utility scoring (similarity + uplift - latency cost) and MMR
//     diversity selection
//   - provenance: minimal justificatory subsets, Merkle commitments and
//     auditable recall certificates
//   - store: SQLite persistence for edges, experiments, episodes and content
//   - blobstore: snapshot/certificate archival to local disk, S3 or MinIO
//
// # Quick Start
//
//	ctx := context.Background()
//	st, err := store.NewSQLiteStore(ctx, "recall.db")
//	if err != nil {
//	    panic(err)
//	}
//	eng, err := recallgraph.Open(ctx, embedder, st)
//	if err != nil {
//	    panic(err)
//	}
//	defer eng.Close()
//
//	_, err = eng.AddMemories(ctx, []recallgraph.Memory{
//	    {Type: "episodic", Content: "retries doubled the request rate"},
//	    {Type: "semantic", Content: "idempotency keys deduplicate writes"},
//	})
//	if err != nil {
//	    panic(err)
//	}
//	if err := eng.Build(ctx); err != nil {
//	    panic(err)
//	}
//
//	result, err := eng.Recall(ctx, recallgraph.RecallRequest{
//	    QueryID:   "q-1",
//	    QueryText: "why did load spike during the incident?",
//	    K:         5,
//	})
//
// Every recall returns a certificate committing to the retrieved content;
// see the provenance package for verification and audit.
package recallgraph

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/recallgraph/blobstore"
	"github.com/hupe1980/recallgraph/causal"
	"github.com/hupe1980/recallgraph/embed"
	"github.com/hupe1980/recallgraph/hnsw"
	"github.com/hupe1980/recallgraph/provenance"
	"github.com/hupe1980/recallgraph/rerank"
	"github.com/hupe1980/recallgraph/resource"
	"github.com/hupe1980/recallgraph/store"
)

// Metadata keys the engine reserves on index records.
const (
	metaKeyContent = "content"
	metaKeyType    = "memory_type"
)

// Memory is one item of the corpus.
type Memory struct {
	// ID identifies the memory; zero lets the engine assign one.
	ID uint64

	// Type classifies the memory (e.g. "episodic", "semantic", "procedural").
	Type string

	// Content is the raw text; it is embedded on add and hashed into recall
	// certificates.
	Content string

	// Metadata is an opaque map carried through to search results.
	Metadata map[string]any
}

// Engine ties the index, the causal graph, the reranker and the certifier
// into one retrieval surface.
type Engine struct {
	opts      options
	embedder  embed.Embedder
	store     store.Store
	index     *hnsw.Index
	graph     *causal.Graph
	certifier *provenance.Certifier
	reranker  *rerank.Reranker
	logger    *Logger
	metrics   MetricsCollector
	ctrl      *resource.Controller
	rebuilder *hnsw.Rebuilder

	mu      sync.Mutex // guards pending
	pending []hnsw.Record

	nextID atomic.Uint64
	closed atomic.Bool
}

// Open creates an engine over the given embedder and store. If snapshots are
// configured, the index is restored from the latest snapshot; a missing or
// corrupt snapshot leaves the index empty rather than failing.
func Open(ctx context.Context, embedder embed.Embedder, st store.Store, optFns ...Option) (*Engine, error) {
	opts := applyOptions(optFns)

	idxOptFns := append([]func(o *hnsw.Options){}, opts.hnswOptions...)
	idxOptFns = append(idxOptFns, func(o *hnsw.Options) {
		o.Dimension = embedder.Dimension()
	})
	idx, err := hnsw.New(idxOptFns...)
	if err != nil {
		return nil, translateError(err)
	}

	certOptFns := []func(o *provenance.Options){
		provenance.WithStore(st),
		provenance.WithLogger(opts.logger.Logger),
	}
	if opts.archiveStore != nil {
		certOptFns = append(certOptFns, provenance.WithArchive(opts.archiveStore))
	}
	if opts.ledger != nil {
		certOptFns = append(certOptFns, provenance.WithLedger(opts.ledger))
	}

	var ctrl *resource.Controller
	if opts.resourceConfig != nil {
		ctrl = resource.NewController(*opts.resourceConfig)
	}

	eng := &Engine{
		opts:      opts,
		embedder:  embedder,
		store:     st,
		index:     idx,
		graph:     causal.New(st),
		certifier: provenance.New(certOptFns...),
		reranker:  rerank.New(opts.rerankOptions...),
		logger:    opts.logger,
		metrics:   opts.metricsCollector,
		ctrl:      ctrl,
	}

	if opts.snapshotStore != nil {
		loaded, err := idx.LoadSnapshot(ctx, eng.snapshotStore(), opts.snapshotName)
		if err != nil {
			return nil, fmt.Errorf("load snapshot: %w", err)
		}
		if loaded {
			eng.seedNextID()
		}
	}

	if opts.rebuildInterval > 0 {
		eng.rebuilder = hnsw.NewRebuilder(idx, ctrl, opts.rebuildInterval, opts.logger.Logger)
		eng.rebuilder.Start()
	}

	return eng, nil
}

// seedNextID advances the id counter past every restored record so assigned
// ids never collide with snapshot contents.
func (e *Engine) seedNextID() {
	var max uint64
	for _, r := range e.index.Records() {
		if r.ID > max {
			max = r.ID
		}
	}
	for {
		cur := e.nextID.Load()
		if cur >= max || e.nextID.CompareAndSwap(cur, max) {
			return
		}
	}
}

// AddMemories embeds and stages (or, once built, directly indexes) the given
// memories, returning their ids in input order. Before the first Build,
// memories accumulate in a staging buffer.
func (e *Engine) AddMemories(ctx context.Context, memories []Memory) ([]uint64, error) {
	start := time.Now()
	ids, err := e.addMemories(ctx, memories)
	duration := time.Since(start)
	err = translateError(err)
	e.metrics.RecordAdd(len(memories), duration, err)
	e.logger.LogAdd(ctx, len(memories), err)
	return ids, err
}

func (e *Engine) addMemories(ctx context.Context, memories []Memory) ([]uint64, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	if len(memories) == 0 {
		return nil, nil
	}

	texts := make([]string, len(memories))
	for i, m := range memories {
		texts[i] = m.Content
	}
	vectors, err := embed.BatchEmbed(ctx, e.embedder, texts, e.opts.maxParallelEmbed)
	if err != nil {
		return nil, fmt.Errorf("embed batch: %w", err)
	}

	ids := make([]uint64, len(memories))
	records := make([]hnsw.Record, len(memories))
	for i, m := range memories {
		id := m.ID
		if id == 0 {
			id = e.nextID.Add(1)
		} else {
			e.bumpNextID(id)
		}
		ids[i] = id

		meta := make(map[string]any, len(m.Metadata)+2)
		for k, v := range m.Metadata {
			meta[k] = v
		}
		meta[metaKeyContent] = m.Content
		meta[metaKeyType] = m.Type

		records[i] = hnsw.Record{ID: id, Vector: vectors[i], Metadata: meta}
	}

	if !e.index.Built() {
		e.mu.Lock()
		e.pending = append(e.pending, records...)
		e.mu.Unlock()
		return ids, nil
	}

	for _, r := range records {
		if err := e.index.Insert(ctx, r.ID, r.Vector, r.Metadata); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func (e *Engine) bumpNextID(id uint64) {
	for {
		cur := e.nextID.Load()
		if cur >= id || e.nextID.CompareAndSwap(cur, id) {
			return
		}
	}
}

// Build constructs the index from all staged memories. Calling Build on an
// already-built index with nothing staged is a no-op; staged memories after a
// build are folded in via Insert.
func (e *Engine) Build(ctx context.Context) error {
	if e.closed.Load() {
		return ErrClosed
	}

	e.mu.Lock()
	staged := e.pending
	e.pending = nil
	e.mu.Unlock()

	if e.index.Built() {
		for _, r := range staged {
			if err := e.index.Insert(ctx, r.ID, r.Vector, r.Metadata); err != nil {
				return translateError(err)
			}
		}
		return nil
	}

	err := translateError(e.index.Build(ctx, staged))
	e.logger.LogBuild(ctx, len(staged), err)
	return err
}

// Remove tombstones a memory in the index. The physical slot is reclaimed on
// the next rebuild.
func (e *Engine) Remove(ctx context.Context, id uint64) error {
	start := time.Now()
	if e.closed.Load() {
		return ErrClosed
	}
	err := translateError(e.index.Remove(id))
	e.metrics.RecordRemove(time.Since(start), err)
	e.logger.LogRemove(ctx, id, err)
	return err
}

// RecallRequest describes one retrieval.
type RecallRequest struct {
	QueryID      string
	QueryText    string
	K            int
	Requirements []string
	AccessLevel  string
}

// RecallItem is one ranked result.
type RecallItem struct {
	ID         uint64
	Type       string
	Content    string
	Similarity float64
	Uplift     float64
	Confidence float64
	Utility    float64
	Metadata   map[string]any
}

// RecallLatency reports per-phase timings in milliseconds.
type RecallLatency struct {
	EmbedMs        float64
	VectorSearchMs float64
	CausalLookupMs float64
	RerankMs       float64
	CertificateMs  float64
}

// RecallResult is the outcome of one Recall call.
type RecallResult struct {
	Items       []RecallItem
	Certificate *provenance.RecallCertificate
	Latency     RecallLatency
}

// Recall runs the full retrieval pipeline: embed the query, oversampled
// similarity search, causal-edge lookup, utility reranking, optional MMR
// diversity selection, and certificate issuance. Candidates without causal
// history score with uplift 0 instead of failing the call.
func (e *Engine) Recall(ctx context.Context, req RecallRequest) (*RecallResult, error) {
	start := time.Now()
	result, err := e.recall(ctx, req)
	duration := time.Since(start)
	err = translateError(err)
	e.metrics.RecordRecall(req.K, duration, err)
	found := 0
	if result != nil {
		found = len(result.Items)
	}
	e.logger.LogRecall(ctx, req.QueryID, req.K, found, err)
	return result, err
}

func (e *Engine) recall(ctx context.Context, req RecallRequest) (*RecallResult, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	if req.QueryText == "" {
		return nil, ErrInvalidQuery
	}
	if req.K <= 0 {
		return nil, ErrInvalidK
	}

	var latency RecallLatency

	phase := time.Now()
	query, err := e.embedder.Embed(ctx, req.QueryText)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	latency.EmbedMs = msSince(phase)

	phase = time.Now()
	searchOpts := []hnsw.SearchOption{}
	if e.opts.diversityEnabled {
		searchOpts = append(searchOpts, hnsw.WithVectors())
	}
	hits, err := e.index.Search(ctx, query, req.K*e.opts.oversample, searchOpts...)
	if err != nil {
		return nil, err
	}
	latency.VectorSearchMs = msSince(phase)

	phase = time.Now()
	candidates := make([]rerank.Candidate, len(hits))
	signals := make(map[uint64]rerank.CausalSignal, len(hits))
	for i, hit := range hits {
		content, _ := hit.Metadata[metaKeyContent].(string)
		memType, _ := hit.Metadata[metaKeyType].(string)
		candidates[i] = rerank.Candidate{
			ID:         hit.ID,
			Type:       memType,
			Content:    content,
			Vector:     hit.Vector,
			Similarity: float64(hit.Similarity),
			SearchRank: i,
		}

		signal, ok := e.lookupSignal(ctx, hit.ID)
		if ok {
			signals[hit.ID] = signal
		}
	}
	latency.CausalLookupMs = msSince(phase)

	phase = time.Now()
	rerankK := req.K
	if e.opts.diversityEnabled {
		// MMR selects from the whole oversampled pool; truncating to K
		// first would reduce it to a reordering of the top-K.
		rerankK = 0
	}
	scored := e.reranker.Rerank(candidates, signals, rerankK)
	if e.opts.diversityEnabled {
		pool := make([]rerank.Candidate, len(scored))
		byID := make(map[uint64]rerank.Scored, len(scored))
		for i, s := range scored {
			pool[i] = s.Candidate
			byID[s.ID] = s
		}
		diverse := rerank.SelectDiverse(pool, query, rerank.DiverseOptions{
			Lambda: e.opts.diversityLambda,
			K:      req.K,
		})
		scored = scored[:0]
		for _, c := range diverse {
			scored = append(scored, byID[c.ID])
		}
	}
	latency.RerankMs = msSince(phase)

	phase = time.Now()
	chunks := make([]provenance.Chunk, len(scored))
	items := make([]RecallItem, len(scored))
	for i, s := range scored {
		chunks[i] = provenance.Chunk{
			ID:        s.ID,
			Type:      s.Type,
			Content:   s.Content,
			Relevance: s.Similarity,
			Uplift:    s.Uplift,
		}
		items[i] = RecallItem{
			ID:         s.ID,
			Type:       s.Type,
			Content:    s.Content,
			Similarity: s.Similarity,
			Uplift:     s.Uplift,
			Confidence: s.Confidence,
			Utility:    s.Utility,
			Metadata:   candidateMetadata(hits, s.ID),
		}
	}
	cert, err := e.certifier.CreateCertificate(ctx, provenance.CertificateInput{
		QueryID:      req.QueryID,
		QueryText:    req.QueryText,
		Chunks:       chunks,
		Requirements: req.Requirements,
		AccessLevel:  req.AccessLevel,
	})
	latency.CertificateMs = msSince(phase)
	e.metrics.RecordCertificate(time.Since(phase), err)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}

	return &RecallResult{Items: items, Certificate: cert, Latency: latency}, nil
}

// lookupSignal fetches the strongest causal edge originating at the
// candidate. Lookup failures degrade to no signal: isolated items rerank on
// similarity alone.
func (e *Engine) lookupSignal(ctx context.Context, id uint64) (rerank.CausalSignal, bool) {
	edges, err := e.graph.QueryCausalEffects(ctx, causal.EffectFilter{FromID: &id, Limit: 1})
	if err != nil || len(edges) == 0 {
		return rerank.CausalSignal{}, false
	}
	edge := edges[0]
	signal := rerank.CausalSignal{EdgeID: edge.ID, Confidence: edge.Confidence}
	if edge.Uplift != nil {
		signal.Uplift = *edge.Uplift
	}
	return signal, true
}

func candidateMetadata(hits []hnsw.SearchResult, id uint64) map[string]any {
	for _, hit := range hits {
		if hit.ID == id {
			return hit.Metadata
		}
	}
	return nil
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Nanoseconds()) / 1e6
}

// Causal exposes the causal graph for experiment management, effect
// discovery and confounder detection.
func (e *Engine) Causal() *causal.Graph { return e.graph }

// Certifier exposes the provenance certifier.
func (e *Engine) Certifier() *provenance.Certifier { return e.certifier }

// VerifyCertificate recomputes a certificate's Merkle commitment and
// structural invariants.
func (e *Engine) VerifyCertificate(id string) (*provenance.VerificationResult, error) {
	return e.certifier.VerifyCertificate(id)
}

// AuditCertificate bundles a certificate with its justifications, content
// lineage and quality stats for external auditors.
func (e *Engine) AuditCertificate(ctx context.Context, id string) (*provenance.AuditReport, error) {
	return e.certifier.AuditCertificate(ctx, id)
}

// NeedsRebuild reports whether the staleness threshold has been exceeded.
func (e *Engine) NeedsRebuild() bool { return e.index.NeedsRebuild() }

// Rebuild rebuilds the index aside and publishes it atomically; searches
// keep serving the old graph until the swap.
func (e *Engine) Rebuild(ctx context.Context) error {
	if e.closed.Load() {
		return ErrClosed
	}
	return translateError(e.index.Rebuild(ctx))
}

// Snapshot persists the index to the configured snapshot store.
func (e *Engine) Snapshot(ctx context.Context) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if e.opts.snapshotStore == nil {
		return fmt.Errorf("no snapshot store configured")
	}
	err := e.index.SaveSnapshot(ctx, e.snapshotStore(), e.opts.snapshotName, e.opts.snapshotCodec)
	e.logger.LogSnapshot(ctx, e.opts.snapshotName, err)
	return err
}

// snapshotStore applies the IO budget to snapshot traffic when a resource
// controller is configured.
func (e *Engine) snapshotStore() blobstore.Store {
	if e.ctrl == nil {
		return e.opts.snapshotStore
	}
	return resource.NewThrottledStore(e.opts.snapshotStore, e.ctrl)
}

// EngineStats is a composite read-only snapshot across components.
type EngineStats struct {
	Index        hnsw.Stats
	Causal       causal.Stats
	Certificates provenance.Stats
}

// Stats collects statistics from the index, the causal graph and the
// certifier.
func (e *Engine) Stats(ctx context.Context) (*EngineStats, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	causalStats, err := e.graph.Stats(ctx)
	if err != nil {
		return nil, translateError(err)
	}
	return &EngineStats{
		Index:        e.index.Stats(),
		Causal:       *causalStats,
		Certificates: e.certifier.Stats(),
	}, nil
}

// Close stops background work and closes the store. Safe to call more than
// once.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	if e.rebuilder != nil {
		e.rebuilder.Stop()
	}
	return e.store.Close()
}
