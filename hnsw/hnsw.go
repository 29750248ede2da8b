// Package hnsw implements the Hierarchical Navigable Small World (HNSW) graph
// for approximate nearest neighbor search over the memory corpus.
//
// The index is append-mostly: Remove only tombstones a node, neighbors are not
// repaired. Once the ratio of updates since the last build exceeds the
// configured rebuild threshold, NeedsRebuild reports true and an external
// scheduler is expected to trigger a rebuild (see Rebuilder).
package hnsw

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/recallgraph/distance"
	"github.com/hupe1980/recallgraph/internal/queue"
	"github.com/hupe1980/recallgraph/internal/visited"
)

const (
	// layerNormalizationBase is the base constant for exponential layer probability distribution.
	layerNormalizationBase = 1.0

	// mmax0Multiplier is the multiplier for calculating maximum connections at layer 0.
	mmax0Multiplier = 2

	// minimumM is the minimum valid value for M.
	minimumM = 2

	// DefaultM is the default number of bidirectional links.
	DefaultM = 16

	// DefaultEFConstruction is the default beam width during insertion.
	DefaultEFConstruction = 200

	// DefaultEFSearch is the default beam width during search.
	DefaultEFSearch = 64

	// DefaultRebuildThreshold is the default updates/total ratio that flips NeedsRebuild.
	DefaultRebuildThreshold = 0.10
)

// Record is one corpus entry handed to Build or Insert.
type Record struct {
	ID       uint64
	Vector   []float32
	Metadata map[string]any
}

// SearchResult is a single search hit. Similarity is the metric-specific
// conversion of Distance into an increasing-is-better scalar. Vector is
// populated only when WithVectors is set.
type SearchResult struct {
	ID         uint64
	Distance   float32
	Similarity float32
	Metadata   map[string]any
	Vector     []float32
}

// Options represents the options for configuring the index.
type Options struct {
	// Dimension is the fixed vector dimension; validated on every insert.
	Dimension int

	// M specifies the number of established connections for every new element
	// during construction. The range 12-48 is ok for most use cases.
	M int

	// EFConstruction is the size of the dynamic candidate list during insertion.
	EFConstruction int

	// EFSearch is the size of the dynamic candidate list during search.
	// Larger values improve recall at the cost of search time.
	EFSearch int

	// Metric selects the distance function and the similarity conversion.
	Metric distance.Metric

	// RebuildThreshold is the updates-since-build ratio above which
	// NeedsRebuild reports true.
	RebuildThreshold float64

	// RandomSeed fixes layer assignment for reproducible graphs.
	RandomSeed *int64
}

// DefaultOptions contains the default options for the index.
var DefaultOptions = Options{
	M:                DefaultM,
	EFConstruction:   DefaultEFConstruction,
	EFSearch:         DefaultEFSearch,
	Metric:           distance.MetricCosine,
	RebuildThreshold: DefaultRebuildThreshold,
}

// slot is one node in the arena. The slot index is the node's label; removal
// tombstones the label instead of maintaining a reverse map.
type slot struct {
	ID       uint64
	Vector   []float32
	Metadata map[string]any
	Level    int
	Conns    [][]uint32 // per-layer adjacency, layer 0 first
}

// graph holds one immutable-identity generation of the index. A rebuild
// constructs a fresh graph aside and publishes it atomically, so in-flight
// searches keep reading the old generation.
type graph struct {
	Slots      []slot
	Labels     map[uint64]uint32 // external id -> slot label
	Tombstones *roaring.Bitmap
	EntryPoint uint32
	MaxLevel   int
	Built      bool
	Live       int
}

func newGraph() *graph {
	return &graph{
		Labels:     make(map[uint64]uint32),
		Tombstones: roaring.New(),
	}
}

// Index is the HNSW index. Searches may run concurrently; Build, Insert and
// Remove are serialized against each other and against searches.
type Index struct {
	opts     Options
	distFunc distance.Func

	mmax  int
	mmax0 int
	ml    float64

	mu      sync.RWMutex
	current atomic.Pointer[graph]

	updatesSinceBuild atomic.Int64

	rng   *rand.Rand
	rngMu sync.Mutex

	lastBuildUnixNano  atomic.Int64
	lastSearchUnixNano atomic.Int64
	searchCount        atomic.Int64

	minQueuePool *sync.Pool
	maxQueuePool *sync.Pool
	visitedPool  *sync.Pool
}

// New creates a new index instance.
func New(optFns ...func(o *Options)) (*Index, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Dimension <= 0 {
		return nil, &ErrInvalidDimension{Dimension: opts.Dimension}
	}
	if opts.M < minimumM {
		opts.M = minimumM
	}
	if opts.EFConstruction <= 0 {
		opts.EFConstruction = DefaultEFConstruction
	}
	if opts.EFSearch <= 0 {
		opts.EFSearch = DefaultEFSearch
	}
	if opts.RebuildThreshold <= 0 {
		opts.RebuildThreshold = DefaultRebuildThreshold
	}

	distFunc, err := distance.Provider(opts.Metric)
	if err != nil {
		return nil, err
	}

	var rng *rand.Rand
	if opts.RandomSeed != nil {
		rng = rand.New(rand.NewSource(*opts.RandomSeed))
	} else {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	idx := &Index{
		opts:     opts,
		distFunc: distFunc,
		mmax:     opts.M,
		mmax0:    mmax0Multiplier * opts.M,
		ml:       layerNormalizationBase / math.Log(float64(opts.M)),
		rng:      rng,
		minQueuePool: &sync.Pool{
			New: func() any { return queue.NewMin(opts.EFConstruction) },
		},
		maxQueuePool: &sync.Pool{
			New: func() any { return queue.NewMax(opts.EFConstruction) },
		},
		visitedPool: &sync.Pool{
			New: func() any { return visited.New(1024) },
		},
	}
	idx.current.Store(newGraph())

	return idx, nil
}

// Dimension returns the configured vector dimension.
func (idx *Index) Dimension() int { return idx.opts.Dimension }

// Metric returns the configured distance metric.
func (idx *Index) Metric() distance.Metric { return idx.opts.Metric }

// Len returns the number of live (non-tombstoned) points.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.current.Load().Live
}

// Built reports whether Build has completed at least once.
func (idx *Index) Built() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.current.Load().Built
}

// NeedsRebuild reports whether the index was never built, or the ratio of
// updates since the last build exceeds the rebuild threshold. It is advisory:
// rebuilds are triggered by the caller, never by the index itself.
func (idx *Index) NeedsRebuild() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.needsRebuildLocked(idx.current.Load())
}

// needsRebuildLocked is NeedsRebuild without locking. Callers hold idx.mu.
func (idx *Index) needsRebuildLocked(g *graph) bool {
	if !g.Built {
		return true
	}
	total := len(g.Slots)
	if total == 0 {
		return true
	}
	return float64(idx.updatesSinceBuild.Load())/float64(total) > idx.opts.RebuildThreshold
}

// Build constructs a fresh graph from records, replacing any prior one.
func (idx *Index) Build(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return ErrEmptyCorpus
	}

	g, err := idx.buildGraph(ctx, records)
	if err != nil {
		return err
	}

	idx.mu.Lock()
	idx.current.Store(g)
	idx.updatesSinceBuild.Store(0)
	idx.mu.Unlock()

	idx.lastBuildUnixNano.Store(time.Now().UnixNano())
	return nil
}

// buildGraph constructs a graph aside, without touching the published one.
// Used by both Build and the Rebuilder.
func (idx *Index) buildGraph(ctx context.Context, records []Record) (*graph, error) {
	g := newGraph()
	g.Slots = make([]slot, 0, len(records))

	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := idx.addToGraph(g, r); err != nil {
			return nil, err
		}
	}
	g.Built = true
	return g, nil
}

// Insert adds one point to an already-built index. The graph may drift mildly
// out of balance; the updates-since-build counter tracks how far.
func (idx *Index) Insert(ctx context.Context, id uint64, vector []float32, metadata map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	g := idx.current.Load()
	if !g.Built {
		return ErrIndexNotBuilt
	}
	if err := idx.addToGraph(g, Record{ID: id, Vector: vector, Metadata: metadata}); err != nil {
		return err
	}

	idx.updatesSinceBuild.Add(1)
	return nil
}

// Remove logically removes a point. Neighbors are not repaired; physical
// removal happens on the next rebuild.
func (idx *Index) Remove(id uint64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	g := idx.current.Load()
	label, ok := g.Labels[id]
	if !ok || g.Tombstones.Contains(label) {
		return &ErrNodeNotFound{ID: id}
	}

	g.Tombstones.Add(label)
	g.Live--
	idx.updatesSinceBuild.Add(1)
	return nil
}

// Contains reports whether id is live in the index.
func (idx *Index) Contains(id uint64) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	g := idx.current.Load()
	label, ok := g.Labels[id]
	return ok && !g.Tombstones.Contains(label)
}

// addToGraph inserts a record into g. Caller holds the write lock, or owns g
// exclusively during a build.
func (idx *Index) addToGraph(g *graph, r Record) error {
	if len(r.Vector) != idx.opts.Dimension {
		return &ErrDimensionMismatch{Expected: idx.opts.Dimension, Actual: len(r.Vector)}
	}
	if label, ok := g.Labels[r.ID]; ok && !g.Tombstones.Contains(label) {
		return ErrDuplicateID
	}

	vec := make([]float32, len(r.Vector))
	copy(vec, r.Vector)

	level := idx.randomLevel()
	label := uint32(len(g.Slots))
	g.Slots = append(g.Slots, slot{
		ID:       r.ID,
		Vector:   vec,
		Metadata: r.Metadata,
		Level:    level,
		Conns:    make([][]uint32, level+1),
	})
	g.Labels[r.ID] = label
	g.Live++

	if g.Live == 1 && len(g.Slots) == 1 {
		g.EntryPoint = label
		g.MaxLevel = level
		return nil
	}

	idx.linkNode(g, label, vec, level)

	if level > g.MaxLevel {
		g.MaxLevel = level
		g.EntryPoint = label
	}
	return nil
}

// randomLevel draws the node's top layer from a geometric distribution
// parameterized by M.
func (idx *Index) randomLevel() int {
	idx.rngMu.Lock()
	r := idx.rng.Float64()
	idx.rngMu.Unlock()
	if r == 0 {
		r = math.SmallestNonzeroFloat64
	}
	return int(math.Floor(-math.Log(r) * idx.ml))
}

// linkNode performs the greedy descent and bidirectional linking for a new node.
func (idx *Index) linkNode(g *graph, label uint32, vec []float32, level int) {
	currLabel := g.EntryPoint
	currDist := idx.distFunc(vec, g.Slots[currLabel].Vector)

	// Greedy search on layers above the node's level.
	for l := g.MaxLevel; l > level; l-- {
		currLabel, currDist = idx.greedyStep(g, vec, currLabel, currDist, l)
	}

	for l := min(level, g.MaxLevel); l >= 0; l-- {
		results := idx.searchLayer(g, vec, currLabel, currDist, l, idx.opts.EFConstruction, nil)

		if best, ok := results.Min(); ok {
			currLabel = best.Node
			currDist = best.Distance
		}

		maxConns := idx.mmax
		if l == 0 {
			maxConns = idx.mmax0
		}

		neighbors := idx.selectNeighbors(results, idx.opts.M)
		g.Slots[label].Conns[l] = neighbors

		for _, n := range neighbors {
			idx.linkBack(g, n, label, l, maxConns)
		}

		results.Reset()
		idx.maxQueuePool.Put(results)
	}
}

// greedyStep walks a single layer to the closest reachable node.
func (idx *Index) greedyStep(g *graph, vec []float32, currLabel uint32, currDist float32, layer int) (uint32, float32) {
	changed := true
	for changed {
		changed = false
		for _, next := range g.connections(currLabel, layer) {
			d := idx.distFunc(vec, g.Slots[next].Vector)
			if d < currDist {
				currLabel = next
				currDist = d
				changed = true
			}
		}
	}
	return currLabel, currDist
}

// linkBack adds a reverse edge from neighbor to the new node, pruning the
// neighbor's list back to maxConns closest if it overflows.
func (idx *Index) linkBack(g *graph, neighbor, label uint32, layer, maxConns int) {
	s := &g.Slots[neighbor]
	if layer >= len(s.Conns) {
		return
	}
	for _, c := range s.Conns[layer] {
		if c == label {
			return
		}
	}

	s.Conns[layer] = append(s.Conns[layer], label)
	if len(s.Conns[layer]) <= maxConns {
		return
	}

	// Keep the maxConns closest.
	candidates := idx.maxQueuePool.Get().(*queue.PriorityQueue)
	candidates.Reset()
	for _, c := range s.Conns[layer] {
		candidates.Push(queue.Item{Node: c, Distance: idx.distFunc(s.Vector, g.Slots[c].Vector)})
	}
	for candidates.Len() > maxConns {
		candidates.Pop()
	}

	pruned := make([]uint32, candidates.Len())
	for i := candidates.Len() - 1; i >= 0; i-- {
		it, _ := candidates.Pop()
		pruned[i] = it.Node
	}
	s.Conns[layer] = pruned

	candidates.Reset()
	idx.maxQueuePool.Put(candidates)
}

// selectNeighbors keeps the M closest candidates, best first.
func (idx *Index) selectNeighbors(candidates *queue.PriorityQueue, m int) []uint32 {
	for candidates.Len() > m {
		candidates.Pop()
	}
	res := make([]uint32, candidates.Len())
	for i := candidates.Len() - 1; i >= 0; i-- {
		it, _ := candidates.Pop()
		res[i] = it.Node
	}
	return res
}

// connections returns a node's adjacency at the given layer.
func (g *graph) connections(label uint32, layer int) []uint32 {
	s := &g.Slots[label]
	if layer >= len(s.Conns) {
		return nil
	}
	return s.Conns[layer]
}

// searchLayer runs a bounded beam search on one layer. allowed, when non-nil,
// restricts which labels may enter the result set (the beam still traverses
// excluded nodes to preserve connectivity). Tombstoned labels never enter the
// result set.
func (idx *Index) searchLayer(g *graph, query []float32, epLabel uint32, epDist float32, layer, ef int, allowed *roaring.Bitmap) *queue.PriorityQueue {
	vis := idx.visitedPool.Get().(*visited.Set)
	vis.Reset()
	defer func() {
		vis.Reset()
		idx.visitedPool.Put(vis)
	}()

	candidates := idx.minQueuePool.Get().(*queue.PriorityQueue)
	candidates.Reset()
	defer func() {
		candidates.Reset()
		idx.minQueuePool.Put(candidates)
	}()

	results := idx.maxQueuePool.Get().(*queue.PriorityQueue) // caller puts back
	results.Reset()

	vis.Visit(epLabel)
	candidates.Push(queue.Item{Node: epLabel, Distance: epDist})
	if idx.admissible(g, epLabel, allowed) {
		results.Push(queue.Item{Node: epLabel, Distance: epDist})
	}

	for candidates.Len() > 0 {
		curr, _ := candidates.Pop()

		if results.Len() >= ef {
			if worst, ok := results.Top(); ok && curr.Distance > worst.Distance {
				break
			}
		}

		for _, next := range g.connections(curr.Node, layer) {
			if vis.Visited(next) {
				continue
			}
			vis.Visit(next)

			d := idx.distFunc(query, g.Slots[next].Vector)

			// Classic HNSW pruning: skip obviously-bad candidates once the
			// result set is full.
			if results.Len() >= ef {
				if worst, ok := results.Top(); ok && d > worst.Distance {
					continue
				}
			}

			candidates.Push(queue.Item{Node: next, Distance: d})

			if idx.admissible(g, next, allowed) {
				results.Push(queue.Item{Node: next, Distance: d})
				if results.Len() > ef {
					results.Pop()
				}
			}
		}
	}

	return results
}

func (idx *Index) admissible(g *graph, label uint32, allowed *roaring.Bitmap) bool {
	if g.Tombstones.Contains(label) {
		return false
	}
	return allowed == nil || allowed.Contains(label)
}

// SearchOptions controls a single search call.
type SearchOptions struct {
	// Threshold drops results whose similarity falls below it.
	Threshold float32

	// Filter is an arbitrary metadata predicate, applied after the graph
	// search. Filtered searches may return fewer than k results.
	Filter func(id uint64, metadata map[string]any) bool

	// Allowed restricts the candidate set to the given external ids during
	// traversal.
	Allowed *roaring.Bitmap

	// EFSearch overrides the configured search beam width.
	EFSearch int

	// IncludeVectors copies each hit's vector into the result.
	IncludeVectors bool
}

// SearchOption mutates SearchOptions.
type SearchOption func(o *SearchOptions)

// WithThreshold drops results below the given similarity.
func WithThreshold(minSimilarity float32) SearchOption {
	return func(o *SearchOptions) { o.Threshold = minSimilarity }
}

// WithFilter applies a metadata predicate after the graph search.
func WithFilter(filter func(id uint64, metadata map[string]any) bool) SearchOption {
	return func(o *SearchOptions) { o.Filter = filter }
}

// WithAllowed restricts candidates to the given external ids.
func WithAllowed(ids *roaring.Bitmap) SearchOption {
	return func(o *SearchOptions) { o.Allowed = ids }
}

// WithVectors includes a copy of each hit's vector in the results.
func WithVectors() SearchOption {
	return func(o *SearchOptions) { o.IncludeVectors = true }
}

// WithEFSearch overrides the search beam width for this call.
func WithEFSearch(ef int) SearchOption {
	return func(o *SearchOptions) { o.EFSearch = ef }
}

// Search returns up to k results ordered by descending similarity. Ties are
// broken by insertion order so output is deterministic for fixed inputs.
func (idx *Index) Search(ctx context.Context, query []float32, k int, optFns ...SearchOption) ([]SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, ErrInvalidK
	}

	var opts SearchOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	g := idx.current.Load()
	if !g.Built {
		return nil, ErrIndexNotBuilt
	}
	if len(query) != idx.opts.Dimension {
		return nil, &ErrDimensionMismatch{Expected: idx.opts.Dimension, Actual: len(query)}
	}

	idx.lastSearchUnixNano.Store(time.Now().UnixNano())
	idx.searchCount.Add(1)

	ef := idx.opts.EFSearch
	if opts.EFSearch > 0 {
		ef = opts.EFSearch
	}
	if ef < k {
		ef = k
	}

	var allowed *roaring.Bitmap
	if opts.Allowed != nil {
		allowed = idx.allowedLabels(g, opts.Allowed)
	}

	currLabel := g.EntryPoint
	currDist := idx.distFunc(query, g.Slots[currLabel].Vector)
	for l := g.MaxLevel; l > 0; l-- {
		currLabel, currDist = idx.greedyStep(g, query, currLabel, currDist, l)
	}

	results := idx.searchLayer(g, query, currLabel, currDist, 0, ef, allowed)
	defer func() {
		results.Reset()
		idx.maxQueuePool.Put(results)
	}()

	hits := make([]SearchResult, 0, results.Len())
	labels := make([]uint32, 0, results.Len())
	for results.Len() > 0 {
		it, _ := results.Pop()
		s := &g.Slots[it.Node]
		sim := distance.Similarity(idx.opts.Metric, it.Distance)
		if sim < opts.Threshold {
			continue
		}
		if opts.Filter != nil && !opts.Filter(s.ID, s.Metadata) {
			continue
		}
		hit := SearchResult{
			ID:         s.ID,
			Distance:   it.Distance,
			Similarity: sim,
			Metadata:   s.Metadata,
		}
		if opts.IncludeVectors {
			hit.Vector = append([]float32(nil), s.Vector...)
		}
		hits = append(hits, hit)
		labels = append(labels, it.Node)
	}

	// Heap extraction yields worst-first with arbitrary order among equals;
	// sort descending similarity, ties by insertion order (slot label).
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return labels[i] < labels[j]
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// allowedLabels translates an external id bitmap into a slot label bitmap.
func (idx *Index) allowedLabels(g *graph, ids *roaring.Bitmap) *roaring.Bitmap {
	labels := roaring.New()
	it := ids.Iterator()
	for it.HasNext() {
		if label, ok := g.Labels[uint64(it.Next())]; ok {
			labels.Add(label)
		}
	}
	return labels
}

// BruteSearch performs an exact scan. It exists for small corpora and for
// verifying ANN recall in tests.
func (idx *Index) BruteSearch(ctx context.Context, query []float32, k int) ([]SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, ErrInvalidK
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	g := idx.current.Load()
	if !g.Built {
		return nil, ErrIndexNotBuilt
	}
	if len(query) != idx.opts.Dimension {
		return nil, &ErrDimensionMismatch{Expected: idx.opts.Dimension, Actual: len(query)}
	}

	pq := queue.NewMax(k)
	for label := range g.Slots {
		if g.Tombstones.Contains(uint32(label)) {
			continue
		}
		d := idx.distFunc(query, g.Slots[label].Vector)
		if pq.Len() < k {
			pq.Push(queue.Item{Node: uint32(label), Distance: d})
		} else if top, _ := pq.Top(); d < top.Distance {
			pq.Pop()
			pq.Push(queue.Item{Node: uint32(label), Distance: d})
		}
	}

	res := make([]SearchResult, pq.Len())
	for i := pq.Len() - 1; i >= 0; i-- {
		it, _ := pq.Pop()
		s := &g.Slots[it.Node]
		res[i] = SearchResult{
			ID:         s.ID,
			Distance:   it.Distance,
			Similarity: distance.Similarity(idx.opts.Metric, it.Distance),
			Metadata:   s.Metadata,
		}
	}
	return res, nil
}

// Records returns a copy of all live records. Used by the Rebuilder to
// re-feed the corpus into a fresh graph.
func (idx *Index) Records() []Record {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	g := idx.current.Load()
	records := make([]Record, 0, g.Live)
	for label := range g.Slots {
		if g.Tombstones.Contains(uint32(label)) {
			continue
		}
		s := &g.Slots[label]
		vec := make([]float32, len(s.Vector))
		copy(vec, s.Vector)
		records = append(records, Record{ID: s.ID, Vector: vec, Metadata: s.Metadata})
	}
	return records
}
