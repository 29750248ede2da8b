package hnsw

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/recallgraph/resource"
)

// Rebuild constructs a fresh graph from the live records and publishes it
// atomically. Searches keep reading the old generation while the new one is
// built aside; writes that land during the build are folded in before the
// swap.
func (idx *Index) Rebuild(ctx context.Context) error {
	records := idx.Records()
	if len(records) == 0 {
		return ErrEmptyCorpus
	}

	g, err := idx.buildGraph(ctx, records)
	if err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	// Fold in records inserted while the build ran, and drop records
	// removed while it ran.
	old := idx.current.Load()
	for label := range old.Slots {
		s := &old.Slots[label]
		if old.Tombstones.Contains(uint32(label)) {
			if newLabel, ok := g.Labels[s.ID]; ok && !g.Tombstones.Contains(newLabel) {
				g.Tombstones.Add(newLabel)
				g.Live--
			}
			continue
		}
		if _, ok := g.Labels[s.ID]; !ok {
			if err := idx.addToGraph(g, Record{ID: s.ID, Vector: s.Vector, Metadata: s.Metadata}); err != nil {
				return err
			}
		}
	}

	idx.current.Store(g)
	idx.updatesSinceBuild.Store(0)
	idx.lastBuildUnixNano.Store(time.Now().UnixNano())
	return nil
}

// estimateRebuildBytes approximates the memory needed for a build-aside copy.
func (idx *Index) estimateRebuildBytes() int64 {
	g := idx.current.Load()
	const perSlotOverhead = 256 // adjacency lists, map entry, slot header
	return int64(g.Live) * (int64(idx.opts.Dimension)*4 + perSlotOverhead)
}

// Rebuilder periodically checks NeedsRebuild and runs Rebuild under the
// resource controller's background budget.
type Rebuilder struct {
	idx      *Index
	ctrl     *resource.Controller
	interval time.Duration
	logger   *slog.Logger

	rebuilds atomic.Int64
	failures atomic.Int64

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewRebuilder creates a rebuilder for idx. ctrl may be nil for an unlimited
// budget. A zero interval defaults to one minute.
func NewRebuilder(idx *Index, ctrl *resource.Controller, interval time.Duration, logger *slog.Logger) *Rebuilder {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Rebuilder{
		idx:      idx,
		ctrl:     ctrl,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the background loop. Safe to call once.
func (r *Rebuilder) Start() {
	r.startOnce.Do(func() {
		go r.loop()
	})
}

// Stop terminates the background loop and waits for it to exit.
func (r *Rebuilder) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
		<-r.done
	})
}

// Rebuilds returns the number of completed rebuilds.
func (r *Rebuilder) Rebuilds() int64 { return r.rebuilds.Load() }

func (r *Rebuilder) loop() {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			if !r.idx.Built() || !r.idx.NeedsRebuild() {
				continue
			}
			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				select {
				case <-r.stop:
					cancel()
				case <-ctx.Done():
				}
			}()
			if err := r.RebuildNow(ctx); err != nil {
				r.failures.Add(1)
				r.logger.Warn("background rebuild failed", slog.Any("error", err))
			}
			cancel()
		}
	}
}

// RebuildNow runs one rebuild within the resource budget.
func (r *Rebuilder) RebuildNow(ctx context.Context) error {
	if err := r.ctrl.AcquireBackground(ctx); err != nil {
		return err
	}
	defer r.ctrl.ReleaseBackground()

	estimate := r.idx.estimateRebuildBytes()
	if err := r.ctrl.AcquireMemory(ctx, estimate); err != nil {
		return err
	}
	defer r.ctrl.ReleaseMemory(estimate)

	start := time.Now()
	if err := r.idx.Rebuild(ctx); err != nil {
		return err
	}
	r.rebuilds.Add(1)
	r.logger.Debug("index rebuilt",
		slog.Int("live", r.idx.Len()),
		slog.Duration("took", time.Since(start)),
	)
	return nil
}
