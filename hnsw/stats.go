package hnsw

import "time"

// Stats is a point-in-time snapshot of index health.
type Stats struct {
	// Size is the total number of slots, including tombstoned ones.
	Size int

	// Live is the number of searchable points.
	Live int

	// Tombstones is the number of logically removed points awaiting rebuild.
	Tombstones uint64

	// MaxLevel is the top layer of the current graph.
	MaxLevel int

	// Built reports whether the index has been built.
	Built bool

	// UpdatesSinceBuild counts inserts and removes since the last build.
	UpdatesSinceBuild int64

	// RebuildThreshold is the configured updates/size ratio for NeedsRebuild.
	RebuildThreshold float64

	// NeedsRebuild mirrors Index.NeedsRebuild at collection time.
	NeedsRebuild bool

	// Searches is the total number of Search calls.
	Searches int64

	// LastBuild is the completion time of the most recent build, zero if never.
	LastBuild time.Time

	// LastSearch is the time of the most recent search, zero if never.
	LastSearch time.Time
}

// Stats collects current index statistics.
func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	g := idx.current.Load()

	s := Stats{
		Size:              len(g.Slots),
		Live:              g.Live,
		Tombstones:        g.Tombstones.GetCardinality(),
		MaxLevel:          g.MaxLevel,
		Built:             g.Built,
		UpdatesSinceBuild: idx.updatesSinceBuild.Load(),
		RebuildThreshold:  idx.opts.RebuildThreshold,
		NeedsRebuild:      idx.needsRebuildLocked(g),
		Searches:          idx.searchCount.Load(),
	}
	if ns := idx.lastBuildUnixNano.Load(); ns > 0 {
		s.LastBuild = time.Unix(0, ns)
	}
	if ns := idx.lastSearchUnixNano.Load(); ns > 0 {
		s.LastSearch = time.Unix(0, ns)
	}
	return s
}
