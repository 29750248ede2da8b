// Package distance provides vector distance metrics and the
// distance-to-similarity conversions used by the retrieval core.
//
// All similarity values produced by this package are comparable,
// increasing-is-better scalars regardless of the configured metric.
package distance
