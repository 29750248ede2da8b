// Package store is the row-storage collaborator for the causal graph and
// the provenance lineage walk.
//
// The SQLite implementation keeps five tables: causal_edges,
// causal_experiments, causal_observations, causal_episodes and content.
// All access is through parameterized queries; vectors are stored as
// length-prefixed little-endian float32 blobs (see EncodeVector).
package store
