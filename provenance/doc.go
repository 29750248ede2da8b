// Package provenance issues and audits verifiable recall certificates.
//
// A certificate commits to every retrieved chunk through a sha256 Merkle
// root, carries a greedy minimal justificatory subset (minimalWhy) covering
// the query requirements, and is immutable once issued. Verification
// recomputes the root from the recorded source hashes; auditing additionally
// derives a justification path per selected chunk and can walk the content
// lineage chain in the row store.
//
// The hitting-set selection is a greedy approximation of an NP-hard set
// cover with the usual ln(n) worst-case ratio; "minimal" means locally
// minimal, not globally optimal.
package provenance
