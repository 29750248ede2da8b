// Package causal maintains the graph of directed causal edges between memory
// items and the experiment machinery that resolves their uplift.
//
// Two paths produce uplift estimates. The experimental path runs a registered
// A/B test: observations accumulate while the experiment is running, and
// CalculateUplift freezes two-sample statistics exactly once. The discovery
// path estimates effects from historical, non-randomized episodes with a
// doubly-robust estimator that combines a stratified propensity model with
// per-stratum outcome models; the estimate stays consistent when either model
// is correct.
package causal
