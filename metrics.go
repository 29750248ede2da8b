package recallgraph

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    addCounter      prometheus.Counter
//	    recallHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordRecall(k int, duration time.Duration, err error) {
//	    p.recallHistogram.Observe(duration.Seconds())
//	    // ... record error state, k, etc.
//	}
type MetricsCollector interface {
	// RecordAdd is called after each add operation.
	// count is the number of memories attempted, duration is the total time
	// taken, err is nil if successful.
	RecordAdd(count int, duration time.Duration, err error)

	// RecordRecall is called after each recall operation.
	// k is the number of results requested, duration is the time taken,
	// err is nil if successful.
	RecordRecall(k int, duration time.Duration, err error)

	// RecordRemove is called after each remove operation.
	RecordRemove(duration time.Duration, err error)

	// RecordCertificate is called after each certificate issuance.
	RecordCertificate(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAdd(int, time.Duration, error)       {}
func (NoopMetricsCollector) RecordRecall(int, time.Duration, error)    {}
func (NoopMetricsCollector) RecordRemove(time.Duration, error)         {}
func (NoopMetricsCollector) RecordCertificate(time.Duration, error)    {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	AddCount          atomic.Int64
	AddItems          atomic.Int64
	AddErrors         atomic.Int64
	RecallCount       atomic.Int64
	RecallErrors      atomic.Int64
	RecallTotalNanos  atomic.Int64
	RemoveCount       atomic.Int64
	RemoveErrors      atomic.Int64
	CertificateCount  atomic.Int64
	CertificateErrors atomic.Int64
}

// RecordAdd implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAdd(count int, duration time.Duration, err error) {
	b.AddCount.Add(1)
	b.AddItems.Add(int64(count))
	if err != nil {
		b.AddErrors.Add(1)
	}
}

// RecordRecall implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRecall(k int, duration time.Duration, err error) {
	b.RecallCount.Add(1)
	b.RecallTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.RecallErrors.Add(1)
	}
}

// RecordRemove implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRemove(duration time.Duration, err error) {
	b.RemoveCount.Add(1)
	if err != nil {
		b.RemoveErrors.Add(1)
	}
}

// RecordCertificate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCertificate(duration time.Duration, err error) {
	b.CertificateCount.Add(1)
	if err != nil {
		b.CertificateErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		AddCount:          b.AddCount.Load(),
		AddItems:          b.AddItems.Load(),
		AddErrors:         b.AddErrors.Load(),
		RecallCount:       b.RecallCount.Load(),
		RecallErrors:      b.RecallErrors.Load(),
		RecallAvgNanos:    b.getAvgRecallNanos(),
		RemoveCount:       b.RemoveCount.Load(),
		RemoveErrors:      b.RemoveErrors.Load(),
		CertificateCount:  b.CertificateCount.Load(),
		CertificateErrors: b.CertificateErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgRecallNanos() int64 {
	count := b.RecallCount.Load()
	if count == 0 {
		return 0
	}
	return b.RecallTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	AddCount          int64
	AddItems          int64
	AddErrors         int64
	RecallCount       int64
	RecallErrors      int64
	RecallAvgNanos    int64
	RemoveCount       int64
	RemoveErrors      int64
	CertificateCount  int64
	CertificateErrors int64
}
