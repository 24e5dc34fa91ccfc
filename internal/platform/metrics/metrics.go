package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the batch process, labeled by
// job name where a pass is job-scoped.
type Metrics struct {
	ItemsProcessed *prometheus.CounterVec
	ItemsFailed    *prometheus.CounterVec
	BatchDuration  *prometheus.HistogramVec
	ReceiptsSent   prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		ItemsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgerd_items_processed_total",
			Help: "Items processed per reconciliation job, including no-op skips",
		}, []string{"job"}),
		ItemsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgerd_items_failed_total",
			Help: "Items whose processing failed, per job",
		}, []string{"job"}),
		BatchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledgerd_batch_duration_seconds",
			Help:    "Wall time of one batch pass, per job",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"job"}),
		ReceiptsSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ledgerd_receipts_sent_total",
			Help: "Receipt and refund-receipt notifications sent",
		}),
	}
}

// IncrementReceiptsSent increments the sent-notification counter by 1.
func (m *Metrics) IncrementReceiptsSent() {
	m.ReceiptsSent.Inc()
}
