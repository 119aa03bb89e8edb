package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulerMetrics exposes counters/histograms for the ledger, slot search and
// booking workflow. All methods are safe on a nil receiver.
type SchedulerMetrics struct {
	ledgerOps       *prometheus.CounterVec
	ledgerLatency   *prometheus.HistogramVec
	slotsGenerated  prometheus.Histogram
	workflowCommits *prometheus.CounterVec
	expiredHolds    prometheus.Counter
}

func NewSchedulerMetrics(reg prometheus.Registerer) *SchedulerMetrics {
	m := &SchedulerMetrics{
		ledgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduler",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Booking ledger operations by outcome",
		}, []string{"op", "result"}),
		ledgerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scheduler",
			Subsystem: "ledger",
			Name:      "operation_seconds",
			Help:      "Latency of booking ledger operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		slotsGenerated: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "scheduler",
			Subsystem: "slots",
			Name:      "generated_per_request",
			Help:      "Bookable slots returned per slot search",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		workflowCommits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduler",
			Subsystem: "workflow",
			Name:      "commits_total",
			Help:      "Booking workflow commit attempts by outcome",
		}, []string{"result"}),
		expiredHolds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scheduler",
			Subsystem: "ledger",
			Name:      "expired_holds_total",
			Help:      "Pending bookings cancelled by the expiry worker",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.ledgerOps, m.ledgerLatency, m.slotsGenerated, m.workflowCommits, m.expiredHolds)
	return m
}

func (m *SchedulerMetrics) ObserveLedgerOp(op, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ledgerOps.WithLabelValues(op, result).Inc()
	m.ledgerLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *SchedulerMetrics) ObserveSlotsGenerated(n int) {
	if m == nil {
		return
	}
	m.slotsGenerated.Observe(float64(n))
}

func (m *SchedulerMetrics) ObserveWorkflowCommit(result string) {
	if m == nil {
		return
	}
	m.workflowCommits.WithLabelValues(result).Inc()
}

func (m *SchedulerMetrics) IncExpiredHolds() {
	if m == nil {
		return
	}
	m.expiredHolds.Inc()
}
