package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSchedulerMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSchedulerMetrics(reg)

	m.ObserveLedgerOp("reserve", "ok", 10*time.Millisecond)
	m.ObserveLedgerOp("reserve", "conflict", 5*time.Millisecond)
	m.ObserveLedgerOp("reserve", "conflict", 5*time.Millisecond)
	m.ObserveSlotsGenerated(6)
	m.ObserveWorkflowCommit("ok")
	m.IncExpiredHolds()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ledgerOps.WithLabelValues("reserve", "conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerOps.WithLabelValues("reserve", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.workflowCommits.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.expiredHolds))
}

func TestSchedulerMetricsNilSafe(t *testing.T) {
	var m *SchedulerMetrics
	m.ObserveLedgerOp("confirm", "ok", time.Millisecond)
	m.ObserveSlotsGenerated(1)
	m.ObserveWorkflowCommit("conflict")
	m.IncExpiredHolds()
}
