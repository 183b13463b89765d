package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveExchange("blocking", "ok")
	m.ObserveExchange("blocking", "ok")
	m.ObserveExchange("stream", "unavailable")
	m.ObserveCompaction(true)
	m.ObserveCompaction(false)
	m.ObserveGeneration("blocking", 300*time.Millisecond)

	if got := testutil.ToFloat64(m.Exchanges().WithLabelValues("blocking", "ok")); got != 2 {
		t.Fatalf("blocking ok: want 2, got %v", got)
	}
	if got := testutil.ToFloat64(m.Exchanges().WithLabelValues("stream", "unavailable")); got != 1 {
		t.Fatalf("stream unavailable: want 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.Compactions().WithLabelValues("failed")); got != 1 {
		t.Fatalf("failed compactions: want 1, got %v", got)
	}
	if n, err := testutil.GatherAndCount(reg, "edulearn_generation_duration_seconds"); err != nil || n != 1 {
		t.Fatalf("histogram not gathered: %d %v", n, err)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveExchange("blocking", "ok")
	m.ObserveCompaction(true)
	m.ObserveGeneration("stream", time.Second)
}
