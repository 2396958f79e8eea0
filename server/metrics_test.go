package server

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsCollectEmitsEverySeries(t *testing.T) {
	m := newMetrics()
	m.bytesSent.Add(10)
	m.packetsDropped.Inc()

	ch := make(chan prometheus.Metric, 16)
	m.Collect(ch)
	close(ch)

	count := 0
	for range ch {
		count++
	}
	if count != 6 {
		t.Fatalf("expected 6 collected series, got %d", count)
	}
}
