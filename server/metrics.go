package server

import "github.com/prometheus/client_golang/prometheus"

// Metrics is a Prometheus instrumentation surface for one Server: ambient
// observability, not a dashboard or HTTP exporter. The host registers
// Collector() with its own registry, or never does at all.
type Metrics struct {
	clientsConnected prometheus.Gauge
	bytesSent        prometheus.Counter
	bytesReceived    prometheus.Counter
	packetsDropped   prometheus.Counter
	rtt              prometheus.Gauge
	packetLoss       prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "shardnet",
			Subsystem: "server",
			Name:      "clients_connected",
			Help:      "Number of clients currently in the Connected state.",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shardnet",
			Subsystem: "server",
			Name:      "bytes_sent_total",
			Help:      "Total bytes written to all slots.",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shardnet",
			Subsystem: "server",
			Name:      "bytes_received_total",
			Help:      "Total bytes read from all slots.",
		}),
		packetsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shardnet",
			Subsystem: "server",
			Name:      "packets_dropped_total",
			Help:      "Datagrams dropped for protocol/auth/replay reasons.",
		}),
		rtt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "shardnet",
			Subsystem: "server",
			Name:      "rtt_seconds_avg",
			Help:      "Mean RTT across connected clients, in seconds.",
		}),
		packetLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "shardnet",
			Subsystem: "server",
			Name:      "packet_loss_ratio_avg",
			Help:      "Mean estimated packet loss ratio across connected clients.",
		}),
	}
}

// Collect implements prometheus.Collector by delegating to each gauge's
// own Collect; Describe below does the same for the descriptors.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.clientsConnected.Collect(ch)
	m.bytesSent.Collect(ch)
	m.bytesReceived.Collect(ch)
	m.packetsDropped.Collect(ch)
	m.rtt.Collect(ch)
	m.packetLoss.Collect(ch)
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.clientsConnected.Describe(ch)
	m.bytesSent.Describe(ch)
	m.bytesReceived.Describe(ch)
	m.packetsDropped.Describe(ch)
	m.rtt.Describe(ch)
	m.packetLoss.Describe(ch)
}
