package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	connectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "eshet",
			Subsystem: "client",
			Name:      "connects_total",
			Help:      "Successful server connections, including reconnects.",
		},
	)
	reconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "eshet",
			Subsystem: "client",
			Name:      "reconnects_total",
			Help:      "Successful connections after the first.",
		},
	)
	disconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "eshet",
			Subsystem: "client",
			Name:      "disconnects_total",
			Help:      "Connection teardowns, graceful exit included.",
		},
	)
	framesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "eshet",
			Subsystem: "client",
			Name:      "frames_sent_total",
			Help:      "Frames written to the socket.",
		},
	)
	framesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "eshet",
			Subsystem: "client",
			Name:      "frames_received_total",
			Help:      "Complete frames decoded from the socket.",
		},
	)
	pendingRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "eshet",
			Subsystem: "client",
			Name:      "pending_requests",
			Help:      "Requests awaiting a correlated reply.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			connectsTotal,
			reconnectsTotal,
			disconnectsTotal,
			framesSent,
			framesReceived,
			pendingRequests,
		)
	})
}

func RecordConnect(reconnect bool) {
	RegisterMetrics()
	connectsTotal.Inc()
	if reconnect {
		reconnectsTotal.Inc()
	}
}

func RecordDisconnect() {
	RegisterMetrics()
	disconnectsTotal.Inc()
}

func RecordFrameSent() {
	RegisterMetrics()
	framesSent.Inc()
}

func RecordFrameReceived() {
	RegisterMetrics()
	framesReceived.Inc()
}

func SetPendingRequests(n int) {
	RegisterMetrics()
	pendingRequests.Set(float64(n))
}
