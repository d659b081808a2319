package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "holofunk",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"host", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "holofunk",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"host", "method", "path", "status"},
	)
	envelopesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "holofunk",
			Subsystem: "replication",
			Name:      "envelopes_sent_total",
			Help:      "Envelopes handed to the transport.",
		},
		[]string{"host", "type"},
	)
	envelopesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "holofunk",
			Subsystem: "replication",
			Name:      "envelopes_received_total",
			Help:      "Envelopes decoded from the transport.",
		},
		[]string{"host", "type"},
	)
	envelopesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "holofunk",
			Subsystem: "replication",
			Name:      "envelopes_dropped_total",
			Help:      "Envelopes dropped as protocol anomalies or by throttling.",
		},
		[]string{"host", "reason"},
	)
	staleBroadcasts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "holofunk",
			Subsystem: "replication",
			Name:      "broadcasts_stale_total",
			Help:      "Broadcasts discarded because a newer timestamp was already applied.",
		},
		[]string{"host"},
	)
	objects = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "holofunk",
			Subsystem: "replication",
			Name:      "objects",
			Help:      "Distributed objects held, by role.",
		},
		[]string{"host", "role"},
	)
	peers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "holofunk",
			Subsystem: "replication",
			Name:      "peers",
			Help:      "Connected peers.",
		},
		[]string{"host"},
	)
	pollDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "holofunk",
			Subsystem: "replication",
			Name:      "poll_duration_seconds",
			Help:      "Time spent in one PollEvents pass.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
		[]string{"host"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			envelopesSent, envelopesReceived, envelopesDropped, staleBroadcasts,
			objects, peers, pollDuration,
		)
	})
}

func RecordHTTPRequest(host, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(host, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(host, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordEnvelopeSent(host, envType string) {
	RegisterMetrics()
	envelopesSent.WithLabelValues(host, envType).Inc()
}

func RecordEnvelopeReceived(host, envType string) {
	RegisterMetrics()
	envelopesReceived.WithLabelValues(host, envType).Inc()
}

func RecordEnvelopeDropped(host, reason string) {
	RegisterMetrics()
	envelopesDropped.WithLabelValues(host, reason).Inc()
}

func RecordStaleBroadcast(host string) {
	RegisterMetrics()
	staleBroadcasts.WithLabelValues(host).Inc()
}

func SetObjectCounts(host string, owned, proxies int) {
	RegisterMetrics()
	objects.WithLabelValues(host, "owner").Set(float64(owned))
	objects.WithLabelValues(host, "proxy").Set(float64(proxies))
}

func SetPeerCount(host string, n int) {
	RegisterMetrics()
	peers.WithLabelValues(host).Set(float64(n))
}

func ObservePoll(host string, d time.Duration) {
	RegisterMetrics()
	pollDuration.WithLabelValues(host).Observe(d.Seconds())
}
