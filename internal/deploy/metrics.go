package deploy

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultAccepted    = "accepted"
	resultRejected    = "rejected"
	resultUnavailable = "unavailable"
	resultBuildFailed = "build_failed"
)

// Metrics is scoped to one run; each run gets its own registry so a textfile
// export only carries that run.
type Metrics struct {
	registry    *prometheus.Registry
	submissions *prometheus.CounterVec
	broadcast   prometheus.Histogram
	nextNonce   prometheus.Gauge
	halted      prometheus.Gauge
}

func NewMetrics(network string) *Metrics {
	labels := prometheus.Labels{"network": network}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "deploy",
			Name:        "submissions_total",
			Help:        "Contract deploy submissions by result.",
			ConstLabels: labels,
		}, []string{"result"}),
		broadcast: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "deploy",
			Name:        "broadcast_duration_seconds",
			Help:        "Round trip time of transaction broadcasts.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		nextNonce: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "deploy",
			Name:        "next_nonce",
			Help:        "Nonce the next submission will use.",
			ConstLabels: labels,
		}),
		halted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "deploy",
			Name:        "run_halted",
			Help:        "1 when the last run halted before completing.",
			ConstLabels: labels,
		}),
	}
	m.registry.MustRegister(m.submissions, m.broadcast, m.nextNonce, m.halted)
	return m
}

// WriteTextfile writes the registry in node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

func (m *Metrics) observeSubmission(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(result).Inc()
	if elapsed > 0 {
		m.broadcast.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) setNextNonce(n uint64) {
	if m == nil {
		return
	}
	m.nextNonce.Set(float64(n))
}

func (m *Metrics) setHalted(halted bool) {
	if m == nil {
		return
	}
	if halted {
		m.halted.Set(1)
		return
	}
	m.halted.Set(0)
}
