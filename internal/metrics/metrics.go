package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "squadsflow"

// Metrics holds the collectors of one process. Construct it once and pass it
// to the components that report.
type Metrics struct {
	submissions   *prometheus.CounterVec
	proposeRetry  prometheus.Counter
	ledgerCalls   *prometheus.HistogramVec
	trackedStatus *prometheus.GaugeVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Transactions submitted to the multisig program, by operation and result.",
		}, []string{"op", "result"}),
		proposeRetry: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "propose_retries_total",
			Help:      "Proposals rebuilt after a stale transaction index.",
		}),
		ledgerCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ledger_call_seconds",
			Help:      "Latency of ledger calls.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"method", "result"}),
		trackedStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_proposals",
			Help:      "Tracked proposals by last known status.",
		}, []string{"status"}),
	}
	if reg != nil {
		reg.MustRegister(m.submissions, m.proposeRetry, m.ledgerCalls, m.trackedStatus)
	}
	return m
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) ObserveSubmission(op string, err error) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(op, result(err)).Inc()
}

func (m *Metrics) ObserveProposeRetry() {
	if m == nil {
		return
	}
	m.proposeRetry.Inc()
}

func (m *Metrics) ObserveLedgerCall(method string, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.ledgerCalls.WithLabelValues(method, result(err)).Observe(took.Seconds())
}

// SetTracked replaces the tracked proposal gauge with counts.
func (m *Metrics) SetTracked(counts map[string]int) {
	if m == nil {
		return
	}
	m.trackedStatus.Reset()
	for status, n := range counts {
		m.trackedStatus.WithLabelValues(status).Set(float64(n))
	}
}
