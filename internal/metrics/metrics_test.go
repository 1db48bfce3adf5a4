package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveSubmission("propose", nil)
	m.ObserveSubmission("propose", errors.New("boom"))
	m.ObserveSubmission("propose", nil)
	m.ObserveProposeRetry()
	m.ObserveLedgerCall("getAccountInfo", 20*time.Millisecond, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.submissions.WithLabelValues("propose", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.submissions.WithLabelValues("propose", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.proposeRetry))

	m.SetTracked(map[string]int{"active": 2, "approved": 1})
	m.SetTracked(map[string]int{"approved": 3})
	assert.Equal(t, 1, testutil.CollectAndCount(m.trackedStatus))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.trackedStatus.WithLabelValues("approved")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveSubmission("execute", nil)
		m.ObserveProposeRetry()
		m.ObserveLedgerCall("sendTransaction", time.Second, nil)
		m.SetTracked(map[string]int{"active": 1})
	})
}
