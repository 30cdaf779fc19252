package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_ObserveSweep(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveSweep("missed", 2, 1, 0, 10*time.Millisecond)
	m.ObserveSweep("missed", 1, 0, 3, 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.sweeps.WithLabelValues("missed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sweepRecords.WithLabelValues("missed", "applied")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sweepRecords.WithLabelValues("missed", "failed")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveSweep("dispatch", 1, 1, 1, time.Second)
		m.ObserveNotification("sms", "sent")
		m.ObserveRequest("GET", "/health", "200")
	})
}

func TestMetrics_ObserveNotification(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveNotification("sms", "sent")
	m.ObserveNotification("sms", "rejected")
	m.ObserveNotification("sms", "sent")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.notifications.WithLabelValues("sms", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("sms", "rejected")))
}
