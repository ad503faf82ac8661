package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_ObserveApplied(t *testing.T) {
	m := New()

	m.ObserveApplied("bid_proposed", 120, 3, 2, 5*time.Millisecond)
	m.ObserveApplied("bid_proposed", 121, 1, 0, time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.EventsApplied.WithLabelValues("bid_proposed")))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.EntityWrites.WithLabelValues("upsert")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.EntityWrites.WithLabelValues("append")))
	assert.Equal(t, float64(121), testutil.ToFloat64(m.LastAppliedBlock))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveApplied("transfer", 1, 1, 1, time.Second)
		m.ObserveSkipped("transfer", "redelivery")
		m.ObserveFailed("transfer", "consistency")
		m.ObservePublished("transfer", 1)
		m.ObserveRequest("/health", 200, time.Millisecond)
	})
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New()
		New()
	})
}
