package webhooks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel"
)

func TestNopMetricsCollector(t *testing.T) {
	m := NewNopMetricsCollector()

	assert.NotPanics(t, func() {
		m.IncrementCounter("webhooks.delivery.success", map[string]string{"event_type": "space.created"})
		m.RecordDuration("webhooks.delivery.duration", time.Second, nil)
		m.RecordGauge("webhooks.queue.depth", 3, nil)
	})
}

func TestOpenTelemetryMetricsCollector_CachesInstruments(t *testing.T) {
	m := NewOpenTelemetryMetricsCollectorWithMeter(otel.Meter("webhooks-test"))

	m.IncrementCounter("webhooks.delivery.success", nil)
	m.IncrementCounter("webhooks.delivery.success", nil)
	m.IncrementCounter("webhooks.delivery.failed", nil)
	assert.Len(t, m.counters, 2)

	m.RecordDuration("webhooks.delivery.duration", time.Millisecond, nil)
	m.RecordDuration("webhooks.delivery.duration", 2*time.Millisecond, nil)
	assert.Len(t, m.histograms, 1)

	m.RecordGauge("webhooks.queue.depth", 1, nil)
	assert.Len(t, m.gauges, 1)
}

func TestTagsToAttributes(t *testing.T) {
	attrs := tagsToAttributes(map[string]string{"event_type": "document.added"})
	assert.Len(t, attrs, 1)
	assert.Equal(t, "event_type", string(attrs[0].Key))
	assert.Equal(t, "document.added", attrs[0].Value.AsString())

	assert.Empty(t, tagsToAttributes(nil))
}
