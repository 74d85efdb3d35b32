package webhooks

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsCollector receives operational measurements from the delivery
// subsystem. Implementations must be safe for concurrent use.
type MetricsCollector interface {
	IncrementCounter(name string, tags map[string]string)
	RecordDuration(name string, duration time.Duration, tags map[string]string)
	RecordGauge(name string, value float64, tags map[string]string)
}

// NopMetricsCollector is a metrics collector that does nothing.
// It is used as a default when no other collector is provided.
type NopMetricsCollector struct{}

// NewNopMetricsCollector creates a new NopMetricsCollector.
func NewNopMetricsCollector() *NopMetricsCollector {
	return &NopMetricsCollector{}
}

func (m *NopMetricsCollector) IncrementCounter(name string, tags map[string]string) {}

func (m *NopMetricsCollector) RecordDuration(name string, duration time.Duration, tags map[string]string) {
}

func (m *NopMetricsCollector) RecordGauge(name string, value float64, tags map[string]string) {}

// OpenTelemetryMetricsCollector reports measurements through the
// OpenTelemetry SDK. Instruments are created lazily and cached by name.
type OpenTelemetryMetricsCollector struct {
	meter metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
	gauges     map[string]metric.Float64UpDownCounter
}

// NewOpenTelemetryMetricsCollector creates a collector backed by the global
// meter provider.
func NewOpenTelemetryMetricsCollector() *OpenTelemetryMetricsCollector {
	return NewOpenTelemetryMetricsCollectorWithMeter(otel.Meter("webhooks"))
}

// NewOpenTelemetryMetricsCollectorWithMeter creates a collector backed by a
// specific meter.
func NewOpenTelemetryMetricsCollectorWithMeter(meter metric.Meter) *OpenTelemetryMetricsCollector {
	return &OpenTelemetryMetricsCollector{
		meter:      meter,
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
		gauges:     make(map[string]metric.Float64UpDownCounter),
	}
}

func (m *OpenTelemetryMetricsCollector) IncrementCounter(name string, tags map[string]string) {
	counter, err := m.getOrCreateCounter(name)
	if err != nil {
		return
	}
	counter.Add(context.Background(), 1, metric.WithAttributes(tagsToAttributes(tags)...))
}

func (m *OpenTelemetryMetricsCollector) RecordDuration(name string, duration time.Duration, tags map[string]string) {
	histogram, err := m.getOrCreateHistogram(name)
	if err != nil {
		return
	}
	histogram.Record(context.Background(), duration.Seconds(), metric.WithAttributes(tagsToAttributes(tags)...))
}

func (m *OpenTelemetryMetricsCollector) RecordGauge(name string, value float64, tags map[string]string) {
	gauge, err := m.getOrCreateGauge(name)
	if err != nil {
		return
	}
	gauge.Add(context.Background(), value, metric.WithAttributes(tagsToAttributes(tags)...))
}

func (m *OpenTelemetryMetricsCollector) getOrCreateCounter(name string) (metric.Int64Counter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if counter, exists := m.counters[name]; exists {
		return counter, nil
	}
	counter, err := m.meter.Int64Counter(name)
	if err != nil {
		return nil, err
	}
	m.counters[name] = counter
	return counter, nil
}

func (m *OpenTelemetryMetricsCollector) getOrCreateHistogram(name string) (metric.Float64Histogram, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if histogram, exists := m.histograms[name]; exists {
		return histogram, nil
	}
	histogram, err := m.meter.Float64Histogram(name, metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	m.histograms[name] = histogram
	return histogram, nil
}

func (m *OpenTelemetryMetricsCollector) getOrCreateGauge(name string) (metric.Float64UpDownCounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gauge, exists := m.gauges[name]; exists {
		return gauge, nil
	}
	gauge, err := m.meter.Float64UpDownCounter(name)
	if err != nil {
		return nil, err
	}
	m.gauges[name] = gauge
	return gauge, nil
}

func tagsToAttributes(tags map[string]string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(tags))
	for key, value := range tags {
		attrs = append(attrs, attribute.String(key, value))
	}
	return attrs
}
