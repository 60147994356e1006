package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	identitykit "github.com/identitykit/identitykit"
)

type fakeSource struct {
	snapshot identitykit.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() identitykit.MetricsSnapshot { return f.snapshot }
func (f *fakeSource) EventsDropped() uint64                        { return f.dropped }

func TestExporterNilArguments(t *testing.T) {
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	meter := provider.Meter("test")

	if _, err := NewOTelExporterFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Errorf("nil meter error = %v", err)
	}
	if _, err := NewOTelExporterFromSource(meter, nil); err != ErrNilSource {
		t.Errorf("nil source error = %v", err)
	}
}

func TestExporterObservesCounters(t *testing.T) {
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	meter := provider.Meter("test")

	source := &fakeSource{
		snapshot: identitykit.MetricsSnapshot{
			Counters: map[identitykit.MetricID]uint64{
				identitykit.MetricSignInSuccess: 5,
			},
			Histograms: map[identitykit.MetricID][]uint64{
				identitykit.MetricSignInLatency: {2, 1, 0, 0, 0, 0, 0, 0},
			},
		},
		dropped: 1,
	}
	exporter, err := NewOTelExporterFromSource(meter, source)
	if err != nil {
		t.Fatalf("create exporter: %v", err)
	}
	defer exporter.Close()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}

	got := map[string]int64{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					got[m.Name] = dp.Value
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					got[m.Name] = dp.Value
				}
			}
		}
	}

	want := map[string]int64{
		"identitykit_signin_success_total":                5,
		"identitykit_events_dropped_total":                1,
		"identitykit_signin_latency_seconds_bucket_le_0_005": 2,
		"identitykit_signin_latency_seconds_bucket_le_0_01":  3,
		"identitykit_signin_latency_seconds_count":           3,
	}
	for name, value := range want {
		if got[name] != value {
			t.Errorf("%s = %d, want %d", name, got[name], value)
		}
	}
}

func TestExporterCloseUnregisters(t *testing.T) {
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	meter := provider.Meter("test")

	exporter, err := NewOTelExporterFromSource(meter, &fakeSource{snapshot: identitykit.MetricsSnapshot{
		Counters:   map[identitykit.MetricID]uint64{},
		Histograms: map[identitykit.MetricID][]uint64{},
	}})
	if err != nil {
		t.Fatalf("create exporter: %v", err)
	}
	if err := exporter.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
	if err := exporter.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}
