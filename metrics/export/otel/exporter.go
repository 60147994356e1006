package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	identitykit "github.com/identitykit/identitykit"
	"github.com/identitykit/identitykit/metrics/export/internaldefs"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() identitykit.MetricsSnapshot
	EventsDropped() uint64
}

// view is one collected snapshot with histogram buckets already cumulated.
type view struct {
	counters   map[identitykit.MetricID]uint64
	histograms map[identitykit.MetricID][]uint64
	dropped    uint64
}

// point pairs a registered instrument with the function that reads its
// value out of a view.
type point struct {
	instrument metric.Int64Observable
	read       func(view) int64
}

// OTelExporter observes every engine counter and histogram bucket through
// a single registered callback.
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration
}

// NewOTelExporter registers instruments on meter reading from engine.
func NewOTelExporter(meter metric.Meter, engine *identitykit.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

// NewOTelExporterFromSource registers instruments reading from a custom
// snapshot source.
func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	var points []point
	add := func(ins metric.Int64Observable, read func(view) int64, err error, name string) error {
		if err != nil {
			return fmt.Errorf("create instrument %s: %w", name, err)
		}
		points = append(points, point{instrument: ins, read: read})
		return nil
	}

	for _, def := range internaldefs.Counters {
		id := def.ID
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err := add(ins, func(v view) int64 { return int64(v.counters[id]) }, err, def.Name); err != nil {
			return nil, err
		}
	}

	for _, def := range internaldefs.Histograms {
		id := def.ID
		for i, bucket := range internaldefs.Buckets {
			i := i // per-iteration copy for the closure below (pre-1.22 loop semantics)
			name := def.Name + "_bucket_le_" + bucket.Suffix
			ins, err := meter.Int64ObservableGauge(name, metric.WithDescription("Cumulative histogram bucket count."))
			if err := add(ins, func(v view) int64 { return int64(v.histograms[id][i]) }, err, name); err != nil {
				return nil, err
			}
		}
		name := def.Name + "_count"
		ins, err := meter.Int64ObservableGauge(name, metric.WithDescription("Histogram total sample count."))
		read := func(v view) int64 {
			buckets := v.histograms[id]
			return int64(buckets[len(buckets)-1])
		}
		if err := add(ins, read, err, name); err != nil {
			return nil, err
		}
	}

	dropDef := internaldefs.EventsDropped
	ins, err := meter.Int64ObservableCounter(dropDef.Name, metric.WithDescription(dropDef.Help))
	if err := add(ins, func(v view) int64 { return int64(v.dropped) }, err, dropDef.Name); err != nil {
		return nil, err
	}

	observables := make([]metric.Observable, len(points))
	for i, p := range points {
		observables[i] = p.instrument
	}

	registration, err := meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		v := collect(source)
		for _, p := range points {
			observer.ObserveInt64(p.instrument, p.read(v))
		}
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}

	return &OTelExporter{source: source, registration: registration}, nil
}

func collect(source metricsSource) view {
	snapshot := source.MetricsSnapshot()
	v := view{
		counters:   snapshot.Counters,
		histograms: make(map[identitykit.MetricID][]uint64, len(internaldefs.Histograms)),
		dropped:    source.EventsDropped(),
	}
	for _, def := range internaldefs.Histograms {
		v.histograms[def.ID] = internaldefs.Cumulate(snapshot.Histograms[def.ID])
	}
	return v
}

// Close unregisters the observation callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
