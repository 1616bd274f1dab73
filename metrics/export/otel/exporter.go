package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/kennelguard"
	"github.com/MrEthical07/kennelguard/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("otel: nil meter")
	ErrNilSource = errors.New("otel: nil metrics source")
)

// Source supplies snapshots. *kennelguard.Engine implements it.
type Source interface {
	MetricsSnapshot() kennelguard.MetricsSnapshot
	AuditDropped() uint64
}

var _ Source = (*kennelguard.Engine)(nil)

type counterInstrument struct {
	id         kennelguard.MetricID
	instrument metric.Int64ObservableCounter
}

// Exporter holds the registered instruments until Close.
type Exporter struct {
	source       Source
	registration metric.Registration

	counters     []counterInstrument
	buckets      [8]metric.Int64ObservableGauge
	latencyCount metric.Int64ObservableGauge
	auditDropped metric.Int64ObservableCounter
}

// New registers every kennelguard series on meter.
func New(meter metric.Meter, source Source) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{source: source}
	observables := make([]metric.Observable, 0, len(internaldefs.Counters)+len(e.buckets)+2)

	for _, def := range internaldefs.Counters {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("otel: counter %s: %w", def.Name, err)
		}
		e.counters = append(e.counters, counterInstrument{id: def.ID, instrument: ins})
		observables = append(observables, ins)
	}

	latency := internaldefs.VerifyLatency
	for i, suffix := range internaldefs.BoundSuffix {
		name := latency.Name + "_bucket_le_" + suffix
		ins, err := meter.Int64ObservableGauge(name, metric.WithDescription(latency.Help+" Cumulative bucket."))
		if err != nil {
			return nil, fmt.Errorf("otel: gauge %s: %w", name, err)
		}
		e.buckets[i] = ins
		observables = append(observables, ins)
	}
	count, err := meter.Int64ObservableGauge(latency.Name+"_count", metric.WithDescription(latency.Help+" Sample count."))
	if err != nil {
		return nil, fmt.Errorf("otel: gauge %s_count: %w", latency.Name, err)
	}
	e.latencyCount = count
	observables = append(observables, count)

	dropped, err := meter.Int64ObservableCounter(internaldefs.AuditDropped.Name, metric.WithDescription(internaldefs.AuditDropped.Help))
	if err != nil {
		return nil, fmt.Errorf("otel: counter %s: %w", internaldefs.AuditDropped.Name, err)
	}
	e.auditDropped = dropped
	observables = append(observables, dropped)

	reg, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("otel: register callback: %w", err)
	}
	e.registration = reg
	return e, nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	snap := e.source.MetricsSnapshot()
	for _, c := range e.counters {
		o.ObserveInt64(c.instrument, int64(snap.Counters[c.id]))
	}

	cumulative := internaldefs.Cumulative(snap.Histograms[kennelguard.MetricVerifyLatency])
	for i, ins := range e.buckets {
		o.ObserveInt64(ins, int64(cumulative[i]))
	}
	o.ObserveInt64(e.latencyCount, int64(cumulative[len(cumulative)-1]))
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the callback. It is safe on a nil Exporter.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
