package otel

import (
	"context"
	"errors"
	"testing"

	"github.com/MrEthical07/kennelguard"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fixedSource struct {
	snapshot kennelguard.MetricsSnapshot
	dropped  uint64
}

func (f fixedSource) MetricsSnapshot() kennelguard.MetricsSnapshot { return f.snapshot }

func (f fixedSource) AuditDropped() uint64 { return f.dropped }

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				if len(data.DataPoints) > 0 {
					out[m.Name] = data.DataPoints[0].Value
				}
			case metricdata.Gauge[int64]:
				if len(data.DataPoints) > 0 {
					out[m.Name] = data.DataPoints[0].Value
				}
			}
		}
	}
	return out
}

func TestExporterCollects(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("kennelguard-test")

	src := fixedSource{
		snapshot: kennelguard.MetricsSnapshot{
			Counters: map[kennelguard.MetricID]uint64{
				kennelguard.MetricLoginSuccess:   3,
				kennelguard.MetricAPIKeyRejected: 2,
			},
			Histograms: map[kennelguard.MetricID][]uint64{
				kennelguard.MetricVerifyLatency: {4, 1, 0, 0, 0, 0, 0, 1},
			},
		},
		dropped: 5,
	}

	exp, err := New(meter, src)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = exp.Close() })

	got := collect(t, reader)
	want := map[string]int64{
		"kennelguard_login_success_total":                   3,
		"kennelguard_api_key_rejected_total":                2,
		"kennelguard_audit_dropped_total":                   5,
		"kennelguard_verify_latency_seconds_bucket_le_0_01": 5,
		"kennelguard_verify_latency_seconds_bucket_le_inf":  6,
		"kennelguard_verify_latency_seconds_count":          6,
		"kennelguard_refresh_failure_total":                 0,
	}
	for name, v := range want {
		if got[name] != v {
			t.Errorf("%s = %d, want %d", name, got[name], v)
		}
	}
}

func TestExporterWithEngine(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("kennelguard-test")

	var engine *kennelguard.Engine
	exp, err := New(meter, engine)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer exp.Close()

	if got := collect(t, reader)["kennelguard_login_success_total"]; got != 0 {
		t.Fatalf("expected zero from a nil engine, got %d", got)
	}
}

func TestExporterRejectsNil(t *testing.T) {
	meter := sdkmetric.NewMeterProvider().Meter("kennelguard-test")
	if _, err := New(nil, fixedSource{}); !errors.Is(err, ErrNilMeter) {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
	if _, err := New(meter, nil); !errors.Is(err, ErrNilSource) {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	var exp *Exporter
	if err := exp.Close(); err != nil {
		t.Fatalf("nil Close: %v", err)
	}
}
