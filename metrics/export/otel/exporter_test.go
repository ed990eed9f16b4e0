package otel

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"

	goTrust "github.com/cepmachine/goTrust"
	"github.com/cepmachine/goTrust/enforce"
	"github.com/cepmachine/goTrust/rbac"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot goTrust.MetricsSnapshot
	dropped  uint64
	roles    []rbac.Role
}

func (f *fakeSource) MetricsSnapshot() goTrust.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := goTrust.MetricsSnapshot{
		Counters:   make(map[goTrust.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[goTrust.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		next := make([]uint64, len(buckets))
		copy(next, buckets)
		out.Histograms[k] = next
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func (f *fakeSource) Roles() []rbac.Role {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]rbac.Role(nil), f.roles...)
}

func newReader() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

// collectInt flattens int64 data points into "name{k=v,...}" keys.
func collectInt(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out[seriesKey(m.Name, dp.Attributes)] += dp.Value
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					out[seriesKey(m.Name, dp.Attributes)] += dp.Value
				}
			}
		}
	}
	return out
}

func seriesKey(name string, attrs attribute.Set) string {
	if attrs.Len() == 0 {
		return name
	}
	parts := make([]string, 0, attrs.Len())
	for _, kv := range attrs.ToSlice() {
		parts = append(parts, string(kv.Key)+"="+kv.Value.Emit())
	}
	sort.Strings(parts)
	return name + "{" + strings.Join(parts, ",") + "}"
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader, provider := newReader()
	meter := provider.Meter("gotrust-test")

	src := &fakeSource{
		snapshot: goTrust.MetricsSnapshot{
			Counters: map[goTrust.MetricID]uint64{
				goTrust.MetricLoginSuccess:     3,
				goTrust.MetricPermissionDenied: 2,
			},
			Histograms: map[goTrust.MetricID][]uint64{
				goTrust.MetricVerifyLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
		roles: []rbac.Role{
			{Name: rbac.RoleViewer, IsSystemRole: true},
			{Name: "analyst"},
			{Name: "auditor"},
		},
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	got := collectInt(t, reader)
	for key, want := range map[string]int64{
		"gotrust_logins_total{outcome=success}":            3,
		"gotrust_logins_total{outcome=failure}":            0,
		"gotrust_authorizations_total{decision=denied}":    2,
		"gotrust_store_errors_total":                       0,
		"gotrust_verify_latency_seconds_bucket{le=0.0001}": 1,
		"gotrust_verify_latency_seconds_bucket{le=+Inf}":   8,
		"gotrust_verify_latency_seconds_count":             8,
		"gotrust_roles{kind=system}":                       1,
		"gotrust_roles{kind=custom}":                       2,
		"gotrust_audit_dropped_total":                      1,
	} {
		v, ok := got[key]
		if !ok || v != want {
			t.Fatalf("%s: expected %d, got %d (present=%v)\n%v", key, want, v, ok, got)
		}
	}
}

func TestExporterReadsLiveEngine(t *testing.T) {
	reader, provider := newReader()
	cfg := goTrust.DefaultConfig()
	cfg.Token.SecretKey = "0123456789abcdef0123456789abcdef"
	engine, err := goTrust.New().WithConfig(cfg).WithMetricsEnabled(true).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer engine.Close()

	exp, err := NewOTelExporter(provider.Meter("gotrust-test"), engine)
	if err != nil {
		t.Fatalf("NewOTelExporter failed: %v", err)
	}
	defer exp.Close()

	viewer := &rbac.Principal{ID: "u1", Role: rbac.RoleViewer, IsActive: true}
	ctx := context.Background()
	_ = engine.Authorize(ctx, viewer, enforce.Permission(rbac.ManageUsers))
	_ = engine.Authorize(ctx, viewer, enforce.Permission(rbac.ReadProspects))

	got := collectInt(t, reader)
	if got["gotrust_authorizations_total{decision=denied}"] != 1 || got["gotrust_authorizations_total{decision=granted}"] != 1 {
		t.Fatalf("unexpected authorization counters: %v", got)
	}
	if got["gotrust_roles{kind=system}"] != 4 {
		t.Fatalf("expected 4 system roles, got %v", got)
	}
}

func TestExporterRejectsNilInputs(t *testing.T) {
	_, provider := newReader()
	meter := provider.Meter("gotrust-test")

	if _, err := NewOTelExporterFromSource(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewOTelExporter(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource for nil engine, got %v", err)
	}
	if _, err := NewOTelExporterFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newReader()
	meter := provider.Meter("gotrust-test")

	src := &fakeSource{
		snapshot: goTrust.MetricsSnapshot{
			Counters: map[goTrust.MetricID]uint64{
				goTrust.MetricTokenVerified: 1,
			},
			Histograms: map[goTrust.MetricID][]uint64{
				goTrust.MetricVerifyLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[goTrust.MetricTokenVerified] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
