package otel

import (
	"context"
	"errors"
	"fmt"

	goTrust "github.com/cepmachine/goTrust"
	"github.com/cepmachine/goTrust/metrics/export/internaldefs"
	"github.com/cepmachine/goTrust/rbac"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// MetricsSource is what the exporter reads on each collection. *goTrust.Engine
// satisfies it.
type MetricsSource interface {
	MetricsSnapshot() goTrust.MetricsSnapshot
	AuditDropped() uint64
	Roles() []rbac.Role
}

// observedSeries is one engine counter and the attribute set it is reported with.
type observedSeries struct {
	id    goTrust.MetricID
	attrs metric.ObserveOption
}

type observedFamily struct {
	instrument metric.Int64ObservableCounter
	series     []observedSeries
}

type observedHistogram struct {
	id      goTrust.MetricID
	buckets metric.Int64ObservableGauge
	bounds  []metric.ObserveOption
	count   metric.Int64ObservableGauge
}

// OTelExporter publishes engine counters through one registered callback.
type OTelExporter struct {
	source       MetricsSource
	registration metric.Registration
	families     []observedFamily
	histograms   []observedHistogram
	roles        metric.Int64ObservableGauge
	auditDropped metric.Int64ObservableCounter
}

// NewOTelExporter registers observable instruments for engine on meter.
func NewOTelExporter(meter metric.Meter, engine *goTrust.Engine) (*OTelExporter, error) {
	if engine == nil {
		return nil, ErrNilSource
	}
	return NewOTelExporterFromSource(meter, engine)
}

func NewOTelExporterFromSource(meter metric.Meter, source MetricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exporter := &OTelExporter{source: source}
	var observables []metric.Observable

	for _, fam := range internaldefs.CounterFamilies {
		ins, err := meter.Int64ObservableCounter(fam.Name, metric.WithDescription(fam.Help))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", fam.Name, err)
		}
		of := observedFamily{instrument: ins, series: make([]observedSeries, 0, len(fam.Series))}
		for _, s := range fam.Series {
			var attrs attribute.Set
			if fam.Label != "" {
				attrs = attribute.NewSet(attribute.String(fam.Label, s.Value))
			}
			of.series = append(of.series, observedSeries{id: s.ID, attrs: metric.WithAttributeSet(attrs)})
		}
		exporter.families = append(exporter.families, of)
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.HistogramDefs {
		h := observedHistogram{id: def.ID}
		var err error
		h.buckets, err = meter.Int64ObservableGauge(def.Name+"_bucket",
			metric.WithDescription(def.Help+" Cumulative count per upper bound."))
		if err != nil {
			return nil, fmt.Errorf("create histogram buckets %s: %w", def.Name, err)
		}
		h.count, err = meter.Int64ObservableGauge(def.Name+"_count",
			metric.WithDescription(def.Help+" Total samples."))
		if err != nil {
			return nil, fmt.Errorf("create histogram count %s: %w", def.Name, err)
		}
		for _, le := range internaldefs.HistogramBounds {
			h.bounds = append(h.bounds, metric.WithAttributes(attribute.String("le", le)))
		}
		exporter.histograms = append(exporter.histograms, h)
		observables = append(observables, h.buckets, h.count)
	}

	var err error
	exporter.roles, err = meter.Int64ObservableGauge(internaldefs.RolesName, metric.WithDescription(internaldefs.RolesHelp))
	if err != nil {
		return nil, fmt.Errorf("create roles gauge: %w", err)
	}
	exporter.auditDropped, err = meter.Int64ObservableCounter(internaldefs.AuditDroppedName,
		metric.WithDescription(internaldefs.AuditDroppedHelp))
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	observables = append(observables, exporter.roles, exporter.auditDropped)

	exporter.registration, err = meter.RegisterCallback(exporter.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return exporter, nil
}

var (
	systemRoles = metric.WithAttributes(attribute.String(internaldefs.RolesLabel, "system"))
	customRoles = metric.WithAttributes(attribute.String(internaldefs.RolesLabel, "custom"))
)

func (e *OTelExporter) observe(_ context.Context, observer metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, fam := range e.families {
		for _, s := range fam.series {
			observer.ObserveInt64(fam.instrument, int64(snapshot.Counters[s.id]), s.attrs)
		}
	}
	for _, h := range e.histograms {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[h.id]))
		for i, opt := range h.bounds {
			observer.ObserveInt64(h.buckets, int64(cumulative[i]), opt)
		}
		observer.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]))
	}

	system, custom := internaldefs.RoleCounts(e.source.Roles())
	observer.ObserveInt64(e.roles, int64(system), systemRoles)
	observer.ObserveInt64(e.roles, int64(custom), customRoles)
	observer.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the callback. The meter provider stays with the caller.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
