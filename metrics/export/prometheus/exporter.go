package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	goTrust "github.com/cepmachine/goTrust"
	"github.com/cepmachine/goTrust/metrics/export/internaldefs"
	"github.com/cepmachine/goTrust/rbac"
)

const contentType = "text/plain; version=0.0.4; charset=utf-8"

// MetricsSource is what Render reads. *goTrust.Engine satisfies it.
type MetricsSource interface {
	MetricsSnapshot() goTrust.MetricsSnapshot
	AuditDropped() uint64
	Roles() []rbac.Role
}

// PrometheusExporter renders engine metrics in the text exposition format.
type PrometheusExporter struct {
	source MetricsSource
}

// NewPrometheusExporter reads from engine.
func NewPrometheusExporter(engine *goTrust.Engine) *PrometheusExporter {
	if engine == nil {
		return &PrometheusExporter{}
	}
	return &PrometheusExporter{source: engine}
}

// NewPrometheusExporterFromSource reads from source.
func NewPrometheusExporterFromSource(source MetricsSource) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler serves Render. Only GET and HEAD are allowed.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", contentType)
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render returns the current snapshot. It is empty while engine metrics are
// disabled.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return ""
	}

	var e exposition
	e.b.Grow(4096)

	for _, fam := range internaldefs.CounterFamilies {
		e.header(fam.Name, fam.Help, "counter")
		for _, s := range fam.Series {
			e.sample(fam.Name, fam.Label, s.Value, snapshot.Counters[s.ID])
		}
	}

	for _, def := range internaldefs.HistogramDefs {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[def.ID]))
		e.header(def.Name, def.Help, "histogram")
		for i, le := range internaldefs.HistogramBounds {
			e.sample(def.Name+"_bucket", "le", le, cumulative[i])
		}
		e.sample(def.Name+"_count", "", "", cumulative[len(cumulative)-1])
		// no sum is tracked
		e.sample(def.Name+"_sum", "", "", 0)
	}

	system, custom := internaldefs.RoleCounts(p.source.Roles())
	e.header(internaldefs.RolesName, internaldefs.RolesHelp, "gauge")
	e.sample(internaldefs.RolesName, internaldefs.RolesLabel, "system", system)
	e.sample(internaldefs.RolesName, internaldefs.RolesLabel, "custom", custom)

	e.header(internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, "counter")
	e.sample(internaldefs.AuditDroppedName, "", "", dropped)

	return e.b.String()
}

type exposition struct {
	b strings.Builder
}

func (e *exposition) header(name, help, kind string) {
	e.b.WriteString("# HELP ")
	e.b.WriteString(name)
	e.b.WriteByte(' ')
	e.b.WriteString(escapeHelp(help))
	e.b.WriteString("\n# TYPE ")
	e.b.WriteString(name)
	e.b.WriteByte(' ')
	e.b.WriteString(kind)
	e.b.WriteByte('\n')
}

// sample writes one line. label is omitted when empty.
func (e *exposition) sample(name, label, value string, n uint64) {
	e.b.WriteString(name)
	if label != "" {
		e.b.WriteByte('{')
		e.b.WriteString(label)
		e.b.WriteString(`="`)
		e.b.WriteString(escapeLabel(value))
		e.b.WriteString(`"}`)
	}
	e.b.WriteByte(' ')
	e.b.WriteString(strconv.FormatUint(n, 10))
	e.b.WriteByte('\n')
}

var (
	helpEscaper  = strings.NewReplacer(`\`, `\\`, "\n", `\n`)
	labelEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`, `"`, `\"`)
)

func escapeHelp(help string) string   { return helpEscaper.Replace(help) }
func escapeLabel(value string) string { return labelEscaper.Replace(value) }
