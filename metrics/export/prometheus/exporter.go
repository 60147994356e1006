package prometheus

import (
	"fmt"
	"net/http"
	"strings"

	identitykit "github.com/identitykit/identitykit"
	"github.com/identitykit/identitykit/metrics/export/internaldefs"
)

type metricsSource interface {
	MetricsSnapshot() identitykit.MetricsSnapshot
	EventsDropped() uint64
}

// PrometheusExporter renders engine metrics in Prometheus text exposition
// format.
type PrometheusExporter struct {
	source metricsSource
}

// NewPrometheusExporter creates an exporter that reads from the given
// [identitykit.Engine].
func NewPrometheusExporter(engine *identitykit.Engine) *PrometheusExporter {
	return &PrometheusExporter{source: engine}
}

// NewPrometheusExporterFromSource creates an exporter from a custom
// snapshot source.
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler returns an http.Handler that serves the metrics.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render writes the current metrics in Prometheus text exposition format.
// An engine that has recorded nothing renders to the empty string.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.EventsDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(8192)

	for _, def := range internaldefs.Counters {
		counter(&b, def, snapshot.Counters[def.ID])
	}
	for _, def := range internaldefs.Histograms {
		histogram(&b, def, internaldefs.Cumulate(snapshot.Histograms[def.ID]))
	}
	counter(&b, internaldefs.EventsDropped, dropped)

	return b.String()
}

func counter(b *strings.Builder, def internaldefs.Def, value uint64) {
	header(b, def, "counter")
	fmt.Fprintf(b, "%s %d\n", def.Name, value)
}

func histogram(b *strings.Builder, def internaldefs.Def, cumulative []uint64) {
	header(b, def, "histogram")
	for i, bucket := range internaldefs.Buckets {
		fmt.Fprintf(b, "%s_bucket{le=%q} %d\n", def.Name, bucket.Le, cumulative[i])
	}
	fmt.Fprintf(b, "%s_count %d\n", def.Name, cumulative[len(cumulative)-1])
	// The engine snapshot carries no latency sum; emit a stable zero so
	// scrapers see a complete histogram family.
	fmt.Fprintf(b, "%s_sum 0\n", def.Name)
}

func header(b *strings.Builder, def internaldefs.Def, kind string) {
	help := strings.ReplaceAll(def.Help, "\\", "\\\\")
	help = strings.ReplaceAll(help, "\n", "\\n")
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s %s\n", def.Name, help, def.Name, kind)
}
