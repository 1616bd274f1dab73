package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/MrEthical07/kennelguard"
	"github.com/MrEthical07/kennelguard/metrics/export/internaldefs"
)

// Source supplies snapshots. *kennelguard.Engine implements it.
type Source interface {
	MetricsSnapshot() kennelguard.MetricsSnapshot
	AuditDropped() uint64
}

var _ Source = (*kennelguard.Engine)(nil)

// Exporter renders a Source on each scrape.
type Exporter struct {
	source Source
}

func New(source Source) *Exporter {
	return &Exporter{source: source}
}

// Handler serves Render with the text format content type.
func (e *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(e.Render()))
	})
}

// Render returns the current metrics, or "" when the engine records none.
func (e *Exporter) Render() string {
	if e == nil || e.source == nil {
		return ""
	}
	snap := e.source.MetricsSnapshot()
	dropped := e.source.AuditDropped()
	if len(snap.Counters) == 0 && len(snap.Histograms) == 0 && dropped == 0 {
		return ""
	}

	var w textWriter
	w.Grow(4096)
	for _, def := range internaldefs.Counters {
		w.counter(def, snap.Counters[def.ID])
	}
	if raw, ok := snap.Histograms[kennelguard.MetricVerifyLatency]; ok {
		w.histogram(internaldefs.VerifyLatency, internaldefs.Cumulative(raw), snap.LatencySums[kennelguard.MetricVerifyLatency].Seconds())
	}
	w.counter(internaldefs.AuditDropped, dropped)
	return w.String()
}

type textWriter struct {
	strings.Builder
}

func (w *textWriter) header(def internaldefs.Def, kind string) {
	w.WriteString("# HELP " + def.Name + " " + escapeHelp(def.Help) + "\n")
	w.WriteString("# TYPE " + def.Name + " " + kind + "\n")
}

func (w *textWriter) counter(def internaldefs.Def, v uint64) {
	w.header(def, "counter")
	w.WriteString(def.Name + " " + strconv.FormatUint(v, 10) + "\n")
}

func (w *textWriter) histogram(def internaldefs.Def, cumulative [8]uint64, sum float64) {
	w.header(def, "histogram")
	for i, le := range internaldefs.Bounds {
		w.WriteString(def.Name + `_bucket{le="` + le + `"} ` + strconv.FormatUint(cumulative[i], 10) + "\n")
	}
	w.WriteString(def.Name + "_sum " + strconv.FormatFloat(sum, 'g', -1, 64) + "\n")
	w.WriteString(def.Name + "_count " + strconv.FormatUint(cumulative[len(cumulative)-1], 10) + "\n")
}

func escapeHelp(help string) string {
	return strings.NewReplacer(`\`, `\\`, "\n", `\n`).Replace(help)
}
