// Package metrics records engine measurements in Prometheus collectors
// registered on a caller-supplied registry.
package metrics

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"hlskb/internal/core"
	"hlskb/pkg/domain"
)

const namespace = "hlskb"

var _ core.MetricsRecorder = (*Recorder)(nil)

// Recorder implements core.MetricsRecorder and manifest.Observer.
type Recorder struct {
	operations    *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	effectiveness *prometheus.CounterVec
	deleted       *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Engine operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Engine operation latency.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"operation"}),
		effectiveness: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "effectiveness_applications_total",
			Help:      "Rule outcomes folded into effectiveness records.",
		}, []string{"mode", "result"}),
		deleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollback_records_deleted_total",
			Help:      "Records removed by rollbacks, by table.",
		}, []string{"table"}),
	}
}

// Observe counts one operation and its latency.
func (r *Recorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	r.operations.WithLabelValues(operation, outcome).Inc()
	r.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// EffectivenessApplied counts one folded outcome.
func (r *Recorder) EffectivenessApplied(mode domain.Mode, created bool) {
	result := "updated"
	if created {
		result = "created"
	}
	r.effectiveness.WithLabelValues(mode.String(), result).Inc()
}

// RecordsDeleted adds n deletions for table.
func (r *Recorder) RecordsDeleted(table domain.TableKind, n int) {
	if n > 0 {
		r.deleted.WithLabelValues(string(table)).Add(float64(n))
	}
}

// Dump writes every counter and histogram count in g as "name{labels} value"
// lines, sorted by name.
func Dump(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	var lines []string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := mf.GetName() + labels(m.GetLabel())
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				lines = append(lines, fmt.Sprintf("%s %g", name, m.GetCounter().GetValue()))
			case dto.MetricType_GAUGE:
				lines = append(lines, fmt.Sprintf("%s %g", name, m.GetGauge().GetValue()))
			case dto.MetricType_HISTOGRAM:
				h := m.GetHistogram()
				lines = append(lines, fmt.Sprintf("%s_count%s %d", mf.GetName(), labels(m.GetLabel()), h.GetSampleCount()))
			}
		}
	}
	sort.Strings(lines)
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}

func labels(pairs []*dto.LabelPair) string {
	if len(pairs) == 0 {
		return ""
	}
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = fmt.Sprintf("%s=%q", p.GetName(), p.GetValue())
	}
	return "{" + strings.Join(parts, ",") + "}"
}
