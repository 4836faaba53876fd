package metrics

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"hlskb/pkg/domain"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)
	ctx := context.Background()

	r.Observe(ctx, "rollback.execute", true, 20*time.Millisecond)
	r.Observe(ctx, "rollback.execute", false, time.Millisecond)
	r.EffectivenessApplied(domain.ModeAccumulate, true)
	r.EffectivenessApplied(domain.ModeAccumulate, false)
	r.EffectivenessApplied(domain.ModeOverwrite, false)
	r.RecordsDeleted(domain.TableSynthesis, 3)
	r.RecordsDeleted(domain.TableProjects, 0)

	if got := testutil.ToFloat64(r.operations.WithLabelValues("rollback.execute", "failure")); got != 1 {
		t.Fatalf("failures = %v", got)
	}
	if got := testutil.ToFloat64(r.effectiveness.WithLabelValues("accumulate", "created")); got != 1 {
		t.Fatalf("accumulate created = %v", got)
	}
	if got := testutil.ToFloat64(r.deleted.WithLabelValues("synthesis_results")); got != 3 {
		t.Fatalf("deleted = %v", got)
	}
	if n := testutil.CollectAndCount(r.deleted); n != 1 {
		t.Fatalf("expected one deleted series, got %d", n)
	}
}

func TestDump(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)
	r.Observe(context.Background(), "manifest.record", true, time.Millisecond)
	r.RecordsDeleted(domain.TableRules, 2)

	var buf bytes.Buffer
	if err := Dump(&buf, reg); err != nil {
		t.Fatalf("dump: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		`hlskb_operations_total{operation="manifest.record",outcome="success"} 1`,
		`hlskb_operation_duration_seconds_count{operation="manifest.record"} 1`,
		`hlskb_rollback_records_deleted_total{table="hls_rules"} 2`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestNewPanicsOnDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	defer func() {
		if recover() == nil {
			t.Fatal("expected duplicate registration to panic")
		}
	}()
	New(reg)
}
