package manifest

import (
	"strings"
	"testing"
	"time"

	"hlskb/pkg/domain"
)

var stamp = time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func sampleManifest() Manifest {
	m := New("FIR128_Optimization_Demo", "fir", "kbtool", intPtr(3), stamp)
	m.Add(domain.TableIterations, "it-3", "Iteration #3: unroll by 4")
	m.Add(domain.TableSynthesis, "sr-3", "Synthesis: II=128")
	return m
}

func TestEncodeKeepsKeyOrder(t *testing.T) {
	data, err := Encode(sampleManifest())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	doc := string(data)
	keys := []string{"project:", "iteration:", "project_type:", "date:", "timestamp:", "operator:", "notes:", "inserted_records:", "rollback_status:"}
	last := -1
	for _, k := range keys {
		idx := strings.Index(doc, "\n"+k)
		if k == "project:" {
			idx = strings.Index(doc, k)
		}
		if idx <= last {
			t.Fatalf("key %s out of order in:\n%s", k, doc)
		}
		last = idx
	}
	if strings.Contains(doc, "rollback_timestamp") {
		t.Fatalf("pending manifest must not carry rollback_timestamp")
	}
	if !strings.Contains(doc, "date: \"2025-10-12\"") && !strings.Contains(doc, "date: 2025-10-12") {
		t.Fatalf("unexpected date rendering:\n%s", doc)
	}
}

func TestDecodeRoundTripAndNullIteration(t *testing.T) {
	m := New("RECENT", "mixed", "kbtool", nil, stamp)
	m.Add(domain.TableRules, "r-1", "Rule: P001")
	data, err := Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(data), "iteration: null") {
		t.Fatalf("absent iteration should render as null:\n%s", data)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Iteration != nil || len(got.Entries) != 1 || got.Entries[0].ID != "r-1" || got.Status != StatusPending {
		t.Fatalf("unexpected manifest %+v", got)
	}
}

func TestDecodeRejectsInvalidDocuments(t *testing.T) {
	cases := map[string]string{
		"bad status":    "project: X\nrollback_status: undone\ninserted_records: []\n",
		"missing id":    "project: X\nrollback_status: pending\ninserted_records:\n  - table: projects\n",
		"missing table": "project: X\nrollback_status: pending\ninserted_records:\n  - id: p-1\n",
		"unknown key":   "project: X\nrollback_status: pending\nsurprise: 1\n",
		"no label":      "rollback_status: pending\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode([]byte(doc)); err == nil {
				t.Fatalf("expected rejection of:\n%s", doc)
			}
		})
	}
}

func TestTablesAndSummaryKeepFirstSeenOrder(t *testing.T) {
	m := New("X", "fir", "op", nil, stamp)
	m.Add(domain.TableProjects, "p", "")
	m.Add(domain.TableIterations, "i1", "")
	m.Add(domain.TableSynthesis, "s1", "")
	m.Add(domain.TableIterations, "i2", "")
	tables := m.Tables()
	if len(tables) != 3 || tables[0] != domain.TableProjects || tables[1] != domain.TableIterations {
		t.Fatalf("unexpected tables %v", tables)
	}
	summary := m.Summary()
	if summary[1].Table != domain.TableIterations || summary[1].Count != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestFileName(t *testing.T) {
	if got := FileName("FIR", intPtr(2), stamp); got != "rollback_FIR_iter2_20251012_100000.yaml" {
		t.Fatalf("unexpected name %s", got)
	}
	if got := FileName("FIR", nil, stamp); got != "rollback_FIR_20251012_100000.yaml" {
		t.Fatalf("unexpected name %s", got)
	}
}

func TestTruncateCountsRunes(t *testing.T) {
	if got := Truncate("ünroll", 2); got != "ün" {
		t.Fatalf("unexpected %q", got)
	}
	if got := Truncate("ok", 50); got != "ok" {
		t.Fatalf("unexpected %q", got)
	}
}
