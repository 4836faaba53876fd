package manifest

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"hlskb/internal/blob"
	"hlskb/pkg/domain"
)

type scriptedConfirmer struct {
	answers []bool
	prompts []string
}

func (c *scriptedConfirmer) Confirm(prompt string) (bool, error) {
	c.prompts = append(c.prompts, prompt)
	if len(c.answers) == 0 {
		return false, nil
	}
	a := c.answers[0]
	c.answers = c.answers[1:]
	return a, nil
}

type countingObserver struct{ ok, failed int }

func (o *countingObserver) Observe(_ context.Context, _ string, success bool, _ time.Duration) {
	if success {
		o.ok++
	} else {
		o.failed++
	}
}

func TestRecordLoadMarkCompleted(t *testing.T) {
	ctx := context.Background()
	obs := &countingObserver{}
	s := NewStore(blob.NewMemory(), WithObserver(obs))
	h, err := s.Record(ctx, sampleManifest(), RecordOptions{})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if h.Key != "rollback_FIR128_Optimization_Demo_iter3_20251012_100000.yaml" {
		t.Fatalf("unexpected key %s", h.Key)
	}
	m, err := s.Load(ctx, h.Key)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(m.Entries) != 2 || m.Entries[1].Table != domain.TableSynthesis {
		t.Fatalf("entries not preserved in order: %+v", m.Entries)
	}
	done, err := s.MarkCompleted(ctx, h, stamp.Add(time.Hour))
	if err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if !done.Completed() || done.RollbackTimestamp != "2025-10-12T11:00:00Z" {
		t.Fatalf("unexpected completed manifest %+v", done)
	}
	reloaded, _ := s.Load(ctx, h.Key)
	if !reloaded.Completed() {
		t.Fatalf("completion not persisted")
	}
	keys, _ := s.List(ctx)
	if len(keys) != 1 {
		t.Fatalf("rewrite must stay in place, got %v", keys)
	}
	if obs.ok != 2 || obs.failed != 0 {
		t.Fatalf("unexpected observations %+v", obs)
	}
}

func TestRecordDuplicateBatch(t *testing.T) {
	ctx := context.Background()
	confirm := &scriptedConfirmer{answers: []bool{false, true}}
	now := stamp.Add(time.Minute)
	s := NewStore(blob.NewMemory(), WithConfirmer(confirm), WithClock(func() time.Time { return now }))
	first, err := s.Record(ctx, sampleManifest(), RecordOptions{})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	again := sampleManifest()
	again.Timestamp = now.Format(time.RFC3339)
	_, err = s.Record(ctx, again, RecordOptions{})
	var dup domain.DuplicateBatchError
	if !errors.As(err, &dup) || !errors.Is(err, domain.ErrDuplicateBatch) {
		t.Fatalf("expected DuplicateBatchError, got %v", err)
	}
	if len(dup.Existing) != 1 || dup.Existing[0] != first.Key {
		t.Fatalf("unexpected existing keys %v", dup.Existing)
	}
	if len(confirm.prompts) != 1 {
		t.Fatalf("expected one prompt, got %v", confirm.prompts)
	}

	second, err := s.Record(ctx, again, RecordOptions{})
	if err != nil || second.Key == first.Key {
		t.Fatalf("confirmed duplicate should be written: %v %s", err, second.Key)
	}

	forced := sampleManifest()
	forced.Timestamp = now.Add(time.Second).Format(time.RFC3339)
	if _, err := s.Record(ctx, forced, RecordOptions{Force: true}); err != nil {
		t.Fatalf("forced record: %v", err)
	}
	if len(confirm.prompts) != 2 {
		t.Fatalf("force must skip confirmation, prompts=%v", confirm.prompts)
	}
}

func TestForcedRecordInSameSecondGetsSuffix(t *testing.T) {
	ctx := context.Background()
	s := NewStore(blob.NewMemory())
	first, err := s.Record(ctx, sampleManifest(), RecordOptions{})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	keys := []string{first.Key}
	for i := 0; i < 2; i++ {
		h, err := s.Record(ctx, sampleManifest(), RecordOptions{Force: true})
		if err != nil {
			t.Fatalf("forced record %d: %v", i, err)
		}
		keys = append(keys, h.Key)
	}
	want := []string{
		"rollback_FIR128_Optimization_Demo_iter3_20251012_100000.yaml",
		"rollback_FIR128_Optimization_Demo_iter3_20251012_100000_2.yaml",
		"rollback_FIR128_Optimization_Demo_iter3_20251012_100000_3.yaml",
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("key %d = %s, want %s", i, keys[i], want[i])
		}
	}
	dups, err := s.Duplicates(ctx, "FIR128_Optimization_Demo", intPtr(3))
	if err != nil || len(dups) != 3 {
		t.Fatalf("duplicates = %v, %v", dups, err)
	}
}

func TestMatchesFileName(t *testing.T) {
	name := "rollback_FIR_20251012_100000.yaml"
	cases := map[string]bool{
		name:                                   true,
		"rollback_FIR_20251012_100000_2.yaml":  true,
		"rollback_FIR_20251012_100000_12.yaml": true,
		"rollback_FIR_20251012_100000_1.yaml":  false,
		"rollback_FIR_20251012_100000_x.yaml":  false,
		"rollback_FIR_20251012_100001.yaml":    false,
	}
	for key, want := range cases {
		if got := MatchesFileName(key, name); got != want {
			t.Errorf("MatchesFileName(%s) = %v, want %v", key, got, want)
		}
	}
}

func TestRecordWithoutConfirmerRefusesDuplicates(t *testing.T) {
	ctx := context.Background()
	s := NewStore(blob.NewMemory())
	if _, err := s.Record(ctx, sampleManifest(), RecordOptions{}); err != nil {
		t.Fatalf("record: %v", err)
	}
	m := sampleManifest()
	m.Timestamp = stamp.Add(time.Second).Format(time.RFC3339)
	if _, err := s.Record(ctx, m, RecordOptions{}); !errors.Is(err, domain.ErrDuplicateBatch) {
		t.Fatalf("expected ErrDuplicateBatch, got %v", err)
	}
}

func TestDuplicatesMatchIterationScope(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewMemory()
	for _, k := range []string{
		"rollback_FIR_iter1_20251012_100000.yaml",
		"rollback_FIR_iter2_20251012_100000.yaml",
		"rollback_FIR_20251012_100000.yaml",
		"rollback_F[IR]_20251012_100000.yaml",
		"notes.txt",
	} {
		if _, err := blobs.Put(ctx, k, bytes.NewBufferString("x"), blob.PutOptions{}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	s := NewStore(blobs)
	got, err := s.Duplicates(ctx, "FIR", intPtr(1))
	if err != nil || len(got) != 1 || got[0] != "rollback_FIR_iter1_20251012_100000.yaml" {
		t.Fatalf("iteration scope: %v %v", got, err)
	}
	all, _ := s.Duplicates(ctx, "FIR", nil)
	if len(all) != 3 {
		t.Fatalf("label scope should match every FIR manifest, got %v", all)
	}
	meta, _ := s.Duplicates(ctx, "F[IR]", nil)
	if len(meta) != 1 || meta[0] != "rollback_F[IR]_20251012_100000.yaml" {
		t.Fatalf("label must be matched literally, got %v", meta)
	}
}

func TestLoadErrors(t *testing.T) {
	ctx := context.Background()
	blobs := blob.NewMemory()
	s := NewStore(blobs)
	if _, err := s.Load(ctx, "rollback_missing.yaml"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := blobs.Put(ctx, "rollback_bad.yaml", bytes.NewBufferString("project: X\nrollback_status: maybe\n"), blob.PutOptions{}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := s.Load(ctx, "rollback_bad.yaml"); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestRecordRejectsPathLabels(t *testing.T) {
	s := NewStore(blob.NewMemory())
	m := New("../etc", "fir", "op", nil, stamp)
	if _, err := s.Record(context.Background(), m, RecordOptions{}); err == nil {
		t.Fatalf("expected invalid label error")
	}
}
