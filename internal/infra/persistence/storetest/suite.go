// Package storetest holds the behavioural suite every entity store backend
// must pass. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"hlskb/pkg/domain"
)

// Clock is a manually advanced time source shared with the store under test.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)}
}

// Now returns the current clock value.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Factory builds an empty store stamped by clock.
type Factory func(t *testing.T, clock *Clock) domain.EntityStore

// Run executes the suite against stores produced by factory.
func Run(t *testing.T, factory Factory) {
	tests := []struct {
		name string
		fn   func(*testing.T, domain.EntityStore, *Clock)
	}{
		{"ProjectLookup", testProjectLookup},
		{"IterationNumbering", testIterationNumbering},
		{"SynthesisUpsert", testSynthesisUpsert},
		{"RuleIdentity", testRuleIdentity},
		{"RuleTextPrefersOldest", testRuleTextPrefersOldest},
		{"EffectivenessAccumulate", testEffectivenessAccumulate},
		{"EffectivenessOverwrite", testEffectivenessOverwrite},
		{"EffectivenessRequiresMode", testEffectivenessRequiresMode},
		{"DeleteSemantics", testDeleteSemantics},
		{"FailedTransactionLeavesNoTrace", testFailedTransactionLeavesNoTrace},
		{"RecordsSince", testRecordsSince},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clock := NewClock()
			store := factory(t, clock)
			t.Cleanup(func() { _ = store.Close() })
			tc.fn(t, store, clock)
		})
	}
}

func mustTx(t *testing.T, store domain.EntityStore, fn func(domain.Transaction) error) {
	t.Helper()
	if err := store.RunInTransaction(context.Background(), fn); err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func mustView(t *testing.T, store domain.EntityStore, fn func(domain.View) error) {
	t.Helper()
	if err := store.View(context.Background(), fn); err != nil {
		t.Fatalf("view: %v", err)
	}
}

func seedProject(t *testing.T, store domain.EntityStore, name string) domain.Project {
	t.Helper()
	var p domain.Project
	mustTx(t, store, func(tx domain.Transaction) error {
		var err error
		p, err = tx.CreateProject(domain.Project{Name: name, Type: "fir", TargetDevice: "xc7z020"})
		return err
	})
	return p
}

func seedRule(t *testing.T, store domain.EntityStore, code, text string) domain.Rule {
	t.Helper()
	var r domain.Rule
	mustTx(t, store, func(tx domain.Transaction) error {
		var err error
		r, err = tx.CreateRule(domain.Rule{Code: code, Text: text, Category: "pipelining", Priority: 8})
		return err
	})
	return r
}

func testProjectLookup(t *testing.T, store domain.EntityStore, clock *Clock) {
	first := seedProject(t, store, "FIR128_Optimization_Demo")
	clock.Advance(time.Second)
	second := seedProject(t, store, "FIR128_Optimization_Demo")
	mustView(t, store, func(v domain.View) error {
		got, err := v.FindProjectByName("FIR128_Optimization_Demo")
		if err != nil {
			t.Fatalf("find by name: %v", err)
		}
		if got.ID != second.ID {
			t.Fatalf("expected most recent project %s, got %s", second.ID, got.ID)
		}
		byID, err := v.FindProject(first.ID)
		if err != nil || byID.TargetDevice != "xc7z020" {
			t.Fatalf("find by id: %+v %v", byID, err)
		}
		if _, err := v.FindProjectByName("absent"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		list, err := v.ListProjects()
		if err != nil || len(list) != 2 {
			t.Fatalf("list projects: %d %v", len(list), err)
		}
		return nil
	})
}

func testIterationNumbering(t *testing.T, store domain.EntityStore, _ *Clock) {
	p := seedProject(t, store, "numbering")
	var ids []string
	mustTx(t, store, func(tx domain.Transaction) error {
		for i := 0; i < 3; i++ {
			it, err := tx.CreateIteration(domain.DesignIteration{
				ProjectID:           p.ID,
				ApproachDescription: "baseline",
				CodeSnapshot:        "void fir() {}",
				PragmasUsed:         []string{"PIPELINE II=1"},
				ReferenceMetadata:   &domain.ReferenceMetadata{Source: "vendor", Attributes: map[string]string{"taps": "128"}},
			})
			if err != nil {
				return err
			}
			if it.Number != i+1 {
				t.Fatalf("expected number %d, got %d", i+1, it.Number)
			}
			if it.CodeHash != domain.CodeHash("void fir() {}") {
				t.Fatalf("missing code hash")
			}
			ids = append(ids, it.ID)
		}
		return nil
	})
	mustTx(t, store, func(tx domain.Transaction) error { return tx.Delete(domain.TableIterations, ids[2]) })
	mustTx(t, store, func(tx domain.Transaction) error {
		it, err := tx.CreateIteration(domain.DesignIteration{ProjectID: p.ID, ApproachDescription: "after delete"})
		if err != nil {
			return err
		}
		if it.Number != 4 {
			t.Fatalf("iteration numbers must not be reused, got %d", it.Number)
		}
		if _, err := tx.CreateIteration(domain.DesignIteration{ProjectID: p.ID, Number: 2}); err == nil {
			t.Fatalf("expected duplicate number to fail")
		}
		return nil
	})
	mustView(t, store, func(v domain.View) error {
		its, err := v.ListIterations(p.ID)
		if err != nil {
			return err
		}
		if len(its) != 3 || its[0].Number != 1 || its[2].Number != 4 {
			t.Fatalf("unexpected iterations %+v", its)
		}
		if its[0].ReferenceMetadata == nil || its[0].ReferenceMetadata.Attributes["taps"] != "128" {
			t.Fatalf("reference metadata not persisted: %+v", its[0].ReferenceMetadata)
		}
		if len(its[0].PragmasUsed) != 1 {
			t.Fatalf("pragmas not persisted: %+v", its[0].PragmasUsed)
		}
		byNumber, err := v.FindIterationByNumber(p.ID, 2)
		if err != nil || byNumber.ID != ids[1] {
			t.Fatalf("find by number: %+v %v", byNumber, err)
		}
		return nil
	})
}

func testSynthesisUpsert(t *testing.T, store domain.EntityStore, _ *Clock) {
	p := seedProject(t, store, "synth")
	var iterID, firstID string
	latency := 1040
	met := true
	mustTx(t, store, func(tx domain.Transaction) error {
		it, err := tx.CreateIteration(domain.DesignIteration{ProjectID: p.ID, ApproachDescription: "x"})
		if err != nil {
			return err
		}
		iterID = it.ID
		sr, created, err := tx.UpsertSynthesis(domain.SynthesisResult{
			IterationID: iterID, IIAchieved: 128, IITarget: 1,
			LatencyCycles: &latency, TimingMet: &met,
			ResourceUsage: domain.ResourceUsage{"dsp": 2, "lut": 512},
		})
		if err != nil {
			return err
		}
		if !created {
			t.Fatalf("first upsert should create")
		}
		firstID = sr.ID
		return nil
	})
	mustTx(t, store, func(tx domain.Transaction) error {
		sr, created, err := tx.UpsertSynthesis(domain.SynthesisResult{IterationID: iterID, IIAchieved: 64, IITarget: 1})
		if err != nil {
			return err
		}
		if created || sr.ID != firstID {
			t.Fatalf("second upsert should update %s, got %s created=%v", firstID, sr.ID, created)
		}
		return nil
	})
	mustView(t, store, func(v domain.View) error {
		sr, err := v.FindSynthesisByIteration(iterID)
		if err != nil {
			return err
		}
		if sr.IIAchieved != 64 || sr.LatencyCycles != nil {
			t.Fatalf("unexpected synthesis after upsert %+v", sr)
		}
		n, err := v.Count(domain.TableSynthesis)
		if err != nil || n != 1 {
			t.Fatalf("expected a single synthesis row, got %d %v", n, err)
		}
		return nil
	})
}

func testRuleIdentity(t *testing.T, store domain.EntityStore, _ *Clock) {
	r := seedRule(t, store, "P001", "Use ARRAY_PARTITION on coefficient arrays")
	mustTx(t, store, func(tx domain.Transaction) error {
		if _, err := tx.CreateRule(domain.Rule{Code: "P001", Text: "another"}); err == nil {
			t.Fatalf("duplicate code must fail")
		}
		if _, err := tx.UpdateRule(r.ID, func(rule *domain.Rule) error { rule.Code = "P999"; return nil }); !errors.Is(err, domain.ErrRuleCodeImmutable) {
			t.Fatalf("expected ErrRuleCodeImmutable, got %v", err)
		}
		updated, err := tx.UpdateRule(r.ID, func(rule *domain.Rule) error { rule.Priority = 6; return nil })
		if err != nil || updated.Priority != 6 {
			t.Fatalf("update priority: %+v %v", updated, err)
		}
		return nil
	})
	mustView(t, store, func(v domain.View) error {
		got, err := v.FindRuleByCode("P001")
		if err != nil || got.ID != r.ID {
			t.Fatalf("code lookup: %+v %v", got, err)
		}
		got, err = v.FindRuleByText("use array_partition ON coefficient arrays")
		if err != nil || got.ID != r.ID {
			t.Fatalf("text lookup: %+v %v", got, err)
		}
		if _, err := v.FindRuleByText("use array_partition"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("partial text must not match, got %v", err)
		}
		if got.Kind != domain.RuleKindOfficial {
			t.Fatalf("expected default kind official, got %q", got.Kind)
		}
		return nil
	})
}

func testRuleTextPrefersOldest(t *testing.T, store domain.EntityStore, clock *Clock) {
	var first domain.Rule
	mustTx(t, store, func(tx domain.Transaction) error {
		var err error
		first, err = tx.CreateRule(domain.Rule{Code: "P001", Text: "Pipeline the inner loop"})
		return err
	})
	clock.Advance(time.Minute)
	mustTx(t, store, func(tx domain.Transaction) error {
		_, err := tx.CreateRule(domain.Rule{Code: "P002", Text: "PIPELINE the inner loop"})
		return err
	})
	mustView(t, store, func(v domain.View) error {
		got, err := v.FindRuleByText("pipeline the INNER loop")
		if err != nil || got.ID != first.ID {
			t.Fatalf("expected oldest rule %s, got %+v %v", first.ID, got, err)
		}
		if _, err := v.FindRuleByText("   "); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("blank text must not match, got %v", err)
		}
		return nil
	})
}

func applyOutcomes(t *testing.T, store domain.EntityStore, ruleID, context string, mode domain.Mode, outcomes ...domain.Outcome) []bool {
	t.Helper()
	var created []bool
	for _, o := range outcomes {
		mustTx(t, store, func(tx domain.Transaction) error {
			_, c, err := tx.ApplyEffectiveness(ruleID, context, o, mode)
			created = append(created, c)
			return err
		})
	}
	return created
}

func testEffectivenessAccumulate(t *testing.T, store domain.EntityStore, _ *Clock) {
	r := seedRule(t, store, "P002", "Pipeline the MAC loop")
	created := applyOutcomes(t, store, r.ID, "fir", domain.ModeAccumulate,
		domain.NewOutcome(128, 64, true),
		domain.NewOutcome(64, 64, true),
		domain.NewOutcome(64, 32, true),
	)
	if !created[0] || created[1] || created[2] {
		t.Fatalf("unexpected created flags %v", created)
	}
	mustView(t, store, func(v domain.View) error {
		e, err := v.FindEffectiveness(r.ID, "fir")
		if err != nil {
			return err
		}
		if e.TimesApplied != 3 || e.SuccessCount != 2 || math.Abs(e.AvgImprovement-48) > 1e-9 {
			t.Fatalf("unexpected accumulate result %+v", e)
		}
		return nil
	})
}

func testEffectivenessOverwrite(t *testing.T, store domain.EntityStore, _ *Clock) {
	r := seedRule(t, store, "P003", "Unroll the tap loop")
	applyOutcomes(t, store, r.ID, "fir", domain.ModeAccumulate,
		domain.NewOutcome(10, 5, true), domain.NewOutcome(10, 5, true))
	for i := 0; i < 2; i++ {
		applyOutcomes(t, store, r.ID, "fir", domain.ModeOverwrite, domain.NewOutcome(128, 64, true))
		mustView(t, store, func(v domain.View) error {
			e, err := v.FindEffectiveness(r.ID, "fir")
			if err != nil {
				return err
			}
			if e.TimesApplied != 1 || e.SuccessCount != 1 || e.AvgImprovement != 64 {
				t.Fatalf("run %d: unexpected overwrite result %+v", i, e)
			}
			return nil
		})
	}
	mustView(t, store, func(v domain.View) error {
		rows, err := v.ListEffectiveness("fir")
		if err != nil || len(rows) != 1 {
			t.Fatalf("expected one row, got %d %v", len(rows), err)
		}
		return nil
	})
}

func testEffectivenessRequiresMode(t *testing.T, store domain.EntityStore, _ *Clock) {
	r := seedRule(t, store, "P004", "Bind the accumulator to a DSP")
	err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, _, err := tx.ApplyEffectiveness(r.ID, "fir", domain.Outcome{}, domain.ModeUnspecified)
		return err
	})
	if !errors.Is(err, domain.ErrModeRequired) {
		t.Fatalf("expected ErrModeRequired, got %v", err)
	}
	mustView(t, store, func(v domain.View) error {
		if n, _ := v.Count(domain.TableEffectiveness); n != 0 {
			t.Fatalf("no row may be written without a mode, got %d", n)
		}
		return nil
	})
}

func testDeleteSemantics(t *testing.T, store domain.EntityStore, _ *Clock) {
	p := seedProject(t, store, "delete")
	var iterID string
	mustTx(t, store, func(tx domain.Transaction) error {
		it, err := tx.CreateIteration(domain.DesignIteration{ProjectID: p.ID})
		iterID = it.ID
		return err
	})
	err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		return tx.Delete(domain.TableProjects, p.ID)
	})
	if err == nil {
		t.Fatalf("deleting a referenced project must fail")
	}
	err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		return tx.Delete(domain.TableSynthesis, "missing")
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a missing row, got %v", err)
	}
	mustTx(t, store, func(tx domain.Transaction) error {
		ok, err := tx.DeleteIfExists(domain.TableSynthesis, "missing")
		if err != nil || ok {
			t.Fatalf("delete-if-exists on missing row: %v %v", ok, err)
		}
		if err := tx.Delete(domain.TableIterations, iterID); err != nil {
			return err
		}
		if ok, err := tx.Exists(domain.TableIterations, iterID); err != nil || ok {
			t.Fatalf("deleted row still visible inside transaction")
		}
		ok, err = tx.DeleteIfExists(domain.TableProjects, p.ID)
		if err != nil || !ok {
			t.Fatalf("delete-if-exists: %v %v", ok, err)
		}
		return nil
	})
}

func testFailedTransactionLeavesNoTrace(t *testing.T, store domain.EntityStore, _ *Clock) {
	boom := errors.New("boom")
	err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		p, err := tx.CreateProject(domain.Project{Name: "ghost", Type: "fir"})
		if err != nil {
			return err
		}
		if _, err := tx.CreateIteration(domain.DesignIteration{ProjectID: p.ID}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	mustView(t, store, func(v domain.View) error {
		for _, table := range domain.RollbackOrder {
			n, err := v.Count(table)
			if err != nil {
				return err
			}
			if n != 0 {
				t.Fatalf("%s has %d rows after a failed transaction", table, n)
			}
		}
		return nil
	})
}

func testRecordsSince(t *testing.T, store domain.EntityStore, clock *Clock) {
	old := seedProject(t, store, "old")
	clock.Advance(2 * time.Hour)
	cutoff := clock.Now()
	clock.Advance(time.Minute)
	fresh := seedProject(t, store, "fresh")
	r := seedRule(t, store, "", "Partition the delay line completely")
	applyOutcomes(t, store, r.ID, "fir", domain.ModeAccumulate, domain.NewOutcome(2, 1, true))
	mustView(t, store, func(v domain.View) error {
		recs, err := v.RecordsSince(domain.TableProjects, cutoff)
		if err != nil {
			return err
		}
		if len(recs) != 1 || recs[0].RecordID() != fresh.ID {
			t.Fatalf("expected only %s after cutoff, got %v (old=%s)", fresh.ID, recs, old.ID)
		}
		effs, err := v.RecordsSince(domain.TableEffectiveness, cutoff)
		if err != nil || len(effs) != 1 || effs[0].Table() != domain.TableEffectiveness {
			t.Fatalf("effectiveness since: %v %v", effs, err)
		}
		if _, err := v.RecordsSince("design_patterns", cutoff); !errors.Is(err, domain.ErrUnknownDependency) {
			t.Fatalf("expected ErrUnknownDependency, got %v", err)
		}
		return nil
	})
}
