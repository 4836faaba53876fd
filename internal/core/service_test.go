package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hlskb/pkg/domain"
)

func TestEffectiveRulesOrdering(t *testing.T) {
	f := newFixture(t)
	low := f.rule(t, "P001", "Pipeline the innermost loop", 5)
	high := f.rule(t, "P002", "Partition arrays accessed in parallel", 8)
	half := f.rule(t, "P003", "Unroll short fixed loops", 9)
	never := f.rule(t, "P004", "Use dataflow between stages", 9)
	agg := NewEffectivenessAggregator(f.store)
	ctx := context.Background()

	apply := func(r domain.Rule, projectType string, success bool) {
		cur := 10.0
		if success {
			cur = 5
		}
		_, _, err := agg.Apply(ctx, r.ID, projectType, domain.NewOutcome(10, cur, true), domain.ModeAccumulate)
		require.NoError(t, err)
	}
	apply(low, "fir", true)
	apply(high, "fir", true)
	apply(half, "fir", true)
	apply(half, "fir", false)
	apply(never, "fir", false)
	apply(never, "fft", true)

	svc := NewService(f.store)
	got, err := svc.EffectiveRules(ctx, "fir", 0.5, 0)
	require.NoError(t, err)
	var codes []string
	for _, r := range got {
		codes = append(codes, r.Rule.Code)
	}
	assert.Equal(t, []string{"P002", "P001", "P003"}, codes)

	top, err := svc.EffectiveRules(ctx, "fir", 0, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "P002", top[0].Rule.Code)
}

func TestProgress(t *testing.T) {
	f := newFixture(t)
	rec := NewIterationRecorder(f.store)
	ctx := context.Background()
	for _, ii := range []int{128, 0, 16} {
		in := IterationInput{ProjectName: "FIR128", ProjectType: "fir"}
		if ii > 0 {
			in.Synthesis = &domain.SynthesisResult{IIAchieved: ii, IITarget: 1}
		}
		_, err := rec.Record(ctx, in)
		require.NoError(t, err)
	}

	project, steps, err := NewService(f.store).Progress(ctx, "FIR128")
	require.NoError(t, err)
	assert.Equal(t, "fir", project.Type)
	require.Len(t, steps, 3)
	assert.Nil(t, steps[0].IIGain)
	assert.Nil(t, steps[1].Synthesis)
	require.NotNil(t, steps[2].IIGain)
	assert.Equal(t, 112, *steps[2].IIGain)

	_, _, err = NewService(f.store).Progress(ctx, "nope")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCounts(t *testing.T) {
	f := newFixture(t)
	f.rule(t, "P001", "Pipeline the innermost loop", 5)
	counts, err := NewService(f.store).Counts(context.Background())
	require.NoError(t, err)
	require.Len(t, counts, len(domain.RollbackOrder))
	for _, c := range counts {
		want := 0
		if c.Table == domain.TableRules {
			want = 1
		}
		assert.Equal(t, want, c.Count, c.Table)
	}
}
