package core

import (
	"cmp"
	"context"
	"slices"

	"hlskb/pkg/domain"
)

// EffectiveRule pairs a rule with its statistics in one context.
type EffectiveRule struct {
	Rule          domain.Rule
	Effectiveness domain.RuleEffectiveness
}

// IterationProgress is one step of a project's history.
type IterationProgress struct {
	Iteration domain.DesignIteration
	Synthesis *domain.SynthesisResult
	// IIGain is the previous synthesized iteration's II minus this one's.
	IIGain *int
}

// TableCount is the number of stored records of one kind.
type TableCount struct {
	Table domain.TableKind
	Count int
}

// Service answers read-only questions about the knowledge base.
type Service struct {
	store domain.EntityStore
	opts  options
}

// NewService builds a Service over store.
func NewService(store domain.EntityStore, opts ...Option) *Service {
	return &Service{store: store, opts: buildOptions(opts)}
}

// EffectiveRules returns rules applied in projectType whose success rate is at
// least minRate, best first: by success rate, then priority. limit <= 0
// returns every match.
func (s *Service) EffectiveRules(ctx context.Context, projectType string, minRate float64, limit int) ([]EffectiveRule, error) {
	var out []EffectiveRule
	err := s.store.View(ctx, func(v domain.View) error {
		out = nil
		stats, err := v.ListEffectiveness(projectType)
		if err != nil {
			return err
		}
		for _, st := range stats {
			if st.SuccessRate() < minRate {
				continue
			}
			rule, err := v.FindRule(st.RuleID)
			if err != nil {
				return err
			}
			out = append(out, EffectiveRule{Rule: rule, Effectiveness: st})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(out, func(a, b EffectiveRule) int {
		if c := cmp.Compare(b.Effectiveness.SuccessRate(), a.Effectiveness.SuccessRate()); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Rule.Priority, a.Rule.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.Rule.ID, b.Rule.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Progress returns the iterations of the most recent project named
// projectName in number order.
func (s *Service) Progress(ctx context.Context, projectName string) (domain.Project, []IterationProgress, error) {
	var (
		project domain.Project
		steps   []IterationProgress
	)
	err := s.store.View(ctx, func(v domain.View) error {
		var err error
		if project, err = v.FindProjectByName(projectName); err != nil {
			return err
		}
		iterations, err := v.ListIterations(project.ID)
		if err != nil {
			return err
		}
		steps = make([]IterationProgress, 0, len(iterations))
		var prev *domain.SynthesisResult
		for _, it := range iterations {
			step := IterationProgress{Iteration: it}
			sr, err := v.FindSynthesisByIteration(it.ID)
			switch {
			case err == nil:
				step.Synthesis = &sr
				if prev != nil {
					gain := prev.IIAchieved - sr.IIAchieved
					step.IIGain = &gain
				}
				prev = &sr
			case !domain.IsNotFound(err):
				return err
			}
			steps = append(steps, step)
		}
		return nil
	})
	if err != nil {
		return domain.Project{}, nil, err
	}
	return project, steps, nil
}

// Counts returns the number of stored records per kind in rollback order.
func (s *Service) Counts(ctx context.Context) ([]TableCount, error) {
	var out []TableCount
	err := s.store.View(ctx, func(v domain.View) error {
		out = make([]TableCount, 0, len(domain.RollbackOrder))
		for _, t := range domain.RollbackOrder {
			n, err := v.Count(t)
			if err != nil {
				return err
			}
			out = append(out, TableCount{Table: t, Count: n})
		}
		return nil
	})
	return out, err
}
