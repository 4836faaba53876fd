package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hlskb/pkg/domain"
)

// EffectivenessAggregator folds rule outcomes into per-context statistics.
type EffectivenessAggregator struct {
	store domain.EntityStore
	opts  options
}

// NewEffectivenessAggregator builds an aggregator over store.
func NewEffectivenessAggregator(store domain.EntityStore, opts ...Option) *EffectivenessAggregator {
	return &EffectivenessAggregator{store: store, opts: buildOptions(opts)}
}

// Apply records one outcome in its own transaction and returns the
// effectiveness record ID and whether the record was created.
func (a *EffectivenessAggregator) Apply(ctx context.Context, ruleID, projectType string, o domain.Outcome, mode domain.Mode) (id string, created bool, err error) {
	start := time.Now()
	defer func() { a.opts.observe(ctx, "effectiveness.apply", err, start) }()
	if err := mode.Validate(); err != nil {
		return "", false, err
	}
	var rec domain.RuleEffectiveness
	err = a.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		rec, created, err = a.ApplyTx(tx, ruleID, projectType, o, mode)
		return err
	})
	if err != nil {
		return "", false, err
	}
	a.opts.metrics.EffectivenessApplied(mode, created)
	return rec.ID, created, nil
}

// ApplyTx records one outcome inside tx. The store performs the
// read-modify-write atomically.
func (a *EffectivenessAggregator) ApplyTx(tx domain.Transaction, ruleID, projectType string, o domain.Outcome, mode domain.Mode) (domain.RuleEffectiveness, bool, error) {
	if err := mode.Validate(); err != nil {
		return domain.RuleEffectiveness{}, false, err
	}
	if strings.TrimSpace(ruleID) == "" {
		return domain.RuleEffectiveness{}, false, fmt.Errorf("rule id required")
	}
	if strings.TrimSpace(projectType) == "" {
		return domain.RuleEffectiveness{}, false, fmt.Errorf("project type required")
	}
	rec, created, err := tx.ApplyEffectiveness(ruleID, projectType, o, mode)
	if err != nil {
		return domain.RuleEffectiveness{}, false, fmt.Errorf("apply effectiveness for rule %q in %q: %w", ruleID, projectType, err)
	}
	a.opts.logger.Debug("effectiveness applied",
		"rule_id", ruleID, "project_type", projectType, "mode", mode.String(), "created", created,
		"times_applied", rec.TimesApplied, "success_count", rec.SuccessCount)
	return rec, created, nil
}
