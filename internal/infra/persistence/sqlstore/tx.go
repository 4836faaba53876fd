package sqlstore

import (
	"fmt"
	"strings"
	"time"

	"hlskb/pkg/domain"
)

type transaction struct {
	view
	store *Store
	now   time.Time
}

func (tx *transaction) CreateProject(p domain.Project) (domain.Project, error) {
	if strings.TrimSpace(p.Name) == "" {
		return domain.Project{}, fmt.Errorf("project name required")
	}
	if p.ID == "" {
		p.ID = tx.store.newID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = tx.now
	}
	p.UpdatedAt = p.CreatedAt
	if _, err := tx.exec(`INSERT INTO projects (`+projectCols+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Type, p.Description, p.TargetDevice, toMicros(p.CreatedAt), toMicros(p.UpdatedAt)); err != nil {
		return domain.Project{}, fmt.Errorf("insert project %q: %w", p.ID, err)
	}
	return p, nil
}

func (tx *transaction) UpdateProject(id string, mutator func(*domain.Project) error) (domain.Project, error) {
	current, err := tx.FindProject(id)
	if err != nil {
		return domain.Project{}, err
	}
	if err := mutator(&current); err != nil {
		return domain.Project{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	if _, err := tx.exec(`UPDATE projects SET name = ?, project_type = ?, description = ?, target_device = ?, updated_at = ? WHERE id = ?`,
		current.Name, current.Type, current.Description, current.TargetDevice, toMicros(current.UpdatedAt), id); err != nil {
		return domain.Project{}, fmt.Errorf("update project %q: %w", id, err)
	}
	return current, nil
}

// nextIterationNumber reads the high-water mark, falling back to the
// largest stored number for rows written before the counter existed.
func (tx *transaction) nextIterationNumber(projectID string) (int, error) {
	var counter, stored int
	err := tx.queryRow(`SELECT last_number FROM iteration_counters WHERE project_id = ?`, projectID).Scan(&counter)
	if err != nil && !isNoRows(err) {
		return 0, fmt.Errorf("read iteration counter: %w", err)
	}
	if err := tx.queryRow(`SELECT COALESCE(MAX(iteration_number), 0) FROM design_iterations WHERE project_id = ?`, projectID).Scan(&stored); err != nil {
		return 0, fmt.Errorf("read max iteration: %w", err)
	}
	return max(counter, stored) + 1, nil
}

func (tx *transaction) CreateIteration(it domain.DesignIteration) (domain.DesignIteration, error) {
	if it.Number < 0 {
		return domain.DesignIteration{}, fmt.Errorf("iteration number must be positive, got %d", it.Number)
	}
	if it.Number == 0 {
		n, err := tx.nextIterationNumber(it.ProjectID)
		if err != nil {
			return domain.DesignIteration{}, err
		}
		it.Number = n
	}
	if it.ID == "" {
		it.ID = tx.store.newID()
	}
	if it.CodeHash == "" {
		it.CodeHash = domain.CodeHash(it.CodeSnapshot)
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = tx.now
	}
	pragmas, err := encodePragmas(it.PragmasUsed)
	if err != nil {
		return domain.DesignIteration{}, err
	}
	reference, err := encodeReference(it.ReferenceMetadata)
	if err != nil {
		return domain.DesignIteration{}, err
	}
	if _, err := tx.exec(`INSERT INTO design_iterations (`+iterationCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.ProjectID, it.Number, it.ApproachDescription, it.CodeSnapshot, it.CodeHash,
		pragmas, it.PromptUsed, it.Reasoning, it.UserReferenceCode, it.UserSpecification, reference, toMicros(it.CreatedAt)); err != nil {
		return domain.DesignIteration{}, fmt.Errorf("insert iteration #%d for project %q: %w", it.Number, it.ProjectID, err)
	}
	if _, err := tx.exec(`INSERT INTO iteration_counters (project_id, last_number) VALUES (?, ?)
		ON CONFLICT (project_id) DO UPDATE SET last_number = CASE
			WHEN excluded.last_number > iteration_counters.last_number THEN excluded.last_number
			ELSE iteration_counters.last_number END`, it.ProjectID, it.Number); err != nil {
		return domain.DesignIteration{}, fmt.Errorf("advance iteration counter: %w", err)
	}
	return it, nil
}

func (tx *transaction) UpdateIteration(id string, mutator func(*domain.DesignIteration) error) (domain.DesignIteration, error) {
	current, err := tx.FindIteration(id)
	if err != nil {
		return domain.DesignIteration{}, err
	}
	projectID, number := current.ProjectID, current.Number
	if err := mutator(&current); err != nil {
		return domain.DesignIteration{}, err
	}
	current.ID, current.ProjectID, current.Number = id, projectID, number
	current.CodeHash = domain.CodeHash(current.CodeSnapshot)
	pragmas, err := encodePragmas(current.PragmasUsed)
	if err != nil {
		return domain.DesignIteration{}, err
	}
	reference, err := encodeReference(current.ReferenceMetadata)
	if err != nil {
		return domain.DesignIteration{}, err
	}
	if _, err := tx.exec(`UPDATE design_iterations SET approach_description = ?, code_snapshot = ?, code_hash = ?,
		pragmas_used = ?, prompt_used = ?, reasoning = ?, user_reference_code = ?, user_specification = ?, reference_metadata = ?
		WHERE id = ?`,
		current.ApproachDescription, current.CodeSnapshot, current.CodeHash, pragmas, current.PromptUsed, current.Reasoning,
		current.UserReferenceCode, current.UserSpecification, reference, id); err != nil {
		return domain.DesignIteration{}, fmt.Errorf("update iteration %q: %w", id, err)
	}
	return current, nil
}

func (tx *transaction) UpsertSynthesis(sr domain.SynthesisResult) (domain.SynthesisResult, bool, error) {
	resources, err := encodeResources(sr.ResourceUsage)
	if err != nil {
		return domain.SynthesisResult{}, false, err
	}
	existing, err := tx.FindSynthesisByIteration(sr.IterationID)
	switch {
	case err == nil:
		sr.ID, sr.CreatedAt = existing.ID, existing.CreatedAt
		if _, err := tx.exec(`UPDATE synthesis_results SET ii_achieved = ?, ii_target = ?, latency_cycles = ?, timing_met = ?,
			resource_usage = ?, clock_period_ns = ? WHERE id = ?`,
			sr.IIAchieved, sr.IITarget, nullInt(sr.LatencyCycles), nullBool(sr.TimingMet), resources, nullFloat(sr.ClockPeriodNS), sr.ID); err != nil {
			return domain.SynthesisResult{}, false, fmt.Errorf("update synthesis result %q: %w", sr.ID, err)
		}
		return sr, false, nil
	case domain.IsNotFound(err):
	default:
		return domain.SynthesisResult{}, false, err
	}
	if sr.ID == "" {
		sr.ID = tx.store.newID()
	}
	if sr.CreatedAt.IsZero() {
		sr.CreatedAt = tx.now
	}
	if _, err := tx.exec(`INSERT INTO synthesis_results (`+synthesisCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sr.ID, sr.IterationID, sr.IIAchieved, sr.IITarget, nullInt(sr.LatencyCycles), nullBool(sr.TimingMet),
		resources, nullFloat(sr.ClockPeriodNS), toMicros(sr.CreatedAt)); err != nil {
		return domain.SynthesisResult{}, false, fmt.Errorf("insert synthesis result for iteration %q: %w", sr.IterationID, err)
	}
	return sr, true, nil
}

func (tx *transaction) CreateRule(r domain.Rule) (domain.Rule, error) {
	if strings.TrimSpace(r.Text) == "" {
		return domain.Rule{}, fmt.Errorf("rule text required")
	}
	if r.ID == "" {
		r.ID = tx.store.newID()
	}
	if r.Kind == "" {
		r.Kind = domain.RuleKindOfficial
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = tx.now
	}
	if _, err := tx.exec(`INSERT INTO hls_rules (id, rule_code, rule_text, text_key, rule_type, category, priority, source, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, nullCode(r.Code), r.Text, domain.RuleTextKey(r.Text), string(r.Kind), r.Category, r.Priority, r.Source, r.Description,
		toMicros(r.CreatedAt)); err != nil {
		return domain.Rule{}, fmt.Errorf("insert rule %q: %w", r.Code, err)
	}
	return r, nil
}

func (tx *transaction) UpdateRule(id string, mutator func(*domain.Rule) error) (domain.Rule, error) {
	before, err := tx.FindRule(id)
	if err != nil {
		return domain.Rule{}, err
	}
	current := before
	if err := mutator(&current); err != nil {
		return domain.Rule{}, err
	}
	if err := domain.CheckRuleCodeChange(before, current); err != nil {
		return domain.Rule{}, err
	}
	current.ID, current.CreatedAt = id, before.CreatedAt
	if _, err := tx.exec(`UPDATE hls_rules SET rule_code = ?, rule_text = ?, text_key = ?, rule_type = ?, category = ?,
		priority = ?, source = ?, description = ? WHERE id = ?`,
		nullCode(current.Code), current.Text, domain.RuleTextKey(current.Text), string(current.Kind), current.Category,
		current.Priority, current.Source, current.Description, id); err != nil {
		return domain.Rule{}, fmt.Errorf("update rule %q: %w", id, err)
	}
	return current, nil
}

// ApplyEffectiveness seeds the row with INSERT ... ON CONFLICT DO NOTHING and,
// when the row already existed, folds the outcome with a single UPDATE whose
// right-hand side reads the pre-update column values. No value read into Go
// is written back, so concurrent writers cannot lose updates.
func (tx *transaction) ApplyEffectiveness(ruleID, context string, o domain.Outcome, mode domain.Mode) (domain.RuleEffectiveness, bool, error) {
	seed, err := domain.Fold(nil, o, mode, tx.now)
	if err != nil {
		return domain.RuleEffectiveness{}, false, err
	}
	if strings.TrimSpace(context) == "" {
		return domain.RuleEffectiveness{}, false, fmt.Errorf("effectiveness context required")
	}
	at := toMicros(tx.now)
	res, err := tx.exec(`INSERT INTO rules_effectiveness (`+effectivenessCols+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (rule_id, project_type) DO NOTHING`,
		tx.store.newID(), ruleID, context, seed.TimesApplied, seed.SuccessCount, seed.AvgImprovement, at)
	if err != nil {
		return domain.RuleEffectiveness{}, false, fmt.Errorf("seed effectiveness for rule %q: %w", ruleID, err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return domain.RuleEffectiveness{}, false, fmt.Errorf("seed effectiveness rows affected: %w", err)
	}
	created := inserted == 1
	if !created {
		if err := tx.foldExisting(ruleID, context, seed, mode, at); err != nil {
			return domain.RuleEffectiveness{}, false, err
		}
	}
	rec, err := tx.FindEffectiveness(ruleID, context)
	if err != nil {
		return domain.RuleEffectiveness{}, false, err
	}
	return rec, created, nil
}

func (tx *transaction) foldExisting(ruleID, context string, seed domain.RuleEffectiveness, mode domain.Mode, at int64) error {
	var err error
	switch mode {
	case domain.ModeOverwrite:
		_, err = tx.exec(`UPDATE rules_effectiveness SET times_applied = ?, success_count = ?, avg_improvement = ?, last_applied_at = ?
			WHERE rule_id = ? AND project_type = ?`,
			seed.TimesApplied, seed.SuccessCount, seed.AvgImprovement, at, ruleID, context)
	default:
		s, imp := seed.SuccessCount, seed.AvgImprovement
		_, err = tx.exec(`UPDATE rules_effectiveness SET
			times_applied = times_applied + 1,
			success_count = success_count + CAST(? AS INTEGER),
			avg_improvement = CASE WHEN success_count + CAST(? AS INTEGER) = 0 THEN avg_improvement
				ELSE (avg_improvement * success_count + CAST(? AS DOUBLE PRECISION)) / (success_count + CAST(? AS INTEGER)) END,
			last_applied_at = ?
			WHERE rule_id = ? AND project_type = ?`,
			s, s, imp, s, at, ruleID, context)
	}
	if err != nil {
		return fmt.Errorf("fold effectiveness for rule %q in %q: %w", ruleID, context, err)
	}
	return nil
}

func (tx *transaction) Delete(table domain.TableKind, id string) error {
	if err := checkTable(table); err != nil {
		return err
	}
	res, err := tx.exec(`DELETE FROM `+string(table)+` WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete %s %q: %w", table, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s %q rows affected: %w", table, id, err)
	}
	if n == 0 {
		return domain.NotFoundError{Table: table, Key: id}
	}
	return nil
}

func (tx *transaction) DeleteIfExists(table domain.TableKind, id string) (bool, error) {
	err := tx.Delete(table, id)
	if domain.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}
