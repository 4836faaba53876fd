package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"hlskb/pkg/domain"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

type view struct {
	ctx context.Context
	q   querier
	d   Dialect
}

func (v *view) exec(query string, args ...any) (sql.Result, error) {
	return v.q.ExecContext(v.ctx, v.d.rebind(query), args...)
}

func (v *view) query(query string, args ...any) (*sql.Rows, error) {
	return v.q.QueryContext(v.ctx, v.d.rebind(query), args...)
}

func (v *view) queryRow(query string, args ...any) *sql.Row {
	return v.q.QueryRowContext(v.ctx, v.d.rebind(query), args...)
}

const (
	projectCols   = `id, name, project_type, description, target_device, created_at, updated_at`
	iterationCols = `id, project_id, iteration_number, approach_description, code_snapshot, code_hash,
		pragmas_used, prompt_used, reasoning, user_reference_code, user_specification, reference_metadata, created_at`
	synthesisCols     = `id, iteration_id, ii_achieved, ii_target, latency_cycles, timing_met, resource_usage, clock_period_ns, created_at`
	ruleCols          = `id, rule_code, rule_text, rule_type, category, priority, source, description, created_at`
	effectivenessCols = `id, rule_id, project_type, times_applied, success_count, avg_improvement, last_applied_at`
)

func scanProject(row scanner) (domain.Project, error) {
	var p domain.Project
	var created, updated int64
	if err := row.Scan(&p.ID, &p.Name, &p.Type, &p.Description, &p.TargetDevice, &created, &updated); err != nil {
		return domain.Project{}, err
	}
	p.CreatedAt, p.UpdatedAt = fromMicros(created), fromMicros(updated)
	return p, nil
}

func scanIteration(row scanner) (domain.DesignIteration, error) {
	var (
		it        domain.DesignIteration
		pragmas   string
		reference sql.NullString
		created   int64
	)
	if err := row.Scan(&it.ID, &it.ProjectID, &it.Number, &it.ApproachDescription, &it.CodeSnapshot, &it.CodeHash,
		&pragmas, &it.PromptUsed, &it.Reasoning, &it.UserReferenceCode, &it.UserSpecification, &reference, &created); err != nil {
		return domain.DesignIteration{}, err
	}
	var err error
	if it.PragmasUsed, err = decodePragmas(pragmas); err != nil {
		return domain.DesignIteration{}, err
	}
	if it.ReferenceMetadata, err = decodeReference(reference); err != nil {
		return domain.DesignIteration{}, err
	}
	it.CreatedAt = fromMicros(created)
	return it, nil
}

func scanSynthesis(row scanner) (domain.SynthesisResult, error) {
	var (
		sr        domain.SynthesisResult
		latency   sql.NullInt64
		timing    sql.NullBool
		resources string
		clock     sql.NullFloat64
		created   int64
	)
	if err := row.Scan(&sr.ID, &sr.IterationID, &sr.IIAchieved, &sr.IITarget, &latency, &timing, &resources, &clock, &created); err != nil {
		return domain.SynthesisResult{}, err
	}
	if latency.Valid {
		v := int(latency.Int64)
		sr.LatencyCycles = &v
	}
	if timing.Valid {
		v := timing.Bool
		sr.TimingMet = &v
	}
	if clock.Valid {
		v := clock.Float64
		sr.ClockPeriodNS = &v
	}
	var err error
	if sr.ResourceUsage, err = decodeResources(resources); err != nil {
		return domain.SynthesisResult{}, err
	}
	sr.CreatedAt = fromMicros(created)
	return sr, nil
}

func scanRule(row scanner) (domain.Rule, error) {
	var (
		r       domain.Rule
		code    sql.NullString
		kind    string
		created int64
	)
	if err := row.Scan(&r.ID, &code, &r.Text, &kind, &r.Category, &r.Priority, &r.Source, &r.Description, &created); err != nil {
		return domain.Rule{}, err
	}
	r.Code = code.String
	r.Kind = domain.RuleKind(kind)
	r.CreatedAt = fromMicros(created)
	return r, nil
}

func scanEffectiveness(row scanner) (domain.RuleEffectiveness, error) {
	var (
		e    domain.RuleEffectiveness
		last int64
	)
	if err := row.Scan(&e.ID, &e.RuleID, &e.Context, &e.TimesApplied, &e.SuccessCount, &e.AvgImprovement, &last); err != nil {
		return domain.RuleEffectiveness{}, err
	}
	e.LastAppliedAt = fromMicros(last)
	return e, nil
}

// one runs a single-row query and maps sql.ErrNoRows to NotFoundError.
func one[T any](v *view, table domain.TableKind, key string, scan func(scanner) (T, error), query string, args ...any) (T, error) {
	rec, err := scan(v.queryRow(query, args...))
	if isNoRows(err) {
		var zero T
		return zero, domain.NotFoundError{Table: table, Key: key}
	}
	if err != nil {
		var zero T
		return zero, fmt.Errorf("select %s: %w", table, err)
	}
	return rec, nil
}

func many[T any](v *view, table domain.TableKind, scan func(scanner) (T, error), query string, args ...any) ([]T, error) {
	rows, err := v.query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()
	var out []T
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return out, nil
}

func (v *view) FindProject(id string) (domain.Project, error) {
	return one(v, domain.TableProjects, id, scanProject,
		`SELECT `+projectCols+` FROM projects WHERE id = ?`, id)
}

func (v *view) FindProjectByName(name string) (domain.Project, error) {
	return one(v, domain.TableProjects, name, scanProject,
		`SELECT `+projectCols+` FROM projects WHERE name = ? ORDER BY created_at DESC, id DESC LIMIT 1`, name)
}

func (v *view) ListProjects() ([]domain.Project, error) {
	return many(v, domain.TableProjects, scanProject, `SELECT `+projectCols+` FROM projects ORDER BY id`)
}

func (v *view) FindIteration(id string) (domain.DesignIteration, error) {
	return one(v, domain.TableIterations, id, scanIteration,
		`SELECT `+iterationCols+` FROM design_iterations WHERE id = ?`, id)
}

func (v *view) FindIterationByNumber(projectID string, number int) (domain.DesignIteration, error) {
	return one(v, domain.TableIterations, fmt.Sprintf("%s#%d", projectID, number), scanIteration,
		`SELECT `+iterationCols+` FROM design_iterations WHERE project_id = ? AND iteration_number = ?`, projectID, number)
}

func (v *view) ListIterations(projectID string) ([]domain.DesignIteration, error) {
	return many(v, domain.TableIterations, scanIteration,
		`SELECT `+iterationCols+` FROM design_iterations WHERE project_id = ? ORDER BY iteration_number`, projectID)
}

func (v *view) FindSynthesis(id string) (domain.SynthesisResult, error) {
	return one(v, domain.TableSynthesis, id, scanSynthesis,
		`SELECT `+synthesisCols+` FROM synthesis_results WHERE id = ?`, id)
}

func (v *view) FindSynthesisByIteration(iterationID string) (domain.SynthesisResult, error) {
	return one(v, domain.TableSynthesis, iterationID, scanSynthesis,
		`SELECT `+synthesisCols+` FROM synthesis_results WHERE iteration_id = ?`, iterationID)
}

func (v *view) FindRule(id string) (domain.Rule, error) {
	return one(v, domain.TableRules, id, scanRule, `SELECT `+ruleCols+` FROM hls_rules WHERE id = ?`, id)
}

func (v *view) FindRuleByCode(code string) (domain.Rule, error) {
	if code == "" {
		return domain.Rule{}, domain.NotFoundError{Table: domain.TableRules, Key: code}
	}
	return one(v, domain.TableRules, code, scanRule, `SELECT `+ruleCols+` FROM hls_rules WHERE rule_code = ?`, code)
}

func (v *view) FindRuleByText(text string) (domain.Rule, error) {
	key := domain.RuleTextKey(text)
	if key == "" {
		return domain.Rule{}, domain.NotFoundError{Table: domain.TableRules, Key: text}
	}
	return one(v, domain.TableRules, text, scanRule,
		`SELECT `+ruleCols+` FROM hls_rules WHERE text_key = ? ORDER BY created_at, id LIMIT 1`, key)
}

func (v *view) ListRules() ([]domain.Rule, error) {
	return many(v, domain.TableRules, scanRule, `SELECT `+ruleCols+` FROM hls_rules ORDER BY created_at, id`)
}

func (v *view) FindEffectiveness(ruleID, context string) (domain.RuleEffectiveness, error) {
	return one(v, domain.TableEffectiveness, ruleID+"/"+context, scanEffectiveness,
		`SELECT `+effectivenessCols+` FROM rules_effectiveness WHERE rule_id = ? AND project_type = ?`, ruleID, context)
}

func (v *view) ListEffectiveness(context string) ([]domain.RuleEffectiveness, error) {
	if context == "" {
		return many(v, domain.TableEffectiveness, scanEffectiveness,
			`SELECT `+effectivenessCols+` FROM rules_effectiveness ORDER BY id`)
	}
	return many(v, domain.TableEffectiveness, scanEffectiveness,
		`SELECT `+effectivenessCols+` FROM rules_effectiveness WHERE project_type = ? ORDER BY id`, context)
}

// checkTable keeps caller-supplied kinds out of SQL unless they are known tables.
func checkTable(table domain.TableKind) error {
	if !table.Known() {
		return domain.UnknownDependencyError{Tables: []domain.TableKind{table}}
	}
	return nil
}

func (v *view) Exists(table domain.TableKind, id string) (bool, error) {
	if err := checkTable(table); err != nil {
		return false, err
	}
	var hit int
	err := v.queryRow(`SELECT 1 FROM `+string(table)+` WHERE id = ?`, id).Scan(&hit)
	if isNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", table, err)
	}
	return true, nil
}

func (v *view) Count(table domain.TableKind) (int, error) {
	if err := checkTable(table); err != nil {
		return 0, err
	}
	var n int
	if err := v.queryRow(`SELECT COUNT(*) FROM ` + string(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func records[T domain.Record](recs []T) []domain.Record {
	out := make([]domain.Record, len(recs))
	for i, r := range recs {
		out[i] = r
	}
	return out
}

func (v *view) RecordsSince(table domain.TableKind, cutoff time.Time) ([]domain.Record, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	col := timeColumn[string(table)]
	where := ` FROM ` + string(table) + ` WHERE ` + col + ` > ? ORDER BY ` + col + `, id`
	c := toMicros(cutoff)
	switch table {
	case domain.TableProjects:
		recs, err := many(v, table, scanProject, `SELECT `+projectCols+where, c)
		return records(recs), err
	case domain.TableIterations:
		recs, err := many(v, table, scanIteration, `SELECT `+iterationCols+where, c)
		return records(recs), err
	case domain.TableSynthesis:
		recs, err := many(v, table, scanSynthesis, `SELECT `+synthesisCols+where, c)
		return records(recs), err
	case domain.TableRules:
		recs, err := many(v, table, scanRule, `SELECT `+ruleCols+where, c)
		return records(recs), err
	default:
		recs, err := many(v, table, scanEffectiveness, `SELECT `+effectivenessCols+where, c)
		return records(recs), err
	}
}
