package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"hlskb/internal/manifest"
	"hlskb/pkg/domain"
)

// ManifestStore is the part of manifest.Store the executor needs.
type ManifestStore interface {
	Load(ctx context.Context, key string) (manifest.Manifest, error)
	MarkCompleted(ctx context.Context, h manifest.Handle, at time.Time) (manifest.Manifest, error)
}

// Step deletes every listed record of one table.
type Step struct {
	Table   domain.TableKind
	Entries []manifest.Entry
}

// Plan is the ordered deletion of a manifest's records, children first.
type Plan struct {
	Label     string
	Iteration *int
	Status    manifest.Status
	Steps     []Step
}

// BuildPlan orders the manifest's entries by domain.RollbackOrder, keeping
// manifest order within a table. Unknown tables fail before anything else.
func BuildPlan(m manifest.Manifest) (Plan, error) {
	tables, err := domain.OrderTables(m.Tables())
	if err != nil {
		return Plan{}, err
	}
	byTable := make(map[domain.TableKind][]manifest.Entry, len(tables))
	for _, e := range m.Entries {
		byTable[e.Table] = append(byTable[e.Table], e)
	}
	p := Plan{Label: m.Project, Iteration: m.Iteration, Status: m.Status, Steps: make([]Step, 0, len(tables))}
	for _, t := range tables {
		p.Steps = append(p.Steps, Step{Table: t, Entries: byTable[t]})
	}
	return p, nil
}

// Total returns the number of records the plan deletes.
func (p Plan) Total() int {
	n := 0
	for _, s := range p.Steps {
		n += len(s.Entries)
	}
	return n
}

// Render writes the deletion order and the equivalent SQL statements.
func (p Plan) Render(w io.Writer) error {
	var b strings.Builder
	b.WriteString("Rollback order:\n")
	for i, s := range p.Steps {
		fmt.Fprintf(&b, "  %d. %s (%d)\n", i+1, s.Table, len(s.Entries))
	}
	b.WriteString("\nSQL statements to execute:\n\n")
	for _, s := range p.Steps {
		for _, e := range s.Entries {
			fmt.Fprintf(&b, "  DELETE FROM %s WHERE id = '%s';", s.Table, strings.ReplaceAll(e.ID, "'", "''"))
			if e.Note != "" {
				fmt.Fprintf(&b, "  -- %s", e.Note)
			}
			b.WriteByte('\n')
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// Report summarises an executed rollback.
type Report struct {
	Key      string
	Plan     Plan
	Override bool
	Deleted  map[domain.TableKind]int
	// Missing counts records an override re-run found already gone.
	Missing     int
	CompletedAt time.Time
}

// DeletedTotal returns the number of records removed.
func (r Report) DeletedTotal() int {
	n := 0
	for _, c := range r.Deleted {
		n += c
	}
	return n
}

// RollbackExecutor undoes the batch a manifest describes.
type RollbackExecutor struct {
	store     domain.EntityStore
	manifests ManifestStore
	confirm   Confirmer
	rerun     Confirmer
	opts      options
}

// NewRollbackExecutor wires the executor. A nil confirmer declines every
// question.
func NewRollbackExecutor(store domain.EntityStore, manifests ManifestStore, confirm Confirmer, opts ...Option) *RollbackExecutor {
	if confirm == nil {
		confirm = Auto(false)
	}
	return &RollbackExecutor{store: store, manifests: manifests, confirm: confirm, opts: buildOptions(opts)}
}

// AllowRerun sets the confirmer that approves re-running a completed
// manifest. It is asked separately from the deletion prompt. Without one,
// completed manifests are refused with domain.ErrAlreadyRolledBack.
func (e *RollbackExecutor) AllowRerun(c Confirmer) *RollbackExecutor {
	e.rerun = c
	return e
}

// Preview loads the manifest at key and returns its plan. Storage is not read.
func (e *RollbackExecutor) Preview(ctx context.Context, key string) (Plan, error) {
	m, err := e.manifests.Load(ctx, key)
	if err != nil {
		return Plan{}, err
	}
	return BuildPlan(m)
}

// Execute deletes the manifest's records in one transaction and marks the
// manifest completed. A completed manifest is only re-run when the rerun
// confirmer approves the override; records already gone are then tolerated.
func (e *RollbackExecutor) Execute(ctx context.Context, h manifest.Handle) (rep Report, err error) {
	start := time.Now()
	defer func() { e.opts.observe(ctx, "rollback.execute", err, start) }()

	m, err := e.manifests.Load(ctx, h.Key)
	if err != nil {
		return Report{}, err
	}
	rep = Report{Key: h.Key, Override: m.Completed()}
	if rep.Override {
		if e.rerun == nil {
			return Report{}, fmt.Errorf("manifest %s completed at %s: %w", h.Key, m.RollbackTimestamp, domain.ErrAlreadyRolledBack)
		}
		prompt := fmt.Sprintf("Manifest %s was already rolled back at %s. Run the rollback again?", h.Key, m.RollbackTimestamp)
		ok, err := e.rerun.Confirm(prompt)
		if err != nil {
			return Report{}, err
		}
		if !ok {
			return Report{}, domain.ErrAlreadyRolledBack
		}
		e.opts.logger.Warn("re-running completed rollback", "key", h.Key)
	}

	if rep.Plan, err = BuildPlan(m); err != nil {
		return Report{}, err
	}

	prompt := fmt.Sprintf("Delete %d record(s) listed in %s? This cannot be undone.", rep.Plan.Total(), h.Key)
	ok, err := e.confirm.Confirm(prompt)
	if err != nil {
		return Report{}, err
	}
	if !ok {
		return Report{}, domain.ErrCancelled
	}

	err = e.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		rep.Deleted = make(map[domain.TableKind]int, len(rep.Plan.Steps))
		rep.Missing = 0
		for _, step := range rep.Plan.Steps {
			for _, entry := range step.Entries {
				if err := e.delete(tx, step.Table, entry.ID, rep.Override, &rep); err != nil {
					return domain.TransactionFailureError{Table: step.Table, ID: entry.ID, Err: err}
				}
			}
		}
		return nil
	})
	if err != nil {
		var tfe domain.TransactionFailureError
		if errors.As(err, &tfe) {
			e.opts.logger.Error("rollback aborted", "key", h.Key, "table", tfe.Table, "id", tfe.ID, "error", tfe.Err)
			return Report{}, tfe
		}
		return Report{}, fmt.Errorf("rollback %s: %w", h.Key, err)
	}
	for _, step := range rep.Plan.Steps {
		e.opts.metrics.RecordsDeleted(step.Table, rep.Deleted[step.Table])
	}

	rep.CompletedAt = e.opts.clock.Now().UTC()
	if _, err := e.manifests.MarkCompleted(ctx, h, rep.CompletedAt); err != nil {
		return rep, fmt.Errorf("records deleted but manifest %s not marked completed: %w", h.Key, err)
	}
	e.opts.logger.Info("rollback completed",
		"key", h.Key, "deleted", rep.DeletedTotal(), "missing", rep.Missing, "override", rep.Override)
	return rep, nil
}

func (e *RollbackExecutor) delete(tx domain.Transaction, table domain.TableKind, id string, override bool, rep *Report) error {
	if !override {
		if err := tx.Delete(table, id); err != nil {
			return err
		}
		rep.Deleted[table]++
		return nil
	}
	removed, err := tx.DeleteIfExists(table, id)
	if err != nil {
		return err
	}
	if removed {
		rep.Deleted[table]++
	} else {
		rep.Missing++
	}
	return nil
}
