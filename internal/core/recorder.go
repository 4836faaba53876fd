package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hlskb/internal/manifest"
	"hlskb/pkg/domain"
)

// RuleApplication is one rule the designer reports having applied.
type RuleApplication struct {
	Code           string   `yaml:"code,omitempty"`
	Text           string   `yaml:"text,omitempty"`
	Keywords       []string `yaml:"keywords,omitempty"`
	PreviousMetric float64  `yaml:"previous_metric"`
	CurrentMetric  float64  `yaml:"current_metric"`
	ClaimedSuccess bool     `yaml:"success"`
}

// IterationInput describes one completed design iteration.
type IterationInput struct {
	// ProjectID selects an existing project. When empty the project is
	// looked up by ProjectName, which defaults to <TYPE>_Design.
	ProjectID   string
	ProjectName string
	ProjectType string
	Iteration   domain.DesignIteration
	Synthesis   *domain.SynthesisResult
	Rules       []RuleApplication
}

// AppliedRule reports how one rule application was folded.
type AppliedRule struct {
	RuleID          string
	EffectivenessID string
	Created         bool
}

// IterationRecord is the outcome of IterationRecorder.Record.
type IterationRecord struct {
	Project        domain.Project
	ProjectCreated bool
	Iteration      domain.DesignIteration
	Synthesis      *domain.SynthesisResult
	Applied        []AppliedRule
	Unmatched      []RuleApplication
	// Entries lists the rows this call created, ready for a manifest.
	// Effectiveness rows are shared statistics and are never listed.
	Entries []manifest.Entry
}

// Manifest wraps the created rows in a pending manifest.
func (r IterationRecord) Manifest(operator string, at time.Time) manifest.Manifest {
	n := r.Iteration.Number
	m := manifest.New(r.Project.Name, r.Project.Type, operator, &n, at)
	m.Entries = append(m.Entries, r.Entries...)
	return m
}

// IterationRecorder records live iterations. Rule outcomes always
// accumulate.
type IterationRecorder struct {
	store      domain.EntityStore
	matcher    *RuleMatcher
	aggregator *EffectivenessAggregator
	opts       options
}

// NewIterationRecorder builds a recorder over store.
func NewIterationRecorder(store domain.EntityStore, opts ...Option) *IterationRecorder {
	return &IterationRecorder{
		store:      store,
		matcher:    NewRuleMatcher(store, opts...),
		aggregator: NewEffectivenessAggregator(store, opts...),
		opts:       buildOptions(opts),
	}
}

// Record stores the iteration, its synthesis result and every matched rule
// outcome in one transaction.
func (r *IterationRecorder) Record(ctx context.Context, in IterationInput) (rec IterationRecord, err error) {
	start := time.Now()
	defer func() { r.opts.observe(ctx, "iteration.record", err, start) }()
	projectType := strings.TrimSpace(in.ProjectType)
	if projectType == "" {
		return IterationRecord{}, fmt.Errorf("project type required")
	}
	err = r.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		rec = IterationRecord{}
		project, created, err := ensureProject(tx, in, projectType)
		if err != nil {
			return err
		}
		rec.Project, rec.ProjectCreated = project, created
		if created {
			rec.Entries = append(rec.Entries, manifest.Entry{Table: domain.TableProjects, ID: project.ID, Note: "Project: " + project.Name})
		}

		it := in.Iteration
		it.ID = ""
		it.ProjectID = project.ID
		if it.CodeHash == "" {
			it.CodeHash = domain.CodeHash(it.CodeSnapshot)
		}
		if rec.Iteration, err = tx.CreateIteration(it); err != nil {
			return fmt.Errorf("create iteration: %w", err)
		}
		rec.Entries = append(rec.Entries, manifest.Entry{
			Table: domain.TableIterations,
			ID:    rec.Iteration.ID,
			Note:  fmt.Sprintf("Iteration #%d: %s", rec.Iteration.Number, manifest.Truncate(rec.Iteration.ApproachDescription, 50)),
		})

		if in.Synthesis != nil {
			sr := *in.Synthesis
			sr.ID = ""
			sr.IterationID = rec.Iteration.ID
			saved, created, err := tx.UpsertSynthesis(sr)
			if err != nil {
				return fmt.Errorf("record synthesis result: %w", err)
			}
			rec.Synthesis = &saved
			if created {
				rec.Entries = append(rec.Entries, manifest.Entry{Table: domain.TableSynthesis, ID: saved.ID, Note: fmt.Sprintf("Synthesis: II=%d", saved.IIAchieved)})
			}
		}

		for _, app := range in.Rules {
			rule, ok, err := r.matcher.MatchView(tx, app.Code, app.Text, app.Keywords...)
			if err != nil {
				return err
			}
			if !ok {
				rec.Unmatched = append(rec.Unmatched, app)
				continue
			}
			o := domain.NewOutcome(app.PreviousMetric, app.CurrentMetric, app.ClaimedSuccess)
			eff, created, err := r.aggregator.ApplyTx(tx, rule.ID, projectType, o, domain.ModeAccumulate)
			if err != nil {
				return err
			}
			rec.Applied = append(rec.Applied, AppliedRule{RuleID: rule.ID, EffectivenessID: eff.ID, Created: created})
		}
		return nil
	})
	if err != nil {
		return IterationRecord{}, err
	}
	for _, a := range rec.Applied {
		r.opts.metrics.EffectivenessApplied(domain.ModeAccumulate, a.Created)
	}
	for _, app := range rec.Unmatched {
		r.opts.logger.Warn("rule application not recorded, no exact match", "code", app.Code, "text", manifest.Truncate(app.Text, 50))
	}
	r.opts.logger.Info("iteration recorded",
		"project", rec.Project.Name, "iteration", rec.Iteration.Number,
		"rules_applied", len(rec.Applied), "rules_unmatched", len(rec.Unmatched))
	return rec, nil
}

func ensureProject(tx domain.Transaction, in IterationInput, projectType string) (domain.Project, bool, error) {
	if in.ProjectID != "" {
		p, err := tx.FindProject(in.ProjectID)
		if err == nil {
			return p, false, nil
		}
		if !domain.IsNotFound(err) {
			return domain.Project{}, false, err
		}
	}
	name := strings.TrimSpace(in.ProjectName)
	if name == "" {
		name = strings.ToUpper(projectType) + "_Design"
	}
	if in.ProjectID == "" {
		p, err := tx.FindProjectByName(name)
		if err == nil {
			return p, false, nil
		}
		if !domain.IsNotFound(err) {
			return domain.Project{}, false, err
		}
	}
	p, err := tx.CreateProject(domain.Project{ID: in.ProjectID, Name: name, Type: projectType})
	if err != nil {
		return domain.Project{}, false, fmt.Errorf("create project: %w", err)
	}
	return p, true, nil
}

