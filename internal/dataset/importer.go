package dataset

import (
	"context"
	"fmt"
	"time"

	"hlskb/internal/core"
	"hlskb/internal/manifest"
	"hlskb/pkg/domain"
)

// Result reports what an import changed.
type Result struct {
	Project           domain.Project
	ProjectCreated    bool
	IterationsCreated int
	IterationsUpdated int
	SynthesisCreated  int
	SynthesisUpdated  int
	Rules             []core.AppliedRule
	Unmatched         []RuleApplication
	// Entries lists rows this import created. Updated rows existed before
	// and are not rolled back with the batch.
	Entries []manifest.Entry
}

// Manifest wraps the created rows in a pending manifest labelled with the
// project name.
func (r Result) Manifest(operator string, at time.Time) manifest.Manifest {
	m := manifest.New(r.Project.Name, r.Project.Type, operator, nil, at)
	m.Entries = append(m.Entries, r.Entries...)
	return m
}

// Option customises an Importer.
type Option func(*Importer)

// WithLogger sets the importer logger.
func WithLogger(l core.Logger) Option {
	return func(i *Importer) {
		if l != nil {
			i.logger = l
		}
	}
}

// WithMetrics reports effectiveness writes to m.
func WithMetrics(m core.MetricsRecorder) Option {
	return func(i *Importer) { i.metrics = m }
}

// Importer writes a File into the store in one transaction.
type Importer struct {
	store      domain.EntityStore
	logger     core.Logger
	metrics    core.MetricsRecorder
	matcher    *core.RuleMatcher
	aggregator *core.EffectivenessAggregator
}

// NewImporter returns an Importer over store.
func NewImporter(store domain.EntityStore, opts ...Option) *Importer {
	i := &Importer{store: store}
	for _, opt := range opts {
		opt(i)
	}
	engine := []core.Option{core.WithLogger(i.logger), core.WithMetrics(i.metrics)}
	i.matcher = core.NewRuleMatcher(store, engine...)
	i.aggregator = core.NewEffectivenessAggregator(store, engine...)
	return i
}

// Import upserts the project by ID, iterations by number and synthesis
// results by iteration, then overwrites the effectiveness of every matched
// rule in the project's type.
func (i *Importer) Import(ctx context.Context, f File) (Result, error) {
	if err := f.Validate(); err != nil {
		return Result{}, err
	}
	var res Result
	err := i.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		res = Result{}
		project, created, err := upsertProject(tx, f.Project)
		if err != nil {
			return err
		}
		res.Project, res.ProjectCreated = project, created
		if created {
			res.Entries = append(res.Entries, manifest.Entry{Table: domain.TableProjects, ID: project.ID, Note: "Project: " + project.Name})
		}
		for _, in := range f.Iterations {
			if err := i.importIteration(tx, project, in, &res); err != nil {
				return fmt.Errorf("iteration #%d: %w", in.Number, err)
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if i.metrics != nil {
		for _, r := range res.Rules {
			i.metrics.EffectivenessApplied(domain.ModeOverwrite, r.Created)
		}
	}
	if i.logger != nil {
		for _, app := range res.Unmatched {
			i.logger.Warn("no exact rule match, effectiveness not recorded", "code", app.Code, "description", manifest.Truncate(app.Description, 50))
		}
		i.logger.Info("dataset imported",
			"project", res.Project.Name,
			"iterations_created", res.IterationsCreated, "iterations_updated", res.IterationsUpdated,
			"rules_recorded", len(res.Rules), "created_records", len(res.Entries))
	}
	return res, nil
}

func upsertProject(tx domain.Transaction, p Project) (domain.Project, bool, error) {
	_, err := tx.FindProject(p.ID)
	switch {
	case err == nil:
		updated, err := tx.UpdateProject(p.ID, func(cur *domain.Project) error {
			cur.Name, cur.Type, cur.Description, cur.TargetDevice = p.Name, p.Type, p.Description, p.TargetDevice
			return nil
		})
		return updated, false, err
	case !domain.IsNotFound(err):
		return domain.Project{}, false, err
	}
	created, err := tx.CreateProject(domain.Project{
		ID:           p.ID,
		Name:         p.Name,
		Type:         p.Type,
		Description:  p.Description,
		TargetDevice: p.TargetDevice,
	})
	return created, true, err
}

func (i *Importer) importIteration(tx domain.Transaction, project domain.Project, in Iteration, res *Result) error {
	fill := func(it *domain.DesignIteration) {
		it.ApproachDescription = in.ApproachDescription
		it.CodeSnapshot = in.CodeSnapshot
		it.CodeHash = domain.CodeHash(in.CodeSnapshot)
		it.PragmasUsed = in.PragmasUsed
		it.PromptUsed = in.PromptUsed
		it.Reasoning = in.Reasoning
		it.UserReferenceCode = in.UserReferenceCode
		it.UserSpecification = in.UserSpecification
		it.ReferenceMetadata = in.ReferenceMetadata
	}

	it, err := tx.FindIterationByNumber(project.ID, in.Number)
	switch {
	case err == nil:
		if it, err = tx.UpdateIteration(it.ID, func(cur *domain.DesignIteration) error { fill(cur); return nil }); err != nil {
			return err
		}
		res.IterationsUpdated++
	case domain.IsNotFound(err):
		fresh := domain.DesignIteration{ProjectID: project.ID, Number: in.Number}
		fill(&fresh)
		if it, err = tx.CreateIteration(fresh); err != nil {
			return err
		}
		res.IterationsCreated++
		res.Entries = append(res.Entries, manifest.Entry{
			Table: domain.TableIterations,
			ID:    it.ID,
			Note:  fmt.Sprintf("Iteration #%d: %s", it.Number, manifest.Truncate(it.ApproachDescription, 50)),
		})
	default:
		return err
	}

	if s := in.Synthesis; s != nil {
		sr, created, err := tx.UpsertSynthesis(domain.SynthesisResult{
			IterationID:   it.ID,
			IIAchieved:    s.IIAchieved,
			IITarget:      s.IITarget,
			LatencyCycles: s.LatencyCycles,
			TimingMet:     s.TimingMet,
			ResourceUsage: s.ResourceUsage,
			ClockPeriodNS: s.ClockPeriodNS,
		})
		if err != nil {
			return err
		}
		if created {
			res.SynthesisCreated++
			res.Entries = append(res.Entries, manifest.Entry{Table: domain.TableSynthesis, ID: sr.ID, Note: fmt.Sprintf("Synthesis: II=%d", sr.IIAchieved)})
		} else {
			res.SynthesisUpdated++
		}
	}

	for _, app := range in.Rules {
		rule, ok, err := i.matcher.MatchView(tx, app.Code, app.Description, app.Keywords...)
		if err != nil {
			return err
		}
		if !ok {
			res.Unmatched = append(res.Unmatched, app)
			continue
		}
		o := domain.NewOutcome(app.PreviousII, app.CurrentII, app.Success)
		eff, created, err := i.aggregator.ApplyTx(tx, rule.ID, project.Type, o, domain.ModeOverwrite)
		if err != nil {
			return err
		}
		res.Rules = append(res.Rules, core.AppliedRule{RuleID: rule.ID, EffectivenessID: eff.ID, Created: created})
	}
	return nil
}
