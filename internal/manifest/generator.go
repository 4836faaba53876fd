package manifest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"hlskb/pkg/domain"
)

const (
	// RecentLabel labels manifests built from a recency window.
	RecentLabel = "RECENT"
	// MixedContext is the project type of RECENT manifests.
	MixedContext = "mixed"
	noteWidth    = 50
)

// ErrNothingToLog is returned when a generator query selects no records.
var ErrNothingToLog = errors.New("no records to log")

// Generator builds manifests from the current contents of an entity store.
type Generator struct {
	store    domain.EntityStore
	operator string
	now      func() time.Time
}

// NewGenerator returns a Generator stamping manifests with operator.
func NewGenerator(store domain.EntityStore, operator string, now func() time.Time) *Generator {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Generator{store: store, operator: operator, now: now}
}

// ByProjectOptions narrows ByProject.
type ByProjectOptions struct {
	// Iteration limits the manifest to one iteration and its synthesis result.
	Iteration *int
	// IncludeEffectiveness adds the effectiveness rows of the project's
	// context. They are shared statistics, so this is off by default.
	IncludeEffectiveness bool
}

// ByProject logs the most recent project named name.
func (g *Generator) ByProject(ctx context.Context, name string, opts ByProjectOptions) (Manifest, error) {
	var m Manifest
	err := g.store.View(ctx, func(v domain.View) error {
		project, err := v.FindProjectByName(name)
		if err != nil {
			return err
		}
		var iterations []domain.DesignIteration
		if opts.Iteration != nil {
			it, err := v.FindIterationByNumber(project.ID, *opts.Iteration)
			if err != nil {
				return err
			}
			iterations = []domain.DesignIteration{it}
		} else {
			if iterations, err = v.ListIterations(project.ID); err != nil {
				return err
			}
		}
		m = New(project.Name, project.Type, g.operator, opts.Iteration, g.now())
		if opts.Iteration == nil {
			m.AddRecord(project, "Project: "+project.Name)
		}
		for _, it := range iterations {
			m.AddRecord(it, iterationNote(it))
			sr, err := v.FindSynthesisByIteration(it.ID)
			if domain.IsNotFound(err) {
				continue
			}
			if err != nil {
				return err
			}
			m.AddRecord(sr, synthesisNote(sr))
		}
		if opts.IncludeEffectiveness {
			rows, err := v.ListEffectiveness(project.Type)
			if err != nil {
				return err
			}
			for _, r := range rows {
				m.AddRecord(r, "Rule effectiveness for "+project.Type)
			}
		}
		return nil
	})
	if err != nil {
		return Manifest{}, err
	}
	if len(m.Entries) == 0 {
		return Manifest{}, ErrNothingToLog
	}
	return m, nil
}

// Recent logs every record created (effectiveness: last applied) within window.
func (g *Generator) Recent(ctx context.Context, window time.Duration) (Manifest, error) {
	if window <= 0 {
		return Manifest{}, fmt.Errorf("window must be positive, got %s", window)
	}
	now := g.now()
	m := New(RecentLabel, MixedContext, g.operator, nil, now)
	m.Notes = "Recent imports from last " + window.String()
	err := g.store.View(ctx, func(v domain.View) error {
		for _, table := range domain.RollbackOrder {
			recs, err := v.RecordsSince(table, now.Add(-window))
			if err != nil {
				return fmt.Errorf("query %s: %w", table, err)
			}
			for _, rec := range recs {
				m.AddRecord(rec, recordNote(rec))
			}
		}
		return nil
	})
	if err != nil {
		return Manifest{}, err
	}
	if len(m.Entries) == 0 {
		return Manifest{}, ErrNothingToLog
	}
	return m, nil
}

func iterationNote(it domain.DesignIteration) string {
	desc := it.ApproachDescription
	if desc == "" {
		desc = "N/A"
	}
	return fmt.Sprintf("Iteration #%d: %s", it.Number, Truncate(desc, noteWidth))
}

func synthesisNote(sr domain.SynthesisResult) string {
	return "Synthesis: II=" + strconv.Itoa(sr.IIAchieved)
}

func recordNote(rec domain.Record) string {
	switch r := rec.(type) {
	case domain.Project:
		return "Project: " + r.Name
	case domain.DesignIteration:
		return fmt.Sprintf("Iteration #%d", r.Number)
	case domain.SynthesisResult:
		return synthesisNote(r)
	case domain.Rule:
		if r.Code != "" {
			return "Rule: " + r.Code
		}
		return "Rule: " + Truncate(r.Text, noteWidth)
	case domain.RuleEffectiveness:
		return "Rule effectiveness: " + r.Context
	}
	return "Record"
}

// ParseWindow accepts Go durations ("90m", "2.5h") plus a day suffix ("1d", "1.5d").
func ParseWindow(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.ParseFloat(days, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid window %q: %w", s, err)
		}
		return checkWindow(s, time.Duration(n*float64(24*time.Hour)))
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid window %q: %w", s, err)
	}
	return checkWindow(s, d)
}

func checkWindow(s string, d time.Duration) (time.Duration, error) {
	if d <= 0 {
		return 0, fmt.Errorf("invalid window %q: must be positive", s)
	}
	return d, nil
}
