package domain

import (
	"context"
	"time"
)

// View provides read access to a consistent snapshot of the knowledge base.
// Finders return NotFoundError when no record matches.
type View interface {
	FindProject(id string) (Project, error)
	// FindProjectByName returns the most recently created project with name.
	FindProjectByName(name string) (Project, error)
	ListProjects() ([]Project, error)
	FindIteration(id string) (DesignIteration, error)
	FindIterationByNumber(projectID string, number int) (DesignIteration, error)
	// ListIterations returns the project's iterations ordered by number.
	ListIterations(projectID string) ([]DesignIteration, error)
	FindSynthesis(id string) (SynthesisResult, error)
	FindSynthesisByIteration(iterationID string) (SynthesisResult, error)
	FindRule(id string) (Rule, error)
	FindRuleByCode(code string) (Rule, error)
	// FindRuleByText matches on RuleTextKey.
	FindRuleByText(text string) (Rule, error)
	ListRules() ([]Rule, error)
	FindEffectiveness(ruleID, context string) (RuleEffectiveness, error)
	// ListEffectiveness returns rows of context, or of every context when empty.
	ListEffectiveness(context string) ([]RuleEffectiveness, error)
	// Exists reports whether a record of the given kind is present.
	Exists(table TableKind, id string) (bool, error)
	// Count returns the number of records of the given kind.
	Count(table TableKind) (int, error)
	// RecordsSince returns records of the given kind created (for
	// effectiveness: last applied) strictly after cutoff, oldest first.
	RecordsSince(table TableKind, cutoff time.Time) ([]Record, error)
}

// Transaction adds mutations to View. Every mutation is visible to later
// reads in the same transaction and is discarded unless the transaction commits.
type Transaction interface {
	View
	CreateProject(Project) (Project, error)
	UpdateProject(id string, mutator func(*Project) error) (Project, error)
	// CreateIteration assigns the next number for the project when Number is
	// zero. Numbers are never reused, even after the holder was deleted.
	CreateIteration(DesignIteration) (DesignIteration, error)
	UpdateIteration(id string, mutator func(*DesignIteration) error) (DesignIteration, error)
	// UpsertSynthesis keeps at most one result per iteration.
	UpsertSynthesis(SynthesisResult) (result SynthesisResult, created bool, err error)
	CreateRule(Rule) (Rule, error)
	// UpdateRule fails with ErrRuleCodeImmutable when the mutator rewrites an assigned code.
	UpdateRule(id string, mutator func(*Rule) error) (Rule, error)
	// ApplyEffectiveness folds the outcome into the (rule, context) record as
	// one atomic read-modify-write.
	ApplyEffectiveness(ruleID, context string, o Outcome, mode Mode) (record RuleEffectiveness, created bool, err error)
	// Delete removes a record. Missing records fail with NotFoundError and
	// records still referenced by another row fail as well.
	Delete(table TableKind, id string) error
	// DeleteIfExists behaves like Delete but tolerates a missing record.
	DeleteIfExists(table TableKind, id string) (bool, error)
}

// EntityStore is the persistence contract implemented by every backend.
// Handles are passed explicitly; there is no process-wide store.
type EntityStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) error
	View(ctx context.Context, fn func(View) error) error
	Close() error
}
