// Package memory provides an in-memory implementation of the entity store
// used for tests and ephemeral runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"hlskb/internal/idgen"
	"hlskb/pkg/domain"
)

var _ domain.EntityStore = (*Store)(nil)

type (
	// Project aliases domain.Project.
	Project = domain.Project
	// DesignIteration aliases domain.DesignIteration.
	DesignIteration = domain.DesignIteration
	// SynthesisResult aliases domain.SynthesisResult.
	SynthesisResult = domain.SynthesisResult
	// Rule aliases domain.Rule.
	Rule = domain.Rule
	// RuleEffectiveness aliases domain.RuleEffectiveness.
	RuleEffectiveness = domain.RuleEffectiveness
)

type memoryState struct {
	projects      map[string]Project
	iterations    map[string]DesignIteration
	synthesis     map[string]SynthesisResult
	rules         map[string]Rule
	effectiveness map[string]RuleEffectiveness
	// highWater holds the largest iteration number ever assigned per project.
	highWater map[string]int
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Projects      map[string]Project           `json:"projects"`
	Iterations    map[string]DesignIteration   `json:"design_iterations"`
	Synthesis     map[string]SynthesisResult   `json:"synthesis_results"`
	Rules         map[string]Rule              `json:"hls_rules"`
	Effectiveness map[string]RuleEffectiveness `json:"rules_effectiveness"`
	HighWater     map[string]int               `json:"iteration_high_water"`
}

func newMemoryState() memoryState {
	return memoryState{
		projects:      make(map[string]Project),
		iterations:    make(map[string]DesignIteration),
		synthesis:     make(map[string]SynthesisResult),
		rules:         make(map[string]Rule),
		effectiveness: make(map[string]RuleEffectiveness),
		highWater:     make(map[string]int),
	}
}

func (s memoryState) clone() memoryState {
	c := newMemoryState()
	for k, v := range s.projects {
		c.projects[k] = v
	}
	for k, v := range s.iterations {
		c.iterations[k] = cloneIteration(v)
	}
	for k, v := range s.synthesis {
		c.synthesis[k] = cloneSynthesis(v)
	}
	for k, v := range s.rules {
		c.rules[k] = v
	}
	for k, v := range s.effectiveness {
		c.effectiveness[k] = v
	}
	for k, v := range s.highWater {
		c.highWater[k] = v
	}
	return c
}

func cloneIteration(it DesignIteration) DesignIteration {
	if it.PragmasUsed != nil {
		it.PragmasUsed = append([]string(nil), it.PragmasUsed...)
	}
	if it.ReferenceMetadata != nil {
		md := *it.ReferenceMetadata
		if md.Attributes != nil {
			attrs := make(map[string]string, len(md.Attributes))
			for k, v := range md.Attributes {
				attrs[k] = v
			}
			md.Attributes = attrs
		}
		it.ReferenceMetadata = &md
	}
	return it
}

func cloneSynthesis(sr SynthesisResult) SynthesisResult {
	if sr.ResourceUsage != nil {
		ru := make(domain.ResourceUsage, len(sr.ResourceUsage))
		for k, v := range sr.ResourceUsage {
			ru[k] = v
		}
		sr.ResourceUsage = ru
	}
	if sr.LatencyCycles != nil {
		v := *sr.LatencyCycles
		sr.LatencyCycles = &v
	}
	if sr.TimingMet != nil {
		v := *sr.TimingMet
		sr.TimingMet = &v
	}
	if sr.ClockPeriodNS != nil {
		v := *sr.ClockPeriodNS
		sr.ClockPeriodNS = &v
	}
	return sr
}

// Option customises a Store.
type Option func(*Store)

// WithIDGenerator overrides the record ID strategy.
func WithIDGenerator(gen idgen.Generator) Option { return func(s *Store) { s.newID = gen } }

// WithClock overrides the time source stamped onto records.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.nowFn = now } }

// Store is an in-memory transactional entity store. Transactions run
// serially under the write lock against a cloned state that is swapped in
// on success.
type Store struct {
	mu    sync.RWMutex
	state memoryState
	newID idgen.Generator
	nowFn func() time.Time
}

// NewStore constructs an empty in-memory store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		state: newMemoryState(),
		newID: idgen.Default,
		nowFn: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunInTransaction executes fn within a transactional copy of the store state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &transaction{
		view:  view{state: s.state.clone()},
		store: s,
		now:   s.nowFn(),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(ctx context.Context, fn func(domain.View) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&view{state: snapshot})
}

// Close is a no-op for the memory store.
func (s *Store) Close() error { return nil }

// ExportState returns a deep copy of the current state.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state.clone()
	return Snapshot{
		Projects:      st.projects,
		Iterations:    st.iterations,
		Synthesis:     st.synthesis,
		Rules:         st.rules,
		Effectiveness: st.effectiveness,
		HighWater:     st.highWater,
	}
}

// ImportState replaces the store state with a copy of snap.
func (s *Store) ImportState(snap Snapshot) {
	c := memoryState{
		projects:      snap.Projects,
		iterations:    snap.Iterations,
		synthesis:     snap.Synthesis,
		rules:         snap.Rules,
		effectiveness: snap.Effectiveness,
		highWater:     snap.HighWater,
	}.clone()
	s.mu.Lock()
	s.state = c
	s.mu.Unlock()
}

type view struct {
	state memoryState
}

func notFound(table domain.TableKind, key string) error {
	return domain.NotFoundError{Table: table, Key: key}
}

func (v *view) FindProject(id string) (Project, error) {
	p, ok := v.state.projects[id]
	if !ok {
		return Project{}, notFound(domain.TableProjects, id)
	}
	return p, nil
}

func (v *view) FindProjectByName(name string) (Project, error) {
	var (
		best  Project
		found bool
	)
	for _, p := range v.state.projects {
		if p.Name != name {
			continue
		}
		if !found || p.CreatedAt.After(best.CreatedAt) || (p.CreatedAt.Equal(best.CreatedAt) && p.ID > best.ID) {
			best, found = p, true
		}
	}
	if !found {
		return Project{}, notFound(domain.TableProjects, name)
	}
	return best, nil
}

func (v *view) ListProjects() ([]Project, error) {
	out := make([]Project, 0, len(v.state.projects))
	for _, p := range v.state.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *view) FindIteration(id string) (DesignIteration, error) {
	it, ok := v.state.iterations[id]
	if !ok {
		return DesignIteration{}, notFound(domain.TableIterations, id)
	}
	return cloneIteration(it), nil
}

func (v *view) FindIterationByNumber(projectID string, number int) (DesignIteration, error) {
	for _, it := range v.state.iterations {
		if it.ProjectID == projectID && it.Number == number {
			return cloneIteration(it), nil
		}
	}
	return DesignIteration{}, notFound(domain.TableIterations, fmt.Sprintf("%s#%d", projectID, number))
}

func (v *view) ListIterations(projectID string) ([]DesignIteration, error) {
	var out []DesignIteration
	for _, it := range v.state.iterations {
		if it.ProjectID == projectID {
			out = append(out, cloneIteration(it))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (v *view) FindSynthesis(id string) (SynthesisResult, error) {
	sr, ok := v.state.synthesis[id]
	if !ok {
		return SynthesisResult{}, notFound(domain.TableSynthesis, id)
	}
	return cloneSynthesis(sr), nil
}

func (v *view) FindSynthesisByIteration(iterationID string) (SynthesisResult, error) {
	for _, sr := range v.state.synthesis {
		if sr.IterationID == iterationID {
			return cloneSynthesis(sr), nil
		}
	}
	return SynthesisResult{}, notFound(domain.TableSynthesis, iterationID)
}

func (v *view) FindRule(id string) (Rule, error) {
	r, ok := v.state.rules[id]
	if !ok {
		return Rule{}, notFound(domain.TableRules, id)
	}
	return r, nil
}

func (v *view) FindRuleByCode(code string) (Rule, error) {
	if code != "" {
		for _, r := range v.state.rules {
			if r.Code == code {
				return r, nil
			}
		}
	}
	return Rule{}, notFound(domain.TableRules, code)
}

func (v *view) FindRuleByText(text string) (Rule, error) {
	key := domain.RuleTextKey(text)
	if key != "" {
		rules, err := v.ListRules()
		if err != nil {
			return Rule{}, err
		}
		for _, r := range rules {
			if domain.RuleTextKey(r.Text) == key {
				return r, nil
			}
		}
	}
	return Rule{}, notFound(domain.TableRules, text)
}

// ListRules returns rules in creation order.
func (v *view) ListRules() ([]Rule, error) {
	out := make([]Rule, 0, len(v.state.rules))
	for _, r := range v.state.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v *view) findEffectiveness(ruleID, context string) (RuleEffectiveness, bool) {
	for _, e := range v.state.effectiveness {
		if e.RuleID == ruleID && e.Context == context {
			return e, true
		}
	}
	return RuleEffectiveness{}, false
}

func (v *view) FindEffectiveness(ruleID, context string) (RuleEffectiveness, error) {
	e, ok := v.findEffectiveness(ruleID, context)
	if !ok {
		return RuleEffectiveness{}, notFound(domain.TableEffectiveness, ruleID+"/"+context)
	}
	return e, nil
}

func (v *view) ListEffectiveness(context string) ([]RuleEffectiveness, error) {
	var out []RuleEffectiveness
	for _, e := range v.state.effectiveness {
		if context == "" || e.Context == context {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *view) Exists(table domain.TableKind, id string) (bool, error) {
	switch table {
	case domain.TableProjects:
		_, ok := v.state.projects[id]
		return ok, nil
	case domain.TableIterations:
		_, ok := v.state.iterations[id]
		return ok, nil
	case domain.TableSynthesis:
		_, ok := v.state.synthesis[id]
		return ok, nil
	case domain.TableRules:
		_, ok := v.state.rules[id]
		return ok, nil
	case domain.TableEffectiveness:
		_, ok := v.state.effectiveness[id]
		return ok, nil
	}
	return false, domain.UnknownDependencyError{Tables: []domain.TableKind{table}}
}

func (v *view) Count(table domain.TableKind) (int, error) {
	switch table {
	case domain.TableProjects:
		return len(v.state.projects), nil
	case domain.TableIterations:
		return len(v.state.iterations), nil
	case domain.TableSynthesis:
		return len(v.state.synthesis), nil
	case domain.TableRules:
		return len(v.state.rules), nil
	case domain.TableEffectiveness:
		return len(v.state.effectiveness), nil
	}
	return 0, domain.UnknownDependencyError{Tables: []domain.TableKind{table}}
}

type stamped struct {
	at  time.Time
	rec domain.Record
}

func (v *view) RecordsSince(table domain.TableKind, cutoff time.Time) ([]domain.Record, error) {
	var hits []stamped
	switch table {
	case domain.TableProjects:
		for _, p := range v.state.projects {
			hits = append(hits, stamped{p.CreatedAt, p})
		}
	case domain.TableIterations:
		for _, it := range v.state.iterations {
			hits = append(hits, stamped{it.CreatedAt, cloneIteration(it)})
		}
	case domain.TableSynthesis:
		for _, sr := range v.state.synthesis {
			hits = append(hits, stamped{sr.CreatedAt, cloneSynthesis(sr)})
		}
	case domain.TableRules:
		for _, r := range v.state.rules {
			hits = append(hits, stamped{r.CreatedAt, r})
		}
	case domain.TableEffectiveness:
		for _, e := range v.state.effectiveness {
			hits = append(hits, stamped{e.LastAppliedAt, e})
		}
	default:
		return nil, domain.UnknownDependencyError{Tables: []domain.TableKind{table}}
	}
	sort.Slice(hits, func(i, j int) bool {
		if !hits[i].at.Equal(hits[j].at) {
			return hits[i].at.Before(hits[j].at)
		}
		return hits[i].rec.RecordID() < hits[j].rec.RecordID()
	})
	out := make([]domain.Record, 0, len(hits))
	for _, h := range hits {
		if h.at.After(cutoff) {
			out = append(out, h.rec)
		}
	}
	return out, nil
}

type transaction struct {
	view
	store *Store
	now   time.Time
}

func (tx *transaction) CreateProject(p Project) (Project, error) {
	if strings.TrimSpace(p.Name) == "" {
		return Project{}, fmt.Errorf("project name required")
	}
	if p.ID == "" {
		p.ID = tx.store.newID()
	}
	if _, exists := tx.state.projects[p.ID]; exists {
		return Project{}, fmt.Errorf("project %q already exists", p.ID)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = tx.now
	}
	p.UpdatedAt = p.CreatedAt
	tx.state.projects[p.ID] = p
	return p, nil
}

func (tx *transaction) UpdateProject(id string, mutator func(*Project) error) (Project, error) {
	current, ok := tx.state.projects[id]
	if !ok {
		return Project{}, notFound(domain.TableProjects, id)
	}
	if err := mutator(&current); err != nil {
		return Project{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.projects[id] = current
	return current, nil
}

func (tx *transaction) CreateIteration(it DesignIteration) (DesignIteration, error) {
	if _, ok := tx.state.projects[it.ProjectID]; !ok {
		return DesignIteration{}, fmt.Errorf("project %q not found for iteration", it.ProjectID)
	}
	if it.ID == "" {
		it.ID = tx.store.newID()
	}
	if _, exists := tx.state.iterations[it.ID]; exists {
		return DesignIteration{}, fmt.Errorf("iteration %q already exists", it.ID)
	}
	high := tx.state.highWater[it.ProjectID]
	if it.Number == 0 {
		it.Number = high + 1
	} else if it.Number < 0 {
		return DesignIteration{}, fmt.Errorf("iteration number must be positive, got %d", it.Number)
	}
	if _, err := tx.FindIterationByNumber(it.ProjectID, it.Number); err == nil {
		return DesignIteration{}, fmt.Errorf("iteration #%d already exists for project %q", it.Number, it.ProjectID)
	}
	if it.Number > high {
		tx.state.highWater[it.ProjectID] = it.Number
	}
	if it.CodeHash == "" {
		it.CodeHash = domain.CodeHash(it.CodeSnapshot)
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = tx.now
	}
	tx.state.iterations[it.ID] = cloneIteration(it)
	return cloneIteration(it), nil
}

func (tx *transaction) UpdateIteration(id string, mutator func(*DesignIteration) error) (DesignIteration, error) {
	current, ok := tx.state.iterations[id]
	if !ok {
		return DesignIteration{}, notFound(domain.TableIterations, id)
	}
	current = cloneIteration(current)
	projectID, number := current.ProjectID, current.Number
	if err := mutator(&current); err != nil {
		return DesignIteration{}, err
	}
	current.ID, current.ProjectID, current.Number = id, projectID, number
	current.CodeHash = domain.CodeHash(current.CodeSnapshot)
	tx.state.iterations[id] = cloneIteration(current)
	return cloneIteration(current), nil
}

func (tx *transaction) UpsertSynthesis(sr SynthesisResult) (SynthesisResult, bool, error) {
	if _, ok := tx.state.iterations[sr.IterationID]; !ok {
		return SynthesisResult{}, false, fmt.Errorf("iteration %q not found for synthesis result", sr.IterationID)
	}
	if existing, err := tx.FindSynthesisByIteration(sr.IterationID); err == nil {
		sr.ID = existing.ID
		sr.CreatedAt = existing.CreatedAt
		tx.state.synthesis[sr.ID] = cloneSynthesis(sr)
		return cloneSynthesis(sr), false, nil
	}
	if sr.ID == "" {
		sr.ID = tx.store.newID()
	}
	if _, exists := tx.state.synthesis[sr.ID]; exists {
		return SynthesisResult{}, false, fmt.Errorf("synthesis result %q already exists", sr.ID)
	}
	if sr.CreatedAt.IsZero() {
		sr.CreatedAt = tx.now
	}
	tx.state.synthesis[sr.ID] = cloneSynthesis(sr)
	return cloneSynthesis(sr), true, nil
}

func (tx *transaction) CreateRule(r Rule) (Rule, error) {
	if strings.TrimSpace(r.Text) == "" {
		return Rule{}, fmt.Errorf("rule text required")
	}
	if r.ID == "" {
		r.ID = tx.store.newID()
	}
	if _, exists := tx.state.rules[r.ID]; exists {
		return Rule{}, fmt.Errorf("rule %q already exists", r.ID)
	}
	if r.Code != "" {
		if _, err := tx.FindRuleByCode(r.Code); err == nil {
			return Rule{}, fmt.Errorf("rule code %q already assigned", r.Code)
		}
	}
	if r.Kind == "" {
		r.Kind = domain.RuleKindOfficial
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = tx.now
	}
	tx.state.rules[r.ID] = r
	return r, nil
}

func (tx *transaction) UpdateRule(id string, mutator func(*Rule) error) (Rule, error) {
	before, ok := tx.state.rules[id]
	if !ok {
		return Rule{}, notFound(domain.TableRules, id)
	}
	current := before
	if err := mutator(&current); err != nil {
		return Rule{}, err
	}
	if err := domain.CheckRuleCodeChange(before, current); err != nil {
		return Rule{}, err
	}
	if current.Code != "" && current.Code != before.Code {
		if other, err := tx.FindRuleByCode(current.Code); err == nil && other.ID != id {
			return Rule{}, fmt.Errorf("rule code %q already assigned", current.Code)
		}
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	tx.state.rules[id] = current
	return current, nil
}

func (tx *transaction) ApplyEffectiveness(ruleID, context string, o domain.Outcome, mode domain.Mode) (RuleEffectiveness, bool, error) {
	if err := mode.Validate(); err != nil {
		return RuleEffectiveness{}, false, err
	}
	if _, ok := tx.state.rules[ruleID]; !ok {
		return RuleEffectiveness{}, false, fmt.Errorf("rule %q not found for effectiveness", ruleID)
	}
	if strings.TrimSpace(context) == "" {
		return RuleEffectiveness{}, false, fmt.Errorf("effectiveness context required")
	}
	var prev *RuleEffectiveness
	if existing, ok := tx.findEffectiveness(ruleID, context); ok {
		prev = &existing
	}
	next, err := domain.Fold(prev, o, mode, tx.now)
	if err != nil {
		return RuleEffectiveness{}, false, err
	}
	created := prev == nil
	if created {
		next.ID = tx.store.newID()
		next.RuleID = ruleID
		next.Context = context
	}
	tx.state.effectiveness[next.ID] = next
	return next, created, nil
}

func (tx *transaction) Delete(table domain.TableKind, id string) error {
	ok, err := tx.Exists(table, id)
	if err != nil {
		return err
	}
	if !ok {
		return notFound(table, id)
	}
	if err := tx.checkReferences(table, id); err != nil {
		return err
	}
	switch table {
	case domain.TableProjects:
		delete(tx.state.projects, id)
	case domain.TableIterations:
		delete(tx.state.iterations, id)
	case domain.TableSynthesis:
		delete(tx.state.synthesis, id)
	case domain.TableRules:
		delete(tx.state.rules, id)
	case domain.TableEffectiveness:
		delete(tx.state.effectiveness, id)
	}
	return nil
}

func (tx *transaction) DeleteIfExists(table domain.TableKind, id string) (bool, error) {
	ok, err := tx.Exists(table, id)
	if err != nil || !ok {
		return false, err
	}
	if err := tx.Delete(table, id); err != nil {
		return false, err
	}
	return true, nil
}

// checkReferences mirrors the foreign keys of the SQL schema.
func (tx *transaction) checkReferences(table domain.TableKind, id string) error {
	switch table {
	case domain.TableProjects:
		for _, it := range tx.state.iterations {
			if it.ProjectID == id {
				return fmt.Errorf("project %q still referenced by design iteration %q", id, it.ID)
			}
		}
	case domain.TableIterations:
		for _, sr := range tx.state.synthesis {
			if sr.IterationID == id {
				return fmt.Errorf("design iteration %q still referenced by synthesis result %q", id, sr.ID)
			}
		}
	case domain.TableRules:
		for _, e := range tx.state.effectiveness {
			if e.RuleID == id {
				return fmt.Errorf("rule %q still referenced by effectiveness record %q", id, e.ID)
			}
		}
	}
	return nil
}
