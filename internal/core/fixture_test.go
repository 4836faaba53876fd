package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hlskb/internal/blob"
	"hlskb/internal/config"
	"hlskb/internal/idgen"
	"hlskb/internal/manifest"
	"hlskb/internal/persistence"
	"hlskb/pkg/domain"
)

var stamp = time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)

type fixture struct {
	store     domain.EntityStore
	manifests *manifest.Store
	metrics   *recordingMetrics
	now       time.Time
}

func (f *fixture) clock() time.Time { return f.now }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: stamp, metrics: &recordingMetrics{deleted: map[domain.TableKind]int{}}}
	store, err := persistence.Open(context.Background(), config.Storage{Driver: "memory"},
		persistence.WithIDGenerator(idgen.Sequence("id")), persistence.WithClock(f.clock))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	f.store = store
	f.manifests = manifest.NewStore(blob.NewMemory(), manifest.WithClock(f.clock))
	return f
}

func (f *fixture) opts() []Option {
	return []Option{WithMetrics(f.metrics), WithClock(ClockFunc(f.clock))}
}

func (f *fixture) tx(t *testing.T, fn func(domain.Transaction) error) {
	t.Helper()
	require.NoError(t, f.store.RunInTransaction(context.Background(), fn))
}

func (f *fixture) rule(t *testing.T, code, text string, priority int) domain.Rule {
	t.Helper()
	var r domain.Rule
	f.tx(t, func(tx domain.Transaction) error {
		var err error
		r, err = tx.CreateRule(domain.Rule{Code: code, Text: text, Priority: priority, Kind: domain.RuleKindOfficial})
		return err
	})
	return r
}

func (f *fixture) exists(t *testing.T, table domain.TableKind, id string) bool {
	t.Helper()
	var ok bool
	require.NoError(t, f.store.View(context.Background(), func(v domain.View) error {
		var err error
		ok, err = v.Exists(table, id)
		return err
	}))
	return ok
}

type recordingMetrics struct {
	mu      sync.Mutex
	ops     []string
	failed  []string
	applied []domain.Mode
	created int
	deleted map[domain.TableKind]int
}

func (m *recordingMetrics) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, op)
	if !success {
		m.failed = append(m.failed, op)
	}
}

func (m *recordingMetrics) EffectivenessApplied(mode domain.Mode, created bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applied = append(m.applied, mode)
	if created {
		m.created++
	}
}

func (m *recordingMetrics) RecordsDeleted(table domain.TableKind, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted[table] += n
}

// scripted answers questions in order and records the prompts.
type scripted struct {
	answers []bool
	prompts []string
}

func (s *scripted) Confirm(prompt string) (bool, error) {
	s.prompts = append(s.prompts, prompt)
	if len(s.answers) == 0 {
		return false, nil
	}
	a := s.answers[0]
	s.answers = s.answers[1:]
	return a, nil
}
