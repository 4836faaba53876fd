package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"hlskb/internal/config"
	"hlskb/internal/idgen"
	"hlskb/pkg/domain"
)

func TestOpenMemoryAppliesOptions(t *testing.T) {
	at := time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)
	store, err := Open(context.Background(), config.Storage{Driver: "memory"},
		WithIDGenerator(idgen.Sequence("t")), WithClock(func() time.Time { return at }))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	var p domain.Project
	err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		p, err = tx.CreateProject(domain.Project{Name: "FIR_Design", Type: "fir"})
		return err
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.ID != "t-1" || !p.CreatedAt.Equal(at) {
		t.Fatalf("options not applied: %+v", p)
	}
}

func TestOpenSQLiteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.db")
	store, err := Open(context.Background(), config.Storage{Driver: "sqlite", DSN: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.View(context.Background(), func(v domain.View) error {
		_, err := v.Count(domain.TableRules)
		return err
	}); err != nil {
		t.Fatalf("count: %v", err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), config.Storage{Driver: "mongo"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
