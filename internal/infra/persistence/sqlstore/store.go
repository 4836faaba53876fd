// Package sqlstore implements the entity store over database/sql with real,
// foreign-key constrained tables. Driver registration and connection setup
// live in the sqlite and postgres packages.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"hlskb/internal/idgen"
	"hlskb/pkg/domain"
)

var _ domain.EntityStore = (*Store)(nil)

const maxAttempts = 3

// Option customises a Store.
type Option func(*Store)

// WithIDGenerator overrides the record ID strategy.
func WithIDGenerator(gen idgen.Generator) Option { return func(s *Store) { s.newID = gen } }

// WithClock overrides the time source stamped onto records.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.nowFn = now } }

// Store is a relational entity store.
type Store struct {
	db      *sql.DB
	dialect Dialect
	newID   idgen.Generator
	nowFn   func() time.Time
}

// New wraps an open database handle. Call Migrate before first use.
func New(db *sql.DB, dialect Dialect, opts ...Option) *Store {
	s := &Store{
		db:      db,
		dialect: dialect,
		newID:   idgen.Default,
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying handle for tests and diagnostics.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect returns the engine dialect the store was built with.
func (s *Store) Dialect() Dialect { return s.dialect }

// Migrate applies the schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: apply schema: %w", s.dialect.Name, err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// RunInTransaction executes fn inside one database transaction. Transient
// engine errors (SQLite busy, Postgres serialization failures) re-run fn
// with 100/200ms backoff; any other error rolls the transaction back.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) error {
	for attempt := 1; ; attempt++ {
		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !s.dialect.retryable(err) || attempt == maxAttempts {
			return err
		}
		if err := sleepCtx(ctx, time.Duration(100*attempt)*time.Millisecond); err != nil {
			return fmt.Errorf("%s: context cancelled during retry: %w", s.dialect.Name, err)
		}
	}
}

func (s *Store) runOnce(ctx context.Context, fn func(domain.Transaction) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin tx: %w", s.dialect.Name, err)
	}
	tx := &transaction{
		view:  view{ctx: ctx, q: sqlTx, d: s.dialect},
		store: s,
		now:   s.nowFn(),
	}
	if err := fn(tx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", s.dialect.Name, err)
	}
	return nil
}

// View runs fn inside a transaction that is always rolled back.
func (s *Store) View(ctx context.Context, fn func(domain.View) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin view: %w", s.dialect.Name, err)
	}
	defer func() { _ = sqlTx.Rollback() }()
	return fn(&view{ctx: ctx, q: sqlTx, d: s.dialect})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }
