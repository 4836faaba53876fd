// Package persistence selects an entity store backend. It is the only package
// outside internal/infra that imports the infra persistence implementations.
package persistence

import (
	"context"
	"fmt"
	"time"

	"hlskb/internal/config"
	"hlskb/internal/idgen"
	"hlskb/internal/infra/persistence/memory"
	"hlskb/internal/infra/persistence/postgres"
	"hlskb/internal/infra/persistence/sqlite"
	"hlskb/internal/infra/persistence/sqlstore"
	"hlskb/pkg/domain"
)

// Driver identifies a concrete persistent storage implementation.
type Driver string

const (
	DriverMemory   Driver = "memory"   // in-memory only (tests / ephemeral)
	DriverSQLite   Driver = "sqlite"   // embedded sqlite file
	DriverPostgres Driver = "postgres" // PostgreSQL server
)

type options struct {
	newID idgen.Generator
	now   func() time.Time
}

// Option customises the opened store.
type Option func(*options)

// WithIDGenerator overrides the record ID strategy.
func WithIDGenerator(gen idgen.Generator) Option { return func(o *options) { o.newID = gen } }

// WithClock overrides the time source stamped onto records.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// Open returns the store named by cfg.Driver (default sqlite).
func Open(ctx context.Context, cfg config.Storage, opts ...Option) (domain.EntityStore, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	driver := Driver(cfg.Driver)
	if driver == "" {
		driver = DriverSQLite
	}
	switch driver {
	case DriverMemory:
		var mopts []memory.Option
		if o.newID != nil {
			mopts = append(mopts, memory.WithIDGenerator(o.newID))
		}
		if o.now != nil {
			mopts = append(mopts, memory.WithClock(o.now))
		}
		return memory.NewStore(mopts...), nil
	case DriverSQLite:
		return sqlite.NewStore(ctx, cfg.DSN, o.sqlOptions()...)
	case DriverPostgres:
		return postgres.NewStore(ctx, cfg.DSN, o.sqlOptions()...)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}

func (o options) sqlOptions() []sqlstore.Option {
	var out []sqlstore.Option
	if o.newID != nil {
		out = append(out, sqlstore.WithIDGenerator(o.newID))
	}
	if o.now != nil {
		out = append(out, sqlstore.WithClock(o.now))
	}
	return out
}
