package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"hlskb/internal/infra/persistence/postgres/testutil"
	"hlskb/internal/infra/persistence/sqlstore"
	"hlskb/pkg/domain"
)

func openStub(t *testing.T) (*sqlstore.Store, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	var gotDriver, gotDSN string
	restore := OverrideSQLOpen(func(driverName, dsn string) (*sql.DB, error) {
		gotDriver, gotDSN = driverName, dsn
		return db, nil
	})
	t.Cleanup(restore)
	store, err := NewStore(context.Background(), "")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if gotDriver != "pgx" || gotDSN != defaultDSN {
		t.Fatalf("unexpected open(%q, %q)", gotDriver, gotDSN)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, conn
}

func TestNewStoreAppliesSchema(t *testing.T) {
	_, conn := openStub(t)
	execs, _ := conn.Statements()
	if len(execs) != len(sqlstore.Schema()) {
		t.Fatalf("expected %d schema statements, got %d", len(sqlstore.Schema()), len(execs))
	}
	if !strings.Contains(execs[0], "CREATE TABLE IF NOT EXISTS projects") {
		t.Fatalf("first statement should create projects, got %s", execs[0])
	}
}

func TestNewStoreSurfacesOpenAndPingErrors(t *testing.T) {
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return nil, errors.New("no driver") })
	if _, err := NewStore(context.Background(), "postgres://x"); err == nil || !strings.Contains(err.Error(), "open postgres") {
		t.Fatalf("expected open error, got %v", err)
	}
	restore()

	db, conn := testutil.NewStubDB()
	conn.FailPing = true
	restore = OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := NewStore(context.Background(), "postgres://x"); err == nil || !strings.Contains(err.Error(), "ping postgres") {
		t.Fatalf("expected ping error, got %v", err)
	}
}

func TestStatementsUseNumberedPlaceholders(t *testing.T) {
	store, conn := openStub(t)
	ctx := context.Background()
	err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.Delete(domain.TableSynthesis, "sr-1")
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.View(ctx, func(v domain.View) error {
		ok, err := v.Exists(domain.TableRules, "r-1")
		if ok {
			return fmt.Errorf("stub has no rows")
		}
		return err
	}); err != nil {
		t.Fatalf("exists: %v", err)
	}
	execs, queries := conn.Statements()
	if last := execs[len(execs)-1]; last != "DELETE FROM synthesis_results WHERE id = $1" {
		t.Fatalf("unexpected delete statement %q", last)
	}
	if queries[0] != "SELECT 1 FROM hls_rules WHERE id = $1" {
		t.Fatalf("unexpected exists query %q", queries[0])
	}
	if conn.Rollbacks != 1 || conn.Commits != 1 {
		t.Fatalf("expected one commit and one view rollback, got %d/%d", conn.Commits, conn.Rollbacks)
	}
}

func TestRunInTransactionRetriesSerializationFailures(t *testing.T) {
	store, conn := openStub(t)
	conn.ExecErrs = []error{&pgconn.PgError{Code: "40001"}, &pgconn.PgError{Code: "40P01"}}
	attempts := 0
	err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		attempts++
		return tx.Delete(domain.TableProjects, "p-1")
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRunInTransactionDoesNotRetryOtherErrors(t *testing.T) {
	store, conn := openStub(t)
	conn.ExecErrs = []error{&pgconn.PgError{Code: "23503", Message: "violates foreign key constraint"}}
	attempts := 0
	err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		attempts++
		return tx.Delete(domain.TableProjects, "p-1")
	})
	if err == nil || attempts != 1 {
		t.Fatalf("expected single failed attempt, got %d attempts err=%v", attempts, err)
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "40001"})) {
		t.Fatalf("wrapped serialization failure should retry")
	}
	if IsRetryable(&pgconn.PgError{Code: "23505"}) || IsRetryable(errors.New("40001")) {
		t.Fatalf("only SQLSTATE-carrying transient errors retry")
	}
}
