package testutil

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
)

func TestStubConnRecordsStatements(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	if err := conn.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if _, err := conn.ExecContext(ctx, "DELETE FROM projects WHERE id = $1", []driver.NamedValue{{Value: "p-1"}}); err != nil {
		t.Fatalf("ExecContext: %v", err)
	}
	rows, err := conn.QueryContext(ctx, "SELECT 1 FROM projects WHERE id = $1", []driver.NamedValue{{Value: "p-1"}})
	if err != nil {
		t.Fatalf("QueryContext: %v", err)
	}
	if err := rows.Next(make([]driver.Value, 1)); err == nil {
		t.Fatalf("stub rows must be empty")
	}
	execs, queries := conn.Statements()
	if len(execs) != 1 || len(queries) != 1 {
		t.Fatalf("expected one exec and one query, got %v / %v", execs, queries)
	}
	if conn.Args[0][0] != "p-1" {
		t.Fatalf("expected args recorded, got %v", conn.Args)
	}
}

func TestStubConnQueuedExecErrors(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	boom := errors.New("boom")
	conn.ExecErrs = []error{boom}
	if _, err := conn.ExecContext(ctx, "UPDATE x", nil); !errors.Is(err, boom) {
		t.Fatalf("expected queued error, got %v", err)
	}
	if _, err := conn.ExecContext(ctx, "UPDATE x", nil); err != nil {
		t.Fatalf("queue must drain, got %v", err)
	}
}

func TestStubConnFailureFlags(t *testing.T) {
	_, conn := NewStubDB()
	conn.FailBegin = true
	if _, err := conn.Begin(); err == nil {
		t.Fatalf("expected begin failure")
	}
	conn.FailBegin, conn.FailCommit = false, true
	tx, err := conn.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tx.Commit(); err == nil {
		t.Fatalf("expected commit failure")
	}
	conn.FailPing = true
	if err := conn.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping failure")
	}
}
