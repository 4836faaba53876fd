package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound matches every NotFoundError.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateBatch matches every DuplicateBatchError.
	ErrDuplicateBatch = errors.New("duplicate batch")
	// ErrUnknownDependency matches every UnknownDependencyError.
	ErrUnknownDependency = errors.New("unknown table dependency")
	// ErrTransactionFailure matches every TransactionFailureError.
	ErrTransactionFailure = errors.New("rollback transaction failed")
	// ErrAlreadyRolledBack is returned when a completed manifest is re-run
	// without confirming the override.
	ErrAlreadyRolledBack = errors.New("manifest already rolled back")
	// ErrCancelled is returned when the operator declines a destructive step.
	ErrCancelled = errors.New("operation cancelled")
	// ErrModeRequired is returned when an aggregation mode was not chosen.
	ErrModeRequired = errors.New("aggregation mode must be accumulate or overwrite")
	// ErrRuleCodeImmutable is returned when an update rewrites an assigned rule code.
	ErrRuleCodeImmutable = errors.New("rule code is immutable once assigned")
)

// NotFoundError reports a missing record.
type NotFoundError struct {
	Table TableKind
	Key   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Table, e.Key)
}

// Is lets errors.Is(err, ErrNotFound) match.
func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }

// IsNotFound reports whether err is, or wraps, a NotFoundError.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// DuplicateBatchError reports that manifests for the same batch label already exist.
type DuplicateBatchError struct {
	Label    string
	Existing []string
}

func (e DuplicateBatchError) Error() string {
	return fmt.Sprintf("batch %q already logged in %s", e.Label, strings.Join(e.Existing, ", "))
}

// Is lets errors.Is(err, ErrDuplicateBatch) match.
func (e DuplicateBatchError) Is(target error) bool { return target == ErrDuplicateBatch }

// UnknownDependencyError reports manifest tables missing from RollbackOrder.
type UnknownDependencyError struct {
	Tables []TableKind
}

func (e UnknownDependencyError) Error() string {
	names := make([]string, len(e.Tables))
	for i, t := range e.Tables {
		names[i] = string(t)
	}
	return fmt.Sprintf("no rollback order defined for table(s) %s", strings.Join(names, ", "))
}

// Is lets errors.Is(err, ErrUnknownDependency) match.
func (e UnknownDependencyError) Is(target error) bool { return target == ErrUnknownDependency }

// TransactionFailureError reports the record whose deletion aborted a rollback.
// No change from the rollback was committed.
type TransactionFailureError struct {
	Table TableKind
	ID    string
	Err   error
}

func (e TransactionFailureError) Error() string {
	return fmt.Sprintf("rollback aborted at %s %q, no changes were made: %v", e.Table, e.ID, e.Err)
}

// Is lets errors.Is(err, ErrTransactionFailure) match.
func (e TransactionFailureError) Is(target error) bool { return target == ErrTransactionFailure }

// Unwrap exposes the underlying storage error.
func (e TransactionFailureError) Unwrap() error { return e.Err }
