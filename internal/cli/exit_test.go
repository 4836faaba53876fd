package cli

import (
	"errors"
	"fmt"
	"testing"

	"hlskb/pkg/domain"
)

func TestGetExitCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain", errors.New("boom"), ExitFailure},
		{"exit error", NewExitError(7, "custom"), 7},
		{"wrapped exit error", fmt.Errorf("outer: %w", NewExitError(ExitFailure, "inner")), ExitFailure},
		{"cancelled", domain.ErrCancelled, ExitRefused},
		{"already rolled back", fmt.Errorf("rollback: %w", domain.ErrAlreadyRolledBack), ExitRefused},
		{"duplicate batch", domain.DuplicateBatchError{Label: "FIR_Design", Existing: []string{"a.yaml"}}, ExitRefused},
		{"wrapped refusal", WrapExitError(ExitFailure, "record manifest", domain.DuplicateBatchError{Label: "x"}), ExitRefused},
		{"transaction failure", WrapExitError(ExitFailure, "rollback", domain.TransactionFailureError{Table: domain.TableProjects, ID: "p", Err: errors.New("fk")}), ExitFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := GetExitCode(tc.err); got != tc.want {
				t.Fatalf("GetExitCode(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}

func TestExitErrorMessage(t *testing.T) {
	err := WrapExitError(ExitFailure, "open knowledge base", errors.New("disk full"))
	if got := err.Error(); got != "open knowledge base: disk full" {
		t.Fatalf("Error() = %q", got)
	}
	if got := NewExitError(ExitFailure, "bare").Error(); got != "bare" {
		t.Fatalf("Error() = %q", got)
	}
	if !errors.Is(WrapExitError(ExitFailure, "x", domain.ErrCancelled), domain.ErrCancelled) {
		t.Fatal("ExitError should unwrap to its cause")
	}
}
