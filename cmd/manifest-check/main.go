// Command manifest-check validates a directory of change manifests: every
// document must decode, name only known tables, list each record once and
// live under the key its label, iteration and timestamp imply.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"hlskb/internal/core"
	"hlskb/internal/manifest"
)

var exitFunc = os.Exit

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("manifest-check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var dir string
	var pendingOnly bool
	fs.StringVar(&dir, "dir", "logs", "directory holding rollback_*.yaml manifests")
	fs.BoolVar(&pendingOnly, "pending", false, "fail when a manifest has already been rolled back")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	checked, err := run(dir, pendingOnly)
	if err != nil {
		if _, writeErr := fmt.Fprintf(stderr, "Manifest validation failed:\n%v\n", err); writeErr != nil {
			return 1
		}
		return 1
	}
	if _, writeErr := fmt.Fprintf(stdout, "Manifest validation passed (%d file(s)).\n", checked); writeErr != nil {
		return 1
	}
	return 0
}

func run(dir string, pendingOnly bool) (int, error) {
	if _, err := os.Stat(dir); err != nil {
		return 0, fmt.Errorf("manifest directory: %w", err)
	}
	paths, err := filepath.Glob(filepath.Join(dir, "rollback_*.yaml"))
	if err != nil {
		return 0, err
	}
	sort.Strings(paths)
	var problems []error
	for _, p := range paths {
		if err := checkFile(p, pendingOnly); err != nil {
			problems = append(problems, fmt.Errorf("%s: %w", filepath.Base(p), err))
		}
	}
	return len(paths), errors.Join(problems...)
}

func checkFile(path string, pendingOnly bool) error {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from a glob under the checked directory
	if err != nil {
		return err
	}
	m, err := manifest.Decode(data)
	if err != nil {
		return err
	}
	if _, err := core.BuildPlan(m); err != nil {
		return err
	}
	if err := checkDuplicates(m); err != nil {
		return err
	}
	if err := checkKey(filepath.Base(path), m); err != nil {
		return err
	}
	if pendingOnly && m.Completed() {
		return fmt.Errorf("already rolled back at %s", m.RollbackTimestamp)
	}
	return nil
}

func checkDuplicates(m manifest.Manifest) error {
	seen := make(map[string]struct{}, len(m.Entries))
	var dups []string
	for _, e := range m.Entries {
		k := string(e.Table) + "/" + e.ID
		if _, ok := seen[k]; ok {
			dups = append(dups, k)
			continue
		}
		seen[k] = struct{}{}
	}
	if len(dups) > 0 {
		return fmt.Errorf("records listed more than once: %s", strings.Join(dups, ", "))
	}
	return nil
}

// checkKey accepts keys written by manifest.Store.Record for the document's
// own label, iteration and creation time.
func checkKey(key string, m manifest.Manifest) error {
	at, err := m.CreatedAt()
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if want := manifest.FileName(m.Project, m.Iteration, at); !manifest.MatchesFileName(key, want) {
		return fmt.Errorf("file name does not match contents, want %s", want)
	}
	return nil
}
