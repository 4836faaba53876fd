package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hlskb/internal/manifest"
	"hlskb/pkg/domain"
)

var stamp = time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)

func writeManifest(t *testing.T, dir, key string, m manifest.Manifest) {
	t.Helper()
	data, err := manifest.Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, key), data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func sample() manifest.Manifest {
	n := 2
	m := manifest.New("FIR_Design", "fir", "tester", &n, stamp)
	m.Add(domain.TableIterations, "it-2", "Iteration #2")
	m.Add(domain.TableSynthesis, "sr-2", "Synthesis: II=64")
	return m
}

func TestCLIPassesOnValidDirectory(t *testing.T) {
	dir := t.TempDir()
	m := sample()
	name := manifest.FileName(m.Project, m.Iteration, stamp)
	writeManifest(t, dir, name, m)
	writeManifest(t, dir, strings.TrimSuffix(name, ".yaml")+"_2.yaml", m)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	var stdout, stderr bytes.Buffer
	if code := cli([]string{"-dir", dir}, &stdout, &stderr); code != 0 {
		t.Fatalf("expected success, got %d: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "passed (2 file(s))") {
		t.Fatalf("unexpected output %q", stdout.String())
	}
}

func TestCLIReportsEveryBrokenManifest(t *testing.T) {
	dir := t.TempDir()

	renamed := sample()
	writeManifest(t, dir, "rollback_FIR_Design_iter9_20251012_100000.yaml", renamed)

	dup := sample()
	dup.Add(domain.TableSynthesis, "sr-2", "again")
	dup.Project = "DUP"
	writeManifest(t, dir, manifest.FileName(dup.Project, dup.Iteration, stamp), dup)

	unknown := sample()
	unknown.Project = "ODD"
	unknown.Add("audit_log", "a-1", "")
	writeManifest(t, dir, manifest.FileName(unknown.Project, unknown.Iteration, stamp), unknown)

	if err := os.WriteFile(filepath.Join(dir, "rollback_bad_20251012_100000.yaml"), []byte("project: x\nsurprise: 1\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	var stdout, stderr bytes.Buffer
	if code := cli([]string{"-dir", dir}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected failure, got %d", code)
	}
	out := stderr.String()
	for _, want := range []string{
		"rollback_FIR_Design_iter9_20251012_100000.yaml: file name does not match contents",
		"records listed more than once: synthesis_results/sr-2",
		"no rollback order defined for table(s) audit_log",
		"rollback_bad_20251012_100000.yaml: decode manifest",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestCLIPendingFlagRejectsCompleted(t *testing.T) {
	dir := t.TempDir()
	m := sample()
	m.Status = manifest.StatusCompleted
	m.RollbackTimestamp = stamp.Add(time.Hour).Format(time.RFC3339)
	writeManifest(t, dir, manifest.FileName(m.Project, m.Iteration, stamp), m)

	var stdout, stderr bytes.Buffer
	if code := cli([]string{"-dir", dir}, &stdout, &stderr); code != 0 {
		t.Fatalf("completed manifests are valid by default, got %d: %s", code, stderr.String())
	}
	stderr.Reset()
	if code := cli([]string{"-dir", dir, "-pending"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected -pending to fail, got %d", code)
	}
	if !strings.Contains(stderr.String(), "already rolled back at 2025-10-12T11:00:00Z") {
		t.Fatalf("unexpected output %q", stderr.String())
	}
}

func TestCLIFlagAndDirectoryErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := cli([]string{"-unknown"}, &stdout, &stderr); code != 2 {
		t.Fatalf("expected flag error code 2, got %d", code)
	}
	if code := cli([]string{"-dir", filepath.Join(t.TempDir(), "missing")}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected missing directory to fail, got %d", code)
	}
}

func TestMainUsesExitFunc(t *testing.T) {
	var codes []int
	old := exitFunc
	exitFunc = func(code int) { codes = append(codes, code) }
	defer func() { exitFunc = old }()

	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()
	os.Args = []string{"manifest-check", "-dir", t.TempDir()}
	main()
	if len(codes) != 1 || codes[0] != 0 {
		t.Fatalf("unexpected exit codes: %v", codes)
	}
}
