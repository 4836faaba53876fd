package persistence

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// TestOnlyFacadeImportsInfraPersistence keeps callers on domain.EntityStore.
func TestOnlyFacadeImportsInfraPersistence(t *testing.T) {
	const (
		infraPrefix = "hlskb/internal/infra/persistence"
		facade      = "hlskb/internal/persistence"
	)
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, "hlskb/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	seen := make(map[string]struct{})
	for _, pkg := range pkgs {
		// test variants are reported as "path [path.test]"
		path := strings.Fields(pkg.PkgPath)[0]
		if path == facade || strings.HasPrefix(path, infraPrefix) {
			continue
		}
		for importPath := range pkg.Imports {
			if importPath == infraPrefix || strings.HasPrefix(importPath, infraPrefix+"/") {
				seen[path+": "+importPath] = struct{}{}
			}
		}
	}
	if len(seen) == 0 {
		return
	}
	violations := make([]string, 0, len(seen))
	for v := range seen {
		violations = append(violations, v)
	}
	sort.Strings(violations)
	for _, v := range violations {
		t.Errorf("forbidden import of infra persistence package: %s", v)
	}
}
