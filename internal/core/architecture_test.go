package core

import (
	"testing"

	"hlskb/testutil"
)

func TestEngineReachesStorageThroughEntityStore(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.StorageImportForbidden, "core works on domain.EntityStore only")
	testutil.AssertNoDirectImports(t, ".", testutil.PrefixForbidden("hlskb/internal/persistence", "github.com/prometheus/"),
		"stores and metrics are injected by the caller")
}

func TestDomainHasNoInternalDependencies(t *testing.T) {
	if testing.Short() {
		t.Skip("shells out to go list")
	}
	testutil.AssertNoTransitiveDependency(t, "hlskb/pkg/domain", testutil.PrefixForbidden("hlskb/internal/"),
		"domain is the shared contract of every backend")
}
