package idgen

import (
	"strings"
	"sync"
	"testing"
)

func TestUUIDv7IsParseableAndUnique(t *testing.T) {
	gen := UUIDv7()
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := gen()
		if _, err := Parse(id); err != nil {
			t.Fatalf("generated id %q does not parse: %v", id, err)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestPrefixed(t *testing.T) {
	id := Prefixed("rule_", Sequence("x"))()
	if id != "rule_x-1" {
		t.Fatalf("unexpected prefixed id %q", id)
	}
}

func TestSequenceConcurrent(t *testing.T) {
	gen := Sequence("eff")
	var mu sync.Mutex
	seen := make(map[string]struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id := gen()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(seen) != 400 {
		t.Fatalf("expected 400 distinct ids, got %d", len(seen))
	}
	for id := range seen {
		if !strings.HasPrefix(id, "eff-") {
			t.Fatalf("unexpected id %q", id)
		}
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse("not-a-uuid"); err == nil {
		t.Fatalf("expected parse error")
	}
}
