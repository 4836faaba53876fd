package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"hlskb/internal/blob/core"
)

func TestStorePutGetListDelete(t *testing.T) {
	s := New()
	ctx := context.Background()
	if s.Driver() != core.DriverMemory {
		t.Fatalf("unexpected driver %s", s.Driver())
	}
	md := map[string]string{"label": "FIR"}
	if _, err := s.Put(ctx, "logs/a.yaml", bytes.NewBufferString("one"), core.PutOptions{ContentType: "application/yaml", Metadata: md}); err != nil {
		t.Fatalf("put: %v", err)
	}
	md["label"] = "mutated"
	if _, err := s.Put(ctx, "logs/b.yaml", bytes.NewBufferString("two"), core.PutOptions{}); err != nil {
		t.Fatalf("put b: %v", err)
	}
	if _, err := s.Put(ctx, "other/c.yaml", bytes.NewBufferString("three"), core.PutOptions{}); err != nil {
		t.Fatalf("put c: %v", err)
	}
	info, rc, err := s.Get(ctx, "logs/a.yaml")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "one" || info.Metadata["label"] != "FIR" || info.Size != 3 {
		t.Fatalf("unexpected blob %+v %q", info, body)
	}
	list, err := s.List(ctx, "logs/")
	if err != nil || len(list) != 2 || list[0].Key != "logs/a.yaml" {
		t.Fatalf("list: %v %+v", err, list)
	}
	if ok, _ := s.Delete(ctx, "logs/a.yaml"); !ok {
		t.Fatalf("expected delete of existing key")
	}
	if ok, _ := s.Delete(ctx, "logs/a.yaml"); ok {
		t.Fatalf("second delete must report missing")
	}
}

func TestStoreCreateOnlyUnlessOverwrite(t *testing.T) {
	s := New()
	ctx := context.Background()
	if _, err := s.Put(ctx, "k", bytes.NewBufferString("v1"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := s.Put(ctx, "k", bytes.NewBufferString("v2"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if _, err := s.Put(ctx, "k", bytes.NewBufferString("v2"), core.PutOptions{Overwrite: true}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	_, rc, _ := s.Get(ctx, "k")
	body, _ := io.ReadAll(rc)
	if string(body) != "v2" {
		t.Fatalf("expected overwritten body, got %q", body)
	}
}

func TestStoreMissingKeys(t *testing.T) {
	s := New()
	ctx := context.Background()
	if _, _, err := s.Get(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Get, got %v", err)
	}
	if _, err := s.Head(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Head, got %v", err)
	}
	if _, err := s.Put(ctx, " ", bytes.NewBufferString("x"), core.PutOptions{}); err == nil {
		t.Fatalf("expected empty key rejection")
	}
}
