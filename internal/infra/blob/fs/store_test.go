package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"hlskb/internal/blob/core"
)

func TestFilesystemStoreRoundTrip(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	info, err := s.Put(ctx, "rollback_FIR_20251012_100000.yaml", bytes.NewBufferString("status: pending\n"), core.PutOptions{})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != int64(len("status: pending\n")) || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := os.Stat(filepath.Join(root, "rollback_FIR_20251012_100000.yaml")); err != nil {
		t.Fatalf("expected file on disk: %v", err)
	}
	_, rc, err := s.Get(ctx, "rollback_FIR_20251012_100000.yaml")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "status: pending\n" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestFilesystemStoreCreateOnly(t *testing.T) {
	s, _ := New(t.TempDir())
	ctx := context.Background()
	if _, err := s.Put(ctx, "a.yaml", bytes.NewBufferString("v1"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := s.Put(ctx, "a.yaml", bytes.NewBufferString("v2"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if _, err := s.Put(ctx, "a.yaml", bytes.NewBufferString("v2"), core.PutOptions{Overwrite: true}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	_, rc, _ := s.Get(ctx, "a.yaml")
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "v2" {
		t.Fatalf("expected v2, got %q", body)
	}
}

func TestFilesystemStoreListSkipsTempFiles(t *testing.T) {
	root := t.TempDir()
	s, _ := New(root)
	ctx := context.Background()
	for _, k := range []string{"rollback_b.yaml", "rollback_a.yaml", "notes.txt"} {
		if _, err := s.Put(ctx, k, bytes.NewBufferString(k), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	if err := os.WriteFile(filepath.Join(root, tmpPrefix+"dangling"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	list, err := s.List(ctx, "rollback_")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Key != "rollback_a.yaml" || list[1].Key != "rollback_b.yaml" {
		t.Fatalf("unexpected listing %+v", list)
	}
	all, _ := s.List(ctx, "")
	if len(all) != 3 {
		t.Fatalf("temp files must be hidden, got %+v", all)
	}
}

func TestFilesystemStoreRejectsBadKeysAndMissing(t *testing.T) {
	s, _ := New(t.TempDir())
	ctx := context.Background()
	for _, k := range []string{"", "../escape", "/abs"} {
		if _, err := s.Put(ctx, k, bytes.NewBufferString("x"), core.PutOptions{}); err == nil {
			t.Fatalf("expected rejection of key %q", k)
		}
	}
	if _, err := s.Head(ctx, "missing.yaml"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if ok, err := s.Delete(ctx, "missing.yaml"); ok || err != nil {
		t.Fatalf("delete of missing key: %v %v", ok, err)
	}
}
