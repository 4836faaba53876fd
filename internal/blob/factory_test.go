package blob

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"hlskb/internal/config"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		cfg  config.Manifests
		want Driver
	}{
		{name: "default fs", cfg: config.Manifests{Root: t.TempDir()}, want: DriverFilesystem},
		{name: "memory", cfg: config.Manifests{Driver: "memory"}, want: DriverMemory},
		{name: "s3", cfg: config.Manifests{Driver: "s3", S3: config.S3{Bucket: "kb", Region: "us-east-1"}}, want: DriverS3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, err := Open(ctx, tc.cfg)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if store.Driver() != tc.want {
				t.Fatalf("driver = %s, want %s", store.Driver(), tc.want)
			}
		})
	}
	if _, err := Open(ctx, config.Manifests{Driver: "ftp"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
	if _, err := Open(ctx, config.Manifests{Driver: "s3"}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}

func TestSentinelsSurviveFacade(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	if _, err := store.Put(ctx, "a", bytes.NewBufferString("x"), PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put(ctx, "a", bytes.NewBufferString("y"), PutOptions{}); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if _, err := store.Head(ctx, "b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
