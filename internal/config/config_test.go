package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", envMap(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Manifests.Root != "logs" || cfg.Log.Level != "info" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.yaml")
	body := "storage:\n  driver: postgres\n  dsn: postgres://kb@localhost/kb\nmanifests:\n  driver: s3\n  s3:\n    bucket: manifests\nlog:\n  level: debug\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path, envMap(map[string]string{
		"HLSKB_LOG_FORMAT":              "JSON",
		"HLSKB_MANIFESTS_S3_PATH_STYLE": "true",
		"HLSKB_OPERATOR":                "ci",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "postgres" || cfg.Manifests.S3.Bucket != "manifests" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Log.Format != "json" || !cfg.Manifests.S3.PathStyle || cfg.Operator != "ci" {
		t.Fatalf("env values not applied: %+v", cfg)
	}
	if cfg.Manifests.S3.Region != "us-east-1" {
		t.Fatalf("default region lost: %q", cfg.Manifests.S3.Region)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown storage driver": {"HLSKB_STORAGE_DRIVER": "mysql"},
		"s3 without bucket":      {"HLSKB_MANIFESTS_DRIVER": "s3"},
		"bad log level":          {"HLSKB_LOG_LEVEL": "loud"},
		"bad endpoint":           {"HLSKB_MANIFESTS_S3_ENDPOINT": "::not a url"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load("", envMap(env)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestMemoryStorageNeedsNoDSN(t *testing.T) {
	cfg := Default()
	cfg.Storage = Storage{Driver: "memory"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("memory driver should not need a dsn: %v", err)
	}
	cfg.Storage = Storage{Driver: "sqlite"}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "DSN") {
		t.Fatalf("expected dsn error, got %v", err)
	}
}

func TestLoadRejectsBadPathStyle(t *testing.T) {
	if _, err := Load("", envMap(map[string]string{"HLSKB_MANIFESTS_S3_PATH_STYLE": "maybe"})); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), envMap(nil)); err == nil {
		t.Fatalf("expected read error")
	}
}
