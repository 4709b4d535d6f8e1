package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	defer os.Chdir(wd)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") = %v, want nil (defaults should be enough)", err)
	}
	if cfg.Kura.InitMode != KuraStrict {
		t.Fatalf("Kura.InitMode = %v, want Strict", cfg.Kura.InitMode)
	}
	if cfg.Snapshot.Mode != SnapshotReadWrite {
		t.Fatalf("Snapshot.Mode = %v, want ReadWrite", cfg.Snapshot.Mode)
	}
	if cfg.Queue.Capacity != 65536 {
		t.Fatalf("Queue.Capacity = %d, want 65536", cfg.Queue.Capacity)
	}
}

func TestLoadExplicitFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "peer.yaml")
	contents := []byte(`
network:
  address: "/ip4/127.0.0.1/tcp/9000"
queue:
  capacity: 10
kura:
  init_mode: Fast
snapshot:
  mode: Disabled
`)
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(%s) = %v", path, err)
	}
	if cfg.Network.Address != "/ip4/127.0.0.1/tcp/9000" {
		t.Fatalf("Network.Address = %q", cfg.Network.Address)
	}
	if cfg.Queue.Capacity != 10 {
		t.Fatalf("Queue.Capacity = %d, want 10", cfg.Queue.Capacity)
	}
	if cfg.Kura.InitMode != KuraFast {
		t.Fatalf("Kura.InitMode = %v, want Fast", cfg.Kura.InitMode)
	}
	if cfg.Snapshot.Mode != SnapshotDisabled {
		t.Fatalf("Snapshot.Mode = %v, want Disabled", cfg.Snapshot.Mode)
	}
}

func TestLoadMissingExplicitFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load() with missing explicit path = nil error, want error")
	}
}
