package config

import (
	"path/filepath"
	"testing"
)

func TestSaveRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "dir", "config.json")

	cfg := DefaultConfig()
	cfg.Worker.Command = "runner"
	cfg.Worker.Args = []string{"--task", "{{id}}"}
	cfg.Chain.Concurrency = 2

	if err := Save(cfg, path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Worker.Command != "runner" {
		t.Errorf("worker command = %q, want runner", loaded.Worker.Command)
	}
	if len(loaded.Worker.Args) != 2 || loaded.Worker.Args[1] != "{{id}}" {
		t.Errorf("worker args = %v", loaded.Worker.Args)
	}
	if loaded.Chain.Concurrency != 2 {
		t.Errorf("concurrency = %d, want 2", loaded.Chain.Concurrency)
	}
}
