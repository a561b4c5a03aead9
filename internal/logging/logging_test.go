package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/evanray/taskweave/internal/config"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "taskweave.log")
	log, err := New(config.LogConfig{Level: "debug", File: path})
	if err != nil {
		t.Fatal(err)
	}

	log.Info().Str("k", "v").Msg("hello")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	if len(data) == 0 {
		t.Error("log file is empty")
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, err := New(config.LogConfig{Level: "verbose"}); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestNewDefaultsToInfo(t *testing.T) {
	log, err := New(config.LogConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if log.GetLevel() != zerolog.InfoLevel {
		t.Errorf("level = %s, want info", log.GetLevel())
	}
}
