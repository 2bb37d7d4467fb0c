package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/retrohandheld/doom-audio-engine/internal/opl2"
)

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.PolyphonyCeiling != opl2.Channels {
		t.Fatalf("expected default polyphony ceiling to equal the chip's channel count (%d), got %d", opl2.Channels, cfg.PolyphonyCeiling)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected default log level \"info\", got %q", cfg.LogLevel)
	}
}

func TestLoadConfigFillsMissingFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(path, []byte("polyphony_ceiling: 4\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.PolyphonyCeiling != 4 {
		t.Fatalf("expected polyphony_ceiling from file to be honored, got %d", cfg.PolyphonyCeiling)
	}
	if cfg.OutputRate != 48000 {
		t.Fatalf("expected output_rate to fall back to default, got %d", cfg.OutputRate)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected log_level to fall back to default, got %q", cfg.LogLevel)
	}
}
