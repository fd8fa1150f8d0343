package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigParsing(t *testing.T) {
	configContent := `# Global options
verbose true
tick.interval 50ms

[inspect]
color never

[run]
trace   yes`

	config, err := LoadFromReader(strings.NewReader(configContent))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if value, ok := config.GetGlobalOption("verbose"); !ok || value != "true" {
		t.Errorf("Expected verbose=true, got %s (exists: %v)", value, ok)
	}
	if value, ok := config.GetSectionOption("inspect", "color"); !ok || value != "never" {
		t.Errorf("Expected inspect.color=never, got %s (exists: %v)", value, ok)
	}
	if value, ok := config.GetSectionOption("run", "trace"); !ok || value != "yes" {
		t.Errorf("Expected run.trace=yes, got %q (exists: %v)", value, ok)
	}
	// section lookups fall back to global options
	if value, ok := config.GetSectionOption("run", "tick.interval"); !ok || value != "50ms" {
		t.Errorf("Expected run tick.interval fallback, got %s (exists: %v)", value, ok)
	}
	if value, ok := config.GetSectionOption("nonexistent", "option"); ok {
		t.Errorf("Expected nonexistent option to not exist, but got %s", value)
	}
	if config.HasWarnings() {
		t.Errorf("Expected no warnings, got %v", config.Warnings)
	}
}

func TestEmptyConfig(t *testing.T) {
	config, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Failed to load empty config: %v", err)
	}
	if len(config.Global) != 0 || len(config.Sections) != 0 {
		t.Errorf("Expected empty config, got %v %v", config.Global, config.Sections)
	}
}

func TestEmptySectionName(t *testing.T) {
	if _, err := LoadFromReader(strings.NewReader("verbose true\n[ ]\n")); err == nil {
		t.Fatal("expected an error for an empty section name")
	}
}

func TestConfigWarnings(t *testing.T) {
	config, err := LoadFromReader(strings.NewReader("tick.interval often\nbogus 1\n[inspect]\nshade dark\n"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if len(config.Warnings) != 3 {
		t.Fatalf("expected 3 warnings, got %v", config.Warnings)
	}
}

func TestSetGlobalAndSectionOptions(t *testing.T) {
	cfg := NewConfig()
	cfg.SetGlobalOption("verbose", "true")
	if got := cfg.GetString("verbose"); got != "true" {
		t.Fatalf("expected verbose=true, got %q", got)
	}
	if !cfg.GetBool("verbose") {
		t.Fatal("expected GetBool(verbose) to be true")
	}

	cfg.SetSectionOption("run", "trace", "on")
	if got, ok := cfg.GetSectionOption("run", "trace"); !ok || got != "on" {
		t.Fatalf("expected run.trace=on, got %q (exists: %v)", got, ok)
	}

	cfg.SetGlobalOption("tick.max", "12")
	if got := cfg.GetInt("tick.max"); got != 12 {
		t.Fatalf("expected tick.max=12, got %d", got)
	}
	cfg.SetGlobalOption("tick.max", "lots")
	if got := cfg.GetInt("tick.max"); got != 0 {
		t.Fatalf("expected 0 for unparsable int, got %d", got)
	}
}

func TestLoadFromPathMissing(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("expected no error for missing config, got %v", err)
	}
	if len(cfg.Global) != 0 || len(cfg.Sections) != 0 {
		t.Fatalf("expected empty config, got %+v", cfg)
	}
}

func TestLoadFromPathRejectsSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	if err := os.WriteFile(target, []byte("verbose true\n"), 0600); err != nil {
		t.Fatalf("failed to write target: %v", err)
	}
	link := filepath.Join(dir, "config")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if _, err := LoadFromPath(link); err == nil || !strings.Contains(err.Error(), "symlink") {
		t.Fatalf("expected symlink error, got %v", err)
	}
}

func TestLoadUsesConfigPathEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	if err := os.WriteFile(path, []byte("rng.seed 42\n"), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv(EnvConfig, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got := cfg.GetString("rng.seed"); got != "42" {
		t.Fatalf("expected rng.seed=42, got %q", got)
	}
}
