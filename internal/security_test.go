// Package internal_test contains input-hardening tests for conduct.
package internal_test

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/joeycumines/conduct/internal/config"
	"github.com/joeycumines/conduct/internal/loader"
	"github.com/joeycumines/conduct/internal/replay"
)

// ============================================================================
// Config file handling
// ============================================================================

func TestConfigLoading_SymlinkRejected(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	realFile := filepath.Join(tmpDir, "real")
	if err := os.WriteFile(realFile, []byte("rng.seed 9\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	linkPath := filepath.Join(tmpDir, "linked-config")
	if err := os.Symlink(realFile, linkPath); err != nil {
		t.Skip("Symlinks not supported on this platform")
	}

	if _, err := config.LoadFromPath(linkPath); err == nil || !strings.Contains(err.Error(), "symlink") {
		t.Fatalf("expected the symlink to be rejected, got %v", err)
	}
}

func TestConfigLoading_NullByteInPath(t *testing.T) {
	t.Parallel()

	if _, err := config.LoadFromPath(filepath.Join(t.TempDir(), "conf\x00ig")); err == nil {
		t.Fatal("expected an error for a path containing a null byte")
	}
}

func TestConfigInjection_ValuesWithSpaces(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config")
	if err := config.SetKeyInFile(path, "journal.path", "a.db"); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.LoadFromPath(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg.SetGlobalOption("journal.path", "/tmp/with space/x.db")
	if v, _ := cfg.GetGlobalOption("journal.path"); v != "/tmp/with space/x.db" {
		t.Errorf("value was altered: %q", v)
	}
	if len(cfg.Global) != 1 {
		t.Errorf("expected a single key, got %v", cfg.Global)
	}
}

func TestConfigInjection_SectionKeysUntouchedBySet(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config")
	content := "tick.max 5\n[run]\ntrace true\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := config.SetKeyInFile(path, "trace", "false"); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.LoadFromPath(path)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := cfg.GetSectionOption("run", "trace"); v != "true" {
		t.Errorf("section value changed to %q", v)
	}
	if v, _ := cfg.GetGlobalOption("trace"); v != "false" {
		t.Errorf("expected the global key to be added, got %q", v)
	}
}

func TestResourceLimits_ExtremelyLongConfigValues(t *testing.T) {
	t.Parallel()

	cfg := config.NewConfig()
	veryLongValue := strings.Repeat("x", 100000)
	cfg.SetGlobalOption("journal.path", veryLongValue)
	retrieved, ok := cfg.GetGlobalOption("journal.path")
	if !ok || len(retrieved) != len(veryLongValue) {
		t.Errorf("long value truncated: got len %d", len(retrieved))
	}

	// the file reader refuses lines past its buffer rather than splitting them
	if _, err := config.LoadFromReader(strings.NewReader("journal.path " + veryLongValue + "\n")); err == nil {
		t.Error("expected an error for an oversized config line")
	}
}

// ============================================================================
// Definitions and event scripts
// ============================================================================

func TestDefinitions_UnknownFieldsRejected(t *testing.T) {
	t.Parallel()

	_, err := loader.Parse([]byte(`{"root": "idle", "behaviors": [{"behaviorID": "idle", "type": "idle", "exec": "rm -rf /"}]}`))
	if err == nil {
		t.Fatal("expected unknown fields to be rejected")
	}
}

func TestDefinitions_ReferenceCycleRejected(t *testing.T) {
	t.Parallel()

	defs, err := loader.Parse([]byte(`{"root": "a", "behaviors": [
		{"behaviorID": "a", "type": "sequence", "steps": ["b"]},
		{"behaviorID": "b", "type": "sequence", "steps": ["a"]}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := loader.Build(defs, quietLogger()); !errors.Is(err, loader.ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
}

func TestDefinitions_DeepNestingBuilds(t *testing.T) {
	t.Parallel()

	const depth = 200
	var b strings.Builder
	b.WriteString(`{"root": "s0", "behaviors": [`)
	for i := 0; i < depth; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(`{"behaviorID": "s` + strconv.Itoa(i) + `", "type": "sequence", "steps": ["s` + strconv.Itoa(i+1) + `"]}`)
	}
	b.WriteString(`,{"behaviorID": "s` + strconv.Itoa(depth) + `", "type": "idle"}]}`)

	prog, err := loader.Load(strings.NewReader(b.String()), quietLogger())
	if err != nil {
		t.Fatalf("deeply nested definitions failed to load: %v", err)
	}
	if len(prog.Behaviors) != depth+1 {
		t.Errorf("expected %d behaviors, got %d", depth+1, len(prog.Behaviors))
	}
}

func TestEventScript_OversizedLineRejected(t *testing.T) {
	t.Parallel()

	line := `{"tick": 1, "tag": "x", "payload": {"blob": "` + strings.Repeat("a", 2<<20) + `"}}`
	if _, err := replay.Parse(strings.NewReader(line)); err == nil {
		t.Fatal("expected an oversized line to be rejected")
	}
}
