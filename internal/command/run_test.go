package command

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joeycumines/conduct/internal/config"
	"github.com/joeycumines/conduct/internal/journal"
)

const robotDefs = "../loader/testdata/robot.json"

func dispatch(t *testing.T, cmd Command, args ...string) (string, string, error) {
	t.Helper()
	registry := NewRegistry("conduct")
	registry.Register(cmd)
	var stdout, stderr bytes.Buffer
	err := registry.Dispatch(context.Background(), append([]string{cmd.Name()}, args...), &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunCommandSimulated(t *testing.T) {
	t.Parallel()
	events := writeFile(t, "events.jsonl", `# a cliff once the fetch is done
{"tick": 30, "family": "inbound", "tag": "cliff"}
`)
	stdout, stderr, err := dispatch(t, NewRunCommand(config.NewConfig()),
		"-defs", robotDefs, "-events", events, "-ticks", "60", "-interval", "100ms", "-log-level", "error")
	if err != nil {
		t.Fatalf("run returned error: %v\nstderr: %s", err, stderr)
	}
	for _, want := range []string{"emit beep", "ticks=60", "stack: conduct.root > main", "delivered=true"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("expected %q in output, got:\n%s", want, stdout)
		}
	}
	if !strings.Contains(stdout, "violations=0") {
		t.Errorf("expected no contract violations, got:\n%s", stdout)
	}
}

func TestRunCommandSameSeedSameOutput(t *testing.T) {
	t.Parallel()
	run := func() string {
		stdout, _, err := dispatch(t, NewRunCommand(config.NewConfig()),
			"-defs", robotDefs, "-ticks", "40", "-trace", "-seed", "7", "-log-level", "error")
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
		return stdout
	}
	first, second := run(), run()
	if first != second {
		t.Errorf("expected identical output for the same seed\nfirst:\n%s\nsecond:\n%s", first, second)
	}
	if !strings.Contains(first, "tick 1 push main") {
		t.Errorf("expected trace lines, got:\n%s", first)
	}
	if !strings.Contains(first, "action-start") || !strings.Contains(first, "action-end") {
		t.Errorf("expected action transitions in trace, got:\n%s", first)
	}
}

func TestRunCommandJournal(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "journal.db")
	stdout, stderr, err := dispatch(t, NewRunCommand(config.NewConfig()),
		"-defs", robotDefs, "-ticks", "20", "-journal", path, "-log-level", "error")
	if err != nil {
		t.Fatalf("run returned error: %v\nstderr: %s", err, stderr)
	}
	if !strings.Contains(stdout, "journal: run ") {
		t.Errorf("expected journal summary, got:\n%s", stdout)
	}

	j, err := journal.Open(path, "check", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()
	runs, err := j.Runs()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected the recorded run plus this one, got %d", len(runs))
	}
	if runs[0].Count == 0 {
		t.Errorf("expected transitions recorded for the first run, got %+v", runs[0])
	}
}

func TestRunCommandRealtime(t *testing.T) {
	t.Parallel()
	stdout, stderr, err := dispatch(t, NewRunCommand(config.NewConfig()),
		"-defs", robotDefs, "-realtime", "-ticks", "5", "-interval", "1ms", "-log-level", "error")
	if err != nil {
		t.Fatalf("run returned error: %v\nstderr: %s", err, stderr)
	}
	if !strings.Contains(stdout, "ticks=5") {
		t.Errorf("expected five ticks, got:\n%s", stdout)
	}
}

func TestRunCommandLogTail(t *testing.T) {
	t.Parallel()
	stdout, _, err := dispatch(t, NewRunCommand(config.NewConfig()),
		"-defs", robotDefs, "-ticks", "3", "-log-level", "error", "-log-tail", "1000")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stdout, "log:\n") || !strings.Contains(stdout, "run started") {
		t.Errorf("expected the buffered start entry, got:\n%s", stdout)
	}
}

func TestRunCommandDefaultsFromConfig(t *testing.T) {
	t.Parallel()
	cfg := config.NewConfig()
	cfg.SetGlobalOption("tick.max", "4")
	stdout, _, err := dispatch(t, NewRunCommand(cfg), "-defs", robotDefs, "-log-level", "error")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stdout, "ticks=4") {
		t.Errorf("expected tick.max to bound the run, got:\n%s", stdout)
	}
}

func TestRunCommandErrors(t *testing.T) {
	t.Parallel()
	badConfig := config.NewConfig()
	badConfig.SetGlobalOption("tick.interval", "soon")

	for _, tc := range []struct {
		name string
		cfg  *config.Config
		args []string
		want string
	}{
		{"missing defs", config.NewConfig(), nil, "-defs is required"},
		{"bad interval", config.NewConfig(), []string{"-defs", robotDefs, "-interval", "0s"}, "-interval must be positive"},
		{"negative ticks", config.NewConfig(), []string{"-defs", robotDefs, "-ticks", "-1"}, "-ticks must not be negative"},
		{"bad level", config.NewConfig(), []string{"-defs", robotDefs, "-log-level", "loud"}, "loud"},
		{"missing file", config.NewConfig(), []string{"-defs", "does-not-exist.json"}, "does-not-exist.json"},
		{"bad config", badConfig, []string{"-defs", robotDefs}, "invalid configuration"},
		{"extra args", config.NewConfig(), []string{"-defs", robotDefs, "extra"}, "unexpected arguments"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := dispatch(t, NewRunCommand(tc.cfg), tc.args...)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestRunCommandBadEvents(t *testing.T) {
	t.Parallel()
	events := writeFile(t, "events.jsonl", `{"tick": 1}`+"\n")
	_, _, err := dispatch(t, NewRunCommand(config.NewConfig()), "-defs", robotDefs, "-events", events)
	if err == nil || !strings.Contains(err.Error(), "neither tag nor set") {
		t.Fatalf("expected an empty step error, got %v", err)
	}
}
