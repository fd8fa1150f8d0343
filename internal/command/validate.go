package command

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joeycumines/conduct/internal/loader"
	"github.com/joeycumines/conduct/internal/replay"
)

// ValidateCommand checks definitions and event scripts without running them.
type ValidateCommand struct {
	*BaseCommand
	events string
}

// NewValidateCommand creates a new validate command.
func NewValidateCommand() *ValidateCommand {
	return &ValidateCommand{
		BaseCommand: NewBaseCommand(
			"validate",
			"Check behavior definitions for errors",
			"validate [-events FILE] FILE...",
		),
	}
}

// SetupFlags configures the flags for the validate command.
func (c *ValidateCommand) SetupFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.events, "events", "", "Also check this scripted events file")
}

// Execute validates every file named in args, reporting each problem on its
// own line.
func (c *ValidateCommand) Execute(_ context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stderr, "validate: no definitions file given")
		return fmt.Errorf("missing file argument")
	}
	quiet := slog.New(slog.DiscardHandler)
	failed := 0
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err == nil {
			var defs *loader.Definitions
			if defs, err = loader.Parse(data); err == nil {
				var prog *loader.Program
				if prog, err = loader.Build(defs, quiet); err == nil {
					_, _ = fmt.Fprintf(stdout, "%s: ok (%d behaviors, %d reactions, %d actions)\n",
						path, len(prog.Behaviors), len(prog.Reactions), len(defs.Actions))
					continue
				}
			}
		}
		failed++
		for _, e := range flatten(err) {
			_, _ = fmt.Fprintf(stdout, "%s: %v\n", path, e)
		}
	}
	if c.events != "" {
		if !c.validateEvents(stdout) {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d file(s) failed validation", failed)
	}
	return nil
}

// flatten expands joined errors, one level at a time, into their leaves.
func flatten(err error) []error {
	var out []error
	var walk func(error)
	walk = func(err error) {
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, e := range joined.Unwrap() {
				walk(e)
			}
			return
		}
		out = append(out, err)
	}
	walk(err)
	return out
}

func (c *ValidateCommand) validateEvents(stdout io.Writer) bool {
	f, err := os.Open(c.events)
	if err == nil {
		defer f.Close()
		var s *replay.Script
		if s, err = replay.Parse(f); err == nil {
			_, _ = fmt.Fprintf(stdout, "%s: ok (%d steps, last tick %d)\n", c.events, s.Len(), s.Last())
			return true
		}
	}
	for _, e := range flatten(err) {
		_, _ = fmt.Fprintf(stdout, "%s: %v\n", c.events, e)
	}
	return false
}
