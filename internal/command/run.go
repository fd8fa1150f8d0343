package command

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/joeycumines/conduct/internal/behavior"
	"github.com/joeycumines/conduct/internal/blackboard"
	"github.com/joeycumines/conduct/internal/clock"
	"github.com/joeycumines/conduct/internal/config"
	"github.com/joeycumines/conduct/internal/contract"
	"github.com/joeycumines/conduct/internal/event"
	"github.com/joeycumines/conduct/internal/journal"
	"github.com/joeycumines/conduct/internal/loader"
	"github.com/joeycumines/conduct/internal/logging"
	"github.com/joeycumines/conduct/internal/replay"
	"github.com/joeycumines/conduct/internal/rng"
	"github.com/joeycumines/conduct/internal/scheduler"
)

// defaultSimTicks bounds a simulated run when neither -ticks nor tick.max
// is set.
const defaultSimTicks = 100

// RunCommand loads a definitions file and runs it on the scheduler.
type RunCommand struct {
	*BaseCommand
	settings    config.Settings
	settingsErr error

	defs     string
	events   string
	ticks    int
	interval time.Duration
	seed     uint64
	journal  string
	trace    bool
	realtime bool
	logLevel string
	logTail  int
}

// NewRunCommand creates a new run command whose flag defaults come from cfg.
func NewRunCommand(cfg *config.Config) *RunCommand {
	settings, err := config.DefaultSchema().Settings(cfg)
	return &RunCommand{
		BaseCommand: NewBaseCommand(
			"run",
			"Run a behavior definitions file",
			"run -defs FILE [options]",
		),
		settings:    settings,
		settingsErr: err,
	}
}

// SetupFlags configures the flags for the run command.
func (c *RunCommand) SetupFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.defs, "defs", "", "Behavior definitions file (JSON)")
	fs.StringVar(&c.events, "events", "", "Scripted events file (JSON lines)")
	fs.IntVar(&c.ticks, "ticks", c.settings.TickMax, "Stop after this many ticks, 0 for no limit")
	fs.DurationVar(&c.interval, "interval", c.settings.TickInterval, "Time between ticks")
	fs.Uint64Var(&c.seed, "seed", c.settings.Seed, "Random seed")
	fs.StringVar(&c.journal, "journal", c.settings.JournalPath, "SQLite file to record transitions in")
	fs.BoolVar(&c.trace, "trace", c.settings.RunTrace, "Print each stack transition")
	fs.BoolVar(&c.realtime, "realtime", false, "Tick on the wall clock instead of simulated time")
	fs.StringVar(&c.logLevel, "log-level", c.settings.LogLevel, "Log level: debug, info, warn, error")
	fs.IntVar(&c.logTail, "log-tail", 0, "Print the last N buffered log entries when done")
}

// Execute runs the definitions.
func (c *RunCommand) Execute(ctx context.Context, args []string, stdout, stderr io.Writer) (err error) {
	if len(args) > 0 {
		_, _ = fmt.Fprintf(stderr, "unexpected arguments: %v\n", args)
		return fmt.Errorf("unexpected arguments")
	}
	if c.settingsErr != nil {
		return fmt.Errorf("invalid configuration: %w", c.settingsErr)
	}
	if c.defs == "" {
		return fmt.Errorf("-defs is required")
	}
	if c.interval <= 0 {
		return fmt.Errorf("-interval must be positive, got %s", c.interval)
	}
	if c.ticks < 0 {
		return fmt.Errorf("-ticks must not be negative, got %d", c.ticks)
	}
	level, err := logging.ParseLevel(c.logLevel)
	if err != nil {
		return err
	}

	out := &syncWriter{w: stdout}
	logs := logging.NewBuffer(c.settings.LogBufferSize, slog.LevelDebug)
	logger := logs.Logger(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	prog, err := loader.LoadFile(c.defs, logger)
	if err != nil {
		return err
	}
	var script *replay.Script
	if c.events != "" {
		if script, err = replay.ParseFile(c.events); err != nil {
			return err
		}
	}

	var observers []func(behavior.Transition)
	if c.journal != "" {
		j, err := journal.Open(c.journal, filepath.Base(c.defs), logger)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := j.Close(); cerr != nil {
				err = errors.Join(err, cerr)
			}
			_, _ = fmt.Fprintf(out, "journal: run %s recorded in %s\n", j.RunID(), c.journal)
		}()
		observers = append(observers, j.Observe)
	}
	if c.trace {
		observers = append(observers, func(tr behavior.Transition) {
			_, _ = fmt.Fprintln(out, formatTransition(tr))
		})
	}

	var (
		clk clock.Clock
		sim *clock.Manual
	)
	if c.realtime {
		clk = clock.NewWall()
	} else {
		sim = clock.NewManual(0)
		clk = sim
	}

	var s *scheduler.Scheduler
	gw := event.NewGateway()
	gw.OnPublish(func(ev event.Event) {
		var tick uint64
		if s != nil {
			tick = s.Context().Tick()
		}
		_, _ = fmt.Fprintf(out, "tick %d emit %s%s\n", tick, ev.Tag, formatPayload(ev.Payload))
	})

	cfg := prog.Config()
	cfg.RetryCeiling = c.settings.RetryCeiling
	cfg.Clock = clk
	cfg.Rand = rng.New(c.seed)
	cfg.Logger = logger
	cfg.Checker = contract.New(logger, contract.WithFailFast(false))
	cfg.Gateway = gw
	if len(observers) > 0 {
		cfg.Observer = func(tr behavior.Transition) {
			for _, fn := range observers {
				fn(tr)
			}
		}
	}
	if s, err = scheduler.New(cfg); err != nil {
		return err
	}
	target := replayTarget{s: s, bb: prog.Blackboard}

	logger.Info("run started",
		slog.String("defs", c.defs),
		slog.Bool("realtime", c.realtime),
		slog.Uint64("seed", c.seed),
		slog.Duration("interval", c.interval))

	if c.realtime {
		err = c.runRealtime(ctx, s, script, target)
	} else {
		err = c.runSimulated(ctx, s, sim, script, target)
	}

	c.summarize(out, s, prog.Blackboard)
	if c.logTail > 0 {
		_, _ = fmt.Fprintln(out, "log:")
		for _, e := range logs.Recent(c.logTail) {
			_, _ = fmt.Fprintf(out, "  %s\n", e)
		}
	}
	s.Stop()
	return err
}

func (c *RunCommand) runSimulated(ctx context.Context, s *scheduler.Scheduler, clk *clock.Manual, script *replay.Script, target replayTarget) error {
	ticks := uint64(c.ticks)
	if ticks == 0 {
		ticks = defaultSimTicks
		if script != nil && script.Last()+1 > ticks {
			ticks = script.Last() + 1
		}
	}
	for range ticks {
		if err := ctx.Err(); err != nil {
			return err
		}
		clk.Advance(c.interval)
		if script != nil {
			for _, step := range script.Due(s.Context().Tick() + 1) {
				step.Apply(target)
			}
		}
		if err := s.Tick(); err != nil {
			return err
		}
	}
	return nil
}

func (c *RunCommand) runRealtime(ctx context.Context, s *scheduler.Scheduler, script *replay.Script, target replayTarget) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	if script != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = script.Play(ctx, c.interval, target)
		}()
	}
	err := s.Run(ctx, c.interval, uint64(c.ticks))
	cancel()
	wg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *RunCommand) summarize(w io.Writer, s *scheduler.Scheduler, bb *blackboard.Blackboard) {
	st := s.Stats()
	_, _ = fmt.Fprintf(w, "ticks=%d switches=%d reactions=%d resumes=%d updates=%d delivered=%d violations=%d\n",
		st.Ticks, st.Switches, st.Reactions, st.Resumes, st.Updates, st.Delivered, st.Violations)
	ids := s.Stack()
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	_, _ = fmt.Fprintf(w, "stack: %s\n", strings.Join(parts, " > "))
	keys := bb.Keys()
	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = fmt.Sprintf("%s=%v", k, bb.Get(k))
	}
	_, _ = fmt.Fprintf(w, "blackboard: %s\n", strings.Join(values, " "))
}

// replayTarget posts scripted events through the scheduler and writes
// scripted values to the blackboard. Both are safe off the tick goroutine.
type replayTarget struct {
	s  *scheduler.Scheduler
	bb *blackboard.Blackboard
}

func (t replayTarget) Post(ev event.Event) uint64  { return t.s.Post(ev) }
func (t replayTarget) Merge(values map[string]any) { t.bb.Merge(values) }

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(p)
}

func formatTransition(tr behavior.Transition) string {
	var b strings.Builder
	fmt.Fprintf(&b, "tick %d %s %s", tr.Tick, tr.Kind, tr.Behavior)
	switch tr.Kind {
	case behavior.Pushed:
		if tr.Parent != "" {
			fmt.Fprintf(&b, " parent=%s", tr.Parent)
		}
		fmt.Fprintf(&b, " depth=%d", tr.Depth)
	case behavior.ActionStarted:
		fmt.Fprintf(&b, " action=%s", tr.Action)
	case behavior.ActionFinished:
		fmt.Fprintf(&b, " action=%s status=%s", tr.Action, tr.Status)
	}
	return b.String()
}

func formatPayload(payload map[string]any) string {
	if len(payload) == 0 {
		return ""
	}
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, payload[k])
	}
	return b.String()
}
