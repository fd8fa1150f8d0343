package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Settings is the resolved, typed form of the options conduct reads.
type Settings struct {
	Verbose       bool
	LogLevel      string
	LogBufferSize int
	TickInterval  time.Duration
	TickMax       int
	RetryCeiling  int
	Seed          uint64
	JournalPath   string
	InspectColor  string
	RunTrace      bool
}

// Settings reads every option from c, applying environment overrides and
// schema defaults. A nil c resolves defaults only. Values that fail to
// parse are reported together.
func (s *Schema) Settings(c *Config) (Settings, error) {
	if c == nil {
		c = NewConfig()
	}
	var errs []error
	str := func(key string) string { return s.Resolve(c, key) }
	boolean := func(v, key string) bool {
		b, err := parseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return b
	}
	integer := func(key string) int {
		i, err := strconv.Atoi(str(key))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: expected int, got %q", key, str(key)))
		}
		return i
	}

	out := Settings{
		Verbose:       boolean(str("verbose"), "verbose"),
		LogLevel:      str("log.level"),
		LogBufferSize: integer("log.buffer-size"),
		TickMax:       integer("tick.max"),
		RetryCeiling:  integer("scheduler.retry-ceiling"),
		JournalPath:   str("journal.path"),
		InspectColor:  s.ResolveSection(c, "inspect", "color"),
		RunTrace:      boolean(s.ResolveSection(c, "run", "trace"), "run.trace"),
	}
	if d, err := time.ParseDuration(str("tick.interval")); err != nil {
		errs = append(errs, fmt.Errorf("tick.interval: %w", err))
	} else {
		out.TickInterval = d
	}
	if seed, err := strconv.ParseUint(str("rng.seed"), 10, 64); err != nil {
		errs = append(errs, fmt.Errorf("rng.seed: expected unsigned int, got %q", str("rng.seed")))
	} else {
		out.Seed = seed
	}
	switch out.InspectColor {
	case "auto", "always", "never":
	default:
		errs = append(errs, fmt.Errorf("inspect.color: expected auto, always or never, got %q", out.InspectColor))
	}
	return out, errors.Join(errs...)
}
