package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Type is the kind of value an option accepts.
type Type string

const (
	TypeString   Type = "string"
	TypeBool     Type = "bool"
	TypeInt      Type = "int"
	TypeUint     Type = "uint"
	TypeDuration Type = "duration"
	TypePath     Type = "path"
)

// Check returns an error if value does not parse as t.
func (t Type) Check(value string) error {
	var err error
	switch t {
	case TypeString, TypePath, "":
	case TypeBool:
		_, err = parseBool(value)
	case TypeInt:
		_, err = strconv.Atoi(value)
	case TypeUint:
		_, err = strconv.ParseUint(value, 10, 64)
	case TypeDuration:
		_, err = time.ParseDuration(value)
	default:
		return fmt.Errorf("unknown option type %q", t)
	}
	if err != nil {
		if t == TypeUint {
			return fmt.Errorf("expected unsigned int, got %q", value)
		}
		return fmt.Errorf("expected %s, got %q", t, value)
	}
	return nil
}

// Option is one setting conduct reads. Section is empty for global options.
type Option struct {
	Section     string
	Key         string
	Type        Type
	Default     string
	EnvVar      string
	Description string
}

type optionKey struct{ section, key string }

// Schema is the fixed table of options, in declaration order.
type Schema struct {
	options []Option
	index   map[optionKey]int
}

// DefaultSchema returns the schema of every conduct option.
func DefaultSchema() *Schema {
	return newSchema(append(globalOptions(), sectionOptions()...))
}

func newSchema(options []Option) *Schema {
	s := &Schema{options: options, index: make(map[optionKey]int, len(options))}
	for i, o := range options {
		s.index[optionKey{o.Section, o.Key}] = i
	}
	return s
}

// Options returns every option, global ones first.
func (s *Schema) Options() []Option { return s.options }

// Lookup finds the option declared as key in section, "" meaning global.
func (s *Schema) Lookup(section, key string) (Option, bool) {
	i, ok := s.index[optionKey{section, key}]
	if !ok {
		return Option{}, false
	}
	return s.options[i], true
}

// Resolve returns the value of the global option key: its environment
// variable, else the config file, else the default.
func (s *Schema) Resolve(c *Config, key string) string {
	opt, known := s.Lookup("", key)
	if v, ok := lookupEnv(opt); ok {
		return v
	}
	if v, ok := c.GetGlobalOption(key); ok {
		return v
	}
	if known {
		return opt.Default
	}
	return ""
}

// ResolveSection is Resolve for an option of section. A value under the
// section header wins over a global value of the same key.
func (s *Schema) ResolveSection(c *Config, section, key string) string {
	opt, ok := s.Lookup(section, key)
	if !ok {
		return s.Resolve(c, key)
	}
	if v, ok := lookupEnv(opt); ok {
		return v
	}
	if v, ok := c.GetSectionOption(section, key); ok {
		return v
	}
	if v, ok := c.GetGlobalOption(key); ok {
		return v
	}
	return opt.Default
}

func lookupEnv(o Option) (string, bool) {
	if o.EnvVar == "" {
		return "", false
	}
	return os.LookupEnv(o.EnvVar)
}

// ValidateConfig lists, sorted, every key c sets that the schema does not
// declare and every value that does not parse. Global keys may also appear
// under a section header.
func ValidateConfig(c *Config, s *Schema) []string {
	var issues []string
	for key, value := range c.Global {
		opt, ok := s.Lookup("", key)
		if !ok {
			issues = append(issues, fmt.Sprintf("unknown global option: %q (value: %q)", key, value))
		} else if err := opt.Type.Check(value); err != nil {
			issues = append(issues, fmt.Sprintf("global option %q: %v", key, err))
		}
	}
	for section, values := range c.Sections {
		for key, value := range values {
			opt, ok := s.Lookup(section, key)
			if !ok {
				opt, ok = s.Lookup("", key)
			}
			if !ok {
				issues = append(issues, fmt.Sprintf("unknown option in [%s]: %q (value: %q)", section, key, value))
			} else if err := opt.Type.Check(value); err != nil {
				issues = append(issues, fmt.Sprintf("option %q in [%s]: %v", key, section, err))
			}
		}
	}
	sort.Strings(issues)
	return issues
}

// FormatHelp describes every option, grouped by section.
func (s *Schema) FormatHelp() string {
	var b strings.Builder
	section := "-"
	for _, o := range s.options {
		if o.Section != section {
			section = o.Section
			if section == "" {
				b.WriteString("Global Options:\n")
			} else {
				fmt.Fprintf(&b, "\n[%s] Options:\n", section)
			}
		}
		fmt.Fprintf(&b, "  %-35s %s", o.Key, o.Description)
		var notes []string
		if o.Type != "" && o.Type != TypeString {
			notes = append(notes, "type: "+string(o.Type))
		}
		if o.Default != "" {
			notes = append(notes, "default: "+o.Default)
		}
		if o.EnvVar != "" {
			notes = append(notes, "env: "+o.EnvVar)
		}
		if len(notes) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(notes, ", "))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func globalOptions() []Option {
	return []Option{
		{Key: "verbose", Type: TypeBool, Default: "false", Description: "Log every leaf switch and reaction"},

		{Key: "log.level", Type: TypeString, Default: "info", Description: "Log level: debug, info, warn, error", EnvVar: "CONDUCT_LOG_LEVEL"},
		{Key: "log.buffer-size", Type: TypeInt, Default: "1000", Description: "In-memory log buffer size (entries)"},

		{Key: "tick.interval", Type: TypeDuration, Default: "100ms", Description: "Time between scheduler ticks", EnvVar: "CONDUCT_TICK_INTERVAL"},
		{Key: "tick.max", Type: TypeInt, Default: "0", Description: "Stop after this many ticks, 0 for no limit"},

		{Key: "scheduler.retry-ceiling", Type: TypeInt, Default: "32", Description: "Max re-arbitrations per tick"},
		{Key: "rng.seed", Type: TypeUint, Default: "1", Description: "Seed for the scheduler's random source", EnvVar: "CONDUCT_SEED"},

		{Key: "journal.path", Type: TypePath, Default: "", Description: "SQLite file recording stack transitions", EnvVar: "CONDUCT_JOURNAL"},
	}
}

func sectionOptions() []Option {
	return []Option{
		{Key: "color", Section: "inspect", Type: TypeString, Default: "auto", Description: "Color mode: auto, always, never"},
		{Key: "trace", Section: "run", Type: TypeBool, Default: "false", Description: "Print each stack transition"},
	}
}
