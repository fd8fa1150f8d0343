// Package contract reports runtime contract violations.
//
// A violation is a condition that configuration validation should have made
// impossible, such as activating a behavior without asking it first or
// updating it twice in one tick. In release builds a violation is logged at
// error severity and counted, and execution continues. Builds tagged
// "verify" panic instead, since the scheduler's bookkeeping can no longer be
// trusted once one has occurred.
package contract

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Code identifies a class of violation.
type Code string

// Violation is a single reported contract violation.
type Violation struct {
	Code    Code
	Message string
	Attrs   []slog.Attr
}

func (v Violation) Error() string {
	return fmt.Sprintf("contract violation [%s]: %s", v.Code, v.Message)
}

// Option configures a Checker.
type Option func(*Checker)

// WithFailFast overrides the build default for whether a violation panics.
func WithFailFast(enabled bool) Option {
	return func(c *Checker) { c.failFast = enabled }
}

// WithObserver registers fn to be called, synchronously, with every
// violation before the fail-fast decision is made.
func WithObserver(fn func(Violation)) Option {
	return func(c *Checker) { c.observers = append(c.observers, fn) }
}

// Checker counts and reports violations. The zero value is not usable; use
// New.
type Checker struct {
	logger    *slog.Logger
	failFast  bool
	observers []func(Violation)

	mu     sync.Mutex
	counts map[Code]int
	total  int
	last   *Violation
}

// New returns a Checker logging to logger, or slog.Default() if nil.
func New(logger *slog.Logger, opts ...Option) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Checker{
		logger:   logger,
		failFast: failFast,
		counts:   make(map[Code]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FailFast reports whether violations panic.
func (c *Checker) FailFast() bool { return c.failFast }

// Violation reports a violation of code.
func (c *Checker) Violation(code Code, msg string, attrs ...slog.Attr) {
	v := Violation{Code: code, Message: msg, Attrs: attrs}

	c.mu.Lock()
	c.counts[code]++
	c.total++
	c.last = &v
	c.mu.Unlock()

	args := make([]slog.Attr, 0, len(attrs)+1)
	args = append(args, slog.String("code", string(code)))
	args = append(args, attrs...)
	c.logger.LogAttrs(context.Background(), slog.LevelError, "contract violation: "+msg, args...)

	for _, fn := range c.observers {
		fn(v)
	}

	if c.failFast {
		panic(v)
	}
}

// Check reports a violation of code if cond is false, and returns cond.
func (c *Checker) Check(cond bool, code Code, msg string, attrs ...slog.Attr) bool {
	if !cond {
		c.Violation(code, msg, attrs...)
	}
	return cond
}

// Count returns the number of violations reported for code.
func (c *Checker) Count(code Code) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[code]
}

// Total returns the number of violations reported for all codes.
func (c *Checker) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Last returns the most recent violation, if any.
func (c *Checker) Last() (Violation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return Violation{}, false
	}
	return *c.last, true
}

// Codes returns every code reported so far, sorted.
func (c *Checker) Codes() []Code {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Code, 0, len(c.counts))
	for code := range c.counts {
		out = append(out, code)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
