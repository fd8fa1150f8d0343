// Package replay reads scripted inputs, events and blackboard writes keyed
// by tick, and feeds them to a running scheduler.
//
// A script is JSON lines:
//
//	{"tick": 3, "family": "inbound", "tag": "cliff", "payload": {"side": "left"}}
//	{"tick": 5, "set": {"objects.ball": 1}}
//
// Blank lines and lines starting with # are ignored.
package replay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/joeycumines/conduct/internal/event"
)

// ErrEmptyStep is returned for a line with neither a tag nor a set.
var ErrEmptyStep = errors.New("replay: step has neither tag nor set")

// Step is one scripted input.
type Step struct {
	Tick    uint64         `json:"tick"`
	Family  string         `json:"family,omitempty"`
	Tag     string         `json:"tag,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
	Set     map[string]any `json:"set,omitempty"`

	line int
}

// Event returns the event the step posts, if it has one.
func (s Step) Event() (event.Event, bool) {
	if s.Tag == "" {
		return event.Event{}, false
	}
	family := event.Inbound
	if s.Family == "outbound" {
		family = event.Outbound
	}
	return event.Event{Family: family, Tag: event.Tag(s.Tag), Payload: s.Payload}, true
}

// Line returns the script line the step came from, or 0.
func (s Step) Line() int { return s.line }

// Target receives replayed steps.
type Target interface {
	Post(ev event.Event) uint64
	Merge(values map[string]any)
}

// Apply delivers s to t: blackboard writes first, then the event.
func (s Step) Apply(t Target) {
	if len(s.Set) > 0 {
		t.Merge(s.Set)
	}
	if ev, ok := s.Event(); ok {
		t.Post(ev)
	}
}

// Script is an ordered list of steps.
type Script struct {
	steps []Step
	next  int
}

// Parse reads a script. Every malformed line is reported.
func Parse(r io.Reader) (*Script, error) {
	var (
		steps []Step
		errs  []error
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for n := 1; sc.Scan(); n++ {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(line))
		dec.DisallowUnknownFields()
		var s Step
		if err := dec.Decode(&s); err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", n, err))
			continue
		}
		if s.Tag == "" && len(s.Set) == 0 {
			errs = append(errs, fmt.Errorf("line %d: %w", n, ErrEmptyStep))
			continue
		}
		if s.Family != "" {
			if _, err := event.ParseFamily(s.Family); err != nil {
				errs = append(errs, fmt.Errorf("line %d: %w", n, err))
				continue
			}
		}
		s.line = n
		steps = append(steps, s)
	}
	if err := sc.Err(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	slices.SortStableFunc(steps, func(a, b Step) int {
		switch {
		case a.Tick < b.Tick:
			return -1
		case a.Tick > b.Tick:
			return 1
		}
		return 0
	})
	return &Script{steps: steps}, nil
}

// ParseFile reads the script at path.
func ParseFile(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	defer f.Close()
	s, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Len returns the number of steps.
func (s *Script) Len() int { return len(s.steps) }

// Remaining returns the number of steps not yet taken.
func (s *Script) Remaining() int { return len(s.steps) - s.next }

// Last returns the tick of the final step.
func (s *Script) Last() uint64 {
	if len(s.steps) == 0 {
		return 0
	}
	return s.steps[len(s.steps)-1].Tick
}

// Due takes every remaining step scheduled at or before tick.
func (s *Script) Due(tick uint64) []Step {
	start := s.next
	for s.next < len(s.steps) && s.steps[s.next].Tick <= tick {
		s.next++
	}
	return s.steps[start:s.next]
}

// Play applies the remaining steps to t in real time, step k at
// start + k.Tick*interval, until the script ends or ctx is done. It is meant
// to run on its own goroutine.
func (s *Script) Play(ctx context.Context, interval time.Duration, t Target) error {
	start := time.Now()
	timer := time.NewTimer(0)
	defer timer.Stop()
	for s.next < len(s.steps) {
		tick := s.steps[s.next].Tick
		timer.Reset(time.Until(start.Add(time.Duration(tick) * interval)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		for _, step := range s.Due(tick) {
			step.Apply(t)
		}
	}
	return nil
}
