// Package action runs the asynchronous actions behaviors delegate to.
//
// An action is stepped once per tick by the Runner until it reports a
// terminal status. Cancellation is idempotent: cancelling an action that
// already finished, or cancelling twice, is a no-op.
package action

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	bt "github.com/joeycumines/go-behaviortree"
)

// ID identifies a started action.
type ID = uuid.UUID

// Status is the state of an action.
type Status uint8

const (
	Running Status = iota
	Succeeded
	Failed
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool { return s != Running }

// Action is a unit of asynchronous work.
type Action interface {
	Name() string
	// Step advances the action by one tick.
	Step() (Status, error)
	// Abort is called at most once, when the action is cancelled while
	// running.
	Abort()
}

// Completion reports how an action ended.
type Completion struct {
	ID     ID
	Name   string
	Status Status
	Err    error
	Steps  int
}

type node struct {
	name   string
	node   bt.Node
	reset  func()
	halted bool
}

// FromNode adapts a go-behaviortree node into an Action. bt.Running maps to
// Running, bt.Success to Succeeded, and bt.Failure or a tick error to Failed.
// onAbort, if non-nil, is called on Abort.
func FromNode(name string, n bt.Node, onAbort func()) Action {
	if n == nil {
		panic("action.FromNode: node cannot be nil")
	}
	return &node{name: name, node: n, reset: onAbort}
}

func (a *node) Name() string { return a.name }

func (a *node) Step() (Status, error) {
	if a.halted {
		return Cancelled, nil
	}
	status, err := a.node.Tick()
	if err != nil {
		return Failed, err
	}
	switch status {
	case bt.Running:
		return Running, nil
	case bt.Success:
		return Succeeded, nil
	case bt.Failure:
		return Failed, nil
	default:
		return Failed, fmt.Errorf("action %s: unexpected node status %v", a.name, status)
	}
}

func (a *node) Abort() {
	a.halted = true
	if a.reset != nil {
		a.reset()
	}
}

// Wait returns an action that succeeds on the first step at which now()
// reports at least d since the first step.
func Wait(d time.Duration, now func() time.Duration) Action {
	var started time.Duration
	var begun bool
	return FromNode("wait", bt.New(func([]bt.Node) (bt.Status, error) {
		t := now()
		if !begun {
			begun, started = true, t
		}
		if t-started >= d {
			return bt.Success, nil
		}
		return bt.Running, nil
	}), nil)
}

// Steps returns an action that runs for n steps then succeeds.
func Steps(name string, n int) Action {
	count := 0
	return FromNode(name, bt.New(func([]bt.Node) (bt.Status, error) {
		count++
		if count >= n {
			return bt.Success, nil
		}
		return bt.Running, nil
	}), nil)
}

type inflight struct {
	id     ID
	action Action
	steps  int
}

// Runner steps in-flight actions in start order. It is owned by the tick
// goroutine.
type Runner struct {
	logger   *slog.Logger
	inflight []*inflight
	byID     map[ID]*inflight
	newID    func() ID
}

// NewRunner returns an empty Runner.
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		logger: logger,
		byID:   make(map[ID]*inflight),
		newID:  uuid.New,
	}
}

// Start begins running a and returns its id. The first step happens on the
// next Update.
func (r *Runner) Start(a Action) ID {
	if a == nil {
		panic("action.Runner.Start: action cannot be nil")
	}
	f := &inflight{id: r.newID(), action: a}
	r.inflight = append(r.inflight, f)
	r.byID[f.id] = f
	r.logger.Debug("action started", slog.String("action", a.Name()), slog.String("id", f.id.String()))
	return f.id
}

// Update steps every in-flight action once and returns the completions of
// those that reached a terminal status, in start order.
func (r *Runner) Update() []Completion {
	if len(r.inflight) == 0 {
		return nil
	}
	var done []Completion
	kept := r.inflight[:0]
	for _, f := range r.inflight {
		status, err := f.action.Step()
		f.steps++
		if status == Running && err == nil {
			kept = append(kept, f)
			continue
		}
		if err != nil {
			status = Failed
		}
		delete(r.byID, f.id)
		done = append(done, Completion{ID: f.id, Name: f.action.Name(), Status: status, Err: err, Steps: f.steps})
		r.logger.Debug("action finished", slog.String("action", f.action.Name()), slog.String("status", status.String()))
	}
	for i := len(kept); i < len(r.inflight); i++ {
		r.inflight[i] = nil
	}
	r.inflight = kept
	return done
}

// Cancel aborts the action if it is still running, returning its
// cancellation completion and true. It returns false if the action already
// finished or was already cancelled.
func (r *Runner) Cancel(id ID) (Completion, bool) {
	f, ok := r.byID[id]
	if !ok {
		return Completion{}, false
	}
	delete(r.byID, id)
	for i, o := range r.inflight {
		if o == f {
			r.inflight = append(r.inflight[:i], r.inflight[i+1:]...)
			break
		}
	}
	f.action.Abort()
	r.logger.Debug("action cancelled", slog.String("action", f.action.Name()), slog.String("id", id.String()))
	return Completion{ID: id, Name: f.action.Name(), Status: Cancelled, Steps: f.steps}, true
}

// Running reports whether id is in flight.
func (r *Runner) Running(id ID) bool {
	_, ok := r.byID[id]
	return ok
}

// Len returns the number of in-flight actions.
func (r *Runner) Len() int { return len(r.inflight) }
