// Package behaviors provides the generic built-in behaviors that
// definitions can be assembled from.
package behaviors

import (
	"log/slog"
	"time"

	"github.com/joeycumines/conduct/internal/action"
	"github.com/joeycumines/conduct/internal/behavior"
	"github.com/joeycumines/conduct/internal/event"
	"github.com/joeycumines/conduct/internal/planner"
)

// Idle runs until something else takes over.
type Idle struct {
	behavior.Base
}

// NewIdle returns an Idle behavior.
func NewIdle(id behavior.ID) *Idle { return &Idle{Base: behavior.NewBase(id)} }

// Wait delegates to a timed action and ends when it completes.
type Wait struct {
	behavior.Base
	duration time.Duration
	done     bool
}

// NewWait returns a Wait behavior lasting d.
func NewWait(id behavior.ID, d time.Duration) *Wait {
	return &Wait{Base: behavior.NewBase(id), duration: d}
}

// Duration returns how long the behavior waits.
func (w *Wait) Duration() time.Duration { return w.duration }

func (w *Wait) OnBehaviorActivated(ctx *behavior.Context) {
	w.done = false
	ok := ctx.Stack().DelegateAction(w, action.Wait(w.duration, ctx.Now), func(*behavior.Context, action.Completion) {
		w.done = true
	})
	if !ok {
		w.done = true
	}
}

func (w *Wait) BehaviorUpdate(ctx *behavior.Context) {
	if w.done {
		ctx.Stack().CancelSelf(w)
	}
}

// Emit posts one outbound event when activated and ends on its first
// update.
type Emit struct {
	behavior.Base
	tag     event.Tag
	payload map[string]any
}

// NewEmit returns an Emit behavior posting tag with payload.
func NewEmit(id behavior.ID, tag event.Tag, payload map[string]any) *Emit {
	return &Emit{Base: behavior.NewBase(id), tag: tag, payload: payload}
}

func (e *Emit) OnBehaviorActivated(ctx *behavior.Context) {
	ctx.Gateway().Post(event.Event{Family: event.Outbound, Tag: e.tag, Payload: e.payload})
}

func (e *Emit) BehaviorUpdate(ctx *behavior.Context) { ctx.Stack().CancelSelf(e) }

// Plan drives the blackboard towards a goal with a PA-BT plan. It only
// wants to run while the goal does not hold.
type Plan struct {
	behavior.Base
	state  *planner.State
	goal   [][]*planner.Cond
	status action.Status
	done   bool
}

// NewPlan returns a Plan behavior.
func NewPlan(id behavior.ID, state *planner.State, goal [][]*planner.Cond) *Plan {
	if state == nil {
		panic("behaviors.NewPlan: state cannot be nil")
	}
	return &Plan{Base: behavior.NewBase(id), state: state, goal: goal}
}

// LastStatus returns how the most recent plan finished.
func (p *Plan) LastStatus() action.Status { return p.status }

func (p *Plan) WantsToBeActivatedBehavior(*behavior.Context) bool {
	return !p.state.Satisfied(p.goal)
}

func (p *Plan) OnBehaviorActivated(ctx *behavior.Context) {
	p.done = false
	p.status = action.Running
	node, err := p.state.Plan(p.goal)
	if err != nil {
		ctx.Logger().Warn("planning failed", slog.String("behavior", string(p.ID())), slog.Any("error", err))
		p.status, p.done = action.Failed, true
		return
	}
	ok := ctx.Stack().DelegateAction(p, action.FromNode("plan:"+string(p.ID()), node, nil), func(ctx *behavior.Context, c action.Completion) {
		p.status, p.done = c.Status, true
		if c.Status != action.Succeeded {
			ctx.Logger().Warn("plan did not succeed",
				slog.String("behavior", string(p.ID())), slog.String("status", c.Status.String()), slog.Any("error", c.Err))
		}
	})
	if !ok {
		p.status, p.done = action.Failed, true
	}
}

func (p *Plan) BehaviorUpdate(ctx *behavior.Context) {
	if p.done {
		ctx.Stack().CancelSelf(p)
	}
}

// Sequence runs its children one after another, skipping any that do not
// want to run, and ends after the last. With Loop it starts over instead.
type Sequence struct {
	behavior.Base
	children []behavior.Behavior
	loop     bool
	next     int
	done     bool
}

// NewSequence returns a Sequence over children.
func NewSequence(id behavior.ID, loop bool, children ...behavior.Behavior) *Sequence {
	return &Sequence{Base: behavior.NewBase(id), children: children, loop: loop}
}

func (s *Sequence) GetAllDelegates() []behavior.Behavior { return s.children }

func (s *Sequence) WantsToBeActivatedBehavior(*behavior.Context) bool { return len(s.children) > 0 }

func (s *Sequence) OnBehaviorActivated(ctx *behavior.Context) {
	s.next, s.done = 0, false
	s.advance(ctx)
}

// advance delegates to the next child that wants to run.
func (s *Sequence) advance(ctx *behavior.Context) {
	for pass := 0; pass < 2; pass++ {
		for s.next < len(s.children) {
			c := s.children[s.next]
			s.next++
			if c.WantsToBeActivated(ctx) && ctx.Stack().DelegateThen(s, c, s.advance) {
				return
			}
		}
		if !s.loop {
			break
		}
		s.next = 0
	}
	s.done = true
}

func (s *Sequence) BehaviorUpdate(ctx *behavior.Context) {
	if s.done {
		ctx.Stack().CancelSelf(s)
	}
}
