// Package activity implements composite behaviors that pick one of their
// children to run.
package activity

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/joeycumines/conduct/internal/behavior"
	"github.com/joeycumines/conduct/internal/contract"
	"github.com/joeycumines/conduct/internal/event"
	"github.com/joeycumines/conduct/internal/strategy"
)

// SelectTag is the inbound event tag that selects a child of an
// externally-selected activity. Payload: {"activity": id, "child": id,
// "count": n}. activity may be omitted; count defaults to 1. Selecting the
// child that is already running counts its current run as the first.
const SelectTag event.Tag = "activity.select"

// CodeNoChildSelected is reported when a strict-priority activity with
// children selects none of them and none was rejected this tick.
const CodeNoChildSelected contract.Code = "no-child-selected"

var (
	ErrPriorityOrder  = errors.New("activity: priorities must be non-decreasing")
	ErrNoChildren     = errors.New("activity: no children")
	ErrNilChild       = errors.New("activity: nil child behavior")
	ErrDuplicateChild = errors.New("activity: duplicate child")
	ErrChildCount     = errors.New("activity: pass-through takes exactly one child")
	ErrUnknownIdle    = errors.New("activity: idle child not found")
)

// Policy selects how an activity chooses among its children.
type Policy uint8

const (
	StrictPriority Policy = iota
	Scored
	External
	PassThrough
)

var policyNames = [...]string{
	StrictPriority: "strict-priority",
	Scored:         "scored",
	External:       "external",
	PassThrough:    "pass-through",
}

func (p Policy) String() string {
	if int(p) < len(policyNames) {
		return policyNames[p]
	}
	return fmt.Sprintf("Policy(%d)", uint8(p))
}

// ParsePolicy parses a policy name.
func ParsePolicy(s string) (Policy, error) {
	for i, name := range policyNames {
		if name == s {
			return Policy(i), nil
		}
	}
	return 0, fmt.Errorf("activity: unknown policy %q", s)
}

// Child is one option of an activity.
type Child struct {
	Behavior behavior.Behavior
	// Strategy gates starting and ending the child. Nil means always.
	Strategy strategy.Strategy
	Priority int
	// Score is the base score under the scored policy.
	Score float64
}

// Options tunes the scored and external policies.
type Options struct {
	// RunningBonus is added to the running child's score, halving every
	// HalfLife it has run. A zero HalfLife keeps the bonus constant.
	RunningBonus float64
	HalfLife     time.Duration
	// Jitter adds uniform noise in [0, Jitter) to every score.
	Jitter float64
	// A child that ran within RepetitionWindow has its score multiplied by
	// RepetitionPenalty.
	RepetitionWindow  time.Duration
	RepetitionPenalty float64
	// Idle is the child an externally-selected activity runs when nothing is
	// selected. Empty means the first child.
	Idle behavior.ID
}

// Activity is a composite behavior delegating to one child at a time.
type Activity struct {
	behavior.Base
	policy   Policy
	children []Child
	opts     Options

	idle      int
	selected  int
	remaining int
}

var _ behavior.Chooser = (*Activity)(nil)

// New validates children and returns an activity. Child strategies are
// attached to the activity, so they receive events while it is in scope,
// and are told when their child starts and stops.
func New(id behavior.ID, policy Policy, children []Child, opts Options) (*Activity, error) {
	if len(children) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoChildren, id)
	}
	if policy == PassThrough && len(children) != 1 {
		return nil, fmt.Errorf("%w: %q has %d", ErrChildCount, id, len(children))
	}
	var errs []error
	seen := make(map[behavior.ID]bool, len(children))
	for i, c := range children {
		if c.Behavior == nil {
			errs = append(errs, fmt.Errorf("%w: %q child %d", ErrNilChild, id, i))
			continue
		}
		if seen[c.Behavior.ID()] {
			errs = append(errs, fmt.Errorf("%w: %q in %q", ErrDuplicateChild, c.Behavior.ID(), id))
		}
		seen[c.Behavior.ID()] = true
		if i > 0 && c.Priority < children[i-1].Priority {
			errs = append(errs, fmt.Errorf("%w: %q child %q has priority %d after %d",
				ErrPriorityOrder, id, c.Behavior.ID(), c.Priority, children[i-1].Priority))
		}
	}
	a := &Activity{policy: policy, opts: opts, selected: -1}
	if policy == External && opts.Idle != "" {
		a.idle = -1
		for i, c := range children {
			if c.Behavior != nil && c.Behavior.ID() == opts.Idle {
				a.idle = i
			}
		}
		if a.idle < 0 {
			errs = append(errs, fmt.Errorf("%w: %q in %q", ErrUnknownIdle, opts.Idle, id))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	var subs []event.Subscription
	if policy == External {
		subs = append(subs, event.Subscription{Family: event.Inbound, Tags: []event.Tag{SelectTag}})
	}
	a.Base = behavior.NewBase(id, subs...)
	a.children = make([]Child, len(children))
	for i, c := range children {
		if c.Strategy == nil {
			c.Strategy = strategy.Always()
		}
		a.AttachStrategy(c.Strategy)
		behavior.BaseOf(c.Behavior).BindLifecycle(a, c.Strategy)
		a.children[i] = c
	}
	return a, nil
}

// Policy returns the selection policy.
func (a *Activity) Policy() Policy { return a.policy }

// Children returns the children in declaration order.
func (a *Activity) Children() []Child { return a.children }

// GetAllDelegates implements behavior.Behavior.
func (a *Activity) GetAllDelegates() []behavior.Behavior {
	out := make([]behavior.Behavior, len(a.children))
	for i, c := range a.children {
		out[i] = c.Behavior
	}
	return out
}

// HandleEvent records external selections.
func (a *Activity) HandleEvent(ctx *behavior.Context, ev event.Event) {
	if ev.Tag != SelectTag {
		return
	}
	if target, ok := ev.Text("activity"); ok && target != "" && behavior.ID(target) != a.ID() {
		return
	}
	name, _ := ev.Text("child")
	i := a.indexOf(behavior.ID(name))
	if i < 0 {
		ctx.Logger().Warn("selection of unknown child",
			slog.String("activity", string(a.ID())), slog.String("child", name))
		return
	}
	count, ok := ev.Int("count")
	if !ok || count < 1 {
		count = 1
	}
	a.selected, a.remaining = i, count
	if ctx.Stack().Child(a) == a.children[i].Behavior {
		a.remaining--
	}
	ctx.Logger().Info("child selected",
		slog.String("activity", string(a.ID())), slog.String("child", name), slog.Int("count", count))
}

func (a *Activity) indexOf(id behavior.ID) int {
	for i, c := range a.children {
		if c.Behavior.ID() == id {
			return i
		}
	}
	return -1
}

// Selected returns the externally selected child and how many more runs it
// has, or false when nothing is selected.
func (a *Activity) Selected() (behavior.ID, int, bool) {
	if a.selected < 0 {
		return "", 0, false
	}
	return a.children[a.selected].Behavior.ID(), a.remaining, true
}

// ChooseDelegate implements behavior.Chooser.
func (a *Activity) ChooseDelegate(ctx *behavior.Context, current behavior.Behavior) behavior.Behavior {
	switch a.policy {
	case Scored:
		return a.chooseScored(ctx, current)
	case External:
		return a.chooseExternal(ctx, current)
	case PassThrough:
		return a.startable(ctx, current, a.children[0], false)
	default:
		return a.chooseStrict(ctx, current)
	}
}

// keeps reports whether the running child c should go on running.
func (a *Activity) keeps(ctx *behavior.Context, current behavior.Behavior, c Child) bool {
	return current == c.Behavior && !ctx.Rejected(c.Behavior) && !c.Strategy.WantsToEnd(ctx)
}

// startable returns c's behavior if it may run now: it is the current child
// and keeps running, or it wants to start. bypass skips c's strategy.
func (a *Activity) startable(ctx *behavior.Context, current behavior.Behavior, c Child, bypass bool) behavior.Behavior {
	if current == c.Behavior {
		if a.keeps(ctx, current, c) {
			return current
		}
		return nil
	}
	if ctx.Rejected(c.Behavior) {
		return nil
	}
	if !bypass && !c.Strategy.WantsToStart(ctx) {
		return nil
	}
	if !c.Behavior.WantsToBeActivated(ctx) {
		return nil
	}
	return c.Behavior
}

func (a *Activity) chooseStrict(ctx *behavior.Context, current behavior.Behavior) behavior.Behavior {
	rejected := false
	for _, c := range a.children {
		if ctx.Rejected(c.Behavior) {
			rejected = true
			continue
		}
		if b := a.startable(ctx, current, c, false); b != nil {
			return b
		}
	}
	if !rejected {
		ctx.Checker().Violation(CodeNoChildSelected, "strict-priority activity selected no child",
			slog.String("activity", string(a.ID())))
	}
	return nil
}

func (a *Activity) chooseScored(ctx *behavior.Context, current behavior.Behavior) behavior.Behavior {
	now := ctx.Now()
	best, bestScore := -1, math.Inf(-1)
	for i, c := range a.children {
		if a.startable(ctx, current, c, false) == nil {
			continue
		}
		score := a.score(ctx, now, current, c)
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return nil
	}
	next := a.children[best].Behavior
	if next != current {
		attrs := []any{
			slog.String("activity", string(a.ID())),
			slog.String("child", string(next.ID())),
			slog.Float64("score", bestScore),
		}
		if current != nil {
			attrs = append(attrs, slog.String("previous", string(current.ID())))
		}
		ctx.Logger().Info("activity switched child", attrs...)
	}
	return next
}

func (a *Activity) score(ctx *behavior.Context, now time.Duration, current behavior.Behavior, c Child) float64 {
	score := c.Score
	base := behavior.BaseOf(c.Behavior)
	if c.Behavior == current {
		bonus := a.opts.RunningBonus
		if a.opts.HalfLife > 0 {
			running := now - base.ActivatedAt()
			bonus *= math.Pow(0.5, float64(running)/float64(a.opts.HalfLife))
		}
		score += bonus
	} else if a.opts.RepetitionWindow > 0 && base.ActivationCount() > 0 &&
		now-base.LastDeactivatedAt() < a.opts.RepetitionWindow {
		score *= a.opts.RepetitionPenalty
	}
	if a.opts.Jitter > 0 {
		score += a.opts.Jitter * ctx.Rand().Float64()
	}
	return score
}

func (a *Activity) chooseExternal(ctx *behavior.Context, current behavior.Behavior) behavior.Behavior {
	if a.selected >= 0 {
		c := a.children[a.selected]
		if current == c.Behavior {
			if !ctx.Rejected(c.Behavior) {
				return current
			}
		} else if a.remaining > 0 {
			if b := a.startable(ctx, current, c, true); b != nil {
				a.remaining--
				return b
			}
			ctx.Logger().Warn("selected child cannot run",
				slog.String("activity", string(a.ID())), slog.String("child", string(c.Behavior.ID())))
			a.remaining = 0
		}
		if a.remaining == 0 {
			a.selected = -1
		}
	}
	return a.startable(ctx, current, a.children[a.idle], true)
}
