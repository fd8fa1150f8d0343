// Package planner builds PA-BT plans over the blackboard.
//
// Goals and action preconditions are lists of condition groups: a group
// holds when all of its conditions hold, and a list holds when any group
// does. Actions are declared with their effects on blackboard keys; the
// planner chains them backwards from whichever goal condition fails.
package planner

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"strconv"

	bt "github.com/joeycumines/go-behaviortree"
	pabtpkg "github.com/joeycumines/go-pabt"

	"github.com/joeycumines/conduct/internal/blackboard"
	"github.com/joeycumines/conduct/internal/condition"
)

var (
	_ pabtpkg.IState    = (*State)(nil)
	_ pabtpkg.Condition = (*Cond)(nil)
	_ pabtpkg.Effect    = Effect{}
	_ pabtpkg.IAction   = (*Action)(nil)
)

// ErrNoGoal is returned when planning without goal conditions.
var ErrNoGoal = errors.New("planner: no goal conditions")

// Cond matches the value of one blackboard key.
type Cond struct {
	key   string
	equal any
	expr  *condition.Expression
}

// Equal matches when key holds value.
func Equal(key string, value any) *Cond {
	return &Cond{key: key, equal: value}
}

// Match returns a condition on key given a value expression, such as
// "value >= 2".
func Match(key, source string) (*Cond, error) {
	e, err := condition.Compile(condition.Value, source)
	if err != nil {
		return nil, err
	}
	return &Cond{key: key, expr: e}, nil
}

// Key implements pabtpkg.Variable.
func (c *Cond) Key() any { return c.key }

// Match implements pabtpkg.Condition. Expression errors count as no match.
func (c *Cond) Match(value any) bool {
	if c.expr == nil {
		return equalValues(c.equal, value)
	}
	ok, err := c.expr.Match(value)
	return err == nil && ok
}

func (c *Cond) String() string {
	if c.expr == nil {
		return fmt.Sprintf("%s == %v", c.key, c.equal)
	}
	return fmt.Sprintf("%s: %s", c.key, c.expr.Source())
}

// Effect sets blackboard key Name to To.
type Effect struct {
	Name string
	To   any
}

// Key implements pabtpkg.Variable.
func (e Effect) Key() any { return e.Name }

// Value implements pabtpkg.Effect.
func (e Effect) Value() any { return e.To }

// Action is a plannable step. Its node waits Duration ticks, then writes its
// effects to the blackboard and succeeds.
type Action struct {
	name       string
	bb         *blackboard.Blackboard
	conditions []pabtpkg.IConditions
	effects    pabtpkg.Effects
	duration   int
}

// NewAction returns an action named name that takes duration ticks. pre is
// a list of alternative precondition groups; an empty list means no
// preconditions.
func NewAction(name string, bb *blackboard.Blackboard, pre [][]*Cond, effects []Effect, duration int) *Action {
	if bb == nil {
		panic("planner.NewAction: blackboard cannot be nil")
	}
	a := &Action{name: name, bb: bb, conditions: groups(pre), duration: duration}
	for _, e := range effects {
		a.effects = append(a.effects, e)
	}
	return a
}

// Name returns the action name.
func (a *Action) Name() string { return a.name }

// Conditions implements pabtpkg.IAction.
func (a *Action) Conditions() []pabtpkg.IConditions { return a.conditions }

// Effects implements pabtpkg.IAction.
func (a *Action) Effects() pabtpkg.Effects { return a.effects }

// Node implements pabtpkg.IAction. Each call returns a fresh node.
func (a *Action) Node() bt.Node {
	remaining := a.duration
	return bt.New(func([]bt.Node) (bt.Status, error) {
		if remaining > 0 {
			remaining--
			return bt.Running, nil
		}
		for _, e := range a.effects {
			a.bb.Set(e.Key().(string), e.Value())
		}
		remaining = a.duration
		return bt.Success, nil
	})
}

// State exposes the blackboard and a fixed action set to the planner.
type State struct {
	bb      *blackboard.Blackboard
	actions []*Action
	logger  *slog.Logger
}

// NewState returns a State over bb. Actions are offered in name order.
func NewState(bb *blackboard.Blackboard, logger *slog.Logger, actions ...*Action) *State {
	if logger == nil {
		logger = slog.Default()
	}
	sorted := slices.Clone(actions)
	slices.SortStableFunc(sorted, func(a, b *Action) int {
		switch {
		case a.name < b.name:
			return -1
		case a.name > b.name:
			return 1
		}
		return 0
	})
	return &State{bb: bb, actions: sorted, logger: logger}
}

// Variable implements pabtpkg.IState. Missing keys read as nil.
func (s *State) Variable(key any) (any, error) {
	var name string
	switch k := key.(type) {
	case string:
		name = k
	case int:
		name = strconv.Itoa(k)
	case fmt.Stringer:
		name = k.String()
	default:
		return nil, fmt.Errorf("planner: unsupported key type %T", key)
	}
	return s.bb.Get(name), nil
}

// Actions implements pabtpkg.IState, returning every action with an effect
// that satisfies failed.
func (s *State) Actions(failed pabtpkg.Condition) ([]pabtpkg.IAction, error) {
	var out []pabtpkg.IAction
	for _, a := range s.actions {
		if failed == nil {
			out = append(out, a)
			continue
		}
		for _, e := range a.effects {
			if e.Key() == failed.Key() && failed.Match(e.Value()) {
				out = append(out, a)
				break
			}
		}
	}
	if failed != nil {
		s.logger.Debug("planner candidates", slog.Any("key", failed.Key()), slog.Int("actions", len(out)))
	}
	return out, nil
}

// Satisfied reports whether any goal group currently holds.
func (s *State) Satisfied(goal [][]*Cond) bool {
	for _, group := range goal {
		ok := true
		for _, c := range group {
			if !c.Match(s.bb.Get(c.key)) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

// Plan builds the behavior tree that drives the world towards goal.
func (s *State) Plan(goal [][]*Cond) (bt.Node, error) {
	if len(goal) == 0 {
		return nil, ErrNoGoal
	}
	plan, err := pabtpkg.INew(s, groups(goal))
	if err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}
	return plan.Node(), nil
}

func groups(in [][]*Cond) []pabtpkg.IConditions {
	out := make([]pabtpkg.IConditions, 0, len(in))
	for _, group := range in {
		g := make(pabtpkg.IConditions, 0, len(group))
		for _, c := range group {
			g = append(g, c)
		}
		out = append(out, g)
	}
	return out
}

func equalValues(want, got any) bool {
	if reflect.DeepEqual(want, got) {
		return true
	}
	wf, wok := number(want)
	gf, gok := number(got)
	return wok && gok && wf == gf
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
