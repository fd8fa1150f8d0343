// Package loader builds behaviors, reactions and planner actions from a
// JSON definitions file.
//
// Every problem found in a file is reported in a single error, joined with
// errors.Join, so that a broken file can be fixed in one pass.
package loader

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"

	"github.com/joeycumines/conduct/internal/activity"
	"github.com/joeycumines/conduct/internal/behavior"
	"github.com/joeycumines/conduct/internal/behaviors"
	"github.com/joeycumines/conduct/internal/blackboard"
	"github.com/joeycumines/conduct/internal/contract"
	"github.com/joeycumines/conduct/internal/event"
	"github.com/joeycumines/conduct/internal/planner"
	"github.com/joeycumines/conduct/internal/reaction"
	"github.com/joeycumines/conduct/internal/scheduler"
	"github.com/joeycumines/conduct/internal/strategy"
)

var (
	ErrDuplicateID     = errors.New("loader: duplicate id")
	ErrUnresolvedChild = errors.New("loader: unresolved reference")
	ErrMissingField    = errors.New("loader: missing field")
	ErrUnknownType     = errors.New("loader: unknown type")
	ErrCycle           = errors.New("loader: reference cycle")

	// Aliases of the errors raised by the packages that validate the
	// built objects.
	ErrPriorityOrder    = activity.ErrPriorityOrder
	ErrTriggerGap       = reaction.ErrTriggerGap
	ErrTriggerDuplicate = reaction.ErrTriggerDuplicate
)

// Behavior types.
const (
	TypeActivity = "activity"
	TypeIdle     = "idle"
	TypeWait     = "wait"
	TypeEmit     = "emit"
	TypePlan     = "plan"
	TypeSequence = "sequence"
)

// Types lists the behavior types a definition may use.
var Types = []string{TypeActivity, TypeIdle, TypeWait, TypeEmit, TypePlan, TypeSequence}

// Program is a loaded definitions file, ready to schedule.
type Program struct {
	Definitions *Definitions
	Main        behavior.Behavior
	// Behaviors holds every built node in definition order.
	Behaviors  []behavior.Behavior
	Reactions  []reaction.Entry
	Blackboard *blackboard.Blackboard
	Planner    *planner.State
}

// Config returns a scheduler configuration running p. The remaining fields
// are left for the caller.
func (p *Program) Config() scheduler.Config {
	return scheduler.Config{
		Main:      p.Main,
		Behaviors: slices.Clone(p.Behaviors),
		Reactions: slices.Clone(p.Reactions),
		Queries:   p.Blackboard,
	}
}

// Lookup returns the node built for id.
func (p *Program) Lookup(id behavior.ID) (behavior.Behavior, bool) {
	for _, b := range p.Behaviors {
		if b.ID() == id {
			return b, true
		}
	}
	return nil, false
}

// Parse decodes a definitions file. Unknown fields are rejected.
func Parse(data []byte) (*Definitions, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var defs Definitions
	if err := dec.Decode(&defs); err != nil {
		return nil, fmt.Errorf("loader: decode: %w", err)
	}
	return &defs, nil
}

// LoadFile reads and builds the definitions file at path.
func LoadFile(path string, logger *slog.Logger) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loader: %w", err)
	}
	p, err := Load(bytes.NewReader(data), logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Load reads and builds a definitions file.
func Load(r io.Reader, logger *slog.Logger) (*Program, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("loader: %w", err)
	}
	defs, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return Build(defs, logger)
}

// Build constructs the program described by defs.
func Build(defs *Definitions, logger *slog.Logger) (*Program, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &builder{
		defs:     defs,
		logger:   logger,
		index:    make(map[string]int, len(defs.Behaviors)),
		built:    make(map[string]behavior.Behavior, len(defs.Behaviors)),
		visiting: make(map[string]bool),
	}
	p := &Program{Definitions: defs, Blackboard: blackboard.New(defs.Blackboard)}

	for i, d := range defs.Behaviors {
		switch _, dup := b.index[d.ID]; {
		case d.ID == "":
			b.fail(fmt.Errorf("%w: behaviors[%d].behaviorID", ErrMissingField, i))
		case dup:
			b.fail(fmt.Errorf("%w: behavior %q", ErrDuplicateID, d.ID))
		default:
			b.index[d.ID] = i
		}
	}

	p.Planner = planner.NewState(p.Blackboard, logger, b.actions(p.Blackboard)...)
	b.planner = p.Planner

	for _, d := range defs.Behaviors {
		if _, ok := b.index[d.ID]; !ok || d.ID == "" {
			continue
		}
		if n := b.node(d.ID, ""); n != nil && !slices.Contains(p.Behaviors, n) {
			p.Behaviors = append(p.Behaviors, n)
		}
	}

	if defs.Root == "" {
		b.fail(fmt.Errorf("%w: root", ErrMissingField))
	} else {
		p.Main = b.node(defs.Root, "root")
	}

	p.Reactions = b.reactions()

	if err := errors.Join(b.errs...); err != nil {
		return nil, err
	}
	return p, nil
}

type builder struct {
	defs     *Definitions
	logger   *slog.Logger
	planner  *planner.State
	index    map[string]int
	built    map[string]behavior.Behavior
	visiting map[string]bool
	errs     []error
}

func (b *builder) fail(err error) { b.errs = append(b.errs, err) }

// node returns the behavior for id, building it and its references on first
// use. It returns nil after recording an error.
func (b *builder) node(id, from string) behavior.Behavior {
	if n, ok := b.built[id]; ok {
		return n
	}
	i, ok := b.index[id]
	if !ok {
		if from == "" {
			from = "definitions"
		}
		b.fail(fmt.Errorf("%w: %q referenced by %q", ErrUnresolvedChild, id, from))
		return nil
	}
	if b.visiting[id] {
		b.fail(fmt.Errorf("%w: %q referenced by %q", ErrCycle, id, from))
		return nil
	}
	b.visiting[id] = true
	defer delete(b.visiting, id)

	d := &b.defs.Behaviors[i]
	n := b.make(d)
	if n != nil && d.Strategy != nil {
		if s := b.strategy(d.Strategy, "behavior "+d.ID); s != nil {
			behavior.BaseOf(n).AddGate(s)
		}
	}
	b.built[id] = n
	return n
}

func (b *builder) make(d *BehaviorDef) behavior.Behavior {
	id := behavior.ID(d.ID)
	switch d.Type {
	case TypeIdle:
		return behaviors.NewIdle(id)

	case TypeWait:
		if d.Duration <= 0 {
			b.fail(fmt.Errorf("%w: wait %q needs a positive duration", ErrMissingField, d.ID))
			return nil
		}
		return behaviors.NewWait(id, d.Duration.Std())

	case TypeEmit:
		if d.Tag == "" {
			b.fail(fmt.Errorf("%w: emit %q needs a tag", ErrMissingField, d.ID))
			return nil
		}
		return behaviors.NewEmit(id, event.Tag(d.Tag), d.Payload)

	case TypePlan:
		if len(d.Goal) == 0 {
			b.fail(fmt.Errorf("%w: plan %q needs a goal", ErrMissingField, d.ID))
			return nil
		}
		goal, ok := b.conds(d.Goal, "plan "+d.ID)
		if !ok {
			return nil
		}
		return behaviors.NewPlan(id, b.planner, goal)

	case TypeSequence:
		if len(d.Steps) == 0 {
			b.fail(fmt.Errorf("%w: sequence %q needs steps", ErrMissingField, d.ID))
			return nil
		}
		steps := make([]behavior.Behavior, 0, len(d.Steps))
		for _, ref := range d.Steps {
			steps = append(steps, b.node(ref, d.ID))
		}
		if slices.Contains(steps, nil) {
			return nil
		}
		return behaviors.NewSequence(id, d.Loop, steps...)

	case TypeActivity:
		return b.activity(d)

	case "":
		b.fail(fmt.Errorf("%w: behavior %q type", ErrMissingField, d.ID))
	default:
		b.fail(fmt.Errorf("%w: behavior %q has type %q", ErrUnknownType, d.ID, d.Type))
	}
	return nil
}

func (b *builder) activity(d *BehaviorDef) behavior.Behavior {
	policy := activity.StrictPriority
	if d.Policy != "" {
		p, err := activity.ParsePolicy(d.Policy)
		if err != nil {
			b.fail(fmt.Errorf("activity %q: %w", d.ID, err))
			return nil
		}
		policy = p
	}
	if len(d.Children) == 0 {
		b.fail(fmt.Errorf("%w: activity %q needs children", ErrMissingField, d.ID))
		return nil
	}
	children := make([]activity.Child, 0, len(d.Children))
	complete := true
	for i, c := range d.Children {
		if c.Behavior == "" {
			b.fail(fmt.Errorf("%w: activity %q children[%d].behavior", ErrMissingField, d.ID, i))
			complete = false
			continue
		}
		child := activity.Child{Behavior: b.node(c.Behavior, d.ID), Priority: c.Priority, Score: c.Score}
		if child.Behavior == nil {
			complete = false
			continue
		}
		if c.Strategy != nil {
			if child.Strategy = b.strategy(c.Strategy, fmt.Sprintf("activity %s child %s", d.ID, c.Behavior)); child.Strategy == nil {
				complete = false
			}
		}
		children = append(children, child)
	}
	if !complete {
		return nil
	}
	var opts activity.Options
	if o := d.Options; o != nil {
		opts = activity.Options{
			RunningBonus:      o.RunningBonus,
			HalfLife:          o.HalfLife.Std(),
			Jitter:            o.Jitter,
			RepetitionWindow:  o.RepetitionWindow.Std(),
			RepetitionPenalty: o.RepetitionPenalty,
			Idle:              behavior.ID(o.Idle),
		}
	}
	a, err := activity.New(behavior.ID(d.ID), policy, children, opts)
	if err != nil {
		b.fail(err)
		return nil
	}
	return a
}

// strategy builds a fresh strategy from d. It returns nil after recording
// an error.
func (b *builder) strategy(d *StrategyDef, where string) strategy.Strategy {
	var s strategy.Strategy
	switch d.Type {
	case "always":
		s = strategy.Always()
	case "never":
		s = strategy.Never()
	case "timer":
		s = strategy.NewTimer(d.After.Std())
	case "need":
		if d.Need == "" || len(d.Brackets) == 0 {
			b.fail(fmt.Errorf("%w: %s: need strategy needs need and brackets", ErrMissingField, where))
			return nil
		}
		s = strategy.NewNeedBracket(d.Need, d.Brackets...)
	case "latched":
		if len(d.Tags) == 0 {
			b.fail(fmt.Errorf("%w: %s: latched strategy needs tags", ErrMissingField, where))
			return nil
		}
		family := event.Inbound
		if d.Family != "" {
			f, err := event.ParseFamily(d.Family)
			if err != nil {
				b.fail(fmt.Errorf("%s: %w", where, err))
				return nil
			}
			family = f
		}
		tags := make([]event.Tag, len(d.Tags))
		for i, t := range d.Tags {
			tags[i] = event.Tag(t)
		}
		s = strategy.NewLatched(family, tags, nil)
	case "expr":
		if d.Start == "" {
			b.fail(fmt.Errorf("%w: %s: expr strategy needs start", ErrMissingField, where))
			return nil
		}
		e, err := strategy.NewExpr(d.Start, d.End, b.logger)
		if err != nil {
			b.fail(fmt.Errorf("%s: %w", where, err))
			return nil
		}
		s = e
	case "all", "any":
		if len(d.Of) == 0 {
			b.fail(fmt.Errorf("%w: %s: %s strategy needs of", ErrMissingField, where, d.Type))
			return nil
		}
		var parts []strategy.Strategy
		for i := range d.Of {
			part := b.strategy(&d.Of[i], where)
			if part == nil {
				return nil
			}
			parts = append(parts, part)
		}
		if d.Type == "all" {
			s = strategy.AllOf(parts...)
		} else {
			s = strategy.AnyOf(parts...)
		}
	case "":
		b.fail(fmt.Errorf("%w: %s: strategy type", ErrMissingField, where))
		return nil
	default:
		b.fail(fmt.Errorf("%w: %s: strategy %q", ErrUnknownType, where, d.Type))
		return nil
	}
	if c := d.Cooldown; c != nil {
		s = strategy.WithCooldown(s, strategy.CooldownConfig{
			Base:            c.Base.Std(),
			Jitter:          c.Jitter.Std(),
			StartInCooldown: c.StartInCooldown,
		})
	}
	return s
}

func (b *builder) conds(groups [][]CondDef, where string) ([][]*planner.Cond, bool) {
	out := make([][]*planner.Cond, 0, len(groups))
	ok := true
	for _, group := range groups {
		var conds []*planner.Cond
		for _, c := range group {
			if c.Key == "" {
				b.fail(fmt.Errorf("%w: %s: condition key", ErrMissingField, where))
				ok = false
				continue
			}
			if c.Match == "" {
				conds = append(conds, planner.Equal(c.Key, c.Equals))
				continue
			}
			m, err := planner.Match(c.Key, c.Match)
			if err != nil {
				b.fail(fmt.Errorf("%s: %w", where, err))
				ok = false
				continue
			}
			conds = append(conds, m)
		}
		out = append(out, conds)
	}
	return out, ok
}

func (b *builder) actions(bb *blackboard.Blackboard) []*planner.Action {
	var out []*planner.Action
	seen := make(map[string]bool, len(b.defs.Actions))
	for i, d := range b.defs.Actions {
		if d.Name == "" {
			b.fail(fmt.Errorf("%w: actions[%d].name", ErrMissingField, i))
			continue
		}
		if seen[d.Name] {
			b.fail(fmt.Errorf("%w: action %q", ErrDuplicateID, d.Name))
			continue
		}
		seen[d.Name] = true
		if len(d.Effects) == 0 {
			b.fail(fmt.Errorf("%w: action %q needs effects", ErrMissingField, d.Name))
			continue
		}
		pre, ok := b.conds(d.Pre, "action "+d.Name)
		if !ok {
			continue
		}
		var effects []planner.Effect
		for _, key := range slices.Sorted(maps.Keys(d.Effects)) {
			effects = append(effects, planner.Effect{Name: key, To: d.Effects[key]})
		}
		out = append(out, planner.NewAction(d.Name, bb, pre, effects, d.Duration))
	}
	return out
}

func (b *builder) reactions() []reaction.Entry {
	var entries []reaction.Entry
	complete := true
	for i, d := range b.defs.Reactions {
		name := d.Name
		if name == "" {
			name = fmt.Sprintf("reactions[%d]", i)
		}
		e := reaction.Entry{
			Name:              d.Name,
			Resume:            d.Resume,
			CanInterruptOther: d.CanInterruptOther,
			CanInterruptSelf:  d.CanInterruptSelf,
		}
		if d.Trigger == nil {
			b.fail(fmt.Errorf("%w: reaction %s trigger", ErrMissingField, name))
			complete = false
		} else {
			e.Trigger = reaction.Trigger(*d.Trigger)
		}
		if d.Behavior == "" {
			b.fail(fmt.Errorf("%w: reaction %s behavior", ErrMissingField, name))
		} else {
			e.Behavior = b.node(d.Behavior, name)
		}
		if d.Strategy == nil {
			b.fail(fmt.Errorf("%w: reaction %s strategy", ErrMissingField, name))
		} else {
			e.Strategy = b.strategy(d.Strategy, "reaction "+name)
		}
		if e.Behavior == nil || e.Strategy == nil {
			complete = false
		}
		entries = append(entries, e)
	}
	if complete && len(entries) > 0 {
		// the table checks trigger density; the scheduler builds its own
		discard := slog.New(slog.DiscardHandler)
		if _, err := reaction.NewTable(slices.Clone(entries), contract.New(discard), discard); err != nil {
			b.fail(err)
		}
	}
	return entries
}
