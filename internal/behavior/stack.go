package behavior

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joeycumines/conduct/internal/action"
)

// TransitionKind classifies a stack transition.
type TransitionKind uint8

const (
	Pushed TransitionKind = iota + 1
	Popped
	ActionStarted
	ActionFinished
)

func (k TransitionKind) String() string {
	switch k {
	case Pushed:
		return "push"
	case Popped:
		return "pop"
	case ActionStarted:
		return "action-start"
	case ActionFinished:
		return "action-end"
	default:
		return fmt.Sprintf("TransitionKind(%d)", uint8(k))
	}
}

// Transition describes one change to the stack.
type Transition struct {
	Tick     uint64
	At       time.Duration
	Kind     TransitionKind
	Behavior ID
	Parent   ID
	Depth    int
	Action   string
	Status   action.Status
}

// ActionCallback receives the completion of a delegated action.
type ActionCallback func(ctx *Context, c action.Completion)

type boundAction struct {
	id       action.ID
	name     string
	callback ActionCallback
	done     *action.Completion
}

type frame struct {
	b         Behavior
	delegates []Behavior
	allowed   map[Handle]struct{}
	action    *boundAction
}

// Stack is the ordered chain of activated behaviors, base at the bottom
// and the single running leaf on top. Each entry may hold either a child
// behavior or one action, never both. Stack is also the delegator: every
// change in control goes through its methods.
type Stack struct {
	ctx     *Context
	frames  []*frame
	index   map[Handle]int
	actions map[action.ID]*frame
}

// Start brings base into scope and activates it as the stack's root.
func (s *Stack) Start(base Behavior) error {
	if len(s.frames) != 0 {
		return ErrStackStarted
	}
	base.EnterActivatableScope(s.ctx)
	if !base.WantsToBeActivated(s.ctx) {
		base.LeaveActivatableScope(s.ctx)
		return ErrBaseRejected
	}
	s.push(base, nil)
	return nil
}

// Stop unwinds the whole stack, base included.
func (s *Stack) Stop() {
	if len(s.frames) == 0 {
		return
	}
	base := s.frames[0].b
	base.Deactivate(s.ctx)
	s.removeTop()
	base.LeaveActivatableScope(s.ctx)
}

func (s *Stack) push(b Behavior, parent Behavior) {
	f := &frame{b: b, delegates: b.GetAllDelegates()}
	f.allowed = make(map[Handle]struct{}, len(f.delegates))
	for _, d := range f.delegates {
		f.allowed[d.Handle()] = struct{}{}
	}
	s.index[b.Handle()] = len(s.frames)
	s.frames = append(s.frames, f)
	for _, d := range f.delegates {
		d.EnterActivatableScope(s.ctx)
	}
	t := Transition{Kind: Pushed, Behavior: b.ID(), Depth: len(s.frames) - 1}
	if parent != nil {
		t.Parent = parent.ID()
	}
	s.ctx.observe(t)
	s.ctx.logger.Debug("delegated", slog.String("to", string(b.ID())), slog.Int("depth", t.Depth))
	b.Activate(s.ctx)
}

func (s *Stack) removeTop() {
	n := len(s.frames) - 1
	f := s.frames[n]
	if f.action != nil {
		s.cancelAction(f, false)
	}
	s.frames[n] = nil
	s.frames = s.frames[:n]
	delete(s.index, f.b.Handle())
	for _, d := range f.delegates {
		d.LeaveActivatableScope(s.ctx)
	}
	t := Transition{Kind: Popped, Behavior: f.b.ID(), Depth: n}
	if n > 0 {
		t.Parent = s.frames[n-1].b.ID()
	}
	s.ctx.observe(t)
}

// parentOf returns the behavior directly beneath b on the stack, or nil.
func (s *Stack) parentOf(b Behavior) Behavior {
	i, ok := s.index[b.Handle()]
	if !ok || i == 0 {
		return nil
	}
	return s.frames[i-1].b
}

// frameOf returns from's frame if from may delegate right now.
func (s *Stack) frameOf(from Behavior, what string) (*frame, bool) {
	i, ok := s.index[from.Handle()]
	if !ok {
		s.ctx.logger.Debug("delegation from a behavior not on the stack",
			slog.String("from", string(from.ID())), slog.String("op", what))
		return nil, false
	}
	f := s.frames[i]
	if i != len(s.frames)-1 || f.action != nil {
		s.ctx.checker.Violation(CodeDoubleDelegation, "delegated while control is already delegated",
			slog.String("from", string(from.ID())), slog.String("op", what))
		return nil, false
	}
	return f, true
}

// Delegate hands control from the top of the stack to one of its declared
// delegates. It returns false if from is not in control, to is not a
// declared in-scope delegate, or to already has control.
func (s *Stack) Delegate(from, to Behavior) bool {
	if to == nil {
		return false
	}
	if _, on := s.index[to.Handle()]; on {
		return false
	}
	f, ok := s.frameOf(from, "delegate")
	if !ok {
		return false
	}
	if _, ok := f.allowed[to.Handle()]; !ok {
		s.ctx.logger.Warn("delegate not declared",
			slog.String("from", string(from.ID())), slog.String("to", string(to.ID())))
		return false
	}
	if to.State() != InScope {
		return false
	}
	s.push(to, from)
	return true
}

// DelegateThen delegates and, once the delegate has left the stack without
// its callback being suppressed, calls cb on from's next update.
func (s *Stack) DelegateThen(from, to Behavior, cb func(ctx *Context)) bool {
	if !s.Delegate(from, to) {
		return false
	}
	from.base().onDelegateDone = cb
	return true
}

// DelegateNow cancels whatever from is running, without callbacks, and
// delegates to to.
func (s *Stack) DelegateNow(from, to Behavior) bool {
	s.CancelDelegates(from, false)
	return s.Delegate(from, to)
}

// DelegateAction starts a on behalf of from. cb, if not nil, is called once
// with the action's completion, either from the next update of from after
// it finished or synchronously when it is cancelled with callbacks allowed.
func (s *Stack) DelegateAction(from Behavior, a action.Action, cb ActionCallback) bool {
	if a == nil {
		return false
	}
	f, ok := s.frameOf(from, "delegate-action")
	if !ok {
		return false
	}
	id := s.ctx.actions.Start(a)
	f.action = &boundAction{id: id, name: a.Name(), callback: cb}
	s.actions[id] = f
	s.ctx.observe(Transition{
		Kind:     ActionStarted,
		Behavior: from.ID(),
		Depth:    s.index[from.Handle()],
		Action:   a.Name(),
		Status:   action.Running,
	})
	return true
}

// CancelDelegates stops everything from delegated to, deepest first.
// Callbacks registered by from run only if allowCallback. It returns true
// if anything was cancelled.
func (s *Stack) CancelDelegates(from Behavior, allowCallback bool) bool {
	i, ok := s.index[from.Handle()]
	if !ok {
		return false
	}
	if !allowCallback {
		from.base().onDelegateDone = nil
	}
	f := s.frames[i]
	cancelled := false
	if f.action != nil {
		s.cancelAction(f, allowCallback)
		cancelled = true
	}
	if len(s.frames) > i+1 {
		child := s.frames[i+1]
		// the child cancels its own delegates before it is popped
		child.b.Deactivate(s.ctx)
		for len(s.frames) > i+1 {
			s.removeTop()
		}
		cancelled = true
	}
	return cancelled
}

// CancelSelf ends node's run by cancelling its parent's delegates with
// callbacks allowed. The base cannot cancel itself.
func (s *Stack) CancelSelf(node Behavior) bool {
	i, ok := s.index[node.Handle()]
	if !ok || i == 0 {
		return false
	}
	return s.CancelDelegates(s.frames[i-1].b, true)
}

// evict takes node off the stack, and everything above it, without
// callbacks.
func (s *Stack) evict(node Behavior) {
	i, ok := s.index[node.Handle()]
	if !ok {
		return
	}
	if i > 0 {
		s.CancelDelegates(s.frames[i-1].b, false)
		return
	}
	s.Stop()
}

func (s *Stack) cancelAction(f *frame, allowCallback bool) {
	ba := f.action
	f.action = nil
	delete(s.actions, ba.id)
	var c action.Completion
	switch {
	case ba.done != nil:
		c = *ba.done
	default:
		if got, ok := s.ctx.actions.Cancel(ba.id); ok {
			c = got
		} else {
			c = action.Completion{ID: ba.id, Name: ba.name, Status: action.Cancelled}
		}
	}
	s.ctx.observe(Transition{Kind: ActionFinished, Behavior: f.b.ID(), Depth: s.index[f.b.Handle()], Action: ba.name, Status: c.Status})
	if allowCallback && ba.callback != nil {
		ba.callback(s.ctx, c)
	}
}

func (s *Stack) actionFinished(c action.Completion) {
	f, ok := s.actions[c.ID]
	if !ok || f.action == nil {
		return
	}
	f.action.done = &c
}

// deliverAction hands a finished action to its delegating behavior.
func (s *Stack) deliverAction(b Behavior) {
	i, ok := s.index[b.Handle()]
	if !ok {
		return
	}
	f := s.frames[i]
	if f.action == nil || f.action.done == nil {
		return
	}
	ba := f.action
	f.action = nil
	delete(s.actions, ba.id)
	s.ctx.observe(Transition{Kind: ActionFinished, Behavior: b.ID(), Depth: i, Action: ba.name, Status: ba.done.Status})
	if ba.callback != nil {
		ba.callback(s.ctx, *ba.done)
	}
}

// IsControlDelegated reports whether node has a child behavior or an action
// running beneath it.
func (s *Stack) IsControlDelegated(node Behavior) bool {
	i, ok := s.index[node.Handle()]
	if !ok {
		return false
	}
	return i < len(s.frames)-1 || s.frames[i].action != nil
}

// HasDelegator reports whether node is the top of the stack.
func (s *Stack) HasDelegator(node Behavior) bool {
	i, ok := s.index[node.Handle()]
	return ok && i == len(s.frames)-1
}

// CanDelegate reports whether node may delegate right now.
func (s *Stack) CanDelegate(node Behavior) bool {
	return s.HasDelegator(node) && !s.IsControlDelegated(node)
}

// Contains reports whether node is on the stack.
func (s *Stack) Contains(node Behavior) bool {
	_, ok := s.index[node.Handle()]
	return ok
}

// Depth returns node's position, base at 0, or -1.
func (s *Stack) Depth(node Behavior) int {
	if i, ok := s.index[node.Handle()]; ok {
		return i
	}
	return -1
}

// Len returns the number of behaviors on the stack.
func (s *Stack) Len() int { return len(s.frames) }

// Base returns the bottom of the stack, or nil.
func (s *Stack) Base() Behavior {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[0].b
}

// Top returns the running leaf behavior, or nil.
func (s *Stack) Top() Behavior {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1].b
}

// At returns the behavior at depth i.
func (s *Stack) At(i int) Behavior { return s.frames[i].b }

// Child returns the behavior node delegated to, or nil.
func (s *Stack) Child(node Behavior) Behavior {
	i, ok := s.index[node.Handle()]
	if !ok || i+1 >= len(s.frames) {
		return nil
	}
	return s.frames[i+1].b
}

// Behaviors returns the stack from the base up.
func (s *Stack) Behaviors() []Behavior {
	out := make([]Behavior, len(s.frames))
	for i, f := range s.frames {
		out[i] = f.b
	}
	return out
}

// IDs returns the stack's IDs from the base up.
func (s *Stack) IDs() []ID {
	out := make([]ID, len(s.frames))
	for i, f := range s.frames {
		out[i] = f.b.ID()
	}
	return out
}

// ActionOf returns the name of the action node is running.
func (s *Stack) ActionOf(node Behavior) (string, bool) {
	i, ok := s.index[node.Handle()]
	if !ok || s.frames[i].action == nil {
		return "", false
	}
	return s.frames[i].action.name, true
}

// Validate checks that exactly one leaf exists, that only the top holds an
// action, and that every entry is activated.
func (s *Stack) Validate() error {
	for i, f := range s.frames {
		if f.b.State() != Activated {
			return fmt.Errorf("%s: %q on stack in state %s", CodeStackCorrupt, f.b.ID(), f.b.State())
		}
		if f.action != nil && i != len(s.frames)-1 {
			return fmt.Errorf("%s: %q holds an action beneath a child", CodeStackCorrupt, f.b.ID())
		}
		if s.index[f.b.Handle()] != i {
			return fmt.Errorf("%s: index mismatch for %q", CodeStackCorrupt, f.b.ID())
		}
		if i > 0 {
			if _, ok := s.frames[i-1].allowed[f.b.Handle()]; !ok {
				return fmt.Errorf("%s: %q is not a delegate of %q", CodeStackCorrupt, f.b.ID(), s.frames[i-1].b.ID())
			}
		}
	}
	return nil
}
