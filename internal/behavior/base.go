package behavior

import (
	"log/slog"
	"time"

	"github.com/joeycumines/conduct/internal/event"
	"github.com/joeycumines/conduct/internal/strategy"
)

// Base carries the lifecycle bookkeeping shared by every node. Embed it by
// value and construct it with NewBase.
type Base struct {
	id     ID
	self   Behavior
	handle Handle
	state  ActivationState
	scope  int

	subs       []event.Subscription
	attached   []strategy.Strategy
	gates      []strategy.Strategy
	lifecycle  []binding
	subscribed bool

	askTick   uint64
	askValid  bool
	askResult bool

	updateTick uint64
	updated    bool

	activatedAt   time.Duration
	deactivatedAt time.Duration
	activations   int

	onDelegateDone func(ctx *Context)
}

// NewBase returns a Base for the node identified by id, subscribed to subs.
func NewBase(id ID, subs ...event.Subscription) Base {
	return Base{id: id, subs: subs}
}

func (b *Base) base() *Base { return b }

// ID returns the configured identifier.
func (b *Base) ID() ID { return b.id }

// Handle returns the node's handle in its container, or the zero Handle.
func (b *Base) Handle() Handle { return b.handle }

// State returns the current lifecycle state.
func (b *Base) State() ActivationState { return b.state }

// ActivatedAt returns when the node was last activated.
func (b *Base) ActivatedAt() time.Duration { return b.activatedAt }

// LastDeactivatedAt returns when the node was last deactivated.
func (b *Base) LastDeactivatedAt() time.Duration { return b.deactivatedAt }

// ActivationCount returns how many times the node has been activated.
func (b *Base) ActivationCount() int { return b.activations }

// Subscriptions returns the node's own subscriptions.
func (b *Base) Subscriptions() []event.Subscription { return b.subs }

// AttachStrategy routes matching events to s while the node is in scope and
// resets s whenever the node enters scope. It must be called before Init.
func (b *Base) AttachStrategy(s strategy.Strategy) {
	if s == nil {
		panic("behavior: nil strategy")
	}
	if b.state != NotInitialized {
		panic("behavior: " + string(CodeAttachAfterInit) + ": " + string(b.id))
	}
	b.attached = append(b.attached, s)
}

// AddGate attaches s and makes WantsToBeActivated require s.WantsToStart.
func (b *Base) AddGate(s strategy.Strategy) {
	b.AttachStrategy(s)
	b.gates = append(b.gates, s)
}

// Gates returns the strategies added with AddGate.
func (b *Base) Gates() []strategy.Strategy { return b.gates }

type binding struct {
	owner    Behavior
	strategy strategy.Strategy
}

// BindLifecycle notifies s whenever this node is activated or deactivated
// directly beneath owner. s is usually attached to owner, such as the
// activity that chose this one. A node shared by several owners only
// notifies the strategies bound by the owner it runs under.
func (b *Base) BindLifecycle(owner Behavior, s strategy.Strategy) {
	if owner == nil || s == nil {
		panic("behavior: nil lifecycle owner or strategy")
	}
	b.lifecycle = append(b.lifecycle, binding{owner: owner, strategy: s})
}

// Hook defaults.

func (*Base) InitBehavior(*Context) error              { return nil }
func (*Base) OnEnteredScope(*Context)                  {}
func (*Base) OnLeftScope(*Context)                     {}
func (*Base) WantsToBeActivatedBehavior(*Context) bool { return true }
func (*Base) OnBehaviorActivated(*Context)             {}
func (*Base) OnBehaviorDeactivated(*Context)           {}
func (*Base) BehaviorUpdate(*Context)                  {}
func (*Base) HandleEvent(*Context, event.Event)        {}
func (*Base) GetAllDelegates() []Behavior              { return nil }

func (b *Base) attrs() slog.Attr { return slog.String("behavior", string(b.id)) }

// Init moves the node out of NotInitialized and registers its subscriptions.
func (b *Base) Init(ctx *Context) error {
	if b.state != NotInitialized {
		ctx.checker.Violation(CodeInitTwice, "behavior initialized twice", b.attrs())
		return ErrAlreadyInitialized
	}
	if err := b.self.InitBehavior(ctx); err != nil {
		return err
	}
	id := b.handle.subscriber()
	for _, sub := range b.subs {
		ctx.gateway.Subscribe(id, sub.Family, sub.Tags...)
		b.subscribed = true
	}
	for _, s := range b.attached {
		for _, sub := range s.Subscriptions() {
			ctx.gateway.Subscribe(id, sub.Family, sub.Tags...)
			b.subscribed = true
		}
	}
	b.state = OutOfScope
	return nil
}

// EnterActivatableScope adds one scope reference. The first reference moves
// the node to InScope.
func (b *Base) EnterActivatableScope(ctx *Context) {
	if b.state == NotInitialized {
		ctx.checker.Violation(CodeNotInitialized, "entered scope before init", b.attrs())
		return
	}
	b.scope++
	if b.scope > 1 {
		return
	}
	b.state = InScope
	b.askValid = false
	b.updated = false
	if b.subscribed {
		ctx.gateway.SetInScope(b.handle.subscriber(), true)
	}
	for _, s := range b.attached {
		s.Reset(ctx)
	}
	b.self.OnEnteredScope(ctx)
}

// LeaveActivatableScope drops one scope reference. The last reference moves
// the node to OutOfScope.
func (b *Base) LeaveActivatableScope(ctx *Context) {
	if b.scope == 0 {
		ctx.checker.Violation(CodeScopeUnderflow, "left scope more often than entered", b.attrs())
		return
	}
	b.scope--
	if b.scope > 0 {
		return
	}
	if b.state == Activated {
		ctx.checker.Violation(CodeLeftScopeWhileActive, "left scope while activated", b.attrs())
		ctx.stack.evict(b.self)
	}
	b.state = OutOfScope
	if b.subscribed {
		ctx.gateway.SetInScope(b.handle.subscriber(), false)
	}
	b.self.OnLeftScope(ctx)
}

// WantsToBeActivated consults every gate, in attachment order, then the
// node's own hook. The answer is remembered for Activate on the same tick.
func (b *Base) WantsToBeActivated(ctx *Context) bool {
	result := b.state == InScope || b.state == Activated
	if result {
		for _, g := range b.gates {
			if !g.WantsToStart(ctx) {
				result = false
				break
			}
		}
	}
	if result {
		result = b.self.WantsToBeActivatedBehavior(ctx)
	}
	b.askTick, b.askValid, b.askResult = ctx.tick, true, result
	return result
}

// Activate moves the node to Activated. It is only valid in the tick in
// which WantsToBeActivated returned true.
func (b *Base) Activate(ctx *Context) {
	switch b.state {
	case InScope:
	case Activated:
		ctx.checker.Violation(CodeDoubleActivation, "activated while already active", b.attrs())
		return
	default:
		ctx.checker.Violation(CodeActivateOutOfScope, "activated while out of scope", b.attrs(), slog.String("state", b.state.String()))
		return
	}
	if !b.askValid || b.askTick != ctx.tick || !b.askResult {
		ctx.checker.Violation(CodeActivationWithoutAsk, "activated without a same-tick WantsToBeActivated", b.attrs())
	}
	b.askValid = false
	b.state = Activated
	b.activatedAt = ctx.Now()
	b.activations++
	b.onDelegateDone = nil
	if len(b.lifecycle) != 0 {
		parent := ctx.stack.parentOf(b.self)
		for _, l := range b.lifecycle {
			if l.owner == parent {
				l.strategy.OwnerActivated(ctx)
			}
		}
	}
	b.self.OnBehaviorActivated(ctx)
}

// Deactivate cancels everything the node delegated to, then moves it back
// to InScope.
func (b *Base) Deactivate(ctx *Context) {
	if b.state != Activated {
		ctx.checker.Violation(CodeDeactivateInactive, "deactivated while not active", b.attrs())
		return
	}
	ctx.stack.CancelDelegates(b.self, false)
	b.deactivate(ctx)
}

func (b *Base) deactivate(ctx *Context) {
	b.self.OnBehaviorDeactivated(ctx)
	b.state = InScope
	b.deactivatedAt = ctx.Now()
	b.onDelegateDone = nil
	if len(b.lifecycle) != 0 {
		parent := ctx.stack.parentOf(b.self)
		for _, l := range b.lifecycle {
			if l.owner == parent {
				l.strategy.OwnerDeactivated(ctx)
			}
		}
	}
}

// Update runs once per tick for every in-scope node. An activated node
// first receives finished action and delegate callbacks.
func (b *Base) Update(ctx *Context) {
	if b.state != InScope && b.state != Activated {
		ctx.checker.Violation(CodeUpdateOutOfScope, "updated while out of scope", b.attrs())
		return
	}
	if b.updated {
		switch {
		case b.updateTick == ctx.tick:
			ctx.checker.Violation(CodeDuplicateUpdate, "updated twice in one tick", b.attrs(), slog.Uint64("tick", ctx.tick))
			return
		case b.updateTick+1 < ctx.tick:
			ctx.checker.Violation(CodeSkippedUpdate, "update skipped a tick", b.attrs(),
				slog.Uint64("last", b.updateTick), slog.Uint64("tick", ctx.tick))
		}
	}
	b.updated, b.updateTick = true, ctx.tick
	if b.state != Activated {
		return
	}
	ctx.stack.deliverAction(b.self)
	if b.state == Activated && b.onDelegateDone != nil && !ctx.stack.IsControlDelegated(b.self) {
		cb := b.onDelegateDone
		b.onDelegateDone = nil
		cb(ctx)
	}
	if b.state == Activated {
		b.self.BehaviorUpdate(ctx)
	}
}

// UpdatedThisTick reports whether Update already ran during the current
// tick of ctx.
func (b *Base) UpdatedThisTick(ctx *Context) bool {
	return b.updated && b.updateTick == ctx.tick
}

func (b *Base) dispatch(ctx *Context, ev event.Event) {
	for _, s := range b.attached {
		if strategy.Matches(s.Subscriptions(), ev) {
			s.HandleEvent(ctx, ev)
		}
	}
	if strategy.Matches(b.subs, ev) {
		b.self.HandleEvent(ctx, ev)
	}
}
