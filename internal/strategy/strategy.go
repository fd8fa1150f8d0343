// Package strategy implements the predicates behaviors and activities use to
// decide when something should start or stop running.
//
// A Strategy never mutates scheduling state. Its only side effects are on
// its own interior state (latched flags, timers, cooldown deadlines), and
// those change only inside HandleEvent, the evaluation calls and the owner
// lifecycle notifications, so that the same event sequence always produces
// the same decisions.
package strategy

import (
	"time"

	"github.com/joeycumines/conduct/internal/condition"
	"github.com/joeycumines/conduct/internal/event"
	"github.com/joeycumines/conduct/internal/rng"
)

// Queries is the read-only view of world, mood and need state.
type Queries interface {
	condition.Queries
}

// Env is what a strategy may consult while evaluating.
type Env interface {
	Now() time.Duration
	Tick() uint64
	Rand() rng.Source
	Queries() Queries
}

// Strategy is a readiness predicate.
type Strategy interface {
	Name() string
	// Subscriptions lists the events the strategy wants routed to
	// HandleEvent. It must not change after construction.
	Subscriptions() []event.Subscription
	HandleEvent(env Env, ev event.Event)
	WantsToStart(env Env) bool
	WantsToEnd(env Env) bool
	// Reset is called when the owner enters activatable scope.
	Reset(env Env)
	OwnerActivated(env Env)
	OwnerDeactivated(env Env)
}

// Nop provides no-op defaults for the optional parts of Strategy. Embed it
// and implement WantsToStart.
type Nop struct {
	Label string
}

// Name implements Strategy.
func (n *Nop) Name() string { return n.Label }

// Subscriptions implements Strategy.
func (*Nop) Subscriptions() []event.Subscription { return nil }

// HandleEvent implements Strategy.
func (*Nop) HandleEvent(Env, event.Event) {}

// WantsToEnd implements Strategy.
func (*Nop) WantsToEnd(Env) bool { return false }

// Reset implements Strategy.
func (*Nop) Reset(Env) {}

// OwnerActivated implements Strategy.
func (*Nop) OwnerActivated(Env) {}

// OwnerDeactivated implements Strategy.
func (*Nop) OwnerDeactivated(Env) {}

// Matches reports whether ev falls within subs.
func Matches(subs []event.Subscription, ev event.Event) bool {
	for _, s := range subs {
		if s.Family != ev.Family {
			continue
		}
		for _, tag := range s.Tags {
			if tag == ev.Tag {
				return true
			}
		}
	}
	return false
}

// Constant always answers the same way.
type Constant struct {
	Nop
	value bool
}

// Always returns a strategy that always wants to start and never to end.
func Always() *Constant { return &Constant{Nop: Nop{Label: "always"}, value: true} }

// Never returns a strategy that never wants to start and always wants to end.
func Never() *Constant { return &Constant{Nop: Nop{Label: "never"}, value: false} }

// WantsToStart implements Strategy.
func (c *Constant) WantsToStart(Env) bool { return c.value }

// WantsToEnd implements Strategy.
func (c *Constant) WantsToEnd(Env) bool { return !c.value }

// Timer is ready once a fixed duration has elapsed since it was last reset.
type Timer struct {
	Nop
	after   time.Duration
	started time.Duration
}

// NewTimer returns a Timer that becomes ready after d.
func NewTimer(d time.Duration) *Timer {
	return &Timer{Nop: Nop{Label: "timer"}, after: d}
}

// Reset implements Strategy.
func (t *Timer) Reset(env Env) { t.started = env.Now() }

// WantsToStart implements Strategy.
func (t *Timer) WantsToStart(env Env) bool { return env.Now()-t.started >= t.after }

// NeedBracket is ready while a need is classified in one of a set of
// brackets, and wants to end as soon as it leaves them.
type NeedBracket struct {
	Nop
	need     string
	brackets map[string]struct{}
}

// NewNeedBracket returns a NeedBracket on need for the given brackets.
func NewNeedBracket(need string, brackets ...string) *NeedBracket {
	set := make(map[string]struct{}, len(brackets))
	for _, b := range brackets {
		set[b] = struct{}{}
	}
	return &NeedBracket{Nop: Nop{Label: "need:" + need}, need: need, brackets: set}
}

func (n *NeedBracket) in(env Env) bool {
	_, ok := n.brackets[env.Queries().NeedBracket(n.need)]
	return ok
}

// WantsToStart implements Strategy.
func (n *NeedBracket) WantsToStart(env Env) bool { return n.in(env) }

// WantsToEnd implements Strategy.
func (n *NeedBracket) WantsToEnd(env Env) bool { return !n.in(env) }
