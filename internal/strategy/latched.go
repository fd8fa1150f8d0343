package strategy

import (
	"github.com/joeycumines/conduct/internal/event"
)

// Latched becomes ready when a subscribed event arrives and stays ready until
// the next evaluation consumes the latch. Any number of events between two
// evaluations set a single latch.
type Latched struct {
	Nop
	subs   []event.Subscription
	accept func(env Env, ev event.Event) bool
	latch  bool
}

// NewLatched latches on any of tags in family. accept, if non-nil, decides
// per event whether it latches.
func NewLatched(family event.Family, tags []event.Tag, accept func(Env, event.Event) bool) *Latched {
	return &Latched{
		Nop:    Nop{Label: "latched"},
		subs:   []event.Subscription{{Family: family, Tags: tags}},
		accept: accept,
	}
}

// Subscriptions implements Strategy.
func (l *Latched) Subscriptions() []event.Subscription { return l.subs }

// HandleEvent implements Strategy.
func (l *Latched) HandleEvent(env Env, ev event.Event) {
	if l.accept == nil || l.accept(env, ev) {
		l.latch = true
	}
}

// WantsToStart implements Strategy. It consumes the latch.
func (l *Latched) WantsToStart(Env) bool {
	r := l.latch
	l.latch = false
	return r
}

// Reset implements Strategy.
func (l *Latched) Reset(Env) { l.latch = false }

// Pending reports whether a latch is waiting to be consumed.
func (l *Latched) Pending() bool { return l.latch }

// Generic combines an event filter and callback with a fallback poll.
type Generic struct {
	Nop
	subs    []event.Subscription
	OnEvent func(env Env, ev event.Event) bool
	Poll    func(env Env) bool
	End     func(env Env) bool
	latch   bool
}

// NewGeneric returns a Generic named name. Set OnEvent, Poll and End as
// required; unset functions behave as false.
func NewGeneric(name string, subs ...event.Subscription) *Generic {
	return &Generic{Nop: Nop{Label: name}, subs: subs}
}

// Subscriptions implements Strategy.
func (g *Generic) Subscriptions() []event.Subscription { return g.subs }

// HandleEvent implements Strategy.
func (g *Generic) HandleEvent(env Env, ev event.Event) {
	if g.OnEvent != nil && g.OnEvent(env, ev) {
		g.latch = true
	}
}

// WantsToStart implements Strategy. A pending latch is consumed first; the
// poll function is only consulted without one.
func (g *Generic) WantsToStart(env Env) bool {
	if g.latch {
		g.latch = false
		return true
	}
	return g.Poll != nil && g.Poll(env)
}

// WantsToEnd implements Strategy.
func (g *Generic) WantsToEnd(env Env) bool { return g.End != nil && g.End(env) }

// Reset implements Strategy.
func (g *Generic) Reset(Env) { g.latch = false }
