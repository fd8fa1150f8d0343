package strategy

import (
	"strings"

	"github.com/joeycumines/conduct/internal/event"
)

type composite struct {
	children []Strategy
	subs     []event.Subscription
}

func newComposite(children []Strategy) composite {
	c := composite{children: children}
	for _, s := range children {
		c.subs = append(c.subs, s.Subscriptions()...)
	}
	return c
}

func (c *composite) name(op string) string {
	names := make([]string, len(c.children))
	for i, s := range c.children {
		names[i] = s.Name()
	}
	return op + "(" + strings.Join(names, ",") + ")"
}

func (c *composite) Subscriptions() []event.Subscription { return c.subs }

func (c *composite) HandleEvent(env Env, ev event.Event) {
	for _, s := range c.children {
		if Matches(s.Subscriptions(), ev) {
			s.HandleEvent(env, ev)
		}
	}
}

func (c *composite) Reset(env Env) {
	for _, s := range c.children {
		s.Reset(env)
	}
}

func (c *composite) OwnerActivated(env Env) {
	for _, s := range c.children {
		s.OwnerActivated(env)
	}
}

func (c *composite) OwnerDeactivated(env Env) {
	for _, s := range c.children {
		s.OwnerDeactivated(env)
	}
}

// All is ready when every child is. Children are evaluated in order and
// evaluation stops at the first that is not ready, so a later child's latch
// survives until it is actually asked.
type All struct{ composite }

// AllOf returns an All over children.
func AllOf(children ...Strategy) *All { return &All{newComposite(children)} }

// Name implements Strategy.
func (a *All) Name() string { return a.name("all") }

// WantsToStart implements Strategy.
func (a *All) WantsToStart(env Env) bool {
	for _, s := range a.children {
		if !s.WantsToStart(env) {
			return false
		}
	}
	return true
}

// WantsToEnd implements Strategy. Any child wanting to end is enough.
func (a *All) WantsToEnd(env Env) bool {
	for _, s := range a.children {
		if s.WantsToEnd(env) {
			return true
		}
	}
	return false
}

// Any is ready when at least one child is, evaluated in order.
type Any struct{ composite }

// AnyOf returns an Any over children.
func AnyOf(children ...Strategy) *Any { return &Any{newComposite(children)} }

// Name implements Strategy.
func (a *Any) Name() string { return a.name("any") }

// WantsToStart implements Strategy.
func (a *Any) WantsToStart(env Env) bool {
	for _, s := range a.children {
		if s.WantsToStart(env) {
			return true
		}
	}
	return false
}

// WantsToEnd implements Strategy. Every child must want to end.
func (a *Any) WantsToEnd(env Env) bool {
	if len(a.children) == 0 {
		return false
	}
	for _, s := range a.children {
		if !s.WantsToEnd(env) {
			return false
		}
	}
	return true
}
