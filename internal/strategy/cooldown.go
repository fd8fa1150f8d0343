package strategy

import (
	"time"

	"github.com/joeycumines/conduct/internal/event"
	"github.com/joeycumines/conduct/internal/rng"
)

// Cooldown gates a wrapped strategy behind a minimum delay after its owner
// deactivates: nextReady = deactivation time + base + uniform(0, jitter).
//
// The deadline is only computed on owner deactivation, or on the first
// evaluation of a strategy configured to start in cooldown. Leaving and
// re-entering scope does not clear it.
type Cooldown struct {
	inner           Strategy
	base            time.Duration
	jitter          time.Duration
	startInCooldown bool

	primed    bool
	armed     bool
	nextReady time.Duration
}

// CooldownConfig configures a Cooldown.
type CooldownConfig struct {
	Base   time.Duration
	Jitter time.Duration
	// StartInCooldown suppresses the very first evaluation and arms the
	// cooldown from that moment, as if the owner had just deactivated.
	StartInCooldown bool
}

// WithCooldown wraps inner.
func WithCooldown(inner Strategy, cfg CooldownConfig) *Cooldown {
	if inner == nil {
		panic("strategy.WithCooldown: inner strategy cannot be nil")
	}
	return &Cooldown{
		inner:           inner,
		base:            cfg.Base,
		jitter:          cfg.Jitter,
		startInCooldown: cfg.StartInCooldown,
	}
}

func (c *Cooldown) arm(env Env) {
	c.armed = true
	c.nextReady = env.Now() + c.base
	if c.jitter > 0 {
		c.nextReady += time.Duration(rng.Range(env.Rand(), 0, float64(c.jitter)))
	}
}

// Name implements Strategy.
func (c *Cooldown) Name() string { return "cooldown(" + c.inner.Name() + ")" }

// Subscriptions implements Strategy.
func (c *Cooldown) Subscriptions() []event.Subscription { return c.inner.Subscriptions() }

// HandleEvent implements Strategy.
func (c *Cooldown) HandleEvent(env Env, ev event.Event) { c.inner.HandleEvent(env, ev) }

// WantsToStart implements Strategy. The wrapped strategy is not consulted
// while cooling down.
func (c *Cooldown) WantsToStart(env Env) bool {
	if c.startInCooldown && !c.primed {
		c.primed = true
		c.arm(env)
		return false
	}
	c.primed = true
	if c.armed && env.Now() < c.nextReady {
		return false
	}
	return c.inner.WantsToStart(env)
}

// WantsToEnd implements Strategy.
func (c *Cooldown) WantsToEnd(env Env) bool { return c.inner.WantsToEnd(env) }

// Reset implements Strategy. Only the wrapped strategy is reset.
func (c *Cooldown) Reset(env Env) { c.inner.Reset(env) }

// OwnerActivated implements Strategy.
func (c *Cooldown) OwnerActivated(env Env) { c.inner.OwnerActivated(env) }

// OwnerDeactivated implements Strategy, arming the cooldown.
func (c *Cooldown) OwnerDeactivated(env Env) {
	c.arm(env)
	c.inner.OwnerDeactivated(env)
}

// CoolingDown reports whether the cooldown currently blocks the strategy.
func (c *Cooldown) CoolingDown(env Env) bool { return c.armed && env.Now() < c.nextReady }

// NextReady returns the deadline and whether one is armed.
func (c *Cooldown) NextReady() (time.Duration, bool) { return c.nextReady, c.armed }
