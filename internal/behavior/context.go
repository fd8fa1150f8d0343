package behavior

import (
	"log/slog"
	"time"

	"github.com/joeycumines/conduct/internal/action"
	"github.com/joeycumines/conduct/internal/clock"
	"github.com/joeycumines/conduct/internal/contract"
	"github.com/joeycumines/conduct/internal/event"
	"github.com/joeycumines/conduct/internal/rng"
	"github.com/joeycumines/conduct/internal/strategy"
)

// Options configures a Context. Nil fields get defaults.
type Options struct {
	Clock   clock.Clock
	Rand    rng.Source
	Queries strategy.Queries
	Checker *contract.Checker
	Logger  *slog.Logger
	Gateway *event.Gateway
	Actions *action.Runner
	// Observer, when set, is told about every stack transition.
	Observer func(Transition)
}

// Context is the per-agent world handed to every lifecycle method. It is
// owned by the tick goroutine.
type Context struct {
	tick     uint64
	clock    clock.Clock
	rand     rng.Source
	queries  strategy.Queries
	checker  *contract.Checker
	logger   *slog.Logger
	gateway  *event.Gateway
	actions  *action.Runner
	observer func(Transition)

	container *Container
	stack     *Stack
	rejected  map[Handle]struct{}
}

// NewContext returns a Context with an empty container and stack.
func NewContext(opts Options) *Context {
	c := &Context{
		clock:    opts.Clock,
		rand:     opts.Rand,
		queries:  opts.Queries,
		checker:  opts.Checker,
		logger:   opts.Logger,
		gateway:  opts.Gateway,
		actions:  opts.Actions,
		observer: opts.Observer,
		rejected: make(map[Handle]struct{}),
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.clock == nil {
		c.clock = clock.NewManual(0)
	}
	if c.rand == nil {
		c.rand = rng.New(0)
	}
	if c.queries == nil {
		c.queries = noQueries{}
	}
	if c.checker == nil {
		c.checker = contract.New(c.logger)
	}
	if c.gateway == nil {
		c.gateway = event.NewGateway()
	}
	if c.actions == nil {
		c.actions = action.NewRunner(c.logger)
	}
	c.container = NewContainer()
	c.stack = &Stack{ctx: c, index: make(map[Handle]int), actions: make(map[action.ID]*frame)}
	return c
}

// Tick returns the current tick number. The first tick is 1.
func (c *Context) Tick() uint64 { return c.tick }

// Now returns the clock reading.
func (c *Context) Now() time.Duration { return c.clock.Now() }

// Rand returns the random source.
func (c *Context) Rand() rng.Source { return c.rand }

// Queries returns the world view.
func (c *Context) Queries() strategy.Queries { return c.queries }

func (c *Context) Logger() *slog.Logger          { return c.logger }
func (c *Context) Checker() *contract.Checker    { return c.checker }
func (c *Context) Gateway() *event.Gateway       { return c.gateway }
func (c *Context) Actions() *action.Runner       { return c.actions }
func (c *Context) Container() *Container         { return c.container }
func (c *Context) Stack() *Stack                 { return c.stack }
func (c *Context) Clock() clock.Clock            { return c.clock }
func (c *Context) SetQueries(q strategy.Queries) { c.queries = q }

// BeginTick advances the tick counter and forgets the previous tick's
// rejections.
func (c *Context) BeginTick() uint64 {
	c.tick++
	clear(c.rejected)
	return c.tick
}

// Reject marks b as unable to run for the rest of this tick.
func (c *Context) Reject(b Behavior) { c.rejected[b.Handle()] = struct{}{} }

// Rejected reports whether b was rejected this tick.
func (c *Context) Rejected(b Behavior) bool {
	_, ok := c.rejected[b.Handle()]
	return ok
}

// Deliver routes ev to the node behind id.
func (c *Context) Deliver(id event.SubscriberID, ev event.Event) {
	b, ok := c.container.Resolve(handleOf(id))
	if !ok {
		c.logger.Debug("event for unknown subscriber", slog.String("tag", string(ev.Tag)))
		return
	}
	if s := b.State(); s != InScope && s != Activated {
		return
	}
	b.base().dispatch(c, ev)
}

// DrainEvents delivers every queued event.
func (c *Context) DrainEvents() int { return c.gateway.Drain(c) }

// UpdateActions steps the action runner and records what finished.
func (c *Context) UpdateActions() []action.Completion {
	done := c.actions.Update()
	for _, d := range done {
		c.stack.actionFinished(d)
	}
	return done
}

// UpdateAll updates every in-scope node exactly once this tick, stack
// nodes first from the base down. Nodes brought into scope by earlier
// updates are picked up by further passes.
func (c *Context) UpdateAll() int {
	n := 0
	for {
		progressed := false
		for _, b := range c.stack.Behaviors() {
			if c.needsUpdate(b) {
				b.Update(c)
				n++
				progressed = true
			}
		}
		for _, b := range c.container.All() {
			if c.needsUpdate(b) {
				b.Update(c)
				n++
				progressed = true
			}
		}
		if !progressed {
			return n
		}
	}
}

func (c *Context) needsUpdate(b Behavior) bool {
	base := b.base()
	if base.state != InScope && base.state != Activated {
		return false
	}
	return !base.UpdatedThisTick(c)
}

func (c *Context) observe(t Transition) {
	t.Tick = c.tick
	t.At = c.Now()
	if c.observer != nil {
		c.observer(t)
	}
}

type noQueries struct{}

func (noQueries) NeedBracket(string) string   { return "" }
func (noQueries) Mood(string) float64         { return 0 }
func (noQueries) ObjectCount(string) int      { return 0 }
func (noQueries) Variable(string) (any, bool) { return nil, false }
func (noQueries) Snapshot() map[string]any    { return map[string]any{} }
