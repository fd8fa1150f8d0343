// Package scheduler runs the tick loop: it delivers events, steps actions,
// fires reactions, arbitrates the stack from the base down and updates
// every in-scope behavior once.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	bt "github.com/joeycumines/go-behaviortree"

	"github.com/joeycumines/conduct/internal/behavior"
	"github.com/joeycumines/conduct/internal/clock"
	"github.com/joeycumines/conduct/internal/contract"
	"github.com/joeycumines/conduct/internal/event"
	"github.com/joeycumines/conduct/internal/reaction"
	"github.com/joeycumines/conduct/internal/rng"
	"github.com/joeycumines/conduct/internal/strategy"
)

// DefaultRetryCeiling bounds the delegation changes made in one tick.
const DefaultRetryCeiling = 32

var (
	// ErrNoActivatableLeaf is returned by Tick when arbitration cannot settle
	// on a leaf.
	ErrNoActivatableLeaf = errors.New("scheduler: no activatable leaf")
	// ErrNoMain is returned by New without a main behavior.
	ErrNoMain = errors.New("scheduler: no main behavior")
)

// Config assembles a scheduler.
type Config struct {
	// Main is the behavior run beneath the root when no reaction is active.
	Main behavior.Behavior
	// Behaviors lists every node to own. Main and the reaction targets are
	// added if missing.
	Behaviors []behavior.Behavior
	Reactions []reaction.Entry

	RetryCeiling int
	Clock        clock.Clock
	Rand         rng.Source
	Queries      strategy.Queries
	Logger       *slog.Logger
	Checker      *contract.Checker
	Gateway      *event.Gateway
	Observer     func(behavior.Transition)
}

// Stats counts what the scheduler has done.
type Stats struct {
	Ticks      uint64
	Switches   uint64
	Reactions  uint64
	Resumes    uint64
	Updates    uint64
	Delivered  uint64
	Violations int
}

// Scheduler owns the behavior context and drives it one tick at a time.
// Every method except Post belongs to the goroutine that ticks it.
type Scheduler struct {
	ctx      *behavior.Context
	root     *root
	table    *reaction.Table
	ceiling  int
	logger   *slog.Logger
	affinity contract.Affinity

	resume []behavior.Behavior
	leaf   behavior.Behavior
	stats  Stats
}

// New builds the context, adds and initializes every behavior and starts
// the stack.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Main == nil {
		return nil, ErrNoMain
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	checker := cfg.Checker
	if checker == nil {
		checker = contract.New(logger)
	}
	table, err := reaction.NewTable(cfg.Reactions, checker, logger)
	if err != nil {
		return nil, err
	}
	ceiling := cfg.RetryCeiling
	if ceiling <= 0 {
		ceiling = DefaultRetryCeiling
	}
	ctx := behavior.NewContext(behavior.Options{
		Clock:    cfg.Clock,
		Rand:     cfg.Rand,
		Queries:  cfg.Queries,
		Checker:  checker,
		Logger:   logger,
		Gateway:  cfg.Gateway,
		Observer: cfg.Observer,
	})

	s := &Scheduler{ctx: ctx, table: table, ceiling: ceiling, logger: logger}
	s.root = newRoot(cfg.Main, table)

	c := ctx.Container()
	if _, err := c.Add(s.root); err != nil {
		return nil, err
	}
	var errs []error
	add := func(b behavior.Behavior) {
		if found, ok := c.Find(b.ID()); ok && found == b {
			return
		}
		if _, err := c.Add(b); err != nil {
			errs = append(errs, err)
		}
	}
	for _, b := range cfg.Behaviors {
		add(b)
	}
	add(cfg.Main)
	for _, e := range table.Entries() {
		add(e.Behavior)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	if err := ctx.Stack().Start(s.root); err != nil {
		return nil, err
	}
	return s, nil
}

// Context returns the behavior context.
func (s *Scheduler) Context() *behavior.Context { return s.ctx }

// Reactions returns the reaction table.
func (s *Scheduler) Reactions() *reaction.Table { return s.table }

// Post queues ev for the next tick. It is safe from any goroutine.
func (s *Scheduler) Post(ev event.Event) uint64 { return s.ctx.Gateway().Post(ev) }

// Stack returns the stack's IDs from the base up.
func (s *Scheduler) Stack() []behavior.ID { return s.ctx.Stack().IDs() }

// Leaf returns the running leaf.
func (s *Scheduler) Leaf() behavior.Behavior { return s.ctx.Stack().Top() }

// Delegates returns the declared delegates of the behavior id.
func (s *Scheduler) Delegates(id behavior.ID) ([]behavior.ID, bool) {
	b, ok := s.ctx.Container().Find(id)
	if !ok {
		return nil, false
	}
	var out []behavior.ID
	for _, d := range b.GetAllDelegates() {
		out = append(out, d.ID())
	}
	return out, true
}

// Stats returns the counters.
func (s *Scheduler) Stats() Stats {
	st := s.stats
	st.Delivered = s.ctx.Gateway().Delivered()
	st.Violations = s.ctx.Checker().Total()
	return st
}

// DisableReactions acquires lock over triggers. With stopCurrent, a running
// reaction among them is cancelled and will not resume.
func (s *Scheduler) DisableReactions(lock string, stopCurrent bool, triggers ...reaction.Trigger) bool {
	if !s.table.Disable(lock, triggers...) {
		return false
	}
	if e, ok := s.table.Active(); ok && stopCurrent && s.table.Covers(lock, e.Trigger) {
		s.ctx.Stack().CancelDelegates(s.root, false)
		s.table.ClearActive()
		s.resume = nil
		s.logger.Info("reaction stopped by lock", slog.String("reaction", e.String()), slog.String("lock", lock))
	}
	return true
}

// EnableReactions releases lock.
func (s *Scheduler) EnableReactions(lock string) bool { return s.table.Enable(lock) }

// Tick runs one tick.
func (s *Scheduler) Tick() error {
	ctx := s.ctx
	s.affinity.Check(ctx.Checker(), "scheduler tick")
	tick := ctx.BeginTick()
	s.stats.Ticks++

	ctx.DrainEvents()
	ctx.UpdateActions()

	s.endReaction()
	if e, ok := s.table.Check(ctx); ok {
		s.fire(e)
	}
	if _, active := s.table.Active(); !active && s.resume != nil {
		s.resumeChain()
	}

	if err := s.arbitrate(); err != nil {
		return err
	}
	if leaf := ctx.Stack().Top(); leaf != s.leaf {
		s.stats.Switches++
		s.logger.Debug("leaf changed", slog.Uint64("tick", tick), slog.String("leaf", string(leaf.ID())))
		s.leaf = leaf
	}

	s.stats.Updates += uint64(ctx.UpdateAll())

	if err := ctx.Stack().Validate(); err != nil {
		ctx.Checker().Violation(behavior.CodeStackCorrupt, err.Error(), slog.Uint64("tick", tick))
	}
	return nil
}

// endReaction notices a reaction that has ended, or ends one whose strategy
// wants it to.
func (s *Scheduler) endReaction() {
	e, ok := s.table.Active()
	if !ok {
		return
	}
	stack := s.ctx.Stack()
	if stack.Child(s.root) == e.Behavior {
		if !e.Strategy.WantsToEnd(s.ctx) {
			return
		}
		stack.CancelDelegates(s.root, false)
	}
	s.table.ClearActive()
	if !e.Resume {
		s.resume = nil
	}
	s.logger.Info("reaction ended", slog.String("reaction", e.String()), slog.Bool("resume", s.resume != nil))
}

// fire forces the stack onto the reaction target.
func (s *Scheduler) fire(e reaction.Entry) {
	stack := s.ctx.Stack()
	_, interrupting := s.table.Active()
	switch {
	case !e.Resume:
		s.resume = nil
	case !interrupting && stack.Len() > 1:
		// an empty stack keeps the chain an earlier reaction left pending
		chain := stack.Behaviors()[1:]
		s.resume = append([]behavior.Behavior(nil), chain...)
	}
	stack.CancelDelegates(s.root, false)
	if !e.Behavior.WantsToBeActivated(s.ctx) || !stack.Delegate(s.root, e.Behavior) {
		s.ctx.Reject(e.Behavior)
		s.table.ClearActive()
		s.logger.Warn("reaction target refused", slog.String("reaction", e.String()))
		return
	}
	s.table.SetActive(e.Trigger)
	s.stats.Reactions++
	s.logger.Info("reaction fired",
		slog.String("reaction", e.String()),
		slog.String("behavior", string(e.Behavior.ID())),
		slog.Int("interrupted", len(s.resume)))
}

// resumeChain re-delegates the remembered chain for as long as each node
// still wants to run.
func (s *Scheduler) resumeChain() {
	chain := s.resume
	s.resume = nil
	stack := s.ctx.Stack()
	stack.CancelDelegates(s.root, false)
	parent := behavior.Behavior(s.root)
	n := 0
	for _, b := range chain {
		if !b.WantsToBeActivated(s.ctx) || !stack.Delegate(parent, b) {
			break
		}
		parent = b
		n++
	}
	if n > 0 {
		s.stats.Resumes++
	}
	s.logger.Debug("resumed", slog.Int("levels", n), slog.Int("of", len(chain)))
}

// arbitrate asks every chooser on the stack, base first, which delegate it
// wants, and commits the answers.
func (s *Scheduler) arbitrate() error {
	ctx := s.ctx
	stack := ctx.Stack()
	changes := 0
	for depth := 0; depth < stack.Len(); {
		node := stack.At(depth)
		chooser, ok := node.(behavior.Chooser)
		if !ok {
			depth++
			continue
		}
		current := stack.Child(node)
		next := chooser.ChooseDelegate(ctx, current)
		if next != nil && next == current {
			depth++
			continue
		}
		changes++
		if changes > s.ceiling {
			return fmt.Errorf("%w: retry ceiling %d reached at %s", ErrNoActivatableLeaf, s.ceiling, s.path())
		}
		stack.CancelDelegates(node, false)
		if next == nil {
			if depth == 0 {
				return fmt.Errorf("%w: %s", ErrNoActivatableLeaf, s.path())
			}
			// nothing can run beneath node: give up on it for this tick
			ctx.Reject(node)
			stack.CancelDelegates(stack.At(depth-1), true)
			depth--
			continue
		}
		if !stack.Delegate(node, next) {
			ctx.Reject(next)
			continue
		}
		depth++
	}
	return nil
}

func (s *Scheduler) path() string {
	ids := s.ctx.Stack().IDs()
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, "/")
}

// Run ticks every interval until maxTicks ticks have run (0 means no
// limit), a tick fails, or ctx is done.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration, maxTicks uint64) error {
	s.affinity.Reset()
	var tickErr error
	ran := uint64(0)
	node := bt.New(func([]bt.Node) (bt.Status, error) {
		if maxTicks > 0 && ran >= maxTicks {
			return bt.Failure, nil
		}
		ran++
		if err := s.Tick(); err != nil {
			tickErr = err
			return bt.Failure, err
		}
		if maxTicks > 0 && ran >= maxTicks {
			return bt.Failure, nil
		}
		return bt.Running, nil
	})
	ticker := bt.NewTickerStopOnFailure(ctx, interval, node)
	<-ticker.Done()
	if tickErr != nil {
		return tickErr
	}
	if err := ticker.Err(); err != nil {
		return err
	}
	if maxTicks > 0 && ran >= maxTicks {
		return nil
	}
	return ctx.Err()
}

// Stop unwinds the stack.
func (s *Scheduler) Stop() {
	s.ctx.Stack().Stop()
	s.table.ClearActive()
	s.resume = nil
}
