// Package reaction implements the reaction-trigger table: a dense set of
// triggers, each able to force the stack to its target behavior from
// outside the normal parent-chooses-child protocol.
package reaction

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/joeycumines/conduct/internal/behavior"
	"github.com/joeycumines/conduct/internal/contract"
	"github.com/joeycumines/conduct/internal/strategy"
)

// CodeLockHeld is reported when a lock name is acquired twice.
const CodeLockHeld contract.Code = "reaction-lock-held"

var (
	ErrTriggerGap       = errors.New("reaction: trigger enumeration has a gap")
	ErrTriggerDuplicate = errors.New("reaction: duplicate trigger")
	ErrMissingField     = errors.New("reaction: missing field")
)

// Trigger identifies a reaction. Triggers are dense, starting at 0, and
// lower values win when several fire in one tick.
type Trigger int

// Entry configures one trigger.
type Entry struct {
	Trigger  Trigger
	Name     string
	Strategy strategy.Strategy
	Behavior behavior.Behavior
	// Resume re-delegates the interrupted chain once the reaction ends.
	Resume bool
	// CanInterruptOther allows firing while another reaction runs.
	CanInterruptOther bool
	// CanInterruptSelf allows firing again while this reaction runs.
	CanInterruptSelf bool
}

func (e Entry) String() string {
	if e.Name != "" {
		return e.Name
	}
	return fmt.Sprintf("trigger-%d", int(e.Trigger))
}

// Table holds every trigger, indexed by its Trigger value.
type Table struct {
	entries []Entry
	locks   map[string][]Trigger
	held    []int
	active  int
	checker *contract.Checker
	logger  *slog.Logger
}

// NewTable validates entries and returns a table. Entries may be given in
// any order but must cover 0..N-1 exactly once.
func NewTable(entries []Entry, checker *contract.Checker, logger *slog.Logger) (*Table, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if checker == nil {
		checker = contract.New(logger)
	}
	var errs []error
	slots := make([]*Entry, len(entries))
	for i := range entries {
		e := &entries[i]
		if e.Strategy == nil {
			errs = append(errs, fmt.Errorf("%w: trigger %d (%s) has no strategy", ErrMissingField, e.Trigger, e))
		}
		if e.Behavior == nil {
			errs = append(errs, fmt.Errorf("%w: trigger %d (%s) has no behavior", ErrMissingField, e.Trigger, e))
		}
		t := int(e.Trigger)
		if t < 0 || t >= len(entries) {
			// the missing index is reported below
			continue
		}
		if slots[t] != nil {
			errs = append(errs, fmt.Errorf("%w: %d (%s and %s)", ErrTriggerDuplicate, t, slots[t], e))
			continue
		}
		slots[t] = e
	}
	for i, e := range slots {
		if e == nil {
			errs = append(errs, fmt.Errorf("%w: %d missing from 0..%d", ErrTriggerGap, i, len(entries)-1))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	t := &Table{
		entries: make([]Entry, len(entries)),
		locks:   make(map[string][]Trigger),
		held:    make([]int, len(entries)),
		active:  -1,
		checker: checker,
		logger:  logger,
	}
	for i, e := range slots {
		t.entries[i] = *e
	}
	return t, nil
}

// Len returns the number of triggers.
func (t *Table) Len() int { return len(t.entries) }

// Entry returns the entry for trigger.
func (t *Table) Entry(trigger Trigger) Entry { return t.entries[trigger] }

// Entries returns every entry in trigger order.
func (t *Table) Entries() []Entry { return slices.Clone(t.entries) }

// Disable acquires lock over triggers. A trigger stays disabled while any
// lock covering it is held.
func (t *Table) Disable(lock string, triggers ...Trigger) bool {
	if _, ok := t.locks[lock]; ok {
		t.checker.Violation(CodeLockHeld, "reaction lock acquired twice", slog.String("lock", lock))
		return false
	}
	valid := make([]Trigger, 0, len(triggers))
	for _, tr := range triggers {
		if int(tr) < 0 || int(tr) >= len(t.entries) {
			t.logger.Warn("lock names unknown trigger", slog.String("lock", lock), slog.Int("trigger", int(tr)))
			continue
		}
		valid = append(valid, tr)
		t.held[tr]++
	}
	t.locks[lock] = valid
	t.logger.Debug("reactions disabled", slog.String("lock", lock), slog.Int("triggers", len(valid)))
	return true
}

// DisableAll acquires lock over every trigger.
func (t *Table) DisableAll(lock string) bool {
	all := make([]Trigger, len(t.entries))
	for i := range all {
		all[i] = Trigger(i)
	}
	return t.Disable(lock, all...)
}

// Enable releases lock.
func (t *Table) Enable(lock string) bool {
	triggers, ok := t.locks[lock]
	if !ok {
		t.logger.Warn("released unknown reaction lock", slog.String("lock", lock))
		return false
	}
	delete(t.locks, lock)
	for _, tr := range triggers {
		t.held[tr]--
	}
	return true
}

// IsEnabled reports whether no lock covers trigger.
func (t *Table) IsEnabled(trigger Trigger) bool { return t.held[trigger] == 0 }

// Locks returns the held lock names, sorted.
func (t *Table) Locks() []string { return slices.Sorted(maps.Keys(t.locks)) }

// Covers reports whether lock covers trigger.
func (t *Table) Covers(lock string, trigger Trigger) bool {
	return slices.Contains(t.locks[lock], trigger)
}

// Active returns the running reaction, if any.
func (t *Table) Active() (Entry, bool) {
	if t.active < 0 {
		return Entry{}, false
	}
	return t.entries[t.active], true
}

// SetActive records trigger as the running reaction.
func (t *Table) SetActive(trigger Trigger) { t.active = int(trigger) }

// ClearActive records that no reaction runs.
func (t *Table) ClearActive() { t.active = -1 }

// Check evaluates every enabled trigger in order and returns the first
// whose strategy wants to start and whose target wants to be activated.
// While a reaction runs, other triggers are only considered if they may
// interrupt it, and the running one only if it may interrupt itself.
func (t *Table) Check(ctx *behavior.Context) (Entry, bool) {
	var (
		winner Entry
		found  bool
		fired  []string
	)
	for i, e := range t.entries {
		if t.held[i] > 0 || ctx.Rejected(e.Behavior) {
			continue
		}
		if t.active >= 0 {
			if i == t.active && !e.CanInterruptSelf {
				continue
			}
			if i != t.active && !e.CanInterruptOther {
				continue
			}
		}
		if !e.Strategy.WantsToStart(ctx) {
			continue
		}
		fired = append(fired, e.String())
		if found {
			continue
		}
		if e.Behavior.WantsToBeActivated(ctx) {
			winner, found = e, true
		}
	}
	if len(fired) > 1 {
		ctx.Logger().Warn("several reactions fired in one tick",
			slog.Any("triggers", fired), slog.String("winner", winner.String()))
	}
	return winner, found
}
