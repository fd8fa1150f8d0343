package contract

import (
	"log/slog"
	"sync/atomic"
)

// CodeWrongGoroutine is reported when a tick-goroutine-only operation runs
// on some other goroutine.
const CodeWrongGoroutine Code = "wrong-goroutine"

// Affinity binds a component to the goroutine that first uses it. Checks
// are only performed in verify builds; release builds skip the stack parse.
type Affinity struct {
	owner atomic.Int64
}

// Check binds the affinity on first use and reports a violation on c if the
// calling goroutine differs from the bound one.
func (a *Affinity) Check(c *Checker, what string) {
	id := goid()
	if id == 0 {
		return
	}
	if a.owner.CompareAndSwap(0, id) {
		return
	}
	if owner := a.owner.Load(); owner != id {
		c.Violation(CodeWrongGoroutine, what+" called off the owning goroutine",
			slog.Int64("owner", owner), slog.Int64("caller", id))
	}
}

// Reset unbinds the affinity.
func (a *Affinity) Reset() { a.owner.Store(0) }
