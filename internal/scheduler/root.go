package scheduler

import (
	"github.com/joeycumines/conduct/internal/behavior"
	"github.com/joeycumines/conduct/internal/reaction"
)

// RootID is the ID of the behavior the scheduler places at the base of the
// stack.
const RootID behavior.ID = "conduct.root"

// root sits beneath everything. It runs the main behavior, or a reaction
// target while a reaction is active.
type root struct {
	behavior.Base
	main      behavior.Behavior
	delegates []behavior.Behavior
	table     *reaction.Table
}

var _ behavior.Chooser = (*root)(nil)

func newRoot(main behavior.Behavior, table *reaction.Table) *root {
	r := &root{Base: behavior.NewBase(RootID), main: main, table: table}
	r.delegates = append(r.delegates, main)
	seen := map[behavior.Behavior]bool{main: true}
	for _, e := range table.Entries() {
		r.AttachStrategy(e.Strategy)
		behavior.BaseOf(e.Behavior).BindLifecycle(r, e.Strategy)
		if !seen[e.Behavior] {
			seen[e.Behavior] = true
			r.delegates = append(r.delegates, e.Behavior)
		}
	}
	return r
}

func (r *root) GetAllDelegates() []behavior.Behavior { return r.delegates }

func (r *root) ChooseDelegate(ctx *behavior.Context, current behavior.Behavior) behavior.Behavior {
	if e, ok := r.table.Active(); ok && current == e.Behavior {
		return current
	}
	if ctx.Rejected(r.main) {
		return nil
	}
	if current == r.main {
		return current
	}
	if r.main.WantsToBeActivated(ctx) {
		return r.main
	}
	return nil
}
