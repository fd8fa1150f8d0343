package behavior

import (
	"io"
	"log/slog"
	"testing"

	"github.com/joeycumines/conduct/internal/contract"
	"github.com/joeycumines/conduct/internal/event"
)

// recorder records every hook call into a shared journal.
type recorder struct {
	Base
	journal   *[]string
	wants     bool
	delegates []Behavior
	events    []event.Event
	updates   int
	onUpdate  func(ctx *Context)
}

func newRecorder(id ID, journal *[]string, delegates ...Behavior) *recorder {
	return &recorder{Base: NewBase(id), journal: journal, wants: true, delegates: delegates}
}

func (p *recorder) log(what string) {
	if p.journal != nil {
		*p.journal = append(*p.journal, string(p.ID())+":"+what)
	}
}

func (p *recorder) OnEnteredScope(*Context)                  { p.log("enter") }
func (p *recorder) OnLeftScope(*Context)                     { p.log("leave") }
func (p *recorder) WantsToBeActivatedBehavior(*Context) bool { return p.wants }
func (p *recorder) OnBehaviorActivated(*Context)             { p.log("activate") }
func (p *recorder) OnBehaviorDeactivated(*Context)           { p.log("deactivate") }
func (p *recorder) HandleEvent(_ *Context, ev event.Event)   { p.events = append(p.events, ev) }
func (p *recorder) GetAllDelegates() []Behavior              { return p.delegates }
func (p *recorder) BehaviorUpdate(ctx *Context) {
	p.updates++
	if p.onUpdate != nil {
		p.onUpdate(ctx)
	}
}

func newTestContext(t *testing.T) *Context {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewContext(Options{
		Logger:  logger,
		Checker: contract.New(logger, contract.WithFailFast(false)),
	})
}

// build adds and initializes every node, starting root on the stack.
func build(t *testing.T, ctx *Context, root Behavior, others ...Behavior) {
	t.Helper()
	if err := ctx.Container().AddAll(append([]Behavior{root}, others...)...); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := ctx.Container().Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	ctx.BeginTick()
	if err := ctx.Stack().Start(root); err != nil {
		t.Fatalf("start: %v", err)
	}
}

// delegate asks to and hands control over to it from from.
func delegate(ctx *Context, from, to Behavior) bool {
	if !to.WantsToBeActivated(ctx) {
		return false
	}
	return ctx.Stack().Delegate(from, to)
}
