package behavior

import (
	"testing"

	"github.com/joeycumines/conduct/internal/action"
	"github.com/joeycumines/conduct/internal/event"
	"github.com/joeycumines/conduct/internal/strategy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycle_InitTwice(t *testing.T) {
	t.Parallel()

	ctx := newTestContext(t)
	p := newRecorder("a", nil)
	_, err := ctx.Container().Add(p)
	require.NoError(t, err)

	require.NoError(t, p.Init(ctx))
	assert.Equal(t, OutOfScope, p.State())
	assert.ErrorIs(t, p.Init(ctx), ErrAlreadyInitialized)
	assert.Equal(t, 1, ctx.Checker().Count(CodeInitTwice))
}

func TestLifecycle_ScopeIsRefCounted(t *testing.T) {
	t.Parallel()

	var j []string
	ctx := newTestContext(t)
	p := newRecorder("a", &j)
	require.NoError(t, ctx.Container().AddAll(p))
	require.NoError(t, ctx.Container().Init(ctx))

	p.EnterActivatableScope(ctx)
	p.EnterActivatableScope(ctx)
	assert.Equal(t, InScope, p.State())
	p.LeaveActivatableScope(ctx)
	assert.Equal(t, InScope, p.State())
	p.LeaveActivatableScope(ctx)
	assert.Equal(t, OutOfScope, p.State())
	assert.Equal(t, []string{"a:enter", "a:leave"}, j)

	p.LeaveActivatableScope(ctx)
	assert.Equal(t, 1, ctx.Checker().Count(CodeScopeUnderflow))
}

func TestLifecycle_ActivationRequiresSameTickAsk(t *testing.T) {
	t.Parallel()

	ctx := newTestContext(t)
	p := newRecorder("a", nil)
	require.NoError(t, ctx.Container().AddAll(p))
	require.NoError(t, ctx.Container().Init(ctx))
	ctx.BeginTick()
	p.EnterActivatableScope(ctx)

	p.Activate(ctx)
	assert.Equal(t, 1, ctx.Checker().Count(CodeActivationWithoutAsk))
	p.Deactivate(ctx)

	// an answer from an earlier tick does not count
	require.True(t, p.WantsToBeActivated(ctx))
	ctx.BeginTick()
	p.Activate(ctx)
	assert.Equal(t, 2, ctx.Checker().Count(CodeActivationWithoutAsk))
	p.Deactivate(ctx)

	require.True(t, p.WantsToBeActivated(ctx))
	p.Activate(ctx)
	assert.Equal(t, 2, ctx.Checker().Count(CodeActivationWithoutAsk))
	assert.Equal(t, Activated, p.State())

	p.Activate(ctx)
	assert.Equal(t, 1, ctx.Checker().Count(CodeDoubleActivation))
}

func TestLifecycle_GatesShortCircuit(t *testing.T) {
	t.Parallel()

	ctx := newTestContext(t)
	p := newRecorder("a", nil)
	calls := 0
	never := strategy.Never()
	counting := strategy.NewGeneric("counting")
	counting.Poll = func(strategy.Env) bool { calls++; return true }
	p.AddGate(never)
	p.AddGate(counting)
	require.NoError(t, ctx.Container().AddAll(p))
	require.NoError(t, ctx.Container().Init(ctx))
	p.EnterActivatableScope(ctx)

	assert.False(t, p.WantsToBeActivated(ctx))
	assert.Zero(t, calls)
}

func TestLifecycle_OutOfScopeNeverWants(t *testing.T) {
	t.Parallel()

	ctx := newTestContext(t)
	p := newRecorder("a", nil)
	require.NoError(t, ctx.Container().AddAll(p))
	require.NoError(t, ctx.Container().Init(ctx))
	assert.False(t, p.WantsToBeActivated(ctx))
}

func TestUpdate_OncePerTick(t *testing.T) {
	t.Parallel()

	ctx := newTestContext(t)
	root := newRecorder("root", nil)
	build(t, ctx, root)

	assert.Equal(t, 1, ctx.UpdateAll())
	assert.Equal(t, 1, root.updates)
	assert.Zero(t, ctx.UpdateAll())

	root.Update(ctx)
	assert.Equal(t, 1, ctx.Checker().Count(CodeDuplicateUpdate))
	assert.Equal(t, 1, root.updates)

	ctx.BeginTick()
	ctx.BeginTick()
	root.Update(ctx)
	assert.Equal(t, 1, ctx.Checker().Count(CodeSkippedUpdate))
}

func TestUpdate_InScopeNodesAreUpdated(t *testing.T) {
	t.Parallel()

	ctx := newTestContext(t)
	a, b := newRecorder("a", nil), newRecorder("b", nil)
	root := newRecorder("root", nil, a, b)
	build(t, ctx, root, a, b)

	assert.Equal(t, 3, ctx.UpdateAll())
	// only activated nodes run their update hook
	assert.Equal(t, 1, root.updates)
	assert.Zero(t, a.updates)
	assert.True(t, a.UpdatedThisTick(ctx))
	assert.True(t, b.UpdatedThisTick(ctx))
}

func TestStack_DelegateAndCancelUnwindsDeepestFirst(t *testing.T) {
	t.Parallel()

	var j []string
	ctx := newTestContext(t)
	const depth = 5
	nodes := make([]*recorder, depth)
	for i := depth - 1; i >= 0; i-- {
		var ds []Behavior
		if i+1 < depth {
			ds = []Behavior{nodes[i+1]}
		}
		nodes[i] = newRecorder(ID(rune('a'+i)), &j, ds...)
	}
	others := make([]Behavior, 0, depth-1)
	for _, n := range nodes[1:] {
		others = append(others, n)
	}
	build(t, ctx, nodes[0], others...)
	for i := 0; i+1 < depth; i++ {
		require.True(t, delegate(ctx, nodes[i], nodes[i+1]))
	}
	require.Equal(t, []ID{"a", "b", "c", "d", "e"}, ctx.Stack().IDs())
	require.NoError(t, ctx.Stack().Validate())

	j = nil
	assert.True(t, ctx.Stack().CancelDelegates(nodes[1], false))
	assert.Equal(t, []ID{"a", "b"}, ctx.Stack().IDs())
	assert.Equal(t, []string{
		"e:deactivate",
		"d:deactivate", "e:leave",
		"c:deactivate", "d:leave",
	}, j)
	assert.Equal(t, InScope, nodes[2].State())
	assert.Equal(t, OutOfScope, nodes[3].State())
	assert.Zero(t, ctx.Checker().Total())
}

func TestStack_DelegateRules(t *testing.T) {
	t.Parallel()

	ctx := newTestContext(t)
	a, b, stranger := newRecorder("a", nil), newRecorder("b", nil), newRecorder("x", nil)
	root := newRecorder("root", nil, a, b)
	build(t, ctx, root, a, b, stranger)

	stranger.EnterActivatableScope(ctx)
	require.True(t, stranger.WantsToBeActivated(ctx))
	assert.False(t, ctx.Stack().Delegate(root, stranger), "undeclared delegate")

	require.True(t, delegate(ctx, root, a))
	assert.False(t, ctx.Stack().Delegate(root, a), "already has control")
	assert.Zero(t, ctx.Checker().Total())

	require.True(t, b.WantsToBeActivated(ctx))
	assert.False(t, ctx.Stack().Delegate(root, b))
	assert.Equal(t, 1, ctx.Checker().Count(CodeDoubleDelegation))

	assert.True(t, ctx.Stack().DelegateNow(root, b))
	assert.Equal(t, []ID{"root", "b"}, ctx.Stack().IDs())
	assert.True(t, ctx.Stack().HasDelegator(b))
	assert.True(t, ctx.Stack().IsControlDelegated(root))
	assert.False(t, ctx.Stack().IsControlDelegated(b))
}

func TestStack_ActionCancelCallsBackOnce(t *testing.T) {
	t.Parallel()

	ctx := newTestContext(t)
	root := newRecorder("root", nil)
	build(t, ctx, root)

	var got []action.Completion
	cb := func(_ *Context, c action.Completion) { got = append(got, c) }
	require.True(t, ctx.Stack().DelegateAction(root, action.Steps("forever", 1<<30), cb))
	assert.True(t, ctx.Stack().IsControlDelegated(root))
	name, ok := ctx.Stack().ActionOf(root)
	require.True(t, ok)
	assert.Equal(t, "forever", name)

	ctx.UpdateActions()
	assert.True(t, ctx.Stack().CancelDelegates(root, true))
	assert.False(t, ctx.Stack().CancelDelegates(root, true))
	require.Len(t, got, 1)
	assert.Equal(t, action.Cancelled, got[0].Status)
	assert.Zero(t, ctx.Actions().Len())
}

func TestStack_ActionCancelWithoutCallback(t *testing.T) {
	t.Parallel()

	ctx := newTestContext(t)
	root := newRecorder("root", nil)
	build(t, ctx, root)

	called := false
	require.True(t, ctx.Stack().DelegateAction(root, action.Steps("s", 10), func(*Context, action.Completion) { called = true }))
	ctx.Stack().CancelDelegates(root, false)
	assert.False(t, called)
	assert.False(t, ctx.Stack().IsControlDelegated(root))
}

func TestStack_FinishedActionDeliveredOnUpdate(t *testing.T) {
	t.Parallel()

	ctx := newTestContext(t)
	root := newRecorder("root", nil)
	build(t, ctx, root)

	var got []action.Status
	require.True(t, ctx.Stack().DelegateAction(root, action.Steps("two", 2), func(_ *Context, c action.Completion) {
		got = append(got, c.Status)
	}))

	ctx.UpdateActions()
	ctx.UpdateAll()
	assert.Empty(t, got)

	ctx.BeginTick()
	ctx.UpdateActions()
	ctx.UpdateAll()
	assert.Equal(t, []action.Status{action.Succeeded}, got)
	assert.False(t, ctx.Stack().IsControlDelegated(root))
}

func TestStack_CancelAfterFinishDeliversRealCompletion(t *testing.T) {
	t.Parallel()

	ctx := newTestContext(t)
	root := newRecorder("root", nil)
	build(t, ctx, root)

	var got []action.Completion
	require.True(t, ctx.Stack().DelegateAction(root, action.Steps("one", 1), func(_ *Context, c action.Completion) {
		got = append(got, c)
	}))

	// finished, but root has not been updated since
	ctx.UpdateActions()
	assert.Empty(t, got)
	assert.True(t, ctx.Stack().IsControlDelegated(root))

	assert.True(t, ctx.Stack().CancelDelegates(root, true))
	require.Len(t, got, 1)
	assert.Equal(t, action.Succeeded, got[0].Status)
	assert.Equal(t, "one", got[0].Name)

	ctx.BeginTick()
	ctx.UpdateActions()
	ctx.UpdateAll()
	assert.Len(t, got, 1, "completion is delivered once")
	assert.False(t, ctx.Stack().IsControlDelegated(root))
	assert.Zero(t, ctx.Actions().Len())
}

func TestStack_DelegateThenAfterCancelSelf(t *testing.T) {
	t.Parallel()

	ctx := newTestContext(t)
	child := newRecorder("child", nil)
	root := newRecorder("root", nil, child)
	build(t, ctx, root, child)

	done := 0
	require.True(t, child.WantsToBeActivated(ctx))
	require.True(t, ctx.Stack().DelegateThen(root, child, func(*Context) { done++ }))
	child.onUpdate = func(ctx *Context) { ctx.Stack().CancelSelf(child) }

	ctx.UpdateAll()
	assert.Equal(t, []ID{"root"}, ctx.Stack().IDs())
	assert.Zero(t, done)

	ctx.BeginTick()
	ctx.UpdateAll()
	assert.Equal(t, 1, done)

	ctx.BeginTick()
	ctx.UpdateAll()
	assert.Equal(t, 1, done)
	assert.False(t, ctx.Stack().CancelSelf(root))
}

func TestStack_DelegateThenSuppressedByCancelWithoutCallback(t *testing.T) {
	t.Parallel()

	ctx := newTestContext(t)
	child := newRecorder("child", nil)
	root := newRecorder("root", nil, child)
	build(t, ctx, root, child)

	done := 0
	require.True(t, child.WantsToBeActivated(ctx))
	require.True(t, ctx.Stack().DelegateThen(root, child, func(*Context) { done++ }))
	ctx.Stack().CancelDelegates(root, false)
	ctx.UpdateAll()
	assert.Zero(t, done)
}

func TestStack_Stop(t *testing.T) {
	t.Parallel()

	var j []string
	ctx := newTestContext(t)
	child := newRecorder("child", &j)
	root := newRecorder("root", &j, child)
	build(t, ctx, root, child)
	require.True(t, delegate(ctx, root, child))

	j = nil
	ctx.Stack().Stop()
	assert.Zero(t, ctx.Stack().Len())
	assert.Equal(t, []string{"child:deactivate", "root:deactivate", "child:leave", "root:leave"}, j)
	assert.Equal(t, OutOfScope, root.State())
}

func TestEvents_DeliveredOnlyInScope(t *testing.T) {
	t.Parallel()

	ctx := newTestContext(t)
	sub := event.Subscription{Family: event.Inbound, Tags: []event.Tag{"bump"}}
	a := newRecorder("a", nil)
	a.Base = NewBase("a", sub)
	root := newRecorder("root", nil, a)
	detached := newRecorder("detached", nil)
	detached.Base = NewBase("detached", sub)
	build(t, ctx, root, a, detached)

	ctx.Gateway().Post(event.Event{Family: event.Inbound, Tag: "bump"})
	ctx.Gateway().Post(event.Event{Family: event.Inbound, Tag: "other"})
	assert.Equal(t, 1, ctx.DrainEvents())
	require.Len(t, a.events, 1)
	assert.Equal(t, event.Tag("bump"), a.events[0].Tag)
	assert.Empty(t, detached.events)
}

func TestEvents_AttachedStrategyReceivesEvents(t *testing.T) {
	t.Parallel()

	ctx := newTestContext(t)
	latch := strategy.NewLatched(event.Inbound, []event.Tag{"go"}, nil)
	a := newRecorder("a", nil)
	a.AddGate(latch)
	root := newRecorder("root", nil, a)
	build(t, ctx, root, a)

	assert.False(t, a.WantsToBeActivated(ctx))
	ctx.Gateway().Post(event.Event{Family: event.Inbound, Tag: "go"})
	ctx.DrainEvents()
	assert.True(t, a.WantsToBeActivated(ctx))
}

func TestContainer_Handles(t *testing.T) {
	t.Parallel()

	ctx := newTestContext(t)
	c := ctx.Container()
	a := newRecorder("a", nil)
	h, err := c.Add(a)
	require.NoError(t, err)

	_, err = c.Add(newRecorder("a", nil))
	assert.ErrorIs(t, err, ErrDuplicateID)
	_, err = c.Add(nil)
	assert.ErrorIs(t, err, ErrNilBehavior)

	got, ok := c.Find("a")
	require.True(t, ok)
	assert.Same(t, a, got)

	require.NoError(t, c.Init(ctx))
	a.EnterActivatableScope(ctx)
	assert.ErrorIs(t, c.Remove(ctx, h), ErrInUse)
	a.LeaveActivatableScope(ctx)
	require.NoError(t, c.Remove(ctx, h))

	_, ok = c.Resolve(h)
	assert.False(t, ok)
	assert.ErrorIs(t, c.Remove(ctx, h), ErrStaleHandle)

	h2, err := c.Add(newRecorder("b", nil))
	require.NoError(t, err)
	assert.NotEqual(t, h, h2)
	assert.Equal(t, 1, c.Len())

	desc := c.Describe()
	require.Len(t, desc, 1)
	assert.Equal(t, ID("b"), desc[0].ID)
	assert.Equal(t, NotInitialized, desc[0].State)
}

func TestStack_ObserverSeesTransitions(t *testing.T) {
	t.Parallel()

	var seen []TransitionKind
	ctx := NewContext(Options{Observer: func(tr Transition) { seen = append(seen, tr.Kind) }})
	child := newRecorder("child", nil)
	root := newRecorder("root", nil, child)
	build(t, ctx, root, child)
	require.True(t, delegate(ctx, root, child))
	require.True(t, ctx.Stack().DelegateAction(child, action.Steps("s", 5), nil))
	ctx.Stack().CancelDelegates(root, false)

	assert.Equal(t, []TransitionKind{Pushed, Pushed, ActionStarted, ActionFinished, Popped}, seen)
}
