// Package behavior implements behavior nodes, their lifecycle, the container
// that owns them, and the behavior stack through which control is
// delegated.
//
// Every node embeds Base, which enforces the lifecycle
//
//	NotInitialized → OutOfScope → InScope → Activated → InScope → OutOfScope …
//
// and calls the node's hook methods at the right moments. Nodes never hold
// pointers to each other for ownership purposes: the Container owns every
// node and hands out generational Handles.
package behavior

import (
	"errors"
	"fmt"

	"github.com/joeycumines/conduct/internal/event"
)

// ID is the configured identifier of a behavior.
type ID string

// ActivationState is a behavior's position in its lifecycle.
type ActivationState uint8

const (
	NotInitialized ActivationState = iota
	OutOfScope
	InScope
	Activated
)

func (s ActivationState) String() string {
	switch s {
	case NotInitialized:
		return "not-initialized"
	case OutOfScope:
		return "out-of-scope"
	case InScope:
		return "in-scope"
	case Activated:
		return "activated"
	default:
		return fmt.Sprintf("ActivationState(%d)", uint8(s))
	}
}

// Handle is a generational index into a Container. The zero Handle is
// invalid.
type Handle struct {
	index uint32
	gen   uint32
}

// IsZero reports whether h is the zero Handle.
func (h Handle) IsZero() bool { return h.gen == 0 }

func (h Handle) String() string { return fmt.Sprintf("%d#%d", h.index, h.gen) }

func (h Handle) subscriber() event.SubscriberID {
	return event.SubscriberID(uint64(h.gen)<<32 | uint64(h.index))
}

func handleOf(id event.SubscriberID) Handle {
	return Handle{index: uint32(id), gen: uint32(id >> 32)}
}

// Behavior is implemented by every node, by embedding Base and overriding
// the hooks it needs.
type Behavior interface {
	ID() ID
	Handle() Handle
	State() ActivationState

	Init(ctx *Context) error
	EnterActivatableScope(ctx *Context)
	LeaveActivatableScope(ctx *Context)
	WantsToBeActivated(ctx *Context) bool
	Activate(ctx *Context)
	Deactivate(ctx *Context)
	Update(ctx *Context)

	// InitBehavior is called once from Init.
	InitBehavior(ctx *Context) error
	OnEnteredScope(ctx *Context)
	OnLeftScope(ctx *Context)
	// WantsToBeActivatedBehavior is consulted after every gate strategy
	// agreed.
	WantsToBeActivatedBehavior(ctx *Context) bool
	OnBehaviorActivated(ctx *Context)
	OnBehaviorDeactivated(ctx *Context)
	BehaviorUpdate(ctx *Context)
	// HandleEvent receives events matching the node's own subscriptions
	// while it is in scope. Use State to tell whether it is activated.
	HandleEvent(ctx *Context, ev event.Event)
	// GetAllDelegates returns every node this one may ever delegate to. It
	// must return the same set on every call.
	GetAllDelegates() []Behavior

	base() *Base
}

// Chooser is a composite that selects its own delegate. The scheduler asks
// every Chooser on the stack, base first, which delegate it wants each tick.
type Chooser interface {
	Behavior
	// ChooseDelegate returns the delegate that should run beneath the
	// chooser, or nil if none can. current is the delegate running now, or
	// nil. Implementations must call WantsToBeActivated on any node they
	// return other than current.
	ChooseDelegate(ctx *Context, current Behavior) Behavior
}

// BaseOf returns the Base embedded in b.
func BaseOf(b Behavior) *Base { return b.base() }

var (
	// ErrDuplicateID is returned when adding a behavior whose ID is taken.
	ErrDuplicateID = errors.New("behavior: duplicate id")
	// ErrNilBehavior is returned when adding a nil behavior.
	ErrNilBehavior = errors.New("behavior: nil behavior")
	// ErrAlreadyInitialized is returned by a second Init.
	ErrAlreadyInitialized = errors.New("behavior: already initialized")
	// ErrStaleHandle is returned for a handle whose slot was reused.
	ErrStaleHandle = errors.New("behavior: stale handle")
	// ErrInUse is returned when removing a behavior that is still in scope.
	ErrInUse = errors.New("behavior: behavior in scope")
	// ErrStackStarted is returned by Stack.Start on a non-empty stack.
	ErrStackStarted = errors.New("behavior: stack already started")
	// ErrBaseRejected is returned by Stack.Start when the base does not
	// want to be activated.
	ErrBaseRejected = errors.New("behavior: base behavior rejected activation")
)
