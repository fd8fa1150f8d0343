package behavior

import (
	"errors"
	"fmt"
)

type slot struct {
	b   Behavior
	gen uint32
}

// Container owns every behavior node. Nodes are addressed by ID or by
// Handle; a Handle goes stale once its node is removed.
type Container struct {
	slots []slot
	free  []uint32
	byID  map[ID]Handle
	order []Handle
}

// NewContainer returns an empty Container.
func NewContainer() *Container {
	return &Container{byID: make(map[ID]Handle)}
}

// Add takes ownership of b and returns its handle.
func (c *Container) Add(b Behavior) (Handle, error) {
	if b == nil {
		return Handle{}, ErrNilBehavior
	}
	base := b.base()
	if _, ok := c.byID[base.id]; ok {
		return Handle{}, fmt.Errorf("%w: %q", ErrDuplicateID, base.id)
	}
	var h Handle
	if n := len(c.free); n > 0 {
		h.index = c.free[n-1]
		c.free = c.free[:n-1]
		h.gen = c.slots[h.index].gen
	} else {
		h.index = uint32(len(c.slots))
		h.gen = 1
		c.slots = append(c.slots, slot{gen: 1})
	}
	c.slots[h.index].b = b
	base.self = b
	base.handle = h
	c.byID[base.id] = h
	c.order = append(c.order, h)
	return h, nil
}

// AddAll adds each of bs, joining every error.
func (c *Container) AddAll(bs ...Behavior) error {
	var errs []error
	for _, b := range bs {
		if _, err := c.Add(b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Resolve returns the node behind h, or false if h is stale.
func (c *Container) Resolve(h Handle) (Behavior, bool) {
	if h.IsZero() || int(h.index) >= len(c.slots) {
		return nil, false
	}
	s := c.slots[h.index]
	if s.gen != h.gen || s.b == nil {
		return nil, false
	}
	return s.b, true
}

// Find returns the node with the given ID.
func (c *Container) Find(id ID) (Behavior, bool) {
	h, ok := c.byID[id]
	if !ok {
		return nil, false
	}
	return c.Resolve(h)
}

// Remove drops the node behind h. The node must not be in scope.
func (c *Container) Remove(ctx *Context, h Handle) error {
	b, ok := c.Resolve(h)
	if !ok {
		return ErrStaleHandle
	}
	base := b.base()
	if base.state == InScope || base.state == Activated {
		return fmt.Errorf("%w: %q", ErrInUse, base.id)
	}
	if ctx != nil && base.subscribed {
		ctx.gateway.Unsubscribe(h.subscriber())
	}
	c.slots[h.index] = slot{gen: h.gen + 1}
	c.free = append(c.free, h.index)
	delete(c.byID, base.id)
	for i, o := range c.order {
		if o == h {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	base.handle = Handle{}
	return nil
}

// All returns every node in insertion order.
func (c *Container) All() []Behavior {
	out := make([]Behavior, 0, len(c.order))
	for _, h := range c.order {
		if b, ok := c.Resolve(h); ok {
			out = append(out, b)
		}
	}
	return out
}

// Len returns the number of nodes.
func (c *Container) Len() int { return len(c.order) }

// Init initializes every node still in NotInitialized.
func (c *Container) Init(ctx *Context) error {
	var errs []error
	for _, b := range c.All() {
		if b.State() != NotInitialized {
			continue
		}
		if err := b.Init(ctx); err != nil {
			errs = append(errs, fmt.Errorf("init %q: %w", b.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// Description is a read-only summary of one node.
type Description struct {
	ID          ID
	State       ActivationState
	Delegates   []ID
	Activations int
}

// Describe summarizes every node in insertion order.
func (c *Container) Describe() []Description {
	all := c.All()
	out := make([]Description, 0, len(all))
	for _, b := range all {
		d := Description{ID: b.ID(), State: b.State(), Activations: b.base().activations}
		for _, del := range b.GetAllDelegates() {
			d.Delegates = append(d.Delegates, del.ID())
		}
		out = append(out, d)
	}
	return out
}
