// Package event implements the event-scope gateway: a thread-safe inbound
// queue that is drained once per tick, delivering each event to every
// subscriber that is currently in scope and subscribed to its tag.
package event

import (
	"fmt"
	"sync"
)

// Family separates the two independent event streams.
type Family uint8

const (
	// Outbound events flow from the agent to an observer.
	Outbound Family = iota + 1
	// Inbound events flow from an observer to the agent.
	Inbound
)

func (f Family) String() string {
	switch f {
	case Outbound:
		return "outbound"
	case Inbound:
		return "inbound"
	default:
		return fmt.Sprintf("Family(%d)", uint8(f))
	}
}

// ParseFamily maps "inbound" / "outbound" to a Family.
func ParseFamily(s string) (Family, error) {
	switch s {
	case "inbound":
		return Inbound, nil
	case "outbound":
		return Outbound, nil
	default:
		return 0, fmt.Errorf("unknown event family %q", s)
	}
}

// Tag names an event kind within a family.
type Tag string

// Event is a single queued message.
type Event struct {
	Family  Family
	Tag     Tag
	Payload map[string]any
	// Seq is assigned by the gateway on Post, and is strictly increasing.
	Seq uint64
}

// Int returns the payload value for key as an int, accepting the numeric
// types that JSON decoding and Go callers produce.
func (e Event) Int(key string) (int, bool) {
	switch v := e.Payload[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// Text returns the payload value for key if it is a string.
func (e Event) Text(key string) (string, bool) {
	v, ok := e.Payload[key].(string)
	return v, ok
}

// Subscription is a family plus the tags of interest within it.
type Subscription struct {
	Family Family
	Tags   []Tag
}

// SubscriberID is the stable key a subscriber is registered under.
type SubscriberID uint64

// Sink receives delivered events.
type Sink interface {
	Deliver(id SubscriberID, ev Event)
}

type subscriber struct {
	id      SubscriberID
	tags    map[Family]map[Tag]struct{}
	inScope bool
}

func (s *subscriber) matches(ev Event) bool {
	if !s.inScope {
		return false
	}
	_, ok := s.tags[ev.Family][ev.Tag]
	return ok
}

// Gateway queues events and delivers them to in-scope subscribers.
//
// Post may be called from any goroutine. Every other method belongs to the
// tick goroutine.
type Gateway struct {
	mu    sync.Mutex
	queue []Event
	seq   uint64

	subs      map[SubscriberID]*subscriber
	order     []*subscriber
	publish   []func(Event)
	delivered uint64
}

// NewGateway returns an empty Gateway.
func NewGateway() *Gateway {
	return &Gateway{subs: make(map[SubscriberID]*subscriber)}
}

// Post enqueues ev for delivery at the next Drain and returns its sequence
// number. Outbound events are also passed to every OnPublish hook, on the
// calling goroutine.
func (g *Gateway) Post(ev Event) uint64 {
	g.mu.Lock()
	g.seq++
	ev.Seq = g.seq
	g.queue = append(g.queue, ev)
	hooks := g.publish
	g.mu.Unlock()

	if ev.Family == Outbound {
		for _, fn := range hooks {
			fn(ev)
		}
	}
	return ev.Seq
}

// OnPublish registers fn to observe outbound events as they are posted.
func (g *Gateway) OnPublish(fn func(Event)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.publish = append(g.publish, fn)
}

// Pending returns the number of queued, undelivered events.
func (g *Gateway) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}

// Subscribe adds tags in family to id's subscription set. Subscribers start
// out of scope. Subscribing an id again extends its set.
func (g *Gateway) Subscribe(id SubscriberID, family Family, tags ...Tag) {
	s, ok := g.subs[id]
	if !ok {
		s = &subscriber{id: id, tags: make(map[Family]map[Tag]struct{})}
		g.subs[id] = s
		g.order = append(g.order, s)
	}
	set := s.tags[family]
	if set == nil {
		set = make(map[Tag]struct{}, len(tags))
		s.tags[family] = set
	}
	for _, tag := range tags {
		set[tag] = struct{}{}
	}
}

// Unsubscribe removes id entirely.
func (g *Gateway) Unsubscribe(id SubscriberID) {
	s, ok := g.subs[id]
	if !ok {
		return
	}
	delete(g.subs, id)
	for i, o := range g.order {
		if o == s {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
}

// SetInScope toggles whether id receives events. The change applies to the
// next Drain.
func (g *Gateway) SetInScope(id SubscriberID, inScope bool) {
	if s, ok := g.subs[id]; ok {
		s.inScope = inScope
	}
}

// InScope reports whether id is registered and in scope.
func (g *Gateway) InScope(id SubscriberID) bool {
	s, ok := g.subs[id]
	return ok && s.inScope
}

// Subscribed reports whether id is registered for tag in family.
func (g *Gateway) Subscribed(id SubscriberID, family Family, tag Tag) bool {
	s, ok := g.subs[id]
	if !ok {
		return false
	}
	_, ok = s.tags[family][tag]
	return ok
}

// Drain takes every queued event and delivers each, in arrival order, to
// each matching in-scope subscriber in registration order. Events posted
// during the drain are left for the next one. It returns the number of
// deliveries made.
func (g *Gateway) Drain(sink Sink) int {
	g.mu.Lock()
	batch := g.queue
	g.queue = nil
	g.mu.Unlock()

	n := 0
	for _, ev := range batch {
		// snapshot so that scope changes made by a handler apply from the
		// next event onwards without disturbing iteration
		subs := append([]*subscriber(nil), g.order...)
		for _, s := range subs {
			if s.matches(ev) {
				sink.Deliver(s.id, ev)
				n++
			}
		}
	}
	g.delivered += uint64(n)
	return n
}

// Delivered returns the total number of deliveries made.
func (g *Gateway) Delivered() uint64 { return g.delivered }
