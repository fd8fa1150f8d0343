// Package blackboard holds the agent's world state: needs, mood, counted
// objects and free-form variables.
//
// Needs, mood and object counts are ordinary entries stored under prefixed
// keys, so a single Set from a script or a planner effect can change any of
// them:
//
//	need.energy    = "low"
//	mood.happy     = 0.4
//	objects.cube   = 2
package blackboard

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"
)

// Key prefixes for the typed views.
const (
	NeedPrefix   = "need."
	MoodPrefix   = "mood."
	ObjectPrefix = "objects."
)

// Blackboard is a thread-safe key-value store. The zero value is ready to
// use.
type Blackboard struct {
	mu      sync.RWMutex
	data    map[string]any
	version uint64
}

// New returns a Blackboard holding a copy of initial.
func New(initial map[string]any) *Blackboard {
	b := new(Blackboard)
	for k, v := range initial {
		b.Set(k, v)
	}
	return b
}

// Get returns the value stored under key, or nil.
func (b *Blackboard) Get(key string) any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.data[key]
}

// Set stores value under key.
func (b *Blackboard) Set(key string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		b.data = make(map[string]any)
	}
	b.data[key] = normalize(value)
	b.version++
}

// Merge stores every entry of values.
func (b *Blackboard) Merge(values map[string]any) {
	for _, k := range slices.Sorted(maps.Keys(values)) {
		b.Set(k, values[k])
	}
}

// Has reports whether key is set.
func (b *Blackboard) Has(key string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.data[key]
	return ok
}

// Delete removes key.
func (b *Blackboard) Delete(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.data[key]; ok {
		delete(b.data, key)
		b.version++
	}
}

// Keys returns every key, sorted.
func (b *Blackboard) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Sorted(maps.Keys(b.data))
}

// Len returns the number of entries.
func (b *Blackboard) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

// Version increases on every change.
func (b *Blackboard) Version() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.version
}

// Snapshot returns a shallow copy of every entry.
func (b *Blackboard) Snapshot() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]any, len(b.data))
	maps.Copy(out, b.data)
	return out
}

// Variable returns the value under key.
func (b *Blackboard) Variable(key string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[key]
	return v, ok
}

// NeedBracket returns the bracket need is in, or "" if unknown.
func (b *Blackboard) NeedBracket(need string) string {
	s, _ := b.Get(NeedPrefix + need).(string)
	return s
}

// SetNeedBracket records the bracket need is in.
func (b *Blackboard) SetNeedBracket(need, bracket string) { b.Set(NeedPrefix+need, bracket) }

// Mood returns the value of a mood dimension, or 0.
func (b *Blackboard) Mood(dimension string) float64 {
	f, _ := toFloat(b.Get(MoodPrefix + dimension))
	return f
}

// SetMood records a mood dimension.
func (b *Blackboard) SetMood(dimension string, value float64) { b.Set(MoodPrefix+dimension, value) }

// ObjectCount returns how many objects of kind are known, or 0.
func (b *Blackboard) ObjectCount(kind string) int {
	f, _ := toFloat(b.Get(ObjectPrefix + kind))
	return int(f)
}

// SetObjectCount records how many objects of kind are known.
func (b *Blackboard) SetObjectCount(kind string, n int) { b.Set(ObjectPrefix+kind, n) }

// normalize turns the numeric types produced by decoders into int or
// float64, so that expressions compare them consistently.
func normalize(v any) any {
	switch n := v.(type) {
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		f, _ := toFloat(n)
		return int(f)
	case float32:
		return float64(n)
	case float64:
		if n == float64(int64(n)) && n >= -1<<53 && n <= 1<<53 {
			return int(n)
		}
		return n
	default:
		return v
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// String formats the blackboard for debugging.
func (b *Blackboard) String() string {
	return fmt.Sprintf("Blackboard{%d entries, v%d}", b.Len(), b.Version())
}
