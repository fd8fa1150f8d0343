// Package logging provides a bounded in-memory slog handler that keeps the
// most recent records, optionally forwarding every record to another
// handler.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

// DefaultSize is the capacity used when none is given.
const DefaultSize = 1000

// Entry is one retained record.
type Entry struct {
	Time    time.Time         `json:"time"`
	Level   slog.Level        `json:"level"`
	Message string            `json:"message"`
	Attrs   map[string]string `json:"attrs"`
}

func (e Entry) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s", e.Level, e.Message)
	for _, k := range slices.Sorted(maps.Keys(e.Attrs)) {
		fmt.Fprintf(&sb, " %s=%s", k, e.Attrs[k])
	}
	return sb.String()
}

// Buffer is a ring of the most recent entries. It is safe for concurrent
// use.
type Buffer struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	full    bool
	dropped uint64
	level   slog.Leveler
}

// NewBuffer returns a Buffer holding up to size entries at or above level.
// A nil level means slog.LevelInfo.
func NewBuffer(size int, level slog.Leveler) *Buffer {
	if size <= 0 {
		size = DefaultSize
	}
	if level == nil {
		level = slog.LevelInfo
	}
	return &Buffer{entries: make([]Entry, size), level: level}
}

// Handler returns a slog.Handler writing to b. If next is non-nil, records
// are also passed to it.
func (b *Buffer) Handler(next slog.Handler) slog.Handler {
	return &handler{buf: b, next: next}
}

// Logger is shorthand for slog.New(b.Handler(next)).
func (b *Buffer) Logger(next slog.Handler) *slog.Logger { return slog.New(b.Handler(next)) }

func (b *Buffer) add(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.full {
		b.dropped++
	}
	b.entries[b.next] = e
	b.next++
	if b.next == len(b.entries) {
		b.next, b.full = 0, true
	}
}

// Len returns the number of retained entries.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.full {
		return len(b.entries)
	}
	return b.next
}

// Dropped returns how many entries were overwritten.
func (b *Buffer) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Entries returns a copy of the retained entries, oldest first.
func (b *Buffer) Entries() []Entry { return b.Recent(0) }

// Recent returns up to n of the newest entries, oldest first. n <= 0 means
// all of them.
func (b *Buffer) Recent(n int) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var ordered []Entry
	if b.full {
		ordered = append(append(ordered, b.entries[b.next:]...), b.entries[:b.next]...)
	} else {
		ordered = append(ordered, b.entries[:b.next]...)
	}
	if n > 0 && n < len(ordered) {
		ordered = ordered[len(ordered)-n:]
	}
	return ordered
}

// Search returns entries whose message, attribute keys or values contain
// query, ignoring case.
func (b *Buffer) Search(query string) []Entry {
	query = strings.ToLower(query)
	var matches []Entry
	for _, e := range b.Entries() {
		if strings.Contains(strings.ToLower(e.Message), query) {
			matches = append(matches, e)
			continue
		}
		for k, v := range e.Attrs {
			if strings.Contains(strings.ToLower(k), query) || strings.Contains(strings.ToLower(v), query) {
				matches = append(matches, e)
				break
			}
		}
	}
	return matches
}

// Clear removes every entry.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.entries)
	b.next, b.full, b.dropped = 0, false, 0
}

type handler struct {
	buf    *Buffer
	attrs  []slog.Attr
	prefix string
	next   slog.Handler
}

func (h *handler) Enabled(ctx context.Context, level slog.Level) bool {
	if level >= h.buf.level.Level() {
		return true
	}
	return h.next != nil && h.next.Enabled(ctx, level)
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.buf.level.Level() {
		attrs := make(map[string]string, len(h.attrs)+r.NumAttrs())
		for _, a := range h.attrs {
			flatten(attrs, "", a)
		}
		r.Attrs(func(a slog.Attr) bool {
			flatten(attrs, h.prefix, a)
			return true
		})
		h.buf.add(Entry{Time: r.Time, Level: r.Level, Message: r.Message, Attrs: attrs})
	}
	if h.next != nil && h.next.Enabled(ctx, r.Level) {
		return h.next.Handle(ctx, r)
	}
	return nil
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		c.attrs = append(c.attrs, a)
	}
	if h.next != nil {
		c.next = h.next.WithAttrs(attrs)
	}
	return &c
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.prefix = h.prefix + name + "."
	if h.next != nil {
		c.next = h.next.WithGroup(name)
	}
	return &c
}

func flatten(dst map[string]string, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, g := range a.Value.Group() {
			flatten(dst, p, g)
		}
		return
	}
	if a.Key == "" {
		return
	}
	dst[prefix+a.Key] = a.Value.String()
}

// ParseLevel parses debug, info, warn or error. The empty string is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", s)
	}
}
