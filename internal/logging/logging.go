// Package logging provides the slog plumbing shared by the jsb command and
// the bridge: an in-memory ring of recent records and a size-rotated log
// file.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// Entry is a single captured log record.
type Entry struct {
	Time    time.Time         `json:"time"`
	Level   slog.Level        `json:"level"`
	Message string            `json:"message"`
	Attrs   map[string]string `json:"attrs,omitempty"`
}

// String renders the entry the way `jsb --log-tail` prints it.
func (e Entry) String() string {
	var sb strings.Builder
	sb.WriteString(e.Time.Format(time.TimeOnly))
	sb.WriteByte(' ')
	sb.WriteString(e.Level.String())
	sb.WriteByte(' ')
	sb.WriteString(e.Message)
	keys := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%s", k, e.Attrs[k])
	}
	return sb.String()
}

// DefaultRingSize is used when NewRingHandler is given a size below one.
const DefaultRingSize = 1000

// ring is the storage shared by a RingHandler and every handler derived from
// it with WithAttrs or WithGroup.
type ring struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	full    bool
}

func (r *ring) add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = e
	r.next++
	if r.next == len(r.entries) {
		r.next = 0
		r.full = true
	}
}

// RingHandler is a slog.Handler that keeps the last N records in memory and
// optionally forwards every record to another handler.
type RingHandler struct {
	ring   *ring
	level  slog.Leveler
	next   slog.Handler
	attrs  []slog.Attr
	groups []string
}

// NewRingHandler returns a handler keeping up to size records at or above
// level. If next is non-nil, enabled records are also passed to it.
func NewRingHandler(size int, level slog.Leveler, next slog.Handler) *RingHandler {
	if size < 1 {
		size = DefaultRingSize
	}
	if level == nil {
		level = slog.LevelInfo
	}
	return &RingHandler{
		ring:  &ring{entries: make([]Entry, size)},
		level: level,
		next:  next,
	}
}

// Enabled implements slog.Handler.
func (h *RingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if level >= h.level.Level() {
		return true
	}
	return h.next != nil && h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *RingHandler) Handle(ctx context.Context, record slog.Record) error {
	if record.Level >= h.level.Level() {
		attrs := make(map[string]string, len(h.attrs)+record.NumAttrs())
		prefix := strings.Join(h.groups, ".")
		for _, a := range h.attrs {
			flatten(attrs, "", a)
		}
		record.Attrs(func(a slog.Attr) bool {
			flatten(attrs, prefix, a)
			return true
		})
		h.ring.add(Entry{
			Time:    record.Time,
			Level:   record.Level,
			Message: record.Message,
			Attrs:   attrs,
		})
	}
	if h.next != nil && h.next.Enabled(ctx, record.Level) {
		return h.next.Handle(ctx, record)
	}
	return nil
}

// flatten stores a under dotted keys, expanding groups.
func flatten(dst map[string]string, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if prefix != "" {
		if key == "" {
			key = prefix
		} else {
			key = prefix + "." + key
		}
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			flatten(dst, key, ga)
		}
		return
	}
	dst[key] = a.Value.String()
}

// WithAttrs implements slog.Handler.
func (h *RingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	c := h.clone()
	prefix := strings.Join(h.groups, ".")
	for _, a := range attrs {
		if prefix != "" {
			a = slog.Attr{Key: prefix, Value: slog.GroupValue(a)}
		}
		c.attrs = append(c.attrs, a)
	}
	if h.next != nil {
		c.next = h.next.WithAttrs(attrs)
	}
	return c
}

// WithGroup implements slog.Handler.
func (h *RingHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := h.clone()
	c.groups = append(c.groups, name)
	if h.next != nil {
		c.next = h.next.WithGroup(name)
	}
	return c
}

func (h *RingHandler) clone() *RingHandler {
	return &RingHandler{
		ring:   h.ring,
		level:  h.level,
		next:   h.next,
		attrs:  slices.Clip(h.attrs),
		groups: slices.Clip(h.groups),
	}
}

// Entries returns the retained records, oldest first.
func (h *RingHandler) Entries() []Entry {
	return h.Recent(0)
}

// Recent returns the last n records, oldest first. n <= 0 returns all of
// them.
func (h *RingHandler) Recent(n int) []Entry {
	r := h.ring
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []Entry
	if r.full {
		all = make([]Entry, 0, len(r.entries))
		all = append(all, r.entries[r.next:]...)
		all = append(all, r.entries[:r.next]...)
	} else {
		all = slices.Clone(r.entries[:r.next])
	}
	if n > 0 && n < len(all) {
		all = all[len(all)-n:]
	}
	return all
}

// Search returns the retained records whose message, attribute keys or
// attribute values contain query, ignoring case.
func (h *RingHandler) Search(query string) []Entry {
	query = strings.ToLower(query)
	var matches []Entry
	for _, e := range h.Entries() {
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

// Clear drops every retained record.
func (h *RingHandler) Clear() {
	r := h.ring
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.entries)
	r.next = 0
	r.full = false
}

// ParseLevel maps a config or flag value to a level. The empty string is
// info.
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
	}
	return slog.LevelInfo, fmt.Errorf("invalid log level: %s", s)
}
