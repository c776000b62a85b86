package util

import (
	"log/slog"
	"maps"
	"slices"
)

// Counter tallies outcomes by key, e.g. "parse_error" or "dialogue_no_summary".
// It is not safe for concurrent use.
type Counter struct {
	counts map[string]int
}

// NewCounter returns an empty counter.
func NewCounter() *Counter {
	return &Counter{counts: make(map[string]int)}
}

// Inc adds one to key.
func (c *Counter) Inc(key string) {
	c.Add(key, 1)
}

// Add adds n to key.
func (c *Counter) Add(key string, n int) {
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[key] += n
}

// Get returns the count for key.
func (c *Counter) Get(key string) int {
	return c.counts[key]
}

// Total returns the sum of all counts.
func (c *Counter) Total() int {
	total := 0
	for _, n := range c.counts {
		total += n
	}
	return total
}

// Keys returns the recorded keys in sorted order.
func (c *Counter) Keys() []string {
	return slices.Sorted(maps.Keys(c.counts))
}

// Snapshot returns a copy of the counts.
func (c *Counter) Snapshot() map[string]int {
	return maps.Clone(c.counts)
}

// LogValue renders the counts as a sorted slog group.
func (c *Counter) LogValue() slog.Value {
	keys := c.Keys()
	attrs := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, slog.Int(k, c.counts[k]))
	}
	return slog.GroupValue(attrs...)
}
