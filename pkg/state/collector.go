package state

import "bytes"

// collector accumulates dirty keys for the current outermost episode.
//
// For every key it remembers the encoded value the key had before the episode
// first touched it, so a key that ends the episode back at its original value
// drops out of the diff.
type collector struct {
	order    []string
	baseline map[string]baseline
}

type baseline struct {
	raw     []byte
	existed bool
}

func newCollector() *collector {
	return &collector{baseline: make(map[string]baseline)}
}

// mark records key as dirty. Only the first mark in an episode keeps its
// baseline.
func (c *collector) mark(key string, prev []byte, existed bool) {
	if _, ok := c.baseline[key]; ok {
		return
	}
	c.baseline[key] = baseline{raw: prev, existed: existed}
	c.order = append(c.order, key)
}

func (c *collector) empty() bool {
	return len(c.order) == 0
}

// diff builds the change set for the dirty keys from current entries.
// It does not clear the collector.
func (c *collector) diff(entries map[string]*entry) ChangeSet {
	var cs ChangeSet
	for _, key := range c.order {
		e, ok := entries[key]
		if !ok {
			continue
		}
		base := c.baseline[key]
		if base.existed && bytes.Equal(base.raw, e.raw) {
			continue
		}
		cs.put(key, e.value, e.raw)
	}
	return cs
}

// drain returns the diff and resets the collector.
func (c *collector) drain(entries map[string]*entry) ChangeSet {
	cs := c.diff(entries)
	c.reset()
	return cs
}

func (c *collector) reset() {
	c.order = c.order[:0]
	clear(c.baseline)
}
