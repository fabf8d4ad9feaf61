package state

import (
	"bytes"
	"encoding/json"
)

// ChangeSet is an ordered key → value mapping produced by a flush or a
// snapshot. It marshals to a JSON object whose members keep that order.
//
// A ChangeSet is immutable once handed out; Filter and Merge return copies.
type ChangeSet struct {
	items []change
	index map[string]int
}

type change struct {
	key   string
	value any
	raw   json.RawMessage
}

func (cs *ChangeSet) put(key string, value any, raw json.RawMessage) {
	if cs.index == nil {
		cs.index = make(map[string]int)
	}
	if i, ok := cs.index[key]; ok {
		cs.items[i].value = value
		cs.items[i].raw = raw
		return
	}
	cs.index[key] = len(cs.items)
	cs.items = append(cs.items, change{key: key, value: value, raw: raw})
}

// Len returns the number of keys in the change set.
func (cs ChangeSet) Len() int {
	return len(cs.items)
}

// Empty reports whether the change set holds no keys.
func (cs ChangeSet) Empty() bool {
	return len(cs.items) == 0
}

// Keys returns the keys in order.
func (cs ChangeSet) Keys() []string {
	keys := make([]string, len(cs.items))
	for i, it := range cs.items {
		keys[i] = it.key
	}
	return keys
}

// Has reports whether key is part of the change set.
func (cs ChangeSet) Has(key string) bool {
	_, ok := cs.index[key]
	return ok
}

// Get returns the value recorded for key.
func (cs ChangeSet) Get(key string) (any, bool) {
	i, ok := cs.index[key]
	if !ok {
		return nil, false
	}
	return cs.items[i].value, true
}

// Raw returns the encoded value recorded for key.
func (cs ChangeSet) Raw(key string) (json.RawMessage, bool) {
	i, ok := cs.index[key]
	if !ok {
		return nil, false
	}
	return cs.items[i].raw, true
}

// HasAny reports whether any of keys is part of the change set.
func (cs ChangeSet) HasAny(keys ...string) bool {
	for _, k := range keys {
		if cs.Has(k) {
			return true
		}
	}
	return false
}

// Map returns the change set as a plain map. Ordering is lost.
func (cs ChangeSet) Map() map[string]any {
	m := make(map[string]any, len(cs.items))
	for _, it := range cs.items {
		m[it.key] = it.value
	}
	return m
}

// Filter returns the subset of keys for which keep returns true.
func (cs ChangeSet) Filter(keep func(key string) bool) ChangeSet {
	var out ChangeSet
	for _, it := range cs.items {
		if keep(it.key) {
			out.put(it.key, it.value, it.raw)
		}
	}
	return out
}

// Merge returns cs overlaid with other. Keys keep their first position;
// values from other win.
func (cs ChangeSet) Merge(other ChangeSet) ChangeSet {
	var out ChangeSet
	for _, it := range cs.items {
		out.put(it.key, it.value, it.raw)
	}
	for _, it := range other.items {
		out.put(it.key, it.value, it.raw)
	}
	return out
}

// MarshalJSON encodes the change set as an ordered JSON object.
func (cs ChangeSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, it := range cs.items {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(it.key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(it.raw)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
