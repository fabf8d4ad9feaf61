package state

import "encoding/json"

// Value returns the value under key as a T, or def when the key is absent or
// cannot be represented as a T.
//
// Values written by clients arrive as decoded JSON (numbers are float64), so
// when a direct type assertion fails the encoded form is decoded into T:
//
//	count := state.Value(st, "count", 0) // int even if a client sent 3.0
func Value[T any](s *Store, key string, def T) T {
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	if t, ok := v.(T); ok {
		return t
	}
	raw, ok := s.Raw(key)
	if !ok {
		return def
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return def
	}
	return out
}
