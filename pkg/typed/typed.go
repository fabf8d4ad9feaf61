// Package typed binds Go struct types to keys of a state.Store.
//
// Every exported leaf field of T gets its own state key so clients can bind
// to individual fields:
//
//	type Window struct{ Width, Height int }
//	type Settings struct {
//	    Title  string
//	    Window Window
//	}
//
//	s, _ := typed.New[Settings](store, "app")
//	s.Keys()
//	// app__Settings__Title
//	// app__Settings__Window__Window__Width
//	// app__Settings__Window__Window__Height
//
// Nested structs recurse; time.Time, uuid.UUID and types with their own JSON
// or text encoding are leaves. A `state:"name"` tag renames a field and
// `state:"-"` skips it.
package typed

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/vango-dev/tether/pkg/state"
)

// Separator joins the parts of a state key.
const Separator = "__"

var (
	// ErrNotStruct is returned by New when T is not a struct type.
	ErrNotStruct = errors.New("typed: type is not a struct")

	// ErrUnknownField is returned for a path that names no field.
	ErrUnknownField = errors.New("typed: unknown field")

	// ErrFieldType is returned when a value does not match the field type.
	ErrFieldType = errors.New("typed: field type mismatch")
)

// FieldError reports a failure on one field.
type FieldError struct {
	Path string
	Key  string
	Err  error
}

func (e *FieldError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("typed: field %q: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("typed: field %q (%s): %v", e.Path, e.Key, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

type field struct {
	path  string // dotted Go path, e.g. "Window.Width"
	key   string
	index []int
	typ   reflect.Type
}

// Option configures a State.
type Option func(*options)

type options struct {
	encoder Encoder
	logger  *slog.Logger
}

// WithEncoder replaces DefaultEncoder.
func WithEncoder(enc Encoder) Option {
	return func(o *options) {
		if enc != nil {
			o.encoder = enc
		}
	}
}

// WithLogger sets the logger used for change callback failures.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// State is a typed view over a set of state keys.
type State[T any] struct {
	store   *state.Store
	prefix  string
	encoder Encoder
	logger  *slog.Logger

	fields   []*field
	byPath   map[string]*field
	byKey    map[string]*field
	prefixes map[string]string // nested struct path -> key prefix
}

// New binds T to store under namespace. An empty namespace uses the type
// name alone as the prefix.
func New[T any](store *state.Store, namespace string, opts ...Option) (*State[T], error) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s", ErrNotStruct, t)
	}

	o := options{
		encoder: DefaultEncoder{},
		logger:  slog.Default().With("component", "typed"),
	}
	for _, opt := range opts {
		opt(&o)
	}

	prefix := t.Name()
	if namespace != "" {
		prefix = namespace + Separator + prefix
	}

	s := &State[T]{
		store:    store,
		prefix:   prefix,
		encoder:  o.encoder,
		logger:   o.logger,
		byPath:   make(map[string]*field),
		byKey:    make(map[string]*field),
		prefixes: map[string]string{"": prefix},
	}
	s.collect(t, prefix, "", nil)
	return s, nil
}

func (s *State[T]) collect(t reflect.Type, prefix, path string, index []int) {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name := sf.Name
		if tag := sf.Tag.Get("state"); tag == "-" {
			continue
		} else if tag != "" {
			name = tag
		}

		key := prefix + Separator + name
		fieldPath := sf.Name
		if path != "" {
			fieldPath = path + "." + sf.Name
		}
		fieldIndex := append(append([]int(nil), index...), i)

		if isNested(sf.Type) {
			nested := key + Separator + sf.Type.Name()
			s.prefixes[fieldPath] = nested
			s.collect(sf.Type, nested, fieldPath, fieldIndex)
			continue
		}

		f := &field{path: fieldPath, key: key, index: fieldIndex, typ: sf.Type}
		s.fields = append(s.fields, f)
		s.byPath[fieldPath] = f
		s.byKey[key] = f
	}
}

func isNested(t reflect.Type) bool {
	if t.Kind() != reflect.Struct || t == timeType || t.Name() == "" {
		return false
	}
	pt := reflect.PointerTo(t)
	for _, iface := range []reflect.Type{jsonMarshalerType, textMarshalerType} {
		if t.Implements(iface) || pt.Implements(iface) {
			return false
		}
	}
	return true
}

// Store returns the underlying store.
func (s *State[T]) Store() *state.Store {
	return s.store
}

// Keys returns the state keys of every leaf field, in field order.
func (s *State[T]) Keys() []string {
	out := make([]string, len(s.fields))
	for i, f := range s.fields {
		out[i] = f.key
	}
	return out
}

// Key returns the state key for a field path. Path elements are Go field
// names; a path to a nested struct returns its key prefix and no path
// returns the prefix of T itself.
//
//	key, _ := s.Key("Window", "Width") // app__Settings__Window__Window__Width
func (s *State[T]) Key(path ...string) (string, error) {
	p := strings.Join(path, ".")
	if f, ok := s.byPath[p]; ok {
		return f.key, nil
	}
	if prefix, ok := s.prefixes[p]; ok {
		return prefix, nil
	}
	return "", &FieldError{Path: p, Err: ErrUnknownField}
}

// keysUnder resolves a path to every leaf key it covers.
func (s *State[T]) keysUnder(path string) ([]string, error) {
	if f, ok := s.byPath[path]; ok {
		return []string{f.key}, nil
	}
	if _, ok := s.prefixes[path]; !ok {
		return nil, &FieldError{Path: path, Err: ErrUnknownField}
	}
	var keys []string
	for _, f := range s.fields {
		if path == "" || strings.HasPrefix(f.path, path+".") {
			keys = append(keys, f.key)
		}
	}
	return keys, nil
}

// Encode returns the state entries for v, keyed by state key.
func (s *State[T]) Encode(v T) (map[string]any, error) {
	rv := reflect.ValueOf(&v).Elem()
	out := make(map[string]any, len(s.fields))
	for _, f := range s.fields {
		enc, err := s.encoder.Encode(rv.FieldByIndex(f.index).Interface())
		if err != nil {
			return nil, &state.ValidationError{Key: f.key, Err: err}
		}
		out[f.key] = enc
	}
	return out, nil
}

// Get assembles a T from the store. Absent keys leave the zero value.
func (s *State[T]) Get() (T, error) {
	var out T
	rv := reflect.ValueOf(&out).Elem()
	for _, f := range s.fields {
		raw, ok := s.store.Raw(f.key)
		if !ok {
			continue
		}
		dst := rv.FieldByIndex(f.index).Addr().Interface()
		if err := s.encoder.Decode(raw, dst); err != nil {
			return out, &FieldError{Path: f.path, Key: f.key, Err: err}
		}
	}
	return out, nil
}

// Set writes every field of v in one episode, so clients see a single
// change set. Nothing is written if any field fails to encode.
func (s *State[T]) Set(v T) error {
	values, err := s.Encode(v)
	if err != nil {
		return err
	}
	return s.store.Update(values)
}

// SetDefaults writes the fields of v whose keys are still absent.
func (s *State[T]) SetDefaults(v T) error {
	values, err := s.Encode(v)
	if err != nil {
		return err
	}
	return s.store.Episode(func() error {
		for _, f := range s.fields {
			if _, err := s.store.SetDefault(f.key, values[f.key]); err != nil {
				return err
			}
		}
		return nil
	})
}

// Field reads one field by path.
//
//	width, err := typed.Field[int](s, "Window", "Width")
func Field[V, T any](s *State[T], path ...string) (V, error) {
	var out V
	f, err := s.leaf(path)
	if err != nil {
		return out, err
	}
	if want := reflect.TypeOf((*V)(nil)).Elem(); want != f.typ {
		return out, &FieldError{Path: f.path, Key: f.key, Err: fmt.Errorf("%w: %s is %s, not %s", ErrFieldType, f.path, f.typ, want)}
	}
	raw, ok := s.store.Raw(f.key)
	if !ok {
		return out, nil
	}
	if err := s.encoder.Decode(raw, &out); err != nil {
		return out, &FieldError{Path: f.path, Key: f.key, Err: err}
	}
	return out, nil
}

// SetField writes one field by path. value must be assignable to the field.
func SetField[T any](s *State[T], value any, path ...string) error {
	f, err := s.leaf(path)
	if err != nil {
		return err
	}
	if value == nil {
		switch f.typ.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		default:
			return &FieldError{Path: f.path, Key: f.key, Err: fmt.Errorf("%w: nil for %s", ErrFieldType, f.typ)}
		}
	} else if vt := reflect.TypeOf(value); !vt.AssignableTo(f.typ) {
		return &FieldError{Path: f.path, Key: f.key, Err: fmt.Errorf("%w: %s is %s, not %s", ErrFieldType, f.path, f.typ, vt)}
	}

	enc, err := s.encoder.Encode(value)
	if err != nil {
		return &state.ValidationError{Key: f.key, Err: err}
	}
	return s.store.Set(f.key, enc)
}

func (s *State[T]) leaf(path []string) (*field, error) {
	p := strings.Join(path, ".")
	f, ok := s.byPath[p]
	if !ok {
		return nil, &FieldError{Path: p, Err: ErrUnknownField}
	}
	return f, nil
}

// ChangeFunc receives the current value and the paths of the fields that
// changed.
type ChangeFunc[T any] func(value T, changed []string)

// OnChange calls fn after every flush touching one of paths (any field when
// none are given). Paths are dotted, e.g. "Window.Width"; a path to a nested
// struct watches all of its fields. fn runs inside the store's change
// listener episode.
func (s *State[T]) OnChange(fn ChangeFunc[T], paths ...string) (cancel func(), err error) {
	var keys []string
	if len(paths) == 0 {
		keys = s.Keys()
	}
	for _, p := range paths {
		under, err := s.keysUnder(p)
		if err != nil {
			return nil, err
		}
		keys = append(keys, under...)
	}

	return s.store.OnChange(func(cs state.ChangeSet) {
		var changed []string
		for _, key := range cs.Keys() {
			if f, ok := s.byKey[key]; ok && contains(keys, key) {
				changed = append(changed, f.path)
			}
		}
		v, err := s.Get()
		if err != nil {
			s.logger.Error("typed change decode failed", "prefix", s.prefix, "error", err)
			return
		}
		fn(v, changed)
	}, keys...), nil
}

func contains(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
