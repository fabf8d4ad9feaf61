package typed

import (
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Encoder converts field values to and from the JSON-compatible form kept in
// the state store.
type Encoder interface {
	// Encode returns a value json.Marshal accepts.
	Encode(v any) (any, error)

	// Decode fills dst (a pointer) from the stored encoding.
	Decode(data json.RawMessage, dst any) error
}

// DefaultEncoder encodes uuid.UUID as its string form, time.Time as UTC
// RFC 3339, encoding.TextMarshaler values as text, and maps, slices, arrays
// and structs recursively. Everything else is stored as is.
//
// Decoding is json.Unmarshal, which accepts all of the above.
type DefaultEncoder struct{}

var (
	timeType          = reflect.TypeOf(time.Time{})
	uuidType          = reflect.TypeOf(uuid.UUID{})
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
)

// Encode implements Encoder.
func (DefaultEncoder) Encode(v any) (any, error) {
	return encodeValue(reflect.ValueOf(v))
}

// Decode implements Encoder.
func (DefaultEncoder) Decode(data json.RawMessage, dst any) error {
	return json.Unmarshal(data, dst)
}

func encodeValue(rv reflect.Value) (any, error) {
	if !rv.IsValid() {
		return nil, nil
	}

	switch rv.Type() {
	case uuidType:
		return rv.Interface().(uuid.UUID).String(), nil
	case timeType:
		return rv.Interface().(time.Time).UTC().Format(time.RFC3339Nano), nil
	}
	if rv.Type().Implements(jsonMarshalerType) {
		if rv.Kind() == reflect.Pointer && rv.IsNil() {
			return nil, nil
		}
		return rv.Interface(), nil
	}
	if rv.Type().Implements(textMarshalerType) {
		if rv.Kind() == reflect.Pointer && rv.IsNil() {
			return nil, nil
		}
		text, err := rv.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return nil, err
		}
		return string(text), nil
	}

	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return encodeValue(rv.Elem())

	case reflect.Map:
		if rv.IsNil() {
			return nil, nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key, err := encodeKey(iter.Key())
			if err != nil {
				return nil, err
			}
			val, err := encodeValue(iter.Value())
			if err != nil {
				return nil, err
			}
			out[key] = val
		}
		return out, nil

	case reflect.Slice:
		if rv.IsNil() {
			return nil, nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return rv.Interface(), nil
		}
		fallthrough
	case reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			val, err := encodeValue(rv.Index(i))
			if err != nil {
				return nil, err
			}
			out[i] = val
		}
		return out, nil

	case reflect.Struct:
		t := rv.Type()
		out := make(map[string]any, t.NumField())
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			name, ok := jsonName(f)
			if !ok {
				continue
			}
			val, err := encodeValue(rv.Field(i))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", f.Name, err)
			}
			// Embedded structs are flattened, as encoding/json does.
			if promoted, ok := val.(map[string]any); ok && f.Anonymous && f.Tag.Get("json") == "" {
				for k, v := range promoted {
					if _, exists := out[k]; !exists {
						out[k] = v
					}
				}
				continue
			}
			out[name] = val
		}
		return out, nil

	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return nil, fmt.Errorf("typed: %s is not serializable", rv.Type())
	}
	return rv.Interface(), nil
}

func encodeKey(k reflect.Value) (string, error) {
	if k.Kind() == reflect.String {
		return k.String(), nil
	}
	v, err := encodeValue(k)
	if err != nil {
		return "", err
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return fmt.Sprint(v), nil
}

// jsonName mirrors encoding/json field naming so Decode reads back what
// Encode wrote.
func jsonName(f reflect.StructField) (string, bool) {
	if !f.IsExported() {
		return "", false
	}
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false
	}
	if name, _, _ := strings.Cut(tag, ","); name != "" {
		return name, true
	}
	return f.Name, true
}
