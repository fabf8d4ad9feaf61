package trigger

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Call carries the marshaled arguments of a trigger invocation.
//
// Arguments stay encoded until the handler asks for them with the type it
// expects:
//
//	func(ctx context.Context, call *trigger.Call) (any, error) {
//	    var step int
//	    if err := call.Arg(0, &step); err != nil {
//	        return nil, err
//	    }
//	    ...
//	}
type Call struct {
	// Name is the trigger name being invoked.
	Name string

	// Client identifies the remote caller. Empty for server-side calls.
	Client string

	// Args are the positional arguments.
	Args []json.RawMessage

	// Kwargs are the keyword arguments.
	Kwargs map[string]json.RawMessage
}

// NewCall builds a Call by encoding Go values.
func NewCall(name string, args []any, kwargs map[string]any) (*Call, error) {
	call := &Call{Name: name}
	for i, a := range args {
		raw, err := json.Marshal(a)
		if err != nil {
			return nil, &ArgumentError{Trigger: name, Position: i, Err: err}
		}
		call.Args = append(call.Args, raw)
	}
	if len(kwargs) > 0 {
		call.Kwargs = make(map[string]json.RawMessage, len(kwargs))
		for k, v := range kwargs {
			raw, err := json.Marshal(v)
			if err != nil {
				return nil, &ArgumentError{Trigger: name, Keyword: k, Err: err}
			}
			call.Kwargs[k] = raw
		}
	}
	return call, nil
}

// NumArgs returns the number of positional arguments.
func (c *Call) NumArgs() int {
	return len(c.Args)
}

// Arg decodes positional argument i into v.
func (c *Call) Arg(i int, v any) error {
	if i < 0 || i >= len(c.Args) {
		return &ArgumentError{Trigger: c.Name, Position: i, Err: fmt.Errorf("missing, got %d arguments", len(c.Args))}
	}
	if err := json.Unmarshal(c.Args[i], v); err != nil {
		return &ArgumentError{Trigger: c.Name, Position: i, Err: err}
	}
	return nil
}

// Kwarg decodes keyword argument name into v. It reports false, with no
// error, when the keyword was not passed.
func (c *Call) Kwarg(name string, v any) (bool, error) {
	raw, ok := c.Kwargs[name]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, &ArgumentError{Trigger: c.Name, Keyword: name, Err: err}
	}
	return true, nil
}

// KwargNames returns the passed keyword names, sorted.
func (c *Call) KwargNames() []string {
	names := make([]string, 0, len(c.Kwargs))
	for k := range c.Kwargs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
