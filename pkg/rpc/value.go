package rpc

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind enumerates the JSON value kinds permitted in params, results and ids.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindObject
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	}
	return "unknown"
}

// TypeMismatchError is returned by Value accessors when the value holds a
// different kind than the one requested. Accessors never coerce.
type TypeMismatchError struct {
	Want Kind
	Got  Kind
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch: want %s, got %s", e.Want, e.Got)
}

// Value is a single JSON value restricted to the closed set of kinds the wire
// contract permits. The zero Value is null.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	obj  map[string]Value
	arr  []Value
}

func Null() Value                     { return Value{kind: KindNull} }
func String(s string) Value           { return Value{kind: KindString, str: s} }
func Number(n float64) Value          { return Value{kind: KindNumber, num: n} }
func Bool(b bool) Value               { return Value{kind: KindBool, b: b} }
func Object(m map[string]Value) Value { return Value{kind: KindObject, obj: m} }
func Array(vs ...Value) Value         { return Value{kind: KindArray, arr: vs} }

// FromGo converts a decoded JSON value (as produced by encoding/json into any)
// into a Value. Unsupported Go types yield an error.
func FromGo(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case string:
		return String(t), nil
	case float64:
		return Number(t), nil
	case int:
		return Number(float64(t)), nil
	case bool:
		return Bool(t), nil
	case map[string]any:
		obj := make(map[string]Value, len(t))
		for k, v := range t {
			val, err := FromGo(v)
			if err != nil {
				return Value{}, err
			}
			obj[k] = val
		}
		return Object(obj), nil
	case []any:
		arr := make([]Value, len(t))
		for i, v := range t {
			val, err := FromGo(v)
			if err != nil {
				return Value{}, err
			}
			arr[i] = val
		}
		return Array(arr...), nil
	}
	return Value{}, fmt.Errorf("unsupported value type %T", x)
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsString() (string, error) {
	if v.kind != KindString {
		return "", &TypeMismatchError{Want: KindString, Got: v.kind}
	}
	return v.str, nil
}

func (v Value) AsNumber() (float64, error) {
	if v.kind != KindNumber {
		return 0, &TypeMismatchError{Want: KindNumber, Got: v.kind}
	}
	return v.num, nil
}

func (v Value) AsBool() (bool, error) {
	if v.kind != KindBool {
		return false, &TypeMismatchError{Want: KindBool, Got: v.kind}
	}
	return v.b, nil
}

func (v Value) AsObject() (map[string]Value, error) {
	if v.kind != KindObject {
		return nil, &TypeMismatchError{Want: KindObject, Got: v.kind}
	}
	return v.obj, nil
}

func (v Value) AsArray() ([]Value, error) {
	if v.kind != KindArray {
		return nil, &TypeMismatchError{Want: KindArray, Got: v.kind}
	}
	return v.arr, nil
}

// Interface returns the value in its native Go form (string, float64, bool,
// nil, map[string]any, []any), suitable for mapstructure binding.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for k, e := range v.obj {
			out[k] = e.Interface()
		}
		return out
	case KindArray:
		out := make([]any, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.Interface()
		}
		return out
	}
	return nil
}

// Equal reports deep equality of kind and content. A string never equals a
// number, so "1" != 1.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	case KindObject:
		if len(v.obj) != len(o.obj) {
			return false
		}
		for k, e := range v.obj {
			oe, ok := o.obj[k]
			if !ok || !e.Equal(oe) {
				return false
			}
		}
		return true
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i, e := range v.arr {
			if !e.Equal(o.arr[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Text returns a diagnostic rendering of the value for log and report fields.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNull:
		return "null"
	}
	data, err := v.MarshalJSON()
	if err != nil {
		return v.kind.String()
	}
	return string(data)
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindObject:
		if v.obj == nil {
			return []byte("{}"), nil
		}
	case KindArray:
		if v.arr == nil {
			return []byte("[]"), nil
		}
	}
	return json.Marshal(v.Interface())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	val, err := FromGo(raw)
	if err != nil {
		return err
	}
	*v = val
	return nil
}
