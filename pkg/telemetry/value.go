package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ValueKind identifies the scalar type carried by a Value.
type ValueKind int

const (
	// KindString is a string attribute value.
	KindString ValueKind = iota
	// KindInt is a 64-bit integer attribute value.
	KindInt
	// KindFloat is a 64-bit floating point attribute value.
	KindFloat
	// KindBool is a boolean attribute value.
	KindBool
)

// Value is a typed telemetry attribute value. The zero value is the empty
// string.
type Value struct {
	kind ValueKind
	str  string
	num  int64
	flt  float64
	bl   bool
}

// StringValue returns a Value holding a string.
func StringValue(v string) Value { return Value{kind: KindString, str: v} }

// IntValue returns a Value holding a 64-bit integer.
func IntValue(v int64) Value { return Value{kind: KindInt, num: v} }

// FloatValue returns a Value holding a 64-bit float.
func FloatValue(v float64) Value { return Value{kind: KindFloat, flt: v} }

// BoolValue returns a Value holding a boolean.
func BoolValue(v bool) Value { return Value{kind: KindBool, bl: v} }

// ValueOf converts a dynamically-typed scalar (as produced by yaml/json
// decoding) into a Value. Unsupported types are rejected.
func ValueOf(v any) (Value, error) {
	switch x := v.(type) {
	case string:
		return StringValue(x), nil
	case int:
		return IntValue(int64(x)), nil
	case int64:
		return IntValue(x), nil
	case float64:
		return FloatValue(x), nil
	case bool:
		return BoolValue(x), nil
	default:
		return Value{}, fmt.Errorf("telemetry: unsupported attribute value type %T", v)
	}
}

// Kind returns the scalar type of the value.
func (v Value) Kind() ValueKind { return v.kind }

// AsString renders the value as a string regardless of its kind.
func (v Value) AsString() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.num, 10)
	case KindFloat:
		return strconv.FormatFloat(v.flt, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.bl)
	default:
		return v.str
	}
}

// AsBool returns the boolean payload. It is false for non-boolean values.
func (v Value) AsBool() bool { return v.kind == KindBool && v.bl }

// Equal reports whether two values have the same kind and payload.
func (v Value) Equal(o Value) bool { return v == o }

// MarshalJSON encodes the value using its native JSON type.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindInt:
		return json.Marshal(v.num)
	case KindFloat:
		return json.Marshal(v.flt)
	case KindBool:
		return json.Marshal(v.bl)
	default:
		return json.Marshal(v.str)
	}
}

// UnmarshalJSON decodes a scalar JSON value. JSON numbers without a
// fractional part decode as integers.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if n, ok := raw.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			*v = IntValue(i)
			return nil
		}
		f, err := n.Float64()
		if err != nil {
			return err
		}
		*v = FloatValue(f)
		return nil
	}
	parsed, err := ValueOf(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
