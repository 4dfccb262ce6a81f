package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ValueKind identifies the concrete type carried by a Value
type ValueKind string

const (
	KindNumber ValueKind = "number"
	KindString ValueKind = "string"
	KindBool   ValueKind = "bool"
)

// Value is a scalar field or condition value: a number, a string or a boolean
type Value struct {
	Kind ValueKind
	Num  float64
	Str  string
	Bool bool
}

// Number builds a numeric Value
func Number(n float64) Value {
	return Value{Kind: KindNumber, Num: n}
}

// String builds a string Value
func String(s string) Value {
	return Value{Kind: KindString, Str: s}
}

// Bool builds a boolean Value
func Bool(b bool) Value {
	return Value{Kind: KindBool, Bool: b}
}

// IsNumber reports whether the value is numeric
func (v Value) IsNumber() bool {
	return v.Kind == KindNumber
}

// Equal is strict equality: values of different kinds are never equal
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindNumber:
		return v.Num == other.Num
	case KindString:
		return v.Str == other.Str
	case KindBool:
		return v.Bool == other.Bool
	}
	return false
}

// Literal renders the value the way the strategy DSL writes it
func (v Value) Literal() string {
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindString:
		return strconv.Quote(v.Str)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	}
	return ""
}

func (v Value) String() string {
	if v.Kind == KindString {
		return v.Str
	}
	return v.Literal()
}

// MarshalJSON encodes the value as a bare JSON scalar
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNumber:
		return json.Marshal(v.Num)
	case KindString:
		return json.Marshal(v.Str)
	case KindBool:
		return json.Marshal(v.Bool)
	}
	return []byte("null"), nil
}

// UnmarshalJSON decodes a JSON scalar into a Value
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty value")
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
	case 'n':
		return fmt.Errorf("null is not a valid value")
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("unsupported value %s", string(data))
		}
		*v = Number(n)
	}
	return nil
}

// Operand is the right-hand side of a condition: a scalar or a list of values
type Operand struct {
	Scalar *Value
	List   []Value
}

// ScalarOperand wraps a single value
func ScalarOperand(v Value) Operand {
	return Operand{Scalar: &v}
}

// ListOperand wraps a list of values
func ListOperand(values ...Value) Operand {
	return Operand{List: values}
}

// IsList reports whether the operand holds a list
func (o Operand) IsList() bool {
	return o.Scalar == nil && o.List != nil
}

// IsEmpty reports whether the operand carries nothing at all
func (o Operand) IsEmpty() bool {
	return o.Scalar == nil && o.List == nil
}

// MarshalJSON encodes a scalar operand as a JSON scalar and a list as an array
func (o Operand) MarshalJSON() ([]byte, error) {
	if o.Scalar != nil {
		return json.Marshal(*o.Scalar)
	}
	if o.List != nil {
		return json.Marshal(o.List)
	}
	return []byte("null"), nil
}

// UnmarshalJSON accepts a JSON scalar or array
func (o *Operand) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*o = Operand{}
		return nil
	}
	if len(data) > 0 && data[0] == '[' {
		var list []Value
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		if list == nil {
			list = []Value{}
		}
		*o = Operand{List: list}
		return nil
	}
	var v Value
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = ScalarOperand(v)
	return nil
}
