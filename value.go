package orbital

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
)

// Kind is the wire type tag of a Value.
type Kind uint8

const (
	KindNull   Kind = 0
	KindJSON   Kind = 1
	KindBinary Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindJSON:
		return "json"
	case KindBinary:
		return "binary"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is one argument or result carried in a packet: NULL, a JSON document,
// or raw bytes.
type Value struct {
	kind Kind
	data []byte
}

// Null returns the NULL value.
func Null() Value {
	return Value{kind: KindNull}
}

// JSON returns a JSON value holding text verbatim. The text is not validated.
func JSON(text []byte) Value {
	return Value{kind: KindJSON, data: text}
}

// Binary returns a BINARY value holding b.
func Binary(b []byte) Value {
	if b == nil {
		b = []byte{}
	}
	return Value{kind: KindBinary, data: b}
}

// NewValue converts a Go argument into a Value.
//
//   - nil, a nil []byte and any other nil map, slice, pointer, interface,
//     func or channel become NULL
//   - []byte becomes BINARY
//   - Value is used as is
//   - json.RawMessage is carried as JSON text without re-encoding
//   - anything else is encoded with encoding/json
func NewValue(v interface{}) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case []byte:
		if x == nil {
			return Null(), nil
		}
		return Binary(x), nil
	case json.RawMessage:
		if x == nil {
			return Null(), nil
		}
		return JSON(x), nil
	default:
		if isNil(v) {
			return Null(), nil
		}
		text, err := json.Marshal(v)
		if err != nil {
			return Value{}, fmt.Errorf("orbital: encode %T as json: %w", v, err)
		}
		return JSON(text), nil
	}
}

func isNil(v interface{}) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Ptr, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// NewValues converts each argument with NewValue.
func NewValues(args ...interface{}) ([]Value, error) {
	out := make([]Value, len(args))
	for i, arg := range args {
		v, err := NewValue(arg)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// BinaryValue marshals v with s and wraps the result as a BINARY value.
func BinaryValue(s Serializer, v interface{}) (Value, error) {
	b, err := s.Marshal(v)
	if err != nil {
		return Value{}, fmt.Errorf("orbital: serialize %T: %w", v, err)
	}
	return Binary(b), nil
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

// Bytes returns the raw body: JSON text or binary bytes. It is nil for NULL.
func (v Value) Bytes() []byte { return v.data }

// Decode unmarshals the value into target. NULL leaves target untouched,
// JSON is decoded with encoding/json, and BINARY is copied into a *[]byte
// target or decoded as JSON otherwise.
func (v Value) Decode(target interface{}) error {
	switch v.kind {
	case KindNull:
		return nil
	case KindJSON:
		return json.Unmarshal(v.data, target)
	case KindBinary:
		if b, ok := target.(*[]byte); ok {
			*b = append((*b)[:0], v.data...)
			return nil
		}
		return json.Unmarshal(v.data, target)
	default:
		return fmt.Errorf("orbital: cannot decode value of %s", v.kind)
	}
}

// DecodeWith unmarshals a BINARY value with s.
func (v Value) DecodeWith(s Serializer, target interface{}) error {
	if v.kind != KindBinary {
		return fmt.Errorf("orbital: DecodeWith needs a binary value, got %s", v.kind)
	}
	return s.Unmarshal(v.data, target)
}

// Interface decodes the value into a generic Go representation: nil for NULL,
// the encoding/json default mapping for JSON, and []byte for BINARY.
func (v Value) Interface() (interface{}, error) {
	switch v.kind {
	case KindNull:
		return nil, nil
	case KindBinary:
		return v.data, nil
	default:
		var out interface{}
		if err := json.Unmarshal(v.data, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

// Equal reports whether two values carry the same tag and body.
func (v Value) Equal(o Value) bool {
	return v.kind == o.kind && bytes.Equal(v.data, o.data)
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindJSON:
		return string(v.data)
	default:
		return fmt.Sprintf("<%s %d bytes>", v.kind, len(v.data))
	}
}
