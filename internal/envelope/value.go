// Package envelope defines the canonical Event Envelope and the open,
// dynamically-typed payload value it carries.
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind identifies which variant of Value is populated.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

// Value is a tagged union over the JSON value space: null, bool, number,
// string, list, or map. It is the typed stand-in for the source system's
// open payload mapping, and is what PrivacyGuard walks recursively.
type Value struct {
	Kind Kind
	Bool bool
	Num  float64
	Str  string
	List []Value
	Map  map[string]Value
}

func Null() Value             { return Value{Kind: KindNull} }
func FromBool(b bool) Value   { return Value{Kind: KindBool, Bool: b} }
func FromNumber(n float64) Value { return Value{Kind: KindNumber, Num: n} }
func FromString(s string) Value  { return Value{Kind: KindString, Str: s} }
func FromList(l []Value) Value   { return Value{Kind: KindList, List: l} }
func FromMap(m map[string]Value) Value { return Value{Kind: KindMap, Map: m} }

func EmptyMap() Value { return Value{Kind: KindMap, Map: map[string]Value{}} }

func (v Value) IsMap() bool    { return v.Kind == KindMap }
func (v Value) IsList() bool   { return v.Kind == KindList }
func (v Value) IsString() bool { return v.Kind == KindString }
func (v Value) IsNull() bool   { return v.Kind == KindNull }

// FromAny converts an arbitrary decoded-JSON value (as produced by
// encoding/json's map[string]interface{} decode) into a Value.
func FromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case bool:
		return FromBool(t)
	case float64:
		return FromNumber(t)
	case json.Number:
		f, _ := t.Float64()
		return FromNumber(f)
	case string:
		return FromString(t)
	case []any:
		out := make([]Value, 0, len(t))
		for _, item := range t {
			out = append(out, FromAny(item))
		}
		return FromList(out)
	case map[string]any:
		out := make(map[string]Value, len(t))
		for k, item := range t {
			out[k] = FromAny(item)
		}
		return FromMap(out)
	default:
		return FromString(fmt.Sprintf("%v", t))
	}
}

// Any converts a Value back into plain interface{} form suitable for
// encoding/json marshaling.
func (v Value) Any() any {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.Bool
	case KindNumber:
		return v.Num
	case KindString:
		return v.Str
	case KindList:
		out := make([]any, 0, len(v.List))
		for _, item := range v.List {
			out = append(out, item.Any())
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.Map))
		for k, item := range v.Map {
			out[k] = item.Any()
		}
		return out
	default:
		return nil
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

// Get returns the value at key in a map Value, or Null if absent or not a map.
func (v Value) Get(key string) Value {
	if v.Kind != KindMap {
		return Null()
	}
	if got, ok := v.Map[key]; ok {
		return got
	}
	return Null()
}

// Clone returns a deep copy.
func (v Value) Clone() Value {
	switch v.Kind {
	case KindList:
		out := make([]Value, len(v.List))
		for i, item := range v.List {
			out[i] = item.Clone()
		}
		return FromList(out)
	case KindMap:
		out := make(map[string]Value, len(v.Map))
		for k, item := range v.Map {
			out[k] = item.Clone()
		}
		return FromMap(out)
	default:
		return v
	}
}
