// Package doc defines the document tree stored and merged by strata.
//
// A Node is a closed tagged union: Null, Bool, Number, String, Array or
// Object. The absent document is the nil Node. Trees are plain values with no
// back-references; once handed to the store they are treated as read-only and
// callers that need to modify one should Clone it first.
package doc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// Kind tags the variant held by a Node.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Node is one value in a document tree. The set of implementations is closed.
type Node interface {
	Kind() Kind
	isNode()
}

type (
	Null   struct{}
	Bool   bool
	Number float64
	String string
	Array  []Node
	Object map[string]Node
)

func (Null) Kind() Kind   { return KindNull }
func (Bool) Kind() Kind   { return KindBool }
func (Number) Kind() Kind { return KindNumber }
func (String) Kind() Kind { return KindString }
func (Array) Kind() Kind  { return KindArray }
func (Object) Kind() Kind { return KindObject }

func (Null) isNode()   {}
func (Bool) isNode()   {}
func (Number) isNode() {}
func (String) isNode() {}
func (Array) isNode()  {}
func (Object) isNode() {}

// Keys returns the object's keys in sorted order.
func (o Object) Keys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy of n. Clone(nil) is nil.
func Clone(n Node) Node {
	switch v := n.(type) {
	case nil:
		return nil
	case Array:
		if v == nil {
			return Array(nil)
		}
		out := make(Array, len(v))
		for i, e := range v {
			out[i] = Clone(e)
		}
		return out
	case Object:
		if v == nil {
			return Object(nil)
		}
		out := make(Object, len(v))
		for k, e := range v {
			out[k] = Clone(e)
		}
		return out
	default:
		// Scalars are immutable values.
		return v
	}
}

// Equal reports whether a and b are structurally identical. Two absent nodes
// are equal; an absent node never equals Null.
func Equal(a, b Node) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case Null:
		_, ok := b.(Null)
		return ok
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case Number:
		bv, ok := b.(Number)
		return ok && av == bv
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Array:
		bv, ok := b.(Array)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Object:
		bv, ok := b.(Object)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, ok := bv[k]
			if !ok || !Equal(v, w) {
				return false
			}
		}
		return true
	}
	return false
}

// ErrNonFinite is returned for Inf and NaN, which JSON cannot represent.
var ErrNonFinite = errors.New("non-finite number")

func finite(f float64) (Node, error) {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return nil, fmt.Errorf("%w: %v", ErrNonFinite, f)
	}
	return Number(f), nil
}

// FromAny converts a generic decoded tree (as produced by ojg, encoding/json
// or yaml.v3) into a Node. A nil input becomes Null.
func FromAny(v any) (Node, error) {
	switch t := v.(type) {
	case nil:
		return Null{}, nil
	case Node:
		return Clone(t), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("number %q: %w", t.String(), err)
		}
		return finite(f)
	case float64:
		return finite(t)
	case float32:
		return finite(float64(t))
	case int:
		return Number(t), nil
	case int8:
		return Number(t), nil
	case int16:
		return Number(t), nil
	case int32:
		return Number(t), nil
	case int64:
		return Number(t), nil
	case uint:
		return Number(t), nil
	case uint8:
		return Number(t), nil
	case uint16:
		return Number(t), nil
	case uint32:
		return Number(t), nil
	case uint64:
		return Number(t), nil
	case time.Time:
		return String(t.Format(time.RFC3339Nano)), nil
	case []any:
		out := make(Array, len(t))
		for i, e := range t {
			n, err := FromAny(e)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	case map[string]any:
		out := make(Object, len(t))
		for k, e := range t {
			n, err := FromAny(e)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	case map[any]any:
		out := make(Object, len(t))
		for k, e := range t {
			key, ok := k.(string)
			if !ok {
				key = fmt.Sprint(k)
			}
			n, err := FromAny(e)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			out[key] = n
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported document value of type %T", v)
	}
}

// ToAny converts n into plain Go values: nil, bool, int64 or float64, string,
// []any and map[string]any. Whole numbers that fit in an int64 are returned as
// int64 so they encode without a fraction.
func ToAny(n Node) any {
	switch v := n.(type) {
	case nil, Null:
		return nil
	case Bool:
		return bool(v)
	case Number:
		f := float64(v)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	case String:
		return string(v)
	case Array:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = ToAny(e)
		}
		return out
	case Object:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = ToAny(e)
		}
		return out
	}
	return nil
}
