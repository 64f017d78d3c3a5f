// Implements Value, the tagged observation tree passed between workers and
// the supervisor. A Value is a scalar with a declared numeric domain, an
// ordered sequence of Values, or a string-keyed mapping of Values.

package sim

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindScalar
	KindSequence
	KindMapping
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	default:
		return "invalid"
	}
}

// Domain is the declared numeric domain of a scalar leaf.
type Domain uint8

const (
	DomainFloat64 Domain = iota
	DomainFloat32
	DomainInt8
	DomainInt16
	DomainInt32
	DomainInt64
	DomainUint8
	DomainUint16
	DomainUint32
	DomainUint64
)

var domainNames = map[Domain]string{
	DomainFloat64: "float64",
	DomainFloat32: "float32",
	DomainInt8:    "int8",
	DomainInt16:   "int16",
	DomainInt32:   "int32",
	DomainInt64:   "int64",
	DomainUint8:   "uint8",
	DomainUint16:  "uint16",
	DomainUint32:  "uint32",
	DomainUint64:  "uint64",
}

func (d Domain) String() string {
	if name, ok := domainNames[d]; ok {
		return name
	}
	return fmt.Sprintf("domain(%d)", uint8(d))
}

// IsFloat reports whether the domain is a floating-point domain.
func (d Domain) IsFloat() bool {
	return d == DomainFloat64 || d == DomainFloat32
}

// IsSigned reports whether the domain is a signed integer domain.
func (d Domain) IsSigned() bool {
	return d >= DomainInt8 && d <= DomainInt64
}

// IsUnsigned reports whether the domain is an unsigned integer domain.
func (d Domain) IsUnsigned() bool {
	return d >= DomainUint8 && d <= DomainUint64
}

// MaxInt returns the largest value representable in a signed domain.
func (d Domain) MaxInt() int64 {
	switch d {
	case DomainInt8:
		return math.MaxInt8
	case DomainInt16:
		return math.MaxInt16
	case DomainInt32:
		return math.MaxInt32
	default:
		return math.MaxInt64
	}
}

// MaxUint returns the largest value representable in an unsigned domain.
func (d Domain) MaxUint() uint64 {
	switch d {
	case DomainUint8:
		return math.MaxUint8
	case DomainUint16:
		return math.MaxUint16
	case DomainUint32:
		return math.MaxUint32
	default:
		return math.MaxUint64
	}
}

// Value is an immutable-by-convention observation tree.
// The zero Value has KindInvalid and contains no leaves.
type Value struct {
	kind   Kind
	domain Domain
	f      float64
	i      int64
	u      uint64
	seq    []Value
	fields map[string]Value
}

// Float returns a float64 scalar.
func Float(v float64) Value {
	return Value{kind: KindScalar, domain: DomainFloat64, f: v}
}

// Float32 returns a float32 scalar. The value is stored widened.
func Float32(v float32) Value {
	return Value{kind: KindScalar, domain: DomainFloat32, f: float64(v)}
}

// Int returns an int64 scalar.
func Int(v int64) Value {
	return Value{kind: KindScalar, domain: DomainInt64, i: v}
}

// IntIn returns a signed integer scalar in the given domain.
// Panics if d is not a signed domain or v does not fit.
func IntIn(d Domain, v int64) Value {
	if !d.IsSigned() {
		panic(fmt.Sprintf("IntIn: %s is not a signed integer domain", d))
	}
	if v > d.MaxInt() || v < -d.MaxInt()-1 {
		panic(fmt.Sprintf("IntIn: %d overflows %s", v, d))
	}
	return Value{kind: KindScalar, domain: d, i: v}
}

// UintIn returns an unsigned integer scalar in the given domain.
// Panics if d is not an unsigned domain or v does not fit.
func UintIn(d Domain, v uint64) Value {
	if !d.IsUnsigned() {
		panic(fmt.Sprintf("UintIn: %s is not an unsigned integer domain", d))
	}
	if v > d.MaxUint() {
		panic(fmt.Sprintf("UintIn: %d overflows %s", v, d))
	}
	return Value{kind: KindScalar, domain: d, u: v}
}

// Seq returns an ordered sequence of values.
func Seq(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindSequence, seq: cp}
}

// Floats is a convenience for a sequence of float64 scalars.
func Floats(vs ...float64) Value {
	items := make([]Value, len(vs))
	for i, v := range vs {
		items[i] = Float(v)
	}
	return Value{kind: KindSequence, seq: items}
}

// Map returns a key-value mapping of values.
func Map(fields map[string]Value) Value {
	cp := make(map[string]Value, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return Value{kind: KindMapping, fields: cp}
}

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// Domain returns the declared domain of a scalar. Meaningless for containers.
func (v Value) Domain() Domain { return v.domain }

// Float returns the scalar as float64, converting integer domains.
func (v Value) Float() float64 {
	switch {
	case v.domain.IsSigned():
		return float64(v.i)
	case v.domain.IsUnsigned():
		return float64(v.u)
	default:
		return v.f
	}
}

// Int returns the scalar as int64. Float domains are truncated.
func (v Value) Int() int64 {
	switch {
	case v.domain.IsSigned():
		return v.i
	case v.domain.IsUnsigned():
		return int64(v.u)
	default:
		return int64(v.f)
	}
}

// Uint returns the scalar as uint64.
func (v Value) Uint() uint64 {
	switch {
	case v.domain.IsUnsigned():
		return v.u
	case v.domain.IsSigned():
		return uint64(v.i)
	default:
		return uint64(v.f)
	}
}

// Len returns the number of children of a container, 0 for scalars.
func (v Value) Len() int {
	switch v.kind {
	case KindSequence:
		return len(v.seq)
	case KindMapping:
		return len(v.fields)
	default:
		return 0
	}
}

// At returns the i-th element of a sequence.
func (v Value) At(i int) Value {
	return v.seq[i]
}

// Field returns the value stored under key in a mapping.
func (v Value) Field(key string) (Value, bool) {
	f, ok := v.fields[key]
	return f, ok
}

// Keys returns the keys of a mapping in sorted order.
func (v Value) Keys() []string {
	keys := make([]string, 0, len(v.fields))
	for k := range v.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy that shares no storage with v.
func (v Value) Clone() Value {
	return v.MapLeaves(func(leaf Value) Value { return leaf })
}

// MapLeaves rebuilds v with fn applied to every scalar leaf, in the canonical
// order of Leaves. Container shape and keys are preserved; the result shares
// no storage with v.
func (v Value) MapLeaves(fn func(leaf Value) Value) Value {
	switch v.kind {
	case KindScalar:
		return fn(v)
	case KindSequence:
		out := make([]Value, len(v.seq))
		for i, c := range v.seq {
			out[i] = c.MapLeaves(fn)
		}
		return Value{kind: KindSequence, seq: out}
	case KindMapping:
		// Keys are visited in sorted order so stateful visitors see leaves
		// in the same order as Leaves.
		out := make(map[string]Value, len(v.fields))
		for _, k := range v.Keys() {
			out[k] = v.fields[k].MapLeaves(fn)
		}
		return Value{kind: KindMapping, fields: out}
	default:
		return v
	}
}

// EveryLeaf reports whether pred holds for every scalar leaf of v.
// It is vacuously true for a value without leaves; see LeafCount.
func (v Value) EveryLeaf(pred func(leaf Value) bool) bool {
	switch v.kind {
	case KindScalar:
		return pred(v)
	case KindSequence:
		for _, c := range v.seq {
			if !c.EveryLeaf(pred) {
				return false
			}
		}
		return true
	case KindMapping:
		for _, k := range v.Keys() {
			if !v.fields[k].EveryLeaf(pred) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// LeafCount returns the number of scalar leaves in v.
func (v Value) LeafCount() int {
	n := 0
	v.EveryLeaf(func(Value) bool {
		n++
		return true
	})
	return n
}

// Leaves returns the scalar leaves of v in canonical order: sequence order,
// mapping keys sorted.
func (v Value) Leaves() []Value {
	leaves := make([]Value, 0, 8)
	v.EveryLeaf(func(leaf Value) bool {
		leaves = append(leaves, leaf)
		return true
	})
	return leaves
}

// Equal reports whether v and o have the same shape, domains and leaf values.
// NaN leaves compare equal to each other.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindScalar:
		if v.domain != o.domain {
			return false
		}
		if v.domain.IsFloat() && math.IsNaN(v.f) && math.IsNaN(o.f) {
			return true
		}
		return v.f == o.f && v.i == o.i && v.u == o.u
	case KindSequence:
		if len(v.seq) != len(o.seq) {
			return false
		}
		for i := range v.seq {
			if !v.seq[i].Equal(o.seq[i]) {
				return false
			}
		}
		return true
	case KindMapping:
		if len(v.fields) != len(o.fields) {
			return false
		}
		for k, c := range v.fields {
			oc, ok := o.fields[k]
			if !ok || !c.Equal(oc) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindScalar:
		switch {
		case v.domain.IsSigned():
			return fmt.Sprintf("%d", v.i)
		case v.domain.IsUnsigned():
			return fmt.Sprintf("%d", v.u)
		default:
			return fmt.Sprintf("%g", v.f)
		}
	case KindSequence:
		parts := make([]string, len(v.seq))
		for i, c := range v.seq {
			parts[i] = c.String()
		}
		return "[" + strings.Join(parts, " ") + "]"
	case KindMapping:
		keys := v.Keys()
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ":" + v.fields[k].String()
		}
		return "{" + strings.Join(parts, " ") + "}"
	default:
		return "<invalid>"
	}
}
