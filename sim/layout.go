package sim

import (
	"fmt"
	"math"
)

// Layout flattens observations of one schema into fixed-width words so they
// can be written into a shared buffer and rebuilt on the other side. Every
// leaf occupies one uint64 word holding its raw bits, so NaN and max-int
// sentinel markers survive the round trip.
type Layout struct {
	schema  Value
	domains []Domain
}

// NewLayout derives a layout from one real sample of the observation shape.
func NewLayout(schema Value) (Layout, error) {
	leaves := schema.Leaves()
	if len(leaves) == 0 {
		return Layout{}, ErrEmptySchema
	}
	domains := make([]Domain, len(leaves))
	for i, l := range leaves {
		domains[i] = l.domain
	}
	return Layout{schema: schema.Clone(), domains: domains}, nil
}

// Width returns the number of words one observation occupies.
func (l Layout) Width() int {
	return len(l.domains)
}

// Encode writes v into dst, which must be exactly Width words long.
func (l Layout) Encode(v Value, dst []uint64) error {
	if len(dst) != l.Width() {
		return fmt.Errorf("encode into %d words, layout width %d: %w", len(dst), l.Width(), ErrSchemaMismatch)
	}
	leaves := v.Leaves()
	if len(leaves) != len(l.domains) {
		return fmt.Errorf("observation has %d leaves, layout has %d: %w", len(leaves), len(l.domains), ErrSchemaMismatch)
	}
	for i, leaf := range leaves {
		d := l.domains[i]
		if leaf.domain != d {
			return fmt.Errorf("leaf %d is %s, layout wants %s: %w", i, leaf.domain, d, ErrSchemaMismatch)
		}
		switch {
		case d.IsSigned():
			dst[i] = uint64(leaf.i)
		case d.IsUnsigned():
			dst[i] = leaf.u
		default:
			dst[i] = math.Float64bits(leaf.f)
		}
	}
	return nil
}

// Decode rebuilds an observation from src, which must be exactly Width words long.
func (l Layout) Decode(src []uint64) (Value, error) {
	if len(src) != l.Width() {
		return Value{}, fmt.Errorf("decode from %d words, layout width %d: %w", len(src), l.Width(), ErrSchemaMismatch)
	}
	next := 0
	return l.schema.MapLeaves(func(leaf Value) Value {
		word := src[next]
		next++
		out := Value{kind: KindScalar, domain: leaf.domain}
		switch {
		case leaf.domain.IsSigned():
			out.i = int64(word)
		case leaf.domain.IsUnsigned():
			out.u = word
		default:
			out.f = math.Float64frombits(word)
		}
		return out
	}), nil
}
