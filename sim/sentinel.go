package sim

import "math"

// MakeSentinel returns the "no work" marker shaped like sample.
//
// Float leaves become NaN; integer leaves become the maximum value of their
// declared domain. A fixed-shape batched transport cannot carry an absent
// observation, so exhaustion travels in-band as a value genuine domain data
// never produces.
func MakeSentinel(sample Value) (Value, error) {
	if sample.LeafCount() == 0 {
		return Value{}, ErrEmptySchema
	}
	return sample.MapLeaves(sentinelLeaf), nil
}

// IsSentinel reports whether every leaf of v carries the sentinel marker.
// Values without leaves are never sentinels.
func IsSentinel(v Value) bool {
	if v.LeafCount() == 0 {
		return false
	}
	return v.EveryLeaf(isSentinelLeaf)
}

func sentinelLeaf(leaf Value) Value {
	d := leaf.domain
	switch {
	case d.IsSigned():
		return Value{kind: KindScalar, domain: d, i: d.MaxInt()}
	case d.IsUnsigned():
		return Value{kind: KindScalar, domain: d, u: d.MaxUint()}
	default:
		return Value{kind: KindScalar, domain: d, f: math.NaN()}
	}
}

func isSentinelLeaf(leaf Value) bool {
	d := leaf.domain
	switch {
	case d.IsSigned():
		return leaf.i == d.MaxInt()
	case d.IsUnsigned():
		return leaf.u == d.MaxUint()
	default:
		return math.IsNaN(leaf.f)
	}
}
