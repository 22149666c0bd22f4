// Package bounds implements the four partially-redundant interval views a
// scalar register carries (spec.md §3, §4.1): signed/unsigned, 32/64-bit.
// Sync keeps them consistent with each other and with a tnum.Tnum.
package bounds

import (
	"math"

	"bpfverify/internal/tnum"
)

// Bounds holds the five views spec.md §4.1 requires to be kept in
// agreement: four interval bounds plus (externally, in internal/state) the
// var_off tnum.Tnum this package's Sync reconciles against.
type Bounds struct {
	S32Min, S32Max int32
	U32Min, U32Max uint32
	S64Min, S64Max int64
	U64Min, U64Max uint64
}

// Unbounded is the fully unconstrained bound set.
var Unbounded = Bounds{
	S32Min: math.MinInt32, S32Max: math.MaxInt32,
	U32Min: 0, U32Max: math.MaxUint32,
	S64Min: math.MinInt64, S64Max: math.MaxInt64,
	U64Min: 0, U64Max: math.MaxUint64,
}

// ConstBounds returns the bound set for an exactly-known 64-bit value.
func ConstBounds(v uint64) Bounds {
	sv := int64(v)
	sub := uint32(v)
	ssub := int32(sub)
	return Bounds{
		S32Min: ssub, S32Max: ssub,
		U32Min: sub, U32Max: sub,
		S64Min: sv, S64Max: sv,
		U64Min: v, U64Max: v,
	}
}

// Sync implements reg_bounds_sync (spec.md §4.1): when var_off is a
// constant it folds that value into the interval bounds (a partially
// known var_off is not used to tighten them), infers unsigned bounds from signed
// bounds that stay on one side of zero, intersects var_off with the
// resulting unsigned range to learn further bits, and re-tightens. It
// returns the reconciled (Bounds, Tnum) pair; callers replace both fields
// on the register with the result.
func Sync(b Bounds, off tnum.Tnum) (Bounds, tnum.Tnum) {
	for i := 0; i < 3; i++ {
		b = tightenFromTnum(b, off)
		b = inferUnsignedFromSigned(b)
		off = tnum.Intersect(off, tnum.Range(b.U64Min, b.U64Max))
		b = tightenFromTnum(b, off)
	}
	return b, off
}

func tightenFromTnum(b Bounds, off tnum.Tnum) Bounds {
	// A known-bits value is itself a valid (min==max over its known bits)
	// constraint: the smallest/largest concrete values consistent with off
	// bound U64Min/U64Max from the outside only when off is fully or
	// partially known; tnum.Range already captures "what we know" in the
	// other direction, so here we only fold in the case off is const.
	if off.IsConst() {
		v := off.Value
		if v > b.U64Min {
			b.U64Min = v
		}
		if v < b.U64Max {
			b.U64Max = v
		}
		sv := int64(v)
		if sv > b.S64Min {
			b.S64Min = sv
		}
		if sv < b.S64Max {
			b.S64Max = sv
		}
	}
	if b.U64Min > b.U64Max {
		b.U64Min, b.U64Max = b.U64Max, b.U64Min
	}
	return b
}

func inferUnsignedFromSigned(b Bounds) Bounds {
	if b.S64Min >= 0 {
		if uint64(b.S64Min) > b.U64Min {
			b.U64Min = uint64(b.S64Min)
		}
		if uint64(b.S64Max) < b.U64Max {
			b.U64Max = uint64(b.S64Max)
		}
	}
	if b.S32Min >= 0 {
		if uint32(b.S32Min) > b.U32Min {
			b.U32Min = uint32(b.S32Min)
		}
		if uint32(b.S32Max) < b.U32Max {
			b.U32Max = uint32(b.S32Max)
		}
	}
	return b
}

// IsConst reports whether the 64-bit bounds have collapsed to one value.
func (b Bounds) IsConst() bool { return b.U64Min == b.U64Max && b.S64Min == b.S64Max }

// Subreg32 extracts the 32-bit bound pair alone, for combine_64_into_32.
func (b Bounds) Subreg32() (u32min, u32max uint32, s32min, s32max int32) {
	return b.U32Min, b.U32Max, b.S32Min, b.S32Max
}

// Contains reports whether every value permitted by inner is also
// permitted by outer on all four views — the interval half of RegSafe
// (internal/equiv): outer must be a generalization of inner.
func Contains(outer, inner Bounds) bool {
	return outer.S32Min <= inner.S32Min && outer.S32Max >= inner.S32Max &&
		outer.U32Min <= inner.U32Min && outer.U32Max >= inner.U32Max &&
		outer.S64Min <= inner.S64Min && outer.S64Max >= inner.S64Max &&
		outer.U64Min <= inner.U64Min && outer.U64Max >= inner.U64Max
}
