package equiv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bpfverify/internal/bounds"
	"bpfverify/internal/state"
	"bpfverify/internal/tnum"
)

func neverRead(k state.RegKind) state.RegState {
	return state.RegState{Kind: k, Bounds: bounds.Unbounded, VarOff: tnum.Unknown}
}

func TestRegSafeNeverReadIsSafe(t *testing.T) {
	old := neverRead(state.KindScalar)
	cur := state.RegState{Kind: state.KindPtrToStack} // wildly different, but neither was read
	assert.True(t, RegSafe(old, cur, NewIDMap()))
}

func TestRegSafeScalarGeneralizationHolds(t *testing.T) {
	old := state.RegState{Kind: state.KindScalar, Bounds: bounds.Unbounded, VarOff: tnum.Unknown, Live: state.LiveRead64}
	cur := state.ScalarConst(5)
	cur.Live = state.LiveRead64
	assert.True(t, RegSafe(old, cur, NewIDMap()))
}

func TestRegSafeScalarRejectsNarrowerOld(t *testing.T) {
	old := state.ScalarConst(5)
	old.Live = state.LiveRead64
	cur := state.RegState{Kind: state.KindScalar, Bounds: bounds.Unbounded, VarOff: tnum.Unknown, Live: state.LiveRead64}
	assert.False(t, RegSafe(old, cur, NewIDMap()))
}

func TestRegSafePointerRequiresIDConsistency(t *testing.T) {
	mk := func(id uint32) state.RegState {
		r := state.RegState{Kind: state.KindPtrToMapValue, ID: id, Live: state.LiveRead64}
		r.SyncBounds()
		return r
	}
	ids := NewIDMap()
	assert.True(t, RegSafe(mk(1), mk(2), ids))
	// same old id must map to the same new id consistently.
	assert.False(t, RegSafe(mk(1), mk(3), ids))
}

func TestStackSafeIgnoresNeverReadSlots(t *testing.T) {
	old := state.Stack{}
	old.EnsureSlot(0)
	cur := state.Stack{}
	cur.EnsureSlot(0)
	assert.True(t, StackSafe(old, cur, NewIDMap()))
}

func TestStackSafeRejectsTypeMismatch(t *testing.T) {
	old := state.Stack{}
	old.EnsureSlot(0)
	old.Slot(0).ByteType[0] = state.SlotZero
	cur := state.Stack{}
	cur.EnsureSlot(0)
	cur.Slot(0).ByteType[0] = state.SlotMisc
	assert.False(t, StackSafe(old, cur, NewIDMap()))
}

func TestRefSafeRequiresSameCardinality(t *testing.T) {
	old := []state.RefEntry{{ID: 1}}
	cur := []state.RefEntry{{ID: 1}, {ID: 2}}
	assert.False(t, RefSafe(old, cur, NewIDMap()))
}

func TestStatesEqualRejectsSpeculativeMismatch(t *testing.T) {
	old := state.NewRoot()
	cur := state.NewRoot()
	cur.Speculative = true
	assert.False(t, StatesEqual(old, cur))
}

func TestStatesEqualHoldsForIdenticalRoots(t *testing.T) {
	old := state.NewRoot()
	cur := state.NewRoot()
	assert.True(t, StatesEqual(old, cur))
}

func TestCacheHitAndMissEviction(t *testing.T) {
	c := NewCache()
	key := PruneKey{InsnIdx: 10, Callsite: 0}
	cp := state.NewRoot()
	c.Insert(key, cp)

	// an equal state hits.
	_, ok := c.Lookup(key, state.NewRoot())
	require.True(t, ok)

	// a state that never matches racks up misses until eviction.
	mismatch := state.NewRoot()
	mismatch.Speculative = true
	for i := 0; i < evictMinMiss+1; i++ {
		c.Lookup(key, mismatch)
	}
	assert.NotEmpty(t, c.Free())
}
