package calls

import (
	"bpfverify/internal/state"
	"bpfverify/internal/verr"
)

// IterSlots is the number of contiguous 8-byte stack slots an iterator
// occupies (spec.md §4.7 "two or more contiguous stack slots").
const IterSlots = 2

// ConstructIter implements an iterator constructor kfunc (the `__uninit`
// parameter flag, spec.md §4.7): the slots [slotIdx, slotIdx+IterSlots)
// must currently be untyped; they become ITER with state ACTIVE and
// depth 0, and a fresh ref-id is assigned on the first slot only.
func ConstructIter(frame *state.Frame, insnIdx, slotIdx int, btfTypeID uint32, freshRefID uint32) error {
	frame.Stack.EnsureSlot(slotIdx + IterSlots - 1)
	for i := 0; i < IterSlots; i++ {
		slot := frame.Stack.Slot(slotIdx + i)
		if !slot.IsInvalid() {
			return verr.New(verr.KindType, insnIdx, "iterator constructor requires uninitialized stack slots")
		}
		for b := range slot.ByteType {
			slot.ByteType[b] = state.SlotIter
		}
	}
	first := frame.Stack.Slot(slotIdx)
	first.Spilled = state.RegState{
		Kind: state.KindScalar,
		Iter: state.IterDesc{BTFTypeID: btfTypeID, State: state.IterActive, Depth: 0},
	}
	frame.AddRef(freshRefID, insnIdx, false)
	first.Spilled.RefObjID = freshRefID
	return nil
}

// IterNextResult is the pair of states AdvanceIter produces (spec.md
// §4.7): the drained branch is applied in place to the current frame;
// the continuing branch is returned for the caller (internal/check) to
// fork into a twin VerifierState with R0 non-null and depth
// incremented.
type IterNextResult struct {
	DrainedR0   state.RegState
	ContinueR0  state.RegState
	ContinueDepth int
}

// AdvanceIter implements `iter_next` (spec.md §4.7). It mutates the
// drained outcome into the slot in place (state set to DRAINED, depth
// unchanged — the loop ends here) and returns enough information for the caller to build
// the continuing twin without mutating frame itself, since that twin
// belongs to a forked VerifierState the caller constructs.
func AdvanceIter(frame *state.Frame, insnIdx, slotIdx int) (IterNextResult, error) {
	slot := frame.Stack.Slot(slotIdx)
	if slot.Spilled.Iter.State != state.IterActive {
		return IterNextResult{}, verr.New(verr.KindType, insnIdx, "iter_next on a non-active iterator")
	}
	depth := slot.Spilled.Iter.Depth

	// drained outcome, applied in place: R0 := 0, state := DRAINED.
	slot.Spilled.Iter.State = state.IterDrained

	return IterNextResult{
		DrainedR0:     state.ScalarConst(0),
		ContinueR0:    state.RegState{Kind: state.KindPtrToMem, Flags: state.FlagMaybeNull},
		ContinueDepth: depth + 1,
	}, nil
}

// DestroyIter releases the iterator's reference and marks its slots
// invalid again, required before EXIT (spec.md §8 "for every acquire-kind
// helper/kfunc call ... a matching release before EXIT").
func DestroyIter(frame *state.Frame, insnIdx, slotIdx int) error {
	slot := frame.Stack.Slot(slotIdx)
	if slot.Spilled.Iter.State == state.IterInvalid {
		return verr.New(verr.KindResource, insnIdx, "destroying a non-constructed iterator")
	}
	refID := slot.Spilled.RefObjID
	if !frame.ReleaseRef(refID) {
		return verr.New(verr.KindResource, insnIdx, "releasing a non-acquired reference")
	}
	for i := 0; i < IterSlots; i++ {
		s := frame.Stack.Slot(slotIdx + i)
		*s = state.NewInvalidSlot()
	}
	return nil
}
