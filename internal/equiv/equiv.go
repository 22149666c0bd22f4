// Package equiv implements state equivalence and pruning (spec.md §4.9):
// regsafe/stacksafe/refsafe, an incrementally-built id remapping, and the
// prune-point checkpoint cache with hit/miss eviction.
package equiv

import (
	"bpfverify/internal/bounds"
	"bpfverify/internal/state"
	"bpfverify/internal/tnum"
)

// IDMap is the id remapping built incrementally while comparing two
// states (spec.md §4.9: "consistent id/ref_obj_id under an id remapping
// built incrementally during comparison"). It is a partial bijection:
// once old id o is mapped to new id n, every later pairing on either side
// must agree.
type IDMap struct {
	oldToNew map[uint32]uint32
	newToOld map[uint32]uint32
}

func NewIDMap() *IDMap {
	return &IDMap{oldToNew: map[uint32]uint32{}, newToOld: map[uint32]uint32{}}
}

// Unify records that old corresponds to new, or confirms a prior pairing;
// returns false if old/new conflict with an existing pairing.
func (m *IDMap) Unify(old, new uint32) bool {
	if old == 0 && new == 0 {
		return true
	}
	if n, ok := m.oldToNew[old]; ok {
		return n == new
	}
	if o, ok := m.newToOld[new]; ok {
		return o == old
	}
	m.oldToNew[old] = new
	m.newToOld[new] = old
	return true
}

// RegSafe implements spec.md §4.9's per-register rule: either both
// never-read, or old is at least as general as cur.
func RegSafe(old, cur state.RegState, ids *IDMap) bool {
	if !old.Live.Read() && !cur.Live.Read() {
		return true
	}
	if old.Kind != cur.Kind {
		return false
	}
	if old.Kind == state.KindScalar {
		return tnum.TnumIn(old.VarOff, cur.VarOff) && bounds.Contains(old.Bounds, cur.Bounds)
	}
	// pointer: exact type match (checked above), bounds containment,
	// consistent id/ref_obj_id under the remapping.
	if !bounds.Contains(old.Bounds, cur.Bounds) {
		return false
	}
	if !tnum.TnumIn(old.VarOff, cur.VarOff) {
		return false
	}
	if old.Off != cur.Off {
		return false
	}
	if !ids.Unify(old.ID, cur.ID) {
		return false
	}
	if !ids.Unify(old.RefObjID, cur.RefObjID) {
		return false
	}
	return true
}

// StackSafe implements spec.md §4.9's stack rule: every slot in old that
// carries any typed byte (StackSlot.Ever) must have a cur counterpart at
// least as general; extra new slots are fine.
func StackSafe(old, cur state.Stack, ids *IDMap) bool {
	for i, slot := range old.Slots {
		if !slot.Ever() {
			continue
		}
		if i >= len(cur.Slots) {
			return false
		}
		cs := cur.Slots[i]
		for b := range slot.ByteType {
			if slot.ByteType[b] != state.SlotInvalid && slot.ByteType[b] != cs.ByteType[b] {
				return false
			}
		}
		if slot.IsSpilled() && !RegSafe(slot.Spilled, cs.Spilled, ids) {
			return false
		}
	}
	return true
}

// RefSafe implements spec.md §4.9's reference-set rule: same cardinality,
// pairwise-matching ids under the remapping.
func RefSafe(old, cur []state.RefEntry, ids *IDMap) bool {
	if len(old) != len(cur) {
		return false
	}
	used := make([]bool, len(cur))
	for _, o := range old {
		matched := false
		for j, c := range cur {
			if used[j] {
				continue
			}
			if ids.Unify(o.ID, c.ID) {
				used[j] = true
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// StatesEqual implements the full spec.md §4.9 test between an earlier
// checkpoint (old) and the state currently reaching the same prune point
// (cur).
func StatesEqual(old, cur *state.VerifierState) bool {
	if len(old.Frames) != len(cur.Frames) {
		return false
	}
	for i := range old.Frames {
		if old.Frames[i].CallsiteInsnIdx != cur.Frames[i].CallsiteInsnIdx {
			return false
		}
	}
	if old.Speculative != cur.Speculative {
		// a non-speculative state must never be pruned by a speculative one.
		return false
	}
	if old.ActiveRCU != cur.ActiveRCU {
		return false
	}

	ids := NewIDMap()
	if !ids.Unify(old.ActiveLock.ID, cur.ActiveLock.ID) || old.ActiveLock.Held != cur.ActiveLock.Held {
		return false
	}

	for i := range old.Frames {
		of, cf := old.Frames[i], cur.Frames[i]
		for r := range of.Regs {
			if !RegSafe(of.Regs[r], cf.Regs[r], ids) {
				return false
			}
		}
		if !StackSafe(of.Stack, cf.Stack, ids) {
			return false
		}
		if !RefSafe(of.Refs, cf.Refs, ids) {
			return false
		}
	}
	return true
}
