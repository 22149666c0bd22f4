package calls

import (
	"bpfverify/internal/state"
	"bpfverify/internal/verr"
)

// AcquireLock implements the ARG_PTR_TO_SPIN_LOCK transition (spec.md
// §4.5, §4.6): exactly one lock may be held at a time.
func AcquireLock(vs *state.VerifierState, insnIdx int, ptrID uint32, lockID uint32) error {
	if vs.ActiveLock.Held {
		return verr.New(verr.KindResource, insnIdx, "double lock")
	}
	vs.ActiveLock = state.ActiveLock{Held: true, Ptr: uint64(ptrID), ID: lockID}
	return nil
}

// ReleaseLock releases the currently held lock, rejecting an attempt to
// unlock a different lock than the one held (spec.md §7 "unlock of a
// different lock").
func ReleaseLock(vs *state.VerifierState, insnIdx int, lockID uint32) error {
	if !vs.ActiveLock.Held {
		return verr.New(verr.KindResource, insnIdx, "unlock of an unheld lock")
	}
	if vs.ActiveLock.ID != lockID {
		return verr.New(verr.KindResource, insnIdx, "unlock of a different lock")
	}
	vs.ActiveLock = state.ActiveLock{}
	return nil
}

// EnterRCU toggles active_rcu_lock on, rejecting a nested read-side
// section (spec.md §7 "nested RCU").
func EnterRCU(vs *state.VerifierState, insnIdx int) error {
	if vs.ActiveRCU {
		return verr.New(verr.KindResource, insnIdx, "nested RCU read-side critical section")
	}
	vs.ActiveRCU = true
	return nil
}

// ExitRCU toggles active_rcu_lock off. Per spec.md §4.6, leaving the RCU
// section demotes any RCU-tagged register in every live frame to
// untrusted; callers are responsible for walking registers (internal/check
// does so immediately after calling ExitRCU, since it alone knows which
// registers are visible at this instruction across all frames).
func ExitRCU(vs *state.VerifierState, insnIdx int) error {
	if !vs.ActiveRCU {
		return verr.New(verr.KindResource, insnIdx, "RCU unlock without matching lock")
	}
	vs.ActiveRCU = false
	return nil
}

// DemoteRCUTagged walks every register in every frame of vs and strips
// FlagRCU, marking the register FlagUntrusted instead (spec.md §4.6).
func DemoteRCUTagged(vs *state.VerifierState) {
	for fi := range vs.Frames {
		regs := &vs.Frames[fi].Regs
		for i := range regs {
			if regs[i].Flags.Has(state.FlagRCU) {
				regs[i].Flags = regs[i].Flags.Without(state.FlagRCU).With(state.FlagUntrusted)
			}
		}
	}
}

// HeldLockPins reports whether ptr/id identifies an allocation currently
// pinned by the active lock (spec.md §4.6: "Holding a lock pins every
// reachable allocation with the same (ptr,id); ... release is forbidden").
func HeldLockPins(vs *state.VerifierState, ptrID uint32) bool {
	return vs.ActiveLock.Held && vs.ActiveLock.Ptr == uint64(ptrID)
}

// CallAllowedUnderLock reports whether a call to the named kfunc may
// proceed while a lock is held (spec.md §4.6 "a small allowlist of
// graph-API functions").
func CallAllowedUnderLock(name string) bool {
	switch name {
	case "bpf_list_push_front_impl", "bpf_list_push_back_impl", "bpf_list_pop_front", "bpf_list_pop_back",
		"bpf_rbtree_add_impl", "bpf_rbtree_remove", "bpf_rbtree_first":
		return true
	default:
		return false
	}
}
