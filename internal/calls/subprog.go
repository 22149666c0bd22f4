package calls

import (
	"bpfverify/internal/state"
	"bpfverify/internal/verr"
)

// PushSubprogCall implements spec.md §4.5's subprog-call form: push a
// fresh frame, copy R1..R5 into the callee, clear R0, caller's R6..R9
// preserved, caller's R1..R5 demoted to NOT_INIT after the call (modeled
// by the caller re-reading them post-PushSubprogCall — the caller frame
// is mutated here directly since both frames live in the same
// VerifierState).
func PushSubprogCall(vs *state.VerifierState, subprogIdx, callsiteInsnIdx int) error {
	caller := vs.CurrentFrame()
	var callee state.Frame
	callee = state.NewFrame(subprogIdx, callsiteInsnIdx)
	for r := 1; r <= 5; r++ {
		callee.Regs[r] = caller.Regs[r].Copy()
	}
	callee.Regs[10] = state.RegState{Kind: state.KindPtrToStack}
	callee.Regs[10].SyncBounds()

	if !vs.PushFrame(subprogIdx, callsiteInsnIdx) {
		return verr.New(verr.KindStructural, callsiteInsnIdx, "call stack too deep")
	}
	*vs.CurrentFrame() = callee

	// PushFrame may have reallocated vs.Frames; re-take the caller frame.
	caller = &vs.Frames[vs.CurFrame-1]
	for r := 1; r <= 5; r++ {
		caller.Regs[r] = state.NotInit()
	}
	return nil
}

// PopSubprogCall implements the EXIT side of a subprog call: the callee's
// R0 becomes the caller's R0, the caller resumes right after the call
// instruction. Returns ok=false at the outermost frame, where EXIT instead
// finalizes the whole program (spec.md §4.2 "EXIT: pop frame; in frame 0
// finalize and return").
func PopSubprogCall(vs *state.VerifierState) (resumeAt int, ok bool) {
	if vs.CurFrame == 0 {
		return 0, false
	}
	ret := vs.CurrentFrame().Regs[0].Copy()
	resumeAt, ok = vs.PopFrame()
	if ok {
		vs.CurrentFrame().Regs[0] = ret
	}
	return resumeAt, ok
}
