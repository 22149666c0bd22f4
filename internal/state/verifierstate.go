package state

// ActiveLock records the single spinlock a VerifierState may hold
// (GLOSSARY "Active lock").
type ActiveLock struct {
	Held bool
	Ptr  uint64 // identity of the locked allocation (its base pointer value or id, opaque here)
	ID   uint32
}

// JmpHistEntry records one non-linear control-flow edge taken while
// building this state, consumed by internal/precision's backward walk.
type JmpHistEntry struct {
	InsnIdx     int
	PrevInsnIdx int
}

// MaxCallFrames bounds the call-frame stack (spec.md §3).
const MaxCallFrames = 8

// VerifierState is the full symbolic state at one instruction (spec.md
// §3 "Verifier state"). Its Parent pointer is a plain reference to an
// ancestor state, which Go's garbage collector keeps alive for as long as
// a descendant still points at it.
type VerifierState struct {
	Frames   []Frame
	CurFrame int

	Speculative bool
	ActiveLock  ActiveLock
	ActiveRCU   bool

	// Branches is set to 1 when a state is created or forked. Nothing in
	// this module decrements it, and checkpointing does not consult it.
	Branches int

	Parent *VerifierState

	JmpHistory []JmpHistEntry

	InsnIdx     int // instruction this state is positioned at
	FirstInsn   int
	LastInsn    int
}

// CurrentFrame returns the active call frame.
func (vs *VerifierState) CurrentFrame() *Frame { return &vs.Frames[vs.CurFrame] }

// Reg returns the abstract value of register r in the current frame.
func (vs *VerifierState) Reg(r int) *RegState { return &vs.Frames[vs.CurFrame].Regs[r] }

// NewRoot returns the initial VerifierState for subprogram 0, entry
// instruction 0: R1 holds the context pointer (caller sets its Kind),
// R10 is PTR_TO_STACK at offset 0, all others NOT_INIT, frame pointer
// read-only by convention enforced in internal/check.
func NewRoot() *VerifierState {
	f := NewFrame(0, -1)
	f.Regs[10] = RegState{Kind: KindPtrToStack}
	f.Regs[10].SyncBounds()
	return &VerifierState{Frames: []Frame{f}, Branches: 1}
}

// Fork performs the structural deep copy spec.md §3/§9 calls for: every
// frame's registers and stack are copied, Refs are copied, but the
// Parent pointer of the new state points at vs itself (vs becomes the
// parent of its fork), establishing the liveness/precision chain.
// Copy-on-write for stack slots is the natural follow-up optimization
// noted in spec.md §9 and not implemented here: Stack.Copy already copies
// eagerly, which is correct, just not maximally efficient.
func (vs *VerifierState) Fork(atInsnIdx int) *VerifierState {
	frames := make([]Frame, len(vs.Frames))
	for i, f := range vs.Frames {
		frames[i] = f.Copy()
	}
	hist := append([]JmpHistEntry(nil), vs.JmpHistory...)
	child := &VerifierState{
		Frames:      frames,
		CurFrame:    vs.CurFrame,
		Speculative: vs.Speculative,
		ActiveLock:  vs.ActiveLock,
		ActiveRCU:   vs.ActiveRCU,
		Branches:    1,
		Parent:      vs,
		JmpHistory:  hist,
		InsnIdx:     atInsnIdx,
		FirstInsn:   atInsnIdx,
		LastInsn:    atInsnIdx,
	}
	return child
}

// PushFrame pushes a fresh callee frame for a subprog call (spec.md §4.5);
// returns false if MaxCallFrames would be exceeded.
func (vs *VerifierState) PushFrame(subprogIdx, callsiteInsnIdx int) bool {
	if len(vs.Frames) >= MaxCallFrames {
		return false
	}
	callee := NewFrame(subprogIdx, callsiteInsnIdx)
	vs.Frames = append(vs.Frames, callee)
	vs.CurFrame++
	return true
}

// PopFrame pops the current frame at EXIT, reporting the instruction
// index to resume the caller at, and whether a caller frame remained
// (false at the outermost frame, where EXIT finalizes the program).
func (vs *VerifierState) PopFrame() (resumeAt int, ok bool) {
	if vs.CurFrame == 0 {
		return 0, false
	}
	callsite := vs.Frames[vs.CurFrame].CallsiteInsnIdx
	vs.Frames = vs.Frames[:vs.CurFrame]
	vs.CurFrame--
	return callsite + 1, true
}

// RecordJump appends a non-linear-edge entry to the jump history.
func (vs *VerifierState) RecordJump(insnIdx, prevInsnIdx int) {
	vs.JmpHistory = append(vs.JmpHistory, JmpHistEntry{InsnIdx: insnIdx, PrevInsnIdx: prevInsnIdx})
}
