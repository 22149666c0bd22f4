package state

// RefEntry is one outstanding acquired-resource reference (spec.md §3
// "Reference set"). CallbackRef marks a reference acquired on behalf of a
// callback invocation, for bookkeeping by internal/calls.
type RefEntry struct {
	ID          uint32
	InsnIdx     int
	CallbackRef bool
}

// Frame is one function activation: its register file and its stack.
// A VerifierState holds up to MaxCallFrames of these (spec.md §3).
type Frame struct {
	Regs  [NumRegisters]RegState
	Stack Stack
	Refs  []RefEntry

	// CallsiteInsnIdx is the instruction index of the call that pushed
	// this frame, used to pop back to the caller's PC at EXIT and as part
	// of the prune-point cache key (insn_idx ⊕ callsite).
	CallsiteInsnIdx int
	// SubprogIdx identifies which subprogram this frame is executing.
	SubprogIdx int
}

// NumRegisters mirrors opcode.NumRegisters; duplicated here (rather than
// imported) to avoid a dependency from state on opcode — state is a purer,
// lower layer than opcode's asm-facing concerns.
const NumRegisters = 11

// NewFrame returns a frame with every register NOT_INIT and an empty stack.
func NewFrame(subprogIdx, callsiteInsnIdx int) Frame {
	f := Frame{SubprogIdx: subprogIdx, CallsiteInsnIdx: callsiteInsnIdx}
	for i := range f.Regs {
		f.Regs[i] = NotInit()
	}
	return f
}

// Copy returns a deep copy of f suitable for a forked VerifierState: Regs
// is a value array (copied by assignment), Stack and Refs get fresh
// backing storage.
func (f Frame) Copy() Frame {
	cp := f
	cp.Stack = f.Stack.Copy()
	cp.Refs = append([]RefEntry(nil), f.Refs...)
	return cp
}

// AddRef appends a new outstanding reference.
func (f *Frame) AddRef(id uint32, insnIdx int, callback bool) {
	f.Refs = append(f.Refs, RefEntry{ID: id, InsnIdx: insnIdx, CallbackRef: callback})
}

// ReleaseRef removes the reference with the given id, reporting whether
// one was found (the instruction checker reports "releasing a
// non-acquired reference" when it was not).
func (f *Frame) ReleaseRef(id uint32) bool {
	for i, r := range f.Refs {
		if r.ID == id {
			f.Refs = append(f.Refs[:i], f.Refs[i+1:]...)
			return true
		}
	}
	return false
}
