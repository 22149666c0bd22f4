package state

// SlotType tags one byte of a stack slot (spec.md §3 "Stack").
type SlotType uint8

const (
	SlotInvalid SlotType = iota
	SlotSpill
	SlotMisc
	SlotZero
	SlotDynptr
	SlotIter
)

// StackSlotSize is the fixed width of one stack slot, in bytes.
const StackSlotSize = 8

// StackSlot is one 8-byte slot of a frame's stack. ByteType[i] tags byte i
// within the slot; for SlotSpill/SlotDynptr/SlotIter the slot additionally
// carries a saved register state (Spilled). Dynptrs and iterators span
// two contiguous slots; only the first slot's Spilled carries identity
// (Dynptr.FirstSlot / RefObjID, Iter's ref id), per spec.md §3.
type StackSlot struct {
	ByteType [StackSlotSize]SlotType
	Spilled  RegState
}

// IsSpilled reports whether every byte of the slot is tagged SlotSpill,
// i.e. the slot holds one intact register rather than raw/zero bytes.
func (s StackSlot) IsSpilled() bool {
	for _, bt := range s.ByteType {
		if bt != SlotSpill {
			return false
		}
	}
	return true
}

// IsZero reports whether every byte of the slot is tagged SlotZero.
func (s StackSlot) IsZero() bool {
	for _, bt := range s.ByteType {
		if bt != SlotZero {
			return false
		}
	}
	return true
}

// IsInvalid reports whether every byte of the slot is untyped.
func (s StackSlot) IsInvalid() bool {
	for _, bt := range s.ByteType {
		if bt != SlotInvalid {
			return false
		}
	}
	return true
}

// Ever reports whether any byte of the slot carries a non-invalid type —
// used by internal/equiv's StackSafe to pick which old slots to compare
// (spec.md §4.9).
func (s StackSlot) Ever() bool { return !s.IsInvalid() }

// NewInvalidSlot returns an untyped slot.
func NewInvalidSlot() StackSlot { return StackSlot{} }

// Stack is a frame's variable-depth vector of 8-byte slots, indexed from
// the frame pointer downward: Stack.Slots[0] covers [R10-8, R10),
// Slots[1] covers [R10-16, R10-8), and so on. internal/check converts a
// byte-offset from R10 into a slot index via OffsetToSlot.
type Stack struct {
	Slots []StackSlot
	// Depth is the stack_depth high-water mark (spec.md §4.3), in bytes.
	Depth int32
}

// EnsureSlot grows Stack so that slot index idx exists, returning it.
// Growth always happens at the low (deep) end conceptually; callers
// address slots by a non-negative index computed from the negative
// byte offset, see OffsetToSlot.
func (s *Stack) EnsureSlot(idx int) {
	for len(s.Slots) <= idx {
		s.Slots = append(s.Slots, NewInvalidSlot())
	}
}

// Slot returns slot idx, which must already exist (callers ensure via
// EnsureSlot before any write, and bounds-check before any read).
func (s *Stack) Slot(idx int) *StackSlot {
	return &s.Slots[idx]
}

// OffsetToSlot converts a negative byte offset from the frame pointer
// (e.g. r10-8) to a non-negative slot index, and the byte index within
// that slot's payload. off must be < 0 and the caller has already
// checked off is within [-MaxBPFStack, 0).
func OffsetToSlot(off int32) (slotIdx int, byteIdx int) {
	abs := -int(off)
	base := (abs - 1) / StackSlotSize
	slotIdx = base
	byteIdx = StackSlotSize - 1 - ((abs - 1) % StackSlotSize)
	return
}

// Copy returns a deep copy of s: new Slots backing array, but each
// Spilled RegState's Parent pointer is preserved unchanged (non-owning),
// matching the copy-on-write-friendly fork semantics spec.md §9 asks for
// (the naive version here copies eagerly; sharing is deferred to a later
// optimization pass, explicitly allowed by the spec's wording "natural
// optimization", not required).
func (s Stack) Copy() Stack {
	cp := Stack{Slots: make([]StackSlot, len(s.Slots)), Depth: s.Depth}
	copy(cp.Slots, s.Slots)
	return cp
}
