package state

import (
	"bpfverify/internal/bounds"
	"bpfverify/internal/tnum"
)

// Liveness is the READ32|READ64|WRITTEN|DONE bitset spec.md §3 describes,
// propagated up the parent chain by internal/precision.
type Liveness uint8

const (
	LiveNone Liveness = 0
	LiveRead32 Liveness = 1 << iota
	LiveRead64
	LiveWritten
	LiveDone
)

func (l Liveness) Read() bool { return l&(LiveRead32|LiveRead64) != 0 }

// DynptrDesc is the type-specific payload for a dynptr-kind stack slot
// pair (GLOSSARY "Dynptr").
type DynptrDesc struct {
	Kind        DynptrKind
	FirstSlot   bool
	RefObjID    uint32
}

// IterDesc is the type-specific payload for an iterator stack slot
// (GLOSSARY "Iterator", spec.md §4.7).
type IterDesc struct {
	BTFTypeID uint32
	State     IterState
	Depth     int
}

// RegState is the full abstract value of one register or spilled stack
// slot. Type-specific payload (map pointer identity, packet range,
// dynptr/iterator descriptors, BTF handle) lives in dedicated fields
// rather than a union, matching spec.md's description; IsValidFor* helpers
// below keep callers from reading payload that doesn't apply to Kind.
type RegState struct {
	Kind  RegKind
	Flags Flags

	// Scalar/pointer bounds, kept in sync via bounds.Sync.
	Bounds bounds.Bounds
	VarOff tnum.Tnum

	Off       int32
	ID        uint32
	RefObjID  uint32

	// AluLimit is the alu_limit spec.md §4.3 records when a pointer is
	// moved by a bounded-but-not-constant scalar: the widest in-bounds
	// offset the sanitizer proved the object permits. Meaningful only when
	// Flags.Has(FlagSanitizeSpeculative).
	AluLimit int64

	Live   Liveness
	Parent *RegState // non-owning; see VerifierState lifecycle note

	// Payload, meaningful only for the corresponding Kind:
	MapUID      uint64 // CONST_PTR_TO_MAP / PTR_TO_MAP_VALUE lookup uid
	MapType     uint32 // mirrors opcode.MapType; kept untyped to avoid import cycle
	PacketRange int32  // PTR_TO_PACKET: live range's verified-safe extent
	MemSize     uint32 // PTR_TO_MEM / PTR_TO_BUF: byte size of the backing object
	BTFTypeID   uint32 // PTR_TO_BTF_ID: kernel type id
	SubprogIdx  int32  // PTR_TO_FUNC: target subprogram
	Dynptr      DynptrDesc
	Iter        IterDesc
}

// NotInit returns the zero-value register state: uninitialized, no
// bounds learned.
func NotInit() RegState {
	return RegState{Kind: KindNotInit, Bounds: bounds.Unbounded, VarOff: tnum.Unknown}
}

// ScalarUnknown returns a fully unconstrained scalar.
func ScalarUnknown() RegState {
	return RegState{Kind: KindScalar, Bounds: bounds.Unbounded, VarOff: tnum.Unknown}
}

// ScalarConst returns a scalar with exactly-known value v.
func ScalarConst(v uint64) RegState {
	return RegState{Kind: KindScalar, Bounds: bounds.ConstBounds(v), VarOff: tnum.Const(v)}
}

// IsConst reports whether r is a scalar with a fully known value.
func (r RegState) IsConst() bool {
	return r.Kind == KindScalar && r.VarOff.IsConst()
}

// ConstValue returns r's known value and true, iff r.IsConst().
func (r RegState) ConstValue() (uint64, bool) {
	if !r.IsConst() {
		return 0, false
	}
	return r.VarOff.Value, true
}

// SyncBounds runs reg_bounds_sync (spec.md §4.1) on r's scalar view,
// in place. Safe to call on pointer kinds (affects only Off's var_off
// tracking for pointer+scalar arithmetic results, never payload fields).
func (r *RegState) SyncBounds() {
	r.Bounds, r.VarOff = bounds.Sync(r.Bounds, r.VarOff)
}

// Copy returns a value copy of r, preserving Parent (a non-owning pointer
// shared with the ancestor state, never deep-copied — spec.md §3
// "Lifecycle").
func (r RegState) Copy() RegState { return r }

// MarkRead upgrades r's liveness to reflect a read of the given width,
// called by the instruction checker before consuming r's value and walked
// up the Parent chain by internal/precision.
func (r *RegState) MarkRead(width64 bool) {
	if width64 {
		r.Live |= LiveRead64
	} else {
		r.Live |= LiveRead32
	}
}
