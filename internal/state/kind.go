// Package state implements the per-frame register file, variable-depth
// stack, and the full verifier state / fork-stack machinery of spec.md §3.
// Pointer kinds are modeled as a sum type (spec.md §9 "Tagged polymorphism")
// rather than a base-with-flags integer: RegKind names the variant, Flags
// is a separate bitset, and type-specific payload lives in RegState's
// dedicated fields rather than a union.
package state

// RegKind is the base kind of a register's abstract value. It is the
// "what" half of a register's type; Flags (below) is the orthogonal "how".
type RegKind uint8

const (
	KindNotInit RegKind = iota
	KindScalar
	KindPtrToCtx
	KindConstPtrToMap
	KindPtrToMapValue
	KindPtrToMapKey
	KindPtrToStack
	KindPtrToPacket
	KindPtrToPacketMeta
	KindPtrToPacketEnd
	KindPtrToFlowKeys
	KindPtrToSocket
	KindPtrToSockCommon
	KindPtrToTCPSock
	KindPtrToXDPSock
	KindPtrToBTFID
	KindPtrToMem
	KindPtrToBuf
	KindPtrToFunc
	KindConstPtrToDynptr
)

func (k RegKind) String() string {
	switch k {
	case KindNotInit:
		return "NOT_INIT"
	case KindScalar:
		return "SCALAR_VALUE"
	case KindPtrToCtx:
		return "PTR_TO_CTX"
	case KindConstPtrToMap:
		return "CONST_PTR_TO_MAP"
	case KindPtrToMapValue:
		return "PTR_TO_MAP_VALUE"
	case KindPtrToMapKey:
		return "PTR_TO_MAP_KEY"
	case KindPtrToStack:
		return "PTR_TO_STACK"
	case KindPtrToPacket:
		return "PTR_TO_PACKET"
	case KindPtrToPacketMeta:
		return "PTR_TO_PACKET_META"
	case KindPtrToPacketEnd:
		return "PTR_TO_PACKET_END"
	case KindPtrToFlowKeys:
		return "PTR_TO_FLOW_KEYS"
	case KindPtrToSocket:
		return "PTR_TO_SOCKET"
	case KindPtrToSockCommon:
		return "PTR_TO_SOCK_COMMON"
	case KindPtrToTCPSock:
		return "PTR_TO_TCP_SOCK"
	case KindPtrToXDPSock:
		return "PTR_TO_XDP_SOCK"
	case KindPtrToBTFID:
		return "PTR_TO_BTF_ID"
	case KindPtrToMem:
		return "PTR_TO_MEM"
	case KindPtrToBuf:
		return "PTR_TO_BUF"
	case KindPtrToFunc:
		return "PTR_TO_FUNC"
	case KindConstPtrToDynptr:
		return "CONST_PTR_TO_DYNPTR"
	default:
		return "UNKNOWN"
	}
}

// IsPtr reports whether k is any pointer variant.
func (k RegKind) IsPtr() bool {
	return k != KindNotInit && k != KindScalar
}

// Flags is an orthogonal bitset layered on top of RegKind (spec.md §9).
type Flags uint16

const (
	FlagMaybeNull Flags = 1 << iota
	FlagReadOnlyMem
	FlagRingbufMem
	FlagUserMem
	FlagPerCPU
	FlagRCU
	FlagAllocatedObj
	FlagNonOwningRef
	FlagUntrusted
	FlagTrusted
	FlagSanitizeSpeculative
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }
func (f Flags) With(bit Flags) Flags { return f | bit }
func (f Flags) Without(bit Flags) Flags { return f &^ bit }

// DynptrKind distinguishes the four dynptr flavors (GLOSSARY "Dynptr").
type DynptrKind uint8

const (
	DynptrLocal DynptrKind = iota
	DynptrRingbuf
	DynptrSKB
	DynptrXDP
)

// IterState is the iterator state machine (GLOSSARY "Iterator").
type IterState uint8

const (
	IterInvalid IterState = iota
	IterActive
	IterDrained
)
