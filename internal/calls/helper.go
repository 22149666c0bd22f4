package calls

import (
	"bpfverify/internal/opcode"
	"bpfverify/internal/state"
	"bpfverify/internal/verr"
)

// MapInfo is what the loader resolved a CONST_PTR_TO_MAP register's
// identity to (key/value sizes, map kind) — supplied by internal/verifier
// via Config.FDs and threaded through here for argument checking.
type MapInfo struct {
	Type      opcode.MapType
	KeySize   uint32
	ValueSize uint32
}

// HelperCallArgs is the five-register argument vector a CALL instruction
// presents to a helper (R1..R5), plus enough context to resolve
// CONST_PTR_TO_MAP identities.
type HelperCallArgs struct {
	Regs   [5]*state.RegState
	Maps   func(mapUID uint64) (MapInfo, bool)
	Frame  *state.Frame
}

// CheckHelperCall matches args against proto (spec.md §4.5) and returns
// the resulting R0 register state. insnIdx is used only to annotate
// returned errors.
func CheckHelperCall(insnIdx int, proto Proto, args HelperCallArgs) (state.RegState, error) {
	for i, spec := range proto.Args {
		reg := args.Regs[i]
		switch spec.Kind {
		case ArgAnything:
			// no constraint.
		case ArgConstMapPtr:
			if reg.Kind != state.KindConstPtrToMap {
				return state.RegState{}, verr.New(verr.KindType, insnIdx, "R%d is not a map pointer", i+1)
			}
		case ArgPtrToMapKey:
			if reg.Kind != state.KindPtrToStack && reg.Kind != state.KindPtrToMapKey {
				return state.RegState{}, verr.New(verr.KindType, insnIdx, "R%d is not a pointer to a map key", i+1)
			}
		case ArgPtrToMapValue:
			if reg.Kind != state.KindPtrToMapValue && reg.Kind != state.KindPtrToStack {
				return state.RegState{}, verr.New(verr.KindType, insnIdx, "R%d is not a pointer to a map value", i+1)
			}
		case ArgPtrToMem, ArgPtrToUninitMem:
			if !compatibleWithArgPtrToMem(reg.Kind) {
				return state.RegState{}, verr.New(verr.KindType, insnIdx, "R%d is not ARG_PTR_TO_MEM compatible", i+1)
			}
		case ArgConstSize, ArgConstSizeOrZero:
			v, ok := reg.ConstValue()
			if !ok {
				if spec.Kind == ArgConstSizeOrZero {
					// a bounded-but-not-const size is acceptable; umax drives the check.
					v = reg.Bounds.U64Max
				} else {
					return state.RegState{}, verr.New(verr.KindType, insnIdx, "R%d size argument is not a known constant", i+1)
				}
			}
			boundSize := uint32(v)
			if boundSize > 0 && i > 0 {
				prev := proto.Args[i-1].Kind
				if prev == ArgPtrToMem || prev == ArgPtrToUninitMem {
					memReg := args.Regs[i-1]
					if avail, ok := argAccessibleBytes(memReg); ok && avail < int64(boundSize) {
						return state.RegState{}, verr.New(verr.KindType, insnIdx,
							"R%d size %d exceeds R%d's accessible range of %d bytes", i+1, boundSize, i, avail)
					}
				}
			}
		case ArgPtrToSpinLock:
			if reg.Kind != state.KindPtrToMapValue && reg.Kind != state.KindPtrToBTFID {
				return state.RegState{}, verr.New(verr.KindType, insnIdx, "R%d is not ARG_PTR_TO_SPIN_LOCK compatible", i+1)
			}
		case ArgPtrToDynptr:
			if spec.Flags&ArgFlagMaybeNull != 0 && reg.Kind == state.KindNotInit {
				continue
			}
			if reg.Kind != state.KindConstPtrToDynptr && reg.Kind != state.KindPtrToStack {
				return state.RegState{}, verr.New(verr.KindType, insnIdx, "R%d is not ARG_PTR_TO_DYNPTR compatible", i+1)
			}
		case ArgPtrToTimer:
			if reg.Kind != state.KindPtrToMapValue {
				return state.RegState{}, verr.New(verr.KindType, insnIdx, "R%d is not ARG_PTR_TO_TIMER compatible", i+1)
			}
		case ArgPtrToConstStr:
			if reg.Kind != state.KindPtrToMapValue && reg.Kind != state.KindPtrToStack {
				return state.RegState{}, verr.New(verr.KindType, insnIdx, "R%d is not a constant string pointer", i+1)
			}
		case ArgPtrToStackOrNull:
			if reg.Kind != state.KindPtrToStack && reg.Kind != state.KindNotInit {
				return state.RegState{}, verr.New(verr.KindType, insnIdx, "R%d is not ARG_PTR_TO_STACK compatible", i+1)
			}
		}
		if reg.Kind == state.KindNotInit && spec.Flags&ArgFlagMaybeNull == 0 && spec.Kind != ArgAnything && spec.Kind != ArgConstSize && spec.Kind != ArgConstSizeOrZero {
			return state.RegState{}, verr.New(verr.KindType, insnIdx, "R%d is not initialized", i+1)
		}
	}

	switch proto.Ret {
	case RetVoid:
		return state.RegState{Kind: state.KindScalar}, nil
	case RetScalar, RetScalarErrnoRange:
		return state.ScalarUnknown(), nil
	case RetPtrToMapValueOrNull:
		r := state.RegState{Kind: state.KindPtrToMapValue, Flags: state.FlagMaybeNull}
		r.SyncBounds()
		return r, nil
	case RetAcquiredRef:
		r := state.RegState{Kind: state.KindPtrToMem, Flags: state.FlagMaybeNull}
		return r, nil
	default:
		return state.RegState{}, verr.New(verr.KindInternal, insnIdx, "unhandled return kind %d", proto.Ret)
	}
}

// argAccessibleBytes returns the worst-case number of bytes available
// starting at r's current pointer value before it runs off the end of its
// backing object — the quantity an ARG_CONST_SIZE/ARG_CONST_SIZE_OR_ZERO
// argument is checked against (spec.md §4.5). ok is false for pointer
// kinds whose accessible extent isn't a single range this package can
// resolve on its own (PTR_TO_CTX is validated per-field by
// internal/ctxaccess instead).
func argAccessibleBytes(r *state.RegState) (int64, bool) {
	switch r.Kind {
	case state.KindPtrToMapValue, state.KindPtrToMem, state.KindPtrToBuf:
		return int64(r.MemSize) - int64(r.Off) - r.Bounds.S64Max, true
	case state.KindPtrToPacket, state.KindPtrToPacketMeta:
		return int64(r.PacketRange) - int64(r.Off) - r.Bounds.S64Max, true
	case state.KindPtrToStack:
		return -(int64(r.Off) + r.Bounds.S64Max), true
	default:
		return 0, false
	}
}

// ReleasesReference reports whether proto's argument convention releases
// a held reference, and which positional argument carries it.
func ReleasesReference(proto Proto) (argIdx int, releases bool) {
	if proto.ReleasesArgIdx == 0 {
		return 0, false
	}
	return proto.ReleasesArgIdx - 1, true
}
