// Package calls implements call dispatch (spec.md §4.5): subprog call
// frame push/pop, helper-function prototypes and argument matching,
// typed-kernel-function (kfunc) argument kinds, the reference/lock/RCU
// discipline of §4.6, and the iterator constructor/advance/destroy
// machinery of §4.7.
package calls

import (
	"bpfverify/internal/opcode"
	"bpfverify/internal/state"
)

// ArgKind is the compatible-set a helper/kfunc argument register is
// checked against (spec.md §4.5). ArgKinds do not vary by map kind: the
// same ArgKind is checked the same way whatever map the call names, and a
// prototype's ArgSpecs are never mutated at match time.
type ArgKind uint8

const (
	ArgAnything ArgKind = iota
	ArgConstMapPtr
	ArgPtrToMapKey
	ArgPtrToMapValue
	ArgPtrToMem
	ArgPtrToUninitMem
	ArgConstSize
	ArgConstSizeOrZero
	ArgPtrToSpinLock
	ArgPtrToDynptr
	ArgPtrToTimer
	ArgPtrToConstStr
	ArgPtrToStackOrNull
)

// ArgFlag augments an ArgKind with orthogonal constraints.
type ArgFlag uint8

const (
	ArgFlagNone ArgFlag = 0
	ArgFlagMaybeNull ArgFlag = 1 << iota
	ArgFlagBindsNextSize
)

// ArgSpec is one positional argument's schema.
type ArgSpec struct {
	Kind  ArgKind
	Flags ArgFlag
}

// RetKind is a helper/kfunc's return-value schema.
type RetKind uint8

const (
	RetVoid RetKind = iota
	RetScalar
	RetScalarErrnoRange // [-MAX_ERRNO, meta.msize_max_value], spec.md §4.5
	RetPtrToMapValueOrNull
	RetAcquiredRef // R0 gains a fresh ref_obj_id
)

// Proto is a resolved helper-function prototype (spec.md §4.5
// "{arg_type[1..5], ret_type, flags}").
type Proto struct {
	ID         opcode.HelperID
	Name       string
	Args       [5]ArgSpec
	Ret        RetKind
	// ReleasesArgIdx is the 1-based argument index that releases a held
	// reference, or 0 if this helper does not release.
	ReleasesArgIdx int
}

// protoTable covers the helper subset SPEC_FULL.md §9a names.
var protoTable = map[opcode.HelperID]Proto{
	opcode.HelperMapLookupElem: {
		ID: opcode.HelperMapLookupElem, Name: "bpf_map_lookup_elem",
		Args: [5]ArgSpec{{Kind: ArgConstMapPtr}, {Kind: ArgPtrToMapKey}},
		Ret:  RetPtrToMapValueOrNull,
	},
	opcode.HelperMapUpdateElem: {
		ID: opcode.HelperMapUpdateElem, Name: "bpf_map_update_elem",
		Args: [5]ArgSpec{{Kind: ArgConstMapPtr}, {Kind: ArgPtrToMapKey}, {Kind: ArgPtrToMapValue}, {Kind: ArgAnything}},
		Ret:  RetScalar,
	},
	opcode.HelperMapDeleteElem: {
		ID: opcode.HelperMapDeleteElem, Name: "bpf_map_delete_elem",
		Args: [5]ArgSpec{{Kind: ArgConstMapPtr}, {Kind: ArgPtrToMapKey}},
		Ret:  RetScalar,
	},
	opcode.HelperProbeRead: {
		ID: opcode.HelperProbeRead, Name: "bpf_probe_read",
		Args: [5]ArgSpec{
			{Kind: ArgPtrToUninitMem},
			{Kind: ArgConstSize, Flags: ArgFlagBindsNextSize},
			{Kind: ArgAnything},
		},
		Ret: RetScalarErrnoRange,
	},
	opcode.HelperKtimeGetNS: {
		ID: opcode.HelperKtimeGetNS, Name: "bpf_ktime_get_ns", Ret: RetScalar,
	},
	opcode.HelperTracePrintk: {
		ID: opcode.HelperTracePrintk, Name: "bpf_trace_printk",
		Args: [5]ArgSpec{
			{Kind: ArgPtrToMem},
			{Kind: ArgConstSize, Flags: ArgFlagBindsNextSize},
		},
		Ret: RetScalarErrnoRange,
	},
	opcode.HelperGetSmpProcessorID: {
		ID: opcode.HelperGetSmpProcessorID, Name: "bpf_get_smp_processor_id", Ret: RetScalar,
	},
	opcode.HelperTailCall: {
		ID: opcode.HelperTailCall, Name: "bpf_tail_call",
		Args: [5]ArgSpec{{Kind: ArgAnything}, {Kind: ArgConstMapPtr}, {Kind: ArgAnything}},
		Ret:  RetScalar,
	},
	opcode.HelperSpinLock: {
		ID: opcode.HelperSpinLock, Name: "bpf_spin_lock",
		Args: [5]ArgSpec{{Kind: ArgPtrToSpinLock}},
		Ret:  RetVoid,
	},
	opcode.HelperSpinUnlock: {
		ID: opcode.HelperSpinUnlock, Name: "bpf_spin_unlock",
		Args: [5]ArgSpec{{Kind: ArgPtrToSpinLock}},
		Ret:  RetVoid,
	},
	opcode.HelperDynptrFromMem: {
		ID: opcode.HelperDynptrFromMem, Name: "bpf_dynptr_from_mem",
		Args: [5]ArgSpec{{Kind: ArgPtrToMem}, {Kind: ArgConstSize}, {Kind: ArgAnything}, {Kind: ArgPtrToDynptr, Flags: ArgFlagMaybeNull}},
		Ret:  RetScalar,
	},
	opcode.HelperRingbufReserve: {
		ID: opcode.HelperRingbufReserve, Name: "bpf_ringbuf_reserve",
		Args: [5]ArgSpec{{Kind: ArgAnything}, {Kind: ArgConstSize}, {Kind: ArgAnything}},
		Ret:  RetAcquiredRef,
	},
	opcode.HelperRingbufSubmit: {
		ID: opcode.HelperRingbufSubmit, Name: "bpf_ringbuf_submit",
		Args:           [5]ArgSpec{{Kind: ArgPtrToMem}, {Kind: ArgAnything}},
		Ret:            RetVoid,
		ReleasesArgIdx: 1,
	},
}

// Lookup returns the registered prototype for id, if any.
func Lookup(id opcode.HelperID) (Proto, bool) {
	p, ok := protoTable[id]
	return p, ok
}

// mapKeyCompatible lists the map types that take the ordinary key/value
// argument convention, as a per-map-type table queried through
// MapArgCompatible; CheckHelperCall does not consult it.
var mapKeyCompatible = map[opcode.MapType]bool{
	opcode.MapTypeHash: true, opcode.MapTypeLRUHash: true, opcode.MapTypePerCPUHash: true,
	opcode.MapTypeLRUPerCPUHash: true, opcode.MapTypeArray: true, opcode.MapTypePerCPUArray: true,
	opcode.MapTypeLPMTrie: true, opcode.MapTypeProgArray: true, opcode.MapTypeCGroupArray: true,
	opcode.MapTypeStackTrace: true, opcode.MapTypePerfEventArray: true,
}

// MapArgCompatible reports whether mt supports the ordinary key/value
// argument convention at all (every map type in this verifier's scope
// does; the hook exists so a future map-type with a bespoke calling
// convention has a single place to special-case).
func MapArgCompatible(mt opcode.MapType) bool { return mapKeyCompatible[mt] }

// compatiblePointerKinds lists which register Kinds satisfy ArgPtrToMem
// (spec.md §4.5: "ARG_PTR_TO_MEM matches map-value, stack, packet, ...").
var compatiblePointerKinds = map[state.RegKind]bool{
	state.KindPtrToMapValue: true,
	state.KindPtrToStack:    true,
	state.KindPtrToPacket:   true,
	state.KindPtrToMem:      true,
	state.KindPtrToBuf:      true,
}

func compatibleWithArgPtrToMem(k state.RegKind) bool { return compatiblePointerKinds[k] }
