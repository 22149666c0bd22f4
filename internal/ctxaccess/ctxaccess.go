// Package ctxaccess implements the per-program-type operations vtable
// spec.md §6 describes: "a program-type tag selecting an operations
// vtable (is_valid_ctx_access, convert_ctx_access, get_func_proto,
// gen_prologue, gen_ld_abs)". These are pure queries (spec.md §6: "No
// callback may mutate verifier state"); internal/check calls Ops.IsValidAccess
// when resolving a load/store through a PTR_TO_CTX register.
package ctxaccess

import "bpfverify/internal/state"

// AccessResult is what a context-access query yields: whether the access
// is legal and, for reads that yield a pointer, the resulting kind.
type AccessResult struct {
	Valid       bool
	ResultKind  state.RegKind
	ResultFlags state.Flags
}

// Ops is the per-program-type operations vtable (spec.md §6). Only the
// query actually needed by the core verifier's memory-access check is
// modeled; gen_prologue/gen_ld_abs/get_func_proto are JIT- and
// helper-table concerns outside the core's scope (spec.md §6 lists them
// as part of the vtable's full shape, but this module only needs
// IsValidAccess to drive §4.3's context-access delegation).
type Ops interface {
	// IsValidAccess reports whether accessing [off, off+size) for the
	// given direction (write=true) is legal for this program type's
	// context, and what pointer kind a read yields.
	IsValidAccess(off int32, size int, write bool) AccessResult
}

// SocketFilterOps models `struct __sk_buff` access for PROG_TYPE_SOCKET_FILTER
// and PROG_TYPE_SCHED_CLS/ACT: only a small set of scalar-valued fields at
// fixed offsets are exposed (len, protocol, mark, ...), all read-only, and
// no field yields a pointer.
type SocketFilterOps struct {
	// Fields maps a field's byte offset to its size; any access not
	// exactly matching a listed (offset,size) pair is rejected.
	Fields map[int32]int
}

// NewSocketFilterOps returns the default __sk_buff scalar-field layout.
func NewSocketFilterOps() *SocketFilterOps {
	return &SocketFilterOps{Fields: map[int32]int{
		0:  4, // len
		4:  4, // pkt_type
		8:  4, // mark
		12: 4, // queue_mapping
		16: 4, // protocol
		20: 4, // vlan_present
		24: 4, // vlan_tci
		28: 4, // vlan_proto
		32: 4, // priority
	}}
}

func (o *SocketFilterOps) IsValidAccess(off int32, size int, write bool) AccessResult {
	if write {
		return AccessResult{}
	}
	want, ok := o.Fields[off]
	if !ok || want != size {
		return AccessResult{}
	}
	return AccessResult{Valid: true, ResultKind: state.KindScalar}
}

// XDPOps models `struct xdp_md` access: data/data_end/data_meta are
// pointer-valued fields that must convert to PTR_TO_PACKET /
// PTR_TO_PACKET_END / PTR_TO_PACKET_META respectively; offsets 12 and 16
// are read-only scalars, and every other offset is rejected.
type XDPOps struct{}

func (XDPOps) IsValidAccess(off int32, size int, write bool) AccessResult {
	if write {
		return AccessResult{}
	}
	if size != 4 {
		return AccessResult{}
	}
	switch off {
	case 0:
		return AccessResult{Valid: true, ResultKind: state.KindPtrToPacket}
	case 4:
		return AccessResult{Valid: true, ResultKind: state.KindPtrToPacketEnd}
	case 8:
		return AccessResult{Valid: true, ResultKind: state.KindPtrToPacketMeta}
	case 12, 16: // ingress_ifindex, rx_queue_index
		return AccessResult{Valid: true, ResultKind: state.KindScalar}
	default:
		return AccessResult{}
	}
}
