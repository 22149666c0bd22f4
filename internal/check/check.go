// Package check implements the per-instruction checker (spec.md §4):
// ALU/ALU64, LDX/STX/ST, atomics, conditional jumps, CALL dispatch,
// LD_IMM64, LD_ABS/LD_IND, pointer arithmetic and memory-access legality,
// and the Spectre-style speculative sanitizer.
package check

import (
	"github.com/cilium/ebpf/asm"

	"bpfverify/internal/bounds"
	"bpfverify/internal/cfg"
	"bpfverify/internal/ctxaccess"
	"bpfverify/internal/opcode"
	"bpfverify/internal/state"
	"bpfverify/internal/tnum"
	"bpfverify/internal/verr"
)

// Capabilities mirrors spec.md §6's capability flags.
type Capabilities struct {
	BPFCapable      bool
	AllowPtrLeaks   bool
	AllowUninitStack bool
	BypassSpecV1    bool
	BypassSpecV4    bool
}

// MapLookup resolves a CONST_PTR_TO_MAP register's identity (by its
// MapUID) to its type/key-size/value-size, supplied by the loader
// (spec.md §6 "a file-descriptor array for resolving map... references").
type MapLookup func(mapUID uint64) (opcode.MapType, uint32, uint32, bool)

// Checker drives the per-instruction legality rules over one program.
type Checker struct {
	Graph *cfg.Graph
	Ops   ctxaccess.Ops
	Caps  Capabilities
	Maps  MapLookup

	// StrictAlignment mirrors the kernel's strict-alignment mode: natural
	// alignment is required for natural-size loads/stores (spec.md §4.2).
	StrictAlignment bool

	// ForkSink receives the speculative twin states the Spectre v1/v4
	// sanitizer forks off of a pointer+scalar arithmetic site (spec.md
	// §4.3, §7). internal/verifier wires this to its worklist's Push so a
	// twin that later drives an out-of-bounds access fails verification
	// the same way any other explored path would. Left nil, the sanitizer
	// does nothing: no twin is forked and no alu_limit is recorded.
	ForkSink func(*state.VerifierState)

	// Kfuncs resolves a typed kfunc call's BTF function id to its
	// registered name (spec.md §4.5, §4.6), supplied by internal/verifier
	// from the loader's BTF type database. It drives stepKfuncCall's
	// recognition of the RCU read-lock/unlock kfuncs and the graph-API
	// allowlist checked against a held spin lock. Left nil, a kfunc call
	// is accepted structurally without any lock/RCU side effect.
	Kfuncs func(id uint32) (name string, ok bool)
}

// MaxBPFStack bounds PTR_TO_STACK accesses (spec.md §4.3).
const MaxBPFStack = 512

// Step executes the instruction at idx against vs in place, returning the
// set of successor instruction indices to continue simulating (normally
// exactly cfg.Graph.Succ[idx], but Step may narrow it — e.g. EXIT
// popping a frame resumes at the instruction after the callsite rather
// than falling off the graph's notion of "no successor").
func (c *Checker) Step(vs *state.VerifierState, idx int) ([]int, error) {
	ins := c.Graph.Insns[idx]
	op := opcode.Raw(ins)
	class := opcode.Class(op)

	switch {
	case opcode.IsALU(class):
		if err := c.stepALU(vs, idx, ins, class == opcode.ALU64Class); err != nil {
			return nil, err
		}
		return c.Graph.Succ[idx], nil
	case opcode.IsLoad(class):
		if err := c.stepLoad(vs, idx, ins); err != nil {
			return nil, err
		}
		return c.Graph.Succ[idx], nil
	case opcode.IsStore(class):
		if err := c.stepStore(vs, idx, ins); err != nil {
			return nil, err
		}
		return c.Graph.Succ[idx], nil
	case opcode.IsJmp(class):
		return c.stepJmp(vs, idx, ins)
	default:
		return nil, verr.New(verr.KindStructural, idx, "unrecognized instruction class")
	}
}

// reg returns a pointer to register r in vs's current frame, bounds-checked.
func reg(vs *state.VerifierState, r int) *state.RegState {
	return &vs.Frames[vs.CurFrame].Regs[r]
}

// checkAligned enforces natural alignment under strict-alignment mode
// (spec.md §4.2 "Alignment rule").
func checkAligned(c *Checker, idx int, off int32, size int, kind state.RegKind) error {
	if kind == state.KindPtrToStack {
		if off%int32(size) != 0 {
			return verr.New(verr.KindType, idx, "misaligned stack access")
		}
		return nil
	}
	if !c.StrictAlignment {
		return nil
	}
	adjust := int32(0)
	if kind == state.KindPtrToPacket || kind == state.KindPtrToPacketMeta {
		adjust = 2 // packets assume a fixed 2-byte initial misalignment.
	}
	if (off+adjust)%int32(size) != 0 {
		return verr.New(verr.KindType, idx, "misaligned packet/memory access")
	}
	return nil
}

// effectiveRange computes [min,max) the access could touch, from the
// register's bounds/var_off and a static byte offset (spec.md §4.3).
func effectiveRange(r state.RegState, staticOff int32, size int) (min, max int64) {
	min = int64(r.Bounds.S64Min) + int64(staticOff)
	max = int64(r.Bounds.S64Max) + int64(staticOff) + int64(size)
	return
}

// checkRangeWithin enforces the legal range for a pointer kind (spec.md
// §4.3): map-value [0,valueSize), stack [-MaxBPFStack,0), packet against
// PacketRange, context delegated to Ops.
func (c *Checker) checkRangeWithin(idx int, r *state.RegState, staticOff int32, size int, write bool) error {
	switch r.Kind {
	case state.KindPtrToMapValue:
		min, max := effectiveRange(*r, staticOff, size)
		if min < 0 || max > int64(r.MemSize) {
			return verr.New(verr.KindType, idx, "R invalid mem access, out of map value bounds")
		}
	case state.KindPtrToStack:
		off := r.Off + staticOff
		if off < -MaxBPFStack || off+int32(size) > 0 {
			return verr.New(verr.KindType, idx, "invalid stack access, out of bounds")
		}
	case state.KindPtrToPacket, state.KindPtrToPacketMeta:
		min, max := effectiveRange(*r, staticOff, size)
		if min < 0 || max > int64(r.PacketRange) {
			return verr.New(verr.KindType, idx, "invalid packet access, out of verified range")
		}
	case state.KindPtrToCtx:
		res := c.Ops.IsValidAccess(r.Off+staticOff, size, write)
		if !res.Valid {
			return verr.New(verr.KindType, idx, "invalid bpf_context access")
		}
	case state.KindPtrToMem, state.KindPtrToBuf:
		min, max := effectiveRange(*r, staticOff, size)
		if min < 0 || max > int64(r.MemSize) {
			return verr.New(verr.KindType, idx, "invalid mem access, out of bounds")
		}
	default:
		return verr.New(verr.KindType, idx, "R%d invalid mem access, unsupported pointer kind %s", 0, r.Kind)
	}
	return nil
}

// MemValidity bundles checkAligned+checkRangeWithin, the pair every
// LDX/STX/ST site needs (spec.md §4.3).
func (c *Checker) MemValidity(idx int, r *state.RegState, staticOff int32, size int, write bool) error {
	if err := checkAligned(c, idx, staticOff, size, r.Kind); err != nil {
		return err
	}
	return c.checkRangeWithin(idx, r, staticOff, size, write)
}

var _ = tnum.Unknown
var _ = bounds.Unbounded
var _ = asm.R0
