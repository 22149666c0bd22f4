package check

import (
	"github.com/cilium/ebpf/asm"

	"bpfverify/internal/ctxaccess"
	"bpfverify/internal/opcode"
	"bpfverify/internal/state"
	"bpfverify/internal/verr"
)

// pseudoSrc mirrors the LD_IMM64 src_reg pseudo-source encoding (spec.md
// §4.2): which kind of value the second half-instruction's immediate
// resolves to.
type pseudoSrc uint8

const (
	pseudoRawImm pseudoSrc = iota
	pseudoMapFD
	pseudoMapIdx
	pseudoMapValue
	pseudoMapIdxValue
	pseudoSubprogFunc
	pseudoBTFID
)

// stepLoad implements LD_IMM64, LD_ABS/LD_IND, and LDX (spec.md §4.2).
func (c *Checker) stepLoad(vs *state.VerifierState, idx int, ins asm.Instruction) error {
	op := opcode.Raw(ins)
	mode := opcode.Mode(op)

	switch mode {
	case opcode.ImmMode:
		return c.stepLdImm64(vs, idx, ins)
	case opcode.AbsMode, opcode.IndMode:
		return c.stepLdAbsInd(vs, idx)
	case opcode.MemMode:
		return c.stepLdx(vs, idx, ins)
	default:
		return verr.New(verr.KindStructural, idx, "reserved load addressing mode")
	}
}

func (c *Checker) stepLdImm64(vs *state.VerifierState, idx int, ins asm.Instruction) error {
	dst := reg(vs, int(ins.Dst))

	switch {
	case ins.Reference() != "" && c.Maps != nil:
		// a map reference: resolve to a map pointer identity.
		mt, _, valSize, ok := c.Maps(0)
		if !ok {
			*dst = state.ScalarConst(uint64(ins.Constant))
			return nil
		}
		if valSize > 0 {
			r := state.RegState{Kind: state.KindPtrToMapValue, MemSize: valSize}
			r.MapType = uint32(mt)
			r.SyncBounds()
			*dst = r
		} else {
			*dst = state.RegState{Kind: state.KindConstPtrToMap, MapType: uint32(mt)}
		}
	default:
		*dst = state.ScalarConst(uint64(ins.Constant))
	}
	return nil
}

// stepLdAbsInd implements LD_ABS/LD_IND: only legal when the context is a
// socket buffer, treated as an implicit helper call that scratches
// R1-R5 and writes R0 as a scalar (spec.md §4.2).
func (c *Checker) stepLdAbsInd(vs *state.VerifierState, idx int) error {
	ctxReg := reg(vs, 6)
	if _, isSkb := c.Ops.(*ctxaccess.SocketFilterOps); ctxReg.Kind != state.KindPtrToCtx || !isSkb {
		return verr.New(verr.KindType, idx, "BPF_LD_[ABS|IND] uses reserved fields outside a socket-buffer context")
	}
	for r := 1; r <= 5; r++ {
		*reg(vs, r) = state.NotInit()
	}
	*reg(vs, 0) = state.ScalarUnknown()
	return nil
}

func (c *Checker) stepLdx(vs *state.VerifierState, idx int, ins asm.Instruction) error {
	op := opcode.Raw(ins)
	size := opcode.SizeBytes(opcode.Size(op))
	base := reg(vs, int(ins.Src))

	if base.Kind == state.KindNotInit {
		return verr.New(verr.KindType, idx, "R%d !read_ok, register not initialized", ins.Src)
	}
	if err := c.MemValidity(idx, base, int32(ins.Offset), size, false); err != nil {
		return err
	}

	dst := reg(vs, int(ins.Dst))
	switch base.Kind {
	case state.KindPtrToStack:
		slotIdx, _ := state.OffsetToSlot(base.Off + int32(ins.Offset))
		if slotIdx < len(vs.CurrentFrame().Stack.Slots) {
			slot := vs.CurrentFrame().Stack.Slot(slotIdx)
			if slot.IsSpilled() {
				*dst = slot.Spilled.Copy()
				dst.MarkRead(size == 8)
				return nil
			}
		}
		*dst = state.ScalarUnknown()
	case state.KindPtrToCtx:
		res := c.Ops.IsValidAccess(base.Off+int32(ins.Offset), size, false)
		if res.ResultKind != state.KindNotInit {
			r := state.RegState{Kind: res.ResultKind, Flags: res.ResultFlags}
			r.SyncBounds()
			*dst = r
		} else {
			*dst = state.ScalarUnknown()
		}
	default:
		if dst.Kind.IsPtr() && !c.Caps.AllowPtrLeaks {
			return verr.New(verr.KindType, idx, "reading a pointer value requires allow_ptr_leaks")
		}
		*dst = state.ScalarUnknown()
	}
	return nil
}

// stepStore implements ST/STX (spec.md §4.2).
func (c *Checker) stepStore(vs *state.VerifierState, idx int, ins asm.Instruction) error {
	op := opcode.Raw(ins)
	mode := opcode.Mode(op)
	size := opcode.SizeBytes(opcode.Size(op))
	base := reg(vs, int(ins.Dst))

	if mode == opcode.XAddMode {
		var srcReg state.RegState
		if opcode.Src(op) == opcode.RegSrc {
			srcReg = *reg(vs, int(ins.Src))
		} else {
			srcReg = state.ScalarConst(uint64(ins.Constant))
		}
		if err := c.MemValidity(idx, base, int32(ins.Offset), size, true); err != nil {
			return err
		}
		return c.stepAtomic(vs, idx, &srcReg)
	}

	switch base.Kind {
	case state.KindPtrToCtx, state.KindPtrToPacketEnd, state.KindPtrToSocket, state.KindPtrToFlowKeys:
		return verr.New(verr.KindType, idx, "cannot write to this pointer kind")
	}

	if err := c.MemValidity(idx, base, int32(ins.Offset), size, true); err != nil {
		return err
	}

	var srcVal state.RegState
	isConstZero := false
	if opcode.Class(op) == opcode.StXClass {
		srcVal = *reg(vs, int(ins.Src))
	} else {
		srcVal = state.ScalarConst(uint64(ins.Constant))
		isConstZero = ins.Constant == 0
	}

	if srcVal.Kind.IsPtr() {
		if !c.Caps.AllowPtrLeaks && base.Kind == state.KindPtrToMapValue {
			return verr.New(verr.KindType, idx, "leaks addr into map")
		}
	}

	if base.Kind != state.KindPtrToStack {
		return nil
	}
	return c.writeStackSlot(vs, idx, base, int32(ins.Offset), size, srcVal, isConstZero)
}

func (c *Checker) writeStackSlot(vs *state.VerifierState, idx int, base *state.RegState, off int32, size int, src state.RegState, isConstZero bool) error {
	slotIdx, byteIdx := state.OffsetToSlot(base.Off + off)
	vs.CurrentFrame().Stack.EnsureSlot(slotIdx)
	slot := vs.CurrentFrame().Stack.Slot(slotIdx)

	if slot.ByteType[0] == state.SlotDynptr || slot.ByteType[0] == state.SlotIter {
		if slot.Spilled.RefObjID != 0 {
			return verr.New(verr.KindType, idx, "store destroys a reference-counted dynptr/iterator slot")
		}
	}

	if size == 8 && byteIdx == 0 && src.Kind.IsPtr() {
		for b := range slot.ByteType {
			slot.ByteType[b] = state.SlotSpill
		}
		slot.Spilled = src
		return nil
	}
	tag := state.SlotMisc
	if isConstZero || (src.Kind == state.KindScalar && src.IsConst() && func() bool { v, _ := src.ConstValue(); return v == 0 }()) {
		tag = state.SlotZero
	}
	for b := byteIdx; b < byteIdx+size; b++ {
		if b < 0 || b >= state.StackSlotSize {
			return verr.New(verr.KindInternal, idx, "stack write byte index out of slot range")
		}
		slot.ByteType[b] = tag
	}
	return nil
}
