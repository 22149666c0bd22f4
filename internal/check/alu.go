package check

import (
	"github.com/cilium/ebpf/asm"

	"bpfverify/internal/bounds"
	"bpfverify/internal/opcode"
	"bpfverify/internal/precision"
	"bpfverify/internal/state"
	"bpfverify/internal/tnum"
	"bpfverify/internal/verr"
)

// stepALU implements the ALU/ALU64 instruction class (spec.md §4.2).
func (c *Checker) stepALU(vs *state.VerifierState, idx int, ins asm.Instruction, is64 bool) error {
	op := opcode.Raw(ins)
	aluOp := opcode.ALUOp(op)
	dst := reg(vs, int(ins.Dst))

	if aluOp == opcode.EndOp {
		// byte-swap: result stays scalar, bounds collapse to unknown
		// within the operation's width.
		*dst = state.ScalarUnknown()
		return nil
	}

	var srcVal tnum.Tnum
	var srcIsPtr bool
	var srcReg *state.RegState
	srcRegNum := -1
	if opcode.Src(op) == opcode.RegSrc {
		srcRegNum = int(ins.Src)
		srcReg = reg(vs, srcRegNum)
		srcVal = srcReg.VarOff
		srcIsPtr = srcReg.Kind.IsPtr()
	} else {
		srcVal = tnum.Const(uint64(ins.Constant))
	}

	if aluOp == opcode.NegOp {
		dst.VarOff = tnum.Sub(tnum.Const(0), dst.VarOff)
		dst.SyncBounds()
		return nil
	}
	if aluOp == opcode.MovOp {
		if opcode.Src(op) == opcode.RegSrc {
			*dst = srcReg.Copy()
		} else {
			*dst = state.ScalarConst(uint64(ins.Constant))
		}
		return nil
	}

	if dst.Kind.IsPtr() {
		return c.stepPointerArith(vs, idx, int(ins.Dst), srcRegNum, dst, aluOp, srcVal, srcIsPtr, is64)
	}
	if srcIsPtr {
		return verr.New(verr.KindArithmetic, idx, "scalar += pointer is not a supported operator order")
	}

	switch aluOp {
	case opcode.AddOp:
		dst.VarOff = tnum.Add(dst.VarOff, srcVal)
	case opcode.SubOp:
		dst.VarOff = tnum.Sub(dst.VarOff, srcVal)
	case opcode.MulOp:
		dst.VarOff = tnum.Mul(dst.VarOff, srcVal)
	case opcode.OrOp:
		dst.VarOff = tnum.Or(dst.VarOff, srcVal)
	case opcode.AndOp:
		dst.VarOff = tnum.And(dst.VarOff, srcVal)
	case opcode.XOrOp:
		dst.VarOff = tnum.Xor(dst.VarOff, srcVal)
	case opcode.LShOp:
		n, ok := srcVal.Value, srcVal.IsConst()
		if !ok {
			dst.VarOff = tnum.Unknown
			break
		}
		if err := checkShiftAmount(idx, n, is64); err != nil {
			return err
		}
		dst.VarOff = tnum.Lsh(dst.VarOff, uint(n))
	case opcode.RShOp:
		n, ok := srcVal.Value, srcVal.IsConst()
		if !ok {
			dst.VarOff = tnum.Unknown
			break
		}
		if err := checkShiftAmount(idx, n, is64); err != nil {
			return err
		}
		dst.VarOff = tnum.Rsh(dst.VarOff, uint(n))
	case opcode.ArShOp:
		n, ok := srcVal.Value, srcVal.IsConst()
		if !ok {
			dst.VarOff = tnum.Unknown
			break
		}
		bw := 32
		if is64 {
			bw = 64
		}
		dst.VarOff = tnum.Arsh(dst.VarOff, uint(n), bw)
	case opcode.DivOp, opcode.ModOp:
		if v, ok := srcVal.Value, srcVal.IsConst(); ok && v == 0 {
			return verr.New(verr.KindArithmetic, idx, "division by zero constant")
		}
		dst.VarOff = tnum.Unknown
	default:
		return verr.New(verr.KindInternal, idx, "unhandled ALU op %x", aluOp)
	}

	if !is64 {
		dst.VarOff = tnum.Subreg(dst.VarOff)
	}
	dst.SyncBounds()
	return nil
}

func checkShiftAmount(idx int, n uint64, is64 bool) error {
	bw := uint64(32)
	if is64 {
		bw = 64
	}
	if n >= bw {
		return verr.New(verr.KindArithmetic, idx, "shift amount %d >= bitwidth %d", n, bw)
	}
	return nil
}

// stepPointerArith implements spec.md §4.3's pointer +/- scalar rule,
// including the Spectre v1/v4 speculative sanitizer triggered when the
// scalar operand is bounded but not a known constant.
func (c *Checker) stepPointerArith(vs *state.VerifierState, idx int, dstNum, srcRegNum int, dst *state.RegState, aluOp uint8, srcVal tnum.Tnum, srcIsPtr bool, is64 bool) error {
	if !is64 {
		return verr.New(verr.KindArithmetic, idx, "pointer arithmetic is only legal in 64-bit ALU class")
	}
	switch aluOp {
	case opcode.AddOp:
		if srcIsPtr {
			return verr.New(verr.KindArithmetic, idx, "pointer + pointer is not a supported operator")
		}
		needsSanitize := !c.Caps.AllowPtrLeaks && !srcVal.IsConst()
		dst.VarOff = tnum.Add(dst.VarOff, srcVal)
		dst.SyncBounds()
		if needsSanitize {
			c.demandPrecise(vs, srcRegNum)
			if !c.Caps.BypassSpecV1 {
				c.sanitizeSpeculativePointer(vs, idx, dstNum, *dst)
			}
		}
	case opcode.SubOp:
		if srcIsPtr {
			if !c.Caps.BPFCapable {
				return verr.New(verr.KindArithmetic, idx, "pointer - pointer requires privileged mode")
			}
			*dst = state.ScalarUnknown()
			return nil
		}
		needsSanitize := !c.Caps.AllowPtrLeaks && !srcVal.IsConst()
		dst.VarOff = tnum.Sub(dst.VarOff, srcVal)
		dst.SyncBounds()
		if needsSanitize {
			c.demandPrecise(vs, srcRegNum)
			if !c.Caps.BypassSpecV4 {
				c.sanitizeSpeculativePointer(vs, idx, dstNum, *dst)
			}
		}
	default:
		return verr.New(verr.KindArithmetic, idx, "unsupported pointer arithmetic operator")
	}
	return nil
}

// demandPrecise runs mark_chain_precision (spec.md §4.8) for a register
// that fed a pointer+scalar arithmetic site: its example rule is exactly
// "a pointer+scalar ALU requires the scalar" be tracked precise so the
// state-equivalence cache (internal/equiv) never prunes a path that
// differs only in a bit the sanitizer actually depends on. A register-
// source-less instruction (srcRegNum < 0, an immediate operand) is
// already exact and needs no backtracking.
func (c *Checker) demandPrecise(vs *state.VerifierState, srcRegNum int) {
	if srcRegNum < 0 || c.Graph == nil {
		return
	}
	precision.Backtrack(vs, c.Graph, srcRegNum)
}

// sanitizeSpeculativePointer implements the sanitize phase spec.md §4.3
// and §7 describe: it forks a speculative twin continuing at the next
// instruction and records an alu_limit (the widest in-bounds offset the
// object's Kind permits) on the twin's copy of the register, with the pointer
// widened to the full range the arithmetic could have produced under a
// mispredicted branch and then clamped only at alu_limit — the same
// clamp a masking rewrite would apply at runtime. If that twin's pointer
// later drives an out-of-bounds access, the ordinary per-instruction
// checks reject it like any other explored path, which is how the
// sanitizer's failure surfaces (spec.md §8 "if the speculative twin...
// would be out of bounds, verification fails").
func (c *Checker) sanitizeSpeculativePointer(vs *state.VerifierState, idx, dstNum int, verified state.RegState) {
	if c.ForkSink == nil {
		return
	}
	limit, ok := objectExtent(verified)
	if !ok {
		return
	}
	twin := vs.Fork(idx + 1)
	twin.Speculative = true
	td := twin.Reg(dstNum)
	td.Flags = td.Flags.With(state.FlagSanitizeSpeculative)
	td.AluLimit = limit
	td.Bounds = bounds.Bounds{
		S32Min: 0, S32Max: int32(limit),
		U32Min: 0, U32Max: uint32(limit),
		S64Min: 0, S64Max: limit,
		U64Min: 0, U64Max: uint64(limit),
	}
	td.VarOff = tnum.Range(0, uint64(limit))
	td.SyncBounds()
	c.ForkSink(twin)
}

// objectExtent returns the byte extent a pointer's Kind must stay within
// — the quantity spec.md §4.3 calls alu_limit — or false if the kind
// isn't one the sanitizer models (e.g. PTR_TO_STACK's signed,
// below-zero-addressed range isn't expressible as a single extent here).
func objectExtent(r state.RegState) (int64, bool) {
	switch r.Kind {
	case state.KindPtrToMapValue, state.KindPtrToMem, state.KindPtrToBuf:
		return int64(r.MemSize), true
	case state.KindPtrToPacket, state.KindPtrToPacketMeta:
		return int64(r.PacketRange), true
	default:
		return 0, false
	}
}

// stepAtomic implements atomic ADD/AND/OR/XOR with optional FETCH, XCHG,
// CMPXCHG (spec.md §4.2 "Atomic"). CMPXCHG implicitly reads R0; pointer
// values may not be atomically written.
func (c *Checker) stepAtomic(vs *state.VerifierState, idx int, srcReg *state.RegState) error {
	if srcReg.Kind.IsPtr() {
		return verr.New(verr.KindType, idx, "atomic op may not write a pointer value")
	}
	r0 := reg(vs, 0)
	r0.MarkRead(true)
	return nil
}
