// Package precision implements backward precision backtracking (spec.md
// §4.8): mark_chain_precision's replay of instruction history, modeled
// per §9's "Backtracking control flow" guidance as a pure iterator over
// the jump history plus a mutable BacktrackState holding the precision
// masks per frame.
package precision

import (
	"github.com/cilium/ebpf/asm"

	"bpfverify/internal/cfg"
	"bpfverify/internal/opcode"
	"bpfverify/internal/state"
)

// RegMask is a bitset over the eleven registers of one frame.
type RegMask uint16

func (m RegMask) Has(r int) bool  { return m&(1<<uint(r)) != 0 }
func (m RegMask) With(r int) RegMask { return m | 1<<uint(r) }

// StackMask is a bitset over stack slot indices 0..63 of one frame; With
// ignores an index of 64 or more, so a demand on such a slot is not
// recorded.
type StackMask uint64

func (m StackMask) Has(i int) bool   { return i < 64 && m&(1<<uint(i)) != 0 }
func (m StackMask) With(i int) StackMask {
	if i >= 64 {
		return m
	}
	return m | 1<<uint(i)
}

// FrameMask is the per-frame precision demand.
type FrameMask struct {
	Regs  RegMask
	Stack StackMask
}

// BacktrackState holds the precision masks per frame, indexed by
// frame depth, and the "give up, mark everything precise" escape hatch.
type BacktrackState struct {
	Frames   []FrameMask
	Bail     bool
	BailMsg  string
}

// NewBacktrackState returns an empty state sized for numFrames.
func NewBacktrackState(numFrames int) *BacktrackState {
	return &BacktrackState{Frames: make([]FrameMask, numFrames)}
}

// MarkChainPrecision seeds bs with the initial precision demand (one
// register in the current frame) the caller wants made precise, ready for
// Step to be called backward over jmp history entries (spec.md §4.8:
// "records the desired mask of precise registers and stack slots").
func MarkChainPrecision(bs *BacktrackState, frameIdx, reg int) {
	bs.Frames[frameIdx].Regs = bs.Frames[frameIdx].Regs.With(reg)
}

// MarkStackPrecision seeds a stack-slot precision demand.
func MarkStackPrecision(bs *BacktrackState, frameIdx, slot int) {
	bs.Frames[frameIdx].Stack = bs.Frames[frameIdx].Stack.With(slot)
}

// Step processes one instruction during the backward replay, updating bs
// in place per spec.md §4.8's example rules ("MOV dst,src requires src to
// be precise; dst += src requires both; a pointer+scalar ALU requires the
// scalar"). frameIdx is the frame the instruction executed in, dstReg the
// destination register's index, srcReg the source register's index (or
// -1 if the instruction has no register source). Step does not tell
// pointer+scalar arithmetic apart: a demanded ALU destination demands
// both of its register operands.
//
// Step is total: any instruction class it does not specifically
// recognize is handled by the final default branch, which follows
// spec.md §4.8's "unknown instructions abort backtracking and fall back
// to marking all scalars precise conservatively" by setting Bail.
func Step(bs *BacktrackState, frameIdx int, ins asm.Instruction, dstReg, srcReg int) {
	if bs.Bail {
		return
	}
	fm := &bs.Frames[frameIdx]
	if !fm.Regs.Has(dstReg) && dstReg >= 0 {
		return // this instruction's result was never demanded precise.
	}

	op := opcode.Raw(ins)
	class := opcode.Class(op)

	switch {
	case opcode.IsALU(class):
		aluOp := opcode.ALUOp(op)
		switch aluOp {
		case opcode.MovOp:
			if opcode.Src(op) == opcode.RegSrc && srcReg >= 0 {
				fm.Regs = fm.Regs.With(srcReg)
			}
		case opcode.AddOp, opcode.SubOp, opcode.MulOp, opcode.OrOp, opcode.AndOp,
			opcode.XOrOp, opcode.LShOp, opcode.RShOp, opcode.ArShOp, opcode.ModOp, opcode.DivOp:
			fm.Regs = fm.Regs.With(dstReg)
			if opcode.Src(op) == opcode.RegSrc && srcReg >= 0 {
				fm.Regs = fm.Regs.With(srcReg)
			}
		case opcode.NegOp, opcode.EndOp:
			fm.Regs = fm.Regs.With(dstReg)
		default:
			bail(bs, "unrecognized ALU op during backtracking")
		}
	case opcode.IsJmp(class):
		// conditional jumps only gate control flow; their operands do not
		// themselves propagate a new precision demand from this step
		// (the demand that reached here came from a later instruction).
	case opcode.IsLoad(class), opcode.IsStore(class):
		// a spill/fill's source register also needs precision to
		// reconstruct the stack slot's exact value.
		if srcReg >= 0 {
			fm.Regs = fm.Regs.With(srcReg)
		}
	default:
		bail(bs, "unrecognized instruction class during backtracking")
	}
}

func bail(bs *BacktrackState, msg string) {
	bs.Bail = true
	bs.BailMsg = msg
}

// EnterSubprog adjusts bs when backtracking crosses into a callee's
// entry during the backward walk (spec.md §4.8: "On entering a subprog
// during backtracking, arg registers R1..R5 move to the caller frame; on
// exiting, R6..R9 stay"). calleeFrame's R1..R5 demands are transplanted
// onto callerFrame as the same register indices (the ABI copies them
// positionally), and callerFrame's R6..R9 already reflect themselves —
// nothing to do for those, they simply persist since call doesn't touch
// them.
func EnterSubprog(bs *BacktrackState, callerFrame, calleeFrame int) {
	for r := 1; r <= 5; r++ {
		if bs.Frames[calleeFrame].Regs.Has(r) {
			bs.Frames[callerFrame].Regs = bs.Frames[callerFrame].Regs.With(r)
		}
	}
}

// MarkAllScalarsPrecise applies the conservative fallback (spec.md §9's
// documented heuristic) to every scalar register across every frame of
// vs: used once bs.Bail is set.
func MarkAllScalarsPrecise(vs *state.VerifierState) {
	for fi := range vs.Frames {
		for i := range vs.Frames[fi].Regs {
			r := &vs.Frames[fi].Regs[i]
			if r.Kind == state.KindScalar {
				r.Live |= state.LiveDone
			}
		}
	}
}

// PropagatePrecision walks vs's parent chain, marking the registers named
// by bs precise in each ancestor in turn; stack-slot demands in bs are not
// applied (spec.md §4.8:
// "Precision then propagates up the parent chain across
// state-equivalence boundaries via propagate_precision").
func PropagatePrecision(vs *state.VerifierState, bs *BacktrackState) {
	if bs.Bail {
		MarkAllScalarsPrecise(vs)
		return
	}
	cur := vs
	for cur != nil {
		fi := cur.CurFrame
		if fi >= len(bs.Frames) {
			fi = len(bs.Frames) - 1
		}
		if fi < 0 || fi >= len(cur.Frames) {
			break
		}
		fm := bs.Frames[fi]
		regs := &cur.Frames[fi].Regs
		for r := 0; r < state.NumRegisters && r < len(regs); r++ {
			if fm.Regs.Has(r) {
				regs[r].Live |= state.LiveDone
			}
		}
		cur = cur.Parent
	}
}

// Backtrack runs mark_chain_precision end to end (spec.md §4.8): seed a
// demand that register reg be precise in vs's current frame, replay every
// instruction in vs's own linear span backward through Step, continue
// onto vs's parent (crossing a subprog boundary via EnterSubprog whenever
// the parent's current frame is shallower), and finally call
// PropagatePrecision so the demand lands on every ancestor it crossed —
// the call sites in internal/check that need a
// register's concrete value trusted (a helper's ARG_CONST_SIZE bound, a
// pointer+scalar arithmetic offset) invoke this instead of reimplementing
// the replay themselves.
func Backtrack(vs *state.VerifierState, g *cfg.Graph, reg int) {
	bs := NewBacktrackState(len(vs.Frames))
	MarkChainPrecision(bs, vs.CurFrame, reg)

	cur := vs
	for cur != nil && !bs.Bail {
		for i := cur.LastInsn; i >= cur.FirstInsn; i-- {
			if i < 0 || i >= len(g.Insns) {
				continue
			}
			ins := g.Insns[i]
			dst := int(ins.Dst)
			src := -1
			if opcode.Src(opcode.Raw(ins)) == opcode.RegSrc {
				src = int(ins.Src)
			}
			Step(bs, cur.CurFrame, ins, dst, src)
		}
		if cur.Parent != nil && cur.Parent.CurFrame < cur.CurFrame {
			EnterSubprog(bs, cur.Parent.CurFrame, cur.CurFrame)
		}
		cur = cur.Parent
	}
	PropagatePrecision(vs, bs)
}
