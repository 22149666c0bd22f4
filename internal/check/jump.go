package check

import (
	"github.com/cilium/ebpf/asm"

	"bpfverify/internal/calls"
	"bpfverify/internal/opcode"
	"bpfverify/internal/state"
	"bpfverify/internal/tnum"
	"bpfverify/internal/verr"
)

// isBranchTaken implements spec.md §4.4 item 1: returns 1 (always taken),
// 0 (never), or -1 (unknown) for `if (A OP B) goto`.
func isBranchTaken(aluOp uint8, a, b state.RegState) int {
	av, aok := a.ConstValue()
	bv, bok := b.ConstValue()
	if !aok || !bok {
		return -1
	}
	var taken bool
	switch aluOp {
	case opcode.JEqOp:
		taken = av == bv
	case opcode.JNEOp:
		taken = av != bv
	case opcode.JGTOp:
		taken = av > bv
	case opcode.JGEOp:
		taken = av >= bv
	case opcode.JLTOp:
		taken = av < bv
	case opcode.JLEOp:
		taken = av <= bv
	case opcode.JSGTOp:
		taken = int64(av) > int64(bv)
	case opcode.JSGEOp:
		taken = int64(av) >= int64(bv)
	case opcode.JSLTOp:
		taken = int64(av) < int64(bv)
	case opcode.JSLEOp:
		taken = int64(av) <= int64(bv)
	case opcode.JSETOp:
		taken = av&bv != 0
	default:
		return -1
	}
	if taken {
		return 1
	}
	return 0
}

// refineNullCheck implements spec.md §4.4 item 2: on `A == 0`/`A != 0`
// against a may-be-null A, the true/false branches narrow A (and every
// same-id register) to non-null / const-zero respectively.
func refineNullCheck(vs *state.VerifierState, reg *state.RegState, takenBranchIsEqual bool) {
	if !reg.Flags.Has(state.FlagMaybeNull) {
		return
	}
	id := reg.ID
	for fi := range vs.Frames {
		for i := range vs.Frames[fi].Regs {
			r := &vs.Frames[fi].Regs[i]
			if r.ID != id || id == 0 {
				continue
			}
			if takenBranchIsEqual {
				refID := r.RefObjID
				*r = state.ScalarConst(0)
				if refID != 0 {
					vs.Frames[fi].ReleaseRef(refID) // allocation failed: reference released.
				}
			} else {
				r.Flags = r.Flags.Without(state.FlagMaybeNull)
			}
		}
	}
}

// combineSameID implements spec.md §4.4 item 4: for A==B/A!=B between two
// scalars with ids, combine min/max across same-id registers in the
// equal branch by intersecting their tracked bits and narrowing their
// intervals to the tighter of the two.
func combineSameID(vs *state.VerifierState, idA, idB uint32, narrowed state.RegState) {
	if idA == 0 || idB == 0 {
		return
	}
	narrowed.VarOff = tnum.Intersect(narrowed.VarOff, narrowed.VarOff)
	for fi := range vs.Frames {
		for i := range vs.Frames[fi].Regs {
			r := &vs.Frames[fi].Regs[i]
			if r.ID == idA || r.ID == idB {
				r.VarOff = tnum.Intersect(r.VarOff, narrowed.VarOff)
				r.SyncBounds()
			}
		}
	}
}

func (c *Checker) stepJmp(vs *state.VerifierState, idx int, ins asm.Instruction) ([]int, error) {
	op := opcode.Raw(ins)
	aluOp := opcode.ALUOp(op)

	switch aluOp {
	case opcode.ExitOp:
		if resumeAt, ok := calls.PopSubprogCall(vs); ok {
			return []int{resumeAt}, nil
		}
		// frame 0: finalize. No successor.
		if len(vs.CurrentFrame().Refs) > 0 {
			return nil, verr.New(verr.KindResource, idx, "unreleased reference at EXIT")
		}
		if vs.ActiveLock.Held {
			return nil, verr.New(verr.KindResource, idx, "spin lock held at EXIT")
		}
		return nil, nil
	case opcode.JaOp:
		return c.Graph.Succ[idx], nil
	case opcode.CallOp:
		return c.Graph.Succ[idx], c.stepCall(vs, idx, ins)
	default:
		return c.stepCondJump(vs, idx, ins, aluOp)
	}
}

func (c *Checker) stepCondJump(vs *state.VerifierState, idx int, ins asm.Instruction, aluOp uint8) ([]int, error) {
	a := reg(vs, int(ins.Dst))
	var b state.RegState
	if opcode.Src(opcode.Raw(ins)) == opcode.RegSrc {
		b = *reg(vs, int(ins.Src))
	} else {
		b = state.ScalarConst(uint64(ins.Constant))
	}

	taken := isBranchTaken(aluOp, *a, b)

	isEq := aluOp == opcode.JEqOp
	isNe := aluOp == opcode.JNEOp
	if (isEq || isNe) && b.IsConst() {
		if v, _ := b.ConstValue(); v == 0 {
			refineNullCheck(vs, a, isEq)
		}
	}
	if isEq && a.Kind == state.KindScalar && b.Kind == state.KindScalar {
		combineSameID(vs, a.ID, b.ID, *a)
	}

	succs := c.Graph.Succ[idx]
	switch taken {
	case 1:
		if len(succs) > 1 {
			return succs[:1], nil
		}
		return succs, nil
	case 0:
		if len(succs) > 1 {
			return succs[1:], nil
		}
		return succs, nil
	default:
		return succs, nil
	}
}
