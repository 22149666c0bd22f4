package precision

import (
	"testing"

	"github.com/cilium/ebpf/asm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bpfverify/internal/cfg"
	"bpfverify/internal/opcode"
	"bpfverify/internal/state"
)

func TestMarkChainPrecisionSeedsMask(t *testing.T) {
	bs := NewBacktrackState(1)
	MarkChainPrecision(bs, 0, 3)
	assert.True(t, bs.Frames[0].Regs.Has(3))
	assert.False(t, bs.Frames[0].Regs.Has(4))
}

func TestStepMovPropagatesToSource(t *testing.T) {
	bs := NewBacktrackState(1)
	MarkChainPrecision(bs, 0, 1) // R1 = R2
	ins := asm.Mov.Reg(asm.R1, asm.R2)
	Step(bs, 0, ins, 1, 2)
	assert.True(t, bs.Frames[0].Regs.Has(2))
}

func TestStepIgnoresUndemandedDestination(t *testing.T) {
	bs := NewBacktrackState(1)
	ins := asm.Mov.Reg(asm.R3, asm.R4)
	Step(bs, 0, ins, 3, 4)
	assert.False(t, bs.Frames[0].Regs.Has(4), "R3 was never demanded precise, so R4 must not be marked")
}

func TestStepAddRequiresBothOperands(t *testing.T) {
	bs := NewBacktrackState(1)
	MarkChainPrecision(bs, 0, 1)
	ins := asm.Add.Reg(asm.R1, asm.R2)
	Step(bs, 0, ins, 1, 2)
	assert.True(t, bs.Frames[0].Regs.Has(1))
	assert.True(t, bs.Frames[0].Regs.Has(2))
}

func TestEnterSubprogTransplantsArgRegs(t *testing.T) {
	bs := NewBacktrackState(2)
	MarkChainPrecision(bs, 1, 3) // callee frame demands R3
	EnterSubprog(bs, 0, 1)
	assert.True(t, bs.Frames[0].Regs.Has(3))
}

func TestPropagatePrecisionMarksAncestors(t *testing.T) {
	root := state.NewRoot()
	child := root.Fork(5)

	bs := NewBacktrackState(1)
	MarkChainPrecision(bs, 0, 2)
	PropagatePrecision(child, bs)

	assert.True(t, root.Frames[0].Regs[2].Live&state.LiveDone != 0)
	assert.True(t, child.Frames[0].Regs[2].Live&state.LiveDone != 0, "the starting state's own register is marked too")
}

func TestBacktrackWalksLinearSpanAndPropagatesToParent(t *testing.T) {
	insns := []asm.Instruction{
		asm.Mov.Imm(asm.R2, 5),
		asm.Mov.Reg(asm.R1, asm.R2),
	}
	g := &cfg.Graph{Insns: insns}

	root := state.NewRoot()
	root.Frames[0].Regs[2] = state.ScalarConst(5)
	child := root.Fork(2)
	child.FirstInsn, child.LastInsn = 0, 1
	child.Frames[0].Regs[1] = state.ScalarConst(5)
	child.Frames[0].Regs[2] = state.ScalarConst(5)

	Backtrack(child, g, 1)

	assert.True(t, child.Frames[0].Regs[1].Live&state.LiveDone != 0)
	assert.True(t, child.Frames[0].Regs[2].Live&state.LiveDone != 0, "MOV's register source must be traced back too")
	assert.True(t, root.Frames[0].Regs[2].Live&state.LiveDone != 0, "the demand propagates up to the parent state")
}

func TestBacktrackBailsOnUnrecognizedInstructionAndMarksAllScalars(t *testing.T) {
	// 0xe0 is an ALU operator field value no real opcode uses.
	unrecognizedALUOp := uint8(0xe0)
	insns := []asm.Instruction{
		{
			OpCode: asm.OpCode(uint16(opcode.ALU64Class) | uint16(opcode.ImmSrc) | uint16(unrecognizedALUOp)),
			Dst:    asm.R1,
		},
	}
	g := &cfg.Graph{Insns: insns}

	root := state.NewRoot()
	root.Frames[0].Regs[1] = state.ScalarConst(9)
	root.FirstInsn, root.LastInsn = 0, 0

	Backtrack(root, g, 1)

	assert.True(t, root.Frames[0].Regs[1].Live&state.LiveDone != 0)
}

func TestBailMarksAllScalarsPrecise(t *testing.T) {
	root := state.NewRoot()
	root.Frames[0].Regs[1] = state.ScalarConst(5)

	bs := NewBacktrackState(1)
	bs.Bail = true
	PropagatePrecision(root, bs)

	require.Equal(t, state.KindScalar, root.Frames[0].Regs[1].Kind)
	assert.True(t, root.Frames[0].Regs[1].Live&state.LiveDone != 0)
}
