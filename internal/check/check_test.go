package check

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bpfverify/internal/cfg"
	"bpfverify/internal/ctxaccess"
	"bpfverify/internal/opcode"
	"bpfverify/internal/state"
)

func TestIsBranchTakenConstants(t *testing.T) {
	a := state.ScalarConst(5)
	b := state.ScalarConst(10)
	assert.Equal(t, 1, isBranchTaken(opcode.JLTOp, a, b))
	assert.Equal(t, 0, isBranchTaken(opcode.JGTOp, a, b))
}

func TestIsBranchTakenUnknownWhenNotConst(t *testing.T) {
	a := state.ScalarUnknown()
	b := state.ScalarConst(10)
	assert.Equal(t, -1, isBranchTaken(opcode.JLTOp, a, b))
}

func TestRefineNullCheckTrueBranchDropsMaybeNull(t *testing.T) {
	root := state.NewRoot()
	root.Frames[0].Regs[0] = state.RegState{Kind: state.KindPtrToMapValue, Flags: state.FlagMaybeNull, ID: 7}

	refineNullCheck(root, &root.Frames[0].Regs[0], false) // false: the branch on which A != 0 holds
	assert.False(t, root.Frames[0].Regs[0].Flags.Has(state.FlagMaybeNull))
}

func TestRefineNullCheckFalseBranchBecomesConstZero(t *testing.T) {
	root := state.NewRoot()
	root.Frames[0].Regs[0] = state.RegState{Kind: state.KindPtrToMapValue, Flags: state.FlagMaybeNull, ID: 7}

	refineNullCheck(root, &root.Frames[0].Regs[0], true)
	v, ok := root.Frames[0].Regs[0].ConstValue()
	require.True(t, ok)
	assert.EqualValues(t, 0, v)
}

func TestALUAddScalarConstants(t *testing.T) {
	root := state.NewRoot()
	root.Frames[0].Regs[1] = state.ScalarConst(2)
	root.Frames[0].Regs[2] = state.ScalarConst(3)

	ins := mov64ALU(opcode.AddOp, 1, 2)
	c := &Checker{Graph: &cfg.Graph{}}
	require.NoError(t, c.stepALU(root, 0, ins, true))

	v, ok := root.Frames[0].Regs[1].ConstValue()
	require.True(t, ok)
	assert.EqualValues(t, 5, v)
}

func TestALUDivisionByZeroConstantRejected(t *testing.T) {
	root := state.NewRoot()
	root.Frames[0].Regs[1] = state.ScalarConst(10)

	ins := divImm(1, 0)
	c := &Checker{Graph: &cfg.Graph{}}
	err := c.stepALU(root, 0, ins, true)
	assert.Error(t, err)
}

func TestALUShiftOverBitwidthRejected(t *testing.T) {
	root := state.NewRoot()
	root.Frames[0].Regs[1] = state.ScalarConst(1)

	ins := shiftImm(opcode.LShOp, 1, 64)
	c := &Checker{Graph: &cfg.Graph{}}
	err := c.stepALU(root, 0, ins, true)
	assert.Error(t, err)
}

func TestStackStoreMarksZeroSlotForConstZero(t *testing.T) {
	root := state.NewRoot()
	root.Frames[0].Regs[1] = state.ScalarConst(0)
	base := root.Reg(10)
	base.Off = 0

	c := &Checker{Graph: &cfg.Graph{}, Ops: ctxaccess.NewSocketFilterOps()}
	ins := stxMem(10, 1, -8, opcode.DWSize)
	require.NoError(t, c.stepStore(root, 0, ins))

	slotIdx, _ := state.OffsetToSlot(-8)
	slot := root.CurrentFrame().Stack.Slot(slotIdx)
	assert.Equal(t, state.SlotZero, slot.ByteType[0])
}

func TestContextWriteRejected(t *testing.T) {
	root := state.NewRoot()
	root.Frames[0].Regs[6] = state.RegState{Kind: state.KindPtrToCtx}
	root.Frames[0].Regs[1] = state.ScalarConst(1)

	c := &Checker{Graph: &cfg.Graph{}, Ops: ctxaccess.NewSocketFilterOps()}
	ins := stxMem(6, 1, 0, opcode.WSize)
	err := c.stepStore(root, 0, ins)
	assert.Error(t, err)
}
