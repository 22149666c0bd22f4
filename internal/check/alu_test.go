package check

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bpfverify/internal/bounds"
	"bpfverify/internal/cfg"
	"bpfverify/internal/opcode"
	"bpfverify/internal/state"
	"bpfverify/internal/tnum"
)

func TestPointerAddWithBoundedScalarRecordsAluLimitAndForksTwin(t *testing.T) {
	root := state.NewRoot()
	root.Frames[0].Regs[1] = state.RegState{
		Kind: state.KindPtrToMapValue, MemSize: 64,
		Bounds: bounds.ConstBounds(0), VarOff: tnum.Const(0),
	}
	root.Frames[0].Regs[2] = state.RegState{
		Kind: state.KindScalar, Bounds: bounds.Bounds{U64Min: 0, U64Max: 10, S64Min: 0, S64Max: 10}, VarOff: tnum.Unknown,
	}

	var forked []*state.VerifierState
	c := &Checker{Graph: &cfg.Graph{}, ForkSink: func(s *state.VerifierState) { forked = append(forked, s) }}

	ins := mov64ALU(opcode.AddOp, 1, 2)
	require.NoError(t, c.stepALU(root, 5, ins, true))

	require.Len(t, forked, 1)
	twin := forked[0]
	assert.True(t, twin.Speculative)
	td := twin.Reg(1)
	assert.True(t, td.Flags.Has(state.FlagSanitizeSpeculative))
	assert.EqualValues(t, 64, td.AluLimit)
	assert.Equal(t, 6, twin.InsnIdx)
}

func TestPointerAddWithConstScalarDoesNotSanitize(t *testing.T) {
	root := state.NewRoot()
	root.Frames[0].Regs[1] = state.RegState{
		Kind: state.KindPtrToMapValue, MemSize: 64,
		Bounds: bounds.ConstBounds(0), VarOff: tnum.Const(0),
	}
	root.Frames[0].Regs[2] = state.ScalarConst(4)

	var forked []*state.VerifierState
	c := &Checker{Graph: &cfg.Graph{}, ForkSink: func(s *state.VerifierState) { forked = append(forked, s) }}

	ins := mov64ALU(opcode.AddOp, 1, 2)
	require.NoError(t, c.stepALU(root, 0, ins, true))
	assert.Empty(t, forked, "a constant offset needs no speculative twin")
}

func TestBypassSpecV1SkipsSanitizer(t *testing.T) {
	root := state.NewRoot()
	root.Frames[0].Regs[1] = state.RegState{
		Kind: state.KindPtrToMapValue, MemSize: 64,
		Bounds: bounds.ConstBounds(0), VarOff: tnum.Const(0),
	}
	root.Frames[0].Regs[2] = state.RegState{
		Kind: state.KindScalar, Bounds: bounds.Bounds{U64Min: 0, U64Max: 10, S64Min: 0, S64Max: 10}, VarOff: tnum.Unknown,
	}

	var forked []*state.VerifierState
	c := &Checker{
		Graph:    &cfg.Graph{},
		Caps:     Capabilities{BypassSpecV1: true},
		ForkSink: func(s *state.VerifierState) { forked = append(forked, s) },
	}

	ins := mov64ALU(opcode.AddOp, 1, 2)
	require.NoError(t, c.stepALU(root, 0, ins, true))
	assert.Empty(t, forked, "BypassSpecV1 must disable the sanitizer")
}

func TestAllowPtrLeaksSkipsSanitizer(t *testing.T) {
	root := state.NewRoot()
	root.Frames[0].Regs[1] = state.RegState{
		Kind: state.KindPtrToMapValue, MemSize: 64,
		Bounds: bounds.ConstBounds(0), VarOff: tnum.Const(0),
	}
	root.Frames[0].Regs[2] = state.RegState{
		Kind: state.KindScalar, Bounds: bounds.Bounds{U64Min: 0, U64Max: 10, S64Min: 0, S64Max: 10}, VarOff: tnum.Unknown,
	}

	var forked []*state.VerifierState
	c := &Checker{
		Graph:    &cfg.Graph{},
		Caps:     Capabilities{AllowPtrLeaks: true},
		ForkSink: func(s *state.VerifierState) { forked = append(forked, s) },
	}

	ins := mov64ALU(opcode.AddOp, 1, 2)
	require.NoError(t, c.stepALU(root, 0, ins, true))
	assert.Empty(t, forked)
}

func TestTwinForkedFromOutOfBoundsPointerFailsAtSubsequentStore(t *testing.T) {
	// The sanitizer clamps the twin's pointer to [0, alu_limit]. A store
	// through it must still pass the ordinary range check; a too-large
	// access size tips it out of bounds, which is how "the speculative
	// twin would be out of bounds" surfaces as a verification failure.
	root := state.NewRoot()
	root.Frames[0].Regs[1] = state.RegState{
		Kind: state.KindPtrToMapValue, MemSize: 4,
		Bounds: bounds.ConstBounds(0), VarOff: tnum.Const(0),
	}
	root.Frames[0].Regs[2] = state.RegState{
		Kind: state.KindScalar, Bounds: bounds.Bounds{U64Min: 0, U64Max: 10, S64Min: 0, S64Max: 10}, VarOff: tnum.Unknown,
	}

	var forked []*state.VerifierState
	c := &Checker{Graph: &cfg.Graph{}, ForkSink: func(s *state.VerifierState) { forked = append(forked, s) }}

	ins := mov64ALU(opcode.AddOp, 1, 2)
	require.NoError(t, c.stepALU(root, 0, ins, true))
	require.Len(t, forked, 1)

	twin := forked[0]
	storeIns := stxMem(1, 2, 0, opcode.DWSize) // 8-byte store into a 4-byte object
	err := c.stepStore(twin, twin.InsnIdx, storeIns)
	assert.Error(t, err)
}
