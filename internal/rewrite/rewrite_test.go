package rewrite

import (
	"testing"

	"github.com/cilium/ebpf/asm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplySameSizePatchPreservesLength(t *testing.T) {
	insns := []asm.Instruction{
		asm.Mov.Imm64(asm.R0, 1),
		asm.Mov.Imm64(asm.R1, 2),
		asm.Return(),
	}
	ps := NewPatchSet()
	ps.NeutralizeDeadCode(1)

	res := Apply(insns, ps)
	require.Len(t, res.Insns, 3)
	assert.Equal(t, []int{0, 1, 2}, res.OldToNew)
}

func TestApplyGrowingPatchShiftsLaterIndices(t *testing.T) {
	insns := []asm.Instruction{
		asm.Mov.Imm64(asm.R0, 1),
		asm.Mov.Imm64(asm.R1, 2),
		asm.Return(),
	}
	ps := NewPatchSet()
	ps.Add(Patch{InsnIdx: 1, Replacement: []asm.Instruction{
		asm.Mov.Imm64(asm.R1, 2),
		asm.Mov.Imm64(asm.R1, 2),
	}})

	res := Apply(insns, ps)
	require.Len(t, res.Insns, 4)
	assert.Equal(t, []int{0, 1, 3}, res.OldToNew)
}

func TestDuplicatePatchAtSameIndexPanics(t *testing.T) {
	ps := NewPatchSet()
	ps.Add(Patch{InsnIdx: 0, Replacement: []asm.Instruction{asm.Return()}})
	assert.Panics(t, func() {
		ps.Add(Patch{InsnIdx: 0, Replacement: []asm.Instruction{asm.Return()}})
	})
}

func TestAdjustLineInfoOffsetsStaysMonotonic(t *testing.T) {
	insns := []asm.Instruction{
		asm.Mov.Imm64(asm.R0, 1),
		asm.Mov.Imm64(asm.R1, 2),
		asm.Return(),
	}
	ps := NewPatchSet()
	ps.Add(Patch{InsnIdx: 0, Replacement: []asm.Instruction{
		asm.Mov.Imm64(asm.R0, 1), asm.Mov.Imm64(asm.R0, 1),
	}})
	res := Apply(insns, ps)

	adjusted := AdjustLineInfoOffsets([]int{0, 1, 2}, res)
	for i := 1; i < len(adjusted); i++ {
		assert.GreaterOrEqual(t, adjusted[i], adjusted[i-1])
	}
}
