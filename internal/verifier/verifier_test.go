package verifier

import (
	"testing"

	"github.com/cilium/ebpf/asm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bpfverify/internal/check"
	"bpfverify/internal/ctxaccess"
	"bpfverify/internal/opcode"
)

func baseConfig() Config {
	return Config{
		ProgType: opcode.ProgTypeSocketFilter,
		Ops:      ctxaccess.NewSocketFilterOps(),
		Caps:     check.Capabilities{AllowPtrLeaks: true},
	}
}

func TestVerifyAcceptsStraightLineProgram(t *testing.T) {
	insns := asm.Instructions{
		asm.Mov.Imm64(asm.R0, 0),
		asm.Return(),
	}
	res, err := Verify(insns, baseConfig())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Stats.InsnProcessed)
}

func TestVerifyRejectsEmptyProgram(t *testing.T) {
	_, err := Verify(asm.Instructions{}, baseConfig())
	assert.Error(t, err)
}

func TestVerifyRejectsBackEdgeLoop(t *testing.T) {
	insns := asm.Instructions{
		asm.Mov.Imm64(asm.R0, 0),
		asm.Add.Imm(asm.R0, 1),
		{OpCode: asm.JLT.Op(asm.ImmSource), Dst: asm.R0, Offset: -2, Constant: 10},
		asm.Return(),
	}
	_, err := Verify(insns, baseConfig())
	assert.Error(t, err)
}

func TestVerifyRejectsOutOfRangeJump(t *testing.T) {
	insns := asm.Instructions{
		asm.Mov.Imm64(asm.R1, 1),
		{OpCode: asm.JGT.Op(asm.ImmSource), Dst: asm.R1, Offset: 1000, Constant: 0},
		asm.Return(),
	}
	_, err := Verify(insns, baseConfig())
	assert.Error(t, err)
}

func TestVerifyDoesNotPanicOnMalformedOpcode(t *testing.T) {
	// OpCode 0xff is not a valid instruction: its class bits decode as
	// ALU64 with an operation code no ALU instruction uses. The test
	// confirms Verify returns to the caller instead of panicking on such
	// a malformed instruction stream; it does not check the error kind.
	insns := asm.Instructions{
		{OpCode: asm.OpCode(0xff)},
	}
	assert.NotPanics(t, func() {
		Verify(insns, baseConfig())
	})
}
