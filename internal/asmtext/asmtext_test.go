package asmtext

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStraightLineProgram(t *testing.T) {
	src := `
; trivial accept
mov64 r0, 0
exit
`
	insns, err := Parse(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, insns, 2)
}

func TestParseRegisterAndImmediateALU(t *testing.T) {
	insns, err := Parse(strings.NewReader("mov64 r1, r2\nadd64 r1, 4\nexit\n"))
	require.NoError(t, err)
	require.Len(t, insns, 3)
}

func TestParseConditionalJumpWithOffset(t *testing.T) {
	insns, err := Parse(strings.NewReader("mov64 r0, 1\njlt r0, 10, +2\nmov64 r0, 2\nexit\n"))
	require.NoError(t, err)
	assert.Equal(t, int16(2), insns[1].Offset)
}

func TestParseMemoryAccess(t *testing.T) {
	insns, err := Parse(strings.NewReader("ldxw r0, [r1+8]\nstxdw [r2-4], r3\nexit\n"))
	require.NoError(t, err)
	require.Len(t, insns, 3)
	assert.Equal(t, int16(8), insns[0].Offset)
	assert.Equal(t, int16(-4), insns[1].Offset)
}

func TestParseUnknownMnemonicIsError(t *testing.T) {
	_, err := Parse(strings.NewReader("frobnicate r0\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func TestParseHelperCall(t *testing.T) {
	insns, err := Parse(strings.NewReader("call 1\nexit\n"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), insns[0].Constant)
}
