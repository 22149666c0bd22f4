package vlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSilentLevelSuppressesInsnAndState(t *testing.T) {
	lg := New(LevelSilent)
	lg.Insn(3, "r0 = 0")
	lg.State(3, "r0=scalar(0)")
	assert.Empty(t, lg.String())
}

func TestInsnLevelEmitsInsnNotState(t *testing.T) {
	lg := New(LevelInsn)
	lg.Insn(3, "r0 = 0")
	lg.State(3, "r0=scalar(0)")
	out := lg.String()
	assert.Contains(t, out, "r0 = 0")
	assert.NotContains(t, out, "r0=scalar(0)")
}

func TestStateLevelEmitsBoth(t *testing.T) {
	lg := New(LevelState)
	lg.Insn(3, "r0 = 0")
	lg.State(3, "r0=scalar(0)")
	out := lg.String()
	assert.Contains(t, out, "r0 = 0")
	assert.Contains(t, out, "r0=scalar(0)")
}

func TestRejectAlwaysEmitted(t *testing.T) {
	lg := New(LevelSilent)
	lg.Reject(5, "R0 invalid mem access")
	assert.Contains(t, lg.String(), "R0 invalid mem access")
}
