package check

import (
	"testing"

	"github.com/cilium/ebpf/asm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bpfverify/internal/cfg"
	"bpfverify/internal/opcode"
	"bpfverify/internal/state"
)

func TestSpinLockHelperAcquiresAndReleases(t *testing.T) {
	root := state.NewRoot()
	c := &Checker{Graph: &cfg.Graph{}}

	root.Frames[0].Regs[1] = state.RegState{Kind: state.KindPtrToMapValue, MapUID: 7, Off: 3}
	require.NoError(t, c.stepCall(root, 0, callIns(0, int64(opcode.HelperSpinLock))))
	assert.True(t, root.ActiveLock.Held)
	assert.EqualValues(t, 3, root.ActiveLock.ID)

	root.Frames[0].Regs[1] = state.RegState{Kind: state.KindPtrToMapValue, MapUID: 7, Off: 3}
	require.NoError(t, c.stepCall(root, 1, callIns(0, int64(opcode.HelperSpinUnlock))))
	assert.False(t, root.ActiveLock.Held)
}

func TestSpinLockHelperRejectsDoubleLock(t *testing.T) {
	root := state.NewRoot()
	c := &Checker{Graph: &cfg.Graph{}}

	root.Frames[0].Regs[1] = state.RegState{Kind: state.KindPtrToMapValue, MapUID: 7, Off: 0}
	require.NoError(t, c.stepCall(root, 0, callIns(0, int64(opcode.HelperSpinLock))))

	root.Frames[0].Regs[1] = state.RegState{Kind: state.KindPtrToMapValue, MapUID: 9, Off: 8}
	err := c.stepCall(root, 1, callIns(0, int64(opcode.HelperSpinLock)))
	assert.Error(t, err)
}

func TestSpinLockHeldAtExitIsRejected(t *testing.T) {
	root := state.NewRoot()
	c := &Checker{Graph: &cfg.Graph{}}

	root.Frames[0].Regs[1] = state.RegState{Kind: state.KindPtrToMapValue, MapUID: 1, Off: 0}
	require.NoError(t, c.stepCall(root, 0, callIns(0, int64(opcode.HelperSpinLock))))

	exitIns := asm.Instruction{OpCode: asm.OpCode(uint16(opcode.JmpClass) | uint16(opcode.ExitOp))}
	_, err := c.stepJmp(root, 1, exitIns)
	assert.Error(t, err)
}

func kfuncResolver() func(uint32) (string, bool) {
	names := map[uint32]string{
		1: "bpf_rcu_read_lock",
		2: "bpf_rcu_read_unlock",
		3: "bpf_list_push_front_impl",
		4: "bpf_some_unrelated_kfunc",
	}
	return func(id uint32) (string, bool) {
		n, ok := names[id]
		return n, ok
	}
}

func TestKfuncRCUReadLockUnlockTogglesActiveRCU(t *testing.T) {
	root := state.NewRoot()
	c := &Checker{Graph: &cfg.Graph{}, Kfuncs: kfuncResolver()}

	require.NoError(t, c.stepCall(root, 0, callIns(cfg.PseudoKfuncCall, 1)))
	assert.True(t, root.ActiveRCU)
	assert.Error(t, c.stepCall(root, 1, callIns(cfg.PseudoKfuncCall, 1)), "nested RCU section must be rejected")

	require.NoError(t, c.stepCall(root, 2, callIns(cfg.PseudoKfuncCall, 2)))
	assert.False(t, root.ActiveRCU)
}

func TestKfuncRCUUnlockDemotesRCUTaggedRegisters(t *testing.T) {
	root := state.NewRoot()
	c := &Checker{Graph: &cfg.Graph{}, Kfuncs: kfuncResolver()}

	require.NoError(t, c.stepCall(root, 0, callIns(cfg.PseudoKfuncCall, 1)))
	root.Frames[0].Regs[6] = state.RegState{Kind: state.KindPtrToMem, Flags: state.FlagRCU}
	require.NoError(t, c.stepCall(root, 1, callIns(cfg.PseudoKfuncCall, 2)))

	r := root.Frames[0].Regs[6]
	assert.False(t, r.Flags.Has(state.FlagRCU))
	assert.True(t, r.Flags.Has(state.FlagUntrusted))
}

func TestKfuncGraphAPIAllowedUnderLockOthersRejected(t *testing.T) {
	root := state.NewRoot()
	c := &Checker{Graph: &cfg.Graph{}, Kfuncs: kfuncResolver()}
	root.ActiveLock = state.ActiveLock{Held: true, Ptr: 1, ID: 1}

	assert.NoError(t, c.stepCall(root, 0, callIns(cfg.PseudoKfuncCall, 3)))
	assert.Error(t, c.stepCall(root, 1, callIns(cfg.PseudoKfuncCall, 4)))
}

func TestKfuncCallWithoutResolverIsAccepted(t *testing.T) {
	root := state.NewRoot()
	c := &Checker{Graph: &cfg.Graph{}}
	assert.NoError(t, c.stepCall(root, 0, callIns(cfg.PseudoKfuncCall, 99)))
}
