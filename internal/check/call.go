package check

import (
	"github.com/cilium/ebpf/asm"

	"bpfverify/internal/calls"
	"bpfverify/internal/cfg"
	"bpfverify/internal/opcode"
	"bpfverify/internal/state"
	"bpfverify/internal/verr"
)

// RefIDAllocator hands out fresh reference ids, shared across a whole
// verification run (spec.md §4.5: "R0 gains a fresh ref_obj_id").
type RefIDAllocator struct{ next uint32 }

func (a *RefIDAllocator) Next() uint32 {
	a.next++
	return a.next
}

// defaultRefs is the checker's reference-id allocator. It is a
// package-level value, so ids keep counting up across every Checker and
// every verification run in the process.
var defaultRefs = &RefIDAllocator{}

func (c *Checker) stepCall(vs *state.VerifierState, idx int, ins asm.Instruction) error {
	switch opcode.Register(ins.Src) {
	case cfg.PseudoCall:
		target := idx + 1 + int(ins.Constant)
		subprogIdx := c.Graph.Aux[target].SubprogIdx
		return calls.PushSubprogCall(vs, subprogIdx, idx)
	case cfg.PseudoKfuncCall:
		return c.stepKfuncCall(vs, idx, uint32(ins.Constant))
	default:
		return c.stepHelperCall(vs, idx, opcode.HelperID(ins.Constant))
	}
}

// stepKfuncCall dispatches a typed kfunc call (spec.md §4.5, §4.6). The
// RCU read-lock/unlock pair toggles ActiveRCU; unlock additionally demotes
// every RCU-tagged register across all live frames to untrusted. Any other
// kfunc is checked against the graph-API allowlist while a lock is held.
// With no Kfuncs resolver wired, a kfunc call is accepted unconditionally
// structurally (the CFG builder already validated the call shape).
func (c *Checker) stepKfuncCall(vs *state.VerifierState, idx int, btfID uint32) error {
	if c.Kfuncs == nil {
		return nil
	}
	name, ok := c.Kfuncs(btfID)
	if !ok {
		return verr.New(verr.KindStructural, idx, "call to unregistered kfunc id %d", btfID)
	}
	switch name {
	case "bpf_rcu_read_lock":
		return calls.EnterRCU(vs, idx)
	case "bpf_rcu_read_unlock":
		if err := calls.ExitRCU(vs, idx); err != nil {
			return err
		}
		calls.DemoteRCUTagged(vs)
		return nil
	default:
		if vs.ActiveLock.Held && !calls.CallAllowedUnderLock(name) {
			return verr.New(verr.KindResource, idx, "call to %s not allowed while a spin lock is held", name)
		}
		return nil
	}
}

func (c *Checker) stepHelperCall(vs *state.VerifierState, idx int, id opcode.HelperID) error {
	proto, ok := calls.Lookup(id)
	if !ok {
		return verr.New(verr.KindStructural, idx, "invalid func %s#%d", id.Name(), id)
	}

	var mapLookup func(uint64) (calls.MapInfo, bool)
	if c.Maps != nil {
		mapLookup = func(uid uint64) (calls.MapInfo, bool) {
			mt, keySz, valSz, ok := c.Maps(uid)
			if !ok {
				return calls.MapInfo{}, false
			}
			return calls.MapInfo{Type: mt, KeySize: keySz, ValueSize: valSz}, true
		}
	}

	args := calls.HelperCallArgs{Frame: vs.CurrentFrame(), Maps: mapLookup}
	for i := 0; i < 5; i++ {
		args.Regs[i] = reg(vs, i+1)
	}

	ret, err := calls.CheckHelperCall(idx, proto, args)
	if err != nil {
		return err
	}

	switch id {
	case opcode.HelperSpinLock:
		lockReg := args.Regs[0]
		if err := calls.AcquireLock(vs, idx, uint32(lockReg.MapUID), uint32(lockReg.Off)); err != nil {
			return err
		}
	case opcode.HelperSpinUnlock:
		lockReg := args.Regs[0]
		if vs.ActiveLock.Held && vs.ActiveLock.Ptr != uint64(uint32(lockReg.MapUID)) {
			return verr.New(verr.KindResource, idx, "unlock of a different lock")
		}
		if err := calls.ReleaseLock(vs, idx, uint32(lockReg.Off)); err != nil {
			return err
		}
	}

	// A size bound that gates a memory-safety decision (calls.CheckHelperCall's
	// ARG_CONST_SIZE/ARG_CONST_SIZE_OR_ZERO validation above) must stay precise
	// across state-equivalence pruning, the same as a pointer+scalar offset.
	for i, a := range proto.Args {
		if a.Kind == calls.ArgConstSize || a.Kind == calls.ArgConstSizeOrZero {
			c.demandPrecise(vs, i+1)
		}
	}

	if argIdx, releases := calls.ReleasesReference(proto); releases {
		refID := reg(vs, argIdx+1).RefObjID
		if !vs.CurrentFrame().ReleaseRef(refID) {
			return verr.New(verr.KindResource, idx, "releasing a non-acquired reference")
		}
	}
	if proto.Ret == calls.RetAcquiredRef {
		ret.RefObjID = defaultRefs.Next()
		vs.CurrentFrame().AddRef(ret.RefObjID, idx, false)
	}

	*reg(vs, 0) = ret
	for r := 1; r <= 5; r++ {
		*reg(vs, r) = state.NotInit()
	}
	return nil
}
