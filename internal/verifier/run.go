package verifier

import (
	"bpfverify/internal/cfg"
	"bpfverify/internal/check"
	"bpfverify/internal/equiv"
	"bpfverify/internal/state"
	"bpfverify/internal/verr"
	"bpfverify/internal/vlog"
)

// minInsnsBetweenCheckpoints / minJmpsBetweenCheckpoints throttle checkpoint creation
// inside loops (spec.md §4.10: "at least 8 insns and 2 jmps since last
// checkpoint, unless force_checkpoint").
const (
	minInsnsBetweenCheckpoints = 8
	minJmpsBetweenCheckpoints  = 2
)

type explorer struct {
	checker  *check.Checker
	graph    *cfg.Graph
	cache    *equiv.Cache
	log      *vlog.Log
	worklist *state.Worklist
	arena    *state.Arena

	insnProcessed int
	peakStates    int

	// insnsSinceCP and jmpsSinceCP count instructions and jmp points
	// since the last checkpoint was taken, and are reset when one is.
	// They are run-global: one pair of counters shared by every path and
	// loop, not one per path or per loop header.
	insnsSinceCP int
	jmpsSinceCP  int
}

func run(checker *check.Checker, graph *cfg.Graph, root *state.VerifierState, cache *equiv.Cache, log *vlog.Log) (Stats, error) {
	arena := state.NewArena()
	wl := state.NewWorklist(arena)
	checker.ForkSink = func(s *state.VerifierState) { wl.Push(s) }
	wl.Push(root)

	ex := &explorer{checker: checker, graph: graph, cache: cache, log: log, worklist: wl, arena: arena}
	return ex.drain()
}

func (ex *explorer) drain() (Stats, error) {
	for {
		vs, ok := ex.worklist.Pop()
		if !ok {
			break
		}
		if ex.arena.Len() > ex.peakStates {
			ex.peakStates = ex.arena.Len()
		}
		if err := ex.explorePath(vs); err != nil {
			return Stats{InsnProcessed: ex.insnProcessed, PeakStates: ex.peakStates}, err
		}
	}
	return Stats{InsnProcessed: ex.insnProcessed, PeakStates: ex.peakStates}, nil
}

// explorePath simulates vs forward, instruction by instruction, until it
// hits EXIT (with no caller frame) or a prune point where an equivalence
// hit prunes it. At a branch it pushes a fork for every successor after
// the first onto the worklist and continues with the first.
func (ex *explorer) explorePath(vs *state.VerifierState) error {
	idx := vs.InsnIdx
	for {
		ex.insnProcessed++
		ex.insnsSinceCP++
		if ex.insnProcessed > MaxInstructionsProcessed {
			return verr.New(verr.KindComplexity, idx, "instruction processing limit exceeded")
		}
		if idx < 0 || idx >= len(ex.graph.Insns) {
			return verr.New(verr.KindInternal, idx, "instruction pointer out of range")
		}

		aux := ex.graph.Aux[idx]
		if aux.PrunePoint {
			key := equiv.PruneKey{InsnIdx: idx, Callsite: vs.CurrentFrame().CallsiteInsnIdx}
			if _, hit := ex.cache.Lookup(key, vs); hit {
				return nil // pruned: this path is subsumed by an earlier checkpoint.
			}
			if ex.readyForCheckpoint(aux) {
				ex.cache.Insert(key, vs)
				ex.insnsSinceCP = 0
				ex.jmpsSinceCP = 0
			}
		}

		if ex.log != nil {
			ex.log.Insn(idx, "")
		}

		succs, err := ex.checker.Step(vs, idx)
		if err != nil {
			return err
		}
		if aux.JmpPoint {
			ex.jmpsSinceCP++
		}

		switch len(succs) {
		case 0:
			return nil // EXIT at frame 0: this path verified successfully.
		case 1:
			vs.InsnIdx = succs[0]
			idx = succs[0]
		default:
			for _, s := range succs[1:] {
				if ex.worklist.Len() > MaxJumpStackDepth {
					return verr.New(verr.KindComplexity, idx, "jump-stack depth limit exceeded")
				}
				fork := vs.Fork(s)
				ex.worklist.Push(fork)
			}
			vs.InsnIdx = succs[0]
			idx = succs[0]
		}
	}
}

func (ex *explorer) readyForCheckpoint(aux cfg.AuxData) bool {
	if aux.ForceCheckpoint {
		return true
	}
	return ex.insnsSinceCP >= minInsnsBetweenCheckpoints && ex.jmpsSinceCP >= minJmpsBetweenCheckpoints
}

func insnIdxOf(err error) int {
	if e, ok := err.(*verr.Error); ok {
		return e.InsnIdx
	}
	return -1
}
