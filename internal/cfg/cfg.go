// Package cfg builds the control-flow graph the instruction checker drives
// from: reachability, subprogram boundaries, back-edge detection for the
// "no loops outside an open-coded iterator" first-pass rule, and the
// prune-point / jmp-point marks the abstract interpreter's worklist and
// equivalence cache consult (spec.md §3 "Per-instruction auxiliary data",
// §4 item 4).
package cfg

import (
	"fmt"

	"github.com/cilium/ebpf/asm"

	"bpfverify/internal/opcode"
)

// PseudoCall is the Src encoding eBPF uses on BPF_CALL to distinguish a
// call to another subprogram (relative, resolved at load time) from a
// call to a numbered helper (opcode.HelperID in Constant).
const PseudoCall = opcode.Register(1)

// PseudoKfuncCall is the Src encoding eBPF uses on BPF_CALL to mark a call
// to a typed kernel function (BTF function id in Constant) rather than a
// numbered helper or a subprogram call.
const PseudoKfuncCall = opcode.Register(2)

// AuxData is the per-instruction auxiliary bookkeeping spec.md §3 lists
// (the subset the CFG builder itself populates; internal/check and
// internal/rewrite add the rest: sanitation state, POISONED/SEEN tags,
// zext_dst, and so on, layered on by value in internal/verifier's
// per-instruction slice).
type AuxData struct {
	PrunePoint      bool
	ForceCheckpoint bool
	JmpPoint        bool
	IsIterNext      bool
	SubprogIdx      int
}

// Graph is the built control-flow graph for one instruction stream.
type Graph struct {
	Insns []asm.Instruction
	Aux   []AuxData

	// Succ[i] holds the instructions i can fall through or jump to.
	// Call and Exit contribute no entry here: Call falls through after the
	// callee returns (handled by internal/calls' frame push/pop, not as a
	// graph edge) and Exit has no successor at all.
	Succ [][]int

	// Subprogs is the sorted list of subprogram entry instruction indices;
	// Subprogs[0] is always 0.
	Subprogs []int

	// Reachable[i] is true iff some path from instruction 0 reaches i.
	Reachable []bool
}

// Error is a structural CFG defect: a malformed jump target or a
// back-edge among ordinary (non-iterator) jumps.
type Error struct {
	InsnIdx int
	Msg     string
}

func (e *Error) Error() string { return fmt.Sprintf("insn %d: %s", e.InsnIdx, e.Msg) }

// Build decodes insns into a Graph, performs the DFS back-edge check, and
// marks reachability. isIterNext identifies, by instruction, whether a
// BPF_CALL is an open-coded iterator's `next` kfunc (spec.md §4.7); a
// back-edge whose target is such a call is the loop structure an
// iterator is expected to produce and is exempted from the "no back-edge
// among ordinary jumps" rule (spec.md §4 item 4, §8 scenario 5) so the
// worklist can actually explore the loop and let the checkpoint cache
// (§4.9) prove convergence. isIterNext may be nil, in which case every
// back-edge is rejected, matching the rule's unconditional form.
func Build(insns []asm.Instruction, isIterNext func(ins asm.Instruction) bool) (*Graph, error) {
	g := &Graph{
		Insns: insns,
		Aux:   make([]AuxData, len(insns)),
		Succ:  make([][]int, len(insns)),
	}
	if err := g.findSubprogs(); err != nil {
		return nil, err
	}
	if err := g.linkSuccessors(); err != nil {
		return nil, err
	}
	if err := g.detectBackEdges(isIterNext); err != nil {
		return nil, err
	}
	g.markReachability()
	g.markJmpAndPrunePoints()
	return g, nil
}

func (g *Graph) findSubprogs() error {
	seen := map[int]bool{0: true}
	g.Subprogs = []int{0}
	for i, ins := range g.Insns {
		class := opcode.Class(opcode.Raw(ins))
		if !opcode.IsJmp(class) {
			continue
		}
		if opcode.ALUOp(opcode.Raw(ins)) != opcode.CallOp {
			continue
		}
		if opcode.Register(ins.Src) != PseudoCall {
			continue // helper call, not a subprog call
		}
		target := i + 1 + int(ins.Constant)
		if target < 0 || target >= len(g.Insns) {
			return &Error{InsnIdx: i, Msg: "call target out of range"}
		}
		if !seen[target] {
			seen[target] = true
			g.Subprogs = append(g.Subprogs, target)
		}
	}
	for i := range g.Insns {
		g.Aux[i].SubprogIdx = subprogOf(g.Subprogs, i)
	}
	return nil
}

// subprogOf returns the index into sorted subprog-entry list owning insn i.
func subprogOf(subprogs []int, i int) int {
	idx := 0
	for s, entry := range subprogs {
		if entry <= i {
			idx = s
		}
	}
	return idx
}

func (g *Graph) linkSuccessors() error {
	for i, ins := range g.Insns {
		op := opcode.Raw(ins)
		class := opcode.Class(op)
		switch {
		case !opcode.IsJmp(class):
			if i+1 < len(g.Insns) {
				g.Succ[i] = []int{i + 1}
			}
		default:
			aluOp := opcode.ALUOp(op)
			switch aluOp {
			case opcode.ExitOp:
				// no successor: EXIT pops a frame or ends the program.
			case opcode.CallOp:
				if i+1 < len(g.Insns) {
					g.Succ[i] = []int{i + 1}
				}
			case opcode.JaOp:
				target := i + 1 + int(ins.Offset)
				if target < 0 || target >= len(g.Insns) {
					return &Error{InsnIdx: i, Msg: "jump target out of range"}
				}
				g.Succ[i] = []int{target}
			default:
				target := i + 1 + int(ins.Offset)
				if target < 0 || target >= len(g.Insns) {
					return &Error{InsnIdx: i, Msg: "jump target out of range"}
				}
				succ := []int{target}
				if i+1 < len(g.Insns) {
					succ = append(succ, i+1)
				}
				g.Succ[i] = succ
			}
		}
	}
	return nil
}

// detectBackEdges runs an iterative DFS per subprogram looking for an
// edge into an instruction still on the current path (a gray node),
// which is exactly a back-edge (spec.md §4 item 4, §8 "no back-edge among
// ordinary jumps"). An edge whose target isIterNext recognizes as an
// iterator-next call is tagged IsIterNext and allowed through instead of
// erroring.
func (g *Graph) detectBackEdges(isIterNext func(ins asm.Instruction) bool) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make([]uint8, len(g.Insns))

	type frame struct {
		insn int
		next int // index into Succ[insn] of the next child to visit
	}

	for _, entry := range g.Subprogs {
		if color[entry] != white {
			continue
		}
		stack := []frame{{insn: entry}}
		color[entry] = gray
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next >= len(g.Succ[top.insn]) {
				color[top.insn] = black
				stack = stack[:len(stack)-1]
				continue
			}
			child := g.Succ[top.insn][top.next]
			top.next++
			switch color[child] {
			case white:
				color[child] = gray
				stack = append(stack, frame{insn: child})
			case gray:
				if isIterNext != nil && isIterNext(g.Insns[child]) {
					g.Aux[child].IsIterNext = true
					continue
				}
				return &Error{InsnIdx: child, Msg: "back-edge among ordinary jumps"}
			case black:
				// cross/forward edge, fine.
			}
		}
	}
	return nil
}

func (g *Graph) markReachability() {
	g.Reachable = make([]bool, len(g.Insns))
	var stack []int
	for _, e := range g.Subprogs {
		if !g.Reachable[e] {
			g.Reachable[e] = true
			stack = append(stack, e)
		}
	}
	for len(stack) > 0 {
		n := len(stack) - 1
		i := stack[n]
		stack = stack[:n]
		for _, s := range g.Succ[i] {
			if !g.Reachable[s] {
				g.Reachable[s] = true
				stack = append(stack, s)
			}
		}
	}
}

// markJmpAndPrunePoints marks every instruction with more than one
// predecessor, and every subprogram entry, as a prune point (a jump target
// with a single predecessor is not marked), and every branching
// (multi-successor) instruction as a jmp point, per spec.md §3.
func (g *Graph) markJmpAndPrunePoints() {
	predCount := make([]int, len(g.Insns))
	for _, succs := range g.Succ {
		for _, s := range succs {
			predCount[s]++
		}
	}
	for i, succs := range g.Succ {
		if len(succs) > 1 {
			g.Aux[i].JmpPoint = true
		}
	}
	for i, n := range predCount {
		if n > 1 {
			g.Aux[i].PrunePoint = true
		}
	}
	for _, e := range g.Subprogs {
		g.Aux[e].PrunePoint = true
	}
}
