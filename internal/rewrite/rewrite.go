// Package rewrite implements the post-pass instruction patching spec.md
// §3 item 9 describes: a patch table for insertions that preserve
// per-instruction auxiliary data, subprogram-start adjustment, and
// dead-code neutralization. Only patches affecting verified semantics
// belong here (spec.md: "Many rewrites are JIT concerns; only those
// affecting verified semantics belong to the core").
package rewrite

import (
	"github.com/cilium/ebpf/asm"

	"bpfverify/internal/cfg"
)

// Patch is one pending insertion: replace the single instruction at
// InsnIdx with Replacement (len >= 1). A Replacement of length 1 is a
// same-size rewrite (e.g. the Spectre-sanitizer's masking rewrite); longer
// replacements shift every later instruction.
type Patch struct {
	InsnIdx     int
	Replacement []asm.Instruction
}

// PatchSet accumulates patches to apply in one pass, keyed by the
// instruction index they replace. Patches must be disjoint (each
// instruction patched at most once per pass); Add panics on a
// duplicate, which would indicate an internal/check bug, not a bad
// input program.
type PatchSet struct {
	patches map[int]Patch
}

func NewPatchSet() *PatchSet { return &PatchSet{patches: map[int]Patch{}} }

// Add registers p, rejecting (via panic) a second patch at the same index.
func (ps *PatchSet) Add(p Patch) {
	if _, exists := ps.patches[p.InsnIdx]; exists {
		panic("rewrite: duplicate patch at the same instruction index")
	}
	ps.patches[p.InsnIdx] = p
}

// NeutralizeDeadCode replaces an unreachable instruction with a harmless
// no-op (`r0 = r0`) rather than deleting it, so instruction indices used
// by FuncInfo/LineInfo (spec.md §6) need no adjustment for instructions
// that were already dead.
func (ps *PatchSet) NeutralizeDeadCode(insnIdx int) {
	ps.Add(Patch{InsnIdx: insnIdx, Replacement: []asm.Instruction{asm.Mov.Reg(asm.R0, asm.R0)}})
}

// Result is the rewritten instruction stream plus the index remapping
// Apply computed, so callers can shift FuncInfo/LineInfo/subprog-start
// metadata consistently (spec.md §8: "subprog starts shift consistently,
// and line-info insn_offs are monotonically non-decreasing").
type Result struct {
	Insns []asm.Instruction
	// OldToNew[i] is the new index of what was originally instruction i.
	// For an instruction inside a multi-instruction replacement's extra
	// slots there is no original index, so OldToNew only covers original
	// instructions that still exist post-rewrite, each pointing at the
	// first instruction of its replacement.
	OldToNew []int
}

// Apply produces the rewritten stream. It processes patches in ascending
// InsnIdx order so that growth earlier in the stream is already reflected
// in OldToNew by the time a later patch is considered.
func Apply(insns []asm.Instruction, ps *PatchSet) Result {
	oldToNew := make([]int, len(insns))
	var out []asm.Instruction
	for i, ins := range insns {
		oldToNew[i] = len(out)
		if p, ok := ps.patches[i]; ok {
			out = append(out, p.Replacement...)
		} else {
			out = append(out, ins)
		}
	}
	return Result{Insns: out, OldToNew: oldToNew}
}

// AdjustSubprogs maps a cfg.Graph's subprogram entry indices through a
// rewrite Result's OldToNew table.
func AdjustSubprogs(g *cfg.Graph, r Result) []int {
	out := make([]int, len(g.Subprogs))
	for i, s := range g.Subprogs {
		out[i] = r.OldToNew[s]
	}
	return out
}

// AdjustLineInfoOffsets maps a sorted list of original line-info
// instruction offsets through OldToNew, preserving the "monotonically
// non-decreasing" property spec.md §8 requires by construction (OldToNew
// itself is monotonically non-decreasing, since Apply only ever inserts,
// never reorders).
func AdjustLineInfoOffsets(offsets []int, r Result) []int {
	out := make([]int, len(offsets))
	for i, o := range offsets {
		out[i] = r.OldToNew[o]
	}
	return out
}
