// Package verifier implements the external entry point (spec.md §6):
// Verify(insns, cfg) drives the CFG builder, the worklist-based abstract
// interpreter, the equivalence cache, and the post-pass rewriter, and
// converts panics at its boundary into KindInternal errors.
package verifier

import (
	"strings"

	"github.com/cilium/ebpf/asm"

	"bpfverify/internal/btf"
	"bpfverify/internal/cfg"
	"bpfverify/internal/check"
	"bpfverify/internal/ctxaccess"
	"bpfverify/internal/equiv"
	"bpfverify/internal/opcode"
	"bpfverify/internal/rewrite"
	"bpfverify/internal/state"
	"bpfverify/internal/verr"
	"bpfverify/internal/vlog"
)

// MaxInstructionsProcessed bounds total per-run work (spec.md §4.10).
const MaxInstructionsProcessed = 1_000_000

// MaxJumpStackDepth bounds the worklist's depth (spec.md §4.10).
const MaxJumpStackDepth = 8192

// MapRef is a resolved map reference used during verification, returned
// in Result.MapsUsed (spec.md §6).
type MapRef struct {
	UID  uint64
	Type opcode.MapType
	KeySize, ValueSize uint32
}

// BTFRef is a resolved BTF object reference used during verification.
type BTFRef struct {
	ID uint32
}

// FuncInfo/LineInfo mirror spec.md §6's optional metadata inputs; this
// core only threads them through rewrite's index adjustment, it does not
// interpret their contents.
type FuncInfo struct {
	InsnOff    int
	TypeID     uint32
}

type LineInfo struct {
	InsnOff int
	FileOff uint32
	LineOff uint32
}

// FileDescriptors resolves the fd table spec.md §6 mentions, letting the
// checker turn a CONST_PTR_TO_MAP register's identity into map metadata.
type FileDescriptors struct {
	Maps map[uint64]MapRef
}

// Config is the Verify entry point's full parameter set (spec.md §6).
type Config struct {
	ProgType   opcode.ProgType
	Ops        ctxaccess.Ops
	FuncInfo   []FuncInfo
	LineInfo   []LineInfo
	FDs        FileDescriptors
	TypeDB     *btf.TypeDB
	Log        *vlog.Log
	Caps       check.Capabilities

	// StrictAlignment mirrors the kernel's strict-alignment mode (spec.md
	// §4.2); forwarded straight through to the Checker.
	StrictAlignment bool
}

// Stats mirrors spec.md §6's "statistics (insn processed, peak states,
// verification time)"; only the first two are recorded, and there is no
// verification-time field.
type Stats struct {
	InsnProcessed int
	PeakStates    int
}

// Result is what Verify returns on success (spec.md §6).
type Result struct {
	Instructions asm.Instructions
	MapsUsed     []MapRef
	BTFUsed      []BTFRef
	Stats        Stats
}

// Verify runs the full pipeline over insns under cfg. Any panic reaching
// this boundary (an assertion violated inside the verifier, spec.md §7
// KindInternal) is recovered and returned as an error rather than
// propagated to the caller.
func Verify(insns asm.Instructions, cfg Config) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = verr.New(verr.KindInternal, -1, "internal verifier panic: %v", r)
		}
	}()

	raw := make([]asm.Instruction, len(insns))
	copy(raw, insns)

	graph, buildErr := buildGraph(raw, cfg.TypeDB)
	if buildErr != nil {
		return Result{}, buildErr
	}

	mapLookup := func(uid uint64) (opcode.MapType, uint32, uint32, bool) {
		m, ok := cfg.FDs.Maps[uid]
		if !ok {
			return 0, 0, 0, false
		}
		return m.Type, m.KeySize, m.ValueSize, true
	}

	checker := &check.Checker{
		Graph:           graph,
		Ops:             cfg.Ops,
		Caps:            cfg.Caps,
		Maps:            mapLookup,
		StrictAlignment: cfg.StrictAlignment,
		Kfuncs:          kfuncNameResolver(cfg.TypeDB),
	}

	root := newEntryState(cfg.ProgType)
	cache := equiv.NewCache()

	stats, runErr := run(checker, graph, root, cache, cfg.Log)
	if runErr != nil {
		if cfg.Log != nil {
			cfg.Log.Reject(insnIdxOf(runErr), runErr.Error())
		}
		return Result{}, runErr
	}

	ps := gatherDeadCodePatches(graph)
	rewritten := rewrite.Apply(raw, ps)

	return Result{
		Instructions: rewritten.Insns,
		Stats:        stats,
	}, nil
}

func buildGraph(raw []asm.Instruction, typeDB *btf.TypeDB) (*cfg.Graph, error) {
	if len(raw) == 0 {
		return nil, verr.New(verr.KindStructural, 0, "empty program")
	}
	if len(raw) > MaxInstructionsProcessed {
		return nil, verr.New(verr.KindComplexity, 0, "program exceeds instruction limit")
	}
	g, err := cfg.Build(raw, isIterNextResolver(typeDB))
	if err != nil {
		cerr, _ := err.(*cfg.Error)
		idx := 0
		if cerr != nil {
			idx = cerr.InsnIdx
		}
		return nil, verr.Wrap(verr.KindStructural, idx, err)
	}
	return g, nil
}

// isIterNextResolver builds the predicate cfg.Build uses to exempt an
// open-coded iterator's back-edge (spec.md §4.7): a BPF_CALL encodes a
// typed kfunc call via cfg.PseudoKfuncCall in Src and a BTF function id in
// Constant; the call is recognized as an iterator's `next` step if that
// id resolves to a registered kfunc whose name ends in "_next". Returns
// nil (meaning no exemption) when typeDB is nil.
func isIterNextResolver(typeDB *btf.TypeDB) func(ins asm.Instruction) bool {
	if typeDB == nil {
		return nil
	}
	return func(ins asm.Instruction) bool {
		if opcode.Register(ins.Src) != cfg.PseudoKfuncCall {
			return false
		}
		proto, ok := typeDB.KfuncByID(uint32(ins.Constant))
		if !ok {
			return false
		}
		return strings.HasSuffix(proto.Name, "_next")
	}
}

// kfuncNameResolver builds the predicate check.Checker uses to resolve a
// typed kfunc call's BTF function id to its registered name. Returns nil
// (meaning no resolution, kfunc calls pass through unchecked) when typeDB
// is nil.
func kfuncNameResolver(typeDB *btf.TypeDB) func(uint32) (string, bool) {
	if typeDB == nil {
		return nil
	}
	return func(id uint32) (string, bool) {
		proto, ok := typeDB.KfuncByID(id)
		if !ok {
			return "", false
		}
		return proto.Name, true
	}
}

// newEntryState builds the root VerifierState, binding R1 to a
// program-type-appropriate context pointer kind.
func newEntryState(pt opcode.ProgType) *state.VerifierState {
	root := state.NewRoot()
	ctxReg := state.RegState{Kind: state.KindPtrToCtx}
	ctxReg.SyncBounds()
	root.Frames[0].Regs[1] = ctxReg
	_ = pt // every program type's R1 is PTR_TO_CTX; only Ops differs per type.
	return root
}

// gatherDeadCodePatches neutralizes every unreachable instruction found
// by the CFG builder (spec.md §3 item 9 "dead-code neutralization").
func gatherDeadCodePatches(g *cfg.Graph) *rewrite.PatchSet {
	ps := rewrite.NewPatchSet()
	for i, reachable := range g.Reachable {
		if !reachable {
			ps.NeutralizeDeadCode(i)
		}
	}
	return ps
}
