// Package opcode decodes the eBPF instruction encoding: the opcode
// bitfields, the eleven-register file, map and program type tags, and the
// kernel helper-function ID table. The bitfield layout and constant values
// are the real eBPF ISA encoding and are kept verbatim from the reference
// they were adapted from; only the container type changed, from a
// bespoke struct to github.com/cilium/ebpf/asm.Instruction, which is what
// this verifier's external loader boundary (spec.md §6) actually hands in.
package opcode

import (
	"fmt"

	"github.com/cilium/ebpf/asm"
)

// Opcode bitfield masks, shared by ALU, ALU64, Jmp and Load/Store classes.
//
//	msb      lsb
//	+---+--+---+
//	|mde|sz|cls|
//	+---+--+---+
const (
	ClassCode = 0x07

	LdClass    = 0x00
	LdXClass   = 0x01
	StClass    = 0x02
	StXClass   = 0x03
	ALUClass   = 0x04
	JmpClass   = 0x05
	Jmp32Class = 0x06
	ALU64Class = 0x07

	SizeCode = 0x18
	DWSize   = 0x18
	WSize    = 0x00
	HSize    = 0x08
	BSize    = 0x10

	ModeCode = 0xe0
	ImmMode  = 0x00
	AbsMode  = 0x20
	IndMode  = 0x40
	MemMode  = 0x60
	XAddMode = 0xc0

	// OpCode is the bitmask for the ALU/Jmp operator field.
	OpCode = 0xf0

	AddOp  = 0x00
	SubOp  = 0x10
	MulOp  = 0x20
	DivOp  = 0x30
	OrOp   = 0x40
	AndOp  = 0x50
	LShOp  = 0x60
	RShOp  = 0x70
	NegOp  = 0x80
	ModOp  = 0x90
	XOrOp  = 0xa0
	MovOp  = 0xb0
	ArShOp = 0xc0
	EndOp  = 0xd0

	SrcCode = 0x08
	ImmSrc  = 0x00
	RegSrc  = 0x08

	// Jmp-class operator field reuses OpCode's bit position.
	JaOp    = 0x00
	JEqOp   = 0x10
	JGTOp   = 0x20
	JGEOp   = 0x30
	JSETOp  = 0x40
	JNEOp   = 0x50
	JSGTOp  = 0x60
	JSGEOp  = 0x70
	CallOp  = 0x80
	ExitOp  = 0x90
	JLTOp   = 0xa0
	JLEOp   = 0xb0
	JSLTOp  = 0xc0
	JSLEOp  = 0xd0
)

// Register is one of the eleven eBPF registers, R0..R9 plus the read-only
// frame pointer R10.
type Register uint8

const (
	R0 Register = iota
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	R8
	R9
	R10

	RFP = R10
	// NumRegisters is the register-file width, including the frame pointer.
	NumRegisters = 11
)

func (r Register) String() string {
	if r == RFP {
		return "r10(fp)"
	}
	return fmt.Sprintf("r%d", uint8(r))
}

// MapType selects the kernel map backend a CONST_PTR_TO_MAP register
// refers to. Only the subset relevant to argument-type resolution
// (internal/calls) is given named constants; unrecognized values are
// legal and simply compare unequal to all of them.
type MapType uint32

const (
	MapTypeUnspec MapType = iota
	MapTypeHash
	MapTypeArray
	MapTypeProgArray
	MapTypePerfEventArray
	MapTypePerCPUHash
	MapTypePerCPUArray
	MapTypeStackTrace
	MapTypeCGroupArray
	MapTypeLRUHash
	MapTypeLRUPerCPUHash
	MapTypeLPMTrie
)

func (mt MapType) String() string {
	switch mt {
	case MapTypeHash:
		return "hash"
	case MapTypeArray:
		return "array"
	case MapTypeProgArray:
		return "prog_array"
	case MapTypePerfEventArray:
		return "perf_event_array"
	case MapTypePerCPUHash:
		return "percpu_hash"
	case MapTypePerCPUArray:
		return "percpu_array"
	case MapTypeStackTrace:
		return "stack_trace"
	case MapTypeCGroupArray:
		return "cgroup_array"
	case MapTypeLRUHash:
		return "lru_hash"
	case MapTypeLRUPerCPUHash:
		return "lru_percpu_hash"
	case MapTypeLPMTrie:
		return "lpm_trie"
	default:
		return "unspec"
	}
}

// ProgType selects which ProgTypeOps vtable governs context access for a
// program (spec.md §6).
type ProgType uint32

const (
	ProgTypeUnspec ProgType = iota
	ProgTypeSocketFilter
	ProgTypeKprobe
	ProgTypeSchedCLS
	ProgTypeSchedACT
	ProgTypeTracePoint
	ProgTypeXDP
	ProgTypePerfEvent
	ProgTypeCGroupSKB
	ProgTypeCGroupSock
	ProgTypeSockOps
)

func (pt ProgType) String() string {
	switch pt {
	case ProgTypeSocketFilter:
		return "socket_filter"
	case ProgTypeKprobe:
		return "kprobe"
	case ProgTypeSchedCLS:
		return "sched_cls"
	case ProgTypeSchedACT:
		return "sched_act"
	case ProgTypeTracePoint:
		return "tracepoint"
	case ProgTypeXDP:
		return "xdp"
	case ProgTypePerfEvent:
		return "perf_event"
	case ProgTypeCGroupSKB:
		return "cgroup_skb"
	case ProgTypeCGroupSock:
		return "cgroup_sock"
	case ProgTypeSockOps:
		return "sock_ops"
	default:
		return "unspec"
	}
}

// Raw returns the packed opcode byte of ins. cilium/ebpf/asm.OpCode is a
// uint16 whose low byte is the wire-format opcode byte this package's
// bitfield masks decode; the high byte carries library-internal metadata
// (e.g. whether a load is the 64-bit immediate pseudo-instruction) that
// this verifier does not need to inspect directly, because LdDW is already
// identified by class+size below.
func Raw(ins asm.Instruction) uint8 {
	return uint8(ins.OpCode)
}

// Class returns the 3-bit instruction class.
func Class(op uint8) uint8 { return op & ClassCode }

// Size returns the 2-bit memory access size for Ld/LdX/St/StX instructions.
func Size(op uint8) uint8 { return op & SizeCode }

// Mode returns the 3-bit addressing mode for Ld/LdX/St/StX instructions.
func Mode(op uint8) uint8 { return op & ModeCode }

// ALUOp returns the 4-bit ALU/Jmp operator.
func ALUOp(op uint8) uint8 { return op & OpCode }

// Src returns whether the operand source is an immediate or a register.
func Src(op uint8) uint8 { return op & SrcCode }

// IsALU reports whether class is ALU32 or ALU64.
func IsALU(class uint8) bool { return class == ALUClass || class == ALU64Class }

// IsJmp reports whether class is JMP or JMP32.
func IsJmp(class uint8) bool { return class == JmpClass || class == Jmp32Class }

// IsLoad reports whether class is Ld or LdX.
func IsLoad(class uint8) bool { return class == LdClass || class == LdXClass }

// IsStore reports whether class is St or StX.
func IsStore(class uint8) bool { return class == StClass || class == StXClass }

// SizeBytes converts a Size() nibble to a byte count.
func SizeBytes(size uint8) int {
	switch size {
	case BSize:
		return 1
	case HSize:
		return 2
	case WSize:
		return 4
	case DWSize:
		return 8
	default:
		return 0
	}
}
