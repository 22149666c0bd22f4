package opcode

import (
	"fmt"
	"strings"

	"github.com/cilium/ebpf/asm"
)

var aluMnemonic = map[uint8]string{
	AddOp: "add", SubOp: "sub", MulOp: "mul", DivOp: "div", OrOp: "or",
	AndOp: "and", LShOp: "lsh", RShOp: "rsh", NegOp: "neg", ModOp: "mod",
	XOrOp: "xor", MovOp: "mov", ArShOp: "arsh", EndOp: "end",
}

var jmpMnemonic = map[uint8]string{
	JaOp: "ja", JEqOp: "jeq", JGTOp: "jgt", JGEOp: "jge", JSETOp: "jset",
	JNEOp: "jne", JSGTOp: "jsgt", JSGEOp: "jsge", CallOp: "call",
	ExitOp: "exit", JLTOp: "jlt", JLEOp: "jle", JSLTOp: "jslt", JSLEOp: "jsle",
}

var sizeMnemonic = map[uint8]string{BSize: "b", HSize: "h", WSize: "w", DWSize: "dw"}

// Line renders one decoded instruction the way the verifier log does:
// "<idx>: (<op>) <mnemonic> ...". It is diagnostic-only — never used to
// drive verification — matching the teacher's BPFInstruction.String(),
// adapted to operate on the wire asm.Instruction type.
func Line(idx int, ins asm.Instruction) string {
	op := Raw(ins)
	class := Class(op)

	switch {
	case IsLoad(class) || IsStore(class):
		mode := Mode(op)
		size := sizeMnemonic[Size(op)]
		switch mode {
		case ImmMode:
			return fmt.Sprintf("%d: (%02x) r%d = %d ll", idx, op, ins.Dst, ins.Constant)
		case AbsMode:
			return fmt.Sprintf("%d: (%02x) r0 = *(%s *)skb[%d]", idx, op, size, ins.Constant)
		case IndMode:
			return fmt.Sprintf("%d: (%02x) r0 = *(%s *)skb[r%d + %d]", idx, op, size, ins.Src, ins.Constant)
		case MemMode:
			if class == LdClass || class == LdXClass {
				return fmt.Sprintf("%d: (%02x) r%d = *(%s *)(r%d %+d)", idx, op, ins.Dst, size, ins.Src, ins.Offset)
			}
			if class == StClass {
				return fmt.Sprintf("%d: (%02x) *(%s *)(r%d %+d) = %d", idx, op, size, ins.Dst, ins.Offset, ins.Constant)
			}
			return fmt.Sprintf("%d: (%02x) *(%s *)(r%d %+d) = r%d", idx, op, size, ins.Dst, ins.Offset, ins.Src)
		case XAddMode:
			return fmt.Sprintf("%d: (%02x) lock *(%s *)(r%d %+d) += r%d", idx, op, size, ins.Dst, ins.Offset, ins.Src)
		}
		return fmt.Sprintf("%d: (%02x) <ldst>", idx, op)

	case IsALU(class):
		mnem := aluMnemonic[ALUOp(op)]
		suffix := ""
		if class == ALU64Class {
			suffix = "64"
		}
		if Src(op) == ImmSrc {
			return fmt.Sprintf("%d: (%02x) r%d %s%s= %d", idx, op, ins.Dst, mnem, suffix, ins.Constant)
		}
		return fmt.Sprintf("%d: (%02x) r%d %s%s= r%d", idx, op, ins.Dst, mnem, suffix, ins.Src)

	case IsJmp(class):
		aop := ALUOp(op)
		mnem := jmpMnemonic[aop]
		switch aop {
		case CallOp:
			return fmt.Sprintf("%d: (%02x) call %d", idx, op, ins.Constant)
		case ExitOp:
			return fmt.Sprintf("%d: (%02x) exit", idx, op)
		case JaOp:
			return fmt.Sprintf("%d: (%02x) goto %+d", idx, op, ins.Offset)
		default:
			if Src(op) == ImmSrc {
				return fmt.Sprintf("%d: (%02x) if r%d %s %d goto %+d", idx, op, ins.Dst, mnem, ins.Constant, ins.Offset)
			}
			return fmt.Sprintf("%d: (%02x) if r%d %s r%d goto %+d", idx, op, ins.Dst, mnem, ins.Src, ins.Offset)
		}
	}
	return fmt.Sprintf("%d: (%02x) <unknown>", idx, op)
}

// Format renders an entire program for inclusion in the verifier log.
func Format(insns asm.Instructions) string {
	var b strings.Builder
	for i, ins := range insns {
		b.WriteString(Line(i, ins))
		b.WriteByte('\n')
	}
	return b.String()
}
