package check

import (
	"github.com/cilium/ebpf/asm"

	"bpfverify/internal/opcode"
)

// mov64ALU builds a 64-bit ALU register-source instruction with the given
// operator, e.g. `dst OP= src`.
func mov64ALU(aluOp uint8, dst, src int) asm.Instruction {
	return asm.Instruction{
		OpCode: asm.OpCode(uint16(opcode.ALU64Class) | uint16(opcode.RegSrc) | uint16(aluOp)),
		Dst:    asm.Register(dst),
		Src:    asm.Register(src),
	}
}

func divImm(dst int, imm int64) asm.Instruction {
	return asm.Instruction{
		OpCode:   asm.OpCode(uint16(opcode.ALU64Class) | uint16(opcode.ImmSrc) | uint16(opcode.DivOp)),
		Dst:      asm.Register(dst),
		Constant: imm,
	}
}

func shiftImm(aluOp uint8, dst int, imm int64) asm.Instruction {
	return asm.Instruction{
		OpCode:   asm.OpCode(uint16(opcode.ALU64Class) | uint16(opcode.ImmSrc) | uint16(aluOp)),
		Dst:      asm.Register(dst),
		Constant: imm,
	}
}

// stxMem builds a `*(size *)(dst + off) = src` store.
func stxMem(dst, src int, off int16, size uint8) asm.Instruction {
	return asm.Instruction{
		OpCode: asm.OpCode(uint16(opcode.StXClass) | uint16(opcode.MemMode) | uint16(size)),
		Dst:    asm.Register(dst),
		Src:    asm.Register(src),
		Offset: off,
	}
}

// callIns builds a CALL instruction; src selects an ordinary helper call
// (opcode.Register(0)), a pseudo subprogram call (cfg.PseudoCall), or a
// typed kfunc call (cfg.PseudoKfuncCall).
func callIns(src opcode.Register, constant int64) asm.Instruction {
	return asm.Instruction{
		OpCode:   asm.OpCode(uint16(opcode.JmpClass) | uint16(opcode.CallOp)),
		Src:      asm.Register(src),
		Constant: constant,
	}
}
