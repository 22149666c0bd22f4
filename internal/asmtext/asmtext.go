// Package asmtext parses the small line-oriented instruction format
// cmd/bpfverify accepts. This is deliberately not a full BPF assembler
// (no macros, no relocations, no .section handling) — one instruction per
// line, registers named r0..r10, and jump targets given as a signed
// instruction-relative offset, matching how internal/check's own tests
// build asm.Instruction values by hand.
package asmtext

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cilium/ebpf/asm"

	"bpfverify/internal/opcode"
)

// Error reports the source line a parse failure occurred on.
type Error struct {
	Line int
	Msg  string
}

func (e *Error) Error() string { return fmt.Sprintf("line %d: %s", e.Line, e.Msg) }

var aluOps = map[string]uint8{
	"mov": opcode.MovOp, "add": opcode.AddOp, "sub": opcode.SubOp,
	"mul": opcode.MulOp, "div": opcode.DivOp, "or": opcode.OrOp,
	"and": opcode.AndOp, "lsh": opcode.LShOp, "rsh": opcode.RShOp,
	"arsh": opcode.ArShOp, "neg": opcode.NegOp, "mod": opcode.ModOp,
	"xor": opcode.XOrOp,
}

var jmpOps = map[string]uint8{
	"jeq": opcode.JEqOp, "jne": opcode.JNEOp, "jgt": opcode.JGTOp,
	"jge": opcode.JGEOp, "jlt": opcode.JLTOp, "jle": opcode.JLEOp,
	"jset": opcode.JSETOp, "jsgt": opcode.JSGTOp, "jsge": opcode.JSGEOp,
	"jslt": opcode.JSLTOp, "jsle": opcode.JSLEOp,
}

var sizeCodes = map[string]uint8{
	"b": opcode.BSize, "h": opcode.HSize, "w": opcode.WSize, "dw": opcode.DWSize,
}

// Parse reads a program from r, one instruction per line. Blank lines and
// lines starting with ';' or '#' are ignored.
func Parse(r io.Reader) (asm.Instructions, error) {
	var out asm.Instructions
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}
		ins, err := parseLine(line)
		if err != nil {
			return nil, &Error{Line: lineNo, Msg: err.Error()}
		}
		out = append(out, ins)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func parseLine(line string) (asm.Instruction, error) {
	fields := strings.Fields(strings.ReplaceAll(line, ",", " "))
	if len(fields) == 0 {
		return asm.Instruction{}, fmt.Errorf("empty instruction")
	}
	mnemonic := strings.ToLower(fields[0])
	args := fields[1:]

	switch {
	case mnemonic == "exit":
		return asm.Return(), nil
	case mnemonic == "ja":
		off, err := parseOffset(arg(args, 0))
		if err != nil {
			return asm.Instruction{}, err
		}
		return asm.Instruction{OpCode: asm.Ja.Op(asm.ImmSource), Offset: off}, nil
	case mnemonic == "call":
		return parseCall(args)
	case strings.HasPrefix(mnemonic, "ldx"):
		return parseLdx(mnemonic, args)
	case strings.HasPrefix(mnemonic, "stx"):
		return parseStx(mnemonic, args)
	}

	is64 := true
	base := mnemonic
	if strings.HasSuffix(mnemonic, "32") {
		is64 = false
		base = strings.TrimSuffix(mnemonic, "32")
	}
	if op, ok := aluOps[base]; ok {
		return parseALU(op, is64, args)
	}
	if op, ok := jmpOps[base]; ok {
		return parseJump(op, args)
	}
	return asm.Instruction{}, fmt.Errorf("unrecognized mnemonic %q", mnemonic)
}

func arg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func parseReg(s string) (asm.Register, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !strings.HasPrefix(s, "r") {
		return 0, fmt.Errorf("expected register, got %q", s)
	}
	n, err := strconv.Atoi(strings.TrimPrefix(s, "r"))
	if err != nil || n < 0 || n > 10 {
		return 0, fmt.Errorf("invalid register %q", s)
	}
	return asm.Register(n), nil
}

func parseOffset(s string) (int16, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "+")
	n, err := strconv.ParseInt(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid offset %q", s)
	}
	return int16(n), nil
}

func parseImm(s string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid immediate %q", s)
	}
	return n, nil
}

func aluClass(is64 bool) uint16 {
	if is64 {
		return uint16(opcode.ALU64Class)
	}
	return uint16(opcode.ALUClass)
}

func parseALU(op uint8, is64 bool, args []string) (asm.Instruction, error) {
	if len(args) < 1 {
		return asm.Instruction{}, fmt.Errorf("missing destination register")
	}
	dst, err := parseReg(args[0])
	if err != nil {
		return asm.Instruction{}, err
	}
	if op == opcode.NegOp {
		return asm.Instruction{OpCode: asm.OpCode(aluClass(is64) | uint16(opcode.ImmSrc) | uint16(op)), Dst: dst}, nil
	}
	if len(args) < 2 {
		return asm.Instruction{}, fmt.Errorf("missing source operand")
	}
	if src, err := parseReg(args[1]); err == nil {
		return asm.Instruction{
			OpCode: asm.OpCode(aluClass(is64) | uint16(opcode.RegSrc) | uint16(op)),
			Dst:    dst, Src: src,
		}, nil
	}
	imm, err := parseImm(args[1])
	if err != nil {
		return asm.Instruction{}, err
	}
	return asm.Instruction{
		OpCode:   asm.OpCode(aluClass(is64) | uint16(opcode.ImmSrc) | uint16(op)),
		Dst:      dst,
		Constant: imm,
	}, nil
}

func parseJump(op uint8, args []string) (asm.Instruction, error) {
	if len(args) < 3 {
		return asm.Instruction{}, fmt.Errorf("jump needs dst, operand, offset")
	}
	dst, err := parseReg(args[0])
	if err != nil {
		return asm.Instruction{}, err
	}
	off, err := parseOffset(args[2])
	if err != nil {
		return asm.Instruction{}, err
	}
	if src, err := parseReg(args[1]); err == nil {
		return asm.Instruction{
			OpCode: asm.OpCode(uint16(opcode.JmpClass) | uint16(opcode.RegSrc) | uint16(op)),
			Dst:    dst, Src: src, Offset: off,
		}, nil
	}
	imm, err := parseImm(args[1])
	if err != nil {
		return asm.Instruction{}, err
	}
	return asm.Instruction{
		OpCode:   asm.OpCode(uint16(opcode.JmpClass) | uint16(opcode.ImmSrc) | uint16(op)),
		Dst:      dst,
		Offset:   off,
		Constant: imm,
	}, nil
}

func parseCall(args []string) (asm.Instruction, error) {
	if len(args) > 0 && strings.ToLower(args[0]) == "sub" {
		off, err := parseImm(arg(args, 1))
		if err != nil {
			return asm.Instruction{}, err
		}
		return asm.Instruction{
			OpCode:   asm.OpCode(uint16(opcode.JmpClass) | uint16(opcode.ImmSrc) | uint16(opcode.CallOp)),
			Src:      asm.Register(1), // PSEUDO_CALL
			Constant: off,
		}, nil
	}
	id, err := parseImm(arg(args, 0))
	if err != nil {
		return asm.Instruction{}, err
	}
	return asm.Instruction{
		OpCode:   asm.OpCode(uint16(opcode.JmpClass) | uint16(opcode.ImmSrc) | uint16(opcode.CallOp)),
		Constant: id,
	}, nil
}

// parseMem splits "[rN+off]" or "[rN-off]" into its register and offset.
func parseMem(s string) (asm.Register, int16, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	sign := int16(1)
	idx := strings.IndexAny(s, "+-")
	if idx < 0 {
		reg, err := parseReg(s)
		return reg, 0, err
	}
	if s[idx] == '-' {
		sign = -1
	}
	reg, err := parseReg(s[:idx])
	if err != nil {
		return 0, 0, err
	}
	off, err := parseOffset(s[idx+1:])
	if err != nil {
		return 0, 0, err
	}
	return reg, sign * off, nil
}

func parseLdx(mnemonic string, args []string) (asm.Instruction, error) {
	size, ok := sizeCodes[strings.TrimPrefix(mnemonic, "ldx")]
	if !ok {
		return asm.Instruction{}, fmt.Errorf("unrecognized ldx size in %q", mnemonic)
	}
	if len(args) < 2 {
		return asm.Instruction{}, fmt.Errorf("ldx needs dst, [src+off]")
	}
	dst, err := parseReg(args[0])
	if err != nil {
		return asm.Instruction{}, err
	}
	src, off, err := parseMem(args[1])
	if err != nil {
		return asm.Instruction{}, err
	}
	return asm.Instruction{
		OpCode: asm.OpCode(uint16(opcode.LdXClass) | uint16(opcode.MemMode) | uint16(size)),
		Dst:    dst, Src: src, Offset: off,
	}, nil
}

func parseStx(mnemonic string, args []string) (asm.Instruction, error) {
	size, ok := sizeCodes[strings.TrimPrefix(mnemonic, "stx")]
	if !ok {
		return asm.Instruction{}, fmt.Errorf("unrecognized stx size in %q", mnemonic)
	}
	if len(args) < 2 {
		return asm.Instruction{}, fmt.Errorf("stx needs [dst+off], src")
	}
	dst, off, err := parseMem(args[0])
	if err != nil {
		return asm.Instruction{}, err
	}
	src, err := parseReg(args[1])
	if err != nil {
		return asm.Instruction{}, err
	}
	return asm.Instruction{
		OpCode: asm.OpCode(uint16(opcode.StXClass) | uint16(opcode.MemMode) | uint16(size)),
		Dst:    dst, Src: src, Offset: off,
	}, nil
}
