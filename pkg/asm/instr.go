// Package asm models the x86-64 instruction subset emitted by the compiler,
// renders it as NASM source and reads such source back.
package asm

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Reg is a 64-bit general purpose register, named as NASM spells it.
type Reg string

const (
	RAX Reg = "rax"
	RBX Reg = "rbx"
	RCX Reg = "rcx"
	RDX Reg = "rdx"
	RSI Reg = "rsi"
	RDI Reg = "rdi"
	RBP Reg = "rbp"
	RSP Reg = "rsp"
	R8  Reg = "r8"
	R9  Reg = "r9"
	R10 Reg = "r10"
	R11 Reg = "r11"
	R12 Reg = "r12"
	R13 Reg = "r13"
	R14 Reg = "r14"
	R15 Reg = "r15"
)

// Registers lists every register in encoding order.
var Registers = [...]Reg{RAX, RCX, RDX, RBX, RSP, RBP, RSI, RDI, R8, R9, R10, R11, R12, R13, R14, R15}

// Operand is a register, an immediate or a memory reference.
type Operand interface {
	fmt.Stringer
	operand()
}

func (Reg) operand()         {}
func (r Reg) String() string { return string(r) }

// Imm is a signed immediate.
type Imm int64

func (Imm) operand()         {}
func (i Imm) String() string { return strconv.FormatInt(int64(i), 10) }

// Mem is a quadword memory operand [Base + Disp].
type Mem struct {
	Base Reg
	Disp int64
}

func (Mem) operand() {}
func (m Mem) String() string {
	if m.Disp < 0 {
		return fmt.Sprintf("QWORD [%s - %d]", m.Base, -m.Disp)
	}
	return fmt.Sprintf("QWORD [%s + %d]", m.Base, m.Disp)
}

// Mnemonic names an instruction.
type Mnemonic string

const (
	MOV     Mnemonic = "mov"
	PUSH    Mnemonic = "push"
	POP     Mnemonic = "pop"
	ADD     Mnemonic = "add"
	SYSCALL Mnemonic = "syscall"
)

// Instruction is one machine instruction. Line is the 1-based source line
// when the instruction was read by Parse, and 0 otherwise.
type Instruction struct {
	Op   Mnemonic
	Args []Operand
	Line int
}

func (in Instruction) String() string {
	if len(in.Args) == 0 {
		return string(in.Op)
	}
	args := make([]string, len(in.Args))
	for i, a := range in.Args {
		args[i] = a.String()
	}
	return string(in.Op) + " " + strings.Join(args, ", ")
}

func Mov(dst Reg, src Operand) Instruction { return Instruction{Op: MOV, Args: []Operand{dst, src}} }
func Push(src Operand) Instruction         { return Instruction{Op: PUSH, Args: []Operand{src}} }
func Pop(dst Reg) Instruction              { return Instruction{Op: POP, Args: []Operand{dst}} }
func Add(dst Reg, src Operand) Instruction { return Instruction{Op: ADD, Args: []Operand{dst, src}} }
func Syscall() Instruction                 { return Instruction{Op: SYSCALL} }

// Program is a single text section with one exported entry label.
// Labels maps a label to the index of the instruction it precedes.
type Program struct {
	Entry        string
	Instructions []Instruction
	Labels       map[string]int
}

// NewProgram returns an empty program whose entry label precedes the
// first instruction.
func NewProgram(entry string) *Program {
	return &Program{Entry: entry, Labels: map[string]int{entry: 0}}
}

// Emit appends instructions.
func (p *Program) Emit(ins ...Instruction) {
	p.Instructions = append(p.Instructions, ins...)
}

// Format renders p as NASM source. Identical programs render to identical
// bytes.
func Format(p *Program) string {
	byIndex := make(map[int][]string, len(p.Labels))
	for name, idx := range p.Labels {
		byIndex[idx] = append(byIndex[idx], name)
	}
	for _, names := range byIndex {
		sort.Strings(names)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "global %s\n", p.Entry)
	for i := 0; i <= len(p.Instructions); i++ {
		for _, name := range byIndex[i] {
			fmt.Fprintf(&b, "%s:\n", name)
		}
		if i < len(p.Instructions) {
			fmt.Fprintf(&b, "    %s\n", p.Instructions[i])
		}
	}
	return b.String()
}
