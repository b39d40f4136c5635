// Package cpu executes the x86-64 subset produced by the compiler so that
// programs can be checked without an assembler, linker or Linux host.
package cpu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"ioc/pkg/asm"
)

// DefaultStackSize is the simulated stack size in bytes, matching the
// default 8 MiB stack limit of a Linux process.
const DefaultStackSize = 8 * 1024 * 1024

// SysExit is the only supported syscall.
const SysExit = 60

var (
	ErrStackOverflow  = errors.New("stack overflow")
	ErrStackUnderflow = errors.New("stack underflow")
	ErrBadAddress     = errors.New("memory access outside the stack")
	ErrBadSyscall     = errors.New("unsupported syscall")
	ErrNoExit         = errors.New("program ran past its last instruction")
	ErrStepLimit      = errors.New("step limit reached")
	ErrNotLoaded      = errors.New("no program loaded")
)

// CPU is a minimal x86-64 core: sixteen 64-bit registers, a downward
// growing stack and a program counter indexing the loaded instructions.
// The stack occupies addresses [0, len(Stack)); rsp starts at len(Stack).
type CPU struct {
	Regs  map[asm.Reg]uint64
	Stack []byte
	PC    int

	Halted   bool
	ExitCode int
	Steps    int

	// Trace, when set, receives one line per executed instruction.
	Trace io.Writer

	prog *asm.Program
}

func NewCPU(stackSize int) *CPU {
	if stackSize <= 0 {
		stackSize = DefaultStackSize
	}
	c := &CPU{
		Regs:  make(map[asm.Reg]uint64, len(asm.Registers)),
		Stack: make([]byte, stackSize),
	}
	c.Reset()
	return c
}

// Reset clears registers and the stack and rewinds to the entry label.
func (c *CPU) Reset() {
	for _, r := range asm.Registers {
		c.Regs[r] = 0
	}
	clear(c.Stack)
	c.Regs[asm.RSP] = uint64(len(c.Stack))
	c.PC = 0
	if c.prog != nil {
		c.PC = c.prog.Labels[c.prog.Entry]
	}
	c.Halted = false
	c.ExitCode = 0
	c.Steps = 0
}

// Load installs p and resets the machine.
func (c *CPU) Load(p *asm.Program) error {
	if _, ok := p.Labels[p.Entry]; !ok {
		return fmt.Errorf("entry symbol '%s' is not defined", p.Entry)
	}
	c.prog = p
	c.Reset()
	return nil
}

func (c *CPU) addr(m asm.Mem) (uint64, error) {
	a := c.Regs[m.Base] + uint64(m.Disp)
	if a > uint64(len(c.Stack)) || uint64(len(c.Stack))-a < 8 {
		return 0, fmt.Errorf("%w: %s = 0x%X", ErrBadAddress, m, a)
	}
	return a, nil
}

// Read64 reads the quadword at stack address a.
func (c *CPU) Read64(a uint64) uint64 {
	return binary.LittleEndian.Uint64(c.Stack[a : a+8])
}

// Write64 writes the quadword at stack address a.
func (c *CPU) Write64(a uint64, v uint64) {
	binary.LittleEndian.PutUint64(c.Stack[a:a+8], v)
}

func (c *CPU) value(op asm.Operand) (uint64, error) {
	switch o := op.(type) {
	case asm.Reg:
		return c.Regs[o], nil
	case asm.Imm:
		return uint64(int64(o)), nil
	case asm.Mem:
		a, err := c.addr(o)
		if err != nil {
			return 0, err
		}
		return c.Read64(a), nil
	default:
		return 0, fmt.Errorf("unsupported operand %v", op)
	}
}

func (c *CPU) push(v uint64) error {
	sp := c.Regs[asm.RSP]
	if sp < 8 || sp > uint64(len(c.Stack)) {
		return fmt.Errorf("%w: %d-byte stack holds %d slots", ErrStackOverflow, len(c.Stack), len(c.Stack)/8)
	}
	sp -= 8
	c.Write64(sp, v)
	c.Regs[asm.RSP] = sp
	return nil
}

func (c *CPU) pop() (uint64, error) {
	sp := c.Regs[asm.RSP]
	if sp+8 > uint64(len(c.Stack)) {
		return 0, ErrStackUnderflow
	}
	v := c.Read64(sp)
	c.Regs[asm.RSP] = sp + 8
	return v, nil
}

// Step executes one instruction.
func (c *CPU) Step() error {
	if c.Halted {
		return nil
	}
	if c.prog == nil {
		return ErrNotLoaded
	}
	if c.PC >= len(c.prog.Instructions) {
		return ErrNoExit
	}

	in := c.prog.Instructions[c.PC]
	c.PC++
	c.Steps++
	if c.Trace != nil {
		fmt.Fprintf(c.Trace, "%4d  %-28s rsp=0x%X rax=%d\n", c.PC-1, in, c.Regs[asm.RSP], c.Regs[asm.RAX])
	}

	if err := c.exec(in); err != nil {
		if in.Line > 0 {
			return fmt.Errorf("line %d: %s: %w", in.Line, in, err)
		}
		return fmt.Errorf("%s: %w", in, err)
	}
	return nil
}

func (c *CPU) exec(in asm.Instruction) error {
	switch in.Op {
	case asm.MOV:
		v, err := c.value(in.Args[1])
		if err != nil {
			return err
		}
		c.Regs[in.Args[0].(asm.Reg)] = v

	case asm.ADD:
		v, err := c.value(in.Args[1])
		if err != nil {
			return err
		}
		c.Regs[in.Args[0].(asm.Reg)] += v

	case asm.PUSH:
		v, err := c.value(in.Args[0])
		if err != nil {
			return err
		}
		return c.push(v)

	case asm.POP:
		v, err := c.pop()
		if err != nil {
			return err
		}
		c.Regs[in.Args[0].(asm.Reg)] = v

	case asm.SYSCALL:
		if c.Regs[asm.RAX] != SysExit {
			return fmt.Errorf("%w: %d", ErrBadSyscall, c.Regs[asm.RAX])
		}
		c.ExitCode = int(c.Regs[asm.RDI] & 0xFF)
		c.Halted = true

	default:
		return fmt.Errorf("unknown instruction %s", in.Op)
	}
	return nil
}

// Run steps until the program exits, fails, or maxSteps instructions have
// executed (no limit when maxSteps <= 0). It returns the exit status.
func (c *CPU) Run(maxSteps int) (int, error) {
	for !c.Halted {
		if maxSteps > 0 && c.Steps >= maxSteps {
			return 0, ErrStepLimit
		}
		if err := c.Step(); err != nil {
			return 0, err
		}
	}
	return c.ExitCode, nil
}

// RunProgram loads p into a fresh CPU and runs it to completion.
func RunProgram(p *asm.Program, maxSteps int) (int, error) {
	c := NewCPU(DefaultStackSize)
	if err := c.Load(p); err != nil {
		return 0, err
	}
	return c.Run(maxSteps)
}
