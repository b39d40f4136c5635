package cpu

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"ioc/pkg/asm"
)

// loadProgram builds a program entered at _start from ins.
func loadProgram(t *testing.T, c *CPU, ins ...asm.Instruction) {
	t.Helper()
	p := asm.NewProgram("_start")
	p.Emit(ins...)
	if err := c.Load(p); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func exit(status int64) []asm.Instruction {
	return []asm.Instruction{
		asm.Mov(asm.RDI, asm.Imm(status)),
		asm.Mov(asm.RAX, asm.Imm(SysExit)),
		asm.Syscall(),
	}
}

func TestALU(t *testing.T) {
	c := NewCPU(0)
	loadProgram(t, c, append([]asm.Instruction{
		asm.Mov(asm.RAX, asm.Imm(10)),
		asm.Mov(asm.RBX, asm.Imm(20)),
		asm.Add(asm.RAX, asm.RBX),
		asm.Add(asm.RAX, asm.Imm(-5)),
	}, exit(0)...)...)

	for i := 0; i < 4; i++ {
		if err := c.Step(); err != nil {
			t.Fatal(err)
		}
	}
	if c.Regs[asm.RAX] != 25 {
		t.Errorf("rax = %d, want 25", c.Regs[asm.RAX])
	}
}

func TestStack(t *testing.T) {
	c := NewCPU(64)
	loadProgram(t, c,
		asm.Mov(asm.RAX, asm.Imm(7)),
		asm.Push(asm.RAX),
		asm.Push(asm.Imm(9)),
		asm.Push(asm.Mem{Base: asm.RSP, Disp: 8}),
		asm.Pop(asm.RBX),
		asm.Pop(asm.RCX),
		asm.Pop(asm.RDX),
	)

	for i := 0; i < 4; i++ {
		if err := c.Step(); err != nil {
			t.Fatal(err)
		}
	}
	if got := c.Regs[asm.RSP]; got != 64-24 {
		t.Errorf("rsp after three pushes = %d, want %d", got, 64-24)
	}
	if got := c.Read64(c.Regs[asm.RSP]); got != 7 {
		t.Errorf("top of stack = %d, want 7", got)
	}

	for i := 0; i < 3; i++ {
		if err := c.Step(); err != nil {
			t.Fatal(err)
		}
	}
	if c.Regs[asm.RBX] != 7 || c.Regs[asm.RCX] != 9 || c.Regs[asm.RDX] != 7 {
		t.Errorf("rbx,rcx,rdx = %d,%d,%d; want 7,9,7", c.Regs[asm.RBX], c.Regs[asm.RCX], c.Regs[asm.RDX])
	}
	if c.Regs[asm.RSP] != 64 {
		t.Errorf("rsp = %d, want 64", c.Regs[asm.RSP])
	}
}

func TestExitStatus(t *testing.T) {
	tests := []struct {
		status int64
		want   int
	}{
		{0, 0},
		{42, 42},
		{255, 255},
		{256, 0},
		{-1, 255},
	}
	for _, tt := range tests {
		c := NewCPU(0)
		loadProgram(t, c, exit(tt.status)...)
		got, err := c.Run(100)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("exit(%d) = %d, want %d", tt.status, got, tt.want)
		}
		if !c.Halted || c.Steps != 3 {
			t.Errorf("Halted=%v Steps=%d", c.Halted, c.Steps)
		}
	}
}

func TestFaults(t *testing.T) {
	tests := []struct {
		name string
		ins  []asm.Instruction
		want error
	}{
		{"Underflow", []asm.Instruction{asm.Pop(asm.RAX)}, ErrStackUnderflow},
		{"Overflow", []asm.Instruction{asm.Push(asm.RAX), asm.Push(asm.RAX), asm.Push(asm.RAX)}, ErrStackOverflow},
		{"BadAddress", []asm.Instruction{asm.Push(asm.Mem{Base: asm.RSP, Disp: 8})}, ErrBadAddress},
		{"BadSyscall", []asm.Instruction{asm.Mov(asm.RAX, asm.Imm(1)), asm.Syscall()}, ErrBadSyscall},
		{"NoExit", []asm.Instruction{asm.Mov(asm.RAX, asm.Imm(1))}, ErrNoExit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCPU(16)
			loadProgram(t, c, tt.ins...)
			_, err := c.Run(100)
			if !errors.Is(err, tt.want) {
				t.Errorf("Run() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestStepLimit(t *testing.T) {
	c := NewCPU(0)
	loadProgram(t, c, exit(1)...)
	if _, err := c.Run(2); !errors.Is(err, ErrStepLimit) {
		t.Errorf("Run(2) error = %v, want ErrStepLimit", err)
	}
}

func TestNotLoaded(t *testing.T) {
	if err := NewCPU(0).Step(); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Step() on empty CPU = %v", err)
	}
}

func TestLoadUndefinedEntry(t *testing.T) {
	p := &asm.Program{Entry: "main", Labels: map[string]int{}}
	if err := NewCPU(0).Load(p); err == nil {
		t.Error("Load accepted a program without its entry label")
	}
}

func TestTraceAndParsedLines(t *testing.T) {
	p, err := asm.Parse("global _start\n_start:\n    mov rax, 60\n    pop rdi\n")
	if err != nil {
		t.Fatal(err)
	}
	c := NewCPU(0)
	var trace bytes.Buffer
	c.Trace = &trace
	if err := c.Load(p); err != nil {
		t.Fatal(err)
	}
	_, err = c.Run(0)
	if err == nil || !strings.HasPrefix(err.Error(), "line 4: pop rdi") {
		t.Errorf("Run() error = %v, want failure located at line 4", err)
	}
	if !strings.Contains(trace.String(), "mov rax, 60") {
		t.Errorf("trace missing first instruction:\n%s", trace.String())
	}
}

func TestResetRewinds(t *testing.T) {
	c := NewCPU(0)
	loadProgram(t, c, exit(5)...)
	if _, err := c.Run(0); err != nil {
		t.Fatal(err)
	}
	c.Reset()
	if c.Halted || c.PC != 0 || c.Regs[asm.RSP] != uint64(len(c.Stack)) {
		t.Errorf("Reset left Halted=%v PC=%d rsp=%d", c.Halted, c.PC, c.Regs[asm.RSP])
	}
	got, err := c.Run(0)
	if err != nil || got != 5 {
		t.Errorf("second run = %d, %v", got, err)
	}
}

func TestDefaultStackDepth(t *testing.T) {
	// 100k live values need 800 KB, well past a 64 KiB stack.
	const n = 100000
	ins := make([]asm.Instruction, 0, n+3)
	for i := 0; i < n; i++ {
		ins = append(ins, asm.Push(asm.RSP))
	}
	c := NewCPU(0)
	loadProgram(t, c, append(ins, exit(3)...)...)
	got, err := c.Run(0)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got != 3 {
		t.Errorf("exit status = %d, want 3", got)
	}
}

func TestOverflowReportsCapacity(t *testing.T) {
	c := NewCPU(16)
	loadProgram(t, c, asm.Push(asm.RAX), asm.Push(asm.RAX), asm.Push(asm.RAX))
	_, err := c.Run(0)
	if !errors.Is(err, ErrStackOverflow) {
		t.Fatalf("Run() error = %v, want %v", err, ErrStackOverflow)
	}
	if !strings.Contains(err.Error(), "16-byte stack holds 2 slots") {
		t.Errorf("error %q does not state the stack size", err)
	}
}
