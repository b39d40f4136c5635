package compiler

import (
	"fmt"

	"ioc/pkg/arena"
	"ioc/pkg/asm"
)

// Options tune one compilation.
type Options struct {
	// ArenaCapacity is the byte budget for syntax tree nodes.
	// Zero selects arena.DefaultCapacity.
	ArenaCapacity int
}

// Result is the output of a successful compilation.
type Result struct {
	Assembly string       // NASM source
	Program  *asm.Program // the same code as instructions
	Symbols  *SymbolTable // variables bound at the end of the program
	Nodes    int          // syntax tree nodes allocated
	ArenaUse int          // arena bytes consumed
}

// Compile runs the whole pipeline on src. The syntax tree arena lives until
// code generation has finished and is released before Compile returns.
func Compile(src string, opts Options) (*Result, error) {
	tokens, err := Lex(src)
	if err != nil {
		return nil, err
	}

	tree := NewTree(arena.New(opts.ArenaCapacity))
	defer tree.Release()

	prog, err := Parse(tokens, src, tree)
	if err != nil {
		return nil, err
	}

	code, syms, err := NewGenerator(tree, src).Lower(prog)
	if err != nil {
		return nil, err
	}

	text := asm.Format(code)

	// The emitted text must be readable by the assembly reader; a failure
	// here is a generator bug, not a user error.
	if _, err := asm.Parse(text); err != nil {
		return nil, fmt.Errorf("internal error: generated assembly does not parse: %w", err)
	}

	return &Result{
		Assembly: text,
		Program:  code,
		Symbols:  syms,
		Nodes:    tree.NodeCount(),
		ArenaUse: tree.Arena().Used(),
	}, nil
}
