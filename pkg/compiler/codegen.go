package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"ioc/pkg/asm"
)

// EntrySymbol is the label the linker starts execution at.
const EntrySymbol = "_start"

// sysExit is the Linux x86-64 exit syscall number.
const sysExit = 60

// slotSize is the width of one stack slot in bytes.
const slotSize = 8

// stackState is everything the generator knows about the runtime stack at
// one point of the program: how many quadwords are live and which of them
// hold let bindings. It is a value; emitters take one and return the next.
type stackState struct {
	depth int
	syms  *SymbolTable
}

func newStackState() stackState {
	return stackState{syms: NewSymbolTable()}
}

// push and pop are the only places depth changes.
func (s stackState) push(src asm.Operand) (stackState, asm.Instruction) {
	s.depth++
	return s, asm.Push(src)
}

func (s stackState) pop(dst asm.Reg) (stackState, asm.Instruction) {
	if s.depth == 0 {
		panic("codegen: pop from empty stack")
	}
	s.depth--
	return s, asm.Pop(dst)
}

// offsetOf returns the rsp-relative byte offset of a slot.
func (s stackState) offsetOf(slot int) int64 {
	return int64(s.depth-slot-1) * slotSize
}

// Generator lowers a Program to x86-64. Every emitter is a function of the
// incoming stackState that returns the outgoing state; it appends its
// instructions to the buffer it is handed and returns the grown buffer.
// The Generator itself holds no per-program state.
type Generator struct {
	tree        *Tree
	sourceLines []string
}

// NewGenerator returns a generator reading nodes from tree. rawSource is
// only used to quote the offending line in diagnostics and may be empty.
func NewGenerator(tree *Tree, rawSource string) *Generator {
	g := &Generator{tree: tree}
	if rawSource != "" {
		g.sourceLines = strings.Split(rawSource, "\n")
	}
	return g
}

func (g *Generator) semanticError(tok Token, err error) error {
	return newError(SemanticError, tok.Line, sourceLine(g.sourceLines, tok.Line), err)
}

// emission is the visitor behind one emitter call: it starts from the
// caller's state and appends to the caller's buffer.
type emission struct {
	g    *Generator
	st   stackState
	code []asm.Instruction
}

var (
	_ TermVisitor    = (*emission)(nil)
	_ BinExprVisitor = (*emission)(nil)
	_ ExprVisitor    = (*emission)(nil)
	_ StmtVisitor    = (*emission)(nil)
)

func (e *emission) emit(ins ...asm.Instruction) {
	e.code = append(e.code, ins...)
}

func (e *emission) push(src asm.Operand) {
	var in asm.Instruction
	e.st, in = e.st.push(src)
	e.emit(in)
}

func (e *emission) pop(dst asm.Reg) {
	var in asm.Instruction
	e.st, in = e.st.pop(dst)
	e.emit(in)
}

// expr runs a nested expression emitter and continues from its result.
func (e *emission) expr(n Expr) error {
	var err error
	e.st, e.code, err = e.g.expr(e.st, e.code, n)
	return err
}

func (e *emission) VisitIntLit(n IntLit) error {
	v, err := strconv.ParseInt(n.Token.Lexeme, 10, 64)
	if err != nil {
		return newError(SyntaxError, n.Token.Line, sourceLine(e.g.sourceLines, n.Token.Line),
			fmt.Errorf("integer literal %s out of range", n.Token.Lexeme))
	}
	e.emit(asm.Mov(asm.RAX, asm.Imm(v)))
	e.push(asm.RAX)
	return nil
}

func (e *emission) VisitIdent(n Ident) error {
	sym, ok := e.st.syms.Lookup(n.Token.Lexeme)
	if !ok {
		return e.g.semanticError(n.Token, fmt.Errorf("%w: %s", ErrUndeclared, n.Token.Lexeme))
	}
	e.push(asm.Mem{Base: asm.RSP, Disp: e.st.offsetOf(sym.Slot)})
	return nil
}

// VisitAdd leaves lhs + rhs on top of the stack: one net push.
func (e *emission) VisitAdd(n Add) error {
	if err := e.expr(n.LHS); err != nil {
		return err
	}
	if err := e.expr(n.RHS); err != nil {
		return err
	}
	e.pop(asm.RAX)
	e.pop(asm.RBX)
	e.emit(asm.Add(asm.RAX, asm.RBX))
	e.push(asm.RAX)
	return nil
}

func (e *emission) VisitTerm(n Term) error {
	var err error
	e.st, e.code, err = e.g.term(e.st, e.code, n)
	return err
}

func (e *emission) VisitBinExpr(n BinExpr) error {
	var err error
	e.st, e.code, err = e.g.binExpr(e.st, e.code, n)
	return err
}

func (e *emission) VisitExit(n Exit) error {
	if err := e.expr(n.Expr); err != nil {
		return err
	}
	e.emit(asm.Mov(asm.RAX, asm.Imm(sysExit)))
	e.pop(asm.RDI)
	e.emit(asm.Syscall())
	return nil
}

// VisitLet binds the name to the slot its initializer occupies. The name is
// not visible inside its own initializer.
func (e *emission) VisitLet(n Let) error {
	name := n.Name.Lexeme
	if prev, ok := e.st.syms.Lookup(name); ok {
		return e.g.semanticError(n.Name, fmt.Errorf("%w: %s (first bound on line %d)", ErrRedeclared, name, prev.Line))
	}
	slot := e.st.depth
	if err := e.expr(n.Expr); err != nil {
		return err
	}
	e.st.syms = e.st.syms.Bind(Symbol{Name: name, Slot: slot, Line: n.Name.Line})
	return nil
}

func (g *Generator) term(st stackState, code []asm.Instruction, n Term) (stackState, []asm.Instruction, error) {
	e := &emission{g: g, st: st, code: code}
	err := g.tree.VisitTerm(n, e)
	return e.st, e.code, err
}

func (g *Generator) binExpr(st stackState, code []asm.Instruction, n BinExpr) (stackState, []asm.Instruction, error) {
	e := &emission{g: g, st: st, code: code}
	err := g.tree.VisitBinExpr(n, e)
	return e.st, e.code, err
}

func (g *Generator) expr(st stackState, code []asm.Instruction, n Expr) (stackState, []asm.Instruction, error) {
	e := &emission{g: g, st: st, code: code}
	err := g.tree.VisitExpr(n, e)
	return e.st, e.code, err
}

func (g *Generator) stmt(st stackState, code []asm.Instruction, n Stmt) (stackState, []asm.Instruction, error) {
	e := &emission{g: g, st: st, code: code}
	err := g.tree.VisitStmt(n, e)
	return e.st, e.code, err
}

// Program lowers every statement in order and appends an exit(0) epilogue
// for programs that fall off the end.
func (g *Generator) Program(prog *Program) (*asm.Program, error) {
	out, _, err := g.lower(prog)
	return out, err
}

// Lower returns the lowered program together with the variables bound by
// the end of it.
func (g *Generator) Lower(prog *Program) (*asm.Program, *SymbolTable, error) {
	out, st, err := g.lower(prog)
	if err != nil {
		return nil, nil, err
	}
	return out, st.syms, nil
}

func (g *Generator) lower(prog *Program) (*asm.Program, stackState, error) {
	out := asm.NewProgram(EntrySymbol)
	st := newStackState()
	for _, s := range prog.Stmts {
		next, code, err := g.stmt(st, out.Instructions, s)
		if err != nil {
			return nil, st, err
		}
		st, out.Instructions = next, code
	}
	out.Emit(
		asm.Mov(asm.RAX, asm.Imm(sysExit)),
		asm.Mov(asm.RDI, asm.Imm(0)),
		asm.Syscall(),
	)
	return out, st, nil
}

// GenerateProgram lowers prog without source context for diagnostics.
func GenerateProgram(tree *Tree, prog *Program) (*asm.Program, error) {
	return NewGenerator(tree, "").Program(prog)
}

// Generate lowers prog to NASM source text.
func Generate(tree *Tree, prog *Program) (string, error) {
	p, err := GenerateProgram(tree, prog)
	if err != nil {
		return "", err
	}
	return asm.Format(p), nil
}
