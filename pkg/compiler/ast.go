package compiler

import (
	"strings"

	"ioc/pkg/arena"
)

// The syntax tree is a set of closed sum types. Each sum type is an
// interface with an unexported accept method, so only this package can add
// variants, and each has a visitor interface with one method per variant.
// A new variant needs a new visitor method, which in turn breaks every
// visitor that does not handle it.
//
// Node payloads live in arena slabs owned by a Tree; the values that
// implement the interfaces are small index handles into those slabs.

//  Terms

// IntLit is an integer literal.
//
//	exit(42);
//	     ^^  IntLit{Token: INTEGER "42"}
type IntLit struct {
	Token Token
}

// Ident is a read of a let-bound name.
//
//	exit(x);
//	     ^  Ident{Token: IDENTIFIER "x"}
type Ident struct {
	Token Token
}

// Term is IntLit | Ident.
type Term interface {
	Expr
	acceptTerm(t *Tree, v TermVisitor) error
}

// TermVisitor handles every Term variant.
type TermVisitor interface {
	VisitIntLit(n IntLit) error
	VisitIdent(n Ident) error
}

//  Binary expressions

// Add is lhs + rhs. Chains nest to the right:
//
//	1 + 2 + 3
//	^   ^^^^^
//	|   RHS: Add{2, 3}
//	LHS
type Add struct {
	LHS Expr
	RHS Expr
}

// BinExpr is Add.
type BinExpr interface {
	Expr
	acceptBinExpr(t *Tree, v BinExprVisitor) error
}

// BinExprVisitor handles every BinExpr variant.
type BinExprVisitor interface {
	VisitAdd(n Add) error
}

//  Expressions

// Expr is Term | BinExpr.
type Expr interface {
	acceptExpr(t *Tree, v ExprVisitor) error
}

// ExprVisitor handles both expression shapes.
type ExprVisitor interface {
	VisitTerm(n Term) error
	VisitBinExpr(n BinExpr) error
}

//  Statements

// Exit terminates the process with the value of Expr as status.
//
//	exit(x + 1);
type Exit struct {
	Expr Expr
}

// Let binds Name to the value of Expr for the rest of the program.
//
//	let x = 5;
//	    ^   ^
//	    |   Expr
//	    Name
type Let struct {
	Name Token
	Expr Expr
}

// Stmt is Exit | Let.
type Stmt interface {
	acceptStmt(t *Tree, v StmtVisitor) error
}

// StmtVisitor handles every Stmt variant.
type StmtVisitor interface {
	VisitExit(n Exit) error
	VisitLet(n Let) error
}

// Program is the ordered statement list of one source file.
type Program struct {
	Stmts []Stmt
}

//  Handles

type (
	intLitRef struct{ ref arena.Ref[IntLit] }
	identRef  struct{ ref arena.Ref[Ident] }
	addRef    struct{ ref arena.Ref[Add] }
	exitRef   struct{ ref arena.Ref[Exit] }
	letRef    struct{ ref arena.Ref[Let] }
)

func (r intLitRef) acceptExpr(_ *Tree, v ExprVisitor) error { return v.VisitTerm(r) }
func (r intLitRef) acceptTerm(t *Tree, v TermVisitor) error {
	return v.VisitIntLit(t.intLits.Get(r.ref))
}

func (r identRef) acceptExpr(_ *Tree, v ExprVisitor) error { return v.VisitTerm(r) }
func (r identRef) acceptTerm(t *Tree, v TermVisitor) error {
	return v.VisitIdent(t.idents.Get(r.ref))
}

func (r addRef) acceptExpr(_ *Tree, v ExprVisitor) error { return v.VisitBinExpr(r) }
func (r addRef) acceptBinExpr(t *Tree, v BinExprVisitor) error {
	return v.VisitAdd(t.adds.Get(r.ref))
}

func (r exitRef) acceptStmt(t *Tree, v StmtVisitor) error { return v.VisitExit(t.exits.Get(r.ref)) }
func (r letRef) acceptStmt(t *Tree, v StmtVisitor) error  { return v.VisitLet(t.lets.Get(r.ref)) }

// Tree owns the storage for every node of one parse. Nodes must not be
// read after Release.
type Tree struct {
	arena   *arena.Arena
	intLits *arena.Slab[IntLit]
	idents  *arena.Slab[Ident]
	adds    *arena.Slab[Add]
	exits   *arena.Slab[Exit]
	lets    *arena.Slab[Let]
}

// NewTree creates an empty tree whose nodes are charged to a.
func NewTree(a *arena.Arena) *Tree {
	return &Tree{
		arena:   a,
		intLits: arena.NewSlab[IntLit](a),
		idents:  arena.NewSlab[Ident](a),
		adds:    arena.NewSlab[Add](a),
		exits:   arena.NewSlab[Exit](a),
		lets:    arena.NewSlab[Let](a),
	}
}

// Arena returns the arena backing the tree.
func (t *Tree) Arena() *arena.Arena { return t.arena }

// Release frees every node at once.
func (t *Tree) Release() { t.arena.Release() }

// NodeCount returns the number of nodes allocated so far.
func (t *Tree) NodeCount() int {
	return t.intLits.Len() + t.idents.Len() + t.adds.Len() + t.exits.Len() + t.lets.Len()
}

func (t *Tree) NewIntLit(tok Token) (Term, error) {
	r, err := t.intLits.New(IntLit{Token: tok})
	if err != nil {
		return nil, err
	}
	return intLitRef{r}, nil
}

func (t *Tree) NewIdent(tok Token) (Term, error) {
	r, err := t.idents.New(Ident{Token: tok})
	if err != nil {
		return nil, err
	}
	return identRef{r}, nil
}

func (t *Tree) NewAdd(lhs, rhs Expr) (BinExpr, error) {
	r, err := t.adds.New(Add{LHS: lhs, RHS: rhs})
	if err != nil {
		return nil, err
	}
	return addRef{r}, nil
}

func (t *Tree) NewExit(e Expr) (Stmt, error) {
	r, err := t.exits.New(Exit{Expr: e})
	if err != nil {
		return nil, err
	}
	return exitRef{r}, nil
}

func (t *Tree) NewLet(name Token, e Expr) (Stmt, error) {
	r, err := t.lets.New(Let{Name: name, Expr: e})
	if err != nil {
		return nil, err
	}
	return letRef{r}, nil
}

// VisitTerm dispatches n to the matching method of v.
func (t *Tree) VisitTerm(n Term, v TermVisitor) error { return n.acceptTerm(t, v) }

// VisitBinExpr dispatches n to the matching method of v.
func (t *Tree) VisitBinExpr(n BinExpr, v BinExprVisitor) error { return n.acceptBinExpr(t, v) }

// VisitExpr dispatches n to the matching method of v.
func (t *Tree) VisitExpr(n Expr, v ExprVisitor) error { return n.acceptExpr(t, v) }

// VisitStmt dispatches n to the matching method of v.
func (t *Tree) VisitStmt(n Stmt, v StmtVisitor) error { return n.acceptStmt(t, v) }

//  Printing

// printer renders nodes back to source form.
type printer struct {
	tree *Tree
	out  *strings.Builder
}

var (
	_ TermVisitor    = printer{}
	_ BinExprVisitor = printer{}
	_ ExprVisitor    = printer{}
	_ StmtVisitor    = printer{}
)

func (p printer) VisitIntLit(n IntLit) error {
	p.out.WriteString(n.Token.Lexeme)
	return nil
}

func (p printer) VisitIdent(n Ident) error {
	p.out.WriteString(n.Token.Lexeme)
	return nil
}

func (p printer) VisitAdd(n Add) error {
	p.out.WriteByte('(')
	if err := p.tree.VisitExpr(n.LHS, p); err != nil {
		return err
	}
	p.out.WriteString(" + ")
	if err := p.tree.VisitExpr(n.RHS, p); err != nil {
		return err
	}
	p.out.WriteByte(')')
	return nil
}

func (p printer) VisitTerm(n Term) error       { return p.tree.VisitTerm(n, p) }
func (p printer) VisitBinExpr(n BinExpr) error { return p.tree.VisitBinExpr(n, p) }

func (p printer) VisitExit(n Exit) error {
	p.out.WriteString("exit(")
	if err := p.tree.VisitExpr(n.Expr, p); err != nil {
		return err
	}
	p.out.WriteString(");")
	return nil
}

func (p printer) VisitLet(n Let) error {
	p.out.WriteString("let " + n.Name.Lexeme + " = ")
	if err := p.tree.VisitExpr(n.Expr, p); err != nil {
		return err
	}
	p.out.WriteString(";")
	return nil
}

// ExprString renders e with every Add parenthesised, e.g. "(1 + (2 + x))".
func (t *Tree) ExprString(e Expr) string {
	var b strings.Builder
	_ = t.VisitExpr(e, printer{tree: t, out: &b})
	return b.String()
}

// StmtString renders s as a source statement.
func (t *Tree) StmtString(s Stmt) string {
	var b strings.Builder
	_ = t.VisitStmt(s, printer{tree: t, out: &b})
	return b.String()
}

// Format renders the program one statement per line.
func (t *Tree) Format(p *Program) string {
	var b strings.Builder
	for _, s := range p.Stmts {
		b.WriteString(t.StmtString(s))
		b.WriteByte('\n')
	}
	return b.String()
}
