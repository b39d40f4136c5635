package compiler

import (
	"fmt"
	"strconv"
	"strings"
)

// Parser consumes the flat token slice produced by the Lexer and builds a
// Program whose nodes live in a Tree.
//
// Grammar:
//
//	prog  = stmt* EOF
//	stmt  = "exit" "(" expr ")" ";"
//	      | "let" IDENTIFIER "=" expr ";"
//	expr  = term ("+" expr)?
//	term  = INTEGER | IDENTIFIER
//
// Addition is right-recursive, so 1 + 2 + 3 parses as 1 + (2 + 3).
// The first error aborts the parse.
type Parser struct {
	tokens      []Token
	pos         int
	tree        *Tree
	sourceLines []string
}

func NewParser(tokens []Token, rawSource string, tree *Tree) *Parser {
	return &Parser{tokens: tokens, tree: tree, sourceLines: strings.Split(rawSource, "\n")}
}

// fmtError wraps a syntax error message with the source line where the token appears.
func (p *Parser) fmtError(tok Token, format string, args ...any) error {
	return newError(SyntaxError, tok.Line, sourceLine(p.sourceLines, tok.Line), fmt.Errorf(format, args...))
}

// alloc converts an arena failure into a resource error located at tok.
func (p *Parser) alloc(tok Token, err error) error {
	return resourceError(tok, p.sourceLines, err)
}

// peek returns the token at the given offset from the current position
// without consuming it. Past the end it returns an EOF token.
func (p *Parser) peek(offset int) Token {
	if p.pos+offset >= len(p.tokens) {
		line := 1
		if n := len(p.tokens); n > 0 {
			line = p.tokens[n-1].Line
		}
		return Token{Type: EOF, Line: line}
	}
	return p.tokens[p.pos+offset]
}

// consume returns the current token and advances past it. Consuming beyond
// the last token is an error.
func (p *Parser) consume() (Token, error) {
	if p.pos >= len(p.tokens) {
		return Token{}, p.fmtError(p.peek(0), "unexpected end of input")
	}
	tok := p.tokens[p.pos]
	p.pos++
	return tok, nil
}

// tryConsume consumes the current token if it has type tt.
func (p *Parser) tryConsume(tt TokenType) (Token, bool) {
	if p.peek(0).Type != tt {
		return Token{}, false
	}
	tok, err := p.consume()
	return tok, err == nil
}

// expect consumes a token of type tt or fails with msg.
func (p *Parser) expect(tt TokenType, msg string) (Token, error) {
	if tok, ok := p.tryConsume(tt); ok {
		return tok, nil
	}
	return Token{}, p.fmtError(p.peek(0), "%s", msg)
}

// parseTerm parses an integer literal or identifier. It returns (nil, nil)
// when the current token starts neither.
func (p *Parser) parseTerm() (Term, error) {
	switch p.peek(0).Type {
	case INTEGER:
		tok, err := p.consume()
		if err != nil {
			return nil, err
		}
		if _, err := strconv.ParseInt(tok.Lexeme, 10, 64); err != nil {
			return nil, p.fmtError(tok, "integer literal %s out of range", tok.Lexeme)
		}
		term, err := p.tree.NewIntLit(tok)
		if err != nil {
			return nil, p.alloc(tok, err)
		}
		return term, nil
	case IDENTIFIER:
		tok, err := p.consume()
		if err != nil {
			return nil, err
		}
		term, err := p.tree.NewIdent(tok)
		if err != nil {
			return nil, p.alloc(tok, err)
		}
		return term, nil
	default:
		return nil, nil
	}
}

// parseExpr parses term ("+" expr)?. It returns (nil, nil) when no term
// starts at the current token.
func (p *Parser) parseExpr() (Expr, error) {
	lhs, err := p.parseTerm()
	if err != nil || lhs == nil {
		return nil, err
	}

	plus, ok := p.tryConsume(PLUS)
	if !ok {
		return lhs, nil
	}

	rhs, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if rhs == nil {
		return nil, p.fmtError(p.peek(0), "expected expression")
	}

	add, err := p.tree.NewAdd(lhs, rhs)
	if err != nil {
		return nil, p.alloc(plus, err)
	}
	return add, nil
}

// requireExpr parses an expression that must be present.
func (p *Parser) requireExpr() (Expr, error) {
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, p.fmtError(p.peek(0), "expected expression")
	}
	return e, nil
}

// parseStmt parses one statement. Both forms are recognised by a fixed
// lookahead before anything is consumed.
func (p *Parser) parseStmt() (Stmt, error) {
	switch {
	case p.peek(0).Type == EXIT && p.peek(1).Type == LPAREN:
		kw, _ := p.consume()
		_, _ = p.consume() // (

		e, err := p.requireExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(RPAREN, "expected `)`"); err != nil {
			return nil, err
		}
		if _, err := p.expect(SEMICOLON, "expected `;`"); err != nil {
			return nil, err
		}

		s, err := p.tree.NewExit(e)
		if err != nil {
			return nil, p.alloc(kw, err)
		}
		return s, nil

	case p.peek(0).Type == LET && p.peek(1).Type == IDENTIFIER && p.peek(2).Type == ASSIGN:
		_, _ = p.consume() // let
		name, _ := p.consume()
		_, _ = p.consume() // =

		e, err := p.requireExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(SEMICOLON, "expected `;`"); err != nil {
			return nil, err
		}

		s, err := p.tree.NewLet(name, e)
		if err != nil {
			return nil, p.alloc(name, err)
		}
		return s, nil

	default:
		return nil, p.fmtError(p.peek(0), "invalid statement")
	}
}

// ParseProg parses statements until EOF.
func (p *Parser) ParseProg() (*Program, error) {
	prog := &Program{}
	for p.peek(0).Type != EOF {
		s, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		prog.Stmts = append(prog.Stmts, s)
	}
	return prog, nil
}

// Parse is the package-level convenience wrapper around Parser. It panics
// on a nil tree.
func Parse(tokens []Token, rawSource string, tree *Tree) (*Program, error) {
	if tree == nil {
		panic("parse: nil tree")
	}
	return NewParser(tokens, rawSource, tree).ParseProg()
}
