package compiler

import (
	"errors"
	"fmt"
	"strings"

	"ioc/pkg/arena"
)

// ErrorKind classifies a compilation failure.
type ErrorKind int

const (
	LexError ErrorKind = iota + 1
	SyntaxError
	SemanticError
	ResourceError
)

var errorKindNames = [...]string{
	LexError:      "lex error",
	SyntaxError:   "syntax error",
	SemanticError: "semantic error",
	ResourceError: "resource error",
}

func (k ErrorKind) String() string {
	if int(k) > 0 && int(k) < len(errorKindNames) {
		return errorKindNames[k]
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Sentinels for errors.Is. An *Error matches the sentinel of its kind;
// ErrUndeclared and ErrRedeclared are wrapped inside semantic errors.
var (
	ErrLex        = errors.New("lex error")
	ErrSyntax     = errors.New("syntax error")
	ErrSemantic   = errors.New("semantic error")
	ErrResource   = errors.New("resource error")
	ErrUndeclared = errors.New("undeclared identifier")
	ErrRedeclared = errors.New("identifier already used")
)

var kindSentinels = map[ErrorKind]error{
	LexError:      ErrLex,
	SyntaxError:   ErrSyntax,
	SemanticError: ErrSemantic,
	ResourceError: ErrResource,
}

// Error is the single error type produced by the compilation pipeline.
// Every phase returns it up to the caller; nothing below the command
// entry point terminates the process.
type Error struct {
	Kind    ErrorKind
	Line    int    // 1-based; 0 when the failure has no source position
	Snippet string // trimmed source line, may be empty
	Err     error
}

func newError(kind ErrorKind, line int, snippet string, err error) *Error {
	return &Error{Kind: kind, Line: line, Snippet: snippet, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Line > 0 {
		fmt.Fprintf(&b, "line %d: ", e.Line)
	}
	fmt.Fprintf(&b, "%s: %v", e.Kind, e.Err)
	if e.Snippet != "" {
		fmt.Fprintf(&b, "\n  |> %s", e.Snippet)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// resourceError wraps an allocation failure. Arena exhaustion keeps
// arena.ErrExhausted reachable through errors.Is.
func resourceError(tok Token, lines []string, err error) error {
	if errors.Is(err, arena.ErrExhausted) || errors.Is(err, arena.ErrReleased) {
		return newError(ResourceError, tok.Line, sourceLine(lines, tok.Line), err)
	}
	return err
}

// sourceLine returns the trimmed text of a 1-based line, or "" if out of range.
func sourceLine(lines []string, line int) string {
	idx := line - 1
	if idx < 0 || idx >= len(lines) {
		return ""
	}
	return strings.TrimSpace(lines[idx])
}
