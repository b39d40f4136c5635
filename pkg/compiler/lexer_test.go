package compiler

import (
	"errors"
	"reflect"
	"testing"
)

func TestLex(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []Token
		wantErr  bool
	}{
		{
			name:  "Empty",
			input: "",
			expected: []Token{
				{Type: EOF, Lexeme: "", Line: 1},
			},
		},
		{
			name:  "Punctuation",
			input: "+ ( ) ; =",
			expected: []Token{
				{Type: PLUS, Lexeme: "+", Line: 1},
				{Type: LPAREN, Lexeme: "(", Line: 1},
				{Type: RPAREN, Lexeme: ")", Line: 1},
				{Type: SEMICOLON, Lexeme: ";", Line: 1},
				{Type: ASSIGN, Lexeme: "=", Line: 1},
				{Type: EOF, Lexeme: "", Line: 1},
			},
		},
		{
			name:  "Keywords and Identifiers",
			input: "exit let exits letter _x x1",
			expected: []Token{
				{Type: EXIT, Lexeme: "exit", Line: 1},
				{Type: LET, Lexeme: "let", Line: 1},
				{Type: IDENTIFIER, Lexeme: "exits", Line: 1},
				{Type: IDENTIFIER, Lexeme: "letter", Line: 1},
				{Type: IDENTIFIER, Lexeme: "_x", Line: 1},
				{Type: IDENTIFIER, Lexeme: "x1", Line: 1},
				{Type: EOF, Lexeme: "", Line: 1},
			},
		},
		{
			name:  "Exit Statement",
			input: "exit(42);",
			expected: []Token{
				{Type: EXIT, Lexeme: "exit", Line: 1},
				{Type: LPAREN, Lexeme: "(", Line: 1},
				{Type: INTEGER, Lexeme: "42", Line: 1},
				{Type: RPAREN, Lexeme: ")", Line: 1},
				{Type: SEMICOLON, Lexeme: ";", Line: 1},
				{Type: EOF, Lexeme: "", Line: 1},
			},
		},
		{
			name:  "Let Without Spaces",
			input: "let y=x+1;",
			expected: []Token{
				{Type: LET, Lexeme: "let", Line: 1},
				{Type: IDENTIFIER, Lexeme: "y", Line: 1},
				{Type: ASSIGN, Lexeme: "=", Line: 1},
				{Type: IDENTIFIER, Lexeme: "x", Line: 1},
				{Type: PLUS, Lexeme: "+", Line: 1},
				{Type: INTEGER, Lexeme: "1", Line: 1},
				{Type: SEMICOLON, Lexeme: ";", Line: 1},
				{Type: EOF, Lexeme: "", Line: 1},
			},
		},
		{
			name:  "Comments and Lines",
			input: "// header\nlet a = 1; /* block\ncomment */ exit(a);\n",
			expected: []Token{
				{Type: LET, Lexeme: "let", Line: 2},
				{Type: IDENTIFIER, Lexeme: "a", Line: 2},
				{Type: ASSIGN, Lexeme: "=", Line: 2},
				{Type: INTEGER, Lexeme: "1", Line: 2},
				{Type: SEMICOLON, Lexeme: ";", Line: 2},
				{Type: EXIT, Lexeme: "exit", Line: 3},
				{Type: LPAREN, Lexeme: "(", Line: 3},
				{Type: IDENTIFIER, Lexeme: "a", Line: 3},
				{Type: RPAREN, Lexeme: ")", Line: 3},
				{Type: SEMICOLON, Lexeme: ";", Line: 3},
				{Type: EOF, Lexeme: "", Line: 4},
			},
		},
		{
			name:    "Unexpected Character",
			input:   "exit(1 - 2);",
			wantErr: true,
		},
		{
			name:    "Digits Running Into Letters",
			input:   "exit(12ab);",
			wantErr: true,
		},
		{
			name:    "Unterminated Block Comment",
			input:   "exit(0); /* never closed",
			wantErr: true,
		},
		{
			name:    "Non ASCII Identifier",
			input:   "let é = 1;",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Lex(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Lex() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrLex) {
					t.Errorf("Lex() error %v is not ErrLex", err)
				}
				return
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("Lex() =\n%v\nwant\n%v", got, tt.expected)
			}
		})
	}
}

func TestLexErrorPosition(t *testing.T) {
	_, err := Lex("let a = 1;\nexit(a $ 2);")
	var cerr *Error
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *Error, got %T (%v)", err, err)
	}
	if cerr.Kind != LexError {
		t.Errorf("Kind = %v, want %v", cerr.Kind, LexError)
	}
	if cerr.Line != 2 {
		t.Errorf("Line = %d, want 2", cerr.Line)
	}
	if cerr.Snippet != "exit(a $ 2);" {
		t.Errorf("Snippet = %q", cerr.Snippet)
	}
}

func TestTokenTypeString(t *testing.T) {
	if got := EXIT.String(); got != "EXIT" {
		t.Errorf("EXIT.String() = %q", got)
	}
	if got := TokenType(99).String(); got != "TokenType(99)" {
		t.Errorf("TokenType(99).String() = %q", got)
	}
}
