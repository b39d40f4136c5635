package compiler

import (
	"errors"
	"strings"
	"testing"

	"ioc/pkg/asm"
)

// assertContains checks if the generated code contains the expected substring.
func assertContains(t *testing.T, code, expected string) {
	t.Helper()
	if !strings.Contains(code, expected) {
		t.Errorf("Expected code to contain %q, but it didn't.\nCode:\n%s", expected, code)
	}
}

// generateSource runs Lex, Parse and Generate on src.
func generateSource(t *testing.T, src string) (string, error) {
	t.Helper()
	tree, prog, err := parseSource(t, src)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return Generate(tree, prog)
}

func TestGenerate_Golden(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "Empty Program",
			src:  "",
			want: `global _start
_start:
    mov rax, 60
    mov rdi, 0
    syscall
`,
		},
		{
			name: "Exit Literal",
			src:  "exit(42);",
			want: `global _start
_start:
    mov rax, 42
    push rax
    mov rax, 60
    pop rdi
    syscall
    mov rax, 60
    mov rdi, 0
    syscall
`,
		},
		{
			name: "Let Then Exit",
			src:  "let x = 5; exit(x);",
			want: `global _start
_start:
    mov rax, 5
    push rax
    push QWORD [rsp + 0]
    mov rax, 60
    pop rdi
    syscall
    mov rax, 60
    mov rdi, 0
    syscall
`,
		},
		{
			name: "Two Bindings",
			src:  "let x = 1; let y = 2; exit(x + y);",
			want: `global _start
_start:
    mov rax, 1
    push rax
    mov rax, 2
    push rax
    push QWORD [rsp + 8]
    push QWORD [rsp + 8]
    pop rax
    pop rbx
    add rax, rbx
    push rax
    mov rax, 60
    pop rdi
    syscall
    mov rax, 60
    mov rdi, 0
    syscall
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := generateSource(t, tt.src)
			if err != nil {
				t.Fatalf("Generate failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Generate() mismatch\ngot:\n%s\nwant:\n%s", got, tt.want)
			}
		})
	}
}

func TestGenerate_SlotOffsets(t *testing.T) {
	// c is read while a, b, c and two temporaries are live.
	code, err := generateSource(t, "let a = 1; let b = 2; let c = 3; exit(a + b + c);")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	// a: depth 3, slot 0 -> 16
	assertContains(t, code, "push QWORD [rsp + 16]\n    push QWORD [rsp + 16]\n    push QWORD [rsp + 16]\n")
}

func TestGenerate_SemanticErrors(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		sentinel error
		want     string
		line     int
	}{
		{"Undeclared", "exit(x);", ErrUndeclared, "undeclared identifier: x", 1},
		{"Use Before Let", "exit(y);\nlet y = 1;", ErrUndeclared, "undeclared identifier: y", 1},
		{"Self Reference", "let z = z + 1;", ErrUndeclared, "", 1},
		{"Redeclared", "let x = 1;\nlet x = 2;\nexit(x);", ErrRedeclared, "identifier already used: x", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree, prog, err := parseSource(t, tt.src)
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			code, err := NewGenerator(tree, tt.src).Program(prog)
			if err == nil {
				t.Fatalf("expected error, got code:\n%s", asm.Format(code))
			}
			if code != nil {
				t.Errorf("partial code returned alongside error")
			}
			if !errors.Is(err, tt.sentinel) || !errors.Is(err, ErrSemantic) {
				t.Errorf("error %v does not match %v and ErrSemantic", err, tt.sentinel)
			}
			if tt.want != "" && !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err, tt.want)
			}
			var cerr *Error
			if errors.As(err, &cerr) && cerr.Line != tt.line {
				t.Errorf("Line = %d, want %d", cerr.Line, tt.line)
			}
		})
	}
}

func TestGenerate_Idempotent(t *testing.T) {
	src := "let a = 3; let b = a + 4; exit(a + b + 1);"
	tree, prog, err := parseSource(t, src)
	if err != nil {
		t.Fatal(err)
	}
	first, err := Generate(tree, prog)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Generate(tree, prog)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("two generations differ:\n%s\n---\n%s", first, second)
	}
}

func TestStackStateTransitions(t *testing.T) {
	tree, prog, err := parseSource(t, "let a = 1; let b = a + 2; exit(b);")
	if err != nil {
		t.Fatal(err)
	}
	g := NewGenerator(tree, "")

	tests := []struct {
		depth int
		binds int
	}{
		{1, 1}, // let a
		{2, 2}, // let b: a+2 leaves one net slot
		{2, 2}, // exit pops its operand
	}

	st := newStackState()
	for i, want := range tests {
		before := st
		next, code, err := g.stmt(st, nil, prog.Stmts[i])
		if err != nil {
			t.Fatalf("stmt %d: %v", i, err)
		}
		if len(code) == 0 {
			t.Errorf("stmt %d emitted nothing", i)
		}
		if next.depth != want.depth || next.syms.Len() != want.binds {
			t.Errorf("stmt %d: depth=%d binds=%d, want depth=%d binds=%d",
				i, next.depth, next.syms.Len(), want.depth, want.binds)
		}
		if before.depth != st.depth || before.syms.Len() != st.syms.Len() {
			t.Errorf("stmt %d mutated its input state", i)
		}
		st = next
	}

	if sym, ok := st.syms.Lookup("b"); !ok || sym.Slot != 1 {
		t.Errorf("b bound to %+v, want slot 1", sym)
	}
}

func TestExprNetPush(t *testing.T) {
	// Every expression leaves exactly one new slot on the stack.
	srcs := []string{"exit(7);", "exit(1 + 2);", "exit(1 + 2 + 3 + 4);"}
	for _, src := range srcs {
		tree, prog, err := parseSource(t, src)
		if err != nil {
			t.Fatal(err)
		}
		g := NewGenerator(tree, "")
		var exit Exit
		_ = tree.VisitStmt(prog.Stmts[0], exitGrabber{&exit})

		st, _, err := g.expr(newStackState(), nil, exit.Expr)
		if err != nil {
			t.Fatal(err)
		}
		if st.depth != 1 {
			t.Errorf("%s: depth after expr = %d, want 1", src, st.depth)
		}
	}
}

type exitGrabber struct{ out *Exit }

func (g exitGrabber) VisitExit(n Exit) error { *g.out = n; return nil }
func (g exitGrabber) VisitLet(Let) error     { return nil }

func TestLower(t *testing.T) {
	tree, prog, err := parseSource(t, "let a = 1;\nlet b = a + 2;\nexit(b);")
	if err != nil {
		t.Fatal(err)
	}
	code, syms, err := NewGenerator(tree, "").Lower(prog)
	if err != nil {
		t.Fatalf("Lower failed: %v", err)
	}
	want, err := Generate(tree, prog)
	if err != nil {
		t.Fatal(err)
	}
	if got := asm.Format(code); got != want {
		t.Errorf("Lower and Generate disagree:\n%s\nvs\n%s", got, want)
	}
	if syms.Len() != 2 {
		t.Errorf("syms.Len() = %d, want 2", syms.Len())
	}
	if sym, ok := syms.Lookup("b"); !ok || sym.Slot != 1 || sym.Line != 2 {
		t.Errorf("b = %+v, %v", sym, ok)
	}

	tree, prog, err = parseSource(t, "exit(q);")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := NewGenerator(tree, "").Lower(prog); !errors.Is(err, ErrUndeclared) {
		t.Errorf("Lower error = %v, want %v", err, ErrUndeclared)
	}
}
