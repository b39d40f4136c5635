package asm

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/ahrtr/gocontainer/set"
)

// arity is the operand count of each supported mnemonic.
var arity = map[Mnemonic]int{
	MOV:     2,
	PUSH:    1,
	POP:     1,
	ADD:     2,
	SYSCALL: 0,
}

// registerNames holds the lower-case name of every Reg.
var registerNames = func() set.Interface {
	s := set.New()
	for _, r := range Registers {
		s.Add(string(r))
	}
	return s
}()

// Reader turns NASM source in the subset produced by Format back into a
// Program. Labels are collected in a first pass so that forward references
// in "global" resolve.
type Reader struct {
	labels map[string]int
	entry  string
}

type parsedLine struct {
	lineNo    int
	labels    []string
	directive string
	mnemonic  string
	operands  []string
}

func NewReader() *Reader {
	return &Reader{labels: make(map[string]int)}
}

// Parse reads a whole source text.
func Parse(code string) (*Program, error) {
	return NewReader().Parse(code)
}

func (r *Reader) Parse(code string) (*Program, error) {
	lines := strings.Split(code, "\n")

	if err := r.pass1(lines); err != nil {
		return nil, err
	}

	return r.pass2(lines)
}

// pass1 records label positions and the entry symbol.
func (r *Reader) pass1(lines []string) error {
	index := 0

	for i, raw := range lines {
		lineNo := i + 1
		p, err := parseLine(raw, lineNo)
		if err != nil {
			return err
		}

		for _, lbl := range p.labels {
			if _, exists := r.labels[lbl]; exists {
				return fmt.Errorf("duplicate label '%s' on line %d", lbl, lineNo)
			}
			r.labels[lbl] = index
		}

		switch p.directive {
		case "global":
			if len(p.operands) != 1 || !isIdentifier(p.operands[0]) {
				return fmt.Errorf("global expects exactly one symbol on line %d", lineNo)
			}
			if r.entry != "" {
				return fmt.Errorf("second global '%s' on line %d", p.operands[0], lineNo)
			}
			r.entry = p.operands[0]
		case "section":
			if len(p.operands) != 1 || p.operands[0] != ".text" {
				return fmt.Errorf("unsupported section on line %d", lineNo)
			}
		}

		if p.mnemonic != "" {
			index++
		}
	}

	if r.entry == "" {
		return fmt.Errorf("missing global entry symbol")
	}
	if _, ok := r.labels[r.entry]; !ok {
		return fmt.Errorf("entry symbol '%s' is never defined", r.entry)
	}
	return nil
}

func (r *Reader) pass2(lines []string) (*Program, error) {
	prog := &Program{Entry: r.entry, Labels: r.labels}

	for i, raw := range lines {
		lineNo := i + 1
		p, err := parseLine(raw, lineNo)
		if err != nil {
			return nil, err
		}
		if p.mnemonic == "" {
			continue
		}

		op := Mnemonic(p.mnemonic)
		n, ok := arity[op]
		if !ok {
			return nil, fmt.Errorf("unknown instruction on line %d: %s", lineNo, p.mnemonic)
		}
		if len(p.operands) != n {
			return nil, fmt.Errorf("%s expects %d operand(s) on line %d, got %d", op, n, lineNo, len(p.operands))
		}

		in := Instruction{Op: op, Line: lineNo}
		for _, text := range p.operands {
			arg, err := parseOperand(text, lineNo)
			if err != nil {
				return nil, err
			}
			in.Args = append(in.Args, arg)
		}
		if err := checkShape(in); err != nil {
			return nil, err
		}
		prog.Instructions = append(prog.Instructions, in)
	}

	return prog, nil
}

// checkShape rejects operand combinations the subset cannot encode.
func checkShape(in Instruction) error {
	switch in.Op {
	case MOV, ADD:
		if _, ok := in.Args[0].(Reg); !ok {
			return fmt.Errorf("%s destination must be a register on line %d", in.Op, in.Line)
		}
	case POP:
		if _, ok := in.Args[0].(Reg); !ok {
			return fmt.Errorf("pop destination must be a register on line %d", in.Line)
		}
	}
	return nil
}

func parseLine(raw string, lineNo int) (parsedLine, error) {
	p := parsedLine{lineNo: lineNo}

	line := strings.TrimSpace(stripComments(raw))
	if line == "" {
		return p, nil
	}

	for {
		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			break
		}

		beforeColon := strings.TrimSpace(line[:colon])
		if strings.ContainsAny(beforeColon, " \t") {
			break
		}
		if !isIdentifier(beforeColon) {
			return p, fmt.Errorf("invalid label '%s' on line %d", beforeColon, lineNo)
		}

		p.labels = append(p.labels, beforeColon)
		line = strings.TrimSpace(line[colon+1:])
		if line == "" {
			return p, nil
		}
	}

	head, rest := line, ""
	if sp := strings.IndexFunc(line, unicode.IsSpace); sp >= 0 {
		head, rest = line[:sp], strings.TrimSpace(line[sp:])
	}
	head = strings.ToLower(head)

	switch head {
	case "global", "section":
		p.directive = head
		p.operands = strings.Fields(rest)
		return p, nil
	}

	p.mnemonic = head
	if rest != "" {
		for _, op := range strings.Split(rest, ",") {
			p.operands = append(p.operands, strings.TrimSpace(op))
		}
	}
	return p, nil
}

func stripComments(line string) string {
	if semicolon := strings.IndexByte(line, ';'); semicolon >= 0 {
		return line[:semicolon]
	}
	return line
}

func parseOperand(token string, lineNo int) (Operand, error) {
	if token == "" {
		return nil, fmt.Errorf("empty operand on line %d", lineNo)
	}
	if strings.ContainsRune(token, '[') {
		return parseMemory(token, lineNo)
	}
	if reg, err := parseRegister(token, lineNo); err == nil {
		return reg, nil
	}
	return parseImmediate(token, lineNo)
}

func parseRegister(token string, lineNo int) (Reg, error) {
	name := strings.ToLower(strings.TrimSpace(token))
	if !registerNames.Contains(name) {
		return "", fmt.Errorf("invalid register '%s' on line %d", token, lineNo)
	}
	return Reg(name), nil
}

func parseImmediate(token string, lineNo int) (Imm, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(token), 10, 64)
	if err != nil {
		if isIdentifier(token) {
			return 0, fmt.Errorf("invalid register '%s' on line %d", token, lineNo)
		}
		return 0, fmt.Errorf("invalid immediate '%s' on line %d", token, lineNo)
	}
	return Imm(value), nil
}

// parseMemory accepts "[base]", "[base + n]" and "[base - n]", optionally
// prefixed with the QWORD size keyword.
func parseMemory(token string, lineNo int) (Mem, error) {
	text := strings.TrimSpace(token)
	if size, rest, ok := strings.Cut(text, " "); ok && strings.EqualFold(size, "qword") {
		text = strings.TrimSpace(rest)
	}
	if !strings.HasPrefix(text, "[") || !strings.HasSuffix(text, "]") {
		return Mem{}, fmt.Errorf("invalid memory operand '%s' on line %d", token, lineNo)
	}
	inner := strings.TrimSpace(text[1 : len(text)-1])

	sign := int64(1)
	baseText, dispText, found := strings.Cut(inner, "+")
	if !found {
		baseText, dispText, found = strings.Cut(inner, "-")
		sign = -1
	}

	base, err := parseRegister(baseText, lineNo)
	if err != nil {
		return Mem{}, err
	}
	m := Mem{Base: base}
	if found {
		disp, err := strconv.ParseInt(strings.TrimSpace(dispText), 10, 64)
		if err != nil {
			return Mem{}, fmt.Errorf("invalid displacement '%s' on line %d", strings.TrimSpace(dispText), lineNo)
		}
		m.Disp = sign * disp
	}
	return m, nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}

	for i, r := range s {
		if i == 0 {
			if !unicode.IsLetter(r) && r != '_' && r != '.' {
				return false
			}
			continue
		}

		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '.' {
			return false
		}
	}

	return true
}
