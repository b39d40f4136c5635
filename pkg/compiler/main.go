// Package compiler provides the lexer, parser and code generator for the io
// language, targeting x86-64 NASM for Linux.
//
// Pipeline: io source → Lex → Parse (arena-backed Tree) → Generate → NASM text
package compiler
