// Command iodump prints every stage of compiling an io program: the
// source, its tokens, the syntax tree, the generated assembly and the
// final variable bindings.
package main

import (
	"fmt"
	"log"
	"os"

	"ioc/pkg/arena"
	"ioc/pkg/asm"
	"ioc/pkg/compiler"
)

const testSource = `let x = 10;
let y = 20;
exit(x + y);
`

func main() {
	src := testSource
	if len(os.Args) > 1 {
		data, err := os.ReadFile(os.Args[1])
		if err != nil {
			log.Fatalf("read error: %v", err)
		}
		src = string(data)
	}

	fmt.Printf("Source:\n%s\n", src)

	// Lex
	tokens, err := compiler.Lex(src)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Printf("Tokens (%d)\n", len(tokens))
	for _, tok := range tokens {
		fmt.Println(" ", tok)
	}
	fmt.Println()

	// Parse
	tree := compiler.NewTree(arena.New(arena.DefaultCapacity))
	defer tree.Release()

	prog, err := compiler.Parse(tokens, src, tree)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Printf("AST (%d nodes, %d arena bytes)\n", tree.NodeCount(), tree.Arena().Used())
	fmt.Print(tree.Format(prog))
	fmt.Println()

	// Code generation
	code, syms, err := compiler.NewGenerator(tree, src).Lower(prog)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Println("Generated Assembly")
	fmt.Print(asm.Format(code))
	fmt.Println()
	fmt.Print(syms)
}
