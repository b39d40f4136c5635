package compiler

import (
	"fmt"
	"slices"
	"strings"
)

// Symbol is one let binding. Slot is the position of the bound value on the
// runtime stack, counted in quadwords from the bottom of the program's frame.
type Symbol struct {
	Name string
	Slot int
	Line int
}

// symbolStore is the append-only log shared by every version of a table.
// index maps a name to its position in order.
type symbolStore struct {
	order []Symbol
	index map[string]int
}

// SymbolTable maps binding names to stack slots. Tables are persistent:
// Bind returns a new table and leaves the receiver untouched, so a
// generator state can be kept and compared after later statements run.
//
// A table is a prefix of a shared store. Binding on the newest version
// appends in place; binding on an older version copies its prefix first.
// Tables sharing a store must not be bound from different goroutines.
type SymbolTable struct {
	store *symbolStore
	n     int
}

func NewSymbolTable() *SymbolTable {
	return &SymbolTable{store: &symbolStore{index: make(map[string]int)}}
}

// Lookup returns the binding for name.
func (s *SymbolTable) Lookup(name string) (Symbol, bool) {
	i, ok := s.store.index[name]
	if !ok || i >= s.n {
		return Symbol{}, false
	}
	return s.store.order[i], true
}

// Bind returns a table with sym added. It panics if the name is already
// bound; callers check with Lookup first.
func (s *SymbolTable) Bind(sym Symbol) *SymbolTable {
	if _, exists := s.Lookup(sym.Name); exists {
		panic(fmt.Sprintf("symtable: %q bound twice", sym.Name))
	}
	store := s.store
	if s.n != len(store.order) {
		store = s.fork()
	}
	store.index[sym.Name] = len(store.order)
	store.order = append(store.order, sym)
	return &SymbolTable{store: store, n: len(store.order)}
}

// fork copies the receiver's prefix into a fresh store.
func (s *SymbolTable) fork() *symbolStore {
	f := &symbolStore{
		order: slices.Clone(s.store.order[:s.n]),
		index: make(map[string]int, s.n+1),
	}
	for i, sym := range f.order {
		f.index[sym.Name] = i
	}
	return f
}

// Len returns the number of bindings.
func (s *SymbolTable) Len() int { return s.n }

// String lists the bindings ordered by slot.
func (s *SymbolTable) String() string {
	syms := slices.Clone(s.store.order[:s.n])
	slices.SortFunc(syms, func(a, b Symbol) int { return a.Slot - b.Slot })

	var b strings.Builder
	b.WriteString("Symbols\n")
	for _, sym := range syms {
		fmt.Fprintf(&b, "  %-12s slot %-4d line %d\n", sym.Name, sym.Slot, sym.Line)
	}
	return b.String()
}
