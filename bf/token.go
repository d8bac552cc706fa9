package bf

import "fmt"

// Symbol is one of the eight recognized source characters, or EOF.
type Symbol rune

const (
	Increment Symbol = '+'
	Decrement Symbol = '-'
	Left      Symbol = '<'
	Right     Symbol = '>'
	Output    Symbol = '.'
	Input     Symbol = ','
	LoopStart Symbol = '['
	LoopEnd   Symbol = ']'
	EOF       Symbol = 0
)

// symbolOf reports whether c is a recognized symbol
func symbolOf(c rune) (Symbol, bool) {
	switch c {
	case '+', '-', '<', '>', '.', ',', '[', ']':
		return Symbol(c), true
	default:
		return EOF, false
	}
}

func (s Symbol) String() string {
	if s == EOF {
		return "EOF"
	}
	return string(rune(s))
}

// Position of a token in the source. Line starts at 1, Column is the
// 1-based column of the symbol within its line and Offset is the 0-based
// character offset of the symbol.
type Position struct {
	Line   int
	Column int
	Offset int
}

func (p Position) String() string {
	return fmt.Sprintf("line %d, column %d", p.Line, p.Column)
}

type Token struct {
	Symbol Symbol
	Pos    Position
}

func (t Token) String() string {
	return fmt.Sprintf("%s (%s)", t.Symbol, t.Pos)
}
