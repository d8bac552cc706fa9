package bf

import (
	"strings"
	"unicode/utf8"
)

// PreLex strips everything but the recognized symbols from the input.
func PreLex(input string) string {
	var b strings.Builder
	for _, c := range input {
		if _, ok := symbolOf(c); ok {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// Lexer turns source text into a stream of tokens. Characters outside the
// eight symbols are skipped, which is also how comments are handled.
type Lexer struct {
	source string
	cursor int // byte index into source
	pos    Position
}

func NewLexer(source string) *Lexer {
	l := &Lexer{source: source}
	l.Reset()
	return l
}

// Reset rewinds the lexer to the start of the source.
func (l *Lexer) Reset() {
	l.cursor = 0
	l.pos = Position{Line: 1, Column: 0, Offset: 0}
}

// Position returns the current cursor position.
func (l *Lexer) Position() Position {
	return l.pos
}

// advance consumes one character and returns it, or false at the end of
// the source.
func (l *Lexer) advance() (rune, Position, bool) {
	if l.cursor >= len(l.source) {
		return 0, l.pos, false
	}
	c, size := utf8.DecodeRuneInString(l.source[l.cursor:])
	l.cursor += size

	at := l.pos
	l.pos.Offset++
	if c == '\n' {
		l.pos.Line++
		l.pos.Column = 0
	} else {
		l.pos.Column++
	}
	at.Column = l.pos.Column
	return c, at, true
}

// Next returns the next recognized symbol. Once the source is exhausted
// every call returns an EOF token at the end position.
func (l *Lexer) Next() Token {
	for {
		c, at, ok := l.advance()
		if !ok {
			return Token{Symbol: EOF, Pos: l.pos}
		}
		if s, ok := symbolOf(c); ok {
			return Token{Symbol: s, Pos: at}
		}
	}
}

// Lex collects all tokens of the input, without the EOF terminator.
func Lex(input string) []Token {
	lexer := NewLexer(input)
	tokens := []Token{}
	for {
		tok := lexer.Next()
		if tok.Symbol == EOF {
			return tokens
		}
		tokens = append(tokens, tok)
	}
}
