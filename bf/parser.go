package bf

// Parser turns the token stream of a Lexer into a Program. Loop operands are
// resolved during the descent: the call that emits a BranchIfZero is the one
// that later emits its BranchIfNonZero, so it links both ends itself.
type Parser struct {
	lexer        *Lexer
	pointer      int // simulated pointer, only tracks literal moves
	instructions []Instruction
}

func NewParser(lexer *Lexer) *Parser {
	return &Parser{lexer: lexer}
}

// Parse consumes the whole token stream. The first structural error aborts
// parsing and no program is returned.
func (p *Parser) Parse() (*Program, error) {
	p.lexer.Reset()
	p.pointer = 0
	p.instructions = nil

	if err := p.parseBlock(NoOperand); err != nil {
		return nil, err
	}
	program := &Program{instructions: p.instructions}
	p.instructions = nil
	return program, nil
}

func (p *Parser) emit(op OpCode, tok Token) int {
	index := len(p.instructions)
	p.instructions = append(p.instructions, Instruction{
		Op:      op,
		Operand: NoOperand,
		Token:   tok,
		Index:   index,
	})
	return index
}

// parseBlock parses until the end of the loop opened at index open, or
// until EOF when open is NoOperand.
func (p *Parser) parseBlock(open int) error {
	for {
		tok := p.lexer.Next()

		switch tok.Symbol {
		case EOF:
			if open != NoOperand {
				return newParseError(ErrUnterminatedLoop, p.instructions[open].Token)
			}
			return nil
		case LoopStart:
			index := p.emit(BranchIfZero, tok)
			if err := p.parseBlock(index); err != nil {
				return err
			}
		case LoopEnd:
			if open == NoOperand {
				return newParseError(ErrUnexpectedLoopClose, tok)
			}
			index := p.emit(BranchIfNonZero, tok)
			p.instructions[open].Operand = index
			p.instructions[index].Operand = open
			return nil
		case Right:
			p.pointer++
			p.emit(IncrementPointer, tok)
		case Left:
			p.pointer--
			p.emit(DecrementPointer, tok)
			if p.pointer < 0 {
				return newParseError(ErrPointerUnderflow, tok)
			}
		default:
			p.emit(opcodes[tok.Symbol], tok)
		}
	}
}

// Parse lexes and parses source in one go.
func Parse(source string) (*Program, error) {
	return NewParser(NewLexer(source)).Parse()
}
