package bf

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
)

type OpCode uint8

const (
	IncrementPointer OpCode = iota + 1
	DecrementPointer
	IncrementData
	DecrementData
	Get
	Put
	BranchIfZero
	BranchIfNonZero
)

func (op OpCode) String() string {
	switch op {
	case IncrementPointer:
		return "IncrementPointer"
	case DecrementPointer:
		return "DecrementPointer"
	case IncrementData:
		return "IncrementData"
	case DecrementData:
		return "DecrementData"
	case Get:
		return "Get"
	case Put:
		return "Put"
	case BranchIfZero:
		return "BranchIfZero"
	case BranchIfNonZero:
		return "BranchIfNonZero"
	default:
		return fmt.Sprintf("OpCode(%d)", uint8(op))
	}
}

// opcodes maps the non-loop symbols onto their opcode
var opcodes = map[Symbol]OpCode{
	Right:     IncrementPointer,
	Left:      DecrementPointer,
	Increment: IncrementData,
	Decrement: DecrementData,
	Input:     Get,
	Output:    Put,
}

// NoOperand marks an instruction that is not part of a loop pair.
const NoOperand = -1

// Instruction is one resolved operation. Operand holds the index of the
// matching loop instruction for BranchIfZero and BranchIfNonZero, and
// NoOperand otherwise.
type Instruction struct {
	Op      OpCode
	Operand int
	Token   Token
	Index   int
}

func (i Instruction) HasOperand() bool {
	return i.Operand != NoOperand
}

func (i Instruction) String() string {
	if i.HasOperand() {
		return fmt.Sprintf("%04d %s -> %04d", i.Index, i.Op, i.Operand)
	}
	return fmt.Sprintf("%04d %s", i.Index, i.Op)
}

// Program is the ordered instruction sequence produced by the parser. It is
// not modified once Parse returns.
type Program struct {
	instructions []Instruction
}

// NewProgram builds a program from an existing instruction slice. The
// slice is copied.
func NewProgram(instructions []Instruction) *Program {
	return &Program{instructions: append([]Instruction(nil), instructions...)}
}

func (p *Program) Len() int {
	return len(p.instructions)
}

func (p *Program) At(i int) Instruction {
	return p.instructions[i]
}

// Instructions returns a copy of the instruction sequence.
func (p *Program) Instructions() []Instruction {
	return append([]Instruction(nil), p.instructions...)
}

// Dump writes the program as a table, one row per instruction.
func (p *Program) Dump(w io.Writer) error {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Op", "Operand", "Symbol", "Line", "Column"})
	for _, ins := range p.instructions {
		operand := ""
		if ins.HasOperand() {
			operand = fmt.Sprintf("%d", ins.Operand)
		}
		t.AppendRow(table.Row{ins.Index, ins.Op, operand, ins.Token.Symbol, ins.Token.Pos.Line, ins.Token.Pos.Column})
	}
	t.AppendFooter(table.Row{"", "total", p.Len()})
	_, err := fmt.Fprintln(w, t.Render())
	return err
}
