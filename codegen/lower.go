package codegen

import (
	"fmt"

	"github.com/containerd/errdefs"

	"github.com/MarcinKonowalczyk/bfc/bf"
)

const (
	DefaultIdentifier = "brainfuck"
	DefaultStackSize  = 3000
)

// Options configure the machine the program is lowered for.
type Options struct {
	Identifier string
	StackSize  int
	EOF        EOFPolicy
}

func (o Options) withDefaults() Options {
	if o.Identifier == "" {
		o.Identifier = DefaultIdentifier
	}
	if o.StackSize == 0 {
		o.StackSize = DefaultStackSize
	}
	return o
}

var lowered = map[bf.OpCode]Op{
	bf.IncrementPointer: OpRight,
	bf.DecrementPointer: OpLeft,
	bf.IncrementData:    OpIncrement,
	bf.DecrementData:    OpDecrement,
	bf.Get:              OpRead,
	bf.Put:              OpWrite,
	bf.BranchIfZero:     OpJumpIfZero,
	bf.BranchIfNonZero:  OpJumpIfNonZero,
}

// Lower translates a parsed program into machine code in a single pass.
// Instruction i of the program becomes instruction i of the code, and each
// branch jumps to the position right after its partner. A program that
// writes anything gets one trailing newline.
func Lower(program *bf.Program, opts Options) (*Code, error) {
	opts = opts.withDefaults()
	if opts.StackSize < 0 || int64(opts.StackSize) > int64(^uint32(0)) {
		return nil, fmt.Errorf("stack size %d out of range: %w", opts.StackSize, errdefs.ErrInvalidArgument)
	}

	code := &Code{
		Identifier: opts.Identifier,
		TapeSize:   uint32(opts.StackSize),
		EOF:        opts.EOF,
		Insts:      make([]Inst, 0, program.Len()+1),
	}

	hasOutput := false
	for i := 0; i < program.Len(); i++ {
		ins := program.At(i)
		op, ok := lowered[ins.Op]
		if !ok {
			return nil, fmt.Errorf("instruction %d: unknown opcode %s: %w", i, ins.Op, errdefs.ErrFailedPrecondition)
		}

		inst := Inst{Op: op}
		switch ins.Op {
		case bf.BranchIfZero, bf.BranchIfNonZero:
			if err := checkPair(program, ins); err != nil {
				return nil, err
			}
			inst.Target = uint32(ins.Operand) + 1
		case bf.Put:
			hasOutput = true
		}
		code.Insts = append(code.Insts, inst)
	}

	if hasOutput {
		code.Insts = append(code.Insts, Inst{Op: OpNewline})
	}
	return code, nil
}

func checkPair(program *bf.Program, ins bf.Instruction) error {
	if !ins.HasOperand() || ins.Operand < 0 || ins.Operand >= program.Len() {
		return fmt.Errorf("instruction %d: unresolved loop operand: %w", ins.Index, errdefs.ErrFailedPrecondition)
	}
	other := program.At(ins.Operand)
	want := bf.BranchIfNonZero
	if ins.Op == bf.BranchIfNonZero {
		want = bf.BranchIfZero
	}
	if other.Op != want || other.Operand != ins.Index {
		return fmt.Errorf("instruction %d: loop operand %d is not its partner: %w", ins.Index, ins.Operand, errdefs.ErrFailedPrecondition)
	}
	return nil
}
