package codegen

import (
	"fmt"
	"strings"
)

// Op is a machine instruction of the generated program.
type Op uint8

const (
	OpRight Op = iota + 1
	OpLeft
	OpIncrement
	OpDecrement
	OpRead
	OpWrite
	OpJumpIfZero
	OpJumpIfNonZero
	OpNewline
)

func (op Op) String() string {
	switch op {
	case OpRight:
		return "right"
	case OpLeft:
		return "left"
	case OpIncrement:
		return "inc"
	case OpDecrement:
		return "dec"
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpJumpIfZero:
		return "jz"
	case OpJumpIfNonZero:
		return "jnz"
	case OpNewline:
		return "newline"
	default:
		return fmt.Sprintf("op(%d)", uint8(op))
	}
}

// IsJump reports whether the instruction carries a target.
func (op Op) IsJump() bool {
	return op == OpJumpIfZero || op == OpJumpIfNonZero
}

// Inst is one machine instruction. Target is an absolute position in the
// instruction stream and is only meaningful for jumps.
type Inst struct {
	Op     Op
	Target uint32
}

// EOFPolicy decides what a read stores once the input is exhausted.
type EOFPolicy uint8

const (
	// EOFZero stores 0 in the current cell.
	EOFZero EOFPolicy = iota
	// EOFUnchanged leaves the current cell as it was.
	EOFUnchanged
)

func (p EOFPolicy) String() string {
	switch p {
	case EOFZero:
		return "zero"
	case EOFUnchanged:
		return "unchanged"
	default:
		return fmt.Sprintf("eof(%d)", uint8(p))
	}
}

// ParseEOFPolicy is the inverse of EOFPolicy.String.
func ParseEOFPolicy(s string) (EOFPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "zero":
		return EOFZero, nil
	case "unchanged":
		return EOFUnchanged, nil
	default:
		return 0, fmt.Errorf("unknown eof policy %q", s)
	}
}

// Code is the lowered program together with the machine configuration it
// runs on. Execution starts at position 0 and ends when the program counter
// reaches len(Insts).
type Code struct {
	Identifier string
	TapeSize   uint32
	EOF        EOFPolicy
	Insts      []Inst
}

func (c *Code) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "; %s tape=%d eof=%s\n", c.Identifier, c.TapeSize, c.EOF)
	for pc, inst := range c.Insts {
		if inst.Op.IsJump() {
			fmt.Fprintf(&b, "%04d %s %04d\n", pc, inst.Op, inst.Target)
		} else {
			fmt.Fprintf(&b, "%04d %s\n", pc, inst.Op)
		}
	}
	return b.String()
}
