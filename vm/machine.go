package vm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/containerd/log"

	"github.com/MarcinKonowalczyk/bfc/codegen"
)

// ErrTapeBounds is returned when the pointer leaves the tape.
var ErrTapeBounds = errors.New("pointer outside of tape")

// Machine executes lowered code on a pointer register and a byte tape.
type Machine struct {
	Code    *codegen.Code
	pc      uint32
	mem     []uint8
	mem_ptr uint32
	input   *bufio.Reader
	output  *bufio.Writer
}

// New prepares a machine for code. A nil input behaves as an empty stream
// and a nil output discards everything written.
func New(code *codegen.Code, input io.Reader, output io.Writer) *Machine {
	if input == nil {
		input = eofReader{}
	}
	if output == nil {
		output = io.Discard
	}
	return &Machine{
		Code:   code,
		mem:    make([]uint8, code.TapeSize),
		input:  bufio.NewReader(input),
		output: bufio.NewWriter(output),
	}
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }

func (m *Machine) Reset() {
	m.pc = 0
	m.mem_ptr = 0
	clear(m.mem)
}

func (m *Machine) MemoryLength() int {
	return len(m.mem)
}

func (m *Machine) Pointer() uint32 {
	return m.mem_ptr
}

func wrap_index(i int32, N int32) int32 {
	i %= N
	if i < 0 {
		i += N
	}
	return i
}

// Index the memory, wrapping around both ends
func (m *Machine) At(j int32) uint8 {
	return m.mem[wrap_index(j, int32(m.MemoryLength()))]
}

func (m *Machine) cell() (*uint8, error) {
	if m.mem_ptr >= uint32(len(m.mem)) {
		return nil, fmt.Errorf("instruction %d: pointer %d, tape size %d: %w", m.pc-1, int32(m.mem_ptr), len(m.mem), ErrTapeBounds)
	}
	return &m.mem[m.mem_ptr], nil
}

func (m *Machine) read(cur uint8) (uint8, error) {
	if err := m.output.Flush(); err != nil {
		return 0, fmt.Errorf("flushing output: %w", err)
	}
	b, err := m.input.ReadByte()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("reading input: %w", err)
		}
		if m.Code.EOF == codegen.EOFUnchanged {
			return cur, nil
		}
		return 0, nil
	}
	return b, nil
}

// RunContext runs the code until the program counter falls off the end,
// an error occurs or ctx is done. Output is flushed on every return.
func (m *Machine) RunContext(ctx context.Context) (err error) {
	defer func() {
		if ferr := m.output.Flush(); ferr != nil && err == nil {
			err = fmt.Errorf("flushing output: %w", ferr)
		}
	}()

	insts := m.Code.Insts
	log.G(ctx).Debugf("running %s: %d instructions, tape %d", m.Code.Identifier, len(insts), len(m.mem))

	for m.pc < uint32(len(insts)) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		inst := insts[m.pc]
		m.pc++

		switch inst.Op {
		case codegen.OpRight:
			m.mem_ptr++
		case codegen.OpLeft:
			m.mem_ptr--
		case codegen.OpIncrement, codegen.OpDecrement:
			c, err := m.cell()
			if err != nil {
				return err
			}
			if inst.Op == codegen.OpIncrement {
				*c++
			} else {
				*c--
			}
		case codegen.OpRead:
			c, err := m.cell()
			if err != nil {
				return err
			}
			v, err := m.read(*c)
			if err != nil {
				return err
			}
			*c = v
		case codegen.OpWrite:
			c, err := m.cell()
			if err != nil {
				return err
			}
			if err := m.output.WriteByte(*c); err != nil {
				return fmt.Errorf("writing output: %w", err)
			}
		case codegen.OpNewline:
			if err := m.output.WriteByte('\n'); err != nil {
				return fmt.Errorf("writing output: %w", err)
			}
		case codegen.OpJumpIfZero, codegen.OpJumpIfNonZero:
			c, err := m.cell()
			if err != nil {
				return err
			}
			if (*c == 0) == (inst.Op == codegen.OpJumpIfZero) {
				m.pc = inst.Target
			}
		default:
			return fmt.Errorf("instruction %d: unknown op %s", m.pc-1, inst.Op)
		}
	}
	return nil
}

func (m *Machine) Run() error {
	return m.RunContext(context.Background())
}
