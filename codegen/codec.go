package codegen

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the encoded Code.
const (
	fieldIdentifier protowire.Number = 1
	fieldTapeSize   protowire.Number = 2
	fieldEOF        protowire.Number = 3
	fieldInst       protowire.Number = 4

	fieldInstOp     protowire.Number = 1
	fieldInstTarget protowire.Number = 2
)

var ErrMalformedCode = errors.New("malformed code")

// MarshalBinary encodes the code in protobuf wire format.
func (c *Code) MarshalBinary() ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, fieldIdentifier, protowire.BytesType)
	b = protowire.AppendString(b, c.Identifier)
	b = protowire.AppendTag(b, fieldTapeSize, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.TapeSize))
	b = protowire.AppendTag(b, fieldEOF, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.EOF))

	var inst []byte
	for _, in := range c.Insts {
		inst = inst[:0]
		inst = protowire.AppendTag(inst, fieldInstOp, protowire.VarintType)
		inst = protowire.AppendVarint(inst, uint64(in.Op))
		if in.Op.IsJump() {
			inst = protowire.AppendTag(inst, fieldInstTarget, protowire.VarintType)
			inst = protowire.AppendVarint(inst, uint64(in.Target))
		}
		b = protowire.AppendTag(b, fieldInst, protowire.BytesType)
		b = protowire.AppendBytes(b, inst)
	}
	return b, nil
}

// UnmarshalBinary decodes code written by MarshalBinary. Unknown fields are
// skipped. Jump targets are checked against the decoded length.
func (c *Code) UnmarshalBinary(data []byte) error {
	*c = Code{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedCode, protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldIdentifier && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("%w: identifier: %v", ErrMalformedCode, protowire.ParseError(n))
			}
			c.Identifier = v
			data = data[n:]
		case num == fieldTapeSize && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("%w: tape size: %v", ErrMalformedCode, protowire.ParseError(n))
			}
			c.TapeSize = uint32(v)
			data = data[n:]
		case num == fieldEOF && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("%w: eof policy: %v", ErrMalformedCode, protowire.ParseError(n))
			}
			c.EOF = EOFPolicy(v)
			data = data[n:]
		case num == fieldInst && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("%w: instruction: %v", ErrMalformedCode, protowire.ParseError(n))
			}
			inst, err := unmarshalInst(v)
			if err != nil {
				return fmt.Errorf("instruction %d: %w", len(c.Insts), err)
			}
			c.Insts = append(c.Insts, inst)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrMalformedCode, num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return c.validate()
}

func unmarshalInst(data []byte) (Inst, error) {
	var inst Inst
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return inst, fmt.Errorf("%w: %v", ErrMalformedCode, protowire.ParseError(n))
		}
		data = data[n:]
		if typ != protowire.VarintType || (num != fieldInstOp && num != fieldInstTarget) {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return inst, fmt.Errorf("%w: %v", ErrMalformedCode, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}
		v, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return inst, fmt.Errorf("%w: %v", ErrMalformedCode, protowire.ParseError(n))
		}
		data = data[n:]
		if num == fieldInstOp {
			inst.Op = Op(v)
		} else {
			inst.Target = uint32(v)
		}
	}
	return inst, nil
}

func (c *Code) validate() error {
	for pc, inst := range c.Insts {
		if inst.Op < OpRight || inst.Op > OpNewline {
			return fmt.Errorf("%w: instruction %d: unknown op %d", ErrMalformedCode, pc, inst.Op)
		}
		if inst.Op.IsJump() && int(inst.Target) > len(c.Insts) {
			return fmt.Errorf("%w: instruction %d: jump target %d out of range", ErrMalformedCode, pc, inst.Target)
		}
	}
	if c.EOF > EOFUnchanged {
		return fmt.Errorf("%w: unknown eof policy %d", ErrMalformedCode, c.EOF)
	}
	return nil
}
