package codegen

import (
	"bytes"
	"context"
	"fmt"
	"go/format"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/containerd/log"
)

// GoSource renders the code as a standalone Go main package. Branches
// become goto statements; every jump target gets exactly one label so the
// output never declares an unused one.
func GoSource(code *Code) ([]byte, error) {
	targets := make(map[uint32]bool)
	for _, inst := range code.Insts {
		if inst.Op.IsJump() {
			targets[inst.Target] = true
		}
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "// Code generated by bfc from %s. DO NOT EDIT.\n\n", code.Identifier)
	fmt.Fprintf(&buf, "package main\n\n")
	fmt.Fprintf(&buf, "import (\n\t\"bufio\"\n\t\"os\"\n)\n\n")
	fmt.Fprintf(&buf, "var (\n")
	fmt.Fprintf(&buf, "\ttape [%d]byte\n", code.TapeSize)
	fmt.Fprintf(&buf, "\tptr  uint32\n")
	fmt.Fprintf(&buf, "\tin   = bufio.NewReader(os.Stdin)\n")
	fmt.Fprintf(&buf, "\tout  = bufio.NewWriter(os.Stdout)\n")
	fmt.Fprintf(&buf, ")\n\n")

	fmt.Fprintf(&buf, "func get(cur byte) byte {\n")
	fmt.Fprintf(&buf, "\tout.Flush()\n")
	fmt.Fprintf(&buf, "\tb, err := in.ReadByte()\n")
	fmt.Fprintf(&buf, "\tif err != nil {\n")
	if code.EOF == EOFUnchanged {
		fmt.Fprintf(&buf, "\t\treturn cur\n")
	} else {
		fmt.Fprintf(&buf, "\t\treturn 0\n")
	}
	fmt.Fprintf(&buf, "\t}\n")
	fmt.Fprintf(&buf, "\treturn b\n")
	fmt.Fprintf(&buf, "}\n\n")

	fmt.Fprintf(&buf, "func main() {\n")
	for pc, inst := range code.Insts {
		if targets[uint32(pc)] {
			fmt.Fprintf(&buf, "l%d:\n", pc)
		}
		switch inst.Op {
		case OpRight:
			fmt.Fprintf(&buf, "\tptr++\n")
		case OpLeft:
			fmt.Fprintf(&buf, "\tptr--\n")
		case OpIncrement:
			fmt.Fprintf(&buf, "\ttape[ptr]++\n")
		case OpDecrement:
			fmt.Fprintf(&buf, "\ttape[ptr]--\n")
		case OpRead:
			fmt.Fprintf(&buf, "\ttape[ptr] = get(tape[ptr])\n")
		case OpWrite:
			fmt.Fprintf(&buf, "\tout.WriteByte(tape[ptr])\n")
		case OpNewline:
			fmt.Fprintf(&buf, "\tout.WriteByte('\\n')\n")
		case OpJumpIfZero:
			fmt.Fprintf(&buf, "\tif tape[ptr] == 0 {\n\t\tgoto l%d\n\t}\n", inst.Target)
		case OpJumpIfNonZero:
			fmt.Fprintf(&buf, "\tif tape[ptr] != 0 {\n\t\tgoto l%d\n\t}\n", inst.Target)
		default:
			return nil, fmt.Errorf("instruction %d: unknown op %s", pc, inst.Op)
		}
	}
	if targets[uint32(len(code.Insts))] {
		fmt.Fprintf(&buf, "l%d:\n", len(code.Insts))
	}
	fmt.Fprintf(&buf, "\tout.Flush()\n")
	fmt.Fprintf(&buf, "}\n")

	src, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("formatting generated source: %w", err)
	}
	return src, nil
}

// GoBackend builds the generated Go source with the Go toolchain.
type GoBackend struct {
	// Go is the toolchain binary, "go" from PATH when empty.
	Go string
}

func (b GoBackend) Name() string {
	return "go"
}

func (b GoBackend) Generate(ctx context.Context, code *Code, output string) error {
	src, err := GoSource(code)
	if err != nil {
		return err
	}

	abs, err := filepath.Abs(output)
	if err != nil {
		return fmt.Errorf("resolving output path %s: %w", output, err)
	}

	dir, err := os.MkdirTemp("", "bfc-go-")
	if err != nil {
		return fmt.Errorf("creating build directory: %w", err)
	}
	defer os.RemoveAll(dir)

	files := map[string][]byte{
		"main.go": src,
		"go.mod":  []byte("module bfcprogram\n\ngo 1.21\n"),
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o600); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}

	toolchain := b.Go
	if toolchain == "" {
		toolchain = "go"
	}
	cmd := exec.CommandContext(ctx, toolchain, "build", "-o", abs, ".")
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	log.G(ctx).WithField("dir", dir).Debugf("building %s with %s", abs, toolchain)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("go build: %w\n%s", err, out)
	}
	return nil
}

var _ Backend = GoBackend{}
