package vm_test

import (
	"bytes"
	"context"
	"io"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/MarcinKonowalczyk/bfc/bf"
	"github.com/MarcinKonowalczyk/bfc/codegen"
	"github.com/MarcinKonowalczyk/bfc/vm"
)

func compile(source string, opts codegen.Options) *codegen.Code {
	program, err := bf.Parse(source)
	Expect(err).NotTo(HaveOccurred())
	code, err := codegen.Lower(program, opts)
	Expect(err).NotTo(HaveOccurred())
	return code
}

func run(source, input string) (string, *vm.Machine) {
	var out bytes.Buffer
	m := vm.New(compile(source, codegen.Options{}), strings.NewReader(input), &out)
	Expect(m.Run()).To(Succeed())
	return out.String(), m
}

var _ = Describe("Machine", func() {
	Context("data cells", func() {
		It("should increment the current cell", func() {
			_, m := run("+", "")
			Expect(m.At(0)).To(Equal(uint8(1)))
		})

		It("should wrap around after 256 increments", func() {
			_, m := run(strings.Repeat("+", 256), "")
			Expect(m.At(0)).To(Equal(uint8(0)))
		})

		It("should wrap below zero", func() {
			_, m := run("-", "")
			Expect(m.At(0)).To(Equal(uint8(255)))
		})
	})

	Context("pointer", func() {
		It("should move right", func() {
			_, m := run(">+", "")
			Expect(m.At(0)).To(Equal(uint8(0)))
			Expect(m.At(1)).To(Equal(uint8(1)))
			Expect(m.Pointer()).To(Equal(uint32(1)))
		})

		It("should report a pointer that leaves the tape", func() {
			m := vm.New(compile(">>+", codegen.Options{StackSize: 2}), nil, nil)
			err := m.Run()
			Expect(err).To(MatchError(vm.ErrTapeBounds))
		})

		It("should report a pointer that goes below the tape at runtime", func() {
			// the static check passes, the loop then walks off the left end
			m := vm.New(compile(">+[<+]", codegen.Options{}), nil, nil)
			Expect(m.Run()).To(MatchError(vm.ErrTapeBounds))
		})
	})

	Context("loops", func() {
		It("should move a value", func() {
			_, m := run("+++[->+<]", "")
			Expect(m.At(0)).To(Equal(uint8(0)))
			Expect(m.At(1)).To(Equal(uint8(3)))
		})

		It("should skip a loop on a zero cell", func() {
			_, m := run("[+]>+", "")
			Expect(m.At(0)).To(Equal(uint8(0)))
			Expect(m.At(1)).To(Equal(uint8(1)))
		})

		It("should run nested loops", func() {
			out, _ := run("++++++++[>++++[>++>+++>+++>+<<<<-]>+>+>->>+[<]<-]>>.>---.+++++++..+++.", "")
			Expect(out).To(Equal("Hello\n"))
		})
	})

	Context("input and output", func() {
		It("should echo a byte followed by a newline", func() {
			out, _ := run(",.", "A")
			Expect(out).To(Equal("A\n"))
		})

		It("should print 64", func() {
			out, _ := run("++++++++[>++++++++<-]>.", "")
			Expect([]byte(out)).To(Equal([]byte{64, '\n'}))
		})

		It("should not print a newline without output", func() {
			out, _ := run("+++>,", "x")
			Expect(out).To(BeEmpty())
		})

		It("should do nothing for an empty program", func() {
			out, m := run("just a comment", "")
			Expect(out).To(BeEmpty())
			Expect(m.Pointer()).To(Equal(uint32(0)))
		})

		It("should store zero at end of input by default", func() {
			_, m := run("+++,", "")
			Expect(m.At(0)).To(Equal(uint8(0)))
		})

		It("should keep the cell at end of input when asked to", func() {
			m := vm.New(compile("+++,", codegen.Options{EOF: codegen.EOFUnchanged}), nil, nil)
			Expect(m.Run()).To(Succeed())
			Expect(m.At(0)).To(Equal(uint8(3)))
		})

		It("should flush output before reading", func() {
			var out bytes.Buffer
			input := &observingReader{out: &out, data: []byte("z")}
			m := vm.New(compile("+.,.", codegen.Options{}), input, &out)
			Expect(m.Run()).To(Succeed())
			Expect(input.seen).To(Equal("\x01"))
			Expect(out.String()).To(Equal("\x01z\n"))
		})
	})

	Context("cancellation", func() {
		It("should stop an endless loop when the context is cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			m := vm.New(compile("+[]", codegen.Options{}), nil, nil)
			Expect(m.RunContext(ctx)).To(MatchError(context.Canceled))
		})
	})

	It("should start over after Reset", func() {
		var out bytes.Buffer
		m := vm.New(compile("+.", codegen.Options{}), nil, &out)
		Expect(m.Run()).To(Succeed())
		m.Reset()
		Expect(m.At(0)).To(Equal(uint8(0)))
		Expect(m.Run()).To(Succeed())
		Expect(out.String()).To(Equal("\x01\n\x01\n"))
	})
})

// observingReader records what had been written to out when it was first read.
type observingReader struct {
	out  *bytes.Buffer
	data []byte
	seen string
	read bool
}

func (r *observingReader) Read(p []byte) (int, error) {
	if !r.read {
		r.seen = r.out.String()
		r.read = true
	}
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}
