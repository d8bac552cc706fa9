// Package artifact builds and runs self-contained executables. An artifact
// is a copy of a stub executable with the lowered program appended to it:
//
//	stub | payload | payload length (8 bytes, little endian) | magic (8 bytes)
//
// Any binary that calls RunEmbedded at startup can serve as the stub.
package artifact

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/MarcinKonowalczyk/bfc/codegen"
)

const trailerSize = 16

var magic = []byte("\x00bfcprog")

var ErrNoPayload = errors.New("no embedded program")

// inspect returns the length of the stub part of f and the payload, if
// there is one.
func inspect(f *os.File) (int64, []byte, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, nil, err
	}
	size := info.Size()
	if size < trailerSize {
		return size, nil, nil
	}

	trailer := make([]byte, trailerSize)
	if _, err := f.ReadAt(trailer, size-trailerSize); err != nil {
		return 0, nil, fmt.Errorf("reading trailer: %w", err)
	}
	if !bytes.Equal(trailer[8:], magic) {
		return size, nil, nil
	}

	length := binary.LittleEndian.Uint64(trailer[:8])
	if length > uint64(size-trailerSize) {
		return 0, nil, fmt.Errorf("payload length %d exceeds file size %d: %w", length, size, codegen.ErrMalformedCode)
	}
	stub := size - trailerSize - int64(length)
	payload := make([]byte, length)
	if _, err := f.ReadAt(payload, stub); err != nil {
		return 0, nil, fmt.Errorf("reading payload: %w", err)
	}
	return stub, payload, nil
}

// Open reads the program embedded in the executable at path. It returns
// ErrNoPayload for a plain executable.
func Open(path string) (*codegen.Code, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	_, payload, err := inspect(f)
	if err != nil {
		return nil, fmt.Errorf("inspecting %s: %w", path, err)
	}
	if payload == nil {
		return nil, ErrNoPayload
	}
	code := &codegen.Code{}
	if err := code.UnmarshalBinary(payload); err != nil {
		return nil, fmt.Errorf("decoding program in %s: %w", path, err)
	}
	return code, nil
}

// Embedded reads the program embedded in the running executable.
func Embedded() (*codegen.Code, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("getting executable of current process: %w", err)
	}
	return Open(self)
}

// Build writes an executable to output consisting of stub with code
// attached. A payload already present in stub is replaced.
func Build(stub string, code *codegen.Code, output string) (retErr error) {
	payload, err := code.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encoding program: %w", err)
	}

	in, err := os.Open(stub)
	if err != nil {
		return fmt.Errorf("opening stub: %w", err)
	}
	defer in.Close()

	stubLen, _, err := inspect(in)
	if err != nil {
		return fmt.Errorf("inspecting stub %s: %w", stub, err)
	}

	out, err := os.OpenFile(output, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
	if err != nil {
		return fmt.Errorf("creating %s: %w", output, err)
	}
	defer func() {
		if err := out.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("closing %s: %w", output, err)
		}
	}()

	if _, err := io.Copy(out, io.NewSectionReader(in, 0, stubLen)); err != nil {
		return fmt.Errorf("copying stub: %w", err)
	}
	trailer := binary.LittleEndian.AppendUint64(nil, uint64(len(payload)))
	trailer = append(trailer, magic...)
	for _, b := range [][]byte{payload, trailer} {
		if _, err := out.Write(b); err != nil {
			return fmt.Errorf("writing %s: %w", output, err)
		}
	}
	// the mode passed to OpenFile is subject to umask and ignored for
	// existing files
	return os.Chmod(output, 0o755)
}
