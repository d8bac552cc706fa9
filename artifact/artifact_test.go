package artifact_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/MarcinKonowalczyk/bfc/artifact"
	"github.com/MarcinKonowalczyk/bfc/bf"
	"github.com/MarcinKonowalczyk/bfc/codegen"
	"github.com/MarcinKonowalczyk/bfc/utils"
)

func lower(t *testing.T, source string) *codegen.Code {
	t.Helper()
	program, err := bf.Parse(source)
	utils.AssertNoError(t, err)
	code, err := codegen.Lower(program, codegen.Options{Identifier: "test"})
	utils.AssertNoError(t, err)
	return code
}

func writeStub(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stub")
	utils.AssertNoError(t, os.WriteFile(path, []byte(content), 0o755))
	return path
}

func TestBuild_Open(t *testing.T) {
	stub := writeStub(t, "#!fake executable\n")
	output := filepath.Join(t.TempDir(), "out")
	code := lower(t, "+[->+<].")

	utils.AssertNoError(t, artifact.Build(stub, code, output))

	data, err := os.ReadFile(output)
	utils.AssertNoError(t, err)
	utils.Assert(t, bytes.HasPrefix(data, []byte("#!fake executable\n")), "artifact does not start with the stub")

	info, err := os.Stat(output)
	utils.AssertNoError(t, err)
	utils.Assert(t, info.Mode().Perm()&0o100 != 0, "artifact is not executable")

	decoded, err := artifact.Open(output)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, decoded.Identifier, "test")
	utils.AssertEqualArrays(t, decoded.Insts, code.Insts)
}

func TestBuild_ReplacesExistingPayload(t *testing.T) {
	stub := writeStub(t, "stub")
	dir := t.TempDir()
	first := filepath.Join(dir, "first")
	second := filepath.Join(dir, "second")

	utils.AssertNoError(t, artifact.Build(stub, lower(t, "+++++"), first))
	replacement := lower(t, ".")
	utils.AssertNoError(t, artifact.Build(first, replacement, second))

	decoded, err := artifact.Open(second)
	utils.AssertNoError(t, err)
	utils.AssertEqualArrays(t, decoded.Insts, replacement.Insts)

	data, err := os.ReadFile(second)
	utils.AssertNoError(t, err)
	payload, err := replacement.MarshalBinary()
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, len(data), len("stub")+len(payload)+16)
}

func TestOpen_NoPayload(t *testing.T) {
	for _, content := range []string{"", "short", "a plain file that is long enough"} {
		_, err := artifact.Open(writeStub(t, content))
		utils.AssertErrorIs(t, err, artifact.ErrNoPayload)
	}
}

func TestOpen_CorruptLength(t *testing.T) {
	path := writeStub(t, "\xff\xff\xff\xff\xff\xff\xff\xff\x00bfcprog")
	_, err := artifact.Open(path)
	utils.AssertErrorIs(t, err, codegen.ErrMalformedCode)
}

func TestBackend_Generate(t *testing.T) {
	stub := writeStub(t, "stub")
	output := filepath.Join(t.TempDir(), "out")
	backend := artifact.Backend{Stub: stub}
	utils.AssertEqual(t, backend.Name(), "native")
	utils.AssertNoError(t, backend.Generate(context.Background(), lower(t, ","), output))

	decoded, err := artifact.Open(output)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, len(decoded.Insts), 1)
}

func TestLaunch(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
	script := writeStub(t, "#!/bin/sh\nread line\necho \"got $line\"\nexit 3\n")

	var stdout bytes.Buffer
	err := artifact.Launch(context.Background(), script, bytes.NewBufferString("hi\n"), &stdout, nil)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, stdout.String(), "got hi\n")
}

func TestLaunch_Missing(t *testing.T) {
	err := artifact.Launch(context.Background(), filepath.Join(t.TempDir(), "missing"), nil, nil, nil)
	utils.AssertError(t, err)
}
