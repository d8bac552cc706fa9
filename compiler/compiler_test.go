package compiler_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/containerd/errdefs"

	"github.com/MarcinKonowalczyk/bfc/artifact"
	"github.com/MarcinKonowalczyk/bfc/bf"
	"github.com/MarcinKonowalczyk/bfc/codegen"
	"github.com/MarcinKonowalczyk/bfc/compiler"
	"github.com/MarcinKonowalczyk/bfc/utils"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	utils.AssertNoError(t, os.WriteFile(path, []byte(content), 0o755))
	return path
}

func TestNewScriptFromFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "hello.bf", "+.")
	script, err := compiler.NewScriptFromFile(path)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, script.Identifier, "hello")
	utils.AssertEqual(t, script.Source, "+.")

	_, err = compiler.NewScriptFromFile(filepath.Join(t.TempDir(), "missing.bf"))
	utils.AssertError(t, err)
}

func TestNewInlineScript(t *testing.T) {
	script := compiler.NewInlineScript(",.")
	utils.AssertEqual(t, script.Identifier, "stdin")
}

func TestCompiler_Lower(t *testing.T) {
	c := compiler.New(compiler.Options{Codegen: codegen.Options{StackSize: 10}})
	code, err := c.Lower(compiler.Script{Source: "+.", Identifier: "x"})
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, code.Identifier, "x")
	utils.AssertEqual(t, code.TapeSize, uint32(10))
	utils.AssertEqual(t, len(code.Insts), 3)
}

func TestCompiler_Compile(t *testing.T) {
	dir := t.TempDir()
	stub := writeFile(t, t.TempDir(), "stub", "stub")
	output := filepath.Join(dir, "hello.bfx")

	c := compiler.New(compiler.Options{Stub: stub})
	err := c.Compile(context.Background(), compiler.Script{Source: "+[-].", Identifier: "hello"}, output)
	utils.AssertNoError(t, err)

	code, err := artifact.Open(output)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, code.Identifier, "hello")
	utils.AssertEqual(t, len(code.Insts), 6)

	entries, err := os.ReadDir(dir)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, len(entries), 1)
}

func TestCompiler_CompileParseErrorLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	stub := writeFile(t, t.TempDir(), "stub", "stub")
	output := filepath.Join(dir, "broken.bfx")

	c := compiler.New(compiler.Options{Stub: stub})
	err := c.Compile(context.Background(), compiler.Script{Source: "[[]"}, output)
	utils.AssertErrorIs(t, err, bf.ErrUnterminatedLoop)

	entries, err := os.ReadDir(dir)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, len(entries), 0)
}

func TestCompiler_UnknownBackend(t *testing.T) {
	c := compiler.New(compiler.Options{Backend: "llvm"})
	err := c.Compile(context.Background(), compiler.Script{Source: "+"}, filepath.Join(t.TempDir(), "out"))
	utils.Assert(t, errdefs.IsInvalidArgument(err), "expected invalid argument")
}

func TestCompiler_RunRemovesArtifact(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)

	// a shell script stub ignores the payload appended after exit
	stub := writeFile(t, t.TempDir(), "stub", "#!/bin/sh\necho ran\nexit 0\n")
	c := compiler.New(compiler.Options{Stub: stub})

	var stdout bytes.Buffer
	err := c.Run(context.Background(), compiler.NewInlineScript("+."), nil, &stdout, nil)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, stdout.String(), "ran\n")

	entries, err := os.ReadDir(tmp)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, len(entries), 0)
}

func TestCompiler_RunHandsOutRelease(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)

	stub := writeFile(t, t.TempDir(), "stub", "#!/bin/sh\nexit 0\n")
	var releases []func()
	c := compiler.New(compiler.Options{
		Stub: stub,
		OnRelease: func(release func()) {
			releases = append(releases, release)
		},
	})

	utils.AssertNoError(t, c.Run(context.Background(), compiler.NewInlineScript("+"), nil, nil, nil))
	utils.AssertEqual(t, len(releases), 1)

	// already released by Run; a later call finds nothing to do
	releases[0]()
	entries, err := os.ReadDir(tmp)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, len(entries), 0)
}

func TestCompiler_RunReleasesOnFailure(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)

	c := compiler.New(compiler.Options{Stub: filepath.Join(t.TempDir(), "missing")})
	err := c.Run(context.Background(), compiler.NewInlineScript("+"), nil, nil, nil)
	utils.AssertError(t, err)

	entries, err := os.ReadDir(tmp)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, len(entries), 0)
}

func TestArtifactName(t *testing.T) {
	utils.AssertEqual(t, compiler.ArtifactName("hello"), "hello.bfx")
	utils.AssertEqual(t, compiler.ArtifactName(""), "brainfuck.bfx")
}
