package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MarcinKonowalczyk/bfc/utils"
	"github.com/MarcinKonowalczyk/bfc/vm"
)

func TestIsBrainfuckArg(t *testing.T) {
	ok, rest := isBrainfuckArg([]string{"brainfuck", "-file", "x.bf"})
	utils.Assert(t, ok, "brainfuck subcommand")
	utils.AssertEqualArrays(t, rest, []string{"-file", "x.bf"})

	ok, rest = isBrainfuckArg([]string{"-namespace", "default", "start"})
	utils.Assert(t, !ok, "shim invocation")
	utils.AssertEqual(t, len(rest), 3)

	ok, _ = isBrainfuckArg(nil)
	utils.Assert(t, !ok, "no args")
}

func TestRunBrainfuckRequiresFile(t *testing.T) {
	err := runBrainfuck(t.Context(), nil, nil, nil)
	utils.AssertError(t, err)
	utils.AssertContains(t, err.Error(), "-file is required")
}

func writeProgram(t *testing.T, source, conf string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "prog.bf")
	utils.AssertNoError(t, os.WriteFile(path, []byte(source), 0o644))
	if conf != "" {
		utils.AssertNoError(t, os.WriteFile(filepath.Join(dir, "bfc.yaml"), []byte(conf), 0o644))
	}
	return path
}

func TestRunBrainfuck(t *testing.T) {
	path := writeProgram(t, "++++++++[>++++++++<-]>.", "")
	var out bytes.Buffer
	utils.AssertNoError(t, runBrainfuck(t.Context(), []string{"-file", path}, nil, &out))
	utils.AssertEqual(t, out.String(), "@\n")
}

func TestRunBrainfuckUsesConfig(t *testing.T) {
	t.Run("stack size", func(t *testing.T) {
		path := writeProgram(t, ">>+", "stack_size: 2\n")
		err := runBrainfuck(t.Context(), []string{"-file", path}, nil, nil)
		utils.AssertErrorIs(t, err, vm.ErrTapeBounds)
	})

	t.Run("eof unchanged", func(t *testing.T) {
		path := writeProgram(t, "+,.", "eof: unchanged\n")
		var out bytes.Buffer
		utils.AssertNoError(t, runBrainfuck(t.Context(), []string{"-file", path}, strings.NewReader(""), &out))
		utils.AssertEqual(t, out.String(), "\x01\n")
	})

	t.Run("eof zero by default", func(t *testing.T) {
		path := writeProgram(t, "+,.", "")
		var out bytes.Buffer
		utils.AssertNoError(t, runBrainfuck(t.Context(), []string{"-file", path}, strings.NewReader(""), &out))
		utils.AssertEqual(t, out.String(), "\x00\n")
	})

	t.Run("invalid config", func(t *testing.T) {
		path := writeProgram(t, "+", "stack: 2\n")
		err := runBrainfuck(t.Context(), []string{"-file", path}, nil, nil)
		utils.AssertError(t, err)
	})
}
