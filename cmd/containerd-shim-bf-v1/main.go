package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/containerd/containerd/v2/pkg/shim"

	"github.com/MarcinKonowalczyk/bfc/artifact"
	"github.com/MarcinKonowalczyk/bfc/compiler"
	"github.com/MarcinKonowalczyk/bfc/config"
	bfshim "github.com/MarcinKonowalczyk/bfc/shim"
	"github.com/MarcinKonowalczyk/bfc/vm"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// tasks run as copies of this binary with the program appended
	if ok, err := artifact.RunEmbedded(ctx, os.Stdin, os.Stdout); ok || err != nil {
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error running brainfuck:", err)
			cancel()
			os.Exit(1)
		}
		return
	}

	// Maybe hijack the shim to run as brainfuck interpreter
	if brainfuck, args := isBrainfuckArg(os.Args[1:]); brainfuck {
		if err := runBrainfuck(ctx, args, os.Stdin, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, "Error running brainfuck:", err)
			cancel()
			os.Exit(1)
		}
		return
	}

	shim.Run(ctx, bfshim.NewManager("io.containerd.bf.v1"))
}

func isBrainfuckArg(args []string) (bool, []string) {
	if len(args) > 0 && args[0] == "brainfuck" {
		return true, args[1:]
	}
	return false, args
}

// runBrainfuck interprets a source file, configured by a bfc.yaml next to it
func runBrainfuck(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	var filename string
	fs := flag.NewFlagSet("brainfuck", flag.ContinueOnError)
	fs.StringVar(&filename, "file", "", "brainfuck source file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if filename == "" {
		return fmt.Errorf("invalid argument: -file is required")
	}

	script, err := compiler.NewScriptFromFile(filename)
	if err != nil {
		return err
	}
	cfg, err := config.LoadIfExists(filepath.Join(filepath.Dir(filename), config.Filename))
	if err != nil {
		return err
	}
	opts, err := cfg.Options(script.Identifier)
	if err != nil {
		return err
	}

	code, err := compiler.New(opts).Lower(script)
	if err != nil {
		return err
	}
	return vm.New(code, stdin, stdout).RunContext(ctx)
}
