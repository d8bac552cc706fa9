package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/containerd/log"
	"github.com/tebeka/atexit"

	"github.com/MarcinKonowalczyk/bfc/artifact"
	"github.com/MarcinKonowalczyk/bfc/bf"
	"github.com/MarcinKonowalczyk/bfc/codegen"
	"github.com/MarcinKonowalczyk/bfc/compiler"
	"github.com/MarcinKonowalczyk/bfc/config"
)

type options struct {
	input      string
	output     string
	configPath string
	backend    string
	stack      int
	dump       bool
	emitGo     bool
	debug      bool
	code       string

	set map[string]bool
}

var errNothingToRun = errors.New("Can't run what's not there.")

const usage = `Usage: bfc [OPTIONS] [CODE]

Compile a brainfuck program. Without an output path the program is
compiled to a temporary artifact and run.

Options:
`

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	opts := &options{set: map[string]bool{}}

	fs := flag.NewFlagSet("bfc", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	fs.StringVar(&opts.input, "if", "", "brainfuck source file")
	fs.StringVar(&opts.input, "input", "", "brainfuck source file")
	fs.StringVar(&opts.output, "of", "", "write the artifact to this path instead of running it")
	fs.StringVar(&opts.output, "output", "", "write the artifact to this path instead of running it")
	fs.StringVar(&opts.configPath, "config", "", "config file (default: "+config.Filename+" next to the source file)")
	fs.StringVar(&opts.backend, "backend", "", "code generation backend (native, go)")
	fs.IntVar(&opts.stack, "stack", 0, "tape size in cells")
	fs.BoolVar(&opts.dump, "dump", false, "print the stripped source and the parsed program, then exit")
	fs.BoolVar(&opts.emitGo, "emit-go", false, "print the generated Go source and exit")
	fs.BoolVar(&opts.debug, "debug", false, "enable debug logging")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) {
		opts.set[f.Name] = true
	})
	opts.code = strings.Join(fs.Args(), " ")
	return opts, nil
}

func (o *options) script() (compiler.Script, error) {
	if o.input != "" {
		return compiler.NewScriptFromFile(o.input)
	}
	return compiler.NewInlineScript(o.code), nil
}

// loadConfig reads the explicit config file, or the one next to the input
// file when there is one, and applies the flags on top.
func (o *options) loadConfig() (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	switch {
	case o.configPath != "":
		cfg, err = config.Load(o.configPath)
	case o.input != "":
		cfg, err = config.LoadIfExists(filepath.Join(filepath.Dir(o.input), config.Filename))
	default:
		cfg = config.Default()
	}
	if err != nil {
		return cfg, err
	}

	if o.set["backend"] {
		cfg.Backend = o.backend
	}
	if o.set["stack"] {
		cfg.StackSize = o.stack
	}
	if o.debug {
		cfg.Debug = true
	}
	return cfg, nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if cfg.Debug {
		if err := log.SetLevel("debug"); err != nil {
			return err
		}
	}

	script, err := opts.script()
	if err != nil {
		return err
	}
	if script.Source == "" {
		return errNothingToRun
	}

	copts, err := cfg.Options(script.Identifier)
	if err != nil {
		return err
	}
	copts.OnRelease = func(release func()) {
		atexit.Register(release)
	}
	c := compiler.New(copts)
	ctx = log.WithLogger(ctx, log.G(ctx).WithField("script", script.Identifier))

	switch {
	case opts.dump:
		program, err := c.Parse(script)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(stdout, bf.PreLex(script.Source)); err != nil {
			return err
		}
		return program.Dump(stdout)
	case opts.emitGo:
		code, err := c.Lower(script)
		if err != nil {
			return err
		}
		src, err := codegen.GoSource(code)
		if err != nil {
			return err
		}
		_, err = stdout.Write(src)
		return err
	case opts.output != "":
		return c.Compile(ctx, script, opts.output)
	}

	return c.Run(ctx, script, stdin, stdout, stderr)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	atexit.Register(cancel)

	// artifacts built by the native backend are copies of this binary
	if ok, err := artifact.RunEmbedded(ctx, os.Stdin, os.Stdout); ok {
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			atexit.Exit(1)
		}
		atexit.Exit(0)
	} else if err != nil {
		fmt.Fprintln(os.Stderr, "Error reading embedded program:", err)
		atexit.Exit(1)
	}

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			atexit.Exit(0)
		}
		if errors.Is(err, errNothingToRun) {
			fmt.Fprintln(os.Stderr, err)
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		atexit.Exit(1)
	}
	atexit.Exit(0)
}
