package compiler

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"

	"github.com/MarcinKonowalczyk/bfc/artifact"
	"github.com/MarcinKonowalczyk/bfc/bf"
	"github.com/MarcinKonowalczyk/bfc/codegen"
)

// Script is a unit of source together with the name it is known by.
type Script struct {
	Source     string
	Identifier string
}

// NewScriptFromFile reads a script from path. The identifier is the file
// name without its extension.
func NewScriptFromFile(path string) (Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, fmt.Errorf("unable to read file '%s': %w", path, err)
	}
	base := filepath.Base(path)
	return Script{
		Source:     string(data),
		Identifier: strings.TrimSuffix(base, filepath.Ext(base)),
	}, nil
}

// NewInlineScript wraps source given on the command line.
func NewInlineScript(source string) Script {
	return Script{Source: source, Identifier: "stdin"}
}

type Options struct {
	Codegen codegen.Options
	// Backend names the backend used by Compile, "native" when empty.
	Backend string
	// Stub is the executable native artifacts are built from, the running
	// executable when empty.
	Stub string
	// OnRelease, when set, is handed the release of Run's temporary
	// artifact so that it can also be run from an exit handler.
	OnRelease func(release func())
}

type Compiler struct {
	opts     Options
	backends map[string]codegen.Backend
}

func New(opts Options) *Compiler {
	if opts.Backend == "" {
		opts.Backend = "native"
	}
	c := &Compiler{opts: opts, backends: map[string]codegen.Backend{}}
	c.Register(artifact.Backend{Stub: opts.Stub})
	c.Register(codegen.GoBackend{})
	return c
}

// Register adds or replaces a backend under its name.
func (c *Compiler) Register(b codegen.Backend) {
	c.backends[b.Name()] = b
}

func (c *Compiler) backend() (codegen.Backend, error) {
	b, ok := c.backends[c.opts.Backend]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q: %w", c.opts.Backend, errdefs.ErrInvalidArgument)
	}
	return b, nil
}

func (c *Compiler) Parse(script Script) (*bf.Program, error) {
	return bf.Parse(script.Source)
}

// Lower parses and lowers the script. The script identifier takes
// precedence over the one in the codegen options.
func (c *Compiler) Lower(script Script) (*codegen.Code, error) {
	program, err := c.Parse(script)
	if err != nil {
		return nil, err
	}
	opts := c.opts.Codegen
	if script.Identifier != "" {
		opts.Identifier = script.Identifier
	}
	return codegen.Lower(program, opts)
}

// Compile writes an executable for script to output. The artifact is
// written next to output first and renamed into place, so a failed
// compilation leaves nothing behind.
func (c *Compiler) Compile(ctx context.Context, script Script, output string) error {
	backend, err := c.backend()
	if err != nil {
		return err
	}

	code, err := c.Lower(script)
	if err != nil {
		return err
	}
	log.G(ctx).WithField("backend", backend.Name()).Debugf("compiling %s: %d instructions", script.Identifier, len(code.Insts))

	tmp, err := os.CreateTemp(filepath.Dir(output), "."+filepath.Base(output)+".*")
	if err != nil {
		return fmt.Errorf("creating temporary artifact: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	if err := backend.Generate(ctx, code, tmpPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%s backend: %w", backend.Name(), err)
	}
	if err := os.Rename(tmpPath, output); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("moving artifact to %s: %w", output, err)
	}
	return nil
}

// Run compiles script to a temporary artifact, launches it and waits for it
// to exit. The artifact is removed whether or not the run succeeded.
func (c *Compiler) Run(ctx context.Context, script Script, stdin io.Reader, stdout, stderr io.Writer) error {
	dir, err := os.MkdirTemp("", "bfc-run-")
	if err != nil {
		return fmt.Errorf("creating temporary directory: %w", err)
	}
	release := func() {
		if err := os.RemoveAll(dir); err != nil {
			log.G(ctx).WithError(err).Warnf("failed to remove %s", dir)
		}
	}
	if c.opts.OnRelease != nil {
		c.opts.OnRelease(release)
	}
	defer release()

	path := filepath.Join(dir, ArtifactName(script.Identifier))
	if err := c.Compile(ctx, script, path); err != nil {
		return err
	}
	return artifact.Launch(ctx, path, stdin, stdout, stderr)
}

// ArtifactName is the default file name of the artifact for identifier.
func ArtifactName(identifier string) string {
	if identifier == "" {
		identifier = codegen.DefaultIdentifier
	}
	return identifier + ".bfx"
}
