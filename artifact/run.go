package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"

	"github.com/containerd/log"

	"github.com/MarcinKonowalczyk/bfc/vm"
)

// RunEmbedded runs the program embedded in the running executable, if
// there is one. The boolean reports whether a program was found.
func RunEmbedded(ctx context.Context, stdin io.Reader, stdout io.Writer) (bool, error) {
	code, err := Embedded()
	if errors.Is(err, ErrNoPayload) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, vm.New(code, stdin, stdout).RunContext(ctx)
}

// Launch starts the executable at path and blocks until it exits. The exit
// status is logged but not reported; only a failure to start or wait for
// the process is.
func Launch(ctx context.Context, path string, stdin io.Reader, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, path)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", path, err)
	}
	log.G(ctx).Debugf("started %s (pid %d)", path, cmd.Process.Pid)

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return fmt.Errorf("waiting for %s: %w", path, err)
		}
		log.G(ctx).WithError(err).Warnf("%s exited with status %d", path, exitErr.ExitCode())
		return nil
	}
	log.G(ctx).Debugf("%s exited", path)
	return nil
}
