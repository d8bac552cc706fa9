package shim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/containerd/fifo"
	"github.com/containerd/log"
)

// taskIO connects the pipes of a task process to the fifos containerd
// created for it. Until the process is started, the caller owns every end
// and releases them with Close.
type taskIO struct {
	closers []io.Closer
}

func checkFifo(path string) error {
	ok, err := fifo.IsFifo(path)
	if err != nil {
		return fmt.Errorf("checking whether file %s is a fifo: %w", path, err)
	}
	if !ok {
		return fmt.Errorf("file %s is not a fifo", path)
	}
	return nil
}

// pipeOut copies everything the process writes to pipe into the fifo at path
func (t *taskIO) pipeOut(ctx context.Context, path string, pipe io.ReadCloser) error {
	t.closers = append(t.closers, pipe)
	if err := checkFifo(path); err != nil {
		return err
	}
	fw, err := fifo.OpenFifo(ctx, path, syscall.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("opening write only fifo %s: %w", path, err)
	}
	t.closers = append(t.closers, fw)
	go func() {
		defer fw.Close()
		if _, err := io.Copy(fw, pipe); err != nil && !errors.Is(err, os.ErrClosed) {
			log.G(ctx).WithError(err).Errorf("failed to copy pipe to fifo %s", path)
		}
	}()
	return nil
}

// pipeIn feeds the fifo at path into the process
func (t *taskIO) pipeIn(ctx context.Context, path string, pipe io.WriteCloser) error {
	t.closers = append(t.closers, pipe)
	if err := checkFifo(path); err != nil {
		return err
	}
	fr, err := fifo.OpenFifo(ctx, path, syscall.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("opening read only fifo %s: %w", path, err)
	}
	t.closers = append(t.closers, fr)
	go func() {
		defer pipe.Close()
		if _, err := io.Copy(pipe, fr); err != nil && !errors.Is(err, os.ErrClosed) {
			log.G(ctx).WithError(err).Errorf("failed to copy fifo %s to stdin pipe", path)
		}
	}()
	return nil
}

// Close releases every pipe and fifo, which also ends the copy goroutines.
func (t *taskIO) Close() error {
	var errs []error
	for _, c := range t.closers {
		if err := c.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, err)
		}
	}
	t.closers = nil
	return errors.Join(errs...)
}
