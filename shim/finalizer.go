package shim

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/containerd/log"
)

// finalizer reaps a task's process, records how it exited and removes the
// compiled artifact. The shim shuts down once every task is done.
type finalizer struct {
	done     func()
	cmd      *exec.Cmd
	pid      int
	artifact string
	s        *bfTaskService
	id       string
}

func (f *finalizer) schedule(ctx context.Context) {
	ready := make(chan struct{})
	go f.run(ctx, ready)
	<-ready
}

// exitStatusOf maps the state of a reaped process onto a shell style status
func exitStatusOf(state *os.ProcessState) int {
	if state == nil {
		return 255
	}
	if state.Exited() {
		return state.ExitCode()
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return exitCodeSignal + int(ws.Signal())
	}
	return 255
}

func (f *finalizer) run(ctx context.Context, ready chan<- struct{}) {
	ready <- struct{}{}

	log.G(ctx).Debug("finalizer (service)")
	if err := f.cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			log.G(ctx).WithError(err).Errorf("failed to wait for init process %d", f.pid)
		}
	}
	log.G(ctx).Debugf("init process %d exited", f.pid)

	if f.cmd.ProcessState == nil {
		log.G(ctx).Warn("init process wait returned without setting process state")
	}
	exitStatus := exitStatusOf(f.cmd.ProcessState)

	if err := os.Remove(f.artifact); err != nil && !os.IsNotExist(err) {
		log.G(ctx).WithError(err).Warnf("failed to remove artifact %s", f.artifact)
	}

	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	p, ok := f.s.procs[f.id]
	if !ok {
		log.G(ctx).Errorf("failed to write final status of done init process: task was removed")
		f.done()
		return
	}

	p.exitStatus = exitStatus
	p.exitTime = time.Now()
	f.done()

	for _, p := range f.s.procs {
		if p.done.Err() == nil {
			return
		}
	}
	log.G(ctx).Debug("all procs exited. shutting down the shim")
	f.s.shutdown.Shutdown()
}
