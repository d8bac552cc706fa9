package artifact

import (
	"context"
	"fmt"
	"os"

	"github.com/containerd/log"

	"github.com/MarcinKonowalczyk/bfc/codegen"
)

// Backend produces native artifacts. Stub defaults to the running
// executable.
type Backend struct {
	Stub string
}

func (b Backend) Name() string {
	return "native"
}

func (b Backend) Generate(ctx context.Context, code *codegen.Code, output string) error {
	stub := b.Stub
	if stub == "" {
		self, err := os.Executable()
		if err != nil {
			return fmt.Errorf("getting executable of current process: %w", err)
		}
		stub = self
	}
	log.G(ctx).WithField("stub", stub).Debugf("writing %s", output)
	return Build(stub, code, output)
}

var _ codegen.Backend = Backend{}
