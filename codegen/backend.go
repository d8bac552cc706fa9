package codegen

import "context"

// Backend renders lowered code into an executable artifact at output.
type Backend interface {
	Name() string
	Generate(ctx context.Context, code *Code, output string) error
}
