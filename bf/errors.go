package bf

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

var (
	ErrUnexpectedLoopClose = errors.New("unexpected loop close")
	ErrUnterminatedLoop    = errors.New("unterminated loop")
	ErrPointerUnderflow    = errors.New("potential pointer underflow")
)

// ParseError is a structural error. Token is the offending token, or the
// opening bracket for an unterminated loop.
type ParseError struct {
	Err   error
	Token Token
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%v at %s", e.Err, e.Token.Pos)
}

// Unwrap exposes both the kind of the error and its errdefs class.
func (e *ParseError) Unwrap() []error {
	return []error{e.Err, errdefs.ErrInvalidArgument}
}

func newParseError(err error, tok Token) *ParseError {
	return &ParseError{Err: err, Token: tok}
}
