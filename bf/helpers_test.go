package bf_test

import (
	"errors"

	"github.com/MarcinKonowalczyk/bfc/bf"
)

func asParseError(err error, target **bf.ParseError) bool {
	return errors.As(err, target)
}
