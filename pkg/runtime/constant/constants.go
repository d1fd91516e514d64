package constant

import "errors"

var (
	ErrUnknownVariable  = errors.New("unknown variable")
	ErrReadOnlyVariable = errors.New("variable is read-only")
	ErrTypeMismatch     = errors.New("value type does not match variable type")
	ErrNotConnected     = errors.New("controller not connected")
	ErrWriteRejected    = errors.New("controller rejected write")
)
