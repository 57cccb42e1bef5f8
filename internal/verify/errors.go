package verify

import (
	"errors"
	"fmt"
)

// ErrIO marks a read or enumeration failure that aborted a run. A run that
// cannot see every file must not report a verdict.
var ErrIO = errors.New("io error")

// IOError records which operation on which path failed.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() []error { return []error{ErrIO, e.Err} }
