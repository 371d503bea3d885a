package contracts

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrValidation = errors.New("module validation failed")
	ErrOutOfFuel  = errors.New("out of fuel")
	ErrHostAbuse  = errors.New("host interface abuse")
	ErrNoMethod   = errors.New("no such exported method")
	ErrCallDepth  = errors.New("call depth exceeded")
)

// TrapError is a wasm trap that is not fuel exhaustion or an explicit
// revert.
type TrapError struct {
	Kind string
}

func (t *TrapError) Error() string {
	return fmt.Sprintf("contract trapped: %s", t.Kind)
}

// RevertError is an explicit rollback requested by the contract via the
// revert host call.
type RevertError struct {
	Message string
}

func (r *RevertError) Error() string {
	return fmt.Sprintf("contract reverted: %s", r.Message)
}
