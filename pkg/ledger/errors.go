package ledger

import (
	"github.com/pkg/errors"

	"github.com/tcfw/baals/pkg/types"
)

var (
	// ErrBadHeader covers linkage, height, timestamp and hash
	// self-consistency failures. The whole block is rejected.
	ErrBadHeader = errors.New("bad block header")

	// ErrStateRootMismatch means the header's state root does not match
	// the root produced by applying the block's transactions.
	ErrStateRootMismatch = errors.New("state root mismatch")

	// ErrAlreadyInitialized is returned by InitializeChain when a chain
	// state record already exists.
	ErrAlreadyInitialized = errors.New("chain already initialized")

	// ErrNotInitialized is returned when no genesis has been committed.
	ErrNotInitialized = errors.New("chain not initialized")
)

// TxApplyError is a pre-dispatch transaction failure (bad signature,
// wrong nonce, insufficient intrinsic gas). It aborts the whole block.
type TxApplyError struct {
	Index int
	Tx    types.Hash
	Cause error
}

func (e *TxApplyError) Error() string {
	return errors.Wrapf(e.Cause, "tx %d (%s) failed", e.Index, e.Tx).Error()
}

func (e *TxApplyError) Unwrap() error { return e.Cause }
