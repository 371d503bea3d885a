package consensus

import "github.com/pkg/errors"

var (
	ErrUnauthorizedSigner = errors.New("signer not in authority set")
	ErrBadSignature       = errors.New("block signature invalid")
	ErrBadTimestamp       = errors.New("block timestamp out of bounds")
	ErrBadLinkage         = errors.New("block does not extend the chain")
)
