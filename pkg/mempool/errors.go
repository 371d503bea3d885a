package mempool

import "github.com/pkg/errors"

var (
	ErrBadSignature = errors.New("bad tx signature")
	ErrNonceTooLow  = errors.New("nonce too low")
	ErrNonceGap     = errors.New("nonce gap")
	ErrDuplicate    = errors.New("duplicate tx")
	ErrFull         = errors.New("mempool full")
	ErrMalformed    = errors.New("malformed tx")
)
