package ledger

import (
	"github.com/tcfw/baals/pkg/types"
)

// Intrinsic gas is charged before any payload-specific work; a
// transaction whose limit cannot cover it aborts the block it rides in.
const (
	gasTxBase        = 1000
	gasTxPayloadByte = 5
)

// IntrinsicGas returns the fixed pre-dispatch charge for a transaction.
func IntrinsicGas(tx *types.Transaction) uint64 {
	return gasTxBase + uint64(tx.Payload.Size())*gasTxPayloadByte
}
