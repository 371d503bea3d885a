package ledger

import (
	"github.com/tcfw/baals/pkg/contracts"
	"github.com/tcfw/baals/pkg/types"
)

type ReceiptStatus uint8

const (
	ReceiptSuccess ReceiptStatus = iota + 1

	// ReceiptReverted marks a confined transaction-level failure: the
	// nonce advanced and intrinsic gas was charged, everything else was
	// discarded.
	ReceiptReverted
)

// Receipt records the execution outcome of one committed transaction.
// It is stored alongside the transaction index entry.
type Receipt struct {
	TxHash  types.Hash        `msgpack:"t"`
	Status  ReceiptStatus     `msgpack:"s"`
	GasUsed uint64            `msgpack:"g"`
	Return  []byte            `msgpack:"r,omitempty"`
	Events  []contracts.Event `msgpack:"e,omitempty"`
	Error   string            `msgpack:"m,omitempty"`

	// ContractID is set for deploys: the address the contract landed at.
	ContractID types.ContractID `msgpack:"c,omitempty"`
}

func (r *Receipt) Marshal() ([]byte, error) { return types.Marshal(r) }

func (r *Receipt) Unmarshal(b []byte) error { return types.Unmarshal(b, r) }
