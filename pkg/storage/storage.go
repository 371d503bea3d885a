package storage

// Namespace identifies one of the logical keyspaces. Each maps to a
// distinct single-byte key prefix in the underlying KV store; batches
// route every operation to the namespace named on it.
type Namespace uint8

const (
	NsBlocks Namespace = iota + 1
	NsBlockHeight
	NsTxIndex
	NsMempool
	NsAccounts
	NsContractCode
	NsContractStorage
	NsChainState
	NsTrieNodes
)

func (n Namespace) String() string {
	switch n {
	case NsBlocks:
		return "blocks"
	case NsBlockHeight:
		return "blocks/height"
	case NsTxIndex:
		return "tx_index"
	case NsMempool:
		return "mempool"
	case NsAccounts:
		return "accounts"
	case NsContractCode:
		return "contract_code"
	case NsContractStorage:
		return "contract_storage"
	case NsChainState:
		return "chain_state"
	case NsTrieNodes:
		return "trie_nodes"
	default:
		return "unknown"
	}
}

// Reader is the read surface shared by live stores and snapshots.
type Reader interface {
	// Get returns the value at key, or ErrNotFound.
	Get(ns Namespace, key []byte) ([]byte, error)

	Has(ns Namespace, key []byte) (bool, error)

	// Scan visits keys in ns within [start, end) in ascending byte
	// order. A nil end scans to the end of the namespace. Returning
	// false from fn stops the scan.
	Scan(ns Namespace, start, end []byte, fn func(key, value []byte) bool) error
}

// Snapshot is a read-only consistent view of the store at the moment it
// was taken. The Ledger applies blocks against snapshots so staged
// writes never leak into reads of prior state.
type Snapshot interface {
	Reader
	Close() error
}

// Store is the durable namespaced KV substrate.
type Store interface {
	Reader

	// Apply commits the batch atomically and synced to stable media.
	Apply(b *Batch) error

	Snapshot() (Snapshot, error)

	Close() error
}
