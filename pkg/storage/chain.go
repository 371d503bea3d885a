package storage

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/tcfw/baals/pkg/types"
)

// chainStateKey is the single entry in the chain_state namespace.
var chainStateKey = []byte("current")

// TxIndexEntry locates a committed transaction and carries its
// execution receipt.
type TxIndexEntry struct {
	BlockHash types.Hash `msgpack:"b"`
	Index     uint32     `msgpack:"i"`
	Receipt   []byte     `msgpack:"r,omitempty"`
}

func heightKey(height uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], height)
	return k[:]
}

// ContractStorageKey namespaces a contract's key under its id so no two
// contracts can collide: contract_id || key.
func ContractStorageKey(id types.ContractID, key []byte) []byte {
	k := make([]byte, 0, len(id)+len(key))
	k = append(k, id[:]...)
	return append(k, key...)
}

func GetBlock(r Reader, hash types.Hash) (*types.Block, error) {
	d, err := r.Get(NsBlocks, hash[:])
	if err != nil {
		return nil, err
	}

	b := &types.Block{}
	if err := b.Unmarshal(d); err != nil {
		return nil, errors.Wrap(ErrCorruption, err.Error())
	}

	// integrity check against the key it was stored under
	h, err := b.ComputeHash()
	if err != nil || h != hash {
		return nil, errors.Wrap(ErrCorruption, "block hash mismatch on read")
	}

	return b, nil
}

func GetBlockByHeight(r Reader, height uint64) (*types.Block, error) {
	d, err := r.Get(NsBlockHeight, heightKey(height))
	if err != nil {
		return nil, err
	}

	hash, err := types.HashFromBytes(d)
	if err != nil {
		return nil, errors.Wrap(ErrCorruption, err.Error())
	}

	return GetBlock(r, hash)
}

func PutBlock(b *Batch, blk *types.Block) error {
	d, err := blk.Marshal()
	if err != nil {
		return errors.Wrap(err, "encoding block")
	}

	b.Put(NsBlocks, blk.Hash[:], d)
	b.Put(NsBlockHeight, heightKey(blk.Height), blk.Hash[:])

	return nil
}

// ScanBlocks visits block hashes by ascending height starting at from.
func ScanBlocks(r Reader, from uint64, fn func(height uint64, hash types.Hash) bool) error {
	return r.Scan(NsBlockHeight, heightKey(from), nil, func(key, value []byte) bool {
		hash, err := types.HashFromBytes(value)
		if err != nil {
			return false
		}
		return fn(binary.BigEndian.Uint64(key), hash)
	})
}

func GetAccount(r Reader, addr [32]byte) (*types.Account, error) {
	d, err := r.Get(NsAccounts, addr[:])
	if err != nil {
		return nil, err
	}

	a := &types.Account{}
	if err := a.Unmarshal(d); err != nil {
		return nil, errors.Wrap(ErrCorruption, err.Error())
	}

	return a, nil
}

func PutAccount(b *Batch, addr [32]byte, a *types.Account) error {
	d, err := a.Marshal()
	if err != nil {
		return errors.Wrap(err, "encoding account")
	}

	b.Put(NsAccounts, addr[:], d)
	return nil
}

func GetChainState(r Reader) (*types.ChainState, error) {
	d, err := r.Get(NsChainState, chainStateKey)
	if err != nil {
		return nil, err
	}

	cs := &types.ChainState{}
	if err := cs.Unmarshal(d); err != nil {
		return nil, errors.Wrap(ErrCorruption, err.Error())
	}

	return cs, nil
}

func PutChainState(b *Batch, cs *types.ChainState) error {
	d, err := cs.Marshal()
	if err != nil {
		return errors.Wrap(err, "encoding chain state")
	}

	b.Put(NsChainState, chainStateKey, d)
	return nil
}

func GetTxIndex(r Reader, txHash types.Hash) (*TxIndexEntry, error) {
	d, err := r.Get(NsTxIndex, txHash[:])
	if err != nil {
		return nil, err
	}

	e := &TxIndexEntry{}
	if err := types.Unmarshal(d, e); err != nil {
		return nil, errors.Wrap(ErrCorruption, err.Error())
	}

	return e, nil
}

func PutTxIndex(b *Batch, txHash types.Hash, e *TxIndexEntry) error {
	d, err := types.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "encoding tx index entry")
	}

	b.Put(NsTxIndex, txHash[:], d)
	return nil
}

func GetContractCode(r Reader, id types.ContractID) ([]byte, error) {
	return r.Get(NsContractCode, id[:])
}

func PutContractCode(b *Batch, id types.ContractID, wasm []byte) {
	b.Put(NsContractCode, id[:], wasm)
}
