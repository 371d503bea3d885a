package runtime

import (
	"github.com/pkg/errors"

	"github.com/tcfw/baals/pkg/contracts"
	"github.com/tcfw/baals/pkg/ledger"
	"github.com/tcfw/baals/pkg/storage"
	"github.com/tcfw/baals/pkg/types"
)

// QueryHead returns the current tip pointer.
func (r *Runtime) QueryHead() (*types.ChainState, error) {
	return r.chainState()
}

// QueryAccount returns the committed account at addr, or
// storage.ErrNotFound.
func (r *Runtime) QueryAccount(addr [32]byte) (*types.Account, error) {
	snap, err := r.store.Snapshot()
	if err != nil {
		return nil, errors.Wrap(err, "opening snapshot")
	}
	defer snap.Close()

	return storage.GetAccount(snap, addr)
}

// QueryBlock returns a committed block by hash, consulting the recent
// cache first.
func (r *Runtime) QueryBlock(hash types.Hash) (*types.Block, error) {
	if blk, ok := r.blocks.Get(hash); ok {
		return blk, nil
	}

	snap, err := r.store.Snapshot()
	if err != nil {
		return nil, errors.Wrap(err, "opening snapshot")
	}
	defer snap.Close()

	blk, err := storage.GetBlock(snap, hash)
	if err != nil {
		return nil, err
	}

	r.blocks.Add(hash, blk)
	return blk, nil
}

// QueryBlockByHeight resolves a height to its hash and loads the block.
func (r *Runtime) QueryBlockByHeight(height uint64) (*types.Block, error) {
	snap, err := r.store.Snapshot()
	if err != nil {
		return nil, errors.Wrap(err, "opening snapshot")
	}
	defer snap.Close()

	blk, err := storage.GetBlockByHeight(snap, height)
	if err != nil {
		return nil, err
	}

	r.blocks.Add(blk.Hash, blk)
	return blk, nil
}

// QueryTransaction locates a committed transaction and decodes its
// receipt.
func (r *Runtime) QueryTransaction(hash types.Hash) (*types.Transaction, *ledger.Receipt, error) {
	snap, err := r.store.Snapshot()
	if err != nil {
		return nil, nil, errors.Wrap(err, "opening snapshot")
	}
	defer snap.Close()

	idx, err := storage.GetTxIndex(snap, hash)
	if err != nil {
		return nil, nil, err
	}

	blk, err := storage.GetBlock(snap, idx.BlockHash)
	if err != nil {
		return nil, nil, err
	}
	if int(idx.Index) >= len(blk.Txs) {
		return nil, nil, errors.Wrap(storage.ErrCorruption, "tx index out of range")
	}

	receipt := &ledger.Receipt{}
	if len(idx.Receipt) > 0 {
		if err := receipt.Unmarshal(idx.Receipt); err != nil {
			return nil, nil, errors.Wrap(storage.ErrCorruption, err.Error())
		}
	}

	return blk.Txs[idx.Index], receipt, nil
}

// QueryContractStorage reads one committed storage slot of a contract.
func (r *Runtime) QueryContractStorage(id types.ContractID, key []byte) ([]byte, error) {
	snap, err := r.store.Snapshot()
	if err != nil {
		return nil, errors.Wrap(err, "opening snapshot")
	}
	defer snap.Close()

	return snap.Get(storage.NsContractStorage, storage.ContractStorageKey(id, key))
}

// QueryContract executes a contract method read-only against the
// committed tip: storage writes and events are discarded, only the
// return bytes surface. gas of zero uses the per-transaction maximum.
func (r *Runtime) QueryContract(id types.ContractID, method string, args []byte, gas uint64) ([]byte, error) {
	if gas == 0 {
		gas = r.cfg.Mempool.MaxTxGas
	}

	snap, err := r.store.Snapshot()
	if err != nil {
		return nil, errors.Wrap(err, "opening snapshot")
	}
	defer snap.Close()

	cs, err := storage.GetChainState(snap)
	if err != nil {
		return nil, err
	}

	state := &snapState{snap: snap}

	code, err := state.GetContractCode(id)
	if err != nil {
		return nil, err
	}

	tip, err := storage.GetBlock(snap, cs.LatestHash)
	if err != nil {
		return nil, err
	}

	res, err := r.sandbox.Execute(state, contracts.CallContext{
		Contract:    id,
		BlockHeight: tip.Height,
		BlockTime:   tip.Ts,
		Input:       args,
		Gas:         gas,
	}, code, method)
	if err != nil {
		return nil, err
	}

	return res.Return, nil
}

// snapState adapts a read-only snapshot to the sandbox's state view for
// query-time execution.
type snapState struct {
	snap storage.Snapshot
}

var _ contracts.State = (*snapState)(nil)

func (s *snapState) GetContractStorage(id types.ContractID, key []byte) ([]byte, bool, error) {
	d, err := s.snap.Get(storage.NsContractStorage, storage.ContractStorageKey(id, key))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return d, true, nil
}

func (s *snapState) GetContractCode(id types.ContractID) ([]byte, error) {
	return storage.GetContractCode(s.snap, id)
}
