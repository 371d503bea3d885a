package ledger

import (
	"github.com/pkg/errors"

	"github.com/tcfw/baals/internal/utils/logging"
	"github.com/tcfw/baals/pkg/storage"
	"github.com/tcfw/baals/pkg/trie"
	"github.com/tcfw/baals/pkg/types"
)

// GenesisAlloc credits one wallet at genesis.
type GenesisAlloc struct {
	Address types.PublicKey `msgpack:"a"`
	Balance uint64          `msgpack:"b"`
}

// GenesisConfig describes the chain's starting point: who may sign
// blocks and which wallets start funded.
type GenesisConfig struct {
	ChainID     string          `msgpack:"i"`
	Timestamp   int64           `msgpack:"t"`
	Authority   types.PublicKey `msgpack:"s"`
	Allocations []GenesisAlloc  `msgpack:"w"`
}

// InitializeChain commits the genesis block at height 0. The genesis
// block carries no transactions and no signature; its prev hash is all
// zeros. Fails if a chain already exists in the store.
func (l *Ledger) InitializeChain(g *GenesisConfig) (*types.Block, error) {
	snap, err := l.store.Snapshot()
	if err != nil {
		return nil, errors.Wrap(err, "opening snapshot")
	}
	defer snap.Close()

	if _, err := storage.GetChainState(snap); err == nil {
		return nil, ErrAlreadyInitialized
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	batch := &storage.Batch{}

	var supply uint64
	atr := trie.New(snap, types.ZeroHash)
	for _, alloc := range g.Allocations {
		acct := types.NewWalletAccount(alloc.Balance)

		d, err := acct.Marshal()
		if err != nil {
			return nil, errors.Wrap(err, "encoding genesis account")
		}
		if err := atr.Put(alloc.Address[:], d); err != nil {
			return nil, err
		}
		if err := storage.PutAccount(batch, [32]byte(alloc.Address), acct); err != nil {
			return nil, err
		}

		supply += alloc.Balance
	}
	root := atr.Commit(batch)

	ts := g.Timestamp
	if ts == 0 {
		ts = l.clock.Now().UnixMilli()
	}

	blk := &types.Block{
		Height:    0,
		Ts:        ts,
		PrevHash:  types.ZeroHash,
		TxRoot:    types.ZeroHash,
		StateRoot: root,
		Signer:    g.Authority,
	}
	blk.Hash, err = blk.ComputeHash()
	if err != nil {
		return nil, err
	}

	if err := storage.PutBlock(batch, blk); err != nil {
		return nil, err
	}
	if err := storage.PutChainState(batch, &types.ChainState{
		LatestHash:   blk.Hash,
		LatestHeight: 0,
		AccountsRoot: root,
		TotalSupply:  supply,
	}); err != nil {
		return nil, err
	}

	if err := l.store.Apply(batch); err != nil {
		return nil, errors.Wrap(err, "committing genesis batch")
	}

	logging.Entry().WithFields(logging.Fields{
		"chain_id": g.ChainID,
		"hash":     blk.Hash,
		"supply":   supply,
	}).Info("chain initialized")

	return blk, nil
}
