package ledger

import (
	"github.com/pkg/errors"

	"github.com/tcfw/baals/pkg/contracts"
	"github.com/tcfw/baals/pkg/storage"
	"github.com/tcfw/baals/pkg/trie"
	"github.com/tcfw/baals/pkg/types"
)

type stagedValue struct {
	data    []byte
	deleted bool
}

// stagedState is the block-scoped staging view: every mutation made
// while applying a block lands here, reads fall through to the
// snapshot, and nothing touches durable storage until finalize hands
// one batch back. Dropping the struct drops the block.
type stagedState struct {
	snap storage.Reader

	accounts map[[32]byte]*types.Account
	writes   map[string]stagedValue
	touched  map[types.ContractID]struct{}
	code     map[types.ContractID][]byte
}

var _ contracts.State = (*stagedState)(nil)

func newStagedState(snap storage.Reader) *stagedState {
	return &stagedState{
		snap:     snap,
		accounts: make(map[[32]byte]*types.Account),
		writes:   make(map[string]stagedValue),
		touched:  make(map[types.ContractID]struct{}),
		code:     make(map[types.ContractID][]byte),
	}
}

func storageKey(id types.ContractID, key []byte) string {
	return string(id[:]) + string(key)
}

// account returns the staged or committed account at addr, or nil when
// it does not exist yet.
func (st *stagedState) account(addr [32]byte) (*types.Account, error) {
	if a, ok := st.accounts[addr]; ok {
		return a, nil
	}

	a, err := storage.GetAccount(st.snap, addr)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	st.accounts[addr] = a
	return a, nil
}

func (st *stagedState) setAccount(addr [32]byte, a *types.Account) {
	st.accounts[addr] = a
}

func (st *stagedState) GetContractStorage(id types.ContractID, key []byte) ([]byte, bool, error) {
	if v, ok := st.writes[storageKey(id, key)]; ok {
		return v.data, !v.deleted, nil
	}

	d, err := st.snap.Get(storage.NsContractStorage, storage.ContractStorageKey(id, key))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	return d, true, nil
}

func (st *stagedState) GetContractCode(id types.ContractID) ([]byte, error) {
	if c, ok := st.code[id]; ok {
		return c, nil
	}
	return storage.GetContractCode(st.snap, id)
}

func (st *stagedState) setCode(id types.ContractID, wasm []byte) {
	st.code[id] = wasm
	st.touched[id] = struct{}{}
}

// mergeOverlay folds a successful call's staged writes into the block
// stage.
func (st *stagedState) mergeOverlay(o *contracts.Overlay) {
	o.Each(func(id types.ContractID, key, value []byte, deleted bool) {
		st.writes[storageKey(id, key)] = stagedValue{data: value, deleted: deleted}
		st.touched[id] = struct{}{}
	})
}

// finalize recomputes every touched contract's storage root, then the
// accounts root, staging all writes onto the batch. It returns the new
// accounts root.
func (st *stagedState) finalize(accountsRoot types.Hash, batch *storage.Batch) (types.Hash, error) {
	byContract := make(map[types.ContractID][]string)
	for k := range st.writes {
		var id types.ContractID
		copy(id[:], k[:types.HashSize])
		byContract[id] = append(byContract[id], k)
	}

	for id := range st.touched {
		acct, err := st.account([32]byte(id))
		if err != nil {
			return types.ZeroHash, err
		}
		if acct == nil {
			return types.ZeroHash, errors.Errorf("touched contract %s has no account", id)
		}

		str := trie.New(st.snap, acct.StorageRoot)
		for _, k := range byContract[id] {
			key := []byte(k[types.HashSize:])
			v := st.writes[k]

			if v.deleted {
				if err := str.Delete(key); err != nil {
					return types.ZeroHash, err
				}
				batch.Delete(storage.NsContractStorage, storage.ContractStorageKey(id, key))
				continue
			}

			if err := str.Put(key, v.data); err != nil {
				return types.ZeroHash, err
			}
			batch.Put(storage.NsContractStorage, storage.ContractStorageKey(id, key), v.data)
		}

		acct.StorageRoot = str.Commit(batch)
		st.accounts[[32]byte(id)] = acct
	}

	for id, wasm := range st.code {
		storage.PutContractCode(batch, id, wasm)
	}

	atr := trie.New(st.snap, accountsRoot)
	for addr, acct := range st.accounts {
		d, err := acct.Marshal()
		if err != nil {
			return types.ZeroHash, errors.Wrap(err, "encoding account")
		}
		if err := atr.Put(addr[:], d); err != nil {
			return types.ZeroHash, err
		}
		if err := storage.PutAccount(batch, addr, acct); err != nil {
			return types.ZeroHash, err
		}
	}

	return atr.Commit(batch), nil
}
